// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package base holds the run configuration shared by every harrow
// component. There are no package-level defaults consulted at run time; a
// Config is built once and threaded explicitly through the executor, the
// session pool and the generators.
package base

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// IsoLevel is one of the four standard SQL transaction isolation levels,
// spelled the way it appears in a SET TRANSACTION statement.
type IsoLevel string

// The standard isolation levels.
const (
	Serializable    IsoLevel = "SERIALIZABLE"
	RepeatableRead  IsoLevel = "REPEATABLE READ"
	ReadCommitted   IsoLevel = "READ COMMITTED"
	ReadUncommitted IsoLevel = "READ UNCOMMITTED"
)

var isoLevels = map[IsoLevel]struct{}{
	Serializable:    {},
	RepeatableRead:  {},
	ReadCommitted:   {},
	ReadUncommitted: {},
}

// Config is the full configuration for one harrow run.
type Config struct {
	// Nodes are the connection URLs of the cluster, one per node. Nodes[0]
	// is the primary for the lifetime of the run.
	Nodes []string `yaml:"nodes"`
	// TableCount is the number of shard tables keys are routed across.
	TableCount int `yaml:"table-count"`
	// Concurrency is the number of workers. Worker i is bound to
	// Nodes[i mod len(Nodes)] for its lifetime.
	Concurrency int `yaml:"concurrency"`
	// Duration is the soft time bound of the run: past it no new
	// operations are issued, but in-flight ones are allowed to complete.
	Duration time.Duration `yaml:"duration"`
	// Isolation is applied once per session before its first operation.
	Isolation IsoLevel `yaml:"isolation"`
	// Workload selects the operation mix ("shard" or "registers").
	Workload string `yaml:"workload"`
	// MaxTxnLen bounds the number of micro-ops per generated transaction.
	MaxTxnLen int `yaml:"max-txn-len"`
	// KeyCount bounds the key space of generated operations.
	KeyCount int64 `yaml:"key-count"`
	// Seed seeds the operation generators. Zero means derive from the clock.
	Seed int64 `yaml:"seed"`
	// HistoryPath, if set, is where the history JSON is written.
	HistoryPath string `yaml:"history-path"`
}

// DefaultConfig returns a Config with defaults suitable for a local
// three-node cluster.
func DefaultConfig() Config {
	return Config{
		TableCount:  3,
		Concurrency: 10,
		Duration:    60 * time.Second,
		Isolation:   Serializable,
		Workload:    "shard",
		MaxTxnLen:   4,
		KeyCount:    100,
	}
}

// UnmarshalYAML decodes a Config, accepting the duration in the usual
// "30s"/"5m" spelling rather than raw nanoseconds.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	aux := struct {
		Duration string `yaml:"duration"`
		*plain
	}{plain: (*plain)(c)}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	if aux.Duration != "" {
		d, err := time.ParseDuration(aux.Duration)
		if err != nil {
			return errors.Wrapf(err, "parsing duration %q", aux.Duration)
		}
		c.Duration = d
	}
	return nil
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("at least one node is required")
	}
	if c.TableCount <= 0 {
		return errors.Newf("table-count must be positive, got %d", c.TableCount)
	}
	if c.Concurrency <= 0 {
		return errors.Newf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxTxnLen <= 0 {
		return errors.Newf("max-txn-len must be positive, got %d", c.MaxTxnLen)
	}
	if c.KeyCount <= 0 {
		return errors.Newf("key-count must be positive, got %d", c.KeyCount)
	}
	if _, ok := isoLevels[c.Isolation]; !ok {
		return errors.Newf("unknown isolation level %q", c.Isolation)
	}
	return nil
}

// Topology returns the node topology of this configuration.
func (c *Config) Topology() Topology {
	return Topology{Nodes: c.Nodes}
}
