// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// harrow drives randomized transactional workloads against a replicated
// SQL store and writes out an operation history for consistency analysis.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/harrowdb/harrow/pkg/util/log"
	"github.com/harrowdb/harrow/pkg/workload"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		nodes       []string
		duration    time.Duration
		workloadN   string
		concurrency int
		tableCount  int
		seed        int64
		isolation   string
		historyPath string
		verbosity   int32
	)
	cfg := base.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "harrow",
		Short:         "drive transactional workloads against a replicated SQL store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetVerbosity(verbosity)
			defer log.Flush()

			if configPath != "" {
				loaded, err := base.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			// Explicit flags win over the config file.
			if len(nodes) > 0 {
				cfg.Nodes = nodes
			}
			flags := cmd.Flags()
			if flags.Changed("duration") {
				cfg.Duration = duration
			}
			if flags.Changed("workload") {
				cfg.Workload = workloadN
			}
			if flags.Changed("concurrency") {
				cfg.Concurrency = concurrency
			}
			if flags.Changed("table-count") {
				cfg.TableCount = tableCount
			}
			if flags.Changed("seed") {
				cfg.Seed = seed
			}
			if flags.Changed("isolation") {
				cfg.Isolation = base.IsoLevel(isolation)
			}
			if flags.Changed("history") {
				cfg.HistoryPath = historyPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rec, runErr := workload.Run(ctx, &cfg)
			if rec != nil {
				if err := writeHistory(rec, cfg.HistoryPath); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "path to a YAML config file")
	f.StringSliceVar(&nodes, "nodes", nil, "node connection URLs; the first is the primary")
	f.DurationVar(&duration, "duration", cfg.Duration, "soft time bound of the run")
	f.StringVar(&workloadN, "workload", cfg.Workload, "workload to run (shard or registers)")
	f.IntVar(&concurrency, "concurrency", cfg.Concurrency, "number of workers")
	f.IntVar(&tableCount, "table-count", cfg.TableCount, "number of shard tables")
	f.Int64Var(&seed, "seed", 0, "generator seed; 0 derives one from the clock")
	f.StringVar(&isolation, "isolation", string(cfg.Isolation), "transaction isolation level")
	f.StringVar(&historyPath, "history", "", "file to write the history to (default stdout)")
	f.Int32Var(&verbosity, "verbosity", 0, "log verbosity")
	return cmd
}

func writeHistory(rec *history.Recorder, path string) error {
	if path == "" {
		return rec.WriteJSON(os.Stdout)
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	return rec.WriteJSON(fh)
}
