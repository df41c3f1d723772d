// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package workload

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/generator"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/harrowdb/harrow/pkg/sqlexec"
	"github.com/harrowdb/harrow/pkg/util/log"
	"github.com/harrowdb/harrow/pkg/util/timeutil"
)

// NewShardGenerator builds the sharded transaction workload: a seed write
// on the primary, a replication barrier on the seeded key, then an endless
// randomized transaction mix with follower-bound transactions rewritten to
// read-only form.
func NewShardGenerator(cfg *base.Config, seed int64) generator.Generator {
	// The seed key lives just above the generated keyspace so the barrier
	// probe never races with workload appends.
	seedKey := cfg.KeyCount
	initOp := history.Single(history.OpInit,
		history.Mop{F: history.MopInsert, Key: seedKey, Arg: seedKey})
	want := strconv.FormatInt(seedKey, 10)
	return generator.Phases(
		generator.OnPrimary(generator.Seq(initOp)),
		generator.AwaitReplication(seedKey, want),
		generator.FollowerReads(
			generator.NewTxnMix(cfg, generator.DefaultMixWeights(), seed)),
	)
}

// NewRegistersGenerator builds the single-table workload: the primary seeds
// every key, workers wait for the last seeded key to replicate, then run
// point reads, value writes, name changes and gated insert/delete chains.
func NewRegistersGenerator(cfg *base.Config, seed int64) generator.Generator {
	lastKey := cfg.KeyCount - 1
	want := strconv.FormatInt(lastKey, 10)
	return generator.Phases(
		generator.OnPrimary(generator.Seq(generator.SeedKeys(cfg)...)),
		generator.AwaitReplication(lastKey, want),
		generator.NewRegistersMix(cfg, seed),
	)
}

// NewGenerator builds the generator tree named by cfg.Workload.
func NewGenerator(cfg *base.Config) (generator.Generator, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = timeutil.Now().UnixNano()
	}
	switch cfg.Workload {
	case "shard":
		return NewShardGenerator(cfg, seed), nil
	case "registers":
		return NewRegistersGenerator(cfg, seed), nil
	}
	return nil, errors.Newf("unknown workload %q", cfg.Workload)
}

// Run executes one complete workload run and returns the recorded history.
// The returned recorder is valid even when err is non-nil: operations
// recorded before a worker crash stand.
func Run(ctx context.Context, cfg *base.Config) (*history.Recorder, error) {
	pool, err := sqlexec.NewPool(cfg)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	if err := pool.WaitReady(ctx); err != nil {
		return nil, errors.Wrap(err, "waiting for cluster")
	}

	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	sched := generator.NewScheduler(gen, generator.Context{
		Topology: cfg.Topology(),
		Workers:  cfg.Concurrency,
	})
	rec := history.NewRecorder()
	runner := NewRunner(cfg, sched, NewDBApplier(cfg, pool), rec)

	log.Infof(ctx, "run %s: %d workers, %s workload, %s",
		rec.RunID, cfg.Concurrency, cfg.Workload, cfg.Duration)
	err = runner.Run(ctx)
	for _, l := range rec.Latencies() {
		log.Infof(ctx, "%s: %d ops, p50 %s, p99 %s, max %s",
			l.Tag, l.Count, l.P50, l.P99, l.Max)
	}
	return rec, err
}
