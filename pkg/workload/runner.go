// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package workload wires generators, the executor and the history recorder
// into runnable workloads.
package workload

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/generator"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/harrowdb/harrow/pkg/util/log"
	"github.com/harrowdb/harrow/pkg/util/timeutil"
	"golang.org/x/sync/errgroup"
)

// pendingBackoff is how long a worker sleeps when its generator has no
// operation ready.
const pendingBackoff = 5 * time.Millisecond

// Applier executes one operation on behalf of a worker and classifies the
// result. An error return means the failure matched no known category; the
// worker must crash rather than coerce it into an outcome.
type Applier interface {
	// Open prepares worker's session. Called once per worker before its
	// first operation.
	Open(ctx context.Context, worker int) error
	// Apply executes op and returns its completed form plus the outcome.
	Apply(ctx context.Context, worker int, op history.Op) (history.Op, history.Outcome, error)
	// Close tears down worker's session.
	Close(worker int)
}

// Runner drives concurrent workers against a scheduler, recording every
// event. Workers are independent: within one worker operations are strictly
// sequential; across workers there is no imposed order.
type Runner struct {
	cfg     *base.Config
	sched   *generator.Scheduler
	applier Applier
	rec     *history.Recorder

	// outcomeLogEvery rate limits the per-operation log line for non-ok
	// outcomes, which under contention can fire on nearly every op.
	outcomeLogEvery log.EveryN
}

// NewRunner assembles a runner.
func NewRunner(
	cfg *base.Config, sched *generator.Scheduler, applier Applier, rec *history.Recorder,
) *Runner {
	return &Runner{
		cfg:             cfg,
		sched:           sched,
		applier:         applier,
		rec:             rec,
		outcomeLogEvery: log.Every(time.Second),
	}
}

// Run spawns one goroutine per worker and blocks until every worker has
// finished. The time bound is soft: past the deadline no new operations are
// requested, but in-flight operations run to completion and their outcomes
// are still fed through the scheduler, so generator state stays consistent
// with the recorded history. A worker crashing on an unclassifiable error
// ends only that worker's participation; everything it recorded stands.
func (r *Runner) Run(ctx context.Context) error {
	start := timeutil.Now()
	deadline := start.Add(r.cfg.Duration)
	var g errgroup.Group
	for w := 0; w < r.cfg.Concurrency; w++ {
		w := w
		g.Go(func() error {
			wctx := logtags.AddTag(ctx, "worker", w)
			if err := r.runWorker(wctx, w, deadline); err != nil {
				log.Errorf(wctx, "worker crashed: %+v", err)
				return errors.Wrapf(err, "worker %d", w)
			}
			return nil
		})
	}
	err := g.Wait()
	log.Infof(ctx, "all workers finished after %s", timeutil.Since(start))
	return err
}

func (r *Runner) runWorker(ctx context.Context, worker int, deadline time.Time) error {
	if err := r.applier.Open(ctx, worker); err != nil {
		return err
	}
	defer r.applier.Close(worker)

	for timeutil.Now().Before(deadline) {
		op, st := r.sched.Next(worker)
		switch st {
		case generator.Exhausted:
			return nil
		case generator.Pending:
			time.Sleep(pendingBackoff)
			continue
		}

		idx := r.rec.Invoke(worker, op)
		r.sched.Update(history.EventInvoke, worker, op)

		done, oc, err := r.applier.Apply(ctx, worker, op)
		if err != nil {
			// Outside the known taxonomy: crash the worker. The invoke
			// event stays in the history without a completion, which
			// downstream analyzers already treat as indeterminate.
			return err
		}
		r.rec.Complete(worker, idx, done, oc)
		r.sched.Update(history.ForOutcome(oc.Type), worker, done)

		if oc.Type != history.OutcomeOK && r.outcomeLogEvery.ShouldLog() {
			log.Infof(ctx, "%s %s: %s", done.Tag, oc.Type, oc.Err)
		}
	}
	return nil
}
