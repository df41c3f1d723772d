// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package generator decides which worker emits which operation, in what
// order. Generators form a small closed set of composable combinators, each
// answering two questions: "what is worker w's next operation?" and "how do
// I change given this completed event?". Composition is by wrapping, never
// inheritance.
package generator

import (
	"math/rand"
	"sync/atomic"

	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/harrowdb/harrow/pkg/util/syncutil"
)

// Status is a generator's answer to a Next call.
type Status int

const (
	// Ready means an operation was produced.
	Ready Status = iota
	// Pending means no operation is ready for this worker right now; ask
	// again later.
	Pending
	// Exhausted is terminal for this worker; a generator never
	// reactivates after reporting it.
	Exhausted
)

// Context carries the run-wide facts generators may consult.
type Context struct {
	// Topology is the node list; generators use it to tell primary-bound
	// workers from follower-bound ones.
	Topology base.Topology
	// Workers is the total number of workers.
	Workers int
}

// Generator produces operations for workers and folds completed events back
// into its state.
type Generator interface {
	// Next returns worker's next operation. The returned op is only valid
	// when the status is Ready.
	Next(worker int, ctx *Context) (history.Op, Status)
	// Update folds a completed (or invoked) event back into the
	// generator. Generators must tolerate events for operations they did
	// not produce.
	Update(ev history.EventType, worker int, op history.Op)
}

// scoped is implemented by generators that restrict which workers they
// schedule operations against. The phase barrier uses it to avoid waiting
// on workers a phase never addresses.
type scoped interface {
	Schedules(worker int, ctx *Context) bool
}

func schedules(g Generator, worker int, ctx *Context) bool {
	if s, ok := g.(scoped); ok {
		return s.Schedules(worker, ctx)
	}
	return true
}

var opIDCounter uint64

// stamp assigns an emission ID to the op unless one is already set by an
// inner generator.
func stamp(op *history.Op) {
	if op.ID == 0 {
		op.ID = atomic.AddUint64(&opIDCounter, 1)
	}
}

// Scheduler serializes access to a generator tree on behalf of concurrent
// workers. Workers are concurrent; generator state is not.
type Scheduler struct {
	mu   syncutil.Mutex
	root Generator
	ctx  Context
}

// NewScheduler wraps the root generator for use by ctx.Workers workers.
func NewScheduler(root Generator, ctx Context) *Scheduler {
	return &Scheduler{root: root, ctx: ctx}
}

// Next returns the next operation for worker.
func (s *Scheduler) Next(worker int) (history.Op, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, st := s.root.Next(worker, &s.ctx)
	if st == Ready {
		stamp(&op)
	}
	return op, st
}

// Update feeds a completed (or invoked) event through the generator tree.
// It must be called for every dispatched operation's completion, including
// ones completing after the run's time bound, so generator state stays
// consistent with the recorded history.
func (s *Scheduler) Update(ev history.EventType, worker int, op history.Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root.Update(ev, worker, op)
}

// rng is a convenience for seeded generator randomness.
func rng(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
