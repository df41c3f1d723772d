// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package generator

import (
	"github.com/harrowdb/harrow/pkg/history"
)

// onWorkers restricts a generator to workers satisfying a predicate; all
// other workers see Pending.
type onWorkers struct {
	pred func(worker int, ctx *Context) bool
	g    Generator
}

// OnWorkers wraps g so that only workers satisfying pred receive its
// operations.
func OnWorkers(pred func(worker int, ctx *Context) bool, g Generator) Generator {
	return &onWorkers{pred: pred, g: g}
}

// OnPrimary wraps g so that only workers bound to the primary node receive
// its operations.
func OnPrimary(g Generator) Generator {
	return OnWorkers(func(worker int, ctx *Context) bool {
		return ctx.Topology.IsPrimary(worker)
	}, g)
}

func (o *onWorkers) Next(worker int, ctx *Context) (history.Op, Status) {
	if !o.pred(worker, ctx) {
		return history.Op{}, Pending
	}
	return o.g.Next(worker, ctx)
}

func (o *onWorkers) Update(ev history.EventType, worker int, op history.Op) {
	o.g.Update(ev, worker, op)
}

// Schedules restricts the phase barrier to the workers the predicate
// admits.
func (o *onWorkers) Schedules(worker int, ctx *Context) bool {
	return o.pred(worker, ctx)
}

// phases runs generators strictly in order: phase n+1 produces nothing
// until phase n is exhausted for every worker it was scheduled against. The
// barrier is the single synchronization point between workers.
type phases struct {
	gens []Generator
	idx  int
	// passed holds the workers that have cleared the current phase's
	// barrier, either by exhausting it or by never being scheduled
	// against it.
	passed map[int]bool
	// inflight routes completion events back to the phase that emitted
	// the operation.
	inflight map[uint64]int
}

// Phases composes generators into sequential phases with a join barrier
// between them.
func Phases(gens ...Generator) Generator {
	return &phases{
		gens:     gens,
		passed:   make(map[int]bool),
		inflight: make(map[uint64]int),
	}
}

func (p *phases) Next(worker int, ctx *Context) (history.Op, Status) {
	for {
		if p.idx >= len(p.gens) {
			return history.Op{}, Exhausted
		}
		if p.passed[worker] {
			// Waiting at the barrier for the rest of the workers.
			return history.Op{}, Pending
		}
		g := p.gens[p.idx]
		if !schedules(g, worker, ctx) {
			if p.pass(worker, ctx) {
				continue
			}
			return history.Op{}, Pending
		}
		op, st := g.Next(worker, ctx)
		switch st {
		case Ready:
			stamp(&op)
			p.inflight[op.ID] = p.idx
			return op, Ready
		case Pending:
			return history.Op{}, Pending
		default: // Exhausted
			if p.pass(worker, ctx) {
				continue
			}
			return history.Op{}, Pending
		}
	}
}

// pass marks worker as done with the current phase and advances to the next
// phase once every worker the phase schedules is done. Workers the phase
// never addresses do not hold the barrier, even if they never poll at all.
// Returns whether the phase advanced.
func (p *phases) pass(worker int, ctx *Context) bool {
	p.passed[worker] = true
	g := p.gens[p.idx]
	for w := 0; w < ctx.Workers; w++ {
		if !p.passed[w] && schedules(g, w, ctx) {
			return false
		}
	}
	p.idx++
	p.passed = make(map[int]bool)
	return true
}

func (p *phases) Update(ev history.EventType, worker int, op history.Op) {
	idx, ok := p.inflight[op.ID]
	if !ok {
		return
	}
	if ev != history.EventInvoke {
		delete(p.inflight, op.ID)
	}
	p.gens[idx].Update(ev, worker, op)
}

// awaitReplication emits read probes of a designated key until each worker
// observes the expected value, then is exhausted for that worker. It has no
// internal timeout: it blocks on convergence and relies on the run's global
// time bound for eventual cancellation. Each worker probes through its own
// session, so convergence means the value replicated to every node workers
// are bound to.
type awaitReplication struct {
	key      int64
	want     string
	done     map[int]bool
	inflight map[uint64]int
}

// AwaitReplication builds a replication barrier on key converging to want.
func AwaitReplication(key int64, want string) Generator {
	return &awaitReplication{
		key:      key,
		want:     want,
		done:     make(map[int]bool),
		inflight: make(map[uint64]int),
	}
}

func (a *awaitReplication) Next(worker int, ctx *Context) (history.Op, Status) {
	if a.done[worker] {
		return history.Op{}, Exhausted
	}
	op := history.Single(history.OpAwaitInit, history.Mop{F: history.MopRead, Key: a.key})
	stamp(&op)
	a.inflight[op.ID] = worker
	return op, Ready
}

func (a *awaitReplication) Update(ev history.EventType, worker int, op history.Op) {
	if _, ok := a.inflight[op.ID]; !ok {
		return
	}
	if ev == history.EventInvoke {
		return
	}
	delete(a.inflight, op.ID)
	if ev != history.EventOK || len(op.Mops) != 1 {
		return
	}
	if v := op.Mops[0].Val; v != nil && *v == a.want {
		a.done[worker] = true
	}
}

// chainState is the lifecycle of an ifOK chain.
type chainState int

const (
	chainPending  chainState = iota // gate not yet emitted
	chainActive                     // gate emitted, outcome unknown
	chainContinue                   // gate succeeded, continuation running
	chainDone                       // gate failed; terminal
)

// ifOK emits a single gate operation and runs the continuation generator
// only if the gate's outcome is ok. A fail or info outcome for the gate
// permanently exhausts the whole composite; invoked events change nothing.
type ifOK struct {
	gate   history.Op
	then   Generator
	state  chainState
	gateID uint64
}

// IfOK chains a continuation generator behind a gate operation.
func IfOK(gate history.Op, then Generator) Generator {
	return &ifOK{gate: gate, then: then}
}

func (c *ifOK) Next(worker int, ctx *Context) (history.Op, Status) {
	switch c.state {
	case chainPending:
		op := c.gate
		stamp(&op)
		c.gateID = op.ID
		c.state = chainActive
		return op, Ready
	case chainActive:
		return history.Op{}, Pending
	case chainContinue:
		return c.then.Next(worker, ctx)
	default:
		return history.Op{}, Exhausted
	}
}

func (c *ifOK) Update(ev history.EventType, worker int, op history.Op) {
	if c.state == chainActive && op.ID == c.gateID {
		switch ev {
		case history.EventOK:
			c.state = chainContinue
		case history.EventFail, history.EventInfo:
			c.state = chainDone
		}
		return
	}
	if c.state == chainContinue {
		c.then.Update(ev, worker, op)
	}
}

// followerReads rewrites transactions destined for follower-bound workers
// so that every write-class micro-op becomes a read of the same key with
// its value cleared. This exercises read-only replicas without asserting
// undefined write-on-follower semantics.
type followerReads struct {
	g Generator
}

// FollowerReads wraps g with follower-read rewriting.
func FollowerReads(g Generator) Generator {
	return &followerReads{g: g}
}

func (f *followerReads) Next(worker int, ctx *Context) (history.Op, Status) {
	op, st := f.g.Next(worker, ctx)
	if st != Ready || op.Tag != history.OpTxn || ctx.Topology.IsPrimary(worker) {
		return op, st
	}
	rewritten := make([]history.Mop, len(op.Mops))
	for i, m := range op.Mops {
		if m.F.IsWrite() {
			rewritten[i] = m.AsRead()
		} else {
			rewritten[i] = m
		}
	}
	return op.WithMops(rewritten), Ready
}

func (f *followerReads) Update(ev history.EventType, worker int, op history.Op) {
	f.g.Update(ev, worker, op)
}

func (f *followerReads) Schedules(worker int, ctx *Context) bool {
	return schedules(f.g, worker, ctx)
}
