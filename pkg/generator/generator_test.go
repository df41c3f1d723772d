// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package generator

import (
	"testing"

	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/stretchr/testify/require"
)

func twoNodeCtx(workers int) *Context {
	return &Context{
		Topology: base.Topology{Nodes: []string{"pg://n0", "pg://n1"}},
		Workers:  workers,
	}
}

// repeatGen emits copies of a fixed op forever. Test scaffolding for
// wrapping combinators.
type repeatGen struct {
	op history.Op
}

func (g *repeatGen) Next(worker int, ctx *Context) (history.Op, Status) {
	return g.op, Ready
}

func (g *repeatGen) Update(ev history.EventType, worker int, op history.Op) {}

func TestOnPrimaryRestrictsWorkers(t *testing.T) {
	ctx := twoNodeCtx(4)
	g := OnPrimary(Seq(
		history.Single(history.OpInit, history.Mop{F: history.MopInsert, Key: 1, Arg: 1}),
	))

	// Workers 1 and 3 are follower-bound; they never see the op.
	_, st := g.Next(1, ctx)
	require.Equal(t, Pending, st)
	_, st = g.Next(3, ctx)
	require.Equal(t, Pending, st)

	op, st := g.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpInit, op.Tag)

	// The wrapped Seq is drained; worker 2 is primary-bound but gets
	// Exhausted, not Pending.
	_, st = g.Next(2, ctx)
	require.Equal(t, Exhausted, st)

	sc, ok := g.(scoped)
	require.True(t, ok)
	require.True(t, sc.Schedules(0, ctx))
	require.False(t, sc.Schedules(1, ctx))
}

func TestPhasesBarrier(t *testing.T) {
	ctx := twoNodeCtx(2)
	initOp := history.Single(history.OpInit,
		history.Mop{F: history.MopInsert, Key: 100, Arg: 100})
	mainOp := history.Single(history.OpRead, history.Mop{F: history.MopRead, Key: 100})
	p := Phases(OnPrimary(Seq(initOp)), Seq(mainOp))

	// Worker 1 is not scheduled by phase one, but the barrier holds it
	// until worker 0 finishes the phase.
	_, st := p.Next(1, ctx)
	require.Equal(t, Pending, st)

	got, st := p.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpInit, got.Tag)
	require.NotZero(t, got.ID)
	p.Update(history.EventInvoke, 0, got)

	_, st = p.Next(1, ctx)
	require.Equal(t, Pending, st)

	p.Update(history.EventOK, 0, got)

	// Worker 0 exhausts phase one; the barrier opens and phase two begins.
	got, st = p.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpRead, got.Tag)
	p.Update(history.EventInvoke, 0, got)
	p.Update(history.EventOK, 0, got)

	// Phase two is drained. Worker 1 passes its barrier first, then worker
	// 0 closes it, exhausting the composite for everyone.
	_, st = p.Next(1, ctx)
	require.Equal(t, Pending, st)
	_, st = p.Next(0, ctx)
	require.Equal(t, Exhausted, st)
	_, st = p.Next(1, ctx)
	require.Equal(t, Exhausted, st)
}

func TestPhasesBarrierIgnoresUnscheduledWorkers(t *testing.T) {
	ctx := twoNodeCtx(2)
	initOp := history.Single(history.OpInit,
		history.Mop{F: history.MopInsert, Key: 100, Arg: 100})
	mainOp := history.Single(history.OpWrite,
		history.Mop{F: history.MopOverwrite, Key: 100, Arg: 1})
	// Both phases address only the primary worker. Worker 1 never polls
	// (say it crashed opening its session); the barrier must not wait for
	// it.
	p := Phases(OnPrimary(Seq(initOp)), OnPrimary(Seq(mainOp)))

	got, st := p.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpInit, got.Tag)
	p.Update(history.EventInvoke, 0, got)
	p.Update(history.EventOK, 0, got)

	got, st = p.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpWrite, got.Tag)
	p.Update(history.EventInvoke, 0, got)
	p.Update(history.EventOK, 0, got)

	_, st = p.Next(0, ctx)
	require.Equal(t, Exhausted, st)

	// If worker 1 does eventually show up, it sees the same terminal state.
	_, st = p.Next(1, ctx)
	require.Equal(t, Exhausted, st)
}

func TestAwaitReplicationConverges(t *testing.T) {
	ctx := twoNodeCtx(2)
	g := AwaitReplication(7, "42")

	complete := func(op history.Op, val *string) history.Op {
		op.Mops = []history.Mop{op.Mops[0].WithVal(val)}
		return op
	}

	// Worker 0 probes, sees a stale value, probes again, converges.
	op, st := g.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpAwaitInit, op.Tag)
	require.Equal(t, int64(7), op.Mops[0].Key)
	stale := "41"
	g.Update(history.EventOK, 0, complete(op, &stale))

	op, st = g.Next(0, ctx)
	require.Equal(t, Ready, st)
	g.Update(history.EventOK, 0, complete(op, nil))

	op, st = g.Next(0, ctx)
	require.Equal(t, Ready, st)
	want := "42"
	g.Update(history.EventOK, 0, complete(op, &want))

	_, st = g.Next(0, ctx)
	require.Equal(t, Exhausted, st)

	// Convergence is per worker: worker 1 still probes.
	op, st = g.Next(1, ctx)
	require.Equal(t, Ready, st)

	// Failed probes do not converge even with a matching value attached.
	g.Update(history.EventFail, 1, complete(op, &want))
	op, st = g.Next(1, ctx)
	require.Equal(t, Ready, st)
	g.Update(history.EventOK, 1, complete(op, &want))
	_, st = g.Next(1, ctx)
	require.Equal(t, Exhausted, st)
}

func TestIfOKRunsContinuation(t *testing.T) {
	ctx := twoNodeCtx(1)
	gate := history.Single(history.OpInsert,
		history.Mop{F: history.MopInsert, Key: 5, Arg: 5})
	then := history.Single(history.OpDelete, history.Mop{F: history.MopDelete, Key: 5})
	g := IfOK(gate, Seq(then))

	got, st := g.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpInsert, got.Tag)
	require.NotZero(t, got.ID)

	// Outcome unknown: nothing more to emit yet, and an invoke event
	// changes nothing.
	_, st = g.Next(0, ctx)
	require.Equal(t, Pending, st)
	g.Update(history.EventInvoke, 0, got)
	_, st = g.Next(0, ctx)
	require.Equal(t, Pending, st)

	g.Update(history.EventOK, 0, got)
	after, st := g.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.OpDelete, after.Tag)
	require.Equal(t, int64(5), after.Mops[0].Key)

	_, st = g.Next(0, ctx)
	require.Equal(t, Exhausted, st)
}

func TestIfOKAbandonsOnFailure(t *testing.T) {
	ctx := twoNodeCtx(1)
	gate := history.Single(history.OpInsert,
		history.Mop{F: history.MopInsert, Key: 5, Arg: 5})
	g := IfOK(gate, Seq(
		history.Single(history.OpDelete, history.Mop{F: history.MopDelete, Key: 5})))

	got, st := g.Next(0, ctx)
	require.Equal(t, Ready, st)

	// An info outcome is just as terminal as fail: the insert may or may
	// not have landed, so the delete must never run.
	g.Update(history.EventInfo, 0, got)
	for i := 0; i < 3; i++ {
		_, st = g.Next(0, ctx)
		require.Equal(t, Exhausted, st)
	}
}

func TestFollowerReadsRewrite(t *testing.T) {
	ctx := twoNodeCtx(2)
	inner := &repeatGen{op: history.Txn(
		history.Mop{F: history.MopAppend, Key: 1, Arg: 10},
		history.Mop{F: history.MopRead, Key: 2},
		history.Mop{F: history.MopInsert, Key: 3, Arg: 30},
	)}
	g := FollowerReads(inner)

	// Primary-bound worker: transaction passes through untouched.
	op, st := g.Next(0, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.MopAppend, op.Mops[0].F)
	require.Equal(t, history.MopInsert, op.Mops[2].F)

	// Follower-bound worker: every write-class mop becomes a point read of
	// the same key, reads are untouched.
	op, st = g.Next(1, ctx)
	require.Equal(t, Ready, st)
	for i, m := range op.Mops {
		require.Equal(t, history.MopRead, m.F, "mop %d", i)
	}
	require.Equal(t, int64(1), op.Mops[0].Key)
	require.Equal(t, int64(2), op.Mops[1].Key)
	require.Equal(t, int64(3), op.Mops[2].Key)

	// Non-transaction ops are never rewritten, even for followers.
	single := FollowerReads(&repeatGen{op: history.Single(history.OpWrite,
		history.Mop{F: history.MopOverwrite, Key: 4, Arg: 40})})
	op, st = single.Next(1, ctx)
	require.Equal(t, Ready, st)
	require.Equal(t, history.MopOverwrite, op.Mops[0].F)
}

func TestSchedulerStampsUniqueIDs(t *testing.T) {
	cfg := base.DefaultConfig()
	cfg.Nodes = []string{"pg://n0", "pg://n1"}
	sched := NewScheduler(
		NewTxnMix(&cfg, DefaultMixWeights(), 1),
		Context{Topology: cfg.Topology(), Workers: 2},
	)

	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		op, st := sched.Next(i % 2)
		require.Equal(t, Ready, st)
		require.NotZero(t, op.ID)
		require.False(t, seen[op.ID], "duplicate op ID %d", op.ID)
		seen[op.ID] = true
	}
}
