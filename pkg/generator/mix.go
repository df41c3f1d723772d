// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package generator

import (
	"math/rand"

	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/history"
)

// Seq emits a fixed list of operations in order, one per Next call from
// whichever worker asks first, then is exhausted.
type seq struct {
	ops  []history.Op
	next int
}

// Seq builds a generator over a fixed operation list.
func Seq(ops ...history.Op) Generator {
	return &seq{ops: ops}
}

func (s *seq) Next(worker int, ctx *Context) (history.Op, Status) {
	if s.next >= len(s.ops) {
		return history.Op{}, Exhausted
	}
	op := s.ops[s.next]
	s.next++
	return op, Ready
}

func (s *seq) Update(ev history.EventType, worker int, op history.Op) {}

// each emits one copy of a templated op per worker, then is exhausted for
// that worker.
type each struct {
	build func(worker int) history.Op
	done  map[int]bool
}

// Each builds a per-worker one-shot generator. The build function is called
// once per worker, on that worker's first Next.
func Each(build func(worker int) history.Op) Generator {
	return &each{build: build, done: make(map[int]bool)}
}

func (e *each) Next(worker int, ctx *Context) (history.Op, Status) {
	if e.done[worker] {
		return history.Op{}, Exhausted
	}
	e.done[worker] = true
	return e.build(worker), Ready
}

func (e *each) Update(ev history.EventType, worker int, op history.Op) {}

// MixWeights are the relative frequencies of the micro-op functions a
// TxnMix draws from. Zero-weight functions are never emitted.
type MixWeights struct {
	Append   int
	Read     int
	PredRead int
}

// DefaultMixWeights favor appends and reads, with an occasional
// predicate-read. Overwrites and deletes are excluded here because the
// random keyspace gives no guarantee the target row exists, and a
// zero-row overwrite is a defect by contract.
func DefaultMixWeights() MixWeights {
	return MixWeights{Append: 8, Read: 8, PredRead: 1}
}

// TxnMix produces randomized transactions of 1..MaxTxnLen micro-ops over a
// bounded keyspace. Appended elements are globally unique so the resulting
// history supports list-append analysis. A TxnMix never exhausts; the run's
// time bound ends it.
type TxnMix struct {
	cfg     *base.Config
	weights MixWeights
	rnd     *rand.Rand
	// keys skews key choice toward a hot subset so concurrent appends
	// actually collide.
	keys   *rand.Zipf
	nextEl int64
}

// NewTxnMix returns a TxnMix seeded deterministically.
func NewTxnMix(cfg *base.Config, weights MixWeights, seed int64) *TxnMix {
	r := rng(seed)
	return &TxnMix{
		cfg:     cfg,
		weights: weights,
		rnd:     r,
		keys:    rand.NewZipf(r, 1.1, 1, uint64(cfg.KeyCount-1)),
	}
}

func (t *TxnMix) Next(worker int, ctx *Context) (history.Op, Status) {
	n := 1 + t.rnd.Intn(t.cfg.MaxTxnLen)
	mops := make([]history.Mop, 0, n)
	for i := 0; i < n; i++ {
		mops = append(mops, t.nextMop())
	}
	return history.Txn(mops...), Ready
}

func (t *TxnMix) nextMop() history.Mop {
	key := int64(t.keys.Uint64())
	total := t.weights.Append + t.weights.Read + t.weights.PredRead
	roll := t.rnd.Intn(total)
	switch {
	case roll < t.weights.Append:
		t.nextEl++
		return history.Mop{F: history.MopAppend, Key: key, Arg: t.nextEl}
	case roll < t.weights.Append+t.weights.Read:
		return history.Mop{F: history.MopRead, Key: key}
	default:
		return history.Mop{F: history.MopPredRead, Pred: t.nextPred()}
	}
}

func (t *TxnMix) nextPred() *history.Pred {
	switch t.rnd.Intn(3) {
	case 0:
		return &history.Pred{Kind: history.PredTrue}
	case 1:
		return &history.Pred{Kind: history.PredEq, Arg: t.rnd.Int63n(t.cfg.KeyCount)}
	default:
		m := 2 + t.rnd.Int63n(3)
		return &history.Pred{Kind: history.PredMod, Arg: m, Arg2: t.rnd.Int63n(m)}
	}
}

func (t *TxnMix) Update(ev history.EventType, worker int, op history.Op) {}

// RegistersMix produces the single-table workload variants: point reads,
// value writes and name changes over a seeded keyspace, plus occasional
// insert/delete chains on fresh keys gated with IfOK so a delete is only
// attempted for a row whose insert definitely landed.
type RegistersMix struct {
	cfg    *base.Config
	rnd    *rand.Rand
	nextEl int64
	// churnKey hands out fresh keys above the seeded keyspace so
	// insert/delete chains never collide with each other or the seed.
	churnKey int64
	chains   map[int]Generator
}

// NewRegistersMix returns a RegistersMix seeded deterministically. The
// seeded keyspace is [0, cfg.KeyCount).
func NewRegistersMix(cfg *base.Config, seed int64) *RegistersMix {
	return &RegistersMix{
		cfg:      cfg,
		rnd:      rng(seed),
		churnKey: cfg.KeyCount,
		chains:   make(map[int]Generator),
	}
}

func (r *RegistersMix) Next(worker int, ctx *Context) (history.Op, Status) {
	if ch := r.chains[worker]; ch != nil {
		op, st := ch.Next(worker, ctx)
		switch st {
		case Ready:
			return op, Ready
		case Pending:
			return history.Op{}, Pending
		default:
			r.chains[worker] = nil
		}
	}
	key := r.rnd.Int63n(r.cfg.KeyCount)
	r.nextEl++
	switch r.rnd.Intn(10) {
	case 0, 1, 2:
		return history.Single(history.OpRead,
			history.Mop{F: history.MopRead, Key: key}), Ready
	case 3, 4, 5:
		return history.Single(history.OpWrite,
			history.Mop{F: history.MopOverwrite, Key: key, Arg: r.nextEl}), Ready
	case 6, 7:
		return history.Single(history.OpChangeName,
			history.Mop{F: history.MopOverwrite, Col: "name", Key: key, Arg: r.nextEl}), Ready
	default:
		k := r.churnKey
		r.churnKey++
		gate := history.Single(history.OpInsert,
			history.Mop{F: history.MopInsert, Key: k, Arg: r.nextEl})
		r.chains[worker] = IfOK(gate, Seq(
			history.Single(history.OpDelete, history.Mop{F: history.MopDelete, Key: k})))
		return r.chains[worker].Next(worker, ctx)
	}
}

func (r *RegistersMix) Update(ev history.EventType, worker int, op history.Op) {
	if ch := r.chains[worker]; ch != nil {
		ch.Update(ev, worker, op)
	}
}

// SeedKeys builds the operations inserting every key of the seeded
// keyspace, for use as an init phase on the primary.
func SeedKeys(cfg *base.Config) []history.Op {
	ops := make([]history.Op, 0, cfg.KeyCount)
	for k := int64(0); k < cfg.KeyCount; k++ {
		ops = append(ops, history.Single(history.OpInsert,
			history.Mop{F: history.MopInsert, Key: k, Arg: k}))
	}
	return ops
}
