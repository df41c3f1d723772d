// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package history defines the operation vocabulary spoken between the
// generators, the executor and the downstream consistency analyzer, and the
// recorder that accumulates the invoke/ok/fail/info event log.
package history

import "fmt"

// MopFunc identifies a micro-operation inside a transaction.
type MopFunc string

// The closed set of micro-op functions.
const (
	MopRead      MopFunc = "r"
	MopPredRead  MopFunc = "rp"
	MopInsert    MopFunc = "insert"
	MopOverwrite MopFunc = "w"
	MopDelete    MopFunc = "delete"
	MopAppend    MopFunc = "append"
)

// IsWrite reports whether f mutates the database.
func (f MopFunc) IsWrite() bool {
	switch f {
	case MopInsert, MopOverwrite, MopDelete, MopAppend:
		return true
	}
	return false
}

// PredKind selects the shape of a predicate-read condition.
type PredKind string

// The supported predicate shapes.
const (
	PredTrue PredKind = "true" // every row
	PredEq   PredKind = "eq"   // val = Arg
	PredMod  PredKind = "mod"  // id % Arg = Arg2
)

// Pred is the condition of a predicate-read. It spans all shard tables.
type Pred struct {
	Kind PredKind `json:"kind"`
	Arg  int64    `json:"arg,omitempty"`
	Arg2 int64    `json:"arg2,omitempty"`
}

func (p Pred) String() string {
	switch p.Kind {
	case PredTrue:
		return "true"
	case PredEq:
		return fmt.Sprintf("val = %d", p.Arg)
	case PredMod:
		return fmt.Sprintf("id %% %d = %d", p.Arg, p.Arg2)
	}
	return string(p.Kind)
}

// Mop is one micro-operation. A Mop is immutable once constructed; the
// executor returns completed copies with the observed fields populated
// rather than mutating the scheduled ones.
type Mop struct {
	F   MopFunc `json:"f"`
	Key int64   `json:"key"`
	// Arg is the value written (insert/overwrite) or element appended.
	Arg int64 `json:"value,omitempty"`
	// Col is the column written by overwrite; empty means the value column.
	Col string `json:"col,omitempty"`
	// Pred is set only for predicate-reads.
	Pred *Pred `json:"pred,omitempty"`

	// Observed results, set on the completed copy.
	Val  *string           `json:"val,omitempty"`  // point read; nil = absent row
	Rows map[int64]*string `json:"rows,omitempty"` // predicate-read; nil = NULL value
}

// WithVal returns a completed copy of the mop carrying an observed value.
func (m Mop) WithVal(v *string) Mop {
	m.Val = v
	return m
}

// WithRows returns a completed copy of the mop carrying a predicate-read
// result. A nil value records a row whose value column is NULL, matching
// the nil convention of Val.
func (m Mop) WithRows(rows map[int64]*string) Mop {
	m.Rows = rows
	return m
}

// AsRead returns a copy of the mop rewritten to a point read of the same
// key with the value cleared. Used when routing transactions to followers.
func (m Mop) AsRead() Mop {
	return Mop{F: MopRead, Key: m.Key}
}

// OpTag identifies an operation at the harness boundary.
type OpTag string

// The operation vocabulary.
const (
	OpTxn        OpTag = "txn"
	OpRead       OpTag = "read"
	OpWrite      OpTag = "write"
	OpChangeName OpTag = "change-name"
	OpInsert     OpTag = "insert"
	OpDelete     OpTag = "delete"
	OpInit       OpTag = "init"
	OpAwaitInit  OpTag = "await-init"
)

// Op is one schedulable operation: a tag plus an ordered list of micro-ops.
// Single-op forms carry exactly one micro-op.
type Op struct {
	// ID identifies the emitted operation to the generator that produced
	// it, so completion events can be routed back. It is assigned at
	// emission and carries no meaning for the analyzer.
	ID   uint64 `json:"-"`
	Tag  OpTag  `json:"f"`
	Mops []Mop  `json:"value"`
}

// Txn builds a composite transaction operation.
func Txn(mops ...Mop) Op {
	return Op{Tag: OpTxn, Mops: mops}
}

// Single builds a single-op form.
func Single(tag OpTag, mop Mop) Op {
	return Op{Tag: tag, Mops: []Mop{mop}}
}

// WithMops returns a copy of the op with its micro-ops replaced.
func (o Op) WithMops(mops []Mop) Op {
	o.Mops = mops
	return o
}

// OutcomeType is the three-way classification of a completed operation.
// Only ok asserts the operation's effect landed exactly as recorded; fail
// asserts it had no effect; info asserts the effect is unknown. The
// distinction is load-bearing for the downstream analyzer and must never be
// collapsed.
type OutcomeType string

// The outcome types.
const (
	OutcomeOK   OutcomeType = "ok"
	OutcomeFail OutcomeType = "fail"
	OutcomeInfo OutcomeType = "info"
)

// ErrTag names the failure category of a non-ok outcome.
type ErrTag string

// The closed error taxonomy.
const (
	ErrRollback         ErrTag = "rollback"
	ErrRollbackFailed   ErrTag = "rollback-failed"
	ErrConnReset        ErrTag = "connection-reset"
	ErrConnClosed       ErrTag = "connection-closed"
	ErrStreamEnded      ErrTag = "stream-ended"
	ErrLockWaitTimeout  ErrTag = "lock-wait-timeout"
	ErrRecordChanged    ErrTag = "record-changed"
	ErrNotPrimary       ErrTag = "not-connected-to-primary"
	ErrClusterNotReady  ErrTag = "cluster-not-ready"
	ErrUnresolvedUpsert ErrTag = "unresolved-upsert"
	ErrDuplicateKey     ErrTag = "duplicate-key"
)

// Outcome is the classified result of one operation attempt.
type Outcome struct {
	Type    OutcomeType `json:"type"`
	Err     ErrTag      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// OK is the sole success outcome; it is produced only by the executor
// completing without error, never by the classifier.
var OK = Outcome{Type: OutcomeOK}

// Fail builds a fail outcome: the operation is guaranteed to have had no
// effect.
func Fail(tag ErrTag, msg string) Outcome {
	return Outcome{Type: OutcomeFail, Err: tag, Message: msg}
}

// Info builds an info outcome: the operation's effect is unknown.
func Info(tag ErrTag, msg string) Outcome {
	return Outcome{Type: OutcomeInfo, Err: tag, Message: msg}
}
