// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package workload

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/harrowdb/harrow/pkg/sqlexec"
	"github.com/harrowdb/harrow/pkg/util/syncutil"
)

// dbApplier is the production Applier: it owns per-worker sessions and runs
// operations through the sharded executor, classifying failures.
type dbApplier struct {
	cfg  *base.Config
	pool *sqlexec.Pool
	exec *sqlexec.Executor

	mu struct {
		syncutil.Mutex
		sessions map[int]*sqlexec.Session
	}
}

// NewDBApplier builds the SQL-backed applier.
func NewDBApplier(cfg *base.Config, pool *sqlexec.Pool) Applier {
	a := &dbApplier{cfg: cfg, pool: pool, exec: sqlexec.NewExecutor(cfg)}
	a.mu.sessions = make(map[int]*sqlexec.Session)
	return a
}

func (a *dbApplier) Open(ctx context.Context, worker int) error {
	sess, err := a.pool.OpenSession(ctx, worker)
	if err != nil {
		return err
	}
	if err := a.pool.EnsureSchema(ctx, sess); err != nil {
		_ = sess.Close()
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mu.sessions[worker] = sess
	return nil
}

func (a *dbApplier) session(worker int) (*sqlexec.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.mu.sessions[worker]
	if !ok {
		return nil, errors.AssertionFailedf("worker %d has no open session", worker)
	}
	return sess, nil
}

func (a *dbApplier) Apply(
	ctx context.Context, worker int, op history.Op,
) (history.Op, history.Outcome, error) {
	sess, err := a.session(worker)
	if err != nil {
		return op, history.Outcome{}, err
	}
	completed, err := a.exec.Apply(ctx, sess, op.Mops)
	if err == nil {
		return op.WithMops(completed), history.OK, nil
	}
	if oc, ok := sqlexec.Classify(err); ok {
		return op, oc, nil
	}
	// Unknown category: strictly worse to guess than to crash.
	return op, history.Outcome{}, err
}

func (a *dbApplier) Close(worker int) {
	a.mu.Lock()
	sess, ok := a.mu.sessions[worker]
	delete(a.mu.sessions, worker)
	a.mu.Unlock()
	if ok {
		_ = sess.Close()
	}
}
