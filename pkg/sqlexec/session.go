// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package sqlexec

import (
	"context"
	gosql "database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/util/log"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
)

// openFailureBackoff is how long a worker sleeps after a failed session
// open before surfacing the error, so that workers bound to a crashed node
// do not turn into a reconnect storm.
const openFailureBackoff = time.Second

// Session is one worker's dedicated connection to its node. Sessions are
// never shared across workers; statements on one session execute strictly
// sequentially.
type Session struct {
	cfg    *base.Config
	conn   *gosql.Conn
	worker int
	node   int

	// configured flips exactly once, when the session-level isolation
	// level is applied. Sessions are worker-local, so the guard protects
	// against same-worker re-entrancy only.
	configured atomic.Bool
}

// Worker returns the worker index the session is bound to.
func (s *Session) Worker() int { return s.worker }

// IsPrimary reports whether the session is bound to the primary node.
func (s *Session) IsPrimary() bool { return s.node == 0 }

// Conn returns the underlying dedicated connection.
func (s *Session) Conn() *gosql.Conn { return s.conn }

// EnsureConfigured applies the one-time session setup: setting the
// configured transaction isolation level. It is idempotent.
func (s *Session) EnsureConfigured(ctx context.Context) error {
	if !s.configured.CompareAndSwap(false, true) {
		return nil
	}
	stmt := fmt.Sprintf(
		"SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL %s", s.cfg.Isolation)
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		s.configured.Store(false)
		return errors.Wrapf(err, "worker %d: configuring session", s.worker)
	}
	return nil
}

// Close returns the session's connection to its node pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Pool owns one *gosql.DB per node and hands out dedicated per-worker
// sessions. It also owns the run-wide schema claim: exactly one session
// performs DDL, everyone else treats the schema as already present.
type Pool struct {
	cfg *base.Config
	dbs []*gosql.DB

	schemaClaim atomic.Bool
}

// NewPool opens one database handle per node. Connections are established
// lazily per session.
func NewPool(cfg *base.Config) (*Pool, error) {
	p := &Pool{cfg: cfg, dbs: make([]*gosql.DB, 0, len(cfg.Nodes))}
	for i, url := range cfg.Nodes {
		db, err := gosql.Open("pgx", url)
		if err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "opening node %d", i)
		}
		// One connection per worker bound to this node, plus one spare
		// for setup probes.
		db.SetMaxOpenConns(p.workersForNode(i) + 1)
		p.dbs = append(p.dbs, db)
	}
	return p, nil
}

func (p *Pool) workersForNode(node int) int {
	n := 0
	for w := 0; w < p.cfg.Concurrency; w++ {
		if w%len(p.cfg.Nodes) == node {
			n++
		}
	}
	return n
}

// WaitReady blocks until the primary node answers a trivial query, using a
// constant backoff between probes. The context bounds the total wait.
func (p *Pool) WaitReady(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(openFailureBackoff), ctx)
	return backoff.Retry(func() error {
		if err := p.dbs[0].PingContext(ctx); err != nil {
			log.VInfof(ctx, 1, "primary not ready: %v", err)
			return err
		}
		return nil
	}, b)
}

// OpenSession opens worker's dedicated session against its node. On
// failure it sleeps briefly before surfacing the error.
func (p *Pool) OpenSession(ctx context.Context, worker int) (*Session, error) {
	node := worker % len(p.cfg.Nodes)
	conn, err := p.dbs[node].Conn(ctx)
	if err != nil {
		log.Warningf(ctx, "worker %d: session open to node %d failed: %v", worker, node, err)
		time.Sleep(openFailureBackoff)
		return nil, errors.Wrapf(err, "worker %d: opening session to node %d", worker, node)
	}
	return &Session{cfg: p.cfg, conn: conn, worker: worker, node: node}, nil
}

// EnsureSchema creates the shard tables through the given session. Only a
// session bound to the primary may perform DDL, and only one session per
// run actually does; the claim is a compare-and-set so races between
// primary-bound workers resolve to exactly one creator. Non-primary
// sessions treat the schema as already present.
func (p *Pool) EnsureSchema(ctx context.Context, s *Session) error {
	if !s.IsPrimary() {
		return nil
	}
	if !p.schemaClaim.CompareAndSwap(false, true) {
		return nil
	}
	for _, stmt := range SchemaStatements(p.cfg.TableCount) {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			// Release the claim so another primary-bound session can
			// retry the DDL.
			p.schemaClaim.Store(false)
			return errors.Wrap(err, "creating shard tables")
		}
	}
	log.Infof(ctx, "worker %d created %d shard tables", s.worker, p.cfg.TableCount)
	return nil
}

// Close closes every node handle.
func (p *Pool) Close() {
	for _, db := range p.dbs {
		if db != nil {
			_ = db.Close()
		}
	}
}
