// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package sqlexec

import (
	"context"
	gosql "database/sql"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/jackc/pgx/v5/pgconn"
)

// maxMopJitter is the upper bound of the random delay inserted before each
// micro-op statement, widening the interleaving windows concurrent workers
// can hit.
const maxMopJitter = 10 * time.Millisecond

// dbHandle is the common query surface of *gosql.Conn and *gosql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (gosql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*gosql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *gosql.Row
}

var _ dbHandle = &gosql.Conn{}
var _ dbHandle = &gosql.Tx{}

// Executor applies micro-operations to shard tables through a session.
type Executor struct {
	cfg *base.Config
}

// NewExecutor returns an Executor for the given configuration.
func NewExecutor(cfg *base.Config) *Executor {
	return &Executor{cfg: cfg}
}

// needsTxn reports whether the micro-ops must run inside an explicit
// transaction: more than one micro-op, or a predicate-read (which spans
// multiple tables and needs atomicity). Single point ops skip the
// transaction overhead.
func needsTxn(mops []history.Mop) bool {
	if len(mops) > 1 {
		return true
	}
	for _, m := range mops {
		if m.F == history.MopPredRead {
			return true
		}
	}
	return false
}

// Apply executes the micro-ops in order through the session and returns
// their completed copies. A nil error is the only way an operation becomes
// ok; any error is returned for classification. Errors are never retried
// here, with the single deliberate exception of the bounded upsert protocol
// inside applyAppend.
func (e *Executor) Apply(
	ctx context.Context, s *Session, mops []history.Mop,
) ([]history.Mop, error) {
	if err := s.EnsureConfigured(ctx); err != nil {
		return nil, err
	}

	if !needsTxn(mops) {
		completed := make([]history.Mop, 0, len(mops))
		for _, m := range mops {
			cm, err := e.applyMop(ctx, s.Conn(), false /* inTxn */, m)
			if err != nil {
				return nil, err
			}
			completed = append(completed, cm)
		}
		return completed, nil
	}

	// The isolation level was applied per session; BeginTx inherits it.
	tx, err := s.Conn().BeginTx(ctx, &gosql.TxOptions{})
	if err != nil {
		return nil, err
	}
	completed := make([]history.Mop, 0, len(mops))
	for _, m := range mops {
		cm, err := e.applyMop(ctx, tx, true /* inTxn */, m)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, gosql.ErrTxDone) {
				// The rollback itself failed: the transaction's effect
				// is unknown.
				return nil, errors.Mark(errors.Wrap(rbErr, "rolling back"), errRollbackFailed)
			}
			return nil, err
		}
		completed = append(completed, cm)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return completed, nil
}

func (e *Executor) applyMop(
	ctx context.Context, q dbHandle, inTxn bool, m history.Mop,
) (history.Mop, error) {
	time.Sleep(time.Duration(rand.Int63n(int64(maxMopJitter))))

	switch m.F {
	case history.MopRead:
		return e.applyRead(ctx, q, m)
	case history.MopPredRead:
		return e.applyPredRead(ctx, q, m)
	case history.MopInsert:
		return e.applyInsert(ctx, q, m)
	case history.MopOverwrite:
		return e.applyOverwrite(ctx, q, m)
	case history.MopDelete:
		return e.applyDelete(ctx, q, m)
	case history.MopAppend:
		return e.applyAppend(ctx, q, inTxn, m)
	}
	return m, errors.AssertionFailedf("unknown micro-op %q", m.F)
}

func (e *Executor) applyRead(
	ctx context.Context, q dbHandle, m history.Mop,
) (history.Mop, error) {
	tbl := TableName(m.Key, e.cfg.TableCount)
	var val gosql.NullString
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT val FROM %s WHERE id = $1", tbl), m.Key).Scan(&val)
	if errors.Is(err, gosql.ErrNoRows) {
		return m.WithVal(nil), nil
	}
	if err != nil {
		return m, err
	}
	if !val.Valid {
		return m.WithVal(nil), nil
	}
	return m.WithVal(&val.String), nil
}

// applyPredRead scans every shard table for rows matching the predicate,
// visiting the tables in shuffled order, and merges the rows into a single
// result. A key appearing in more than one shard table is a routing defect.
func (e *Executor) applyPredRead(
	ctx context.Context, q dbHandle, m history.Mop,
) (history.Mop, error) {
	if m.Pred == nil {
		return m, errors.AssertionFailedf("predicate-read without a predicate")
	}
	where, args := predSQL(*m.Pred)
	merged := make(map[int64]*string)
	for _, i := range rand.Perm(e.cfg.TableCount) {
		if err := func() error {
			rows, err := q.QueryContext(ctx, fmt.Sprintf(
				"SELECT id, val FROM shard%d WHERE %s ORDER BY id", i, where), args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var val gosql.NullString
				if err := rows.Scan(&id, &val); err != nil {
					return err
				}
				if _, dup := merged[id]; dup {
					return errors.AssertionFailedf(
						"key %d present in more than one shard table", id)
				}
				if val.Valid {
					v := val.String
					merged[id] = &v
				} else {
					// A NULL value records as nil, same as a point read.
					merged[id] = nil
				}
			}
			return rows.Err()
		}(); err != nil {
			return m, err
		}
	}
	return m.WithRows(merged), nil
}

func predSQL(p history.Pred) (string, []interface{}) {
	switch p.Kind {
	case history.PredTrue:
		return "true", nil
	case history.PredEq:
		return "val = $1", []interface{}{strconv.FormatInt(p.Arg, 10)}
	case history.PredMod:
		return "id % $1 = $2", []interface{}{p.Arg, p.Arg2}
	}
	// Unknown predicates must not silently widen into full scans.
	return "false", nil
}

func (e *Executor) applyInsert(
	ctx context.Context, q dbHandle, m history.Mop,
) (history.Mop, error) {
	tbl := TableName(m.Key, e.cfg.TableCount)
	// A duplicate key here is a genuine constraint violation; it is not
	// swallowed at this level.
	_, err := q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, sk, val) VALUES ($1, $2, $3)", tbl),
		m.Key, m.Key, strconv.FormatInt(m.Arg, 10))
	if err != nil {
		return m, err
	}
	return m, nil
}

func (e *Executor) applyOverwrite(
	ctx context.Context, q dbHandle, m history.Mop,
) (history.Mop, error) {
	tbl := TableName(m.Key, e.cfg.TableCount)
	col := "val"
	if m.Col != "" {
		col = m.Col
	}
	res, err := q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = $2 WHERE id = $1", tbl, col),
		m.Key, strconv.FormatInt(m.Arg, 10))
	if err != nil {
		return m, err
	}
	return m, checkExactlyOneRow(res, "update", m.Key, tbl)
}

func (e *Executor) applyDelete(
	ctx context.Context, q dbHandle, m history.Mop,
) (history.Mop, error) {
	tbl := TableName(m.Key, e.cfg.TableCount)
	res, err := q.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", tbl), m.Key)
	if err != nil {
		return m, err
	}
	return m, checkExactlyOneRow(res, "delete", m.Key, tbl)
}

// checkExactlyOneRow enforces the exactly-one-row contract of overwrite and
// delete. Zero rows means the row silently vanished (for example a lost
// delete), more than one means routing is broken; both are logic defects,
// never expected races, so they surface as assertion failures rather than
// fail or info outcomes.
func checkExactlyOneRow(res gosql.Result, verb string, key int64, tbl string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return errors.AssertionFailedf(
			"%s of key %d in %s affected %d rows, expected exactly 1", verb, key, tbl, n)
	}
	return nil
}

// applyAppend runs the bounded three-step upsert protocol: update, then
// insert (under a savepoint when inside a transaction, so a unique
// violation does not abort the enclosing transaction), then update once
// more. If all three steps fail the append surfaces the distinct
// unresolved-upsert error. This is the sole sanctioned local retry in the
// executor; the bound has been observed to be reachable even under
// SERIALIZABLE, which is an operational failure and not treated as an
// isolation violation.
func (e *Executor) applyAppend(
	ctx context.Context, q dbHandle, inTxn bool, m history.Mop,
) (history.Mop, error) {
	tbl := TableName(m.Key, e.cfg.TableCount)
	el := strconv.FormatInt(m.Arg, 10)

	updated, err := tryAppendUpdate(ctx, q, tbl, m.Key, el)
	if err != nil {
		return m, err
	}
	if updated {
		return m, nil
	}

	if inTxn {
		if _, err := q.ExecContext(ctx, "SAVEPOINT upsert"); err != nil {
			return m, err
		}
	}
	_, err = q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, sk, val) VALUES ($1, $2, $3)", tbl),
		m.Key, m.Key, el)
	if err == nil {
		if inTxn {
			if _, err := q.ExecContext(ctx, "RELEASE SAVEPOINT upsert"); err != nil {
				return m, err
			}
		}
		return m, nil
	}
	if !isUniqueViolation(err) {
		return m, err
	}
	if inTxn {
		if _, rbErr := q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT upsert"); rbErr != nil {
			return m, errors.Mark(
				errors.Wrap(rbErr, "rolling back to savepoint"), errRollbackFailed)
		}
	}

	// The competing insert should be visible by now.
	updated, err = tryAppendUpdate(ctx, q, tbl, m.Key, el)
	if err != nil {
		return m, err
	}
	if updated {
		return m, nil
	}
	return m, errors.Mark(
		errors.Newf("append(%d, %d): update, insert and update all missed", m.Key, m.Arg),
		errUnresolvedUpsert)
}

func tryAppendUpdate(
	ctx context.Context, q dbHandle, tbl string, key int64, el string,
) (bool, error) {
	res, err := q.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET val = CASE WHEN val IS NULL THEN $2 ELSE val || ',' || $2 END WHERE id = $1",
		tbl), key, el)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}
