// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package sqlexec

import (
	"context"
	gosql "database/sql"
	"database/sql/driver"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/harrowdb/harrow/pkg/base"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/stretchr/testify/require"
)

// rowsDriver is a database/sql driver whose every query answers with the
// same fixed rows, so the multi-table scan of a predicate-read can be
// exercised without a server.
type rowsDriver struct {
	rows [][]driver.Value
}

func (d *rowsDriver) Open(name string) (driver.Conn, error) {
	return &rowsConn{d: d}, nil
}

type rowsConn struct {
	d *rowsDriver
}

func (c *rowsConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare unsupported")
}

func (c *rowsConn) Close() error { return nil }

func (c *rowsConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions unsupported")
}

func (c *rowsConn) QueryContext(
	ctx context.Context, query string, args []driver.NamedValue,
) (driver.Rows, error) {
	return &valueRows{rows: c.d.rows}, nil
}

type valueRows struct {
	rows [][]driver.Value
	i    int
}

func (r *valueRows) Columns() []string { return []string{"id", "val"} }
func (r *valueRows) Close() error      { return nil }

func (r *valueRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

func init() {
	gosql.Register("scan-duplicate", &rowsDriver{rows: [][]driver.Value{
		{int64(1), "a"},
	}})
	gosql.Register("scan-null", &rowsDriver{rows: [][]driver.Value{
		{int64(1), nil},
		{int64(2), "x"},
	}})
}

func scanConn(t *testing.T, driverName string) *gosql.Conn {
	db, err := gosql.Open(driverName, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func predReadMop() history.Mop {
	return history.Mop{F: history.MopPredRead, Pred: &history.Pred{Kind: history.PredTrue}}
}

func TestApplyPredReadDuplicateKeyAsserts(t *testing.T) {
	// Every shard table answers with the same id, so the second table
	// visited exposes the routing defect.
	cfg := base.DefaultConfig()
	cfg.TableCount = 2
	e := NewExecutor(&cfg)

	_, err := e.applyPredRead(context.Background(), scanConn(t, "scan-duplicate"), predReadMop())
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))
	require.Contains(t, err.Error(), "more than one shard table")

	// Routing defects are fatal, never an outcome.
	_, ok := Classify(err)
	require.False(t, ok)
}

func TestApplyPredReadPreservesNull(t *testing.T) {
	cfg := base.DefaultConfig()
	cfg.TableCount = 1
	e := NewExecutor(&cfg)

	completed, err := e.applyPredRead(context.Background(), scanConn(t, "scan-null"), predReadMop())
	require.NoError(t, err)
	require.Len(t, completed.Rows, 2)

	// A NULL value reads as nil, exactly as the point-read path records it.
	null, present := completed.Rows[1]
	require.True(t, present)
	require.Nil(t, null)
	require.NotNil(t, completed.Rows[2])
	require.Equal(t, "x", *completed.Rows[2])
}
