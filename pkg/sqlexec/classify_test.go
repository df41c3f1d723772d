// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package sqlexec

import (
	"database/sql/driver"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func pgErr(code string) error {
	return &pgconn.PgError{Code: code, Message: "boom"}
}

func TestClassifyTaxonomy(t *testing.T) {
	testCases := []struct {
		desc string
		err  error
		typ  history.OutcomeType
		tag  history.ErrTag
	}{
		{"serialization failure", pgErr("40001"), history.OutcomeFail, history.ErrRollback},
		{"deadlock", pgErr("40P01"), history.OutcomeFail, history.ErrRollback},
		{"aborted txn statement", pgErr("25P02"), history.OutcomeFail, history.ErrRollback},
		{"stale row", pgErr("40002"), history.OutcomeFail, history.ErrRecordChanged},
		{"lock not available", pgErr("55P03"), history.OutcomeFail, history.ErrLockWaitTimeout},
		{"write on follower", pgErr("25006"), history.OutcomeInfo, history.ErrNotPrimary},
		{"node starting up", pgErr("57P03"), history.OutcomeFail, history.ErrClusterNotReady},
		{"admin shutdown", pgErr("57P01"), history.OutcomeInfo, history.ErrConnClosed},
		{"duplicate key", pgErr("23505"), history.OutcomeFail, history.ErrDuplicateKey},
		{"connection exception class", pgErr("08006"), history.OutcomeInfo, history.ErrConnReset},
		{"completion unknown", pgErr("40003"), history.OutcomeInfo, history.ErrConnReset},
		{"bad conn", driver.ErrBadConn, history.OutcomeInfo, history.ErrConnClosed},
		{"closed network conn", net.ErrClosed, history.OutcomeInfo, history.ErrConnClosed},
		{"eof", io.EOF, history.OutcomeInfo, history.ErrStreamEnded},
		{"unexpected eof", io.ErrUnexpectedEOF, history.OutcomeInfo, history.ErrStreamEnded},
		{"econnreset", errors.Wrap(syscall.ECONNRESET, "write"), history.OutcomeInfo, history.ErrConnReset},
		{"epipe", syscall.EPIPE, history.OutcomeInfo, history.ErrConnReset},
		{
			"reset by peer text",
			errors.New("write tcp 10.0.0.1:5432: connection reset by peer"),
			history.OutcomeInfo, history.ErrConnReset,
		},
		{
			"pgx conn closed text",
			errors.New("conn closed"),
			history.OutcomeInfo, history.ErrConnClosed,
		},
		{
			"lock wait timeout text",
			errors.New("Lock wait timeout exceeded; try restarting transaction"),
			history.OutcomeFail, history.ErrLockWaitTimeout,
		},
		{
			"record changed text",
			errors.New("Record has changed since last read in table 'shard1'"),
			history.OutcomeFail, history.ErrRecordChanged,
		},
		{
			"read-only transaction text",
			errors.New("ERROR: cannot execute INSERT in a read-only transaction"),
			history.OutcomeInfo, history.ErrNotPrimary,
		},
		{
			"starting up text",
			errors.New("FATAL: the database system is starting up"),
			history.OutcomeFail, history.ErrClusterNotReady,
		},
		{
			"unresolved upsert sentinel",
			errors.Mark(errors.New("append(1, 2) missed"), errUnresolvedUpsert),
			history.OutcomeFail, history.ErrUnresolvedUpsert,
		},
		{
			"rollback failed sentinel",
			errors.Mark(errors.New("rolling back"), errRollbackFailed),
			history.OutcomeInfo, history.ErrRollbackFailed,
		},
		{
			"wrapped structured code",
			errors.Wrap(pgErr("40001"), "executing txn"),
			history.OutcomeFail, history.ErrRollback,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			oc, ok := Classify(tc.err)
			require.True(t, ok, "expected %v to classify", tc.err)
			require.Equal(t, tc.typ, oc.Type)
			require.Equal(t, tc.tag, oc.Err)
			// The classifier never asserts success.
			require.NotEqual(t, history.OutcomeOK, oc.Type)
		})
	}
}

func TestClassifyUnknownPropagates(t *testing.T) {
	// Anything outside the taxonomy must be left for the worker to crash
	// on, never guessed into an outcome.
	for _, err := range []error{
		nil,
		errors.New("splines failed to reticulate"),
		pgErr("42601"), // syntax error: a harness bug, not a run hazard
		errors.AssertionFailedf("update affected 0 rows"),
	} {
		_, ok := Classify(err)
		require.False(t, ok, "expected %v to stay unclassified", err)
	}
}
