// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package sqlexec

import (
	"database/sql/driver"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/harrowdb/harrow/pkg/history"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinels marking executor-local failure modes for the classifier.
var (
	// errUnresolvedUpsert marks an append whose bounded
	// update-insert-update protocol exhausted all three steps. This is an
	// operational failure, not evidence of an isolation violation.
	errUnresolvedUpsert = errors.New("upsert did not resolve")
	// errRollbackFailed marks a rollback that itself failed, leaving the
	// transaction's effect unknown.
	errRollbackFailed = errors.New("rollback failed")
)

// SQLSTATE codes the classifier understands. Structured codes are
// preferred; the substring table below is a last-resort fallback so the
// taxonomy does not drift with driver message changes.
const (
	codeSerializationFailure       = "40001"
	codeStatementCompletionUnknown = "40003"
	codeDeadlockDetected           = "40P01"
	codeRecordChanged              = "40002"
	codeTxnAborted                 = "25P02"
	codeReadOnlyTxn                = "25006"
	codeLockNotAvailable           = "55P03"
	codeCannotConnectNow           = "57P03"
	codeAdminShutdown              = "57P01"
	codeCrashShutdown              = "57P02"
	codeUniqueViolation            = "23505"
	codeConnectionClass            = "08" // connection exception class
)

// Classify maps an execution-time error into the closed outcome taxonomy.
// The second return value is false when the error matches no known
// category; such errors must propagate out of the worker uncaught, because
// guessing an outcome for them (in particular a fail for something that may
// have committed) silently corrupts every downstream analysis. Classify
// never produces an ok outcome: success is only ever the executor
// completing without error.
func Classify(err error) (history.Outcome, bool) {
	if err == nil {
		return history.Outcome{}, false
	}

	// Executor-local sentinels first.
	if errors.Is(err, errRollbackFailed) {
		return history.Info(history.ErrRollbackFailed, err.Error()), true
	}
	if errors.Is(err, errUnresolvedUpsert) {
		return history.Fail(history.ErrUnresolvedUpsert, err.Error()), true
	}

	// Structured SQLSTATE codes from the server.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			// The statement or transaction is guaranteed not applied.
			return history.Fail(history.ErrRollback, pgErr.Message), true
		case codeTxnAborted:
			// Follow-on statement in an already-aborted transaction; the
			// whole transaction rolls back.
			return history.Fail(history.ErrRollback, pgErr.Message), true
		case codeRecordChanged:
			return history.Fail(history.ErrRecordChanged, pgErr.Message), true
		case codeLockNotAvailable:
			return history.Fail(history.ErrLockWaitTimeout, pgErr.Message), true
		case codeReadOnlyTxn:
			// A write reached a follower. Ambiguous by design of the
			// target store.
			return history.Info(history.ErrNotPrimary, pgErr.Message), true
		case codeCannotConnectNow:
			return history.Fail(history.ErrClusterNotReady, pgErr.Message), true
		case codeAdminShutdown, codeCrashShutdown:
			return history.Info(history.ErrConnClosed, pgErr.Message), true
		case codeUniqueViolation:
			return history.Fail(history.ErrDuplicateKey, pgErr.Message), true
		case codeStatementCompletionUnknown:
			return history.Info(history.ErrConnReset, pgErr.Message), true
		}
		if strings.HasPrefix(pgErr.Code, codeConnectionClass) {
			// Connection exception: commit status unknown across a
			// severed link.
			return history.Info(history.ErrConnReset, pgErr.Message), true
		}
		// An unknown SQLSTATE falls through to the generic checks below,
		// and ultimately to unclassified.
	}

	// Transport-level failures.
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, net.ErrClosed):
		return history.Info(history.ErrConnClosed, err.Error()), true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return history.Info(history.ErrStreamEnded, err.Error()), true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return history.Info(history.ErrConnReset, err.Error()), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return history.Info(history.ErrConnReset, err.Error()), true
	}
	if pgconn.SafeToRetry(err) {
		// The driver guarantees the request never reached the server.
		return history.Fail(history.ErrClusterNotReady, err.Error()), true
	}

	// Last resort: substring matching on driver error text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"):
		return history.Info(history.ErrConnReset, err.Error()), true
	case strings.Contains(msg, "conn closed"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "closed network connection"):
		return history.Info(history.ErrConnClosed, err.Error()), true
	case strings.Contains(msg, "unexpected eof"):
		return history.Info(history.ErrStreamEnded, err.Error()), true
	case strings.Contains(msg, "lock wait timeout"):
		return history.Fail(history.ErrLockWaitTimeout, err.Error()), true
	case strings.Contains(msg, "record has changed"):
		return history.Fail(history.ErrRecordChanged, err.Error()), true
	case strings.Contains(msg, "read-only transaction"),
		strings.Contains(msg, "read only transaction"):
		return history.Info(history.ErrNotPrimary, err.Error()), true
	case strings.Contains(msg, "database system is starting up"),
		strings.Contains(msg, "the cluster is not ready"):
		return history.Fail(history.ErrClusterNotReady, err.Error()), true
	case strings.Contains(msg, "restart transaction"):
		return history.Fail(history.ErrRollback, err.Error()), true
	}

	return history.Outcome{}, false
}
