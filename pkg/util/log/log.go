// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package log provides leveled, context-tagged logging for harrow.
//
// The API follows the glog-derived style (Infof, Warningf, Errorf, Fatalf,
// V) with a context.Context first argument; tags attached to the context
// via logtags are rendered as a bracketed prefix on every entry. The
// backend is zap.
package log

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/logtags"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var verbosity int32

var logger = func() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: initializing zap: %v\n", err)
		os.Exit(2)
	}
	return l.Sugar()
}()

// SetVerbosity sets the level at or below which V(level) returns true.
func SetVerbosity(level int32) {
	atomic.StoreInt32(&verbosity, level)
}

// V returns whether logging at the given verbosity level is enabled.
func V(level int32) bool {
	return atomic.LoadInt32(&verbosity) >= level
}

// formatWithContextTags formats the message and prepends the context tags.
func formatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	var buf strings.Builder
	if b := logtags.FromContext(ctx); b != nil {
		buf.WriteByte('[')
		buf.WriteString(b.String())
		buf.WriteString("] ")
	}
	fmt.Fprintf(&buf, format, args...)
	return buf.String()
}

// Infof logs to the INFO level.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logger.Info(formatWithContextTags(ctx, format, args...))
}

// VInfof logs to the INFO level when verbosity is at or above level.
func VInfof(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		logger.Info(formatWithContextTags(ctx, format, args...))
	}
}

// Warningf logs to the WARNING level.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logger.Warn(formatWithContextTags(ctx, format, args...))
}

// Errorf logs to the ERROR level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logger.Error(formatWithContextTags(ctx, format, args...))
}

// Fatalf logs to the FATAL level and terminates the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logger.Fatal(formatWithContextTags(ctx, format, args...))
}

// Flush flushes any buffered log entries.
func Flush() {
	_ = logger.Sync()
}
