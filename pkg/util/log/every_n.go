// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package log

import (
	"sync/atomic"
	"time"
)

// EveryN provides a way to rate limit spammy log messages. It tracks how
// recently a given log message has been emitted so that it can determine
// whether it's worth logging again.
type EveryN struct {
	// N is the minimum duration of time between log messages.
	N time.Duration

	lastLog int64 // nanos since epoch, atomically accessed
}

// Every is a convenience constructor for an EveryN object that allows a log
// message every n duration.
func Every(n time.Duration) EveryN {
	return EveryN{N: n}
}

// ShouldLog returns whether it's been more than N time since the last event.
func (e *EveryN) ShouldLog() bool {
	if V(2) {
		// Always log when high verbosity is desired.
		return true
	}
	now := time.Now().UnixNano()
	for {
		last := atomic.LoadInt64(&e.lastLog)
		if now-last < e.N.Nanoseconds() {
			return false
		}
		if atomic.CompareAndSwapInt64(&e.lastLog, last, now) {
			return true
		}
	}
}
