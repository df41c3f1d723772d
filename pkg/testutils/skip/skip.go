// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package skip centralizes the conditions under which tests are skipped.
package skip

import (
	"os"
	"testing"
)

// ClusterURLEnv is the environment variable holding the connection URL of a
// live cluster for integration tests.
const ClusterURLEnv = "HARROW_PGURLS"

// UnderShort skips this test if the -short flag is specified.
func UnderShort(t testing.TB, args ...interface{}) {
	if testing.Short() {
		t.Skip(append([]interface{}{"disabled under -short"}, args...))
	}
}

// WithoutCluster skips this test unless HARROW_PGURLS points at a live
// cluster, and returns the comma-separated connection URLs otherwise.
func WithoutCluster(t testing.TB) string {
	urls := os.Getenv(ClusterURLEnv)
	if urls == "" {
		t.Skipf("no cluster available; set %s to run", ClusterURLEnv)
	}
	return urls
}
