// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package log

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEveryN(t *testing.T) {
	e := Every(time.Hour)
	require.True(t, e.ShouldLog())
	require.False(t, e.ShouldLog())
	require.False(t, e.ShouldLog())

	// Pretend the last emission was long ago.
	e.lastLog = time.Now().Add(-2 * time.Hour).UnixNano()
	require.True(t, e.ShouldLog())
	require.False(t, e.ShouldLog())
}

func TestEveryNHighVerbosity(t *testing.T) {
	defer SetVerbosity(0)
	SetVerbosity(2)

	e := Every(time.Hour)
	require.True(t, e.ShouldLog())
	require.True(t, e.ShouldLog())
}
