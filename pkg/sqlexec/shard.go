// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package sqlexec executes micro-operations against the shard tables of a
// replicated SQL store and classifies the errors that come back. It is the
// only package that speaks SQL; everything above it deals in operations and
// outcomes.
package sqlexec

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// TableIndex routes a key to its owning shard table. It is a pure function:
// the same key and table count always agree, so a key's rows live in
// exactly one table for the lifetime of a run.
func TableIndex(key int64, tableCount int) int {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(key))
	_, _ = h.Write(buf[:])
	return int(h.Sum64() % uint64(tableCount))
}

// TableName returns the name of the shard table owning key.
func TableName(key int64, tableCount int) string {
	return fmt.Sprintf("shard%d", TableIndex(key, tableCount))
}

// SchemaStatements returns the idempotent DDL creating the shard tables.
// A replicated store may replay DDL, so every statement must be safe to
// re-issue.
func SchemaStatements(tableCount int) []string {
	stmts := make([]string, 0, tableCount)
	for i := 0; i < tableCount; i++ {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS shard%d (
	id BIGINT NOT NULL PRIMARY KEY,
	sk BIGINT NOT NULL,
	name TEXT NULL,
	val TEXT NULL
)`, i))
	}
	return stmts
}
