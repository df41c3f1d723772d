// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package base

// Topology is the ordered list of cluster nodes a run targets. The node at
// index 0 is the fixed primary for the lifetime of the run; all other nodes
// are read-only followers receiving writes via replication.
type Topology struct {
	Nodes []string
}

// NodeFor returns the connection URL of the node worker is bound to.
func (t Topology) NodeFor(worker int) string {
	return t.Nodes[t.NodeIndex(worker)]
}

// NodeIndex returns the index of the node worker is bound to.
func (t Topology) NodeIndex(worker int) int {
	return worker % len(t.Nodes)
}

// IsPrimary reports whether worker is bound to the primary node.
func (t Topology) IsPrimary(worker int) bool {
	return t.NodeIndex(worker) == 0
}
