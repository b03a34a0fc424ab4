//go:build !linux && !windows
// +build !linux,!windows

// File: internal/topology/topology_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for platforms without NUMA detection.

package topology

// platformNodes stub implementation.
func platformNodes() int {
	return 1
}
