// File: internal/topology/topology.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NUMA topology detection with runtime caching. Per-NUMA worker limits in
// the configuration are scaled by the detected node count before being
// passed to the kernel.

package topology

import "sync"

var (
	nodesOnce sync.Once
	nodeCount int
)

// Nodes returns the number of NUMA nodes on this machine, detected once
// and cached. It never returns less than 1.
func Nodes() int {
	nodesOnce.Do(func() {
		nodeCount = platformNodes()
		if nodeCount < 1 {
			nodeCount = 1
		}
	})
	return nodeCount
}
