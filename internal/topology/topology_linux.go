//go:build linux
// +build linux

// File: internal/topology/topology_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pure-Go Linux NUMA detection via sysfs, no libnuma dependency.

package topology

import (
	"os"
	"strconv"
	"strings"
)

const sysNodePath = "/sys/devices/system/node"

// platformNodes counts nodeN entries under sysfs. Kernels without NUMA
// support or restricted environments fall back to a single node.
func platformNodes() int {
	entries, err := os.ReadDir(sysNodePath)
	if err != nil {
		return 1
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		if _, err := strconv.Atoi(name[len("node"):]); err == nil {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}
