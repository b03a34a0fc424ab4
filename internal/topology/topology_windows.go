//go:build windows
// +build windows

// File: internal/topology/topology_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows NUMA detection through kernel32.

package topology

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var procGetNumaHighestNodeNumber = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetNumaHighestNodeNumber")

// platformNodes queries GetNumaHighestNodeNumber. The call reports the
// highest node index, so the count is index+1.
func platformNodes() int {
	var highest uint32
	ret, _, _ := procGetNumaHighestNodeNumber.Call(uintptr(unsafe.Pointer(&highest)))
	if ret == 0 {
		return 1
	}
	return int(highest) + 1
}
