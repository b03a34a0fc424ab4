//go:build !linux && !windows && !darwin && !dragonfly && !freebsd
// +build !linux,!windows,!darwin,!dragonfly,!freebsd

// File: backend/backend_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub constructor for platforms without a kernel notification backend.

package backend

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/config"
)

// New reports the platform as unsupported.
func New(cfg config.Config) (api.Backend, error) {
	return nil, fmt.Errorf("backend: no kernel notification mechanism on %s: %w", runtime.GOOS, api.ErrNotSupported)
}
