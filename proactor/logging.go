// File: proactor/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package proactor

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the proactor package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the proactor package's logger.
// This must be called before the process-wide instance is initialized.
func SetLogger(l *zap.Logger) {
	logger = l
}
