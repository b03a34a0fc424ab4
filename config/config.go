// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend tuning parameters, immutable once a proactor instance is built.

package config

import "time"

// Queue length bounds enforced by normalization. The upper bound matches
// the largest submission queue io_uring accepts; readiness backends share
// it so capacity reporting stays uniform.
const (
	DefaultQueueLen = 2048
	MaxQueueLen     = 32768
)

// Config holds backend tuning parameters. It is passed by value at
// construction time and has no further interaction with the proactor
// after the backend instance is built.
//
// Readiness backends (epoll, kqueue) and IOCP consume QueueLen only; the
// submission poller and worker knobs apply to the io_uring backend and are
// accepted but unused elsewhere.
type Config struct {
	// QueueLen is the completion queue capacity. Normalization rounds it
	// up to the next power of two and clamps it to [1, MaxQueueLen];
	// non-positive values fall back to DefaultQueueLen.
	QueueLen int

	// SQPollWakeInterval is the idle period of the kernel-side submission
	// poller. Zero or negative disables submission polling.
	SQPollWakeInterval time.Duration

	// PerNUMABoundedWorkers bounds the kernel io-worker count per NUMA
	// node for operations with a bounded execution time. Zero keeps the
	// kernel default.
	PerNUMABoundedWorkers int

	// PerNUMAUnboundedWorkers bounds the kernel io-worker count per NUMA
	// node for operations that may block indefinitely. Zero keeps the
	// kernel default.
	PerNUMAUnboundedWorkers int
}

// DefaultConfig returns default configuration values.
// These sane defaults support typical use cases without extensive tuning.
func DefaultConfig() Config {
	return Config{
		QueueLen:                DefaultQueueLen,
		SQPollWakeInterval:      2 * time.Millisecond,
		PerNUMABoundedWorkers:   256,
		PerNUMAUnboundedWorkers: 512,
	}
}

// Normalized returns a copy of c with every field forced into its valid
// range. Backends normalize before use, so an explicit queue length of 10
// yields a capacity of 16.
func (c Config) Normalized() Config {
	if c.QueueLen <= 0 {
		c.QueueLen = DefaultQueueLen
	}
	if c.QueueLen > MaxQueueLen {
		c.QueueLen = MaxQueueLen
	}
	c.QueueLen = int(nextPowerOfTwo(uint32(c.QueueLen)))
	if c.SQPollWakeInterval < 0 {
		c.SQPollWakeInterval = 0
	}
	if c.PerNUMABoundedWorkers < 0 {
		c.PerNUMABoundedWorkers = 0
	}
	if c.PerNUMAUnboundedWorkers < 0 {
		c.PerNUMAUnboundedWorkers = 0
	}
	return c
}

func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
