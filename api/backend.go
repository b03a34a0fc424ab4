// File: api/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the core contracts of the hioload proactor: the
// kernel notification backend, the wake signal, and the cooperative
// future polled by the drive loop. Implementations live in the backend
// and proactor packages; this package carries no platform code.
package api

import "time"

// NoTimeout makes Backend.Wait block indefinitely. Any negative duration
// has the same meaning; a zero duration polls without blocking.
const NoTimeout time.Duration = -1

// BackendKind identifies the kernel notification mechanism behind a Backend.
type BackendKind int

const (
	BackendInvalid BackendKind = iota
	BackendEpoll
	BackendKqueue
	BackendIOURing
	BackendIOCP
)

func (k BackendKind) String() string {
	switch k {
	case BackendEpoll:
		return "epoll"
	case BackendKqueue:
		return "kqueue"
	case BackendIOURing:
		return "io_uring"
	case BackendIOCP:
		return "iocp"
	default:
		return "invalid"
	}
}

// FDEventType is a bitmask of I/O conditions reported for a descriptor.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// FDCallback is invoked once for every completion Wait delivers for a
// registered descriptor. It runs on the waiting thread and must not block.
type FDCallback func(fd uintptr, events FDEventType)

// Backend abstracts one kernel I/O notification mechanism behind a uniform
// wait/wake contract. Completion-queue mechanisms (io_uring, IOCP) and
// readiness mechanisms (epoll, kqueue) both surface their results as
// consumable completions dispatched to registered callbacks.
//
// Every operation is safe under concurrent invocation from arbitrary
// threads without external locking. This is a contract each platform
// implementation must uphold internally, not an assertion made here.
type Backend interface {
	// Kind reports which kernel mechanism is active. Pure, no side effects.
	Kind() BackendKind

	// Capacity returns the completion queue capacity the backend was
	// built with, after normalization.
	Capacity() int

	// Register arms one-shot interest in events for fd and binds cb to it.
	// Re-registering an armed descriptor re-arms it with the new mask and
	// callback. Each armed descriptor contributes at most one completion
	// until re-armed.
	Register(fd uintptr, events FDEventType, cb FDCallback) error

	// Unregister disarms fd and unbinds its callback. Completions already
	// staged for fd are dropped without being dispatched.
	Unregister(fd uintptr) error

	// Wake unblocks one thread parked in Wait. Safe to call from any
	// thread, including from inside an FDCallback or a wake callback.
	// When no thread is parked it is a strict no-op: it must not error
	// and must not affect a subsequent Wait call.
	Wake() error

	// Wait blocks until at least one completion is available, maxEvents
	// completions have been collected, the timeout elapses, or Wake is
	// called, whichever comes first. It returns the number of completions
	// dispatched. A negative timeout blocks indefinitely, zero polls.
	Wait(maxEvents int, timeout time.Duration) (int, error)

	// Close releases kernel resources. Idempotent; subsequent calls to
	// the other operations observe ErrBackendClosed.
	Close() error
}
