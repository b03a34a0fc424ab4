//go:build windows
// +build windows

// File: backend/iocp_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows IOCP backend. The completion port is already a completion-queue
// mechanism, so Wait drains packets straight into the staging queue; the
// wake token is a zero-byte packet posted under a reserved completion key.

package backend

import (
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/config"
	"github.com/momentics/hioload-proactor/internal/cq"
)

// wakeKey is the completion key reserved for wake packets. No handle is
// ever associated under it.
const wakeKey = ^uintptr(0)

// iocpBackend implements api.Backend using a Windows I/O completion port.
type iocpBackend struct {
	dispatcher
	gate wakeGate

	port     windows.Handle
	capacity int
	closed   int32

	// A handle can be associated with a port only once for its lifetime,
	// so association is tracked separately from callback binding.
	assocMu    sync.Mutex
	associated map[uintptr]struct{}

	// interest remembers the registered event mask per descriptor; a
	// completion packet does not carry one.
	interest sync.Map // map[uintptr]api.FDEventType
}

var _ api.Backend = (*iocpBackend)(nil)

// New constructs the IOCP backend for Windows.
func New(cfg config.Config) (api.Backend, error) {
	cfg = cfg.Normalized()

	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("iocp create: %w", err)
	}
	return &iocpBackend{
		dispatcher: newDispatcher(),
		port:       port,
		capacity:   cfg.QueueLen,
		associated: make(map[uintptr]struct{}),
	}, nil
}

func (b *iocpBackend) Kind() api.BackendKind { return api.BackendIOCP }

func (b *iocpBackend) Capacity() int { return b.capacity }

// Register associates the handle with the completion port, keyed by the
// handle value itself, and binds cb. Re-registering rebinds the callback
// and interest mask without touching the (permanent) association.
func (b *iocpBackend) Register(fd uintptr, events api.FDEventType, cb api.FDCallback) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if cb == nil {
		return fmt.Errorf("register handle %#x: nil callback: %w", fd, api.ErrInvalidArgument)
	}

	b.assocMu.Lock()
	_, done := b.associated[fd]
	if !done {
		if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), b.port, fd, 0); err != nil {
			b.assocMu.Unlock()
			return fmt.Errorf("iocp associate handle %#x: %w", fd, err)
		}
		b.associated[fd] = struct{}{}
	}
	b.assocMu.Unlock()

	b.interest.Store(fd, events)
	b.bind(fd, cb)
	return nil
}

// Unregister unbinds the callback for fd. The port association itself
// cannot be undone on Windows; packets for an unbound key are dropped at
// dispatch time.
func (b *iocpBackend) Unregister(fd uintptr) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	b.interest.Delete(fd)
	b.unbind(fd)
	return nil
}

// Wake posts a packet under the reserved key when a waiter is parked.
func (b *iocpBackend) Wake() error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if !b.gate.arm() {
		return nil
	}
	if err := windows.PostQueuedCompletionStatus(b.port, 0, wakeKey, nil); err != nil {
		b.gate.disarm()
		return fmt.Errorf("post wake packet: %w", err)
	}
	return nil
}

// Wait serves staged completions first, then dequeues packets one at a
// time until one is dispatched, the timeout elapses, or the wake packet
// arrives.
func (b *iocpBackend) Wait(maxEvents int, timeout time.Duration) (int, error) {
	if maxEvents <= 0 {
		return 0, fmt.Errorf("wait: non-positive max events %d: %w", maxEvents, api.ErrInvalidArgument)
	}
	if atomic.LoadInt32(&b.closed) == 1 {
		return 0, api.ErrBackendClosed
	}
	if n := b.dispatch(maxEvents); n > 0 {
		return n, nil
	}

	b.gate.enter()
	defer b.gate.leave()

	dl := newDeadline(timeout)
	for {
		if atomic.LoadInt32(&b.closed) == 1 {
			return 0, api.ErrBackendClosed
		}
		var qty uint32
		var key uintptr
		var overlapped *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(b.port, &qty, &key, &overlapped, b.waitMillis(dl))
		if err != nil {
			if err == syscall.Errno(windows.WAIT_TIMEOUT) {
				return 0, nil
			}
			// A failed packet still identifies its key; surface it to the
			// owner as an error completion rather than failing the wait.
			if overlapped == nil {
				return 0, fmt.Errorf("iocp wait: %w", err)
			}
		}
		woken := b.stagePacket(key, err != nil)
		served := b.dispatch(maxEvents)
		if served > 0 || woken {
			return served, nil
		}
		if dl.expired() {
			return 0, nil
		}
	}
}

// stagePacket converts one dequeued packet into a staged completion,
// filtering out the wake token. Reports whether a wake was observed.
func (b *iocpBackend) stagePacket(key uintptr, failed bool) (woken bool) {
	if key == wakeKey {
		b.gate.disarm()
		return true
	}
	events := api.EventRead
	if val, ok := b.interest.Load(key); ok {
		events = val.(api.FDEventType)
	}
	if failed {
		events |= api.EventError
	}
	b.stage(cq.Completion{FD: key, Events: events})
	return false
}

func (b *iocpBackend) waitMillis(dl deadline) uint32 {
	rem, ok := dl.remaining()
	if !ok {
		return windows.INFINITE
	}
	if rem == 0 {
		return 0
	}
	return uint32((rem + time.Millisecond - 1) / time.Millisecond)
}

// Close releases the completion port. A parked waiter is unblocked
// best-effort through the wake packet before the handle goes away.
func (b *iocpBackend) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	_ = windows.PostQueuedCompletionStatus(b.port, 0, wakeKey, nil)
	if err := windows.CloseHandle(b.port); err != nil {
		return fmt.Errorf("close iocp handle: %w", err)
	}
	return nil
}
