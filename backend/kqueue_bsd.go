//go:build darwin || dragonfly || freebsd
// +build darwin dragonfly freebsd

// File: backend/kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BSD/macOS kqueue(2) backend. The wake token travels through an
// EVFILT_USER event on ident 0; descriptor interest is armed EV_ONESHOT so
// Wait counts stay exact.

package backend

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/config"
	"github.com/momentics/hioload-proactor/internal/cq"
)

// wakeIdent is the EVFILT_USER identity reserved for the wake token.
const wakeIdent = 0

// kqueueBackend implements api.Backend using kqueue.
type kqueueBackend struct {
	dispatcher
	gate wakeGate

	kq       int
	capacity int
	closed   int32
}

var _ api.Backend = (*kqueueBackend)(nil)

// New constructs the kqueue backend for the BSDs and macOS.
func New(cfg config.Config) (api.Backend, error) {
	cfg = cfg.Normalized()

	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue create: %w", err)
	}
	// The user event stays registered for the backend's lifetime;
	// EV_CLEAR resets it after every delivery.
	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakeIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("kevent add wake event: %w", err)
	}

	return &kqueueBackend{
		dispatcher: newDispatcher(),
		kq:         kq,
		capacity:   cfg.QueueLen,
	}, nil
}

func (b *kqueueBackend) Kind() api.BackendKind { return api.BackendKqueue }

func (b *kqueueBackend) Capacity() int { return b.capacity }

// Register arms one-shot interest in events for fd. Re-registering an
// armed descriptor replaces its filters; kqueue treats EV_ADD on an
// existing filter as a modification, so no ADD-or-MOD dance is needed.
func (b *kqueueBackend) Register(fd uintptr, events api.FDEventType, cb api.FDCallback) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if cb == nil {
		return fmt.Errorf("register fd %d: nil callback: %w", fd, api.ErrInvalidArgument)
	}
	if events&(api.EventRead|api.EventWrite) == 0 {
		return fmt.Errorf("register fd %d: empty event mask: %w", fd, api.ErrInvalidArgument)
	}

	changes := make([]unix.Kevent_t, 0, 2)
	if events&api.EventRead != 0 {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, int(fd), unix.EVFILT_READ, unix.EV_ADD|unix.EV_ONESHOT)
		changes = append(changes, ev)
	}
	if events&api.EventWrite != 0 {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, int(fd), unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ONESHOT)
		changes = append(changes, ev)
	}
	if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("kevent add: %w", err)
	}

	b.bind(fd, cb)
	return nil
}

// Unregister removes both filters for fd. A filter the one-shot delivery
// already consumed reports ENOENT, which is not an error here.
func (b *kqueueBackend) Unregister(fd uintptr) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	b.unbind(fd)
	for _, filter := range []int{unix.EVFILT_READ, unix.EVFILT_WRITE} {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, int(fd), filter, unix.EV_DELETE)
		if _, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil); err != nil && err != unix.ENOENT {
			return fmt.Errorf("kevent delete: %w", err)
		}
	}
	return nil
}

// Wake triggers the user event when a waiter is parked.
func (b *kqueueBackend) Wake() error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if !b.gate.arm() {
		return nil
	}
	if err := b.trigger(); err != nil {
		b.gate.disarm()
		return fmt.Errorf("kevent trigger wake: %w", err)
	}
	return nil
}

func (b *kqueueBackend) trigger() error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakeIdent, unix.EVFILT_USER, 0)
	ev.Fflags = unix.NOTE_TRIGGER
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// Wait serves staged completions first, then blocks in kevent until events
// arrive, the timeout elapses, or the user event fires.
func (b *kqueueBackend) Wait(maxEvents int, timeout time.Duration) (int, error) {
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
	var raw [dispatchBatch]unix.Kevent_t
	for {
		if atomic.LoadInt32(&b.closed) == 1 {
			return 0, api.ErrBackendClosed
		}
		var tsp *unix.Timespec
		if rem, ok := dl.remaining(); ok {
			ts := unix.NsecToTimespec(rem.Nanoseconds())
			tsp = &ts
		}
		n, err := unix.Kevent(b.kq, nil, raw[:], tsp)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("kevent wait: %w", err)
		}
		woken := b.stageKernel(raw[:n])
		served := b.dispatch(maxEvents)
		if served > 0 || woken {
			return served, nil
		}
		if n == 0 || dl.expired() {
			return 0, nil
		}
	}
}

// stageKernel converts one kevent batch into staged completions, filtering
// out the wake token. Reports whether a wake was observed.
func (b *kqueueBackend) stageKernel(evs []unix.Kevent_t) (woken bool) {
	for i := range evs {
		if evs[i].Filter == unix.EVFILT_USER {
			b.gate.disarm()
			woken = true
			continue
		}
		var events api.FDEventType
		switch evs[i].Filter {
		case unix.EVFILT_READ:
			events |= api.EventRead
		case unix.EVFILT_WRITE:
			events |= api.EventWrite
		}
		if evs[i].Flags&(unix.EV_ERROR|unix.EV_EOF) != 0 {
			events |= api.EventError
		}
		b.stage(cq.Completion{FD: uintptr(evs[i].Ident), Events: events})
	}
	return woken
}

// Close releases the kqueue descriptor. A parked waiter is unblocked
// best-effort through the user event before the descriptor goes away.
func (b *kqueueBackend) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	_ = b.trigger()
	if err := unix.Close(b.kq); err != nil {
		return fmt.Errorf("close kqueue fd: %w", err)
	}
	return nil
}
