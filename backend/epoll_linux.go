//go:build linux && !io_uring
// +build linux,!io_uring

// File: backend/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) backend with an eventfd wake token. Descriptors are armed
// one-shot so each registration contributes at most one completion until
// re-armed, which keeps Wait counts exact.

package backend

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/config"
	"github.com/momentics/hioload-proactor/internal/cq"
)

// epollBackend implements api.Backend using Linux epoll.
type epollBackend struct {
	dispatcher
	gate wakeGate

	epfd     int
	wakefd   int
	capacity int
	closed   int32
}

var _ api.Backend = (*epollBackend)(nil)

// New constructs the epoll backend for Linux.
func New(cfg config.Config) (api.Backend, error) {
	cfg = cfg.Normalized()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd create: %w", err)
	}
	// The wake descriptor stays level-triggered and permanently armed;
	// draining it resets readiness.
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wake fd: %w", err)
	}

	return &epollBackend{
		dispatcher: newDispatcher(),
		epfd:       epfd,
		wakefd:     wakefd,
		capacity:   cfg.QueueLen,
	}, nil
}

func (b *epollBackend) Kind() api.BackendKind { return api.BackendEpoll }

func (b *epollBackend) Capacity() int { return b.capacity }

// Register arms one-shot interest in events for fd. A descriptor already
// known to epoll is re-armed via EPOLL_CTL_MOD; bookkeeping races with the
// kernel view are resolved by retrying with the opposite op.
func (b *epollBackend) Register(fd uintptr, events api.FDEventType, cb api.FDCallback) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if cb == nil {
		return fmt.Errorf("register fd %d: nil callback: %w", fd, api.ErrInvalidArgument)
	}

	var ev unix.EpollEvent
	ev.Events = unix.EPOLLONESHOT
	if events&api.EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&api.EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	ev.Fd = int32(fd)

	op := unix.EPOLL_CTL_ADD
	if b.bound(fd) {
		op = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(b.epfd, op, int(fd), &ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev)
	} else if err == unix.ENOENT {
		err = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll ctl: %w", err)
	}

	b.bind(fd, cb)
	return nil
}

// Unregister removes fd from the epoll watch list.
func (b *epollBackend) Unregister(fd uintptr) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	b.unbind(fd)
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wake delivers one token through the eventfd when a waiter is parked.
func (b *epollBackend) Wake() error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if !b.gate.arm() {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(b.wakefd, buf[:]); err != nil {
		b.gate.disarm()
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Wait serves staged completions first, then blocks in epoll_wait until
// events arrive, the timeout elapses, or a wake token is delivered.
func (b *epollBackend) Wait(maxEvents int, timeout time.Duration) (int, error) {
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
	var raw [dispatchBatch]unix.EpollEvent
	for {
		if atomic.LoadInt32(&b.closed) == 1 {
			return 0, api.ErrBackendClosed
		}
		n, err := unix.EpollWait(b.epfd, raw[:], dl.millis())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("epoll wait: %w", err)
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

// stageKernel converts one epoll batch into staged completions, filtering
// out the wake token. Reports whether a wake was observed.
func (b *epollBackend) stageKernel(evs []unix.EpollEvent) (woken bool) {
	for i := range evs {
		fd := uintptr(evs[i].Fd)
		if fd == uintptr(b.wakefd) {
			b.drainWake()
			woken = true
			continue
		}
		var events api.FDEventType
		if evs[i].Events&unix.EPOLLIN != 0 {
			events |= api.EventRead
		}
		if evs[i].Events&unix.EPOLLOUT != 0 {
			events |= api.EventWrite
		}
		if evs[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			events |= api.EventError
		}
		b.stage(cq.Completion{FD: fd, Events: events})
	}
	return woken
}

// drainWake consumes the eventfd counter and re-arms the gate.
func (b *epollBackend) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(b.wakefd, buf[:])
	b.gate.disarm()
}

// Close releases the epoll and eventfd descriptors. A parked waiter is
// unblocked best-effort through the wake token before the descriptors go
// away.
func (b *epollBackend) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(b.wakefd, buf[:])

	if err := unix.Close(b.wakefd); err != nil {
		unix.Close(b.epfd)
		return fmt.Errorf("close wake fd: %w", err)
	}
	if err := unix.Close(b.epfd); err != nil {
		return fmt.Errorf("close epoll fd: %w", err)
	}
	return nil
}
