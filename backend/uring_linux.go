//go:build linux && io_uring
// +build linux,io_uring

// File: backend/uring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux io_uring backend, selected by the io_uring build tag. Descriptor
// interest is armed through one-shot POLL_ADD submissions; the wake token
// is a NOP SQE whose CQE carries a reserved user data value. Optional
// SQPOLL offloads submission reaping to a kernel thread whose idle period
// comes from the configuration's submission-poll wake interval.

package backend

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/config"
	"github.com/momentics/hioload-proactor/internal/cq"
	"github.com/momentics/hioload-proactor/internal/topology"
)

// wakeUserData marks the CQE produced by a wake NOP; cancelUserData marks
// the CQE produced by a POLL_REMOVE itself.
const (
	wakeUserData   = ^uint64(0)
	cancelUserData = ^uint64(0) - 1
)

// uringRing holds the mmap'd ring views. Head/tail pointers alias kernel
// shared memory and must be accessed atomically.
type uringRing struct {
	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqEntries uint32
	sqFlags   *uint32
	sqArray   []uint32
	sqes      []uringSQE

	cqHead    *uint32
	cqTail    *uint32
	cqMask    uint32
	cqEntries uint32
	cqes      []uringCQE

	sqMmap  []byte
	cqMmap  []byte
	sqeMmap []byte
}

// uringBackend implements api.Backend using io_uring.
type uringBackend struct {
	dispatcher
	gate wakeGate

	fd       int
	ring     uringRing
	sqpoll   bool
	capacity int
	closed   int32

	// Serializes SQE slot allocation and tail publication.
	sqMu sync.Mutex
}

var _ api.Backend = (*uringBackend)(nil)

// New constructs the io_uring backend for Linux.
func New(cfg config.Config) (api.Backend, error) {
	cfg = cfg.Normalized()

	var params uringParams
	params.flags = uringSetupClamp
	if cfg.SQPollWakeInterval > 0 {
		params.flags |= uringSetupSQPoll
		params.sqThreadIdle = uint32(cfg.SQPollWakeInterval / time.Millisecond)
	}

	fd, _, errno := unix.Syscall6(sysIOURingSetup,
		uintptr(cfg.QueueLen), uintptr(unsafe.Pointer(&params)), 0, 0, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring setup: %w", errno)
	}

	b := &uringBackend{
		dispatcher: newDispatcher(),
		fd:         int(fd),
		sqpoll:     params.flags&uringSetupSQPoll != 0,
		capacity:   cfg.QueueLen,
	}
	if err := b.mapRings(&params); err != nil {
		unix.Close(b.fd)
		return nil, err
	}
	b.registerIOWQWorkers(cfg)
	return b, nil
}

// mapRings maps the SQ ring, CQ ring, and SQE array into the process.
// Kernels with IORING_FEAT_SINGLE_MMAP serve both rings from one mapping.
func (b *uringBackend) mapRings(params *uringParams) error {
	sqSize := int(params.sqOff.array) + int(params.sqEntries)*4
	cqSize := int(params.cqOff.cqes) + int(params.cqEntries)*int(unsafe.Sizeof(uringCQE{}))
	single := params.features&uringFeatSingleMMap != 0
	if single {
		if cqSize > sqSize {
			sqSize = cqSize
		}
	}

	sqMmap, err := unix.Mmap(b.fd, uringOffSQRing, sqSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	cqMmap := sqMmap
	if !single {
		cqMmap, err = unix.Mmap(b.fd, uringOffCQRing, cqSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			unix.Munmap(sqMmap)
			return fmt.Errorf("mmap cq ring: %w", err)
		}
	}
	sqeSize := int(params.sqEntries) * int(unsafe.Sizeof(uringSQE{}))
	sqeMmap, err := unix.Mmap(b.fd, uringOffSQEs, sqeSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		if !single {
			unix.Munmap(cqMmap)
		}
		unix.Munmap(sqMmap)
		return fmt.Errorf("mmap sqe array: %w", err)
	}

	r := &b.ring
	r.sqHead = ringU32(sqMmap, params.sqOff.head)
	r.sqTail = ringU32(sqMmap, params.sqOff.tail)
	r.sqMask = *ringU32(sqMmap, params.sqOff.ringMask)
	r.sqEntries = *ringU32(sqMmap, params.sqOff.ringEntries)
	r.sqFlags = ringU32(sqMmap, params.sqOff.flags)
	r.sqArray = unsafe.Slice(ringU32(sqMmap, params.sqOff.array), r.sqEntries)
	r.sqes = unsafe.Slice((*uringSQE)(unsafe.Pointer(&sqeMmap[0])), params.sqEntries)

	r.cqHead = ringU32(cqMmap, params.cqOff.head)
	r.cqTail = ringU32(cqMmap, params.cqOff.tail)
	r.cqMask = *ringU32(cqMmap, params.cqOff.ringMask)
	r.cqEntries = *ringU32(cqMmap, params.cqOff.ringEntries)
	r.cqes = unsafe.Slice((*uringCQE)(unsafe.Pointer(&cqMmap[params.cqOff.cqes])), r.cqEntries)

	r.sqMmap = sqMmap
	r.sqeMmap = sqeMmap
	if !single {
		r.cqMmap = cqMmap
	}
	return nil
}

func ringU32(mem []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// registerIOWQWorkers applies the per-NUMA worker bounds, scaled by the
// detected node count. Best-effort: kernels before 5.15 reject the
// register opcode and the defaults stand.
func (b *uringBackend) registerIOWQWorkers(cfg config.Config) {
	if cfg.PerNUMABoundedWorkers == 0 && cfg.PerNUMAUnboundedWorkers == 0 {
		return
	}
	nodes := topology.Nodes()
	counts := [2]uint32{
		uint32(cfg.PerNUMABoundedWorkers * nodes),
		uint32(cfg.PerNUMAUnboundedWorkers * nodes),
	}
	unix.Syscall6(sysIOURingRegister, uintptr(b.fd), uringRegisterIOWQMaxWorkers,
		uintptr(unsafe.Pointer(&counts[0])), 2, 0, 0)
}

func (b *uringBackend) Kind() api.BackendKind { return api.BackendIOURing }

func (b *uringBackend) Capacity() int { return b.capacity }

// push writes one SQE, publishes the tail, and hands the submission to the
// kernel: a plain enter without SQPOLL, or a NEED_WAKEUP handshake with it.
func (b *uringBackend) push(s uringSQE) error {
	b.sqMu.Lock()
	head := atomic.LoadUint32(b.ring.sqHead)
	tail := atomic.LoadUint32(b.ring.sqTail)
	if tail-head >= b.ring.sqEntries {
		b.sqMu.Unlock()
		return fmt.Errorf("submission queue full: %w", api.ErrResourceExhausted)
	}
	idx := tail & b.ring.sqMask
	b.ring.sqes[idx] = s
	b.ring.sqArray[idx] = idx
	atomic.StoreUint32(b.ring.sqTail, tail+1)

	if b.sqpoll {
		var flags uintptr
		if atomic.LoadUint32(b.ring.sqFlags)&uringSQNeedWakeup != 0 {
			flags = uringEnterSQWakeup
		}
		b.sqMu.Unlock()
		if flags != 0 {
			if _, err := b.enter(0, 0, flags, nil, 0); err != nil {
				return fmt.Errorf("sqpoll wakeup: %w", err)
			}
		}
		return nil
	}
	b.sqMu.Unlock()
	if _, err := b.enter(1, 0, 0, nil, 0); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

func (b *uringBackend) enter(toSubmit, minComplete int, flags uintptr, arg unsafe.Pointer, argSz uintptr) (int, error) {
	for {
		n, _, errno := unix.Syscall6(sysIOURingEnter,
			uintptr(b.fd), uintptr(toSubmit), uintptr(minComplete), flags,
			uintptr(arg), argSz)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return 0, errno
		}
		return int(n), nil
	}
}

// Register arms one-shot poll interest in events for fd. An armed
// descriptor is cancelled first so it contributes at most one completion.
func (b *uringBackend) Register(fd uintptr, events api.FDEventType, cb api.FDCallback) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if cb == nil {
		return fmt.Errorf("register fd %d: nil callback: %w", fd, api.ErrInvalidArgument)
	}

	var mask uint32
	if events&api.EventRead != 0 {
		mask |= unix.POLLIN
	}
	if events&api.EventWrite != 0 {
		mask |= unix.POLLOUT
	}
	if mask == 0 {
		return fmt.Errorf("register fd %d: empty event mask: %w", fd, api.ErrInvalidArgument)
	}

	if b.bound(fd) {
		// Cancellation targets the user data of the armed POLL_ADD; its
		// ECANCELED completion is filtered out at reap time.
		_ = b.push(uringSQE{opcode: uringOpPollRemove, fd: -1, addr: uint64(fd), userData: cancelUserData})
	}
	if err := b.push(uringSQE{opcode: uringOpPollAdd, fd: int32(fd), opcodeFlags: mask, userData: uint64(fd)}); err != nil {
		return fmt.Errorf("poll add fd %d: %w", fd, err)
	}
	b.bind(fd, cb)
	return nil
}

// Unregister cancels any armed poll for fd and unbinds its callback.
func (b *uringBackend) Unregister(fd uintptr) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	b.unbind(fd)
	if err := b.push(uringSQE{opcode: uringOpPollRemove, fd: -1, addr: uint64(fd), userData: cancelUserData}); err != nil {
		return fmt.Errorf("poll remove fd %d: %w", fd, err)
	}
	return nil
}

// Wake submits a NOP whose completion unparks the waiter.
func (b *uringBackend) Wake() error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return api.ErrBackendClosed
	}
	if !b.gate.arm() {
		return nil
	}
	if err := b.push(uringSQE{opcode: uringOpNop, fd: -1, userData: wakeUserData}); err != nil {
		b.gate.disarm()
		return fmt.Errorf("wake nop: %w", err)
	}
	return nil
}

// Wait serves staged completions first, then enters the kernel for at
// least one CQE, bounded by the caller's timeout through EXT_ARG.
func (b *uringBackend) Wait(maxEvents int, timeout time.Duration) (int, error) {
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
		if err := b.waitCQ(dl); err != nil {
			if err == unix.ETIME {
				b.reap()
				return b.dispatch(maxEvents), nil
			}
			return 0, fmt.Errorf("io_uring enter: %w", err)
		}
		woken := b.reap()
		served := b.dispatch(maxEvents)
		if served > 0 || woken {
			return served, nil
		}
		if dl.expired() {
			return 0, nil
		}
	}
}

// waitCQ blocks until at least one CQE is available or the deadline
// passes. An already-populated CQ returns immediately.
func (b *uringBackend) waitCQ(dl deadline) error {
	if atomic.LoadUint32(b.ring.cqTail) != atomic.LoadUint32(b.ring.cqHead) {
		return nil
	}
	rem, bounded := dl.remaining()
	if !bounded {
		_, err := b.enter(0, 1, uringEnterGetEvents, nil, 0)
		return err
	}
	// The timespec address crosses into the kernel as a plain integer the
	// runtime cannot see, so it must live on the heap and stay reachable
	// until the enter returns.
	ts := new(unix.Timespec)
	*ts = unix.NsecToTimespec(rem.Nanoseconds())
	arg := &uringGeteventsArg{ts: uint64(uintptr(unsafe.Pointer(ts)))}
	_, err := b.enter(0, 1, uringEnterGetEvents|uringEnterExtArg,
		unsafe.Pointer(arg), unsafe.Sizeof(*arg))
	runtime.KeepAlive(ts)
	return err
}

// reap drains the CQ ring into the staging queue, filtering wake and
// cancellation tokens. Reports whether a wake was observed.
func (b *uringBackend) reap() (woken bool) {
	head := atomic.LoadUint32(b.ring.cqHead)
	tail := atomic.LoadUint32(b.ring.cqTail)
	for ; head != tail; head++ {
		e := b.ring.cqes[head&b.ring.cqMask]
		switch {
		case e.userData == wakeUserData:
			b.gate.disarm()
			woken = true
		case e.userData == cancelUserData:
			// the POLL_REMOVE's own result, nothing to deliver
		case e.res == -int32(unix.ECANCELED):
			// a cancelled POLL_ADD completing; the descriptor was re-armed
			// or unregistered and must not surface a completion here
		default:
			b.stage(cq.Completion{FD: uintptr(e.userData), Events: cqeEvents(e.res)})
		}
	}
	atomic.StoreUint32(b.ring.cqHead, head)
	return woken
}

func cqeEvents(res int32) api.FDEventType {
	if res < 0 {
		return api.EventError
	}
	var events api.FDEventType
	if res&unix.POLLIN != 0 {
		events |= api.EventRead
	}
	if res&unix.POLLOUT != 0 {
		events |= api.EventWrite
	}
	if res&(unix.POLLERR|unix.POLLHUP) != 0 {
		events |= api.EventError
	}
	return events
}

// Close unmaps the rings and closes the ring descriptor. A parked waiter
// is unblocked best-effort through a wake NOP before teardown.
func (b *uringBackend) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	_ = b.push(uringSQE{opcode: uringOpNop, fd: -1, userData: wakeUserData})

	if b.ring.sqeMmap != nil {
		unix.Munmap(b.ring.sqeMmap)
	}
	if b.ring.cqMmap != nil {
		unix.Munmap(b.ring.cqMmap)
	}
	if b.ring.sqMmap != nil {
		unix.Munmap(b.ring.sqMmap)
	}
	if err := unix.Close(b.fd); err != nil {
		return fmt.Errorf("close ring fd: %w", err)
	}
	return nil
}
