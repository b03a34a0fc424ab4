//go:build linux && io_uring
// +build linux,io_uring

// File: backend/uring_types_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw io_uring ABI: syscall numbers, setup/enter/register flags, and the
// shared-memory layouts of the submission and completion rings.

package backend

const (
	sysIOURingSetup    = 425
	sysIOURingEnter    = 426
	sysIOURingRegister = 427

	// io_uring_setup flags
	uringSetupSQPoll = 1 << 1
	uringSetupClamp  = 1 << 4

	// opcodes
	uringOpNop        = 0
	uringOpPollAdd    = 6
	uringOpPollRemove = 7

	// io_uring_enter flags
	uringEnterGetEvents = 1 << 0
	uringEnterSQWakeup  = 1 << 1
	uringEnterExtArg    = 1 << 3

	// sq_ring flags, written by the kernel-side submission poller
	uringSQNeedWakeup = 1 << 0

	// io_uring_register opcodes
	uringRegisterIOWQMaxWorkers = 19

	// setup features
	uringFeatSingleMMap = 1 << 0

	// mmap offsets
	uringOffSQRing = 0
	uringOffCQRing = 0x8000000
	uringOffSQEs   = 0x10000000
)

// uringSQOffsets mirrors struct io_sqring_offsets.
type uringSQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

// uringCQOffsets mirrors struct io_cqring_offsets.
type uringCQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

// uringParams mirrors struct io_uring_params passed to io_uring_setup.
type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFD         uint32
	resv         [3]uint32
	sqOff        uringSQOffsets
	cqOff        uringCQOffsets
}

// uringSQE mirrors struct io_uring_sqe (64 bytes).
type uringSQE struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFDIn  int32
	pad         [2]uint64
}

// uringCQE mirrors struct io_uring_cqe (16 bytes).
type uringCQE struct {
	userData uint64
	res      int32
	flags    uint32
}

// uringGeteventsArg mirrors struct io_uring_getevents_arg used with
// IORING_ENTER_EXT_ARG to bound a GETEVENTS wait.
type uringGeteventsArg struct {
	sigmask   uint64
	sigmaskSz uint32
	pad       uint32
	ts        uint64
}
