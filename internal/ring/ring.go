// Package ring is a minimal Linux io_uring binding: enough of the
// submission/completion ring protocol to back a single-threaded reactor.
// The raw io_uring_setup/io_uring_enter syscalls and struct layouts follow
// the kernel ABI directly.
package ring

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// Opcodes (IORING_OP_*) for the subset of operations this runtime issues.
const (
	OpNop         = 0
	OpRead        = 22
	OpWrite       = 23
	OpPollAdd     = 6
	OpPollRemove  = 7
	OpAccept      = 13
	OpAsyncCancel = 14
	OpConnect     = 16
	OpRecv        = 27
	OpSend        = 26
	OpClose       = 19
)

// Setup flags (IORING_SETUP_*).
const (
	SetupCQSize = 1 << 3
)

// Feature flags (IORING_FEAT_*) reported back in Params.Features.
const (
	FeatSingleMMap = 1 << 0
)

// Enter flags (IORING_ENTER_*).
const (
	EnterGetEvents = 1 << 0
)

// Poll mask bits, for OpPollAdd's poll_events field.
const (
	PollIn  = 0x0001
	PollOut = 0x0004
	PollErr = 0x0008
	PollHup = 0x0010
)

const (
	sysIOURingSetup = 425
	sysIOURingEnter = 426
)

// SQOffsets mirrors struct io_uring_sqring_offsets.
type SQOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

// CQOffsets mirrors struct io_uring_cqring_offsets.
type CQOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

// Params mirrors struct io_uring_params, the io_uring_setup argument/result.
type Params struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        SQOffsets
	CQOff        CQOffsets
}

// SQE mirrors struct io_uring_sqe (64 bytes on every architecture this
// runtime targets).
type SQE struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	FD          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFDIn  int32
	pad         [2]uint64
}

// CQE mirrors struct io_uring_cqe.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

type submissionQueue struct {
	head, tail  *uint32
	ringMask    uint32
	ringEntries uint32
	flags       *uint32
	dropped     *uint32
	array       []uint32
	sqes        []SQE
}

type completionQueue struct {
	head, tail  *uint32
	ringMask    uint32
	ringEntries uint32
	overflow    *uint32
	cqes        []CQE
}

// Ring is one io_uring instance: its file descriptor and the mmap'd
// submission/completion rings.
type Ring struct {
	fd      int
	params  Params
	sq      submissionQueue
	cq      completionQueue
	sqeMem  []byte
	ringMem []byte
}

// New creates an io_uring instance with a submission (and completion) queue
// of at least entries slots.
func New(entries uint32) (*Ring, error) {
	var params Params
	fd, err := setup(entries, &params)
	if err != nil {
		return nil, fmt.Errorf("ring: io_uring_setup: %w", err)
	}
	if params.Features&FeatSingleMMap == 0 {
		syscall.Close(fd)
		return nil, fmt.Errorf("ring: kernel missing IORING_FEAT_SINGLE_MMAP (need Linux 5.4+)")
	}

	r := &Ring{fd: fd, params: params}
	pageSize := uint32(syscall.Getpagesize())

	sqRingSize := params.SQOff.Array + params.SQEntries*4
	cqRingSize := params.CQOff.Cqes + params.CQEntries*uint32(unsafe.Sizeof(CQE{}))
	ringSize := sqRingSize
	if cqRingSize > ringSize {
		ringSize = cqRingSize
	}
	ringSize = (ringSize + pageSize - 1) &^ (pageSize - 1)

	ringMem, err := syscall.Mmap(fd, 0, int(ringSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("ring: mmap ring: %w", err)
	}
	r.ringMem = ringMem

	sqeSize := params.SQEntries * uint32(unsafe.Sizeof(SQE{}))
	sqeMem, err := syscall.Mmap(fd, 0x10000000, int(sqeSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("ring: mmap sqes: %w", err)
	}
	r.sqeMem = sqeMem

	r.sq.head = (*uint32)(unsafe.Pointer(&r.ringMem[params.SQOff.Head]))
	r.sq.tail = (*uint32)(unsafe.Pointer(&r.ringMem[params.SQOff.Tail]))
	r.sq.ringMask = *(*uint32)(unsafe.Pointer(&r.ringMem[params.SQOff.RingMask]))
	r.sq.ringEntries = *(*uint32)(unsafe.Pointer(&r.ringMem[params.SQOff.RingEntries]))
	r.sq.flags = (*uint32)(unsafe.Pointer(&r.ringMem[params.SQOff.Flags]))
	r.sq.dropped = (*uint32)(unsafe.Pointer(&r.ringMem[params.SQOff.Dropped]))
	r.sq.array = unsafe.Slice((*uint32)(unsafe.Pointer(&r.ringMem[params.SQOff.Array])), params.SQEntries)
	r.sq.sqes = unsafe.Slice((*SQE)(unsafe.Pointer(&r.sqeMem[0])), params.SQEntries)

	r.cq.head = (*uint32)(unsafe.Pointer(&r.ringMem[params.CQOff.Head]))
	r.cq.tail = (*uint32)(unsafe.Pointer(&r.ringMem[params.CQOff.Tail]))
	r.cq.ringMask = *(*uint32)(unsafe.Pointer(&r.ringMem[params.CQOff.RingMask]))
	r.cq.ringEntries = *(*uint32)(unsafe.Pointer(&r.ringMem[params.CQOff.RingEntries]))
	r.cq.overflow = (*uint32)(unsafe.Pointer(&r.ringMem[params.CQOff.Overflow]))
	r.cq.cqes = unsafe.Slice((*CQE)(unsafe.Pointer(&r.ringMem[params.CQOff.Cqes])), params.CQEntries)

	runtime.SetFinalizer(r, func(r *Ring) { r.Close() })
	return r, nil
}

// PeekSQE returns the next free submission slot for the caller to fill, or
// nil if the submission queue is full. AdvanceSQ must be called once it has
// been populated.
func (r *Ring) PeekSQE() *SQE {
	q := &r.sq
	tail := atomic.LoadUint32(q.tail)
	head := atomic.LoadUint32(q.head)
	if tail-head >= q.ringEntries {
		return nil
	}
	idx := tail & q.ringMask
	q.array[idx] = idx
	sqe := &q.sqes[idx]
	*sqe = SQE{}
	return sqe
}

// AdvanceSQ publishes one populated SQE to the kernel.
func (r *Ring) AdvanceSQ() {
	atomic.AddUint32(r.sq.tail, 1)
}

func (r *Ring) pendingSQEs() uint32 {
	return atomic.LoadUint32(r.sq.tail) - atomic.LoadUint32(r.sq.head)
}

// Submit calls io_uring_enter to hand queued SQEs to the kernel. If wait is
// true, it also blocks until at least one completion is available, folding
// the wait into the same syscall rather than a separate enter(0, 1, ...)
// call.
func (r *Ring) Submit(wait bool) (int, error) {
	toSubmit := r.pendingSQEs()
	flags := uint32(0)
	minComplete := uint32(0)
	if wait {
		flags |= EnterGetEvents
		minComplete = 1
	}
	if toSubmit == 0 && !wait {
		return 0, nil
	}
	for {
		n, errno := enter(r.fd, toSubmit, minComplete, flags)
		if errno == syscall.EINTR {
			continue
		}
		if errno != 0 {
			return n, errno
		}
		return n, nil
	}
}

// PeekCQE returns the oldest unconsumed completion without blocking, or nil.
// AdvanceCQ must be called once it has been read.
func (r *Ring) PeekCQE() *CQE {
	q := &r.cq
	head := atomic.LoadUint32(q.head)
	tail := atomic.LoadUint32(q.tail)
	if head == tail {
		return nil
	}
	return &q.cqes[head&q.ringMask]
}

// AdvanceCQ frees the oldest completion slot.
func (r *Ring) AdvanceCQ() {
	atomic.AddUint32(r.cq.head, 1)
}

// Close unmaps the rings and closes the io_uring file descriptor.
func (r *Ring) Close() error {
	if r == nil {
		return nil
	}
	runtime.SetFinalizer(r, nil)
	var firstErr error
	if r.ringMem != nil {
		if err := syscall.Munmap(r.ringMem); err != nil && firstErr == nil {
			firstErr = err
		}
		r.ringMem = nil
	}
	if r.sqeMem != nil {
		if err := syscall.Munmap(r.sqeMem); err != nil && firstErr == nil {
			firstErr = err
		}
		r.sqeMem = nil
	}
	if r.fd >= 0 {
		if err := syscall.Close(r.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		r.fd = -1
	}
	return firstErr
}

func setup(entries uint32, params *Params) (int, error) {
	r1, _, errno := syscall.Syscall(sysIOURingSetup, uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

func enter(fd int, toSubmit, minComplete, flags uint32) (int, syscall.Errno) {
	r1, _, errno := syscall.Syscall6(sysIOURingEnter, uintptr(fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	return int(r1), errno
}
