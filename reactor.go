package ringrt

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/ringrt/internal/ring"
)

// cancelUserData is the user_data value stamped on cancellation SQEs. A CQE
// carrying it (the completion of the cancel request itself) identifies no
// Source and is discarded. Real Sources never use id 0.
const cancelUserData = 0

// wakeSourceID is reserved for the Reactor's own cross-thread wakeup
// eventfd; real Sources are allocated starting from 2.
const wakeSourceID sourceID = 1

// cancellation asks the kernel to abandon the in-flight poll whose
// user_data matches target.
type cancellation struct {
	target sourceID
}

// Reactor owns one io_uring instance, a staging queue of interest
// submissions, a staging queue of cancellations, and the id->Source map. It
// is driven exclusively from the executor thread via drive; Sources are
// woken (their waiters notified) only as a side effect of drive consuming a
// CQE.
type Reactor struct {
	ring   *ring.Ring
	logger Logger

	// wakeFD is an eventfd kept permanently registered with POLL_ADD so a
	// foreign-thread Waker (see QueueManager.wake) can break a blocking
	// drive by writing to it.
	wakeFD int

	mu            sync.Mutex
	sources       map[sourceID]*Source
	submissions   []interest
	cancellations []cancellation
	nextID        atomic.Uint64

	closed atomic.Bool
}

func newReactor(depth uint32, logger Logger) (*Reactor, error) {
	r, err := ring.New(depth)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		r.Close()
		return nil, err
	}
	re := &Reactor{
		ring:    r,
		logger:  logger,
		wakeFD:  wakeFD,
		sources: make(map[sourceID]*Source),
	}
	re.nextID.Store(uint64(wakeSourceID))
	re.stageInterest(interest{id: wakeSourceID, fd: wakeFD, flags: ring_POLLIN})
	return re, nil
}

// createSource sets fd non-blocking and registers it under a fresh id.
func (r *Reactor) createSource(fd int) (*Source, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, &IOError{Op: "set_nonblock", Cause: err}
	}
	id := sourceID(r.nextID.Add(1))
	s := &Source{id: id, fd: fd, reactor: r}
	r.mu.Lock()
	r.sources[id] = s
	r.mu.Unlock()
	r.logger.Trace().
		Uint64("source", uint64(id)).
		Int("fd", fd).
		Log("source registered")
	return s, nil
}

// removeSource drops s from the id map and stages a cancellation for any
// poll the kernel still holds for it. After this, a CQE still bearing its id
// is discarded by drive.
func (r *Reactor) removeSource(s *Source) {
	r.mu.Lock()
	delete(r.sources, s.id)
	r.cancellations = append(r.cancellations, cancellation{target: s.id})
	r.mu.Unlock()
	s.cancel()
	r.logger.Trace().
		Uint64("source", uint64(s.id)).
		Int("fd", s.fd).
		Log("source removed")
}

// stageInterest appends to the submissions list; no kernel call is made
// until the next drive.
func (r *Reactor) stageInterest(i interest) {
	r.mu.Lock()
	r.submissions = append(r.submissions, i)
	r.mu.Unlock()
}

// outstandingSources reports how many user-visible Sources are registered
// (the internal wakeup eventfd is never in the map), the hint Run uses to
// decide whether blocking in drive is safe.
func (r *Reactor) outstandingSources() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// wake interrupts a blocking drive call from any goroutine.
func (r *Reactor) wake() {
	if r.closed.Load() {
		return
	}
	var one [8]byte
	one[0] = 1
	_, _ = writeFD(r.wakeFD, one[:])
}

// drainCompletions consumes every immediately available CQE: the wakeup
// eventfd is drained and re-armed, cancellation completions are discarded,
// and everything else resolves to a Source wake (or is discarded, when the
// Source was removed while the poll was in flight). Returns how many CQEs
// were consumed.
func (r *Reactor) drainCompletions() (n int) {
	for {
		cqe := r.ring.PeekCQE()
		if cqe == nil {
			return n
		}
		n++
		id := sourceID(cqe.UserData)
		res := cqe.Res
		r.ring.AdvanceCQ()

		switch id {
		case cancelUserData:
			continue
		case wakeSourceID:
			var buf [8]byte
			_, _ = readFD(r.wakeFD, buf[:])
			r.stageInterest(interest{id: wakeSourceID, fd: r.wakeFD, flags: ring_POLLIN})
			continue
		}

		r.mu.Lock()
		s := r.sources[id]
		r.mu.Unlock()
		if s == nil {
			continue
		}
		s.complete(res)
	}
}

// drive drains available completions, fills and submits staged cancellations
// and interest submissions, and (if block is true) lets the final submit
// call sleep in the kernel until at least one completion lands. The block
// hint is computed by the caller before the drain, so it is withdrawn when
// the drain consumed anything: those completions may just have woken tasks.
// Submission failures are logged and retried on the next drive rather than
// surfaced; the unconsumed entries are re-staged.
func (r *Reactor) drive(block bool) {
	if r.drainCompletions() > 0 {
		block = false
	}

	r.mu.Lock()
	cancels := r.cancellations
	r.cancellations = nil
	pending := r.submissions
	r.submissions = nil
	r.mu.Unlock()

	for len(cancels) > 0 {
		sqe := r.ring.PeekSQE()
		if sqe == nil {
			if !r.flush(false) {
				r.requeue(cancels, pending)
				return
			}
			continue
		}
		c := cancels[0]
		cancels = cancels[1:]
		sqe.Opcode = ring.OpAsyncCancel
		sqe.FD = -1
		sqe.Addr = uint64(c.target)
		sqe.UserData = cancelUserData
		r.ring.AdvanceSQ()
	}

	for len(pending) > 0 {
		sqe := r.ring.PeekSQE()
		if sqe == nil {
			if !r.flush(false) {
				r.requeue(nil, pending)
				return
			}
			continue
		}
		it := pending[0]
		pending = pending[1:]
		sqe.Opcode = ring.OpPollAdd
		sqe.FD = int32(it.fd)
		sqe.OpFlags = it.flags
		sqe.UserData = uint64(it.id)
		r.ring.AdvanceSQ()
	}

	r.flush(block)
}

// flush hands queued SQEs to the kernel, optionally waiting for a
// completion. Reports whether the submit succeeded.
func (r *Reactor) flush(block bool) bool {
	if _, err := r.ring.Submit(block); err != nil {
		r.logger.Warning().
			Err(err).
			Log("io_uring submit failed; retrying next drive")
		return false
	}
	return true
}

// requeue puts unsubmitted staging entries back for the next drive,
// preserving their order ahead of anything staged in the meantime.
func (r *Reactor) requeue(cancels []cancellation, pending []interest) {
	r.mu.Lock()
	r.cancellations = append(cancels, r.cancellations...)
	r.submissions = append(pending, r.submissions...)
	r.mu.Unlock()
}

// Close cancels any polls still held by the kernel for registered Sources,
// drains what completions it can without blocking, then releases the
// io_uring instance and the wakeup eventfd. Call only after Run has
// returned.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	for id, s := range r.sources {
		r.cancellations = append(r.cancellations, cancellation{target: id})
		delete(r.sources, id)
		s.cancel()
	}
	r.cancellations = append(r.cancellations, cancellation{target: wakeSourceID})
	r.mu.Unlock()

	r.drive(false)
	r.drainCompletions()

	_ = closeFD(r.wakeFD)
	return r.ring.Close()
}
