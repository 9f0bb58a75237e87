package ringrt

import (
	"sync"

	"golang.org/x/sys/unix"
)

// sourceID identifies a Source in the Reactor's id->Source map; it doubles
// as the user_data field stamped on every SQE/CQE the Source produces.
type sourceID uint64

// interest is what Source.readable/writable stages for the next drive: the
// combined poll mask the caller wants on one descriptor.
type interest struct {
	id    sourceID
	fd    int
	flags uint32
}

// Source wraps one raw file descriptor with an Idle -> Registered ->
// Submitted -> Completed -> Idle readiness cycle: interest is staged when a
// caller awaits, submitted on the next drive, and consumed when the
// completion wakes the waiters. It is created by Reactor.createSource and
// driven exclusively from the executor thread except for wake delivery,
// which may run on any thread via a Waker.
type Source struct {
	id      sourceID
	fd      int
	reactor *Reactor

	mu      sync.Mutex
	result  *int32 // nil until a completion has landed; negative = -errno
	waiters []Waker
}

// readable suspends the calling Task until fd is readable (or errored/hung
// up).
func (s *Source) readable() Future[error] {
	return s.await(ring_POLLIN)
}

// writable suspends the calling Task until fd is writable.
func (s *Source) writable() Future[error] {
	return s.await(ring_POLLOUT)
}

const (
	ring_POLLIN  = unix.POLLIN | unix.POLLPRI
	ring_POLLOUT = unix.POLLOUT
	ring_POLLERR = unix.POLLERR | unix.POLLHUP
)

func (s *Source) await(mask uint32) Future[error] {
	return FutureFunc[error](func(ctx *Context) (error, bool) {
		s.mu.Lock()
		if s.result != nil {
			res := *s.result
			s.result = nil
			s.mu.Unlock()
			return resultToError(res), true
		}
		s.waiters = append(s.waiters, ctx.Waker().Clone())
		s.mu.Unlock()

		s.reactor.stageInterest(interest{id: s.id, fd: s.fd, flags: mask | ring_POLLERR})
		return nil, false
	})
}

// complete is invoked by the Reactor while draining CQEs: it stores the
// result and wakes (and clears) every waiter.
func (s *Source) complete(res int32) {
	s.mu.Lock()
	s.result = &res
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for i := range waiters {
		waiters[i].WakeByRef()
		waiters[i].Drop()
	}
}

// cancel clears the waiter list without waking anyone. Waiters are dropped
// and future completions for this id become no-ops once it's removed from
// the Reactor's map.
func (s *Source) cancel() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for i := range waiters {
		waiters[i].Drop()
	}
}

func resultToError(res int32) error {
	if res >= 0 {
		return nil
	}
	errno := unix.Errno(-res)
	return &IOError{Op: "poll", Errno: int(-res), Cause: errno}
}
