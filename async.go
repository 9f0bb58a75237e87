package ringrt

import (
	"errors"

	"golang.org/x/sys/unix"
)

// RawFD is anything Async can register with a Reactor: a value exposing its
// own underlying file descriptor.
type RawFD interface {
	Fd() int
}

// Async wraps an I/O handle with a registered Source, giving it
// suspend-on-WouldBlock behavior: the wrapped operation is retried after
// the reactor reports readiness, instead of the caller polling by hand. It
// is the boundary a caller uses instead of touching a Source directly.
type Async[T RawFD] struct {
	IO     T
	source *Source
}

// NewAsync sets io's descriptor non-blocking and registers it with ex's
// reactor.
func NewAsync[T RawFD](ex *LocalExecutor, io T) (*Async[T], error) {
	s, err := ex.reactor.createSource(io.Fd())
	if err != nil {
		return nil, err
	}
	return &Async[T]{IO: io, source: s}, nil
}

// Close unregisters the Source. It does not close the underlying fd; IO's
// owner is responsible for that.
func (a *Async[T]) Close() {
	a.source.reactor.removeSource(a.source)
}

// ReadWith runs the try-register-wait cycle around op, retrying op whenever
// it reports WouldBlock after the Source reports readable.
func (a *Async[T]) ReadWith(op func(T) (int, error)) Future[Result[int]] {
	return retryWith(a.source.readable, op, a.IO)
}

// WriteWith is ReadWith's symmetric counterpart, waiting on writable.
func (a *Async[T]) WriteWith(op func(T) (int, error)) Future[Result[int]] {
	return retryWith(a.source.writable, op, a.IO)
}

// retryWith implements the adapter loop as a suspendable Future:
//
//	loop:
//	    attempt the non-blocking operation
//	    if result != WouldBlock: return result
//	    await source.readable() (or writable, symmetrically)
//
// waiting holds the in-flight readable/writable Future across Poll calls
// while the Task is suspended; it's nil whenever the next step is to retry
// op directly.
func retryWith[T any](wait func() Future[error], op func(T) (int, error), io T) Future[Result[int]] {
	var waiting Future[error]
	return FutureFunc[Result[int]](func(ctx *Context) (Result[int], bool) {
		for {
			if waiting != nil {
				werr, ready := waiting.Poll(ctx)
				if !ready {
					return Result[int]{}, false
				}
				waiting = nil
				if werr != nil {
					return Result[int]{Err: werr}, true
				}
				continue
			}

			n, err := op(io)
			if err == nil {
				return Result[int]{Value: n}, true
			}
			if isWouldBlock(err) {
				waiting = wait()
				continue
			}
			return Result[int]{Err: err}, true
		}
	})
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
