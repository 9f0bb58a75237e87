// Package ringrt provides the core of a single-threaded, cooperative,
// thread-per-core asynchronous runtime: a [LocalExecutor] that multiplexes
// many suspendable computations onto one OS thread, and a [Reactor] that
// integrates Linux io_uring so I/O-bound computations never block that
// thread.
//
// # Architecture
//
// A [LocalExecutor] owns a [QueueManager] (one or more [TaskQueue] FIFOs)
// and a [Reactor]. [Run] drives a root future to completion by alternating
// between running ready task queues to quiescence and driving the reactor:
// submitting staged io_uring requests and draining its completion queue,
// which wakes the [Source] values blocked tasks are awaiting.
//
// [Spawn] and [SpawnInto] schedule additional suspendable computations onto
// the currently executing queue, the default queue, or an explicitly named
// queue, returning a [JoinHandle] that can be awaited or cancelled.
//
// # Task model
//
// Each spawned computation is represented by a heap-allocated, reference
// counted [Task]. Its state is a small bitset (SCHEDULED, RUNNING, COMPLETED,
// CLOSED, HANDLE) mutated by the executor thread and, for the SCHEDULED bit
// only, by [Waker] values that may be invoked from other threads (e.g. by the
// reactor or a foreign timer). See the package-level invariants documented on
// [Task].
//
// # I/O
//
// [Async] wraps a raw file descriptor ([Source]) so that a non-blocking
// syscall is retried after the reactor reports readiness via an io_uring
// POLL_ADD completion, instead of the caller polling by hand. The wire
// format is documented on [Reactor].
//
// # Platform support
//
// This module targets Linux only: cooperative thread-per-core scheduling
// paired with io_uring has no meaningful non-Linux implementation, and no
// fallback poller is provided.
//
// # Thread safety
//
// A [LocalExecutor] runs on exactly one goroutine at a time (enforced by a
// thread-local-style binding check). [Waker.Wake] and [Waker.WakeByRef] are
// safe to call from any goroutine; they touch only the atomic fields of
// [Task] and, when they schedule it, push it onto its [TaskQueue] under that
// queue's lock. Everything else on [Task], [TaskQueue] and [QueueManager] is
// touched exclusively from the executor's goroutine.
//
// # Usage
//
//	ex, err := ringrt.NewLocalExecutor()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ex.Close()
//
//	var h *ringrt.JoinHandle[int]
//	root := ringrt.FutureFunc[int](func(ctx *ringrt.Context) (int, bool) {
//	    if h == nil {
//	        var err error
//	        if h, err = ringrt.Spawn(ctx.Executor(), ringrt.Ready(1)); err != nil {
//	            return 0, true
//	        }
//	    }
//	    res, ready := h.Poll(ctx)
//	    if !ready {
//	        return 0, false
//	    }
//	    return res.Value + 2, true
//	})
//	result, err := ringrt.Run(ex, root)
package ringrt
