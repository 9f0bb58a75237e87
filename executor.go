package ringrt

import (
	"runtime"
	"sync/atomic"
)

// LocalExecutor owns a QueueManager and a Reactor and drives suspendable
// computations to completion on a single OS thread. It is single-threaded:
// Spawn and SpawnInto are usable only from inside the goroutine currently
// executing [Run].
type LocalExecutor struct {
	id        uint64
	placement Placement
	logger    Logger

	queues  *QueueManager
	reactor *Reactor

	defaultQueue *TaskQueue

	// boundGoroutine holds the id of the goroutine currently inside Run, or
	// 0 if no Run call is in flight. Guards both "usable only on the
	// executor thread" and "nested run is forbidden" (for this executor).
	boundGoroutine atomic.Uint64
}

var executorIDSeq atomic.Uint64

func nextExecutorID() uint64 { return executorIDSeq.Add(1) }

// getGoroutineID parses the current goroutine's id out of runtime.Stack's
// "goroutine N [...]" prefix. Go has no language-level thread-local
// facility, so this is how the executor recognizes its own thread.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

func (ex *LocalExecutor) onExecutorThread() bool {
	bound := ex.boundGoroutine.Load()
	return bound != 0 && bound == getGoroutineID()
}

// CreateTaskQueue allocates an additional TaskQueue, for priority separation
// between classes of work. It may be called at any time; the returned
// QueueID is valid only for this executor.
func (ex *LocalExecutor) CreateTaskQueue() QueueID {
	return ex.queues.createQueue().ID()
}

// Close releases the executor's Reactor (its io_uring instance and any
// registered Sources). Call only after Run has returned.
func (ex *LocalExecutor) Close() error {
	return ex.reactor.Close()
}

// spawnOn allocates a Task bound to q and schedules it immediately.
func spawnOn[T any](ex *LocalExecutor, q *TaskQueue, f Future[T]) *JoinHandle[T] {
	t := newTask(ex, q, &futureBox[T]{f: f})
	h := newJoinHandle[T](t)
	t.schedule()
	return h
}

// Spawn schedules f onto the currently executing queue (or the executor's
// default queue, if none is currently draining). Usable only from the
// executor's own goroutine (see LocalExecutor doc); generic methods don't
// exist in Go, so this is a free function taking the executor explicitly.
func Spawn[T any](ex *LocalExecutor, f Future[T]) (*JoinHandle[T], error) {
	if !ex.onExecutorThread() {
		return nil, ErrNoExecutor
	}
	q := ex.queues.executing
	if q == nil {
		q = ex.defaultQueue
	}
	return spawnOn(ex, q, f), nil
}

// SpawnInto schedules f onto the named queue.
func SpawnInto[T any](ex *LocalExecutor, id QueueID, f Future[T]) (*JoinHandle[T], error) {
	if !ex.onExecutorThread() {
		return nil, ErrNoExecutor
	}
	q, ok := ex.queues.queue(id)
	if !ok {
		return nil, ErrUnknownQueue
	}
	return spawnOn(ex, q, f), nil
}

// runReadyQueues drains every currently-active TaskQueue to quiescence:
// while pickNext returns a queue, pop and run its Tasks until it's empty,
// then deactivate it. A Task that self-wakes during this drain is re-pushed
// onto the same queue and picked up by the inner loop without needing to
// re-enter pickNext.
func (ex *LocalExecutor) runReadyQueues() {
	for {
		q := ex.queues.pickNext()
		if q == nil {
			return
		}
		ex.queues.executing = q
		for {
			t, ok := q.pop()
			if !ok {
				break
			}
			t.run()
		}
		ex.queues.executing = nil
		ex.queues.deactivate(q)
	}
}

// Run blocks until f completes. It binds this goroutine to ex for the
// duration (nested Run on the same executor is rejected with
// ErrAlreadyRunning), applies ex's CPU-affinity placement, spawns f onto
// the default queue, and alternates running ready queues to quiescence
// with driving the reactor until f's JoinHandle resolves.
//
// Run is a free function (not a method) because Go forbids generic methods;
// T is inferred from f.
func Run[T any](ex *LocalExecutor, f Future[T]) (T, error) {
	var zero T

	gid := getGoroutineID()
	if !ex.boundGoroutine.CompareAndSwap(0, gid) {
		return zero, ErrAlreadyRunning
	}
	defer ex.boundGoroutine.Store(0)

	if err := ex.placement.apply(); err != nil {
		return zero, err
	}

	ex.logger.Debug().
		Uint64("executor", ex.id).
		Log("run loop started")

	h := spawnOn(ex, ex.defaultQueue, f)
	// A no-op waker: nothing external wakes the root handle, since Run
	// itself re-polls it every iteration.
	ctx := &Context{executor: ex}

	for {
		res, ready := h.Poll(ctx)
		if ready {
			ex.logger.Debug().
				Uint64("executor", ex.id).
				Log("run loop finished")
			return res.Value, res.Err
		}

		ex.runReadyQueues()

		if h.task.state.load().has(stateCompleted) {
			// The root finished during the drain: poll its handle again
			// before deciding whether to block in the reactor.
			continue
		}

		moreWork := ex.queues.hasPending()
		outstanding := ex.reactor.outstandingSources() > 0
		if !moreWork && !outstanding {
			// Zero runnable tasks, no outstanding sources, root future still
			// Pending: nothing can ever make progress again. Surfaced as an
			// error rather than hanging forever.
			ex.logger.Warning().
				Uint64("executor", ex.id).
				Log("run loop stalled with no runnable tasks and no outstanding I/O")
			return zero, ErrWouldHang
		}
		ex.reactor.drive(!moreWork)
	}
}
