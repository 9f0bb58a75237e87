package ringrt

import (
	"sync"
	"sync/atomic"
)

// QueueID identifies a TaskQueue created via LocalExecutor.CreateTaskQueue.
type QueueID uint64

const taskChunkSize = 128

// taskChunkPool recycles the linked-list nodes backing TaskQueue: fixed-size
// arrays for cache locality, pooled to avoid GC thrash under steady
// scheduling churn.
var taskChunkPool = sync.Pool{
	New: func() any { return &taskChunk{} },
}

type taskChunk struct {
	tasks   [taskChunkSize]*Task
	next    *taskChunk
	readPos int
	pos     int
}

func newTaskChunk() *taskChunk {
	c := taskChunkPool.Get().(*taskChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

func returnTaskChunk(c *taskChunk) {
	for i := 0; i < c.pos; i++ {
		c.tasks[i] = nil
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	taskChunkPool.Put(c)
}

// TaskQueue is a FIFO of runnable Tasks plus an active flag. push is safe to
// call from any goroutine: a foreign-thread Waker schedules through it. pop
// and empty are called only from the owning executor's goroutine; the active
// flag is shared via CAS between push and the executor's drain loop.
type TaskQueue struct {
	id      QueueID
	manager *QueueManager

	mu         sync.Mutex
	head, tail *taskChunk
	length     int

	active atomic.Bool
}

func newTaskQueue(id QueueID, manager *QueueManager) *TaskQueue {
	return &TaskQueue{id: id, manager: manager}
}

// ID returns the queue's identifier, as handed back by CreateTaskQueue.
func (q *TaskQueue) ID() QueueID { return q.id }

// push appends t to the FIFO and ensures the queue is registered as active
// with the QueueManager (a no-op if it already is).
func (q *TaskQueue) push(t *Task) {
	q.mu.Lock()
	if q.tail == nil {
		q.tail = newTaskChunk()
		q.head = q.tail
	}
	if q.tail.pos == taskChunkSize {
		next := newTaskChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.length++
	q.mu.Unlock()

	q.manager.maybeActivate(q)
}

// pop removes and returns the Task at the front of the FIFO. Called only
// from the executor thread.
func (q *TaskQueue) pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil {
		return nil, false
	}
	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return nil, false
		}
		old := q.head
		q.head = q.head.next
		returnTaskChunk(old)
	}
	if q.head.readPos >= q.head.pos {
		return nil, false
	}

	t := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = q.head.next
			returnTaskChunk(old)
		}
	}
	return t, true
}

func (q *TaskQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length == 0
}

// QueueManager tracks every TaskQueue an executor owns, the subset that is
// currently runnable, and which queue is mid-drain.
type QueueManager struct {
	nextID atomic.Uint64

	mu        sync.Mutex
	available map[QueueID]*TaskQueue
	pending   []*TaskQueue // FIFO of queues transitioned active, awaiting pickNext

	// executing is touched only by the executor's own goroutine: it records
	// which queue is currently being drained, so Spawn can default to the
	// currently executing queue.
	executing *TaskQueue

	// wake, if set, is called whenever a queue transitions inactive->active
	// (i.e. maybeActivate's CAS actually fired). LocalExecutor wires this to
	// its Reactor's wake method so a foreign-thread Waker scheduling a Task
	// can break the executor out of a blocking drive call.
	wake func()
}

func newQueueManager() *QueueManager {
	return &QueueManager{available: make(map[QueueID]*TaskQueue)}
}

// createQueue allocates a new, initially inactive TaskQueue.
func (m *QueueManager) createQueue() *TaskQueue {
	id := QueueID(m.nextID.Add(1))
	q := newTaskQueue(id, m)
	m.mu.Lock()
	m.available[id] = q
	m.mu.Unlock()
	return q
}

func (m *QueueManager) queue(id QueueID) (*TaskQueue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.available[id]
	return q, ok
}

// maybeActivate registers q as runnable if it wasn't already. The CAS on
// TaskQueue.active is what makes this safe to call from any goroutine that
// just pushed onto q.
func (m *QueueManager) maybeActivate(q *TaskQueue) {
	if !q.active.CompareAndSwap(false, true) {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, q)
	wake := m.wake
	m.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// pickNext pops one queue from the pending set. Queues are picked FIFO in
// activation order; within one queue, FIFO over tasks is provided by
// TaskQueue itself.
func (m *QueueManager) pickNext() *TaskQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	q := m.pending[0]
	m.pending = m.pending[1:]
	return q
}

// hasPending reports whether any TaskQueue is currently registered as
// runnable, used by Run to decide whether the reactor may block: it must
// not if any queue still holds runnable work.
func (m *QueueManager) hasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) != 0
}

// deactivate clears q's active flag once it has been drained empty. A
// foreign-thread push can land between the drain loop's final (empty) pop
// and the Store below; its maybeActivate CAS fails against the still-true
// flag, so re-check emptiness after clearing and reactivate if anything
// slipped in. A push that lands after the Store activates q on its own.
func (m *QueueManager) deactivate(q *TaskQueue) {
	q.active.Store(false)
	if !q.empty() {
		m.maybeActivate(q)
	}
}
