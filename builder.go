package ringrt

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Placement is the CPU-affinity policy for a LocalExecutor's OS thread:
// either Unbound (no affinity set) or Fixed (the thread is pinned to
// exactly one CPU). The recommended deployment is one executor per CPU,
// each Fixed to its core, so that no two executors ever share a runqueue.
type Placement struct {
	fixed bool
	cpu   int
}

// Unbound is the default placement: no affinity mask is set, and the
// executor's thread may migrate freely across CPUs.
func Unbound() Placement { return Placement{} }

// Fixed pins the executor's OS thread to exactly cpu.
func Fixed(cpu int) Placement { return Placement{fixed: true, cpu: cpu} }

// apply locks the calling goroutine to its OS thread and sets that thread's
// affinity mask to exactly the requested CPU. Must be called from the
// goroutine that will become the executor's run loop, before any blocking
// reactor call (Run does this before spawning the root future).
func (p Placement) apply() error {
	if !p.fixed {
		return nil
	}
	runtime.LockOSThread()
	var mask unix.CPUSet
	mask.Set(p.cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		return fmt.Errorf("ringrt: pin to CPU %d: %w", p.cpu, err)
	}
	return nil
}

// CurrentCPU reports the CPU the calling OS thread is currently pinned to,
// by re-querying its affinity mask. fixed is false if the mask names
// anything other than exactly one CPU.
func CurrentCPU() (cpu int, fixed bool, err error) {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return 0, false, fmt.Errorf("ringrt: query CPU affinity: %w", err)
	}
	if mask.Count() != 1 {
		return 0, false, nil
	}
	for i := 0; i < len(mask)*64; i++ {
		if mask.IsSet(i) {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// NewLocalExecutor constructs a LocalExecutor, applying the given options
// (placement, submission queue depth, logger). Construction allocates the
// Reactor's io_uring instance immediately; Close must be called to release
// it.
func NewLocalExecutor(opts ...ExecutorOption) (*LocalExecutor, error) {
	cfg, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}

	reactor, err := newReactor(cfg.submissionDepth, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("ringrt: create reactor: %w", err)
	}

	ex := &LocalExecutor{
		id:        nextExecutorID(),
		placement: cfg.placement,
		logger:    cfg.logger,
		queues:    newQueueManager(),
		reactor:   reactor,
	}
	ex.queues.wake = reactor.wake
	ex.defaultQueue = ex.queues.createQueue()
	return ex, nil
}
