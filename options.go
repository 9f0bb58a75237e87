package ringrt

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// executorOptions holds configuration accumulated via ExecutorOption
// values: placement policy, submission queue depth, and logging.
type executorOptions struct {
	placement       Placement
	submissionDepth uint32
	logger          Logger
}

// ExecutorOption configures a LocalExecutor at construction time.
type ExecutorOption interface {
	applyExecutor(*executorOptions) error
}

type executorOptionFunc struct {
	fn func(*executorOptions) error
}

func (o *executorOptionFunc) applyExecutor(opts *executorOptions) error {
	return o.fn(opts)
}

// WithPlacement sets the CPU-affinity placement policy: Unbound (the
// default) or Fixed(cpuID).
func WithPlacement(p Placement) ExecutorOption {
	return &executorOptionFunc{func(opts *executorOptions) error {
		opts.placement = p
		return nil
	}}
}

// WithSubmissionQueueDepth sets the number of entries in the io_uring
// submission/completion rings. Defaults to 256 if unset or zero.
func WithSubmissionQueueDepth(depth uint32) ExecutorOption {
	return &executorOptionFunc{func(opts *executorOptions) error {
		opts.submissionDepth = depth
		return nil
	}}
}

// WithLogger attaches a structured logger, scoped per executor instance: a
// one-executor-per-core deployment has no single process-global "current"
// logger to mutate. Defaults to a no-op logger if unset.
func WithLogger(l Logger) ExecutorOption {
	return &executorOptionFunc{func(opts *executorOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithStumpyLogger is a convenience wrapper constructing a Logger backed by
// stumpy's JSON writer.
func WithStumpyLogger(writerOptions ...stumpy.Option) ExecutorOption {
	return WithLogger(newStumpyLogger(writerOptions...))
}

const defaultSubmissionQueueDepth = 256

func resolveExecutorOptions(opts []ExecutorOption) (*executorOptions, error) {
	cfg := &executorOptions{
		placement:       Unbound(),
		submissionDepth: defaultSubmissionQueueDepth,
		logger:          logiface.New[*stumpy.Event](), // no writer bound => disabled, nil-safe no-op
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.submissionDepth == 0 {
		cfg.submissionDepth = defaultSubmissionQueueDepth
	}
	if cfg.logger == nil {
		cfg.logger = logiface.New[*stumpy.Event]()
	}
	return cfg, nil
}
