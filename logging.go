package ringrt

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger shape the executor and reactor accept,
// scoped per executor instance (see WithLogger).
//
// A Logger built with no writer (logiface.New[*stumpy.Event]() with zero
// options) is a valid, fully no-op default: every Builder method on it is a
// nil-safe no-op, per logiface's own design.
type Logger = *logiface.Logger[*stumpy.Event]

// newStumpyLogger builds a Logger backed by stumpy's JSON writer.
func newStumpyLogger(opts ...stumpy.Option) Logger {
	return logiface.New[*stumpy.Event](stumpy.WithStumpy(opts...))
}
