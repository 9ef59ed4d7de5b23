package inference

import (
	"context"
	"sync/atomic"

	"github.com/nvr-ai/inference-lambda/fault"
)

// Lazy holds a process-wide value that is loaded once and read-only afterwards.
//
// The first Get runs the loader; concurrent callers wait until it returns and
// then share its result, or give up when their own context is done. A
// successful load is kept for the lifetime of the process. A failed load is not
// kept, so the next Get tries again.
type Lazy[T any] struct {
	// sem is a one-slot semaphore held while loading.
	sem   chan struct{}
	done  atomic.Bool
	value T
	load  func(context.Context) (T, error)
}

// NewLazy creates a Lazy that runs load on first use.
func NewLazy[T any](load func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{sem: make(chan struct{}, 1), load: load}
}

// Ready wraps a value that is already loaded, e.g. at process startup.
func Ready[T any](value T) *Lazy[T] {
	l := &Lazy[T]{sem: make(chan struct{}, 1), value: value}
	l.done.Store(true)
	return l
}

// Get returns the value, loading it if this is the first successful call.
//
// Arguments:
//   - ctx: Passed to the loader. A caller waiting for another caller's load
//     stops waiting when ctx is done.
//
// Returns:
//   - T: The loaded value.
//   - error: The loader's error, or an inference error wrapping ctx.Err() when
//     the wait was abandoned. Nothing is cached on failure.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if l.done.Load() {
		return l.value, nil
	}

	var zero T
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, fault.New(fault.KindInference, "inference.Lazy.Get", ctx.Err())
	}
	defer func() { <-l.sem }()

	if l.done.Load() {
		return l.value, nil
	}

	value, err := l.load(ctx)
	if err != nil {
		return zero, err
	}
	l.value = value
	l.done.Store(true)
	return value, nil
}

// Loaded reports whether the value has been loaded.
func (l *Lazy[T]) Loaded() bool {
	return l.done.Load()
}
