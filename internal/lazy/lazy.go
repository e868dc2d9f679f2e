// Package lazy provides a value that is built on first use and then cached
// for the lifetime of the process.
package lazy

import (
	"context"
	"sync"
	"sync/atomic"
)

// Value builds a T once using double-checked locking. A failed build is not
// cached, so the next Get retries it.
type Value[T any] struct {
	build func(ctx context.Context) (T, error)

	ready atomic.Bool
	mu    sync.Mutex
	val   T
}

// New returns a Value that calls build on the first successful Get.
func New[T any](build func(ctx context.Context) (T, error)) *Value[T] {
	return &Value[T]{build: build}
}

// Get returns the cached value, building it if needed. Concurrent callers
// wait for a single build.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if v.ready.Load() {
		return v.val, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ready.Load() {
		return v.val, nil
	}

	val, err := v.build(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v.val = val
	v.ready.Store(true)
	return val, nil
}

// Loaded reports whether the value has been built.
func (v *Value[T]) Loaded() bool {
	return v.ready.Load()
}
