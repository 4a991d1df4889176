// Package inflight provides a per-key memoizing cache that collapses
// concurrent computations for the same key into a single call.
//
// A key moves through three states: absent, pending (one call in flight,
// every concurrent caller waits on it) and completed (the value is stored
// and returned without further calls). A failed call returns the key to
// absent, so the next caller retries instead of seeing a cached failure.
package inflight

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group memoizes successful results per key. The zero value is not usable;
// create one with [New].
//
// Group is safe for concurrent use by multiple goroutines.
type Group[V any] struct {
	mu     sync.RWMutex
	values map[string]V
	calls  singleflight.Group
}

// New returns an empty Group.
func New[V any]() *Group[V] {
	return &Group[V]{values: make(map[string]V)}
}

// Do returns the stored value for key, or runs fn to produce it. While fn
// runs, concurrent Do calls for the same key wait for it and receive the
// same value and error. Only a nil-error result is stored.
//
// fn receives a context detached from the caller's cancellation: the call
// is shared, so one waiter giving up must not fail the others. Values
// carried by ctx (trace spans, loggers) are preserved.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := g.Load(key); ok {
		return v, nil
	}

	shared := context.WithoutCancel(ctx)
	res, err, _ := g.calls.Do(key, func() (any, error) {
		// A call that settled between Load and Do has already stored
		// its value.
		if v, ok := g.Load(key); ok {
			return v, nil
		}
		v, err := fn(shared)
		if err != nil {
			return v, err
		}
		g.mu.Lock()
		g.values[key] = v
		g.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Load returns the stored value for key, if any.
func (g *Group[V]) Load(key string) (V, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[key]
	return v, ok
}

// Len returns the number of stored values.
func (g *Group[V]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.values)
}
