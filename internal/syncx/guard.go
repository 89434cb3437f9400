// Package syncx provides the single-lock guard used for state shared between
// the pipeline loop and the HTTP control surface.
package syncx

import "sync"

// Guard protects a value with one RWMutex. Callbacks run with the lock held
// and must not block on I/O.
type Guard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *Guard[T] {
	return &Guard[T]{value: initial}
}

// Read runs fn under the read lock.
func (g *Guard[T]) Read(fn func(*T)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(&g.value)
}

// Write runs fn under the write lock.
func (g *Guard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a copy of the value (T should be a value type or immutable).
func (g *Guard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value.
func (g *Guard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap replaces and returns the old value.
func (g *Guard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// View runs fn under the read lock and returns its result.
func View[T, R any](g *Guard[T], fn func(*T) R) R {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(&g.value)
}

// Mutate runs fn under the write lock and returns its result.
func Mutate[T, R any](g *Guard[T], fn func(*T) R) R {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}
