// ABOUTME: Two-slot optimistic value: a local override shadowing an authoritative base
// ABOUTME: Authoritative updates always win and clear any pending override

package optimistic

import "sync"

// Value holds an authoritative base value plus an optional local override.
// The override gives immediate UI feedback for an action whose server
// confirmation is still in flight; the next authoritative update clears it.
// Divergence between the two can therefore last at most one refresh cycle.
type Value[T any] struct {
	mu         sync.Mutex
	base       T
	override   T
	overridden bool
}

// New creates a Value with the given authoritative base.
func New[T any](base T) *Value[T] {
	return &Value[T]{base: base}
}

// Get returns the override when one is pending, the base otherwise.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.overridden {
		return v.override
	}
	return v.base
}

// Override installs a local value that shadows the base until the next
// authoritative update.
func (v *Value[T]) Override(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.override = val
	v.overridden = true
}

// Set installs a new authoritative value and discards any pending override,
// even when the override was installed after the action that produced this
// value. The server had the last word.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.base = val
	var zero T
	v.override = zero
	v.overridden = false
}

// Pending reports whether an override is currently shadowing the base.
func (v *Value[T]) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.overridden
}
