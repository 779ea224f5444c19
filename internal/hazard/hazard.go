// Package hazard implements a hazard-pointer registry: a lock-free way for
// any number of readers to advertise "I may be dereferencing this node" so
// that a single reclaiming writer can tell whether a candidate-for-free
// node is still in use by someone.
//
// Slots are pooled and never freed for the life of the process; acquire
// reuses an inactive slot before allocating a new one.
package hazard

import "sync/atomic"

// Pointer is a single hazard slot. The zero value is inactive and unused;
// slots are created by Registry.Acquire.
type Pointer[T any] struct {
	active atomic.Bool
	hazard atomic.Pointer[T]
	next   atomic.Pointer[Pointer[T]]
}

// Remember publishes ptr as the node this slot's owner may be
// dereferencing. Go's atomic operations are sequentially consistent, which
// is at least as strong as the release ordering the protocol requires.
func (p *Pointer[T]) Remember(ptr *T) {
	p.hazard.Store(ptr)
}

// Release retracts the slot's published pointer and returns the slot to
// the pool. The hazard must be cleared before the slot is marked inactive,
// otherwise a racing Acquire could hand the slot to a new owner while the
// old pointer is still (briefly) visible to Contains.
func (p *Pointer[T]) Release() {
	p.hazard.Store(nil)
	p.active.Store(false)
}

// Registry is a lock-free singly-linked list of pooled hazard slots.
type Registry[T any] struct {
	head atomic.Pointer[Pointer[T]]
}

// NewRegistry returns an empty hazard-pointer registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Acquire returns a slot owned exclusively by the caller until Release is
// called on it. It first scans for an inactive pooled slot and claims it
// with a compare-and-swap; if none is free, it allocates a new slot and
// prepends it to the list.
func (r *Registry[T]) Acquire() *Pointer[T] {
	for p := r.head.Load(); p != nil; p = p.next.Load() {
		if p.active.Load() {
			continue
		}
		if p.active.CompareAndSwap(false, true) {
			return p
		}
	}

	p := &Pointer[T]{}
	p.active.Store(true)
	for {
		head := r.head.Load()
		p.next.Store(head)
		if r.head.CompareAndSwap(head, p) {
			return p
		}
	}
}

// Contains reports whether any active slot currently advertises ptr. A
// false positive (slot just released) is benign; a false negative between
// a matching Remember and Release is forbidden by construction, since
// every call observes the slot list with sequential consistency.
func (r *Registry[T]) Contains(ptr *T) bool {
	if ptr == nil {
		return false
	}
	for p := r.head.Load(); p != nil; p = p.next.Load() {
		if !p.active.Load() {
			continue
		}
		if p.hazard.Load() == ptr {
			return true
		}
	}
	return false
}
