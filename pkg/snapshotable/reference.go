package snapshotable

import "sync/atomic"

// cell boxes a value so that every store publishes a fresh pointer. Updates compare cells by
// identity, never by value.
type cell[T comparable] struct {
	v T
}

// Reference is a single double-buffered value.
//
// CompareAndSet compares values with ==, so T must not be an interface type holding a value whose
// dynamic type is not comparable. Update and Set never compare values and accept any T.
type Reference[T comparable] struct {
	live     atomic.Pointer[cell[T]]
	snapshot atomic.Pointer[cell[T]]
}

var _ Snapshotable = (*Reference[int])(nil)

// NewReference creates a reference whose live and snapshot values both start at initial.
func NewReference[T comparable](m *Manager, initial T) *Reference[T] {
	r := &Reference[T]{}
	c := &cell[T]{v: initial}
	r.live.Store(c)
	r.snapshot.Store(c)
	m.mustRegister(r)
	return r
}

// Set overwrites the live value.
func (r *Reference[T]) Set(v T) {
	r.live.Store(&cell[T]{v: v})
}

// CompareAndSet replaces the live value with update if it currently equals expect. A value that is
// not equal to itself, such as a struct holding a NaN, never matches.
func (r *Reference[T]) CompareAndSet(expect, update T) bool {
	next := &cell[T]{v: update}
	for {
		old := r.live.Load()
		if old.v != expect {
			return false
		}
		if r.live.CompareAndSwap(old, next) {
			return true
		}
	}
}

// Update applies fn to the live value until it wins the compare-and-set, and returns the value it
// stored. fn may run more than once.
func (r *Reference[T]) Update(fn func(T) T) T {
	for {
		old := r.live.Load()
		next := &cell[T]{v: fn(old.v)}
		if r.live.CompareAndSwap(old, next) {
			return next.v
		}
	}
}

// Get returns the snapshot value.
func (r *Reference[T]) Get() T {
	return r.snapshot.Load().v
}

// Live returns the current live value. It can be stale by the time it returns and must not drive
// logic that needs a consistent view.
func (r *Reference[T]) Live() T {
	return r.live.Load().v
}

// IsDirty reports whether the live value differs from the snapshot.
func (r *Reference[T]) IsDirty() bool {
	live, snapshot := r.live.Load(), r.snapshot.Load()
	return live != snapshot && live.v != snapshot.v
}

func (r *Reference[T]) CopySnapshot() {
	r.snapshot.Store(r.live.Load())
}
