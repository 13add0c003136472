package snapshotable

import "github.com/rotisserie/eris"

// Set is a double-buffered set built on Map.
type Set[T comparable] struct {
	m *Map[T, struct{}]
}

var _ Snapshotable = (*Set[int])(nil)

func NewSet[T comparable](m *Manager, opts ...MapOption[T]) *Set[T] {
	s := &Set[T]{m: newMap[T, struct{}](m.Stages(), opts...)}
	m.mustRegister(s)
	return s
}

// Add adds value to the live set and reports whether it was newly added.
func (s *Set[T]) Add(value T) bool {
	_, loaded := s.m.PutIfAbsent(value, struct{}{})
	return !loaded
}

// Remove removes value from the live set and reports whether it was present.
func (s *Set[T]) Remove(value T) bool {
	_, existed := s.m.Remove(value)
	return existed
}

// Contains reports whether value is in the snapshot.
func (s *Set[T]) Contains(value T) bool {
	_, ok := s.m.Get(value)
	return ok
}

// LiveContains reports whether value is in the live set.
func (s *Set[T]) LiveContains(value T) bool {
	_, ok := s.m.LiveValue(value)
	return ok
}

// Len returns the snapshot size.
func (s *Set[T]) Len() int {
	return s.m.Len()
}

func (s *Set[T]) LiveLen() int {
	return s.m.LiveLen()
}

// Items returns the snapshot members in unspecified order.
func (s *Set[T]) Items() []T {
	return s.m.Snapshot().Keys()
}

// RangeLive calls fn for every live member until fn returns false.
func (s *Set[T]) RangeLive(fn func(T) bool) {
	s.m.RangeLive(func(value T, _ struct{}) bool {
		return fn(value)
	})
}

// DirtyKeys returns the members added or removed since the last copy. Only legal during
// PreSnapshot.
func (s *Set[T]) DirtyKeys() ([]T, error) {
	keys, err := s.m.DirtyKeys()
	if err != nil {
		return nil, eris.Wrap(err, "set")
	}
	return keys, nil
}

func (s *Set[T]) CopySnapshot() {
	s.m.CopySnapshot()
}
