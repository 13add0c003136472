package snapshotable

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/rotisserie/eris"
)

type listOp uint8

const (
	listAppend      listOp = iota // Bare object, appended
	listInsert                    // (index, object), positional insert
	listRemoveValue               // Bare object, first occurrence removed
	listRemoveIndex               // Bare index, positional remove
)

// listUpdate is one queued change to a List. value is carried for every op so the dirty list can
// report what was touched; replay of listRemoveIndex only uses index.
type listUpdate[T comparable] struct {
	op    listOp
	index int
	value T
}

// List is a double-buffered ordered list. The live side is copy-on-write: every mutation
// publishes a new slice, so readers of Live never see a slice that is being modified. Mutations
// are also queued in order and replayed against the snapshot at copy time.
type List[T comparable] struct {
	stages   *tickstage.Tracker
	live     atomic.Pointer[[]T]
	snapshot atomic.Pointer[[]T]

	mu      sync.Mutex // Serializes writers and guards updates
	updates []listUpdate[T]
	dirty   []T
	cached  bool
}

var _ Snapshotable = (*List[int])(nil)

func NewList[T comparable](m *Manager, initial ...T) *List[T] {
	l := &List[T]{stages: m.Stages()}
	live := slices.Clone(initial)
	snapshot := slices.Clone(initial)
	l.live.Store(&live)
	l.snapshot.Store(&snapshot)
	m.mustRegister(l)
	return l
}

// Add appends value to the live list.
func (l *List[T]) Add(value T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.live.Load()
	next := append(slices.Clip(cur), value)
	l.live.Store(&next)
	l.updates = append(l.updates, listUpdate[T]{op: listAppend, value: value})
}

// Insert inserts value at index of the live list.
func (l *List[T]) Insert(index int, value T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.live.Load()
	if index < 0 || index > len(cur) {
		return eris.Wrapf(ErrIndexOutOfRange, "insert at %d, length %d", index, len(cur))
	}
	next := slices.Insert(slices.Clone(cur), index, value)
	l.live.Store(&next)
	l.updates = append(l.updates, listUpdate[T]{op: listInsert, index: index, value: value})
	return nil
}

// Remove removes the first occurrence of value from the live list and reports whether it was
// present.
func (l *List[T]) Remove(value T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.live.Load()
	idx := slices.Index(cur, value)
	if idx < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), idx, idx+1)
	l.live.Store(&next)
	l.updates = append(l.updates, listUpdate[T]{op: listRemoveValue, value: value})
	return true
}

// RemoveAt removes and returns the element at index of the live list.
func (l *List[T]) RemoveAt(index int) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero T
	cur := *l.live.Load()
	if index < 0 || index >= len(cur) {
		return zero, eris.Wrapf(ErrIndexOutOfRange, "remove at %d, length %d", index, len(cur))
	}
	removed := cur[index]
	next := slices.Delete(slices.Clone(cur), index, index+1)
	l.live.Store(&next)
	l.updates = append(l.updates, listUpdate[T]{op: listRemoveIndex, index: index, value: removed})
	return removed, nil
}

// Snapshot returns the snapshot list. Callers must not modify it.
func (l *List[T]) Snapshot() []T {
	return *l.snapshot.Load()
}

// At returns the snapshot element at index.
func (l *List[T]) At(index int) (T, error) {
	snap := l.Snapshot()
	if index < 0 || index >= len(snap) {
		var zero T
		return zero, eris.Wrapf(ErrIndexOutOfRange, "index %d, length %d", index, len(snap))
	}
	return snap[index], nil
}

func (l *List[T]) Len() int {
	return len(l.Snapshot())
}

// Live returns the current live list. Callers must not modify it.
func (l *List[T]) Live() []T {
	return *l.live.Load()
}

// DirtyValues returns the values added or removed since the last copy, once each, in the order
// they were first touched. Only legal during PreSnapshot.
func (l *List[T]) DirtyValues() ([]T, error) {
	if err := l.stages.Check(tickstage.Of(tickstage.PreSnapshot)); err != nil {
		return nil, eris.Wrap(err, "dirty values are only available during pre-snapshot")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cached {
		seen := make(map[T]struct{}, len(l.updates))
		l.dirty = make([]T, 0, len(l.updates))
		for _, u := range l.updates {
			if _, ok := seen[u.value]; ok {
				continue
			}
			seen[u.value] = struct{}{}
			l.dirty = append(l.dirty, u.value)
		}
		l.cached = true
	}
	return l.dirty, nil
}

// CopySnapshot replays the queued updates, oldest first, against a copy of the snapshot.
func (l *List[T]) CopySnapshot() {
	l.mu.Lock()
	updates := l.updates
	l.updates = nil
	l.dirty = nil
	l.cached = false
	l.mu.Unlock()

	if len(updates) == 0 {
		return
	}

	next := slices.Clone(l.Snapshot())
	for _, u := range updates {
		switch u.op {
		case listAppend:
			next = append(next, u.value)
		case listInsert:
			next = slices.Insert(next, u.index, u.value)
		case listRemoveValue:
			if idx := slices.Index(next, u.value); idx >= 0 {
				next = slices.Delete(next, idx, idx+1)
			}
		case listRemoveIndex:
			next = slices.Delete(next, u.index, u.index+1)
		}
	}
	l.snapshot.Store(&next)
}
