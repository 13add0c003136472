package snapshotable

import "sync/atomic"

// Bool is a double-buffered boolean.
type Bool struct {
	live     atomic.Bool
	snapshot atomic.Bool
}

var _ Snapshotable = (*Bool)(nil)

func NewBool(m *Manager, initial bool) *Bool {
	b := &Bool{}
	b.live.Store(initial)
	b.snapshot.Store(initial)
	m.mustRegister(b)
	return b
}

func (b *Bool) Set(v bool) {
	b.live.Store(v)
}

func (b *Bool) CompareAndSet(expect, update bool) bool {
	return b.live.CompareAndSwap(expect, update)
}

func (b *Bool) Get() bool {
	return b.snapshot.Load()
}

func (b *Bool) Live() bool {
	return b.live.Load()
}

func (b *Bool) IsDirty() bool {
	return b.live.Load() != b.snapshot.Load()
}

func (b *Bool) CopySnapshot() {
	b.snapshot.Store(b.live.Load())
}

// Int64 is a double-buffered integer.
type Int64 struct {
	live     atomic.Int64
	snapshot atomic.Int64
}

var _ Snapshotable = (*Int64)(nil)

func NewInt64(m *Manager, initial int64) *Int64 {
	i := &Int64{}
	i.live.Store(initial)
	i.snapshot.Store(initial)
	m.mustRegister(i)
	return i
}

func (i *Int64) Set(v int64) {
	i.live.Store(v)
}

// Add adds delta to the live value and returns the new live value.
func (i *Int64) Add(delta int64) int64 {
	return i.live.Add(delta)
}

func (i *Int64) CompareAndSet(expect, update int64) bool {
	return i.live.CompareAndSwap(expect, update)
}

func (i *Int64) Get() int64 {
	return i.snapshot.Load()
}

func (i *Int64) Live() int64 {
	return i.live.Load()
}

func (i *Int64) IsDirty() bool {
	return i.live.Load() != i.snapshot.Load()
}

func (i *Int64) CopySnapshot() {
	i.snapshot.Store(i.live.Load())
}
