package snapshotable

import (
	"slices"
	"sync/atomic"

	"github.com/argus-labs/tickcore/pkg/assert"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/rotisserie/eris"
)

// DefaultDirtyCapacity is the number of distinct indexes a ByteArray tracks between copies before
// it gives up and copies the whole array.
const DefaultDirtyCapacity = 100

// ByteArray is a fixed-length double-buffered byte array optimized for sparse writes.
//
// Live bytes are packed four to a word and written with compare-and-swap. The first write to an
// index since the last copy records the index in a fixed-size buffer. Copying merges only the
// recorded indexes, unless more distinct indexes were written than the buffer holds, in which case
// the whole array is copied.
type ByteArray struct {
	stages   *tickstage.Tracker
	length   int
	live     []atomic.Uint32
	snapshot atomic.Pointer[[]byte]

	dirtyBits  []atomic.Uint64 // One bit per index, set while the index is recorded
	dirtySlots []atomic.Int32  // Recorded index + 1; 0 means the writer has not filled it in yet
	dirtyCount atomic.Int32
}

var _ Snapshotable = (*ByteArray)(nil)

type byteArrayConfig struct {
	dirtyCapacity int
}

type ByteArrayOption func(*byteArrayConfig)

// WithDirtyCapacity sets how many distinct indexes are tracked before copies fall back to a full
// array copy.
func WithDirtyCapacity(n int) ByteArrayOption {
	return func(c *byteArrayConfig) {
		c.dirtyCapacity = n
	}
}

// NewByteArray creates a byte array holding a copy of initial.
func NewByteArray(m *Manager, initial []byte, opts ...ByteArrayOption) *ByteArray {
	cfg := byteArrayConfig{dirtyCapacity: DefaultDirtyCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	assert.That(cfg.dirtyCapacity > 0, "dirty capacity must be positive, got %d", cfg.dirtyCapacity)

	a := &ByteArray{
		stages:     m.Stages(),
		length:     len(initial),
		live:       make([]atomic.Uint32, (len(initial)+3)/4),
		dirtyBits:  make([]atomic.Uint64, (len(initial)+63)/64),
		dirtySlots: make([]atomic.Int32, cfg.dirtyCapacity),
	}
	for i, b := range initial {
		w := &a.live[i>>2]
		w.Store(w.Load() | uint32(b)<<byteShift(i))
	}
	snapshot := slices.Clone(initial)
	a.snapshot.Store(&snapshot)
	m.mustRegister(a)
	return a
}

func byteShift(index int) uint {
	return uint(index&3) * 8 //nolint:gosec // index&3 is in [0, 3]
}

func (a *ByteArray) Len() int {
	return a.length
}

// DirtyCapacity returns the number of distinct indexes tracked between copies.
func (a *ByteArray) DirtyCapacity() int {
	return len(a.dirtySlots)
}

// Set writes value at index of the live array and returns the previous live value.
func (a *ByteArray) Set(index int, value byte) byte {
	a.checkIndex(index)
	w := &a.live[index>>2]
	shift := byteShift(index)
	for {
		word := w.Load()
		old := byte(word >> shift)
		if old == value {
			return old
		}
		next := word&^(0xff<<shift) | uint32(value)<<shift
		if w.CompareAndSwap(word, next) {
			a.markDirty(index)
			return old
		}
	}
}

// CompareAndSet writes update at index if the live value equals expect.
func (a *ByteArray) CompareAndSet(index int, expect, update byte) bool {
	a.checkIndex(index)
	w := &a.live[index>>2]
	shift := byteShift(index)
	for {
		word := w.Load()
		if byte(word>>shift) != expect {
			return false
		}
		if expect == update {
			return true
		}
		next := word&^(0xff<<shift) | uint32(update)<<shift
		if w.CompareAndSwap(word, next) {
			a.markDirty(index)
			return true
		}
	}
}

// Get returns the snapshot value at index.
func (a *ByteArray) Get(index int) byte {
	a.checkIndex(index)
	return (*a.snapshot.Load())[index]
}

// Live returns the live value at index.
func (a *ByteArray) Live(index int) byte {
	a.checkIndex(index)
	return byte(a.live[index>>2].Load() >> byteShift(index))
}

// Snapshot returns the snapshot array. Callers must not modify it.
func (a *ByteArray) Snapshot() []byte {
	return *a.snapshot.Load()
}

// DirtyIndexes returns the indexes written since the last copy. overflow is true when more
// distinct indexes were written than the dirty buffer holds; indexes is then nil and the next
// copy is a full copy. Only legal during PreSnapshot.
func (a *ByteArray) DirtyIndexes() (indexes []int, overflow bool, err error) {
	if err := a.stages.Check(tickstage.Of(tickstage.PreSnapshot)); err != nil {
		return nil, false, eris.Wrap(err, "dirty indexes are only available during pre-snapshot")
	}

	n := int(a.dirtyCount.Load())
	if n > len(a.dirtySlots) {
		return nil, true, nil
	}
	indexes = make([]int, 0, n)
	for i := range n {
		if slot := a.dirtySlots[i].Load(); slot > 0 {
			indexes = append(indexes, int(slot-1))
		}
	}
	return indexes, false, nil
}

func (a *ByteArray) markDirty(index int) {
	mask := uint64(1) << (index & 63)
	if a.dirtyBits[index>>6].Or(mask)&mask != 0 {
		return
	}
	n := int(a.dirtyCount.Add(1))
	if n <= len(a.dirtySlots) {
		a.dirtySlots[n-1].Store(int32(index + 1)) //nolint:gosec // arrays are far smaller than 2^31
	}
}

func (a *ByteArray) CopySnapshot() {
	n := int(a.dirtyCount.Swap(0))
	if n == 0 {
		return
	}

	next := slices.Clone(*a.snapshot.Load())
	full := n > len(a.dirtySlots)
	if !full {
		for i := range n {
			slot := a.dirtySlots[i].Swap(0)
			if slot == 0 {
				// A writer is between counting itself and recording its index.
				full = true
				continue
			}
			index := int(slot - 1)
			a.dirtyBits[index>>6].And(^(uint64(1) << (index & 63)))
			next[index] = a.Live(index)
		}
	}
	if full {
		for i := range a.dirtySlots {
			a.dirtySlots[i].Store(0)
		}
		for i := range a.dirtyBits {
			a.dirtyBits[i].Store(0)
		}
		for i := range next {
			next[i] = a.Live(i)
		}
	}
	a.snapshot.Store(&next)
}

func (a *ByteArray) checkIndex(index int) {
	assert.That(index >= 0 && index < a.length, "byte array index %d out of range [0, %d)", index, a.length)
}
