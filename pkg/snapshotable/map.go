package snapshotable

import (
	"sync/atomic"

	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/benbjohnson/immutable"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rotisserie/eris"
)

// Map is a double-buffered map. Writes go to a concurrent live map and mark the key dirty. The
// snapshot is a persistent map, so copying touches only dirty keys and the published view never
// changes underneath a reader.
type Map[K comparable, V any] struct {
	stages   *tickstage.Tracker
	live     *xsync.MapOf[K, V]
	snapshot atomic.Pointer[immutable.Map[K, V]]
	dirty    dirtyQueue[K]
}

var _ Snapshotable = (*Map[string, int])(nil)

type mapConfig[K comparable] struct {
	hasher immutable.Hasher[K]
}

type MapOption[K comparable] func(*mapConfig[K])

// WithHasher sets the hasher of the snapshot map. It is required for keys that are not integers
// or strings.
func WithHasher[K comparable](h immutable.Hasher[K]) MapOption[K] {
	return func(c *mapConfig[K]) {
		c.hasher = h
	}
}

func NewMap[K comparable, V any](m *Manager, opts ...MapOption[K]) *Map[K, V] {
	mp := newMap[K, V](m.Stages(), opts...)
	m.mustRegister(mp)
	return mp
}

// newMap creates a map that is not registered with any manager.
func newMap[K comparable, V any](stages *tickstage.Tracker, opts ...MapOption[K]) *Map[K, V] {
	var cfg mapConfig[K]
	for _, opt := range opts {
		opt(&cfg)
	}

	mp := &Map[K, V]{
		stages: stages,
		live:   xsync.NewMapOf[K, V](),
		dirty:  newDirtyQueue[K](),
	}
	mp.snapshot.Store(immutable.NewMap[K, V](cfg.hasher))
	return mp
}

// Put stores value under key and returns the previous live value, if any.
func (m *Map[K, V]) Put(key K, value V) (old V, existed bool) {
	old, existed = m.live.LoadAndStore(key, value)
	m.dirty.mark(key)
	if !existed {
		var zero V
		return zero, false
	}
	return old, true
}

// PutIfAbsent stores value only if key has no live value. It returns the live value after the
// call and whether it was already present.
func (m *Map[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool) {
	actual, loaded = m.live.LoadOrStore(key, value)
	if !loaded {
		m.dirty.mark(key)
	}
	return actual, loaded
}

// Remove deletes key from the live map and returns the value it held.
func (m *Map[K, V]) Remove(key K) (old V, existed bool) {
	old, existed = m.live.LoadAndDelete(key)
	if !existed {
		var zero V
		return zero, false
	}
	m.dirty.mark(key)
	return old, true
}

// Get returns the snapshot value of key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.snapshot.Load().Get(key)
}

// Len returns the snapshot size.
func (m *Map[K, V]) Len() int {
	return m.snapshot.Load().Len()
}

// Snapshot returns the read-only snapshot view. The view stays valid after later copies.
func (m *Map[K, V]) Snapshot() View[K, V] {
	return View[K, V]{m: m.snapshot.Load()}
}

// LiveValue returns the live value of key.
func (m *Map[K, V]) LiveValue(key K) (V, bool) {
	return m.live.Load(key)
}

// LiveLen returns the live size.
func (m *Map[K, V]) LiveLen() int {
	return m.live.Size()
}

// RangeLive calls fn for every live entry until fn returns false. Entries written concurrently may
// or may not be visited.
func (m *Map[K, V]) RangeLive(fn func(K, V) bool) {
	m.live.Range(fn)
}

// DirtyKeys returns the keys changed since the last copy, once each, in first-seen order. It is
// only legal during PreSnapshot.
func (m *Map[K, V]) DirtyKeys() ([]K, error) {
	if err := m.stages.Check(tickstage.Of(tickstage.PreSnapshot)); err != nil {
		return nil, eris.Wrap(err, "dirty keys are only available during pre-snapshot")
	}
	return m.dirty.keys(), nil
}

func (m *Map[K, V]) CopySnapshot() {
	keys := m.dirty.drain()
	if len(keys) == 0 {
		return
	}

	snap := m.snapshot.Load()
	for _, key := range keys {
		if value, ok := m.live.Load(key); ok {
			snap = snap.Set(key, value)
		} else {
			snap = snap.Delete(key)
		}
	}
	m.snapshot.Store(snap)
}

// -------------------------------------------------------------------------------------------------
// View
// -------------------------------------------------------------------------------------------------

// View is an immutable snapshot of a Map.
type View[K comparable, V any] struct {
	m *immutable.Map[K, V]
}

func (v View[K, V]) Get(key K) (V, bool) {
	return v.m.Get(key)
}

func (v View[K, V]) Has(key K) bool {
	_, ok := v.m.Get(key)
	return ok
}

func (v View[K, V]) Len() int {
	return v.m.Len()
}

// Range calls fn for every entry until fn returns false. Iteration order is unspecified.
func (v View[K, V]) Range(fn func(K, V) bool) {
	itr := v.m.Iterator()
	for !itr.Done() {
		key, value, _ := itr.Next()
		if !fn(key, value) {
			return
		}
	}
}

func (v View[K, V]) Keys() []K {
	keys := make([]K, 0, v.m.Len())
	v.Range(func(key K, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (v View[K, V]) Values() []V {
	values := make([]V, 0, v.m.Len())
	v.Range(func(_ K, value V) bool {
		values = append(values, value)
		return true
	})
	return values
}

// ToMap copies the view into a plain map.
func (v View[K, V]) ToMap() map[K]V {
	out := make(map[K]V, v.m.Len())
	v.Range(func(key K, value V) bool {
		out[key] = value
		return true
	})
	return out
}
