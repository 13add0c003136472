package snapshotable

import (
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// dirtyQueue records the keys changed since the last copy, once each, in first-seen order.
//
// A key is appended only by the writer that wins the insert into seen. drain swaps the order out
// first and only then forgets the keys, so a write that lands after a key is forgotten marks it
// again for the next copy instead of being lost.
type dirtyQueue[K comparable] struct {
	seen *xsync.MapOf[K, struct{}]

	mu     sync.Mutex
	order  []K
	list   []K // Cached copy of order handed out during PreSnapshot
	cached bool
}

func newDirtyQueue[K comparable]() dirtyQueue[K] {
	return dirtyQueue[K]{seen: xsync.NewMapOf[K, struct{}]()}
}

func (q *dirtyQueue[K]) mark(key K) {
	if _, loaded := q.seen.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	q.mu.Lock()
	q.order = append(q.order, key)
	q.mu.Unlock()
}

// keys returns the dirty keys, building the list once per synchronization window.
func (q *dirtyQueue[K]) keys() []K {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.cached {
		q.list = slices.Clone(q.order)
		q.cached = true
	}
	return q.list
}

// drain empties the queue and returns the keys that were in it.
func (q *dirtyQueue[K]) drain() []K {
	q.mu.Lock()
	keys := q.order
	q.order = nil
	q.list = nil
	q.cached = false
	q.mu.Unlock()

	for _, key := range keys {
		q.seen.Delete(key)
	}
	return keys
}

func (q *dirtyQueue[K]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
