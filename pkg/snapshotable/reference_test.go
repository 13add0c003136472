package snapshotable_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/stretchr/testify/assert"
)

func TestReference_SnapshotStableUnderConcurrentWrites(t *testing.T) {
	t.Parallel()

	m := snapshotable.NewManager(tickstage.NewTracker())
	ref := snapshotable.NewReference(m, -1)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				ref.Set(w*1000 + i)
			}
		}()
	}
	for range 1000 {
		assert.Equal(t, -1, ref.Get())
	}
	wg.Wait()

	last := ref.Live()
	m.CopyAll()
	assert.Equal(t, last, ref.Get())
	assert.False(t, ref.IsDirty())
}

func TestReference_CompareAndSet(t *testing.T) {
	t.Parallel()

	m := snapshotable.NewManager(tickstage.NewTracker())
	ref := snapshotable.NewReference(m, "owner-a")

	assert.False(t, ref.CompareAndSet("owner-b", "owner-c"))
	assert.True(t, ref.CompareAndSet("owner-a", "owner-b"))
	assert.Equal(t, "owner-b", ref.Live())
	assert.Equal(t, "owner-a", ref.Get())
	assert.True(t, ref.IsDirty())
}

func TestReference_NilPointer(t *testing.T) {
	t.Parallel()

	type owner struct{ name string }
	m := snapshotable.NewManager(tickstage.NewTracker())
	ref := snapshotable.NewReference[*owner](m, nil)
	assert.Nil(t, ref.Get())

	o := &owner{name: "r0"}
	assert.True(t, ref.CompareAndSet(nil, o))
	m.CopyAll()
	assert.Same(t, o, ref.Get())

	ref.Set(nil)
	m.CopyAll()
	assert.Nil(t, ref.Get())
}

func TestReference_UpdateIsAtomic(t *testing.T) {
	t.Parallel()

	m := snapshotable.NewManager(tickstage.NewTracker())
	ref := snapshotable.NewReference(m, 0)

	const goroutines, increments = 16, 500
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				ref.Update(func(v int) int { return v + 1 })
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, ref.Get())
	m.CopyAll()
	assert.Equal(t, goroutines*increments, ref.Get())
}

func TestReference_UpdateWithNaN(t *testing.T) {
	t.Parallel()

	type point struct{ X, Y float64 }
	m := snapshotable.NewManager(tickstage.NewTracker())
	ref := snapshotable.NewReference(m, point{X: math.NaN()})

	done := make(chan point)
	go func() {
		done <- ref.Update(func(p point) point {
			p.Y = 2
			return p
		})
	}()
	select {
	case got := <-done:
		assert.True(t, math.IsNaN(got.X))
		assert.InDelta(t, 2.0, got.Y, 0)
	case <-time.After(2 * time.Second):
		t.Fatal("Update did not return for a value that is not equal to itself")
	}

	assert.False(t, ref.CompareAndSet(ref.Live(), point{}))
	ref.Set(point{X: 1})
	assert.Equal(t, point{X: 1}, ref.Live())
	assert.True(t, ref.IsDirty())
}

func TestReference_UncomparableDynamicValue(t *testing.T) {
	t.Parallel()

	m := snapshotable.NewManager(tickstage.NewTracker())
	ref := snapshotable.NewReference[any](m, nil)

	assert.NotPanics(t, func() {
		ref.Set([]int{1})
		ref.Update(func(v any) any {
			return append(v.([]int), 2) //nolint:errcheck,forcetypeassert // set above
		})
		m.CopyAll()
	})
	assert.Equal(t, []int{1, 2}, ref.Get())
}

func TestPrimitives(t *testing.T) {
	t.Parallel()

	m := snapshotable.NewManager(tickstage.NewTracker())
	flag := snapshotable.NewBool(m, false)
	counter := snapshotable.NewInt64(m, 10)

	assert.True(t, flag.CompareAndSet(false, true))
	assert.False(t, flag.CompareAndSet(false, true))
	assert.True(t, flag.IsDirty())
	assert.Equal(t, int64(13), counter.Add(3))
	assert.True(t, counter.CompareAndSet(13, 20))
	assert.Equal(t, int64(10), counter.Get())

	m.CopyAll()
	assert.True(t, flag.Get())
	assert.Equal(t, int64(20), counter.Get())
	assert.False(t, flag.IsDirty())
	assert.False(t, counter.IsDirty())
}
