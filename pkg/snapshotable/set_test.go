package snapshotable_test

import (
	"slices"
	"testing"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	t.Parallel()

	stages := tickstage.NewTracker()
	m := snapshotable.NewManager(stages)
	set := snapshotable.NewSet[int](m)
	require.Equal(t, 1, m.Len(), "a set registers as one instance")

	assert.True(t, set.Add(1))
	assert.False(t, set.Add(1))
	assert.True(t, set.Add(2))
	assert.True(t, set.Remove(2))
	assert.False(t, set.Remove(3))

	assert.True(t, set.LiveContains(1))
	assert.False(t, set.Contains(1))
	assert.Equal(t, 1, set.LiveLen())

	stages.Store(tickstage.PreSnapshot)
	dirty, err := set.DirtyKeys()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, dirty)

	stages.Store(tickstage.Snapshot)
	m.CopyAll()

	assert.True(t, set.Contains(1))
	assert.False(t, set.Contains(2))
	assert.Equal(t, []int{1}, set.Items())

	var members []int
	set.RangeLive(func(v int) bool {
		members = append(members, v)
		return true
	})
	slices.Sort(members)
	assert.Equal(t, []int{1}, members)
}
