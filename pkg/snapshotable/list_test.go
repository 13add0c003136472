package snapshotable_test

import (
	"slices"
	"testing"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/argus-labs/tickcore/pkg/testutils"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_ReplaysUpdatesInOrder(t *testing.T) {
	t.Parallel()

	m := snapshotable.NewManager(tickstage.NewTracker())
	list := snapshotable.NewList(m, "a", "b", "c")

	list.Add("d")                           // a b c d
	require.NoError(t, list.Insert(0, "z")) // z a b c d
	assert.True(t, list.Remove("b"))        // z a c d
	removed, err := list.RemoveAt(1)        // z c d
	require.NoError(t, err)
	assert.Equal(t, "a", removed)
	require.NoError(t, list.Insert(3, "e")) // z c d e

	assert.Equal(t, []string{"a", "b", "c"}, list.Snapshot())
	m.CopyAll()
	assert.Equal(t, []string{"z", "c", "d", "e"}, list.Snapshot())
	assert.Equal(t, list.Live(), list.Snapshot())
}

func TestList_OutOfRange(t *testing.T) {
	t.Parallel()

	m := snapshotable.NewManager(tickstage.NewTracker())
	list := snapshotable.NewList[int](m)

	err := list.Insert(1, 5)
	require.Error(t, err)
	assert.True(t, eris.Is(err, snapshotable.ErrIndexOutOfRange))

	_, err = list.RemoveAt(0)
	require.Error(t, err)
	assert.True(t, eris.Is(err, snapshotable.ErrIndexOutOfRange))

	_, err = list.At(0)
	require.Error(t, err)
	assert.False(t, list.Remove(5))
}

func TestList_DirtyValues(t *testing.T) {
	t.Parallel()

	stages := tickstage.NewTracker()
	m := snapshotable.NewManager(stages)
	list := snapshotable.NewList(m, 1, 2)

	list.Add(3)
	list.Remove(1)
	list.Add(3)

	_, err := list.DirtyValues()
	require.Error(t, err)
	assert.True(t, eris.Is(err, tickstage.ErrStageViolation))

	stages.Store(tickstage.PreSnapshot)
	values, err := list.DirtyValues()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, values)
}

func TestList_ModelFuzz(t *testing.T) {
	t.Parallel()

	type op uint8
	const (
		opAdd      op = 30
		opInsert   op = 20
		opRemove   op = 20
		opRemoveAt op = 20
		opCopy     op = 10
	)
	ops := []op{opAdd, opInsert, opRemove, opRemoveAt, opCopy}

	prng := testutils.NewRand(t)
	m := snapshotable.NewManager(tickstage.NewTracker())
	list := snapshotable.NewList[int](m)

	var live, snapshot []int
	const opsMax = 1 << 13
	for range opsMax {
		switch testutils.RandWeightedOp(prng, ops) {
		case opAdd:
			v := prng.IntN(16)
			list.Add(v)
			live = append(live, v)
		case opInsert:
			v := prng.IntN(16)
			idx := prng.IntN(len(live) + 1)
			require.NoError(t, list.Insert(idx, v))
			live = slices.Insert(live, idx, v)
		case opRemove:
			v := prng.IntN(16)
			idx := slices.Index(live, v)
			assert.Equal(t, idx >= 0, list.Remove(v), "remove(%d)", v)
			if idx >= 0 {
				live = slices.Delete(live, idx, idx+1)
			}
		case opRemoveAt:
			if len(live) == 0 {
				continue
			}
			idx := prng.IntN(len(live))
			removed, err := list.RemoveAt(idx)
			require.NoError(t, err)
			assert.Equal(t, live[idx], removed)
			live = slices.Delete(live, idx, idx+1)
		case opCopy:
			m.CopyAll()
			snapshot = slices.Clone(live)
		default:
			panic("unreachable")
		}

		require.Equal(t, len(live), len(list.Live()))
		require.Equal(t, len(snapshot), list.Len())
	}

	assert.Equal(t, live, slices.Clone(list.Live()))
	m.CopyAll()
	assert.Equal(t, live, slices.Clone(list.Snapshot()))
}
