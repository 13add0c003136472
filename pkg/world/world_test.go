package world_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/argus-labs/tickcore/pkg/codec"
	"github.com/argus-labs/tickcore/pkg/testutils"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/argus-labs/tickcore/pkg/world"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Regions are 8 blocks wide with these options.
const regionWidth = 8

func newTestWorld(t *testing.T, opts world.Options) (*world.World, *tickstage.Tracker) {
	t.Helper()

	tracker := tickstage.NewTracker()
	opts.Stages = tracker
	opts.ChunkSize = 4
	opts.RegionChunks = 2
	w, err := world.NewWorld(opts)
	require.NoError(t, err)
	return w, tracker
}

// tick drives one full tick. live runs during STAGE1.
func tick(t *testing.T, w *world.World, tracker *tickstage.Tracker, live func()) world.Stats {
	t.Helper()
	ctx := context.Background()

	tracker.Store(tickstage.TickStart)
	tracker.Store(tickstage.Stage1)
	if live != nil {
		live()
	}
	require.NoError(t, w.Tick(ctx, time.Second))
	tracker.Store(tickstage.Stage2P)
	tracker.Store(tickstage.Finalize)
	stats, err := w.Finalize(ctx)
	require.NoError(t, err)
	tracker.Store(tickstage.PreSnapshot)
	require.NoError(t, w.PreSnapshot(ctx))
	tracker.Store(tickstage.Snapshot)
	require.NoError(t, w.CopySnapshots(ctx))
	tracker.Store(tickstage.TickStart)
	return stats
}

func at(x, y, z float64) *world.Transform {
	t := world.NewTransform(world.Vec3{X: x, Y: y, Z: z})
	return &t
}

func TestWorld_SpawnPublishesAfterCopy(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})

	e, err := w.SpawnEntity(at(1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, world.StateActive, e.State())
	assert.Equal(t, world.EntityID(1), e.ID())
	assert.Nil(t, e.Region(), "owner is not published before the copy")
	require.NotNil(t, e.LiveRegion())

	got, ok := w.EntityByUUID(e.UUID())
	require.True(t, ok)
	assert.Same(t, e, got)

	tick(t, w, tracker, nil)

	r := e.Region()
	require.NotNil(t, r)
	assert.Equal(t, world.RegionCoord{}, r.Coord())
	assert.True(t, r.EntityManager().Contains(e))
	assert.True(t, r.HasBody(e.ID()))
	assert.Len(t, w.Regions(), 1)
}

func TestWorld_Migration(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})

	e, err := w.SpawnEntity(at(1, 1, 1))
	require.NoError(t, err)
	tick(t, w, tracker, nil)
	r0 := e.Region()
	require.NotNil(t, r0)

	target := world.Vec3{X: regionWidth + 1, Y: 1, Z: 1}
	stats := tick(t, w, tracker, func() {
		tr := e.LiveTransform()
		tr.Position = target
		assert.NoError(t, e.SetTransform(tr))
		assert.Same(t, r0, e.Region(), "snapshot owner holds during the live phase")
	})
	assert.Equal(t, 1, stats.Migrated)

	r1 := e.Region()
	require.NotNil(t, r1)
	assert.Equal(t, world.RegionCoord{X: 1}, r1.Coord())
	assert.Equal(t, target, e.Transform().Position)
	assert.False(t, r0.EntityManager().Contains(e))
	assert.True(t, r1.EntityManager().Contains(e))
	assert.False(t, r0.HasBody(e.ID()))
	assert.True(t, r1.HasBody(e.ID()))
	assert.True(t, e.Physics().IsActive())
	assert.Equal(t, int64(1), e.Migrations())

	// Further ticks without movement change nothing.
	for range 5 {
		stats = tick(t, w, tracker, nil)
		assert.Zero(t, stats.Migrated)
	}
	assert.Same(t, r1, e.Region())
	assert.Equal(t, int64(1), e.Migrations())
	assert.Equal(t, 1, r1.EntityManager().Len())
	assert.Zero(t, r0.EntityManager().Len())
}

func TestWorld_MigrationByVelocity(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})

	e, err := w.SpawnEntity(at(regionWidth-0.5, 1, 1))
	require.NoError(t, err)
	assert.NoError(t, e.Physics().SetVelocity(world.Vec3{X: 1}))
	tick(t, w, tracker, nil)

	// The first tick moved it across the border but it was not finalized yet: it only entered the
	// snapshot during that tick's copy.
	assert.InDelta(t, regionWidth+0.5, e.Transform().Position.X, 1e-9)

	tick(t, w, tracker, nil)
	assert.Equal(t, world.RegionCoord{X: 1}, e.Region().Coord())
	assert.InDelta(t, regionWidth+1.5, e.Transform().Position.X, 1e-9)
}

func TestWorld_Removal(t *testing.T) {
	t.Parallel()
	syncer := &recordingSynchronizer{}
	w, tracker := newTestWorld(t, world.Options{Synchronizer: syncer})

	e, err := w.SpawnEntity(at(1, 1, 1), world.WithCapabilities(world.CapabilityNetwork))
	require.NoError(t, err)
	keep, err := w.SpawnEntity(at(2, 2, 2))
	require.NoError(t, err)
	tick(t, w, tracker, nil)
	r := e.Region()
	id := e.ID()

	stats := tick(t, w, tracker, func() {
		require.NoError(t, e.Remove())
		assert.True(t, e.IsRemoved())
		assert.False(t, e.IsRemovedSnapshot())
	})
	assert.Equal(t, 1, stats.Detached)
	assert.Equal(t, world.StatePendingRemoval, e.State())
	assert.True(t, e.IsRemovedSnapshot())
	assert.False(t, r.EntityManager().Contains(e))
	assert.True(t, r.EntityManager().Contains(keep))
	assert.False(t, r.HasBody(id))
	for _, live := range r.EntityManager().AllLive() {
		assert.NotSame(t, e, live)
	}
	assert.Empty(t, syncer.destroyed())

	stats = tick(t, w, tracker, nil)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, world.StateRemoved, e.State())
	assert.Equal(t, world.NotSpawned, e.ID())
	assert.Nil(t, e.Region())
	assert.Nil(t, e.LiveRegion())
	_, ok := w.EntityByUUID(e.UUID())
	assert.False(t, ok)
	assert.Equal(t, []uuid.UUID{e.UUID()}, syncer.destroyed())

	// Removed is terminal.
	stats = tick(t, w, tracker, nil)
	assert.Zero(t, stats.Removed)
	assert.Equal(t, world.StateRemoved, e.State())
	require.ErrorIs(t, w.Spawn(e), world.ErrEntityRemoved)
}

func TestWorld_RemoveIllegalDuringSynchronization(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})

	e, err := w.SpawnEntity(at(1, 1, 1))
	require.NoError(t, err)

	for _, stage := range []tickstage.Stage{tickstage.PreSnapshot, tickstage.Snapshot} {
		tracker.Store(stage)
		err := e.Remove()
		require.Error(t, err)
		assert.True(t, eris.Is(err, tickstage.ErrStageViolation), stage.String())
		assert.False(t, e.IsRemoved())
	}
}

func TestWorld_SpawnIllegalDuringSynchronization(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})

	// The region exists, so only the stage gate can stop the spawn.
	_, err := w.SpawnEntity(at(1, 1, 1))
	require.NoError(t, err)
	tick(t, w, tracker, nil)

	for _, stage := range []tickstage.Stage{tickstage.PreSnapshot, tickstage.Snapshot} {
		tracker.Store(stage)
		e, err := w.NewEntity(at(2, 1, 1))
		require.NoError(t, err)
		err = w.Spawn(e)
		require.Error(t, err, stage.String())
		assert.True(t, eris.Is(err, tickstage.ErrStageViolation), stage.String())
		assert.Equal(t, world.StateUnspawned, e.State())
		_, ok := w.EntityByUUID(e.UUID())
		assert.False(t, ok)
	}

	tracker.Store(tickstage.TickStart)
	region, err := w.Region(world.RegionCoord{}, world.LoadNone)
	require.NoError(t, err)
	assert.Len(t, region.EntityManager().AllLive(), 1)
}

func TestWorld_NonFiniteTransform(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})

	_, err := w.NewEntity(at(math.NaN(), 0, 0))
	require.ErrorIs(t, err, world.ErrNonFinite)
	_, err = w.NewEntity(at(0, math.Inf(1), 0))
	require.ErrorIs(t, err, world.ErrNonFinite)

	e, err := w.SpawnEntity(at(1, 1, 1))
	require.NoError(t, err)

	bad := e.LiveTransform()
	bad.Position.X = math.NaN()
	require.ErrorIs(t, e.SetTransform(bad), world.ErrNonFinite)
	require.ErrorIs(t, e.Translate(world.Vec3{Z: math.Inf(-1)}), world.ErrNonFinite)
	require.ErrorIs(t, e.Physics().SetVelocity(world.Vec3{Y: math.NaN()}), world.ErrNonFinite)
	assert.Equal(t, world.Vec3{X: 1, Y: 1, Z: 1}, e.LiveTransform().Position)

	done := make(chan error, 1)
	go func() {
		done <- e.SetTransform(world.NewTransform(world.Vec3{X: 2, Y: 2, Z: 2}))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SetTransform did not return")
	}
	assert.Equal(t, world.Vec3{X: 2, Y: 2, Z: 2}, e.LiveTransform().Position)

	edge := world.NewTransform(world.Vec3{X: math.MaxFloat64})
	require.NoError(t, e.SetTransform(edge))
	require.ErrorIs(t, e.Translate(world.Vec3{X: math.MaxFloat64}), world.ErrNonFinite)
	assert.Equal(t, edge, e.LiveTransform())

	require.NoError(t, e.SetTransform(world.NewTransform(world.Vec3{X: 1, Y: 1, Z: 1})))
	tick(t, w, tracker, nil)
	assert.Equal(t, world.Vec3{X: 1, Y: 1, Z: 1}, e.Transform().Position)
}

func TestWorld_SpawnErrors(t *testing.T) {
	t.Parallel()
	w, _ := newTestWorld(t, world.Options{})

	_, err := w.NewEntity(nil)
	require.ErrorIs(t, err, world.ErrMissingTransform)

	e, err := w.SpawnEntity(at(0, 0, 0))
	require.NoError(t, err)
	require.ErrorIs(t, w.Spawn(e), world.ErrAlreadySpawned)

	removed, err := w.NewEntity(at(0, 0, 0))
	require.NoError(t, err)
	require.NoError(t, removed.Remove())
	require.ErrorIs(t, w.Spawn(removed), world.ErrEntityRemoved)
	assert.Equal(t, world.StateUnspawned, removed.State())

	other, _ := newTestWorld(t, world.Options{})
	foreign, err := other.NewEntity(at(0, 0, 0))
	require.NoError(t, err)
	require.Error(t, w.Spawn(foreign))
}

func TestWorld_GenerationOnlyInMutableStages(t *testing.T) {
	t.Parallel()
	generator := &countingGenerator{}
	w, tracker := newTestWorld(t, world.Options{Generator: generator})

	coord := world.RegionCoord{X: 3}
	_, err := w.Region(coord, world.LoadNone)
	require.ErrorIs(t, err, world.ErrRegionNotLoaded)

	for _, stage := range []tickstage.Stage{tickstage.PreSnapshot, tickstage.Snapshot} {
		tracker.Store(stage)
		_, err := w.Region(coord, world.LoadOrGenerate)
		require.Error(t, err)
		assert.True(t, eris.Is(err, tickstage.ErrStageViolation))
	}
	assert.Zero(t, generator.count())

	tracker.Store(tickstage.Stage2P)
	r, err := w.Region(coord, world.LoadOrGenerate)
	require.NoError(t, err)
	assert.Equal(t, coord, r.Coord())
	assert.Equal(t, 1, generator.count())

	// Existing regions can be looked up in any stage.
	tracker.Store(tickstage.Snapshot)
	again, err := w.Region(coord, world.LoadNone)
	require.NoError(t, err)
	assert.Same(t, r, again)
	assert.Equal(t, 1, generator.count())
}

func TestWorld_ConcurrentLookupWaitsForGeneration(t *testing.T) {
	t.Parallel()
	generator := &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
	w, _ := newTestWorld(t, world.Options{Generator: generator})
	coord := world.RegionCoord{X: 5}

	type lookup struct {
		r   *world.Region
		err error
	}
	first := make(chan lookup, 1)
	go func() {
		r, err := w.Region(coord, world.LoadOrGenerate)
		first <- lookup{r, err}
	}()
	<-generator.started

	second := make(chan lookup, 2)
	for _, opt := range []world.LoadOption{world.LoadNone, world.LoadOrGenerate} {
		go func() {
			r, err := w.Region(coord, opt)
			second <- lookup{r, err}
		}()
	}

	select {
	case <-second:
		t.Fatal("lookup returned before the region was generated")
	case <-time.After(50 * time.Millisecond):
	}

	close(generator.release)
	winner := <-first
	require.NoError(t, winner.err)
	assert.True(t, generator.finished.Load())
	for range 2 {
		got := <-second
		require.NoError(t, got.err)
		assert.Same(t, winner.r, got.r)
	}
}

func TestWorld_FailedGenerationIsRetried(t *testing.T) {
	t.Parallel()
	generator := &flakyGenerator{failures: 1}
	w, _ := newTestWorld(t, world.Options{Generator: generator})
	coord := world.RegionCoord{Z: -2}

	_, err := w.Region(coord, world.LoadOrGenerate)
	require.ErrorIs(t, err, errGenerationFailed)
	_, err = w.Region(coord, world.LoadNone)
	require.ErrorIs(t, err, world.ErrRegionNotLoaded)

	r, err := w.Region(coord, world.LoadOrGenerate)
	require.NoError(t, err)
	assert.Equal(t, coord, r.Coord())
}

func TestWorld_EntityData(t *testing.T) {
	t.Parallel()

	for _, c := range []codec.Codec{codec.JSON, codec.MsgPack} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()
			w, tracker := newTestWorld(t, world.Options{Codec: c})

			blob, err := c.Marshal(map[string]any{"name": "crate"})
			require.NoError(t, err)
			e, err := w.SpawnEntity(at(0, 0, 0), world.WithData(blob))
			require.NoError(t, err)

			name, ok := e.Data("name")
			require.True(t, ok)
			assert.Equal(t, "crate", name)

			tick(t, w, tracker, func() {
				e.SetData("open", true)
				_, ok := e.Data("open")
				assert.False(t, ok)
			})
			open, ok := e.Data("open")
			require.True(t, ok)
			assert.Equal(t, true, open)

			encoded, err := e.EncodeData()
			require.NoError(t, err)
			var decoded map[string]any
			require.NoError(t, c.Unmarshal(encoded, &decoded))
			assert.Equal(t, "crate", decoded["name"])
		})
	}

	w, _ := newTestWorld(t, world.Options{})
	_, err := w.NewEntity(at(0, 0, 0), world.WithData([]byte("not json")))
	require.Error(t, err)
}

func TestWorld_NetworkSync(t *testing.T) {
	t.Parallel()
	syncer := &recordingSynchronizer{}
	w, tracker := newTestWorld(t, world.Options{Synchronizer: syncer})

	e, err := w.SpawnEntity(at(1, 1, 1), world.WithCapabilities(world.CapabilityNetwork))
	require.NoError(t, err)
	plain, err := w.SpawnEntity(at(1, 1, 1))
	require.NoError(t, err)
	require.NotNil(t, e.Network())
	assert.Nil(t, plain.Network())
	assert.ElementsMatch(t, []world.Capability{world.CapabilityPhysics, world.CapabilityNetwork}, e.Capabilities())

	tick(t, w, tracker, nil)
	assert.Equal(t, 1, syncer.syncCount())

	tick(t, w, tracker, nil)
	assert.Equal(t, 1, syncer.syncCount(), "unchanged transform is not resent")

	tick(t, w, tracker, func() { assert.NoError(t, e.Translate(world.Vec3{Y: 1})) })
	assert.Equal(t, 2, syncer.syncCount())
}

func TestWorld_ChunkMembership(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})
	layout := w.Layout()

	e, err := w.SpawnEntity(at(1, 1, 1))
	require.NoError(t, err)
	tick(t, w, tracker, nil)

	first, ok := e.Region().Chunk(layout.ChunkOf(world.Vec3{X: 1, Y: 1, Z: 1}))
	require.True(t, ok)
	assert.True(t, first.Contains(e.ID()))

	// Same region, next chunk.
	tick(t, w, tracker, func() { assert.NoError(t, e.Translate(world.Vec3{X: 4})) })
	second, ok := e.Region().Chunk(layout.ChunkOf(world.Vec3{X: 5, Y: 1, Z: 1}))
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.False(t, first.Contains(e.ID()))
	assert.True(t, second.Contains(e.ID()))
	assert.Equal(t, int64(0), e.Migrations())
}

func TestWorld_ChunkBlocks(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{DirtyCapacity: 2})

	r, err := w.Region(world.RegionCoord{}, world.LoadOrGenerate)
	require.NoError(t, err)
	_, err = w.SpawnEntity(at(0, 0, 0))
	require.NoError(t, err)
	tick(t, w, tracker, nil)

	chunk, ok := r.Chunk(w.Layout().ChunkOf(world.Vec3{}))
	require.True(t, ok)

	index := w.Layout().BlockIndex(world.Vec3{X: 3, Y: 2, Z: 1})
	tracker.Store(tickstage.Stage1)
	assert.Equal(t, byte(0), chunk.SetBlock(index, 7))
	assert.Equal(t, byte(0), chunk.Block(index))

	tracker.Store(tickstage.PreSnapshot)
	dirty, overflow, err := chunk.DirtyBlocks()
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Equal(t, []int{index}, dirty)

	tracker.Store(tickstage.Snapshot)
	require.NoError(t, w.CopySnapshots(context.Background()))
	assert.Equal(t, byte(7), chunk.Block(index))
}

// Entities wander randomly across regions. After every tick each entity is owned by exactly one
// region, and that region is the one its published position falls in.
func TestWorld_RandomWalkOwnership(t *testing.T) {
	t.Parallel()
	r := testutils.NewRand(t)
	w, tracker := newTestWorld(t, world.Options{})

	const entities = 64
	const span = 4 * regionWidth
	all := make([]*world.Entity, 0, entities)
	for range entities {
		x, y, z := testutils.RandCoord(r, span), testutils.RandCoord(r, span), testutils.RandCoord(r, span)
		e, err := w.SpawnEntity(at(x, y, z))
		require.NoError(t, err)
		all = append(all, e)
	}
	tick(t, w, tracker, nil)

	for range 50 {
		// Each entity is only touched by one goroutine per tick.
		moves := make([]world.Vec3, len(all))
		for i := range moves {
			moves[i] = world.Vec3{
				X: testutils.RandCoord(r, regionWidth),
				Y: testutils.RandCoord(r, regionWidth),
				Z: testutils.RandCoord(r, regionWidth),
			}
		}
		tick(t, w, tracker, func() {
			var wg sync.WaitGroup
			for i, e := range all {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, e.Translate(moves[i]))
				}()
			}
			wg.Wait()
		})

		owners := make(map[*world.Entity]int)
		for _, region := range w.Regions() {
			for _, e := range region.EntityManager().All() {
				owners[e]++
				assert.Same(t, region, e.Region())
			}
		}
		for _, e := range all {
			require.Equal(t, 1, owners[e], "entity %s", e.UUID())
			assert.Equal(t, w.Layout().RegionOf(e.Transform().Position), e.Region().Coord())
		}
	}
}

// -------------------------------------------------------------------------------------------------
// Fakes
// -------------------------------------------------------------------------------------------------

type recordingSynchronizer struct {
	mu      sync.Mutex
	syncs   int
	removed []uuid.UUID
}

func (s *recordingSynchronizer) SyncEntity(*world.Entity, world.Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
}

func (s *recordingSynchronizer) DestroyEntity(e *world.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, e.UUID())
}

func (s *recordingSynchronizer) syncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs
}

func (s *recordingSynchronizer) destroyed() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.removed...)
}

type countingGenerator struct {
	mu sync.Mutex
	n  int
}

func (g *countingGenerator) GenerateRegion(*world.Region) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return nil
}

func (g *countingGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// gatedGenerator holds generation until release is closed.
type gatedGenerator struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (g *gatedGenerator) GenerateRegion(*world.Region) error {
	close(g.started)
	<-g.release
	g.finished.Store(true)
	return nil
}

var errGenerationFailed = eris.New("generation failed")

type flakyGenerator struct {
	mu       sync.Mutex
	failures int
}

func (g *flakyGenerator) GenerateRegion(*world.Region) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failures > 0 {
		g.failures--
		return errGenerationFailed
	}
	return nil
}

func TestWorld_NetworkPending(t *testing.T) {
	t.Parallel()
	w, tracker := newTestWorld(t, world.Options{})

	e, err := w.SpawnEntity(at(1, 1, 1), world.WithCapabilities(world.CapabilityNetwork),
		world.WithDataMap(map[string]any{"kind": "drone"}))
	require.NoError(t, err)
	_, ok := e.Network().Pending()
	assert.False(t, ok)
	kind, _ := e.Data("kind")
	assert.Equal(t, "drone", kind)

	tick(t, w, tracker, nil)
	tick(t, w, tracker, func() {
		assert.NoError(t, e.Translate(world.Vec3{X: 2}))
		delta, ok := e.Network().Pending()
		require.True(t, ok)
		assert.Equal(t, world.Vec3{X: 2}, delta)
	})
	delta, ok := e.Network().Pending()
	require.True(t, ok)
	assert.True(t, delta.IsZero())
}
