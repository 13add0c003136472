// Package world holds the region-partitioned simulation state: regions, their entity managers and
// chunks, and the entity lifecycle.
//
// The tick driver calls Tick, Finalize, PreSnapshot and CopySnapshots once per tick, in that order,
// after moving the tick stage tracker to the matching stage. Each call fans out over the regions.
package world

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LoadOption controls what a region lookup does when the region does not exist yet.
type LoadOption uint8

const (
	LoadNone       LoadOption = iota // Return ErrRegionNotLoaded
	LoadOrGenerate                   // Create and generate the region; only legal in generation stages
)

// Generator fills a newly created region. It runs on the goroutine that first asked for the
// region, during a stage that permits generation. Other lookups of that region block until it
// returns, so it must not look the region up itself.
type Generator interface {
	GenerateRegion(r *Region) error
}

// NopGenerator leaves new regions empty.
type NopGenerator struct{}

func (NopGenerator) GenerateRegion(*Region) error { return nil }

// DataCodec encodes and decodes entity data maps.
type DataCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// World is the set of regions and the entities they own.
type World struct {
	stages        *tickstage.Tracker
	layout        Layout
	dirtyCapacity int
	codec         DataCodec
	generator     Generator
	synchronizer  Synchronizer
	logger        zerolog.Logger

	ids       idAllocator
	snapshots *snapshotable.Manager
	regions   *snapshotable.Map[RegionCoord, *Region]
	byUUID    *xsync.MapOf[uuid.UUID, *Entity]
}

// NewWorld creates an empty world.
func NewWorld(opts Options) (*World, error) {
	options := newDefaultOptions()
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid world options")
	}

	snapshots := snapshotable.NewManager(options.Stages)
	w := &World{
		stages:        options.Stages,
		layout:        Layout{ChunkSize: options.ChunkSize, RegionChunks: options.RegionChunks},
		dirtyCapacity: options.DirtyCapacity,
		codec:         options.Codec,
		generator:     options.Generator,
		synchronizer:  options.Synchronizer,
		logger:        options.logger,
		snapshots:     snapshots,
		regions: snapshotable.NewMap[RegionCoord, *Region](snapshots,
			snapshotable.WithHasher[RegionCoord](regionCoordHasher{})),
		byUUID: xsync.NewMapOf[uuid.UUID, *Entity](),
	}
	return w, nil
}

func (w *World) Stages() *tickstage.Tracker {
	return w.stages
}

func (w *World) Layout() Layout {
	return w.layout
}

func (w *World) Codec() DataCodec {
	return w.codec
}

// -------------------------------------------------------------------------------------------------
// Regions
// -------------------------------------------------------------------------------------------------

// Region returns the live region at coord. With LoadOrGenerate a missing region is created and
// generated, which is only legal in stages that permit generation. Callers racing for the same
// region all wait until its generation finished.
func (w *World) Region(coord RegionCoord, opt LoadOption) (*Region, error) {
	if r, ok := w.regions.LiveValue(coord); ok {
		return w.awaitRegion(r)
	}
	if opt == LoadNone {
		return nil, eris.Wrapf(ErrRegionNotLoaded, "%s", coord)
	}
	if err := w.stages.Check(tickstage.Generation); err != nil {
		return nil, eris.Wrapf(err, "cannot generate %s", coord)
	}

	r, loaded := w.regions.PutIfAbsent(coord, newRegion(w, coord))
	if loaded {
		return w.awaitRegion(r)
	}
	if err := r.generate(w.generator); err != nil {
		// A failed region is dropped so that a later lookup can try again.
		w.regions.Remove(coord)
		return nil, eris.Wrapf(err, "failed to generate %s", coord)
	}
	w.logger.Debug().Stringer("region", coord).Msg("region created")
	return r, nil
}

func (w *World) awaitRegion(r *Region) (*Region, error) {
	if err := r.awaitGenerated(); err != nil {
		return nil, eris.Wrapf(err, "failed to generate %s", r.coord)
	}
	return r, nil
}

// RegionAt returns the live region containing position.
func (w *World) RegionAt(position Vec3, opt LoadOption) (*Region, error) {
	return w.Region(w.layout.RegionOf(position), opt)
}

// Regions returns the regions that existed at the last synchronization.
func (w *World) Regions() []*Region {
	return w.regions.Snapshot().Values()
}

// LiveRegions returns every region created so far.
func (w *World) LiveRegions() []*Region {
	out := make([]*Region, 0, w.regions.LiveLen())
	w.regions.RangeLive(func(_ RegionCoord, r *Region) bool {
		out = append(out, r)
		return true
	})
	return out
}

// -------------------------------------------------------------------------------------------------
// Entities
// -------------------------------------------------------------------------------------------------

// Spawn hands e to the region its transform falls in. The entity is live immediately and visible
// to snapshot readers after the next synchronization. Spawn is illegal while snapshots are being
// taken.
func (w *World) Spawn(e *Entity) error {
	if err := w.stages.Check(tickstage.Not(tickstage.Synchronization)); err != nil {
		return eris.Wrap(err, "cannot spawn entity while snapshots are being taken")
	}
	if e.world != w {
		return eris.New("entity belongs to another world")
	}
	if e.IsRemoved() {
		return eris.Wrap(ErrEntityRemoved, "cannot spawn")
	}
	if e.State() != StateUnspawned {
		return eris.Wrapf(ErrAlreadySpawned, "entity %s is %s", e.uuid, e.State())
	}

	position := e.LiveTransform().Position
	r, err := w.RegionAt(position, LoadOrGenerate)
	if err != nil {
		return eris.Wrap(err, "failed to load region for spawn")
	}
	if !e.state.CompareAndSwap(uint32(StateUnspawned), uint32(StateActive)) {
		return eris.Wrapf(ErrAlreadySpawned, "entity %s", e.uuid)
	}
	if err := r.manager.AddEntity(e); err != nil {
		e.state.Store(uint32(StateUnspawned))
		return eris.Wrap(err, "failed to add entity to region")
	}

	e.setManager(r.manager)
	e.physics.activate(r)
	e.chunk = w.layout.ChunkOf(position)
	r.chunkAt(e.chunk).onEntityEnter(e)
	w.byUUID.Store(e.uuid, e)
	return nil
}

// SpawnEntity constructs and spawns an entity in one call.
func (w *World) SpawnEntity(t *Transform, opts ...EntityOption) (*Entity, error) {
	e, err := w.NewEntity(t, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Spawn(e); err != nil {
		return nil, err
	}
	return e, nil
}

// EntityByUUID returns the spawned, not yet removed entity with the given identity.
func (w *World) EntityByUUID(id uuid.UUID) (*Entity, bool) {
	return w.byUUID.Load(id)
}

func (w *World) forget(e *Entity) {
	w.byUUID.Compute(e.uuid, func(cur *Entity, loaded bool) (*Entity, bool) {
		return cur, !loaded || cur == e
	})
}

// -------------------------------------------------------------------------------------------------
// Tick phases
// -------------------------------------------------------------------------------------------------

// Stats counts what the finalize pass of one tick did.
type Stats struct {
	Migrated int // Entities that moved to another region
	Detached int // Entities that left their region for removal
	Removed  int // Entities whose removal completed
}

// Tick runs the live phase of every region concurrently.
func (w *World) Tick(ctx context.Context, dt time.Duration) error {
	if err := w.stages.Check(tickstage.Live); err != nil {
		return eris.Wrap(err, "world tick")
	}
	return w.eachRegion(ctx, func(r *Region) error {
		r.tick(dt)
		return nil
	})
}

// Finalize runs the finalize pass of every region concurrently.
func (w *World) Finalize(ctx context.Context) (Stats, error) {
	if err := w.stages.Check(tickstage.Of(tickstage.Finalize)); err != nil {
		return Stats{}, eris.Wrap(err, "world finalize")
	}

	var migrated, detached, removed atomic.Int64
	err := w.eachRegion(ctx, func(r *Region) error {
		stats, err := r.finalize()
		migrated.Add(int64(stats.migrated))
		detached.Add(int64(stats.detached))
		removed.Add(int64(stats.removed))
		if err != nil {
			return eris.Wrapf(err, "failed to finalize %s", r.coord)
		}
		return nil
	})

	stats := Stats{Migrated: int(migrated.Load()), Detached: int(detached.Load()), Removed: int(removed.Load())}
	if stats.Migrated+stats.Detached+stats.Removed > 0 {
		w.logger.Debug().
			Int("migrated", stats.Migrated).
			Int("detached", stats.Detached).
			Int("removed", stats.Removed).
			Msg("finalize")
	}
	return stats, err
}

// PreSnapshot runs the pre-snapshot pass of every region concurrently.
func (w *World) PreSnapshot(ctx context.Context) error {
	if err := w.stages.Check(tickstage.Of(tickstage.PreSnapshot)); err != nil {
		return eris.Wrap(err, "world pre-snapshot")
	}
	return w.eachRegion(ctx, func(r *Region) error {
		r.preSnapshot()
		return nil
	})
}

// CopySnapshots synchronizes every region concurrently, then the world's own state.
func (w *World) CopySnapshots(ctx context.Context) error {
	if err := w.stages.Check(tickstage.Of(tickstage.Snapshot)); err != nil {
		return eris.Wrap(err, "world copy snapshots")
	}
	if err := w.eachRegion(ctx, func(r *Region) error {
		r.copySnapshots()
		return nil
	}); err != nil {
		return err
	}
	w.snapshots.CopyAll()
	return nil
}

// eachRegion runs fn for every live region on its own goroutine.
func (w *World) eachRegion(ctx context.Context, fn func(*Region) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range w.LiveRegions() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "context cancelled")
			}
			return fn(r)
		})
	}
	return g.Wait()
}

// -------------------------------------------------------------------------------------------------
// Ids
// -------------------------------------------------------------------------------------------------

// idAllocator hands out entity ids starting at 1. Ids are not reused.
type idAllocator struct {
	last atomic.Int32
}

func (a *idAllocator) next() (EntityID, error) {
	for {
		last := a.last.Load()
		if last == math.MaxInt32 {
			return NotSpawned, eris.Wrapf(ErrIDsExhausted, "last id %d", last)
		}
		if a.last.CompareAndSwap(last, last+1) {
			return EntityID(last + 1), nil
		}
	}
}
