package world

import (
	"time"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
)

// Region is a spatial partition of the world. Each region is ticked, finalized and synchronized
// independently of the others, so regions can run on separate goroutines.
type Region struct {
	world     *World
	coord     RegionCoord
	manager   *EntityManager
	snapshots *snapshotable.Manager
	chunks    *snapshotable.Map[ChunkCoord, *Chunk]
	bodies    *snapshotable.Set[EntityID]

	// ready is closed once the generator has run. genErr is only read after ready is closed.
	ready  chan struct{}
	genErr error
}

func newRegion(w *World, coord RegionCoord) *Region {
	snapshots := snapshotable.NewManager(w.stages)
	r := &Region{
		world:     w,
		coord:     coord,
		snapshots: snapshots,
		chunks: snapshotable.NewMap[ChunkCoord, *Chunk](snapshots,
			snapshotable.WithHasher[ChunkCoord](chunkCoordHasher{})),
		bodies: snapshotable.NewSet[EntityID](snapshots),
		ready:  make(chan struct{}),
	}
	r.manager = newEntityManager(r)
	return r
}

// generate runs the world's generator once and releases every goroutine waiting on the region.
func (r *Region) generate(g Generator) error {
	defer close(r.ready)
	if err := g.GenerateRegion(r); err != nil {
		r.genErr = err
	}
	return r.genErr
}

// awaitGenerated blocks until the region's generation finished and returns its error.
func (r *Region) awaitGenerated() error {
	<-r.ready
	return r.genErr
}

func (r *Region) Coord() RegionCoord {
	return r.coord
}

func (r *Region) World() *World {
	return r.world
}

func (r *Region) EntityManager() *EntityManager {
	return r.manager
}

// Chunk returns the chunk at coord as of the last synchronization.
func (r *Region) Chunk(coord ChunkCoord) (*Chunk, bool) {
	return r.chunks.Get(coord)
}

// Chunks returns the chunks that existed at the last synchronization.
func (r *Region) Chunks() []*Chunk {
	return r.chunks.Snapshot().Values()
}

// Bodies returns the ids of the entities in the region's physics space at the last
// synchronization.
func (r *Region) Bodies() []EntityID {
	return r.bodies.Items()
}

// HasBody reports whether the entity with id was in the physics space at the last synchronization.
func (r *Region) HasBody(id EntityID) bool {
	return r.bodies.Contains(id)
}

func (r *Region) liveChunk(coord ChunkCoord) (*Chunk, bool) {
	return r.chunks.LiveValue(coord)
}

// chunkAt returns the live chunk at coord, creating it if needed.
func (r *Region) chunkAt(coord ChunkCoord) *Chunk {
	if c, ok := r.chunks.LiveValue(coord); ok {
		return c
	}
	c, _ := r.chunks.PutIfAbsent(coord, newChunk(r, coord))
	return c
}

// tick runs the live phase for every active entity of the region.
func (r *Region) tick(dt time.Duration) {
	r.manager.forEachActive(func(e *Entity) {
		e.tick(dt)
	})
}

func (r *Region) finalize() (finalizeStats, error) {
	return r.manager.FinalizeRun()
}

func (r *Region) preSnapshot() {
	r.manager.PreSnapshotRun()
}

// copySnapshots synchronizes the entities, then the chunks, then the region's own state.
func (r *Region) copySnapshots() {
	r.manager.CopyAllSnapshots()
	r.chunks.RangeLive(func(_ ChunkCoord, c *Chunk) bool {
		c.snapshots.CopyAll()
		return true
	})
	r.snapshots.CopyAll()
}
