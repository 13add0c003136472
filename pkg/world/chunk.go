package world

import (
	"github.com/argus-labs/tickcore/pkg/snapshotable"
)

// Chunk is the smallest spatial container. It tracks which entities are inside it and holds one
// byte of block data per block.
type Chunk struct {
	coord     ChunkCoord
	region    *Region
	snapshots *snapshotable.Manager
	entities  *snapshotable.Set[EntityID]
	blocks    *snapshotable.ByteArray
}

func newChunk(r *Region, coord ChunkCoord) *Chunk {
	w := r.world
	snapshots := snapshotable.NewManager(w.stages)
	return &Chunk{
		coord:     coord,
		region:    r,
		snapshots: snapshots,
		entities:  snapshotable.NewSet[EntityID](snapshots),
		blocks: snapshotable.NewByteArray(snapshots, make([]byte, w.layout.blocksPerChunk()),
			snapshotable.WithDirtyCapacity(w.dirtyCapacity)),
	}
}

func (c *Chunk) Coord() ChunkCoord {
	return c.coord
}

func (c *Chunk) Region() *Region {
	return c.region
}

// Entities returns the ids of the entities inside the chunk at the last synchronization.
func (c *Chunk) Entities() []EntityID {
	return c.entities.Items()
}

// Contains reports whether the entity with id was inside the chunk at the last synchronization.
func (c *Chunk) Contains(id EntityID) bool {
	return c.entities.Contains(id)
}

// Block returns the block at index at the last synchronization.
func (c *Chunk) Block(index int) byte {
	return c.blocks.Get(index)
}

// SetBlock sets the live block at index and returns the previous live value.
func (c *Chunk) SetBlock(index int, value byte) byte {
	return c.blocks.Set(index, value)
}

// DirtyBlocks returns the block indexes written since the last synchronization. overflow reports
// that more were written than are tracked individually. Only legal during PreSnapshot.
func (c *Chunk) DirtyBlocks() (indexes []int, overflow bool, err error) {
	return c.blocks.DirtyIndexes()
}

func (c *Chunk) onEntityEnter(e *Entity) {
	c.entities.Add(e.ID())
}

func (c *Chunk) onEntityLeave(e *Entity) {
	c.entities.Remove(e.ID())
}
