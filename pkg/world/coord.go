package world

import (
	"fmt"
	"math"

	"github.com/benbjohnson/immutable"
)

// RegionCoord addresses a region in region units.
type RegionCoord struct {
	X, Y, Z int32
}

func (c RegionCoord) String() string {
	return fmt.Sprintf("region(%d,%d,%d)", c.X, c.Y, c.Z)
}

// ChunkCoord addresses a chunk in chunk units.
type ChunkCoord struct {
	X, Y, Z int32
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("chunk(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Layout is the size of chunks (in blocks, per axis) and regions (in chunks, per axis).
type Layout struct {
	ChunkSize    int
	RegionChunks int
}

// ChunkOf returns the chunk containing p.
func (l Layout) ChunkOf(p Vec3) ChunkCoord {
	size := float64(l.ChunkSize)
	return ChunkCoord{X: floorDiv(p.X, size), Y: floorDiv(p.Y, size), Z: floorDiv(p.Z, size)}
}

// RegionOf returns the region containing p.
func (l Layout) RegionOf(p Vec3) RegionCoord {
	size := float64(l.ChunkSize * l.RegionChunks)
	return RegionCoord{X: floorDiv(p.X, size), Y: floorDiv(p.Y, size), Z: floorDiv(p.Z, size)}
}

// RegionOfChunk returns the region containing chunk c.
func (l Layout) RegionOfChunk(c ChunkCoord) RegionCoord {
	n := int32(l.RegionChunks) //nolint:gosec // validated to be small
	return RegionCoord{X: floorDivInt(c.X, n), Y: floorDivInt(c.Y, n), Z: floorDivInt(c.Z, n)}
}

// BlockIndex returns the index of the block containing p inside its chunk.
func (l Layout) BlockIndex(p Vec3) int {
	c := l.ChunkOf(p)
	size := l.ChunkSize
	x := int(math.Floor(p.X)) - int(c.X)*size
	y := int(math.Floor(p.Y)) - int(c.Y)*size
	z := int(math.Floor(p.Z)) - int(c.Z)*size
	return (y*size+z)*size + x
}

func (l Layout) blocksPerChunk() int {
	return l.ChunkSize * l.ChunkSize * l.ChunkSize
}

func floorDiv(v, size float64) int32 {
	return int32(math.Floor(v / size))
}

func floorDivInt(v, n int32) int32 {
	q := v / n
	if (v%n != 0) && ((v < 0) != (n < 0)) {
		q--
	}
	return q
}

// -------------------------------------------------------------------------------------------------
// Hashers for snapshot maps keyed by coordinates
// -------------------------------------------------------------------------------------------------

type regionCoordHasher struct{}

var _ immutable.Hasher[RegionCoord] = regionCoordHasher{}

func (regionCoordHasher) Hash(c RegionCoord) uint32 {
	return hashCoord(c.X, c.Y, c.Z)
}

func (regionCoordHasher) Equal(a, b RegionCoord) bool {
	return a == b
}

type chunkCoordHasher struct{}

var _ immutable.Hasher[ChunkCoord] = chunkCoordHasher{}

func (chunkCoordHasher) Hash(c ChunkCoord) uint32 {
	return hashCoord(c.X, c.Y, c.Z)
}

func (chunkCoordHasher) Equal(a, b ChunkCoord) bool {
	return a == b
}

// hashCoord is FNV-1a over the three components.
func hashCoord(x, y, z int32) uint32 {
	h := uint32(2166136261)
	for _, v := range [3]int32{x, y, z} {
		h ^= uint32(v) //nolint:gosec // reinterpreting the bits is the point
		h *= 16777619
	}
	return h
}
