package world

import (
	"time"
)

// Synchronizer receives entity state to replicate to observers. It is called from the goroutines
// of many regions at once and must be safe for concurrent use.
type Synchronizer interface {
	// SyncEntity is called during PreSnapshot with the transform the entity is about to publish,
	// whenever it changed since the last call for that entity.
	SyncEntity(e *Entity, t Transform)

	// DestroyEntity is called once when a replicated entity is finally removed.
	DestroyEntity(e *Entity)
}

// NopSynchronizer discards everything.
type NopSynchronizer struct{}

var _ Synchronizer = NopSynchronizer{}

func (NopSynchronizer) SyncEntity(*Entity, Transform) {}

func (NopSynchronizer) DestroyEntity(*Entity) {}

// Network replicates its entity's transform through the world's Synchronizer.
//
// lastSent and sent are only touched by the PreSnapshot pass of the owning region and by detach,
// which both run on that region's goroutine.
type Network struct {
	entity   *Entity
	lastSent Transform
	sent     bool
}

var _ Component = (*Network)(nil)

func newNetwork(e *Entity) *Network {
	return &Network{entity: e}
}

func (n *Network) Capability() Capability {
	return CapabilityNetwork
}

func (n *Network) tick(time.Duration) {}

// Pending returns how far the live position moved since the transform was last sent. ok is false
// when nothing was sent yet.
func (n *Network) Pending() (delta Vec3, ok bool) {
	if !n.sent {
		return Vec3{}, false
	}
	live := n.entity.LiveTransform().Position
	return live.Add(n.lastSent.Position.Scale(-1)), true
}

// preSnapshot pushes the transform if it changed since it was last sent.
func (n *Network) preSnapshot() {
	t := n.entity.LiveTransform()
	if n.sent && t == n.lastSent {
		return
	}
	n.entity.world.synchronizer.SyncEntity(n.entity, t)
	n.lastSent = t
	n.sent = true
}

func (n *Network) detach() {
	if n.sent {
		n.entity.world.synchronizer.DestroyEntity(n.entity)
	}
	n.sent = false
}
