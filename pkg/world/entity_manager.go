package world

import (
	"sync"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/rotisserie/eris"
)

// EntityManager is the registry of the entities a region owns.
type EntityManager struct {
	region    *Region
	snapshots *snapshotable.Manager
	entities  *snapshotable.Map[EntityID, *Entity]

	mu sync.Mutex
	// departed holds entities that left this manager for good during this tick's finalize. Their
	// own state is still synchronized by this manager so the removal gets published.
	departed []*Entity
	// pending holds entities waiting for the next finalize to complete their removal.
	pending []*Entity
}

func newEntityManager(r *Region) *EntityManager {
	snapshots := snapshotable.NewManager(r.world.stages)
	return &EntityManager{
		region:    r,
		snapshots: snapshots,
		entities:  snapshotable.NewMap[EntityID, *Entity](snapshots),
	}
}

func (m *EntityManager) Region() *Region {
	return m.region
}

// Allocate assigns a world-unique id to e if it has none.
func (m *EntityManager) Allocate(e *Entity) error {
	if e.ID() != NotSpawned {
		return nil
	}
	id, err := m.region.world.ids.next()
	if err != nil {
		return err
	}
	e.id.Store(int32(id))
	return nil
}

// Deallocate removes e from the manager and releases its id.
func (m *EntityManager) Deallocate(e *Entity) {
	m.RemoveEntity(e)
	e.id.Store(int32(NotSpawned))
}

// IsSpawnable reports whether e can be added to a manager for the first time.
func (m *EntityManager) IsSpawnable(e *Entity) bool {
	return e.ID() == NotSpawned && e.State() == StateUnspawned
}

// AddEntity adds e to the live entity set, allocating an id first if needed.
func (m *EntityManager) AddEntity(e *Entity) error {
	if err := m.Allocate(e); err != nil {
		return eris.Wrap(err, "failed to allocate entity id")
	}
	m.entities.Put(e.ID(), e)
	return nil
}

// RemoveEntity removes e from the live entity set.
func (m *EntityManager) RemoveEntity(e *Entity) {
	m.entities.Remove(e.ID())
}

// Entity returns the entity with id at the last synchronization.
func (m *EntityManager) Entity(id EntityID) (*Entity, bool) {
	return m.entities.Get(id)
}

// All returns the entities owned at the last synchronization.
func (m *EntityManager) All() []*Entity {
	return m.entities.Snapshot().Values()
}

// AllLive returns the entities currently owned. The result can be stale as soon as it returns.
func (m *EntityManager) AllLive() []*Entity {
	out := make([]*Entity, 0, m.entities.LiveLen())
	m.entities.RangeLive(func(_ EntityID, e *Entity) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Len returns the number of entities owned at the last synchronization.
func (m *EntityManager) Len() int {
	return m.entities.Len()
}

// Contains reports whether e was owned at the last synchronization.
func (m *EntityManager) Contains(e *Entity) bool {
	got, ok := m.entities.Get(e.ID())
	return ok && got == e
}

// DirtyIDs returns the ids of entities added or removed since the last synchronization. Only
// legal during PreSnapshot.
func (m *EntityManager) DirtyIDs() ([]EntityID, error) {
	return m.entities.DirtyKeys()
}

func (m *EntityManager) forEachActive(fn func(*Entity)) {
	m.entities.RangeLive(func(_ EntityID, e *Entity) bool {
		if e.State() == StateActive {
			fn(e)
		}
		return true
	})
}

// FinalizeRun completes the removals started last tick, then finalizes every entity owned at the
// last synchronization: removal, region migration and chunk membership.
func (m *EntityManager) FinalizeRun() (finalizeStats, error) {
	var stats finalizeStats

	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, e := range pending {
		e.completeRemoval()
		m.region.world.forget(e)
		stats.removed++
	}
	m.mu.Lock()
	m.departed = append(m.departed, pending...)
	m.mu.Unlock()

	for _, e := range m.All() {
		if e.State() != StateActive {
			continue
		}
		// The entity may have been moved here this tick by another region's finalize, in which
		// case it is already handled.
		if e.placement.Live().Manager != m {
			continue
		}
		result, err := e.finalize(m)
		if err != nil {
			return stats, eris.Wrapf(err, "failed to finalize entity %d", e.ID())
		}
		switch result {
		case finalizeRemoved:
			m.mu.Lock()
			m.departed = append(m.departed, e)
			m.pending = append(m.pending, e)
			m.mu.Unlock()
			stats.detached++
		case finalizeMigrated:
			stats.migrated++
		case finalizeStayed:
		}
	}
	return stats, nil
}

// PreSnapshotRun replicates every live entity that has a network component.
func (m *EntityManager) PreSnapshotRun() {
	m.entities.RangeLive(func(_ EntityID, e *Entity) bool {
		if e.network != nil && e.State() == StateActive {
			e.network.preSnapshot()
		}
		return true
	})
}

// CopyAllSnapshots synchronizes every owned entity and the entities that departed this tick, then
// the manager's own state.
func (m *EntityManager) CopyAllSnapshots() {
	m.entities.RangeLive(func(_ EntityID, e *Entity) bool {
		e.snapshots.CopyAll()
		return true
	})

	m.mu.Lock()
	departed := m.departed
	m.departed = nil
	m.mu.Unlock()
	for _, e := range departed {
		e.snapshots.CopyAll()
	}

	m.snapshots.CopyAll()
}

type finalizeStats struct {
	migrated int
	detached int
	removed  int
}
