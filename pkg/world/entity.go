package world

import (
	"sync/atomic"
	"time"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// EntityID is the per-world numeric id of a spawned entity.
type EntityID int32

// NotSpawned is the id of an entity that has no id allocated.
const NotSpawned EntityID = -1

// State is the lifecycle state of an entity.
type State uint32

const (
	StateUnspawned      State = iota // Constructed, not owned by any region
	StateActive                      // Owned by a region manager, ticked every live phase
	StatePendingRemoval              // Detached from its manager, components still attached
	StateRemoved                     // Terminal
)

func (s State) String() string {
	switch s {
	case StateUnspawned:
		return "UNSPAWNED"
	case StateActive:
		return "ACTIVE"
	case StatePendingRemoval:
		return "PENDING_REMOVAL"
	case StateRemoved:
		return "REMOVED"
	default:
		return "UNDEFINED"
	}
}

// Placement is an entity's transform together with the manager that owns it. Both are stored in
// one snapshotable so the published transform and the published owner always come from the same
// synchronization.
type Placement struct {
	Transform Transform
	Manager   *EntityManager
}

// Entity is a simulated object owned by the entity manager of the region its position falls in.
type Entity struct {
	world *World
	uuid  uuid.UUID
	id    atomic.Int32
	state atomic.Uint32

	snapshots    *snapshotable.Manager
	placement    *snapshotable.Reference[Placement]
	removal      *snapshotable.Bool
	savable      *snapshotable.Bool
	viewDistance *snapshotable.Int64
	data         *snapshotable.Map[string, any]

	physics    *Physics
	network    *Network
	components []Component

	// chunk is the chunk the entity was last announced to. Only the finalize pass of the owning
	// region and Spawn touch it.
	chunk ChunkCoord

	migrations atomic.Int64
}

// DefaultViewDistance is the observer radius of a new entity, in blocks.
const DefaultViewDistance = 32

type entityConfig struct {
	uuid         uuid.UUID
	data         []byte
	dataMap      map[string]any
	capabilities []Capability
	savable      bool
}

type EntityOption func(*entityConfig)

// WithUUID gives the entity a stable identity instead of a random one.
func WithUUID(id uuid.UUID) EntityOption {
	return func(c *entityConfig) {
		c.uuid = id
	}
}

// WithData seeds the entity's data map from a blob encoded with the world's codec.
func WithData(blob []byte) EntityOption {
	return func(c *entityConfig) {
		c.data = blob
	}
}

// WithDataMap seeds the entity's data map with the entries of data.
func WithDataMap(data map[string]any) EntityOption {
	return func(c *entityConfig) {
		c.dataMap = data
	}
}

// WithCapabilities attaches components in addition to physics, which every entity has.
func WithCapabilities(capabilities ...Capability) EntityOption {
	return func(c *entityConfig) {
		c.capabilities = append(c.capabilities, capabilities...)
	}
}

// WithSavable sets whether the entity is persisted with the world. Entities are savable by default.
func WithSavable(savable bool) EntityOption {
	return func(c *entityConfig) {
		c.savable = savable
	}
}

// NewEntity constructs an unspawned entity at t. The entity's own state is synchronized once
// before it is returned, so it starts consistent; it becomes visible to region readers after the
// first synchronization following Spawn.
func (w *World) NewEntity(t *Transform, opts ...EntityOption) (*Entity, error) {
	if t == nil {
		return nil, eris.Wrap(ErrMissingTransform, "cannot construct entity")
	}
	if !t.IsFinite() {
		return nil, eris.Wrapf(ErrNonFinite, "cannot construct entity at %v", t.Position)
	}

	cfg := entityConfig{uuid: uuid.Nil, savable: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.uuid == uuid.Nil {
		cfg.uuid = uuid.New()
	}

	snapshots := snapshotable.NewManager(w.stages)
	e := &Entity{
		world:        w,
		uuid:         cfg.uuid,
		snapshots:    snapshots,
		placement:    snapshotable.NewReference(snapshots, Placement{Transform: *t}),
		removal:      snapshotable.NewBool(snapshots, false),
		savable:      snapshotable.NewBool(snapshots, cfg.savable),
		viewDistance: snapshotable.NewInt64(snapshots, DefaultViewDistance),
		data:         snapshotable.NewMap[string, any](snapshots),
	}
	e.id.Store(int32(NotSpawned))
	e.state.Store(uint32(StateUnspawned))

	if len(cfg.data) > 0 {
		var data map[string]any
		if err := w.codec.Unmarshal(cfg.data, &data); err != nil {
			return nil, eris.Wrap(err, "failed to decode entity data")
		}
		for k, v := range data {
			e.data.Put(k, v)
		}
	}
	for k, v := range cfg.dataMap {
		e.data.Put(k, v)
	}

	if err := e.attach(CapabilityPhysics); err != nil {
		return nil, err
	}
	for _, c := range cfg.capabilities {
		if c == CapabilityPhysics || e.Has(c) {
			continue
		}
		if err := e.attach(c); err != nil {
			return nil, err
		}
	}

	snapshots.CopyAll()
	return e, nil
}

func (e *Entity) attach(c Capability) error {
	component, err := newComponent(c, e)
	if err != nil {
		return eris.Wrap(err, "failed to create component")
	}
	switch component := component.(type) {
	case *Physics:
		e.physics = component
	case *Network:
		e.network = component
	}
	e.components = append(e.components, component)
	return nil
}

// -------------------------------------------------------------------------------------------------
// Identity and lifecycle
// -------------------------------------------------------------------------------------------------

func (e *Entity) ID() EntityID {
	return EntityID(e.id.Load())
}

func (e *Entity) UUID() uuid.UUID {
	return e.uuid
}

func (e *Entity) State() State {
	return State(e.state.Load())
}

func (e *Entity) World() *World {
	return e.world
}

// Remove flags the entity for removal. The entity leaves its region during the next finalize
// pass. Remove is illegal while snapshots are being taken.
func (e *Entity) Remove() error {
	if err := e.world.stages.Check(tickstage.Not(tickstage.Synchronization)); err != nil {
		return eris.Wrap(err, "cannot remove entity while snapshots are being taken")
	}
	e.removal.Set(true)
	return nil
}

// IsRemoved reports whether Remove has been called. The flag never goes back to false, so the
// live value is stable for every reader.
func (e *Entity) IsRemoved() bool {
	return e.removal.Live()
}

// IsRemovedSnapshot reports whether the removal had been published at the last synchronization.
func (e *Entity) IsRemovedSnapshot() bool {
	return e.removal.Get()
}

// Migrations returns how many times the entity moved to another region's manager.
func (e *Entity) Migrations() int64 {
	return e.migrations.Load()
}

// -------------------------------------------------------------------------------------------------
// Placement
// -------------------------------------------------------------------------------------------------

// Transform returns the transform at the last synchronization.
func (e *Entity) Transform() Transform {
	return e.placement.Get().Transform
}

// LiveTransform returns the current live transform.
func (e *Entity) LiveTransform() Transform {
	return e.placement.Live().Transform
}

// SetTransform replaces the live transform. The owning region is re-evaluated during finalize.
func (e *Entity) SetTransform(t Transform) error {
	if !t.IsFinite() {
		return eris.Wrapf(ErrNonFinite, "cannot move entity %s to %v", e.uuid, t.Position)
	}
	e.placement.Update(func(p Placement) Placement {
		p.Transform = t
		return p
	})
	return nil
}

// Translate moves the live transform by delta. A move that would leave the position non-finite is
// rejected and the transform is left unchanged.
func (e *Entity) Translate(delta Vec3) error {
	if !delta.IsFinite() {
		return eris.Wrapf(ErrNonFinite, "cannot translate entity %s by %v", e.uuid, delta)
	}
	var overflow bool
	e.placement.Update(func(p Placement) Placement {
		next := p.Transform.Translated(delta)
		if overflow = !next.Position.IsFinite(); overflow {
			return p
		}
		p.Transform = next
		return p
	})
	if overflow {
		return eris.Wrapf(ErrNonFinite, "translating entity %s by %v overflows", e.uuid, delta)
	}
	return nil
}

// Manager returns the manager that owned the entity at the last synchronization.
func (e *Entity) Manager() *EntityManager {
	return e.placement.Get().Manager
}

// Region returns the region that owned the entity at the last synchronization, or nil.
func (e *Entity) Region() *Region {
	if m := e.Manager(); m != nil {
		return m.region
	}
	return nil
}

// LiveRegion returns the region that currently owns the entity, or nil.
func (e *Entity) LiveRegion() *Region {
	if m := e.placement.Live().Manager; m != nil {
		return m.region
	}
	return nil
}

func (e *Entity) setManager(m *EntityManager) {
	e.placement.Update(func(p Placement) Placement {
		p.Manager = m
		return p
	})
}

// -------------------------------------------------------------------------------------------------
// Flags and data
// -------------------------------------------------------------------------------------------------

func (e *Entity) IsSavable() bool {
	return e.savable.Get()
}

func (e *Entity) SetSavable(savable bool) {
	e.savable.Set(savable)
}

func (e *Entity) ViewDistance() int64 {
	return e.viewDistance.Get()
}

func (e *Entity) SetViewDistance(d int64) {
	e.viewDistance.Set(d)
}

// Data returns the value stored under key at the last synchronization.
func (e *Entity) Data(key string) (any, bool) {
	return e.data.Get(key)
}

// SetData stores value under key in the live data map.
func (e *Entity) SetData(key string, value any) {
	e.data.Put(key, value)
}

// DeleteData removes key from the live data map.
func (e *Entity) DeleteData(key string) {
	e.data.Remove(key)
}

// DataSnapshot returns a copy of the data map at the last synchronization.
func (e *Entity) DataSnapshot() map[string]any {
	return e.data.Snapshot().ToMap()
}

// EncodeData encodes the data map at the last synchronization with the world's codec.
func (e *Entity) EncodeData() ([]byte, error) {
	blob, err := e.world.codec.Marshal(e.DataSnapshot())
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode entity data")
	}
	return blob, nil
}

// -------------------------------------------------------------------------------------------------
// Components
// -------------------------------------------------------------------------------------------------

func (e *Entity) Has(c Capability) bool {
	for _, component := range e.components {
		if component.Capability() == c {
			return true
		}
	}
	return false
}

// Capabilities returns the capabilities attached to the entity.
func (e *Entity) Capabilities() []Capability {
	out := make([]Capability, 0, len(e.components))
	for _, component := range e.components {
		out = append(out, component.Capability())
	}
	return out
}

func (e *Entity) Physics() *Physics {
	return e.physics
}

// Network returns the network component, or nil when the entity is not replicated.
func (e *Entity) Network() *Network {
	return e.network
}

func (e *Entity) tick(dt time.Duration) {
	for _, component := range e.components {
		component.tick(dt)
	}
}

// -------------------------------------------------------------------------------------------------
// Finalize
// -------------------------------------------------------------------------------------------------

type finalizeResult uint8

const (
	finalizeStayed finalizeResult = iota
	finalizeMigrated
	finalizeRemoved
)

// finalize runs during FINALIZE on the goroutine of m's region, which owns the entity.
func (e *Entity) finalize(m *EntityManager) (finalizeResult, error) {
	region := m.region

	if e.removal.Live() {
		e.physics.deactivate(region)
		m.RemoveEntity(e)
		if chunk, ok := region.liveChunk(e.chunk); ok {
			chunk.onEntityLeave(e)
		}
		e.state.Store(uint32(StatePendingRemoval))
		return finalizeRemoved, nil
	}

	position := e.LiveTransform().Position
	target := e.world.layout.RegionOf(position)
	result := finalizeStayed
	if target != region.coord {
		dst, err := e.world.Region(target, LoadOrGenerate)
		if err != nil {
			return finalizeStayed, eris.Wrapf(err, "failed to load %s for migration", target)
		}

		wasActive := e.physics.deactivate(region)
		m.RemoveEntity(e)
		if chunk, ok := region.liveChunk(e.chunk); ok {
			chunk.onEntityLeave(e)
		}

		if err := dst.manager.AddEntity(e); err != nil {
			return finalizeStayed, eris.Wrapf(err, "failed to attach to %s", target)
		}
		e.setManager(dst.manager)
		if wasActive {
			e.physics.activate(dst)
		}
		e.chunk = e.world.layout.ChunkOf(position)
		dst.chunkAt(e.chunk).onEntityEnter(e)

		e.migrations.Add(1)
		result = finalizeMigrated
		region = dst
	}

	if chunk := e.world.layout.ChunkOf(position); chunk != e.chunk {
		if old, ok := region.liveChunk(e.chunk); ok {
			old.onEntityLeave(e)
		}
		e.chunk = chunk
		region.chunkAt(chunk).onEntityEnter(e)
	}
	return result, nil
}

// completeRemoval runs on the finalize pass after the entity was detached.
func (e *Entity) completeRemoval() {
	for _, component := range e.components {
		component.detach()
	}
	e.setManager(nil)
	e.id.Store(int32(NotSpawned))
	e.state.Store(uint32(StateRemoved))
}
