package world

import (
	"time"

	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/rotisserie/eris"
)

// Physics moves its entity by its velocity every live phase and keeps the entity registered as a
// body in the physics space of the region that owns it.
type Physics struct {
	entity   *Entity
	active   *snapshotable.Bool
	velocity *snapshotable.Reference[Vec3]
}

var _ Component = (*Physics)(nil)

func newPhysics(e *Entity) *Physics {
	return &Physics{
		entity:   e,
		active:   snapshotable.NewBool(e.snapshots, false),
		velocity: snapshotable.NewReference(e.snapshots, Vec3{}),
	}
}

func (p *Physics) Capability() Capability {
	return CapabilityPhysics
}

// IsActive reports whether the body was active at the last synchronization.
func (p *Physics) IsActive() bool {
	return p.active.Get()
}

// Velocity returns the velocity at the last synchronization, in blocks per second.
func (p *Physics) Velocity() Vec3 {
	return p.velocity.Get()
}

// SetVelocity sets the live velocity.
func (p *Physics) SetVelocity(v Vec3) error {
	if !v.IsFinite() {
		return eris.Wrapf(ErrNonFinite, "invalid velocity %v", v)
	}
	p.velocity.Set(v)
	return nil
}

func (p *Physics) tick(dt time.Duration) {
	if !p.active.Live() {
		return
	}
	v := p.velocity.Live()
	if v.IsZero() {
		return
	}
	if err := p.entity.Translate(v.Scale(dt.Seconds())); err != nil {
		// The body would leave the representable space; it stops where it is.
		p.velocity.Set(Vec3{})
	}
}

func (p *Physics) activate(r *Region) {
	p.active.Set(true)
	r.bodies.Add(p.entity.ID())
}

func (p *Physics) deactivate(r *Region) (wasActive bool) {
	wasActive = p.active.Live()
	p.active.Set(false)
	r.bodies.Remove(p.entity.ID())
	return wasActive
}

func (p *Physics) detach() {
	p.active.Set(false)
	p.velocity.Set(Vec3{})
}
