package world

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Capability identifies a component variant. The set is closed: newComponent is the only place
// that turns a capability into a component.
type Capability uint8

const (
	CapabilityUndefined Capability = iota
	CapabilityPhysics               // Movement and membership in the region's physics space
	CapabilityNetwork               // Replication of the transform to observers
)

const (
	physicsString   = "PHYSICS"
	networkString   = "NETWORK"
	undefinedString = "UNDEFINED"
)

func (c Capability) String() string {
	switch c {
	case CapabilityPhysics:
		return physicsString
	case CapabilityNetwork:
		return networkString
	case CapabilityUndefined:
		return undefinedString
	default:
		return undefinedString
	}
}

func (c Capability) IsValid() bool {
	return c == CapabilityPhysics || c == CapabilityNetwork
}

func ParseCapability(s string) (Capability, error) {
	switch strings.ToUpper(s) {
	case physicsString:
		return CapabilityPhysics, nil
	case networkString:
		return CapabilityNetwork, nil
	default:
		return CapabilityUndefined, eris.Wrapf(ErrUnknownCapability, "%q", s)
	}
}

// Component is a capability attached to an entity.
type Component interface {
	Capability() Capability

	// tick runs during the live phase on the goroutine of the entity's region.
	tick(dt time.Duration)

	// detach runs once when the entity is finally removed.
	detach()
}

// newComponent creates the component for capability c and registers its state with e's manager.
func newComponent(c Capability, e *Entity) (Component, error) {
	switch c {
	case CapabilityPhysics:
		return newPhysics(e), nil
	case CapabilityNetwork:
		return newNetwork(e), nil
	case CapabilityUndefined:
		return nil, eris.Wrap(ErrUnknownCapability, "undefined")
	default:
		return nil, eris.Wrapf(ErrUnknownCapability, "%d", c)
	}
}
