package world

import "github.com/rotisserie/eris"

var (
	// ErrMissingTransform is returned when an entity is constructed without a transform.
	ErrMissingTransform = eris.New("entity requires a transform")

	// ErrNonFinite is returned when a transform or velocity holds a NaN or infinite component.
	ErrNonFinite = eris.New("value is not finite")

	// ErrAlreadySpawned is returned when spawning an entity that is not in the unspawned state.
	ErrAlreadySpawned = eris.New("entity already spawned")

	// ErrEntityRemoved is returned when spawning an entity that was removed before it spawned.
	ErrEntityRemoved = eris.New("entity is removed")

	// ErrRegionNotLoaded is returned by region lookups that do not generate missing regions.
	ErrRegionNotLoaded = eris.New("region not loaded")

	// ErrIDsExhausted is returned when the entity id space is used up.
	ErrIDsExhausted = eris.New("entity ids exhausted")

	// ErrUnknownCapability is returned for capabilities outside the known set.
	ErrUnknownCapability = eris.New("unknown capability")
)
