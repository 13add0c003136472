package engine

import (
	"context"
	"time"

	"github.com/argus-labs/tickcore/pkg/world"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// SystemHook defines when in the tick a system runs.
type SystemHook uint8

const (
	PreUpdate   SystemHook = iota // STAGE1, before Update systems
	Update                        // STAGE1, alongside the region ticks
	PostUpdate                    // STAGE2P
	PreSnapshot                   // PRE_SNAPSHOT, after the world's own pre-snapshot pass
	hookCount
)

func (h SystemHook) String() string {
	switch h {
	case PreUpdate:
		return "PRE_UPDATE"
	case Update:
		return "UPDATE"
	case PostUpdate:
		return "POST_UPDATE"
	case PreSnapshot:
		return "PRE_SNAPSHOT"
	case hookCount:
	}
	return "UNDEFINED"
}

// Tick is what a system sees of the tick it runs in.
type Tick struct {
	Height uint64        // Ticks completed before this one
	DT     time.Duration // Simulated time step
	World  *world.World
}

// System is a unit of game logic. Systems of the same hook run concurrently unless ordered by
// shared dependencies; a system must only touch state it declared, or state that is safe for
// concurrent use.
type System func(ctx context.Context, tick Tick) error

type systemConfig struct {
	hook SystemHook
	deps []string
}

type SystemOption func(*systemConfig)

// WithHook sets when the system runs. Defaults to Update.
func WithHook(hook SystemHook) SystemOption {
	return func(c *systemConfig) {
		c.hook = hook
	}
}

// WithDeps names the resources the system reads or writes. Systems of the same hook that share a
// resource never run at the same time and run in registration order.
func WithDeps(resources ...string) SystemOption {
	return func(c *systemConfig) {
		c.deps = append(c.deps, resources...)
	}
}

// RegisterSystem adds a system. Systems can only be registered before the engine starts.
func (e *Engine) RegisterSystem(name string, system System, opts ...SystemOption) error {
	if e.lifecycle.Current() != LifecycleInit {
		return eris.Errorf("cannot register system %s after the engine started", name)
	}
	if system == nil {
		return eris.Errorf("system %s is nil", name)
	}

	cfg := systemConfig{hook: Update}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hook >= hookCount {
		return eris.Errorf("invalid system hook %d", cfg.hook)
	}

	if _, exists := e.systemNames[name]; exists {
		return eris.Errorf("system %s already registered", name)
	}
	e.systemNames[name] = struct{}{}

	var deps bitmap.Bitmap
	for _, resource := range cfg.deps {
		id, ok := e.resources[resource]
		if !ok {
			id = uint32(len(e.resources)) //nolint:gosec // bounded by registrations
			e.resources[resource] = id
		}
		deps.Set(id)
	}

	e.schedulers[cfg.hook].register(name, deps, func(ctx context.Context) error {
		return system(ctx, e.currentTick)
	})
	e.logger.Debug().Str("system", name).Stringer("hook", cfg.hook).Strs("deps", cfg.deps).Msg("system registered")
	return nil
}
