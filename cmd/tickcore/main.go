// Command tickcore runs a demo world: a population of drifting entities that wander between
// regions, persisted and observable through the debug server.
package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"os/signal"
	"syscall"

	"github.com/argus-labs/tickcore/pkg/engine"
	"github.com/argus-labs/tickcore/pkg/telemetry"
	"github.com/argus-labs/tickcore/pkg/world"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type demoConfig struct {
	// Number of entities spawned when the restored world is empty.
	Population int `env:"TICKCORE_DEMO_POPULATION" envDefault:"500"`

	// Half-width of the spawn area, in blocks.
	Spread float64 `env:"TICKCORE_DEMO_SPREAD" envDefault:"256"`

	// Maximum speed, in blocks per second.
	Speed float64 `env:"TICKCORE_DEMO_SPEED" envDefault:"12"`
}

func main() {
	var cfg demoConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse demo config")
	}

	tel, err := telemetry.New(telemetry.Options{ServiceName: "tickcore"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	logger := tel.GetLogger("demo")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.NewEngine(ctx, engine.Options{Telemetry: &tel})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create engine")
	}

	Must(
		e.RegisterSystem("wander", wander(cfg.Speed), engine.WithDeps("velocity")),
		e.RegisterSystem("census", census(&tel), engine.WithHook(engine.PreSnapshot)),
	)

	e.Schedule(func(w *world.World) error {
		if len(w.LiveRegions()) > 0 {
			return nil
		}
		for range cfg.Population {
			position := world.Vec3{
				X: (rand.Float64()*2 - 1) * cfg.Spread, //nolint:gosec // demo
				Z: (rand.Float64()*2 - 1) * cfg.Spread, //nolint:gosec // demo
			}
			t := world.NewTransform(position)
			if _, err := w.SpawnEntity(&t, world.WithCapabilities(world.CapabilityNetwork)); err != nil {
				return err
			}
		}
		logger.Info().Int("population", cfg.Population).Msg("spawned population")
		return nil
	})

	if err := e.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("engine stopped with error")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown error")
	}
}

// wander gives a few entities a new random heading every tick.
func wander(speed float64) engine.System {
	return func(_ context.Context, tick engine.Tick) error {
		for _, r := range tick.World.Regions() {
			for _, entity := range r.EntityManager().All() {
				if rand.IntN(20) != 0 { //nolint:gosec // demo
					continue
				}
				err := entity.Physics().SetVelocity(world.Vec3{
					X: (rand.Float64()*2 - 1) * speed, //nolint:gosec // demo
					Z: (rand.Float64()*2 - 1) * speed, //nolint:gosec // demo
				})
				if err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// census logs region churn every hundred ticks.
func census(tel *telemetry.Telemetry) engine.System {
	logger := tel.GetLogger("census")
	return func(_ context.Context, tick engine.Tick) error {
		if tick.Height%100 != 0 {
			return nil
		}
		changed := 0
		for _, r := range tick.World.Regions() {
			ids, err := r.EntityManager().DirtyIDs()
			if err != nil {
				return err
			}
			changed += len(ids)
		}
		logger.Info().
			Uint64("tick", tick.Height).
			Int("regions", len(tick.World.Regions())).
			Int("membership_changes", changed).
			Msg("census")
		return nil
	}
}

func Must(errs ...error) {
	if err := errors.Join(errs...); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}
