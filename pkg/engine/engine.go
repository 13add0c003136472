// Package engine drives a world through its tick stages at a fixed rate: global tasks, the live
// phase with user systems, finalize, pre-snapshot and the snapshot copy. It also persists the world
// and serves a read-only debug endpoint.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/argus-labs/tickcore/pkg/storage"
	"github.com/argus-labs/tickcore/pkg/telemetry"
	"github.com/argus-labs/tickcore/pkg/telemetry/sentry"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/argus-labs/tickcore/pkg/world"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work scheduled from any goroutine and run at the start of the next tick, in the
// GLOBAL stage, where it may create regions and spawn entities.
type Task func(w *world.World) error

type Engine struct {
	world  *world.World
	stages *tickstage.Tracker

	schedulers  [hookCount]systemScheduler
	systemNames map[string]struct{}
	resources   map[string]uint32
	currentTick Tick

	tasksMu sync.Mutex
	tasks   []Task

	tickHeight atomic.Uint64
	lifecycle  lifecycleManager

	storage      storage.Storage
	closeStorage func() error
	debug        *debugServer

	options Options
	tel     telemetry.Telemetry
	logger  zerolog.Logger
}

// NewEngine creates an engine and its world. Configuration is read from the environment and
// overridden by the non-zero fields of opts.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	cfg, err := loadEngineConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load engine config")
	}
	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid engine options")
	}

	var tel telemetry.Telemetry
	if options.Telemetry != nil {
		tel = *options.Telemetry
	} else {
		tel, err = telemetry.New(telemetry.Options{ServiceName: "tickcore"})
		if err != nil {
			return nil, eris.Wrap(err, "failed to initialize telemetry")
		}
	}
	logger := tel.GetLogger("engine")

	stages := tickstage.NewTracker()
	worldLogger := tel.GetLogger("world")
	w, err := world.NewWorld(world.Options{
		Stages:        stages,
		ChunkSize:     options.ChunkSize,
		RegionChunks:  options.RegionChunks,
		DirtyCapacity: options.DirtyCapacity,
		Codec:         options.Codec,
		Generator:     options.Generator,
		Synchronizer:  options.Synchronizer,
		Logger:        &worldLogger,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to create world")
	}

	e := &Engine{
		world:        w,
		stages:       stages,
		systemNames:  make(map[string]struct{}),
		resources:    make(map[string]uint32),
		options:      options,
		tel:          tel,
		logger:       logger,
		closeStorage: func() error { return nil },
	}
	for i := range e.schedulers {
		e.schedulers[i] = newSystemScheduler()
	}

	if options.Storage != nil {
		e.storage = options.Storage
	} else {
		e.storage, e.closeStorage, err = openStorage(ctx, options)
		if err != nil {
			return nil, eris.Wrap(err, "failed to open storage")
		}
	}

	if options.DebugAddr != "" {
		e.debug, err = newDebugServer(e)
		if err != nil {
			return nil, errors.Join(err, e.closeStorage())
		}
	}

	logger.Info().
		Float64("tick_rate", options.TickRate).
		Stringer("storage", options.StorageType).
		Stringer("codec", options.Codec).
		Msg("engine created")
	return e, nil
}

func (e *Engine) World() *world.World {
	return e.world
}

func (e *Engine) Stages() *tickstage.Tracker {
	return e.stages
}

// TickHeight returns the number of completed ticks.
func (e *Engine) TickHeight() uint64 {
	return e.tickHeight.Load()
}

func (e *Engine) Lifecycle() Lifecycle {
	return e.lifecycle.Current()
}

// Schedule queues fn to run at the start of the next tick. Safe to call from any goroutine.
func (e *Engine) Schedule(fn Task) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	e.tasks = append(e.tasks, fn)
}

// -------------------------------------------------------------------------------------------------
// Running
// -------------------------------------------------------------------------------------------------

// Run restores the persisted world, then ticks at the configured rate until ctx is cancelled. A
// tick error is fatal: it is reported and the process panics after telemetry is flushed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.lifecycle.CompareAndSwap(LifecycleInit, LifecycleRunning) {
		return eris.Errorf("engine cannot start from %s", e.lifecycle.Current())
	}
	defer e.shutdown()
	defer sentry.RecoverAndFlush(true)

	e.init()
	if err := e.Restore(ctx); err != nil {
		return eris.Wrap(err, "failed to restore world")
	}
	if e.debug != nil {
		if err := e.debug.start(e.options.DebugAddr); err != nil {
			return eris.Wrap(err, "failed to start debug server")
		}
	}

	interval := time.Duration(float64(time.Second) / e.options.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("starting tick loop")
	for {
		select {
		case <-ctx.Done():
			e.lifecycle.Store(LifecycleShuttingDown)
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := e.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					e.lifecycle.Store(LifecycleShuttingDown)
					return nil
				}
				sentry.CaptureException(ctx, err, e.TickHeight())
				e.logger.Error().Err(err).Uint64("tick", e.TickHeight()).Msg("tick failed")
				panic(eris.ToString(err, true))
			}
			if time.Since(start) > interval {
				e.tel.Metrics.TickOverrun()
			}
		}
	}
}

// init freezes system registration and builds the schedules.
func (e *Engine) init() {
	for i := range e.schedulers {
		e.schedulers[i].createSchedule()
	}
}

// Start freezes system registration without running the tick loop, for callers that drive ticks
// themselves.
func (e *Engine) Start(ctx context.Context) error {
	if !e.lifecycle.CompareAndSwap(LifecycleInit, LifecycleRunning) {
		return eris.Errorf("engine cannot start from %s", e.lifecycle.Current())
	}
	e.init()
	return e.Restore(ctx)
}

// Close stops an engine started with Start.
func (e *Engine) Close() {
	e.shutdown()
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.logger.Info().Msg("shutting down engine")
	if e.debug != nil {
		if err := e.debug.shutdown(ctx); err != nil {
			e.logger.Error().Err(err).Msg("debug server shutdown error")
		}
	}
	if err := e.closeStorage(); err != nil {
		e.logger.Error().Err(err).Msg("storage shutdown error")
	}
	if e.options.Telemetry == nil {
		if err := e.tel.Shutdown(ctx); err != nil {
			e.logger.Error().Err(err).Msg("telemetry shutdown error")
		}
	}
	e.lifecycle.Store(LifecycleShutDown)
	e.logger.Info().Msg("engine shutdown complete")
}

// -------------------------------------------------------------------------------------------------
// Tick
// -------------------------------------------------------------------------------------------------

// Tick advances the world by one tick. The engine must have been started.
func (e *Engine) Tick(ctx context.Context) error {
	if e.lifecycle.Current() != LifecycleRunning {
		return eris.Errorf("cannot tick in lifecycle %s", e.lifecycle.Current())
	}
	if stage := e.stages.Current(); stage != tickstage.TickStart {
		return eris.Errorf("tick started in stage %s", stage)
	}

	ctx, span := e.tel.Tracer.Start(ctx, "tick", trace.WithAttributes(
		attribute.Int64("tick.height", int64(e.TickHeight())), //nolint:gosec // fits
	))
	defer span.End()
	start := time.Now()

	e.currentTick = Tick{
		Height: e.TickHeight(),
		DT:     time.Duration(float64(time.Second) / e.options.TickRate),
		World:  e.world,
	}

	steps := []struct {
		stage tickstage.Stage
		fn    func(ctx context.Context) error
	}{
		{tickstage.TickStart, e.runTasks},
		{tickstage.Stage1, e.runLive},
		{tickstage.Stage2P, e.schedulers[PostUpdate].Run},
		{tickstage.Finalize, e.runFinalize},
		{tickstage.PreSnapshot, e.runPreSnapshot},
		{tickstage.Snapshot, e.world.CopySnapshots},
	}
	for _, step := range steps {
		if err := e.runStage(ctx, step.stage, step.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tick failed")
			return err
		}
	}
	e.stages.Store(tickstage.TickStart)
	e.tickHeight.Add(1)

	if e.options.SaveFrequency > 0 && e.TickHeight()%uint64(e.options.SaveFrequency) == 0 {
		if err := e.Save(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save failed")
			return eris.Wrap(err, "failed to persist world")
		}
	}

	e.tel.Metrics.TickDuration(time.Since(start))
	return nil
}

func (e *Engine) runStage(ctx context.Context, stage tickstage.Stage, fn func(ctx context.Context) error) error {
	ctx, span := e.tel.Tracer.Start(ctx, "tick."+stage.String())
	defer span.End()

	e.stages.Store(stage)
	start := time.Now()
	err := fn(ctx)
	e.tel.Metrics.StageDuration(stage.String(), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		return eris.Wrapf(err, "stage %s failed", stage)
	}
	return nil
}

// runTasks drains the task queue in the GLOBAL stage. Tasks scheduled by tasks run next tick.
func (e *Engine) runTasks(context.Context) error {
	e.tasksMu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.tasksMu.Unlock()
	if len(tasks) == 0 {
		return nil
	}

	e.stages.Store(tickstage.Global)
	defer e.stages.Store(tickstage.TickStart)
	for i, task := range tasks {
		if err := task(e.world); err != nil {
			return eris.Wrapf(err, "task %d failed", i)
		}
	}
	return nil
}

// runLive runs PreUpdate systems, then Update systems alongside the region ticks.
func (e *Engine) runLive(ctx context.Context) error {
	if err := e.schedulers[PreUpdate].Run(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.schedulers[Update].Run(ctx)
	})
	g.Go(func() error {
		return e.world.Tick(ctx, e.currentTick.DT)
	})
	return g.Wait()
}

func (e *Engine) runFinalize(ctx context.Context) error {
	stats, err := e.world.Finalize(ctx)
	e.tel.Metrics.Finalize(stats.Migrated, stats.Detached, stats.Removed)
	return err
}

func (e *Engine) runPreSnapshot(ctx context.Context) error {
	if err := e.world.PreSnapshot(ctx); err != nil {
		return err
	}
	return e.schedulers[PreSnapshot].Run(ctx)
}
