package engine

import (
	"context"
	"time"

	"github.com/argus-labs/tickcore/pkg/codec"
	"github.com/argus-labs/tickcore/pkg/storage"
	"github.com/argus-labs/tickcore/pkg/world"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// WorldRecord is the persisted form of a world.
type WorldRecord struct {
	Entities []EntityRecord `json:"entities" msgpack:"entities"`
}

// EntityRecord is the persisted form of one entity.
type EntityRecord struct {
	UUID         uuid.UUID       `json:"uuid"                 msgpack:"uuid"`
	Transform    world.Transform `json:"transform"            msgpack:"transform"`
	Capabilities []string        `json:"capabilities"         msgpack:"capabilities"`
	ViewDistance int64           `json:"view_distance"        msgpack:"view_distance"`
	Velocity     world.Vec3      `json:"velocity"             msgpack:"velocity"`
	Data         map[string]any  `json:"data,omitempty"       msgpack:"data"`
}

// Record builds a record of the savable entities from snapshot values only, so it can run
// concurrently with a live phase.
func (e *Engine) Record() WorldRecord {
	var record WorldRecord
	for _, r := range e.world.Regions() {
		for _, entity := range r.EntityManager().All() {
			if !entity.IsSavable() || entity.IsRemovedSnapshot() {
				continue
			}
			capabilities := make([]string, 0, 2)
			for _, c := range entity.Capabilities() {
				capabilities = append(capabilities, c.String())
			}
			record.Entities = append(record.Entities, EntityRecord{
				UUID:         entity.UUID(),
				Transform:    entity.Transform(),
				Capabilities: capabilities,
				ViewDistance: entity.ViewDistance(),
				Velocity:     entity.Physics().Velocity(),
				Data:         entity.DataSnapshot(),
			})
		}
	}
	return record
}

// Save persists the world record at the current tick height.
func (e *Engine) Save(ctx context.Context) error {
	record := e.Record()
	data, err := e.options.Codec.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "failed to encode world record")
	}

	snapshot := &storage.Snapshot{
		TickHeight: e.TickHeight(),
		Timestamp:  time.Now(),
		Codec:      e.options.Codec,
		Data:       data,
		Version:    storage.CurrentVersion,
	}
	if err := e.storage.Store(ctx, snapshot); err != nil {
		return eris.Wrap(err, "failed to store world record")
	}
	e.logger.Debug().Uint64("tick", e.TickHeight()).Int("entities", len(record.Entities)).Msg("world saved")
	return nil
}

// Restore spawns the entities of the latest persisted record and resumes its tick height. A
// missing record leaves the world empty.
func (e *Engine) Restore(ctx context.Context) error {
	snapshot, err := e.storage.Load(ctx)
	if err != nil {
		if eris.Is(err, storage.ErrSnapshotNotFound) {
			e.logger.Info().Msg("no persisted world, starting fresh")
			return nil
		}
		return eris.Wrap(err, "failed to load world record")
	}

	record, err := decodeRecord(snapshot.Codec, snapshot.Data)
	if err != nil {
		return err
	}

	for _, r := range record.Entities {
		capabilities := make([]world.Capability, 0, len(r.Capabilities))
		for _, name := range r.Capabilities {
			c, err := world.ParseCapability(name)
			if err != nil {
				return eris.Wrapf(err, "entity %s", r.UUID)
			}
			capabilities = append(capabilities, c)
		}
		transform := r.Transform
		entity, err := e.world.SpawnEntity(&transform,
			world.WithUUID(r.UUID),
			world.WithCapabilities(capabilities...),
			world.WithDataMap(r.Data),
		)
		if err != nil {
			return eris.Wrapf(err, "failed to spawn entity %s", r.UUID)
		}
		if r.ViewDistance != 0 {
			entity.SetViewDistance(r.ViewDistance)
		}
		if err := entity.Physics().SetVelocity(r.Velocity); err != nil {
			return eris.Wrapf(err, "entity %s", r.UUID)
		}
	}

	e.tickHeight.Store(snapshot.TickHeight)
	e.logger.Info().
		Uint64("tick", snapshot.TickHeight).
		Int("entities", len(record.Entities)).
		Msg("world restored")
	return nil
}

func decodeRecord(c codec.Codec, data []byte) (WorldRecord, error) {
	var record WorldRecord
	if err := c.Unmarshal(data, &record); err != nil {
		return record, eris.Wrap(err, "failed to decode world record")
	}
	return record, nil
}
