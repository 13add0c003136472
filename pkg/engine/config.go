package engine

import (
	"github.com/argus-labs/tickcore/pkg/codec"
	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/argus-labs/tickcore/pkg/storage"
	"github.com/argus-labs/tickcore/pkg/telemetry"
	"github.com/argus-labs/tickcore/pkg/world"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

const (
	maxTickRate     = 1000.0
	defaultTickRate = 20.0
)

// engineConfig holds the configuration read from environment variables.
type engineConfig struct {
	// Number of ticks per second.
	TickRate float64 `env:"TICKCORE_TICK_RATE" envDefault:"20"`

	// Chunks per region edge.
	RegionSize int `env:"TICKCORE_REGION_SIZE" envDefault:"8"`

	// Blocks per chunk edge.
	ChunkSize int `env:"TICKCORE_CHUNK_SIZE" envDefault:"16"`

	// Number of block writes per chunk tracked individually before a copy falls back to a full copy.
	DirtyCapacity int `env:"TICKCORE_BYTEARRAY_DIRTY_CAPACITY" envDefault:"100"`

	// Persist the world every this many ticks. 0 disables persistence.
	SaveFrequency uint32 `env:"TICKCORE_SAVE_FREQUENCY" envDefault:"100"`

	// Where persisted world records go (nop, redis, jetstream).
	StorageType storage.StorageType `env:"TICKCORE_STORAGE_TYPE" envDefault:"nop"`

	// Encoding of persisted records and entity data blobs (json, msgpack).
	StorageCodec codec.Codec `env:"TICKCORE_STORAGE_CODEC" envDefault:"json"`

	// NATS server URL, used by the jetstream storage.
	NATSURL string `env:"TICKCORE_NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	// Listen address of the debug server. Empty disables it.
	DebugAddr string `env:"TICKCORE_DEBUG_ADDR"`
}

func loadEngineConfig() (engineConfig, error) {
	cfg := engineConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse engine config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

func (cfg *engineConfig) validate() error {
	if cfg.TickRate <= 0 || cfg.TickRate > maxTickRate {
		return eris.Errorf("tick rate must be in (0, %v]", maxTickRate)
	}
	if cfg.RegionSize <= 0 {
		return eris.New("region size must be positive")
	}
	if cfg.ChunkSize <= 0 {
		return eris.New("chunk size must be positive")
	}
	if cfg.DirtyCapacity <= 0 {
		return eris.New("byte array dirty capacity must be positive")
	}
	if !cfg.StorageType.IsValid() {
		return eris.Errorf("invalid storage type %s", cfg.StorageType)
	}
	if !cfg.StorageCodec.IsValid() {
		return eris.Errorf("invalid storage codec %s", cfg.StorageCodec)
	}
	return nil
}

func (cfg *engineConfig) applyToOptions(opt *Options) {
	opt.TickRate = cfg.TickRate
	opt.RegionChunks = cfg.RegionSize
	opt.ChunkSize = cfg.ChunkSize
	opt.DirtyCapacity = cfg.DirtyCapacity
	opt.SaveFrequency = cfg.SaveFrequency
	opt.StorageType = cfg.StorageType
	opt.Codec = cfg.StorageCodec
	opt.NATSURL = cfg.NATSURL
	opt.DebugAddr = cfg.DebugAddr
}

type Options struct {
	TickRate      float64             // Number of ticks per second
	ChunkSize     int                 // Blocks per chunk edge
	RegionChunks  int                 // Chunks per region edge
	DirtyCapacity int                 // Sparse dirty tracking capacity of chunk block arrays
	SaveFrequency uint32              // Ticks between persisted records, 0 disables
	StorageType   storage.StorageType // Storage backend, ignored when Storage is set
	Storage       storage.Storage     // Optional prebuilt storage backend
	Codec         codec.Codec         // Encoding of records and entity data
	NATSURL       string              // NATS server for the jetstream backend
	DebugAddr     string              // Debug server listen address, empty disables
	Generator     world.Generator     // Fills newly created regions
	Synchronizer  world.Synchronizer  // Receives entity replication
	Telemetry     *telemetry.Telemetry
}

func newDefaultOptions() Options {
	return Options{
		TickRate:      defaultTickRate,
		ChunkSize:     world.DefaultChunkSize,
		RegionChunks:  world.DefaultRegionChunks,
		DirtyCapacity: snapshotable.DefaultDirtyCapacity,
		SaveFrequency: 0,
		StorageType:   storage.StorageTypeNop,
		Codec:         codec.JSON,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.TickRate != 0 {
		opt.TickRate = newOpt.TickRate
	}
	if newOpt.ChunkSize != 0 {
		opt.ChunkSize = newOpt.ChunkSize
	}
	if newOpt.RegionChunks != 0 {
		opt.RegionChunks = newOpt.RegionChunks
	}
	if newOpt.DirtyCapacity != 0 {
		opt.DirtyCapacity = newOpt.DirtyCapacity
	}
	if newOpt.SaveFrequency != 0 {
		opt.SaveFrequency = newOpt.SaveFrequency
	}
	if newOpt.StorageType != storage.StorageTypeUndefined {
		opt.StorageType = newOpt.StorageType
	}
	if newOpt.Storage != nil {
		opt.Storage = newOpt.Storage
	}
	if newOpt.Codec != codec.Undefined {
		opt.Codec = newOpt.Codec
	}
	if newOpt.NATSURL != "" {
		opt.NATSURL = newOpt.NATSURL
	}
	if newOpt.DebugAddr != "" {
		opt.DebugAddr = newOpt.DebugAddr
	}
	if newOpt.Generator != nil {
		opt.Generator = newOpt.Generator
	}
	if newOpt.Synchronizer != nil {
		opt.Synchronizer = newOpt.Synchronizer
	}
	if newOpt.Telemetry != nil {
		opt.Telemetry = newOpt.Telemetry
	}
}

func (opt *Options) validate() error {
	if opt.TickRate <= 0 || opt.TickRate > maxTickRate {
		return eris.Errorf("tick rate must be in (0, %v]", maxTickRate)
	}
	if opt.Storage == nil && !opt.StorageType.IsValid() {
		return eris.New("invalid storage type")
	}
	if !opt.Codec.IsValid() {
		return eris.New("invalid codec")
	}
	if opt.StorageType == storage.StorageTypeJetStream && opt.Storage == nil && opt.NATSURL == "" {
		return eris.New("NATS URL cannot be empty with jetstream storage")
	}
	return nil
}
