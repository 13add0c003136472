package world

import (
	"github.com/argus-labs/tickcore/pkg/codec"
	"github.com/argus-labs/tickcore/pkg/snapshotable"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	DefaultChunkSize    = 16
	DefaultRegionChunks = 8
	maxChunkSize        = 64
	maxRegionChunks     = 1024
)

type Options struct {
	Stages        *tickstage.Tracker // Stage tracker shared with the tick driver
	ChunkSize     int                // Blocks per chunk edge
	RegionChunks  int                // Chunks per region edge
	DirtyCapacity int                // Per-chunk sparse dirty tracking capacity of the block array
	Codec         DataCodec          // Codec for entity data blobs
	Generator     Generator          // Fills newly created regions
	Synchronizer  Synchronizer       // Receives network replication of entities
	Logger        *zerolog.Logger    // Defaults to a disabled logger
}

type options struct {
	Options
	logger zerolog.Logger
}

func newDefaultOptions() options {
	return options{
		Options: Options{
			Stages:        tickstage.Default(),
			ChunkSize:     DefaultChunkSize,
			RegionChunks:  DefaultRegionChunks,
			DirtyCapacity: snapshotable.DefaultDirtyCapacity,
			Codec:         codec.JSON,
			Generator:     NopGenerator{},
			Synchronizer:  NopSynchronizer{},
		},
		logger: zerolog.Nop(),
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *options) apply(newOpt Options) {
	if newOpt.Stages != nil {
		opt.Stages = newOpt.Stages
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
	if newOpt.Codec != nil {
		opt.Codec = newOpt.Codec
	}
	if newOpt.Generator != nil {
		opt.Generator = newOpt.Generator
	}
	if newOpt.Synchronizer != nil {
		opt.Synchronizer = newOpt.Synchronizer
	}
	if newOpt.Logger != nil {
		opt.logger = *newOpt.Logger
	}
}

func (opt *options) validate() error {
	if opt.ChunkSize <= 0 || opt.ChunkSize > maxChunkSize {
		return eris.Errorf("chunk size must be in (0, %d]", maxChunkSize)
	}
	if opt.RegionChunks <= 0 || opt.RegionChunks > maxRegionChunks {
		return eris.Errorf("region chunks must be in (0, %d]", maxRegionChunks)
	}
	if opt.DirtyCapacity <= 0 {
		return eris.New("dirty capacity must be positive")
	}
	return nil
}
