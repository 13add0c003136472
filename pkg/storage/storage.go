// Package storage persists encoded world records outside the process.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/argus-labs/tickcore/pkg/codec"
	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"
)

// Snapshot is a persisted world record taken at the end of a tick.
type Snapshot struct {
	TickHeight uint64      `msgpack:"tick_height"`
	Timestamp  time.Time   `msgpack:"timestamp"`
	Codec      codec.Codec `msgpack:"codec"` // Encoding of Data
	Data       []byte      `msgpack:"data"`
	Version    uint32      `msgpack:"version"`
}

const CurrentVersion uint32 = 1

var ErrSnapshotNotFound = eris.New("snapshot not found")

// Storage persists the latest snapshot.
type Storage interface {
	// Store saves the snapshot, replacing the existing one. The replaced snapshot is kept as a
	// backup where the backend supports it.
	Store(ctx context.Context, snapshot *Snapshot) error

	// Load retrieves the current snapshot. Returns ErrSnapshotNotFound if none exists.
	Load(ctx context.Context) (*Snapshot, error)
}

// StorageType defines the type of snapshot storage to use.
type StorageType uint8

const (
	StorageTypeUndefined StorageType = iota
	StorageTypeNop
	StorageTypeRedis
	StorageTypeJetStream
)

const (
	nopStorageString       = "NOP"
	redisStorageString     = "REDIS"
	jetStreamStorageString = "JETSTREAM"
	undefinedStorageString = "UNDEFINED"
)

func (s StorageType) String() string {
	switch s {
	case StorageTypeNop:
		return nopStorageString
	case StorageTypeRedis:
		return redisStorageString
	case StorageTypeJetStream:
		return jetStreamStorageString
	case StorageTypeUndefined:
		return undefinedStorageString
	default:
		return undefinedStorageString
	}
}

func (s StorageType) IsValid() bool {
	return s == StorageTypeNop || s == StorageTypeRedis || s == StorageTypeJetStream
}

func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToUpper(s) {
	case nopStorageString:
		return StorageTypeNop, nil
	case redisStorageString:
		return StorageTypeRedis, nil
	case jetStreamStorageString:
		return StorageTypeJetStream, nil
	default:
		return StorageTypeUndefined, eris.Errorf("invalid storage type: %s", s)
	}
}

// UnmarshalText lets StorageType be parsed directly from environment variables.
func (s *StorageType) UnmarshalText(text []byte) error {
	parsed, err := ParseStorageType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// -------------------------------------------------------------------------------------------------
// Envelope
// -------------------------------------------------------------------------------------------------

func encodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, eris.New("snapshot cannot be nil")
	}
	if !snapshot.Codec.IsValid() {
		return nil, eris.Errorf("invalid snapshot codec: %s", snapshot.Codec)
	}
	data, err := msgpack.Marshal(snapshot)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal snapshot")
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal snapshot")
	}
	if snapshot.Version != CurrentVersion {
		return nil, eris.Errorf("unsupported snapshot version %d", snapshot.Version)
	}
	if !snapshot.Codec.IsValid() {
		return nil, eris.Errorf("invalid snapshot codec: %s", snapshot.Codec)
	}
	return &snapshot, nil
}
