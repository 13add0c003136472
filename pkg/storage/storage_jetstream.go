package storage

import (
	"context"
	"io"
	"math"
	"regexp"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
)

const (
	defaultObjectName  = "snapshot"
	previousObjectName = "snapshot.prev"
)

var validBucket = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// JetStreamStorage implements Storage using a NATS JetStream ObjectStore.
type JetStreamStorage struct {
	os jetstream.ObjectStore
}

var _ Storage = (*JetStreamStorage)(nil)

// NewJetStreamStorage creates or opens the object store bucket named in opts.
func NewJetStreamStorage(ctx context.Context, opts JetStreamStorageOptions) (*JetStreamStorage, error) {
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}

	js, err := jetstream.New(opts.Conn)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create JetStream client")
	}

	osConfig := jetstream.ObjectStoreConfig{
		Bucket:   opts.Bucket,
		MaxBytes: int64(opts.MaxBytes), //nolint:gosec // checked in Validate
	}
	os, err := js.CreateObjectStore(ctx, osConfig)
	if err != nil {
		if !eris.Is(err, jetstream.ErrBucketExists) {
			return nil, eris.Wrapf(err, "failed to create ObjectStore (bucket=%s, maxBytes=%d)",
				osConfig.Bucket, osConfig.MaxBytes)
		}
		os, err = js.ObjectStore(ctx, opts.Bucket)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to get existing ObjectStore (bucket=%s)", opts.Bucket)
		}
	}

	return &JetStreamStorage{os: os}, nil
}

// Store overwrites the current snapshot object after copying it to the backup object.
func (j *JetStreamStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	current, err := j.os.GetBytes(ctx, defaultObjectName)
	switch {
	case err == nil:
		if _, err := j.os.PutBytes(ctx, previousObjectName, current); err != nil {
			return eris.Wrap(err, "failed to back up snapshot")
		}
	case !eris.Is(err, jetstream.ErrObjectNotFound):
		return eris.Wrap(err, "failed to read current snapshot")
	}

	if _, err := j.os.PutBytes(ctx, defaultObjectName, data); err != nil {
		return eris.Wrap(err, "failed to store snapshot in ObjectStore")
	}
	return nil
}

func (j *JetStreamStorage) Load(ctx context.Context) (*Snapshot, error) {
	return j.load(ctx, defaultObjectName)
}

// LoadPrevious retrieves the snapshot replaced by the last Store.
func (j *JetStreamStorage) LoadPrevious(ctx context.Context) (*Snapshot, error) {
	return j.load(ctx, previousObjectName)
}

func (j *JetStreamStorage) load(ctx context.Context, name string) (*Snapshot, error) {
	object, err := j.os.Get(ctx, name)
	if err != nil {
		if eris.Is(err, jetstream.ErrObjectNotFound) {
			return nil, eris.Wrapf(ErrSnapshotNotFound, "object %s", name)
		}
		return nil, eris.Wrap(err, "failed to get snapshot from ObjectStore")
	}
	defer func() {
		_ = object.Close()
	}()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read from object")
	}
	return decodeSnapshot(data)
}

func (j *JetStreamStorage) Exists(ctx context.Context) bool {
	_, err := j.os.GetInfo(ctx, defaultObjectName)
	return err == nil
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

type JetStreamStorageOptions struct {
	Conn   *nats.Conn
	Bucket string `env:"TICKCORE_SNAPSHOT_BUCKET" envDefault:"tickcore_snapshot"`

	// Maximum bytes for the ObjectStore. Required by some NATS providers like Synadia Cloud.
	MaxBytes uint64 `env:"TICKCORE_SNAPSHOT_STORAGE_MAX_BYTES" envDefault:"0"`
}

func (opt *JetStreamStorageOptions) Validate() error {
	if opt.Conn == nil {
		return eris.New("NATS connection cannot be nil")
	}
	if !validBucket.MatchString(opt.Bucket) {
		return eris.Errorf("invalid bucket name %q", opt.Bucket)
	}
	if opt.MaxBytes > math.MaxInt64 {
		return eris.New("snapshot storage max bytes exceeds maximum int64 value")
	}
	return nil
}
