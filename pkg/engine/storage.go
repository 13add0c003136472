package engine

import (
	"context"

	"github.com/argus-labs/tickcore/pkg/assert"
	"github.com/argus-labs/tickcore/pkg/storage"
	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
)

// openStorage builds the configured backend. Backend specific settings come from the environment.
func openStorage(ctx context.Context, opts Options) (storage.Storage, func() error, error) {
	switch opts.StorageType {
	case storage.StorageTypeNop:
		return storage.NewNopStorage(), func() error { return nil }, nil

	case storage.StorageTypeRedis:
		var redisOpts storage.RedisStorageOptions
		if err := env.Parse(&redisOpts); err != nil {
			return nil, nil, eris.Wrap(err, "failed to parse redis storage env")
		}
		s, err := storage.NewRedisStorage(ctx, redisOpts)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case storage.StorageTypeJetStream:
		conn, err := nats.Connect(opts.NATSURL, nats.Name("tickcore"))
		if err != nil {
			return nil, nil, eris.Wrapf(err, "failed to connect to NATS at %s", opts.NATSURL)
		}
		jsOpts := storage.JetStreamStorageOptions{Conn: conn}
		if err := env.Parse(&jsOpts); err != nil {
			conn.Close()
			return nil, nil, eris.Wrap(err, "failed to parse jetstream storage env")
		}
		s, err := storage.NewJetStreamStorage(ctx, jsOpts)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return s, func() error {
			return eris.Wrap(conn.Drain(), "failed to drain NATS connection")
		}, nil

	case storage.StorageTypeUndefined:
	}
	assert.That(false, "storage type %s passed validation", opts.StorageType)
	return nil, nil, nil
}
