package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStorage keeps the current snapshot and the one it replaced under two keys.
type RedisStorage struct {
	client *redis.Client
	owned  bool
	key    string
	prev   string
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage connects to redis, or uses opts.Client when set. A client created here is closed
// by Close.
func NewRedisStorage(ctx context.Context, opts RedisStorageOptions) (*RedisStorage, error) {
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}

	client, owned := opts.Client, false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		owned = true
	}
	if err := client.Ping(ctx).Err(); err != nil {
		if owned {
			_ = client.Close()
		}
		return nil, eris.Wrapf(err, "failed to reach redis at %s", client.Options().Addr)
	}

	key := opts.Prefix + ":snapshot"
	return &RedisStorage{client: client, owned: owned, key: key, prev: key + ":prev"}, nil
}

// Store replaces the current snapshot, moving the existing one to the backup key in the same
// transaction.
func (r *RedisStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, r.key).Bytes()
		if err != nil && !eris.Is(err, redis.Nil) {
			return eris.Wrap(err, "failed to read current snapshot")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if current != nil {
				pipe.Set(ctx, r.prev, current, 0)
			}
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		return err
	}, r.key)
	if err != nil {
		return eris.Wrapf(err, "failed to store snapshot at tick %d", snapshot.TickHeight)
	}
	return nil
}

func (r *RedisStorage) Load(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.key)
}

// LoadPrevious retrieves the snapshot replaced by the last Store.
func (r *RedisStorage) LoadPrevious(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.prev)
}

func (r *RedisStorage) load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, eris.Wrapf(ErrSnapshotNotFound, "key %s", key)
		}
		return nil, eris.Wrapf(err, "failed to get %s", key)
	}
	return decodeSnapshot(data)
}

func (r *RedisStorage) Close() error {
	if !r.owned {
		return nil
	}
	return eris.Wrap(r.client.Close(), "failed to close redis client")
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

type RedisStorageOptions struct {
	Client   *redis.Client // Optional, takes precedence over Addr
	Addr     string        `env:"TICKCORE_REDIS_ADDR" envDefault:"localhost:6379"`
	Password string        `env:"TICKCORE_REDIS_PASSWORD"`
	DB       int           `env:"TICKCORE_REDIS_DB" envDefault:"0"`
	Prefix   string        `env:"TICKCORE_REDIS_PREFIX" envDefault:"tickcore"`
}

func (opt *RedisStorageOptions) Validate() error {
	if opt.Client == nil && opt.Addr == "" {
		return eris.New("redis address cannot be empty")
	}
	if opt.Prefix == "" {
		return eris.New("key prefix cannot be empty")
	}
	if opt.DB < 0 {
		return eris.New("redis db cannot be negative")
	}
	return nil
}
