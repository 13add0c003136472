package storage_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/argus-labs/tickcore/pkg/codec"
	"github.com/argus-labs/tickcore/pkg/storage"
	"github.com/argus-labs/tickcore/pkg/testutils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type previousLoader interface {
	storage.Storage
	LoadPrevious(ctx context.Context) (*storage.Snapshot, error)
}

func newSnapshot(height uint64, data string) *storage.Snapshot {
	return &storage.Snapshot{
		TickHeight: height,
		Timestamp:  time.Unix(1700000000+int64(height), 0).UTC(), //nolint:gosec // small test values
		Codec:      codec.JSON,
		Data:       []byte(data),
		Version:    storage.CurrentVersion,
	}
}

// exerciseStorage runs the behavior every backend with a backup slot shares.
func exerciseStorage(t *testing.T, s previousLoader) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)
	_, err = s.LoadPrevious(ctx)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	first := newSnapshot(10, `{"entities":[]}`)
	require.NoError(t, s.Store(ctx, first))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.TickHeight, got.TickHeight)
	assert.True(t, first.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, first.Data, got.Data)
	assert.Equal(t, codec.JSON, got.Codec)

	second := newSnapshot(20, `{"entities":[{}]}`)
	require.NoError(t, s.Store(ctx, second))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), got.TickHeight)
	prev, err := s.LoadPrevious(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), prev.TickHeight)
	assert.Equal(t, first.Data, prev.Data)

	require.Error(t, s.Store(ctx, nil))
	bad := newSnapshot(30, "{}")
	bad.Codec = codec.Undefined
	require.Error(t, s.Store(ctx, bad))
}

func TestRedisStorage(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	s, err := storage.NewRedisStorage(context.Background(), storage.RedisStorageOptions{
		Addr:   mr.Addr(),
		Prefix: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStorage(t, s)
	assert.True(t, mr.Exists("test:snapshot"))
	assert.True(t, mr.Exists("test:snapshot:prev"))
}

func TestRedisStorage_SharedClient(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := storage.NewRedisStorage(context.Background(), storage.RedisStorageOptions{
		Client: client,
		Prefix: "shared",
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// The storage does not own the client.
	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestRedisStorage_CorruptSnapshot(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("corrupt:snapshot", "not msgpack"))

	s, err := storage.NewRedisStorage(context.Background(), storage.RedisStorageOptions{
		Addr:   mr.Addr(),
		Prefix: "corrupt",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Load(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestRedisStorage_InvalidOptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := storage.NewRedisStorage(ctx, storage.RedisStorageOptions{Prefix: "p"})
	require.Error(t, err)
	_, err = storage.NewRedisStorage(ctx, storage.RedisStorageOptions{Addr: "localhost:1"})
	require.Error(t, err)
}

func TestJetStreamStorage(t *testing.T) {
	t.Parallel()
	r := testutils.NewRand(t)

	s, err := storage.NewJetStreamStorage(context.Background(), storage.JetStreamStorageOptions{
		Conn:   newTestConn(t),
		Bucket: "test_" + strconv.FormatUint(r.Uint64(), 10),
	})
	require.NoError(t, err)
	assert.False(t, s.Exists(context.Background()))

	exerciseStorage(t, s)
	assert.True(t, s.Exists(context.Background()))
}

func TestJetStreamStorage_ReopensBucket(t *testing.T) {
	t.Parallel()
	r := testutils.NewRand(t)
	ctx := context.Background()
	opts := storage.JetStreamStorageOptions{
		Conn:   newTestConn(t),
		Bucket: "reopen_" + strconv.FormatUint(r.Uint64(), 10),
	}

	first, err := storage.NewJetStreamStorage(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, first.Store(ctx, newSnapshot(5, "{}")))

	second, err := storage.NewJetStreamStorage(ctx, opts)
	require.NoError(t, err)
	got, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.TickHeight)
}

func TestJetStreamStorage_InvalidOptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := storage.NewJetStreamStorage(ctx, storage.JetStreamStorageOptions{Bucket: "b"})
	require.Error(t, err)
	_, err = storage.NewJetStreamStorage(ctx, storage.JetStreamStorageOptions{
		Conn:   newTestConn(t),
		Bucket: "has.dots",
	})
	require.Error(t, err)
}

func TestNopStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewNopStorage()

	require.NoError(t, s.Store(ctx, newSnapshot(1, "{}")))
	_, err := s.Load(ctx)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestParseStorageType(t *testing.T) {
	t.Parallel()

	for _, want := range []storage.StorageType{
		storage.StorageTypeNop, storage.StorageTypeRedis, storage.StorageTypeJetStream,
	} {
		got, err := storage.ParseStorageType(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.True(t, got.IsValid())
	}

	got, err := storage.ParseStorageType("s3")
	require.Error(t, err)
	assert.False(t, got.IsValid())

	var parsed storage.StorageType
	require.NoError(t, parsed.UnmarshalText([]byte("redis")))
	assert.Equal(t, storage.StorageTypeRedis, parsed)
}
