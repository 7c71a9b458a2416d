package session

import (
	"context"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castctl/internal/testsupport/redisstub"
	"castctl/internal/trackid"
)

func newRedisBridge(t *testing.T, opts redisstub.Options) (*Redis, *redis.Client, *redisstub.Server) {
	t.Helper()
	stub, err := redisstub.Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stub.Close() })

	bridge, err := NewRedis(context.Background(), RedisConfig{
		Addr:     stub.Addr(),
		Password: opts.Password,
		Prefix:   "test",
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bridge.Close() })

	seed := redis.NewClient(&redis.Options{Addr: stub.Addr(), Password: opts.Password, Protocol: 2})
	t.Cleanup(func() { _ = seed.Close() })
	return bridge, seed, stub
}

func TestNewRedisRequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{Addrs: []string{" "}})
	assert.Error(t, err)
}

func TestRedisDevicesEmpty(t *testing.T) {
	bridge, _, _ := newRedisBridge(t, redisstub.Options{})

	devices, err := bridge.Devices(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
}

func TestRedisDevicesDecodesDescriptors(t *testing.T) {
	bridge, seed, _ := newRedisBridge(t, redisstub.Options{})
	ctx := context.Background()

	require.NoError(t, seed.HSet(ctx, "test:devices",
		"office", `{"name":"Office","kind":"computer"}`,
		"attic", "Attic Radio",
	).Err())

	devices, err := bridge.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Device{
		{ID: "attic", Name: "Attic Radio"},
		{ID: "office", Name: "Office", Kind: "computer"},
	}, devices)
}

func TestRedisDevicesConcurrentReaders(t *testing.T) {
	bridge, seed, _ := newRedisBridge(t, redisstub.Options{})
	ctx := context.Background()
	require.NoError(t, seed.HSet(ctx, "test:devices", "a", `{"name":"A"}`).Err())

	var wg sync.WaitGroup
	results := make([][]Device, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			devices, err := bridge.Devices(ctx)
			if err == nil {
				results[i] = devices
			}
		}(i)
	}
	wg.Wait()

	for _, devices := range results {
		require.Len(t, devices, 1)
	}
	results[0][0].Name = "mutated"
	assert.Equal(t, "A", results[1][0].Name, "callers must not share a slice")
}

func TestRedisQueue(t *testing.T) {
	bridge, seed, _ := newRedisBridge(t, redisstub.Options{})
	ctx := context.Background()

	require.NoError(t, seed.HSet(ctx, "test:devices", "d1", `{"name":"One"}`).Err())
	first, second := trackid.New(0, 125), trackid.New(7, 7)
	require.NoError(t, seed.RPush(ctx, "test:queue:d1", first.String(), second.String()).Err())
	require.NoError(t, seed.Set(ctx, "test:position:d1", "1", 0).Err())

	queue, err := bridge.Queue(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []trackid.ID{first, second}, queue.Tracks)
	assert.Equal(t, 1, queue.Position)
}

func TestRedisQueueReadsOneSnapshot(t *testing.T) {
	bridge, seed, stub := newRedisBridge(t, redisstub.Options{})
	ctx := context.Background()
	require.NoError(t, seed.HSet(ctx, "test:devices", "d1", `{}`).Err())
	require.NoError(t, seed.RPush(ctx, "test:queue:d1", trackid.New(0, 1).String()).Err())

	before := stub.Transactions()
	_, err := bridge.Queue(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, before+1, stub.Transactions(), "queue state must be read in a single MULTI/EXEC")

	_, err = bridge.Queue(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, before+2, stub.Transactions())
}

func TestRedisQueueWithoutPositionStartsAtZero(t *testing.T) {
	bridge, seed, _ := newRedisBridge(t, redisstub.Options{})
	ctx := context.Background()
	require.NoError(t, seed.HSet(ctx, "test:devices", "d1", `{}`).Err())

	queue, err := bridge.Queue(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, queue.Tracks)
	assert.Equal(t, 0, queue.Position)
	_, ok := queue.Current()
	assert.False(t, ok)
}

func TestRedisQueueUnknownDevice(t *testing.T) {
	bridge, _, _ := newRedisBridge(t, redisstub.Options{})
	_, err := bridge.Queue(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestRedisQueueCorruptEntry(t *testing.T) {
	bridge, seed, _ := newRedisBridge(t, redisstub.Options{})
	ctx := context.Background()
	require.NoError(t, seed.HSet(ctx, "test:devices", "d1", `{}`).Err())
	require.NoError(t, seed.RPush(ctx, "test:queue:d1", "not-base62!").Err())

	_, err := bridge.Queue(ctx, "d1")
	assert.ErrorIs(t, err, trackid.ErrMalformed)
}

func TestRedisSubmitAppendsToStream(t *testing.T) {
	bridge, _, stub := newRedisBridge(t, redisstub.Options{Password: "s3cret"})
	ctx := context.Background()

	require.NoError(t, bridge.Submit(ctx, "d1", Replace([]trackid.ID{trackid.New(0, 125), trackid.New(0, 39134)})))
	require.NoError(t, bridge.Submit(ctx, "unknown", Transport(KindPause)))

	entries := stub.Entries("test:commands")
	require.Len(t, entries, 2)
	assert.Equal(t, "d1", entries[0].Value("device"))
	assert.Equal(t, "replace", entries[0].Value("command"))
	assert.Equal(t, "0000000000000000000021,0000000000000000000abc", entries[0].Value("tracks"))
	assert.Equal(t, "unknown", entries[1].Value("device"))
	assert.Equal(t, "pause", entries[1].Value("command"))
	assert.Equal(t, "", entries[1].Value("tracks"))
}

func TestNewRedisRejectsWrongPassword(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{Password: "right"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stub.Close() })

	_, err = NewRedis(context.Background(), RedisConfig{Addr: stub.Addr(), Password: "wrong", Timeout: time.Second})
	assert.Error(t, err)
}
