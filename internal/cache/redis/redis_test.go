package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/domain"
)

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "cascade:"}
	assert.Equal(t, "cascade:market:id_1", c.Key("market:", "id_1"))
	assert.Equal(t, "plain", (&Client{}).Key("plain"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ledger:*"))
	assert.False(t, hasPattern(domain.ChannelEvents))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("x")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), b)
	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

// liveClient connects to the Redis named by CASCADE_TEST_REDIS_ADDR.
func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CASCADE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASCADE_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "cascade-test:" + t.Name() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerLive(t *testing.T) {
	c := liveClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "ledger", time.Second)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "ledger", time.Second)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))
	unlock()
	unlock()

	unlock, err = lm.Acquire(ctx, "ledger", time.Second)
	require.NoError(t, err)
	unlock()
}

func TestMarketCacheLive(t *testing.T) {
	c := liveClient(t)
	mc := NewMarketCache(c, time.Minute)
	ctx := context.Background()

	_, err := mc.Get(ctx, "id_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m := domain.Market{ID: "id_1", Question: "q", Status: domain.MarketStatusActive, Category: domain.CategoryTech}
	v, err := mc.Version(ctx, "id_1")
	require.NoError(t, err)
	stored, err := mc.SetIfVersion(ctx, m, v)
	require.NoError(t, err)
	assert.True(t, stored)
	got, err := mc.Get(ctx, "id_1")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	require.NoError(t, mc.Invalidate(ctx, "id_1"))
	_, err = mc.Get(ctx, "id_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A fill that read its version before the invalidation is dropped.
	stored, err = mc.SetIfVersion(ctx, m, v)
	require.NoError(t, err)
	assert.False(t, stored)
	_, err = mc.Get(ctx, "id_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	next, err := mc.Version(ctx, "id_1")
	require.NoError(t, err)
	assert.Equal(t, v+1, next)
	stored, err = mc.SetIfVersion(ctx, m, next)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestRateLimiterLive(t *testing.T) {
	c := liveClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()
	require.NoError(t, c.rdb.Del(ctx, c.Key("ratelimit:", "client")).Err())

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStreamLive(t *testing.T) {
	c := liveClient(t)
	sb := NewSignalBus(c, 100)
	ctx := context.Background()
	require.NoError(t, c.rdb.Del(ctx, c.Key(domain.StreamEvents)).Err())

	require.NoError(t, sb.StreamAppend(ctx, domain.StreamEvents, []byte(`{"n":1}`)))
	require.NoError(t, sb.StreamAppend(ctx, domain.StreamEvents, []byte(`{"n":2}`)))
	msgs, err := sb.StreamRead(ctx, domain.StreamEvents, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":2}`, string(msgs[1].Payload))

	rest, err := sb.StreamRead(ctx, domain.StreamEvents, msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}
