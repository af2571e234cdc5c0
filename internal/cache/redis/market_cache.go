package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cascade/internal/domain"
)

//go:embed scripts/set_if_version.lua
var setIfVersionLua string

// DefaultMarketTTL bounds how long a cached market may outlive a missed
// invalidation.
const DefaultMarketTTL = 5 * time.Minute

// versionTTL outlives any in-flight fill by a wide margin. An expired
// counter reads as 0, which only ever refuses a fill.
const versionTTL = 24 * time.Hour

// MarketCache implements domain.MarketCache using Redis hashes holding the
// JSON-encoded market under field "data", plus a per-market counter bumped
// on every invalidation.
//
// Key schema:
//
//	<prefix>market:{id}
//	<prefix>market:{id}:version
type MarketCache struct {
	client       *Client
	ttl          time.Duration
	setIfVersion *redis.Script
}

// NewMarketCache creates a MarketCache; ttl <= 0 selects DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{client: c, ttl: ttl, setIfVersion: redis.NewScript(setIfVersionLua)}
}

func (mc *MarketCache) key(id string) string {
	return mc.client.Key("market:", id)
}

func (mc *MarketCache) versionKey(id string) string {
	return mc.client.Key("market:", id, ":version")
}

// Version returns how often id has been invalidated recently.
func (mc *MarketCache) Version(ctx context.Context, id string) (uint64, error) {
	v, err := mc.client.rdb.Get(ctx, mc.versionKey(id)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: market %s version: %w", id, err)
	}
	return v, nil
}

// SetIfVersion stores a market with the configured TTL unless it was
// invalidated after version was read.
func (mc *MarketCache) SetIfVersion(ctx context.Context, market domain.Market, version uint64) (bool, error) {
	data, err := json.Marshal(market)
	if err != nil {
		return false, fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}
	stored, err := mc.setIfVersion.Run(ctx, mc.client.rdb,
		[]string{mc.key(market.ID), mc.versionKey(market.ID)},
		version, data, mc.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return stored == 1, nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.client.rdb.HGet(ctx, mc.key(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// Invalidate drops a cached market and bumps its version.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	pipe := mc.client.rdb.TxPipeline()
	pipe.Incr(ctx, mc.versionKey(id))
	pipe.Expire(ctx, mc.versionKey(id), versionTTL)
	pipe.Del(ctx, mc.key(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
