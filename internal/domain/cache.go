package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market lookups in front of the backend.
//
// Every Invalidate bumps the market's version. A reader filling a miss
// takes Version before reading the backend and passes it to SetIfVersion,
// so a fill that raced a write is dropped instead of caching stale state.
type MarketCache interface {
	Get(ctx context.Context, id string) (Market, error)
	Version(ctx context.Context, id string) (uint64, error)
	SetIfVersion(ctx context.Context, market Market, version uint64) (bool, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides mutual exclusion across goroutines or processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Bus channel and stream names.
const (
	ChannelEvents   = "ledger:events"
	ChannelMessages = "ledger:messages"
	StreamEvents    = "ledger:journal"
)

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
