package redis

import (
	"context"
	"fmt"
	"time"
)

// ReplayGuard implements auth.ReplayGuard with SET NX so every server
// instance sharing the Redis sees the same request history.
//
// Key schema:
//
//	<prefix>replay:{owner}:{message hash}
type ReplayGuard struct {
	client *Client
}

// NewReplayGuard creates a ReplayGuard.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{client: c}
}

// Remember reports whether key was unseen, recording it for ttl.
func (g *ReplayGuard) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := g.client.rdb.SetNX(ctx, g.client.Key("replay:", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: remember %s: %w", key, err)
	}
	return fresh, nil
}
