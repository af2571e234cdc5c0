package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultReplayEntries bounds MemoryReplayGuard.
const DefaultReplayEntries = 100_000

// ReplayGuard remembers signed requests already served. Remember records
// key for ttl and reports whether it was unseen.
type ReplayGuard interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type seenEntry struct {
	key     string
	expires time.Time
}

// MemoryReplayGuard is a process-local ReplayGuard. When full, the oldest
// entry is evicted first.
type MemoryReplayGuard struct {
	mu    sync.Mutex
	max   int
	seen  map[string]time.Time
	queue []seenEntry
	now   func() time.Time
}

// NewMemoryReplayGuard creates a guard holding at most max keys; max <= 0
// selects DefaultReplayEntries.
func NewMemoryReplayGuard(max int) *MemoryReplayGuard {
	if max <= 0 {
		max = DefaultReplayEntries
	}
	return &MemoryReplayGuard{max: max, seen: make(map[string]time.Time), now: time.Now}
}

// Remember implements ReplayGuard.
func (g *MemoryReplayGuard) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expire(now)
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	if len(g.seen) >= g.max {
		g.evictOldest()
	}
	exp := now.Add(ttl)
	g.seen[key] = exp
	g.queue = append(g.queue, seenEntry{key: key, expires: exp})
	return true, nil
}

// Len returns the number of remembered keys.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// expire drops entries from the head of the queue. The ttl is fixed per
// verifier, so queue order is expiry order.
func (g *MemoryReplayGuard) expire(now time.Time) {
	for len(g.queue) > 0 && !now.Before(g.queue[0].expires) {
		g.evictOldest()
	}
}

func (g *MemoryReplayGuard) evictOldest() {
	if len(g.queue) == 0 {
		return
	}
	head := g.queue[0]
	g.queue[0] = seenEntry{}
	g.queue = g.queue[1:]
	if g.seen[head.key].Equal(head.expires) {
		delete(g.seen, head.key)
	}
}
