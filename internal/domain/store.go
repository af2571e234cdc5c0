package domain

import (
	"context"
	"time"
)

// Key schema shared by every backend.
const (
	KeyAdmin         = "admin"
	KeyIDCounter     = "id_counter"
	PrefixMarket     = "market/"
	PrefixOwnerBets  = "bets/owner/"
	PrefixMarketBets = "bets/market/"
	PrefixBalance    = "balance/"
)

// KV is the view of the key-value store available inside a transaction.
// Get returns ErrNotFound for absent keys. Scan visits keys with the given
// prefix in ascending byte order and stops at the first error fn returns.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Scan(prefix string, fn func(key string, value []byte) error) error
}

// Backend runs functions against the key-value store. Update commits every
// Set made by fn when fn returns nil and discards all of them otherwise.
type Backend interface {
	View(ctx context.Context, fn func(kv KV) error) error
	Update(ctx context.Context, fn func(kv KV) error) error
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log of committed operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
