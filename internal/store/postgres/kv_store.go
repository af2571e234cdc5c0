package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// DefaultLockKey is the pg_advisory_xact_lock key taken by every write.
const DefaultLockKey int64 = 0x63617363616465 // "cascade"

// KVStore implements domain.Backend on the ledger_kv table. Every Update
// takes a transaction-scoped advisory lock, so service instances sharing
// one database apply operations one at a time.
type KVStore struct {
	pool    *pgxpool.Pool
	lockKey int64
}

// NewKVStore creates a KVStore backed by the given connection pool.
func NewKVStore(pool *pgxpool.Pool) *KVStore {
	return &KVStore{pool: pool, lockKey: DefaultLockKey}
}

// View runs fn in a read-only repeatable-read transaction.
func (s *KVStore) View(ctx context.Context, fn func(kv domain.KV) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(&pgKV{ctx: ctx, tx: tx})
	})
}

// Update runs fn in a read-write transaction holding the advisory lock.
func (s *KVStore) Update(ctx context.Context, fn func(kv domain.KV) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", s.lockKey); err != nil {
			return fmt.Errorf("postgres: advisory lock: %w", err)
		}
		return fn(&pgKV{ctx: ctx, tx: tx})
	})
}

type pgKV struct {
	ctx context.Context
	tx  pgx.Tx
}

func (k *pgKV) Get(key string) ([]byte, error) {
	var v []byte
	err := k.tx.QueryRow(k.ctx, `SELECT value FROM ledger_kv WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	return v, nil
}

func (k *pgKV) Set(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	const query = `
		INSERT INTO ledger_kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := k.tx.Exec(k.ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: set %s: %w", key, err)
	}
	return nil
}

// Scan buffers the matching rows before calling fn, since a pgx connection
// cannot run a second query while rows are open.
func (k *pgKV) Scan(prefix string, fn func(key string, value []byte) error) error {
	const query = `
		SELECT key, value FROM ledger_kv
		WHERE left(key, length($1::text)) = $1
		ORDER BY key`
	rows, err := k.tx.Query(k.ctx, query, prefix)
	if err != nil {
		return fmt.Errorf("postgres: scan %s: %w", prefix, err)
	}

	type pair struct {
		key   string
		value []byte
	}
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pair, error) {
		var p pair
		err := row.Scan(&p.key, &p.value)
		return p, err
	})
	if err != nil {
		return fmt.Errorf("postgres: scan %s: %w", prefix, err)
	}

	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.Backend = (*KVStore)(nil)
