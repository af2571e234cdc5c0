// Package badger implements the ledger key-value backend on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// Options configures Open.
type Options struct {
	Path          string
	InMemory      bool
	SyncWrites    bool
	EncryptionKey []byte // 16, 24 or 32 bytes; nil disables encryption
}

// Store adapts a badger.DB to domain.Backend.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the database at opts.Path.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("badger: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(nil).WithSyncWrites(opts.SyncWrites)
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// View runs fn in a read-only badger transaction.
func (s *Store) View(_ context.Context, fn func(kv domain.KV) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&kv{txn: txn})
	})
}

// Update runs fn in a read-write badger transaction. Conflicts surface as
// badger.ErrConflict; callers serialise writes so they do not occur.
func (s *Store) Update(_ context.Context, fn func(kv domain.KV) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&kv{txn: txn})
	})
}

type kv struct {
	txn *badger.Txn
}

func (k *kv) Get(key string) ([]byte, error) {
	item, err := k.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("badger: get %s: %w", key, err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger: read %s: %w", key, err)
	}
	return v, nil
}

func (k *kv) Set(key string, value []byte) error {
	if err := k.txn.Set([]byte(key), append([]byte(nil), value...)); err != nil {
		return fmt.Errorf("badger: set %s: %w", key, err)
	}
	return nil
}

func (k *kv) Scan(prefix string, fn func(key string, value []byte) error) error {
	p := []byte(prefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	it := k.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badger: scan %s: %w", prefix, err)
		}
		if err := fn(string(item.KeyCopy(nil)), v); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.Backend = (*Store)(nil)
