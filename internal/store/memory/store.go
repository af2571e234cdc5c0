// Package memory is an in-process key-value backend. Writes made inside
// Update are staged and applied to the shared map only when the function
// succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/cascade/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

// Store holds the whole key space in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// View runs fn under a read lock.
func (s *Store) View(_ context.Context, fn func(kv domain.KV) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txn{base: s.data})
}

// Update runs fn against a staged write set and applies it on success.
func (s *Store) Update(_ context.Context, fn func(kv domain.KV) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &txn{base: s.data, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.writes {
		s.data[k] = v
	}
	return nil
}

// Len reports the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type txn struct {
	base   map[string][]byte
	writes map[string][]byte // nil for read-only transactions
}

func (t *txn) Get(key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return clone(v), nil
	}
	if v, ok := t.base[key]; ok {
		return clone(v), nil
	}
	return nil, domain.ErrNotFound
}

func (t *txn) Set(key string, value []byte) error {
	if t.writes == nil {
		return errReadOnly
	}
	t.writes[key] = clone(value)
	return nil
}

func (t *txn) Scan(prefix string, fn func(key string, value []byte) error) error {
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	for k := range t.writes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	for k := range t.base {
		if _, dup := seen[k]; !dup && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := t.Get(k)
		if err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}

var _ domain.Backend = (*Store)(nil)
