package service

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/cascade/internal/domain"
)

var _ domain.LockManager = (*LocalLocks)(nil)

// LocalLocks is an in-process LockManager. Acquire blocks until the key is
// free or ctx ends; ttl is ignored.
type LocalLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocks creates an empty lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{slots: make(map[string]chan struct{})}
}

// Acquire implements domain.LockManager.
func (l *LocalLocks) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-slot }) }, nil
}

func (l *LocalLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}
