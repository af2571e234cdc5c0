package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Backend {
		s, err := Open(Options{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(kv domain.KV) error {
		return kv.Set("id_counter", []byte{0, 0, 0, 0, 0, 0, 0, 3})
	}))
	require.NoError(t, s.Close())

	s, err = Open(Options{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(kv domain.KV) error {
		v, err := kv.Get("id_counter")
		require.NoError(t, err)
		require.Equal(t, byte(3), v[7])
		return nil
	}))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}
