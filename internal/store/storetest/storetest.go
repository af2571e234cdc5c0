// Package storetest is a contract suite run against every domain.Backend
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// Run exercises the transactional key-value contract. newBackend must
// return an empty backend on every call.
func Run(t *testing.T, newBackend func(t *testing.T) domain.Backend) {
	t.Helper()

	t.Run("get missing key", func(t *testing.T) {
		b := newBackend(t)
		err := b.View(context.Background(), func(kv domain.KV) error {
			_, err := kv.Get("nope")
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("commit is visible", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
			if err := kv.Set("admin", []byte("0xabc")); err != nil {
				return err
			}
			v, err := kv.Get("admin")
			if err != nil {
				return err
			}
			assert.Equal(t, []byte("0xabc"), v)
			return nil
		}))

		var got []byte
		require.NoError(t, b.View(ctx, func(kv domain.KV) error {
			var err error
			got, err = kv.Get("admin")
			return err
		}))
		assert.Equal(t, []byte("0xabc"), got)
	})

	t.Run("overwrite", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for _, v := range []string{"one", "two"} {
			require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
				return kv.Set("k", []byte(v))
			}))
		}
		require.NoError(t, b.View(ctx, func(kv domain.KV) error {
			v, err := kv.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "two", string(v))
			return nil
		}))
	})

	t.Run("error rolls back", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
			return kv.Set("balance/x", []byte{1})
		}))

		boom := errors.New("boom")
		err := b.Update(ctx, func(kv domain.KV) error {
			if err := kv.Set("balance/x", []byte{2}); err != nil {
				return err
			}
			if err := kv.Set("balance/y", []byte{3}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		require.NoError(t, b.View(ctx, func(kv domain.KV) error {
			v, err := kv.Get("balance/x")
			require.NoError(t, err)
			assert.Equal(t, []byte{1}, v)
			_, err = kv.Get("balance/y")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("scan prefix in key order", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
			for _, k := range []string{"market/id_2", "market/id_10", "market/id_1", "marketx", "bets/owner/a"} {
				if err := kv.Set(k, []byte(k)); err != nil {
					return err
				}
			}
			return nil
		}))

		var keys []string
		require.NoError(t, b.View(ctx, func(kv domain.KV) error {
			return kv.Scan("market/", func(key string, value []byte) error {
				assert.Equal(t, key, string(value))
				keys = append(keys, key)
				return nil
			})
		}))
		assert.Equal(t, []string{"market/id_1", "market/id_10", "market/id_2"}, keys)
	})

	t.Run("scan sees staged writes", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
			return kv.Set("market/id_1", []byte("old"))
		}))
		require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
			if err := kv.Set("market/id_1", []byte("new")); err != nil {
				return err
			}
			if err := kv.Set("market/id_3", []byte("three")); err != nil {
				return err
			}
			got := map[string]string{}
			err := kv.Scan("market/", func(key string, value []byte) error {
				got[key] = string(value)
				return nil
			})
			assert.Equal(t, map[string]string{"market/id_1": "new", "market/id_3": "three"}, got)
			return err
		}))
	})

	t.Run("scan stops on error", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
			for i := 0; i < 5; i++ {
				if err := kv.Set(fmt.Sprintf("p/%d", i), []byte{byte(i)}); err != nil {
					return err
				}
			}
			return nil
		}))
		stop := errors.New("stop")
		visited := 0
		err := b.View(ctx, func(kv domain.KV) error {
			return kv.Scan("p/", func(string, []byte) error {
				visited++
				if visited == 2 {
					return stop
				}
				return nil
			})
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 2, visited)
	})

	t.Run("view rejects writes", func(t *testing.T) {
		b := newBackend(t)
		err := b.View(context.Background(), func(kv domain.KV) error {
			return kv.Set("k", []byte("v"))
		})
		assert.Error(t, err)
	})

	t.Run("empty value", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(kv domain.KV) error {
			return kv.Set("bets/market/id_1", []byte{})
		}))
		require.NoError(t, b.View(ctx, func(kv domain.KV) error {
			v, err := kv.Get("bets/market/id_1")
			require.NoError(t, err)
			assert.Empty(t, v)
			return nil
		}))
	})
}
