// Package storagetest holds the behavior every storage.Storage backend must
// share.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/ocpp-server-go/storage"
	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/require"
)

// Factory creates a new, empty backend for a test.
type Factory func(t *testing.T) storage.Storage

// Run runs the complete storage test suite against the provided factory.
func Run(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory(t)) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, factory(t)) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory(t)) })
	t.Run("ChargePointIsolation", func(t *testing.T) { testIsolation(t, factory(t)) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, factory(t)) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, factory(t)) })
	t.Run("DeleteGlobalRejected", func(t *testing.T) { testDeleteGlobal(t, factory(t)) })
	t.Run("Increment", func(t *testing.T) { testIncrement(t, factory(t)) })
	t.Run("IncrementConcurrent", func(t *testing.T) { testIncrementConcurrent(t, factory(t)) })
}

func cpid() string { return "CP-" + faker.UUIDHyphenated() }

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := cpid()

	require.NoError(t, s.Set(ctx, "boot", []byte(`{"vendor":"acme"}`), storage.WithChargePoint(id)))

	item, err := s.Get(ctx, "boot", storage.WithChargePoint(id))
	require.NoError(t, err)
	require.NotNil(t, item)
	require.JSONEq(t, `{"vendor":"acme"}`, string(item.Data))
	require.False(t, item.CreatedAt.IsZero())
	require.Nil(t, item.ExpiresAt)
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "missing", storage.WithChargePoint(cpid()))
	require.NoError(t, err)
	require.Nil(t, item)
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := cpid()

	require.NoError(t, s.Set(ctx, "short", []byte("v"), storage.WithChargePoint(id), storage.WithTTL(time.Second)))

	item, err := s.Get(ctx, "short", storage.WithChargePoint(id))
	require.NoError(t, err)
	require.NotNil(t, item)
	require.NotNil(t, item.ExpiresAt)

	time.Sleep(1500 * time.Millisecond)

	item, err = s.Get(ctx, "short", storage.WithChargePoint(id))
	require.NoError(t, err)
	require.Nil(t, item, "expected item to expire")
}

func testIsolation(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a, b := cpid(), cpid()

	require.NoError(t, s.Set(ctx, "status", []byte("a"), storage.WithChargePoint(a)))
	require.NoError(t, s.Set(ctx, "status", []byte("b"), storage.WithChargePoint(b)))
	require.NoError(t, s.Set(ctx, "status", []byte("global")))

	for ns, want := range map[string]string{a: "a", b: "b"} {
		item, err := s.Get(ctx, "status", storage.WithChargePoint(ns))
		require.NoError(t, err)
		require.NotNil(t, item)
		require.Equal(t, want, string(item.Data))
	}

	item, err := s.Get(ctx, "status")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "global", string(item.Data))
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := cpid()

	require.NoError(t, s.Set(ctx, "one", []byte("1"), storage.WithChargePoint(id)))
	require.NoError(t, s.Set(ctx, "two", []byte("2"), storage.WithChargePoint(id)))
	require.NoError(t, s.Delete(ctx, storage.WithChargePoint(id), storage.WithKey("one")))

	item, err := s.Get(ctx, "one", storage.WithChargePoint(id))
	require.NoError(t, err)
	require.Nil(t, item)

	item, err = s.Get(ctx, "two", storage.WithChargePoint(id))
	require.NoError(t, err)
	require.NotNil(t, item)
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id, other := cpid(), cpid()

	require.NoError(t, s.Set(ctx, "one", []byte("1"), storage.WithChargePoint(id)))
	require.NoError(t, s.Set(ctx, "two", []byte("2"), storage.WithChargePoint(id)))
	_, err := s.Increment(ctx, "tx", storage.WithChargePoint(id))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "one", []byte("keep"), storage.WithChargePoint(other)))

	require.NoError(t, s.Delete(ctx, storage.WithChargePoint(id)))

	for _, key := range []string{"one", "two"} {
		item, err := s.Get(ctx, key, storage.WithChargePoint(id))
		require.NoError(t, err)
		require.Nil(t, item, "key %s survived namespace delete", key)
	}
	n, err := s.Increment(ctx, "tx", storage.WithChargePoint(id))
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "counter survived namespace delete")

	item, err := s.Get(ctx, "one", storage.WithChargePoint(other))
	require.NoError(t, err)
	require.NotNil(t, item)
}

func testDeleteGlobal(t *testing.T, s storage.Storage) {
	err := s.Delete(context.Background())
	require.True(t, errors.Is(err, storage.ErrInvalidOptions), "got %v", err)
}

func testIncrement(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := cpid()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, "tx", storage.WithChargePoint(id))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	got, err := s.Increment(ctx, "tx", storage.WithChargePoint(cpid()))
	require.NoError(t, err)
	require.EqualValues(t, 1, got)
}

func testIncrementConcurrent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := cpid()

	const workers, each = 8, 25
	var wg sync.WaitGroup
	seen := make(chan int64, workers*each)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				n, err := s.Increment(ctx, "tx", storage.WithChargePoint(id))
				if err != nil {
					t.Errorf("Increment() failed: %v", err)
					return
				}
				seen <- n
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for n := range seen {
		require.False(t, unique[n], "duplicate counter value %d", n)
		unique[n] = true
	}
	require.Len(t, unique, workers*each)
}
