package badger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ggoodman/ocpp-server-go/storage"
	"github.com/ggoodman/ocpp-server-go/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBadgerStorageInMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := New(Config{InMemory: true, Logger: quietLogger()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStoragePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(Config{Dir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "boot", []byte("persisted"), storage.WithChargePoint("CP-1")))
	_, err = s.Increment(ctx, "tx", storage.WithChargePoint("CP-1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(Config{Dir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	defer s.Close()

	item, err := s.Get(ctx, "boot", storage.WithChargePoint("CP-1"))
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "persisted", string(item.Data))

	n, err := s.Increment(ctx, "tx", storage.WithChargePoint("CP-1"))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
