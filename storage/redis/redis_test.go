package redis

import (
	"context"
	"testing"

	"github.com/ggoodman/ocpp-server-go/storage"
	"github.com/ggoodman/ocpp-server-go/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStorage(t *testing.T) {
	// Skip test if Redis is not available
	probe := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 2})
	ctx := context.Background()
	if err := probe.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer probe.Close()
	defer probe.FlushDB(ctx)

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		// Use separate DB for storage tests
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 2})
		s, err := New(Config{Client: client, KeyPrefix: "ocpp:test:"})
		if err != nil {
			t.Fatalf("Failed to create Redis storage: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected New() without a client to fail")
	}
}
