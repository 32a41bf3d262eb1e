// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/ocpp-server-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCleanupInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *storage.StorageItem]

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a new in-memory storage holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	return NewWithCleanup(maxItems, defaultCleanupInterval)
}

// NewWithCleanup is New with a custom interval for sweeping expired items.
func NewWithCleanup(maxItems int, interval time.Duration) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}

	go s.cleanupExpired(interval)

	return s, nil
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	storageKey := storage.Apply(opts...).ValueKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.cache.Get(storageKey)
	if !exists {
		return nil, nil
	}
	if item.IsExpired() {
		s.cache.Remove(storageKey)
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(options.ValueKey(key), item)
	s.mu.Unlock()

	return nil
}

// Increment adds one to the counter named key.
func (s *Storage) Increment(ctx context.Context, key string, opts ...storage.Option) (int64, error) {
	storageKey := storage.Apply(opts...).CounterKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if item, ok := s.cache.Get(storageKey); ok {
		v, err := strconv.ParseInt(string(item.Data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", storage.ErrNotCounter, key)
		}
		n = v
	}
	n++
	s.cache.Add(storageKey, &storage.StorageItem{
		Data:      []byte(strconv.FormatInt(n, 10)),
		CreatedAt: time.Now(),
	})
	return n, nil
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if err := storage.ValidateDelete(options); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(options.ValueKey(*options.Key))
		return nil
	}

	// LRU offers no prefix iteration; scan the keys.
	prefix := options.Prefix()
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close stops the cleanup goroutine and drops all data.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		s.cache.Purge()
		s.mu.Unlock()
	})
	return nil
}

// cleanupExpired periodically removes expired items until Close.
func (s *Storage) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
