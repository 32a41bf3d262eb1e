// Package badger provides an embedded, optionally persistent implementation of
// the storage.Storage interface on top of github.com/dgraph-io/badger/v4.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ggoodman/ocpp-server-go/storage"
)

// Config contains configuration options for the Badger storage.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps all data in memory; nothing is written to disk.
	InMemory bool
	// Logger receives badger's internal logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Storage implements the storage.Storage interface using Badger.
type Storage struct {
	db *badger.DB
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New opens the database described by config.
func New(config Config) (*Storage, error) {
	if !config.InMemory && config.Dir == "" {
		return nil, fmt.Errorf("badger directory is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	opts := badger.DefaultOptions(config.Dir)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(logger{log: config.Logger.With(slog.String("component", "badger"))})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Storage{db: db}, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	k := []byte(storage.Apply(opts...).ValueKey(key))

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", k, err)
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	out := &storage.StorageItem{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	// Badger expiry is second-granular; honor the recorded deadline.
	if out.IsExpired() {
		return nil, nil
	}
	return out, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	k := []byte(options.ValueKey(key))

	now := time.Now()
	item := storedItem{Data: data, CreatedAt: now}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	entry := badger.NewEntry(k, raw)
	if options.TTL != nil {
		entry = entry.WithTTL(*options.TTL)
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(entry) }); err != nil {
		return fmt.Errorf("failed to set key %s: %w", k, err)
	}
	return nil
}

// Increment adds one to the counter named key, retrying on transaction
// conflicts.
func (s *Storage) Increment(ctx context.Context, key string, opts ...storage.Option) (int64, error) {
	k := []byte(storage.Apply(opts...).CounterKey(key))

	for {
		var n int64
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if n, err = strconv.ParseInt(string(v), 10, 64); err != nil {
					return fmt.Errorf("%w: %s", storage.ErrNotCounter, key)
				}
			}
			n++
			return txn.Set(k, []byte(strconv.FormatInt(n, 10)))
		})
		if errors.Is(err, badger.ErrConflict) {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		if err != nil {
			if errors.Is(err, storage.ErrNotCounter) {
				return 0, err
			}
			return 0, fmt.Errorf("failed to increment key %s: %w", k, err)
		}
		return n, nil
	}
}

// Delete removes data within the given namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if err := storage.ValidateDelete(options); err != nil {
		return err
	}

	if options.Key != nil {
		k := []byte(options.ValueKey(*options.Key))
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(k) }); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", k, err)
		}
		return nil
	}

	prefix := []byte(options.Prefix())
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", prefix, err)
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// logger bridges badger's printf-style logger to slog.
type logger struct {
	log *slog.Logger
}

func (l logger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l logger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l logger) Infof(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l logger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var _ storage.Storage = (*Storage)(nil)
