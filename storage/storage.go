// Package storage defines the key/value store the central system keeps per
// charge point state in (boot information, connector status, transaction
// counters).
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for namespaced data storage.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil item if the key doesn't exist or has expired; errors are
	// reserved for storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Increment atomically adds one to the counter named key and returns the
	// new value. Counters start at zero and are not visible through Get.
	Increment(ctx context.Context, key string, opts ...Option) (int64, error)

	// Delete removes data within the given namespace. Without WithKey the
	// entire namespace is removed, counters included.
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// StorageItem represents a stored piece of data with metadata.
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired.
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace Namespace      // Optional: storage namespace (nil = global)
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply resolves opts into an Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Prefix returns the key prefix shared by everything in the namespace.
func (o *Options) Prefix() string {
	switch ns := o.Namespace.(type) {
	case ChargePointNamespace:
		return "cp:" + ns.CPID + ":"
	default:
		return "global:"
	}
}

// ValueKey returns the backend key for the value stored under key.
func (o *Options) ValueKey(key string) string { return o.Prefix() + "key:" + key }

// CounterKey returns the backend key for the counter named key.
func (o *Options) CounterKey(key string) string { return o.Prefix() + "ctr:" + key }

// Namespace represents a storage namespace. If nil, storage operates in the
// global namespace.
type Namespace interface {
	namespace() // private method to ensure only our types implement this
}

// ChargePointNamespace scopes data to one charge point.
type ChargePointNamespace struct {
	CPID string
}

func (ChargePointNamespace) namespace() {}

// WithChargePoint scopes the operation to the charge point cpid.
func WithChargePoint(cpid string) Option {
	return func(opts *Options) {
		opts.Namespace = ChargePointNamespace{CPID: cpid}
	}
}

// WithKey specifies a specific key for Delete operations.
// If not provided, Delete removes the entire namespace.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// Error types
var (
	// ErrInvalidOptions is returned when incompatible options are provided,
	// such as a Delete with neither namespace nor key.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
	// ErrNotCounter is returned by Increment when the stored counter is not
	// an integer.
	ErrNotCounter = errors.New("storage: value is not a counter")
)

// ValidateDelete rejects a Delete that would wipe the global namespace.
func ValidateDelete(o *Options) error {
	if o.Namespace == nil && o.Key == nil {
		return ErrInvalidOptions
	}
	return nil
}
