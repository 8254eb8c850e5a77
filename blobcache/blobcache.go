// Package blobcache defines a byte store used by backends as an optional
// read-through cache for raw transfer payloads. It sits below the engine:
// it dedups transfer bytes, never reference counts, and is always allowed
// to drop entries.
//
// Implementations MUST be byte-for-byte transparent (Get returns exactly
// what Set stored) and safe for concurrent use.
package blobcache

import "context"

// Store is a minimal, advisory byte cache.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with an advisory cost (usually len(value)).
	// Returns false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64) bool

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}
