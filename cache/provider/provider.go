// Package provider defines the storage abstraction used by the cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// or appended metadata, no re-encoding, no mutation). If a store performs
// internal transforms (e.g., compression), they MUST be fully reversed so
// that the bytes returned by Get are identical to the bytes provided to Set.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a transient backend failure (connect retries
// exhausted, transport error). Callers on a synchronous read path must treat
// it as an infrastructure fault, never as a miss.
var ErrUnavailable = errors.New("provider: backend unavailable")

// Entry is one pre-encoded key/value pair for batched writes.
type Entry struct {
	Key   string
	Value []byte
	Cost  int64
}

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// SetMany stores all entries with one TTL as a single pipelined/batched
	// write where the backend supports it. It is not a transaction: a failed
	// batch may land a prefix of the entries, which readers must treat as a
	// plain miss on the absent members.
	SetMany(ctx context.Context, entries []Entry, ttl time.Duration) error

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
