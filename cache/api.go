package cache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/voxserve/cache/codec"
	pr "github.com/unkn0wn-root/voxserve/cache/provider"
)

// Cache is the high-level, provider-agnostic lookaside cache API for one
// artifact kind. V is the caller's value type. Serialization is handled by a
// pluggable Codec[V]; every kind carries its own codec so heterogeneous
// payloads are never distinguished by key-string convention alone.
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get returns (value, true, nil) on hit and (zero, false, nil) when the
	// key is absent. Absent is indistinguishable from expired. A non-nil
	// error means the volatile tier itself failed, not that the key is gone.
	Get(ctx context.Context, key string) (v V, ok bool, err error)

	// Put overwrites key with value. A zero ttl uses the configured default.
	Put(ctx context.Context, key string, value V, ttl time.Duration) error

	// Entry encodes value for key without writing it, for use with PutMany
	// when a payload and a companion entry must land in one batched write.
	Entry(key string, value V) (pr.Entry, error)

	// Delete removes key (best-effort).
	Delete(ctx context.Context, key string) error
}

// Options tune the behavior of a typed cache.
// Only Provider and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Provider pr.Provider
	Codec    c.Codec[V]

	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	DefaultTTL time.Duration // 0 => 30m
	Disabled   bool          // default false (enabled)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}

// PutMany writes all entries through the provider as a single batched write.
// Entries from different typed caches (built via Cache.Entry) may be mixed,
// which is how a payload and its metadata snapshot stay together: a reader
// never observes one without the other, because a partial batch only ever
// degrades to a miss on the missing member.
func PutMany(ctx context.Context, p pr.Provider, ttl time.Duration, entries ...pr.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return p.SetMany(ctx, entries, ttl)
}
