// Package cache implements the provider-agnostic volatile tier in front of
// durable storage. Entries are derived state: every value is reconstructible
// from the object store plus inference, so absence (miss, expiry, eviction,
// self-heal) is always safe and never an error.
//
// Components:
//   - Provider: byte store with TTL (e.g. Redis, Ristretto, BigCache).
//   - Codec[V]: (de)serializes V <-> []byte, one per artifact kind.
//   - Hooks/Logger: high-signal event callbacks and a tiny leveled logger.
//
// Values are stored as naked codec payloads under caller-supplied keys; the
// published key layout (file:, file_metadata:, result:, img:, contours:) is
// owned by the pipeline package and must stay byte-compatible with the other
// readers of the same Redis keyspace.
//
// Multi-key pattern:
//
//	ve, _ := volumes.Entry("file:"+id, vol)
//	me, _ := meta.Entry("file_metadata:"+id, snap)
//	_ = cache.PutMany(ctx, provider, ttl, ve, me) // one pipelined write
package cache
