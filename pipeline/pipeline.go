// Package pipeline orchestrates artifact production across the storage
// tiers: volatile cache lookup, authorization and bounds checks, fallback to
// the durable object store, inference, cache population, and the scheduling
// of background materialization. It is the only package that knows the full
// tier order; everything below it is a narrow collaborator interface.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/cache"
	"github.com/unkn0wn-root/voxserve/cache/codec"
	pr "github.com/unkn0wn-root/voxserve/cache/provider"
	"github.com/unkn0wn-root/voxserve/materialize"
	"github.com/unkn0wn-root/voxserve/metadata"
	"github.com/unkn0wn-root/voxserve/overlay"
	"github.com/unkn0wn-root/voxserve/store"
	"github.com/unkn0wn-root/voxserve/volume"
)

// Identity is the requesting principal. The zero value is anonymous.
type Identity struct {
	UserID uuid.UUID
}

func (i Identity) Anonymous() bool { return i.UserID == uuid.Nil }

// Buckets names the two durable buckets: Private holds raw and processed
// volumes, Public holds rendered artifacts.
type Buckets struct {
	Private string
	Public  string
}

// Options wires the pipeline's collaborators. All dependencies are
// constructed explicitly at startup and injected here; the pipeline holds no
// process-global state of its own.
type Options struct {
	// Required
	Provider  pr.Provider
	Metadata  metadata.Store
	Objects   store.ObjectStore
	Segmenter overlay.Segmenter
	Scheduler materialize.Scheduler
	Buckets   Buckets

	Logger   cache.Logger  // nil => NopLogger
	CacheTTL time.Duration // per-entry expiry; 0 => 30m
}

// maxCachedPayload caps what Get will decode from the shared keyspace.
// Another writer misbehaving in the same cache must degrade to a miss here,
// not an allocation spike.
const maxCachedPayload = 64 << 20

// Pipeline is safe for concurrent use. One typed cache per artifact kind
// shares the single provider connection.
type Pipeline struct {
	provider pr.Provider
	volumes  cache.Cache[*volume.Volume]
	meta     cache.Cache[metadata.Snapshot]
	results  cache.Cache[[]byte]
	images   cache.Cache[[]byte]
	contours cache.Cache[overlay.ContourSet]

	db      metadata.Store
	objects store.ObjectStore
	seg     overlay.Segmenter
	sched   materialize.Scheduler
	buckets Buckets

	log cache.Logger
	ttl time.Duration
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Provider == nil:
		return nil, fmt.Errorf("pipeline: provider is required")
	case opts.Metadata == nil:
		return nil, fmt.Errorf("pipeline: metadata store is required")
	case opts.Objects == nil:
		return nil, fmt.Errorf("pipeline: object store is required")
	case opts.Segmenter == nil:
		return nil, fmt.Errorf("pipeline: segmenter is required")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("pipeline: scheduler is required")
	case opts.Buckets.Private == "" || opts.Buckets.Public == "":
		return nil, fmt.Errorf("pipeline: both bucket names are required")
	}

	log := opts.Logger
	if log == nil {
		log = cache.NopLogger{}
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	hooks := cache.LogHooks{Log: log}

	p := &Pipeline{
		provider: opts.Provider,
		db:       opts.Metadata,
		objects:  opts.Objects,
		seg:      opts.Segmenter,
		sched:    opts.Scheduler,
		buckets:  opts.Buckets,
		log:      log,
		ttl:      ttl,
	}

	var err error
	if p.volumes, err = cache.New[*volume.Volume](cache.Options[*volume.Volume]{
		Provider: opts.Provider, Codec: volume.Codec{}, Logger: log, Hooks: hooks, DefaultTTL: ttl,
	}); err != nil {
		return nil, err
	}
	if p.meta, err = cache.New[metadata.Snapshot](cache.Options[metadata.Snapshot]{
		Provider: opts.Provider, Codec: codec.JSON[metadata.Snapshot]{}, Logger: log, Hooks: hooks, DefaultTTL: ttl,
	}); err != nil {
		return nil, err
	}
	pngCodec := codec.Limit[[]byte]{Inner: codec.Bytes{}, MaxDecode: maxCachedPayload}
	if p.results, err = cache.New[[]byte](cache.Options[[]byte]{
		Provider: opts.Provider, Codec: pngCodec, Logger: log, Hooks: hooks, DefaultTTL: ttl,
	}); err != nil {
		return nil, err
	}
	if p.images, err = cache.New[[]byte](cache.Options[[]byte]{
		Provider: opts.Provider, Codec: pngCodec, Logger: log, Hooks: hooks, DefaultTTL: ttl,
	}); err != nil {
		return nil, err
	}
	contourCodec := codec.Limit[overlay.ContourSet]{
		Inner:     codec.Msgpack[overlay.ContourSet]{},
		MaxDecode: maxCachedPayload,
	}
	if p.contours, err = cache.New[overlay.ContourSet](cache.Options[overlay.ContourSet]{
		Provider: opts.Provider, Codec: contourCodec, Logger: log, Hooks: hooks, DefaultTTL: ttl,
	}); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Pipeline) fail(kind Kind, op, corr string, err error) *Error {
	e := &Error{Kind: kind, Op: op, CorrelationID: corr, Err: err}
	switch kind {
	case KindCacheUnavailable, KindStoreUnavailable, KindCompute:
		p.log.Error("pipeline infrastructure failure", cache.Fields{
			"op":             op,
			"kind":           kind.String(),
			"correlation_id": corr,
			"err":            err,
		})
	default:
		p.log.Info("pipeline request rejected", cache.Fields{
			"op":             op,
			"kind":           kind.String(),
			"correlation_id": corr,
			"err":            err,
		})
	}
	return e
}
