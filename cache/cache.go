package cache

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/voxserve/cache/codec"
	pr "github.com/unkn0wn-root/voxserve/cache/provider"
)

type cache[V any] struct {
	provider   pr.Provider
	codec      c.Codec[V]
	log        Logger
	hooks      Hooks
	enabled    bool
	defaultTTL time.Duration
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("cache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("cache: codec is required")
	}

	c := &cache[V]{
		provider: opts.Provider,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, 30*time.Minute)

	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	raw, ok, err := c.provider.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		// self-heal: a payload this codec cannot read is corruption, not a
		// value; drop it so the next read rebuilds from the durable tier.
		_ = c.provider.Del(ctx, key)
		c.hooks.SelfHeal(key, "value_decode")
		c.log.Debug("dropped undecodable entry", Fields{"key": key, "err": err})
		return zero, false, nil
	}
	return v, true, nil
}

func (c *cache[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	raw, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	ok, err := c.provider.Set(ctx, key, raw, int64(len(raw)), ttl)
	if err != nil {
		return err
	}
	if !ok {
		c.hooks.SetRejected(key)
		c.log.Debug("Put rejected by provider (pressure)", Fields{"key": key})
	}
	return nil
}

func (c *cache[V]) Entry(key string, value V) (pr.Entry, error) {
	raw, err := c.codec.Encode(value)
	if err != nil {
		return pr.Entry{}, fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return pr.Entry{Key: key, Value: raw, Cost: int64(len(raw))}, nil
}

func (c *cache[V]) Delete(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	return c.provider.Del(ctx, key)
}
