package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/voxserve/cache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

const (
	defaultConnectAttempts = 3
	defaultConnectBackoff  = 2 * time.Second
)

// Redis adapts a go-redis client to the provider contract. The provider
// tolerates transient unavailability: a failed operation marks the connection
// unhealthy, and the next operation re-verifies it with a bounded ping/retry
// budget before touching the keyspace. Exhausting the budget surfaces
// provider.ErrUnavailable instead of hanging or failing permanently after
// the first broken connect.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool

	attempts int
	wait     time.Duration
	healthy  atomic.Bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client

	ConnectAttempts int           // ping attempts before ErrUnavailable; 0 => 3
	ConnectBackoff  time.Duration // pause between attempts; 0 => 2s
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	p := &Redis{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		attempts:    cfg.ConnectAttempts,
		wait:        cfg.ConnectBackoff,
	}
	if p.attempts <= 0 {
		p.attempts = defaultConnectAttempts
	}
	if p.wait <= 0 {
		p.wait = defaultConnectBackoff
	}
	return p, nil
}

// ensure pings the backend when the last operation failed. go-redis redials
// on its own; the ping budget exists so callers get a bounded, explicit
// unavailability signal rather than per-command timeouts stacking up.
func (p *Redis) ensure(ctx context.Context) error {
	if p.healthy.Load() {
		return nil
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.wait), uint64(p.attempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		return p.rdb.Ping(ctx).Err()
	}, bo)
	if err != nil {
		return fmt.Errorf("redis connect after %d attempts: %v: %w", p.attempts, err, pr.ErrUnavailable)
	}
	p.healthy.Store(true)
	return nil
}

func (p *Redis) fail(err error) error {
	p.healthy.Store(false)
	return fmt.Errorf("redis: %v: %w", err, pr.ErrUnavailable)
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := p.ensure(ctx); err != nil {
		return nil, false, err
	}
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, p.fail(err)
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if err := p.ensure(ctx); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = 0 // treat non-positive TTLs as "no expiry" per provider contract
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, p.fail(err)
	}
	return true, nil
}

// SetMany issues all writes through one pipeline so companion entries (a
// payload and its metadata snapshot) reach the server in a single round
// trip. Not a MULTI/EXEC transaction: the degraded outcome of a broken
// pipeline is a miss on the unwritten members, which readers handle.
func (p *Redis) SetMany(ctx context.Context, entries []pr.Entry, ttl time.Duration) error {
	if err := p.ensure(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = 0
	}
	pipe := p.rdb.Pipeline()
	for _, e := range entries {
		pipe.Set(ctx, e.Key, e.Value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return p.fail(err)
	}
	return nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	if err := p.ensure(ctx); err != nil {
		return err
	}
	if err := p.rdb.Del(ctx, key).Err(); err != nil {
		return p.fail(err)
	}
	return nil
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
