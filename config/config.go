// Package config loads runtime settings from the environment. Every knob has
// a default that works for local development against in-memory backends;
// production deployments set the connection strings.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	Debug      bool   `env:"DEBUG" envDefault:"false"`

	// Volatile tier. An empty RedisAddr selects an in-process provider;
	// CacheBackend picks which one ("ristretto" or "bigcache").
	CacheBackend  string        `env:"CACHE_BACKEND" envDefault:"ristretto"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"30m"`

	// Relational tier. Empty selects the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	// Durable tier. UseGCS switches from the in-memory store to Cloud Storage
	// with these bucket names.
	UseGCS        bool   `env:"USE_GCS" envDefault:"false"`
	PrivateBucket string `env:"PRIVATE_BUCKET" envDefault:"voxserve-scans"`
	PublicBucket  string `env:"PUBLIC_BUCKET" envDefault:"voxserve-renders"`

	// Background materialization.
	Workers     int           `env:"WORKER_COUNT" envDefault:"4"`
	QueueLen    int           `env:"WORKER_QUEUE_LEN" envDefault:"1024"`
	TaskTimeout time.Duration `env:"TASK_TIMEOUT" envDefault:"2m"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"268435456"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}
