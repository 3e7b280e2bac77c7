// Command voxserve serves volumetric scans: uploads, slice renders with
// segmentation overlays, saved photos, and contour annotations. All backends
// degrade to in-process implementations when their connection settings are
// absent, so the binary runs standalone for local development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/voxserve/cache"
	zaplog "github.com/unkn0wn-root/voxserve/cache/log/zap"
	pr "github.com/unkn0wn-root/voxserve/cache/provider"
	bigcacheprov "github.com/unkn0wn-root/voxserve/cache/provider/bigcache"
	redisprov "github.com/unkn0wn-root/voxserve/cache/provider/redis"
	ristrettoprov "github.com/unkn0wn-root/voxserve/cache/provider/ristretto"
	"github.com/unkn0wn-root/voxserve/config"
	"github.com/unkn0wn-root/voxserve/httpapi"
	"github.com/unkn0wn-root/voxserve/materialize"
	"github.com/unkn0wn-root/voxserve/metadata"
	"github.com/unkn0wn-root/voxserve/overlay"
	"github.com/unkn0wn-root/voxserve/pipeline"
	"github.com/unkn0wn-root/voxserve/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	zl, err := buildZap(cfg.Debug)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer zl.Sync()
	log := zaplog.ZapLogger{L: zl}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exiting", cache.Fields{"err": err})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log cache.Logger) error {
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close(context.Background())

	db, closeDB, err := buildMetadata(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	objects, err := buildObjects(ctx, cfg)
	if err != nil {
		return err
	}

	queue := materialize.New(materialize.Options{
		Workers:     cfg.Workers,
		QueueLen:    cfg.QueueLen,
		TaskTimeout: cfg.TaskTimeout,
		Logger:      log,
	})
	defer queue.Close()

	p, err := pipeline.New(pipeline.Options{
		Provider:  provider,
		Metadata:  db,
		Objects:   objects,
		Segmenter: overlay.Threshold{},
		Scheduler: queue,
		Buckets:   pipeline.Buckets{Private: cfg.PrivateBucket, Public: cfg.PublicBucket},
		Logger:    log,
		CacheTTL:  cfg.CacheTTL,
	})
	if err != nil {
		return err
	}

	api := httpapi.New(p, httpapi.Options{Logger: log, MaxUploadBytes: cfg.MaxUploadBytes})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", cache.Fields{"addr": cfg.ListenAddr})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildZap(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildProvider selects redis when an address is configured, otherwise one
// of the in-process backends.
func buildProvider(cfg config.Config) (pr.Provider, error) {
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return redisprov.New(redisprov.Config{Client: client, CloseClient: true})
	}
	switch cfg.CacheBackend {
	case "bigcache":
		return bigcacheprov.New(bigcacheprov.Config{
			LifeWindow:         cfg.CacheTTL,
			HardMaxCacheSizeMB: 512,
		})
	case "", "ristretto":
		return ristrettoprov.New(ristrettoprov.Config{
			NumCounters: 1e6,
			MaxCost:     1 << 29, // 512 MiB of cached payloads
			BufferItems: 64,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func buildMetadata(ctx context.Context, cfg config.Config) (metadata.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return metadata.NewMem(), func() {}, nil
	}
	pg, err := metadata.NewPG(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func buildObjects(ctx context.Context, cfg config.Config) (store.ObjectStore, error) {
	if !cfg.UseGCS {
		return store.NewMem(), nil
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewGCS(client), nil
}
