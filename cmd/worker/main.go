package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"linkhoard/internal/config"
	"linkhoard/internal/pipeline"
	"linkhoard/internal/queue"
	"linkhoard/internal/statelock"
	"linkhoard/internal/store"
	syncpkg "linkhoard/internal/sync"
	"linkhoard/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	locks := statelock.NewManager(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}))

	engine := queue.NewEngine(cfg, locks, st, buildPipeline(ctx, cfg, st))

	remote, err := syncpkg.NewRemoteFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("init sync remote: %v", err)
	}
	coordinator := syncpkg.NewCoordinator(cfg, locks, st, st, remote)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started concurrency=%d poll=%s sync_interval=%s",
		cfg.FetchConcurrency, cfg.WorkerPollInterval, cfg.SyncInterval)

	// Startup trigger: drain whatever survived the last shutdown, then
	// attempt a (debounced) sync.
	if err := engine.Start(ctx); err != nil && ctx.Err() == nil {
		log.Printf("worker: startup drain: %v", err)
	}
	coordinator.TriggerSyncIfEnabled(ctx)

	drainTicker := time.NewTicker(cfg.WorkerPollInterval)
	defer drainTicker.Stop()
	syncTicker := time.NewTicker(cfg.SyncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker stopped: %v", ctx.Err())
			return
		case <-drainTicker.C:
			if err := engine.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("worker: drain: %v", err)
			}
		case <-syncTicker.C:
			coordinator.TriggerSyncIfEnabled(ctx)
		}
	}
}

func buildPipeline(ctx context.Context, cfg config.Config, st *store.Store) *pipeline.ContentPipeline {
	var generator pipeline.QAGenerator
	if cfg.GeminiAPIKey != "" {
		g, err := pipeline.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("init gemini generator: %v", err)
		}
		generator = g
	}

	var embedder pipeline.Embedder
	if cfg.EmbeddingEndpoint != "" {
		embedder = pipeline.NewHTTPEmbedder(cfg.EmbeddingEndpoint, cfg.FetchTimeout)
	}

	var thumbs *pipeline.Thumbnailer
	if cfg.ThumbnailS3Bucket != "" {
		client, err := syncpkg.NewS3Client(ctx, cfg)
		if err != nil {
			log.Fatalf("init thumbnail s3 client: %v", err)
		}
		thumbs = pipeline.NewS3Thumbnailer(client, cfg.ThumbnailS3Bucket, cfg.ThumbnailWidth)
	} else if cfg.ThumbnailDir != "" {
		thumbs = pipeline.NewLocalThumbnailer(cfg.ThumbnailDir, cfg.ThumbnailWidth)
	}

	return pipeline.New(cfg, st, generator, embedder, thumbs)
}
