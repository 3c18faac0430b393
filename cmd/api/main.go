// Command api serves the HTTP surface backed by Postgres, MinIO and the
// Redis task queue. Pipeline runs are executed by cmd/worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/LyricSync/internal/api"
	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/database"
	"github.com/dharsanguruparan/LyricSync/internal/logger"
	"github.com/dharsanguruparan/LyricSync/internal/queue"
	"github.com/dharsanguruparan/LyricSync/internal/repository"
	"github.com/dharsanguruparan/LyricSync/internal/s3storage"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.WithError(err).Fatal("ensure schema")
	}
	repo := repository.NewProjectRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("init storage")
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.WithError(err).Fatal("ensure buckets")
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	srv := api.New(cfg, api.Deps{
		Projects:   repo,
		Audio:      store,
		Dispatcher: queue.NewDispatcher(client),
		Log:        log,
	})
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("api stopped")
		os.Exit(1)
	}
}
