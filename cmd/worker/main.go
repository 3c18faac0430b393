// Command worker consumes pipeline tasks from Redis and runs them against
// Postgres and the hosted inference services.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/database"
	"github.com/dharsanguruparan/LyricSync/internal/isolation"
	"github.com/dharsanguruparan/LyricSync/internal/logger"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
	"github.com/dharsanguruparan/LyricSync/internal/repository"
	"github.com/dharsanguruparan/LyricSync/internal/transcription"
	"github.com/dharsanguruparan/LyricSync/internal/worker"
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

	isoOpts := isolation.OptionsFromConfig(cfg.Inference)
	isoOpts.Log = log.Component("isolation")
	txOpts := transcription.OptionsFromConfig(cfg.Inference)
	txOpts.Log = log.Component("transcription")

	orchestrator := pipeline.New(repo, isolation.New(isoOpts), transcription.New(txOpts), pipeline.Options{
		FallbackOnIsolationFailure: cfg.FallbackOnIsolationFailure,
		Leaser:                     repo,
		Log:                        log.Component("pipeline"),
	})

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      log.Component("asynq"),
	})
	processor := worker.NewProcessor(orchestrator, log.Component("worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.WithField("concurrency", cfg.ProcessingPool).Info("worker started")
	if err := server.Run(mux); err != nil {
		log.WithError(err).Error("worker stopped")
		os.Exit(1)
	}
}
