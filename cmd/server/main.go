// Command server is the single-process deployment: in-memory projects, audio
// on local disk behind signed URLs, and an in-process worker pool in place of
// the Redis queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/LyricSync/internal/api"
	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/isolation"
	"github.com/dharsanguruparan/LyricSync/internal/logger"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
	"github.com/dharsanguruparan/LyricSync/internal/processing"
	"github.com/dharsanguruparan/LyricSync/internal/signing"
	"github.com/dharsanguruparan/LyricSync/internal/storage"
	"github.com/dharsanguruparan/LyricSync/internal/transcription"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	store := storage.NewMemoryStore()
	signer := signing.NewSigner(cfg.SigningSecret)
	audio, err := storage.NewDiskAudioStore(cfg.UploadDir, publicBaseURL(cfg), signer, cfg.SignedURLTTL)
	if err != nil {
		log.WithError(err).Fatal("init audio store")
	}

	isoOpts := isolation.OptionsFromConfig(cfg.Inference)
	isoOpts.Log = log.Component("isolation")
	txOpts := transcription.OptionsFromConfig(cfg.Inference)
	txOpts.Log = log.Component("transcription")
	orchestrator := pipeline.New(store, isolation.New(isoOpts), transcription.New(txOpts), pipeline.Options{
		FallbackOnIsolationFailure: cfg.FallbackOnIsolationFailure,
		Leaser:                     store,
		Log:                        log.Component("pipeline"),
	})
	pool := processing.New(orchestrator, store, cfg.ProcessingPool, log.Component("processing"))

	srv := api.New(cfg, api.Deps{
		Projects:   store,
		Audio:      audio,
		Dispatcher: pool,
		Media:      audio,
		Log:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Start(ctx)
		pool.Wait()
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

// publicBaseURL is where the inference services fetch uploaded audio from.
func publicBaseURL(cfg *config.Config) string {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL
	}
	if strings.HasPrefix(cfg.Address, ":") {
		return "http://localhost" + cfg.Address
	}
	return "http://" + cfg.Address
}
