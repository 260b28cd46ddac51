package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/mailcampaign-backend/internal/app"
	"github.com/unclebandit/mailcampaign-backend/internal/config"
	"github.com/unclebandit/mailcampaign-backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", false)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	if cfg.QueueDriver == "memory" {
		log.Fatal().Msg("QUEUE_DRIVER=memory runs the pipeline inside the server; the worker needs amqp")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Int("chunk_size", cfg.Dispatch.ChunkSize).
		Str("mail_driver", cfg.Mail.Driver).
		Msg("worker starting")

	if err := a.Worker().Start(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("worker stopped")
		return
	}
	log.Info().Msg("worker stopped")
}
