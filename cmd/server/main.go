// Command server runs the ShopDrop HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ShopDrop/internal/api"
	"github.com/dharsanguruparan/ShopDrop/internal/app"
	"github.com/dharsanguruparan/ShopDrop/internal/config"
	"github.com/dharsanguruparan/ShopDrop/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	deps, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatalf("init pipeline: %v", err)
	}
	defer deps.Close(context.Background())

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	srv := api.New(cfg, deps.Orchestrator, deps.Activity, queueClient, logger)
	if err := srv.Run(ctx); err != nil {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
