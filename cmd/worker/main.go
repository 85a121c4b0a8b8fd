// Command worker drains queued publish tasks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ShopDrop/internal/app"
	"github.com/dharsanguruparan/ShopDrop/internal/config"
	"github.com/dharsanguruparan/ShopDrop/internal/logging"
	"github.com/dharsanguruparan/ShopDrop/internal/worker"
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

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.BatchWorkers,
		Logger:      logger,
	})
	processor := worker.NewProcessor(deps.Orchestrator, logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		logger.WithError(err).Error("worker stopped")
		os.Exit(1)
	}
}
