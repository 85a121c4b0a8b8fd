// Package app wires the publishing pipeline from configuration. The server,
// the worker and the CLI all build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/activity"
	"github.com/dharsanguruparan/ShopDrop/internal/assets"
	"github.com/dharsanguruparan/ShopDrop/internal/batch"
	"github.com/dharsanguruparan/ShopDrop/internal/config"
	"github.com/dharsanguruparan/ShopDrop/internal/normalize"
	"github.com/dharsanguruparan/ShopDrop/internal/pipeline"
	"github.com/dharsanguruparan/ShopDrop/internal/publisher"
	"github.com/dharsanguruparan/ShopDrop/internal/shopify"
)

// App holds the wired pipeline and the resources that need closing.
type App struct {
	Config       *config.Config
	Logger       logrus.FieldLogger
	Batch        *batch.Processor
	Publisher    *publisher.Publisher
	Orchestrator *pipeline.Orchestrator
	Activity     *activity.Log

	store activity.Store
}

// Options overrides pieces of the wiring, mostly for tests.
type Options struct {
	// HTTPClient is used for every outbound call. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// New builds the pipeline described by cfg.
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, opts Options) (*App, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	client := shopify.NewClient(cfg.ShopifyAPIVersion, opts.HTTPClient)

	normalizer := normalize.New(normalize.Options{
		FetchTimeout: cfg.FetchTimeout,
		MaxDimension: cfg.MaxImageDimension,
		Quality:      cfg.JPEGQuality,
		MaxBytes:     cfg.MaxImageBytes,
		MaxPixels:    cfg.MaxImagePixels,
		AllowedHosts: cfg.AllowedImageHosts,
		HTTPClient:   opts.HTTPClient,
		Logger:       logger,
	})

	uploader, err := newUploader(ctx, cfg, client, logger)
	if err != nil {
		return nil, err
	}

	store, err := activity.Open(ctx, activity.Config{
		Driver:      cfg.ActivityStore,
		DatabaseURL: cfg.DatabaseURL,
		Redis: activity.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open activity store: %w", err)
	}
	log := activity.NewLog(store)

	processor := batch.New(normalizer, uploader, cfg.BatchWorkers, logger)
	pub := publisher.New(client, publisher.Defaults{
		Vendor:      cfg.DefaultVendor,
		ProductType: cfg.DefaultProductType,
	}, cfg.ProductTimeout, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Batch:        processor,
		Publisher:    pub,
		Orchestrator: pipeline.New(processor, pub, log, logger),
		Activity:     log,
		store:        store,
	}, nil
}

func newUploader(ctx context.Context, cfg *config.Config, client *shopify.Client, logger logrus.FieldLogger) (batch.Uploader, error) {
	switch cfg.AssetBackend {
	case config.AssetBackendS3:
		s3, err := assets.NewS3Uploader(assets.S3Config{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, cfg.UploadTimeout, logger)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("init asset bucket: %w", err)
		}
		return s3, nil
	default:
		return assets.NewShopifyUploader(client, cfg.UploadTimeout, logger), nil
	}
}

// Close releases the activity store.
func (a *App) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}
