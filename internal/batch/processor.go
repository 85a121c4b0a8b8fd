// Package batch fans image sources through normalization and upload with a
// fixed-size worker pool. One bad image never sinks the batch: each failure
// is logged and dropped, and the successes come back in input order.
package batch

//go:generate mockgen -destination=mocks/mock_stages.go -package=mock_batch github.com/dharsanguruparan/ShopDrop/internal/batch Normalizer,Uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
)

// DefaultWorkers is used when New receives a non-positive worker count.
const DefaultWorkers = 4

// Normalizer turns one source into a canonical JPEG.
type Normalizer interface {
	Normalize(ctx context.Context, src model.ImageSource, index int) (model.NormalizedImage, error)
}

// Uploader stores one normalized image remotely.
type Uploader interface {
	Upload(ctx context.Context, image model.NormalizedImage, shop, credential string) (model.UploadResult, error)
}

// ItemResult is the outcome for the source at Index. Exactly one of Upload
// or Err is meaningful.
type ItemResult struct {
	Index  int
	Upload model.UploadResult
	Err    error
}

// OK reports whether the item made it through both stages.
func (r ItemResult) OK() bool { return r.Err == nil }

// Processor runs batches. It holds no per-request state and is safe for
// concurrent use.
type Processor struct {
	normalizer Normalizer
	uploader   Uploader
	workers    int
	logger     logrus.FieldLogger
}

// New builds a Processor with a pool of the given size.
func New(normalizer Normalizer, uploader Uploader, workers int, logger logrus.FieldLogger) *Processor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		normalizer: normalizer,
		uploader:   uploader,
		workers:    workers,
		logger:     logger,
	}
}

// Process returns the uploads that succeeded, ordered by source position.
// It never fails; an empty slice means nothing made it.
func (p *Processor) Process(ctx context.Context, sources []model.ImageSource, shop, credential string) []model.UploadResult {
	uploads := make([]model.UploadResult, 0, len(sources))
	for _, item := range p.Run(ctx, sources, shop, credential) {
		if item.OK() {
			uploads = append(uploads, item.Upload)
		}
	}
	return uploads
}

// Run processes every source and returns one tagged result per source in
// input order.
func (p *Processor) Run(ctx context.Context, sources []model.ImageSource, shop, credential string) []ItemResult {
	results := make([]ItemResult, len(sources))
	if len(sources) == 0 {
		return results
	}

	// Every index is queued up front so workers never block on the producer.
	jobs := make(chan int, len(sources))
	for i := range sources {
		jobs <- i
	}
	close(jobs)

	workers := p.workers
	if workers > len(sources) {
		workers = len(sources)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				// each index is owned by exactly one worker, so writes don't race
				results[idx] = p.processOne(ctx, sources[idx], idx, shop, credential)
			}
		}()
	}
	wg.Wait()

	failed := 0
	for _, item := range results {
		if !item.OK() {
			failed++
			p.logFailure(sources[item.Index], item)
		}
	}
	p.logger.WithFields(logrus.Fields{
		"shop":      shop,
		"total":     len(sources),
		"succeeded": len(sources) - failed,
	}).Info("image batch finished")
	return results
}

func (p *Processor) processOne(ctx context.Context, src model.ImageSource, idx int, shop, credential string) ItemResult {
	if err := ctx.Err(); err != nil {
		return ItemResult{Index: idx, Err: fmt.Errorf("image %d abandoned: %w", idx, err)}
	}

	image, err := p.normalizer.Normalize(ctx, src, idx)
	if err != nil {
		return ItemResult{Index: idx, Err: withIndex(err, idx)}
	}
	if err := ctx.Err(); err != nil {
		return ItemResult{Index: idx, Err: fmt.Errorf("image %d abandoned: %w", idx, err)}
	}

	upload, err := p.uploader.Upload(ctx, image, shop, credential)
	if err != nil {
		return ItemResult{Index: idx, Err: withIndex(err, idx)}
	}
	return ItemResult{Index: idx, Upload: upload}
}

func (p *Processor) logFailure(src model.ImageSource, item ItemResult) {
	kind := apperr.KindOf(item.Err)
	if kind == "" {
		kind = "cancelled"
	}
	p.logger.WithFields(logrus.Fields{
		"index":  item.Index,
		"kind":   kind,
		"source": src.Describe(),
	}).WithError(item.Err).Warn("image skipped")
}

// withIndex stamps the image position onto errors raised without one.
func withIndex(err error, idx int) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.Index == apperr.NoIndex {
		tagged := *e
		tagged.Index = idx
		return &tagged
	}
	return err
}
