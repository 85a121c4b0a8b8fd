// Package pipeline sequences a publish request: the image batch first, then
// the product create, then the session log entry.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/activity"
	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/shopify"
)

// ImageBatch uploads every usable image and returns the successes in order.
type ImageBatch interface {
	Process(ctx context.Context, sources []model.ImageSource, shop, credential string) []model.UploadResult
}

// ProductPublisher creates the product from the uploaded images.
type ProductPublisher interface {
	Publish(ctx context.Context, fields model.ProductFields, images []model.UploadResult, shop, credential string) (model.PublishOutcome, error)
}

// ActivityLog records outcomes per session.
type ActivityLog interface {
	AppendActivity(ctx context.Context, sessionKey, kind string, record any) error
}

// Orchestrator holds no per-request state; concurrent RunPublish calls are
// independent.
type Orchestrator struct {
	batch     ImageBatch
	publisher ProductPublisher
	log       ActivityLog
	logger    logrus.FieldLogger
}

// New wires the orchestrator.
func New(batch ImageBatch, publisher ProductPublisher, log ActivityLog, logger logrus.FieldLogger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{batch: batch, publisher: publisher, log: log, logger: logger}
}

// RunPublish uploads the images, creates the product and appends the
// outcome to the session log. Product-level errors are returned unchanged
// and nothing is recorded for them.
func (o *Orchestrator) RunPublish(ctx context.Context, sessionKey string, fields model.ProductFields, sources []model.ImageSource, shop, credential string) (model.PublishOutcome, error) {
	const op = "publish product"

	host, err := shopify.NormalizeShop(shop)
	if err != nil {
		return model.PublishOutcome{}, apperr.Validation(op, apperr.NoIndex, 0, err.Error(), nil)
	}
	logger := o.logger.WithFields(logrus.Fields{"session": sessionKey, "shop": host})

	uploads := o.batch.Process(ctx, sources, host, credential)
	if err := ctx.Err(); err != nil {
		return model.PublishOutcome{}, fmt.Errorf("publish abandoned after image batch: %w", err)
	}
	logger.WithFields(logrus.Fields{"images": len(sources), "uploaded": len(uploads)}).Debug("images ready")

	outcome, err := o.publisher.Publish(ctx, fields, uploads, host, credential)
	if err != nil {
		logger.WithField("kind", apperr.KindOf(err)).WithError(err).Warn("publish failed")
		return model.PublishOutcome{}, err
	}

	if o.log != nil {
		if err := o.log.AppendActivity(ctx, sessionKey, activity.KindShopifyUpload, outcome); err != nil {
			logger.WithError(err).WithField("product_id", outcome.ProductID).Error("record activity")
		}
	}
	logger.WithField("product_id", outcome.ProductID).Info("product published")
	return outcome, nil
}
