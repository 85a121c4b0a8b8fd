package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/queue"
)

// Publisher runs one publish end to end.
type Publisher interface {
	RunPublish(ctx context.Context, sessionKey string, fields model.ProductFields, sources []model.ImageSource, shop, credential string) (model.PublishOutcome, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	publisher Publisher
	logger    logrus.FieldLogger
}

// NewProcessor constructs a worker processor.
func NewProcessor(publisher Publisher, logger logrus.FieldLogger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{publisher: publisher, logger: logger}
}

// Handler registers the publish task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.PublishProductTask, p.handlePublish)
	return mux
}

// Failures are wrapped with asynq.SkipRetry: a retried publish could create
// the product twice.
func (p *Processor) handlePublish(ctx context.Context, task *asynq.Task) error {
	var payload queue.PublishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := p.logger.WithFields(logrus.Fields{"session": payload.SessionKey, "shop": payload.Shop})

	outcome, err := p.publisher.RunPublish(ctx, payload.SessionKey, payload.Fields,
		queue.DecodeSources(payload.Images), payload.Shop, payload.AccessToken)
	if err != nil {
		logger.WithField("kind", apperr.KindOf(err)).WithError(err).Error("queued publish failed")
		return fmt.Errorf("publish %q: %w: %w", payload.Fields.Title, err, asynq.SkipRetry)
	}
	logger.WithFields(logrus.Fields{
		"product_id": outcome.ProductID,
		"images":     outcome.ImageCount,
	}).Info("queued publish finished")
	return nil
}
