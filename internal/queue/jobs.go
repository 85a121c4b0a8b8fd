package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/normalize"
)

const (
	// PublishProductTask is scheduled by POST /products/async.
	PublishProductTask = "product:publish"
)

// Enqueuer is the subset of *asynq.Client the API needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PublishPayload carries everything the worker needs to run one publish.
// Raw buffers travel as data URIs so the payload stays JSON.
type PublishPayload struct {
	SessionKey  string              `json:"session_key"`
	Fields      model.ProductFields `json:"fields"`
	Shop        string              `json:"shop"`
	AccessToken string              `json:"access_token"`
	Images      []string            `json:"images"`
}

// EnqueuePublish schedules a publish. Publishing is never retried: a second
// attempt could create a duplicate product.
func EnqueuePublish(ctx context.Context, client Enqueuer, payload PublishPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(PublishProductTask, data)
	info, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	if err != nil {
		return "", fmt.Errorf("enqueue publish task: %w", err)
	}
	return info.ID, nil
}

// EncodeSources flattens sources into strings for the payload.
func EncodeSources(sources []model.ImageSource) []string {
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		switch src.Kind {
		case model.SourceRaw:
			out = append(out, normalize.EncodeDataURI(mimetype.Detect(src.Data).String(), src.Data))
		case model.SourceRemote:
			out = append(out, src.URL)
		default:
			out = append(out, src.Encoded)
		}
	}
	return out
}

// DecodeSources reverses EncodeSources.
func DecodeSources(images []string) []model.ImageSource {
	out := make([]model.ImageSource, 0, len(images))
	for _, img := range images {
		out = append(out, model.FromString(img))
	}
	return out
}
