// Package assets uploads normalized images to a remote asset store and
// returns their public https addresses.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/shopify"
)

const (
	// AttachmentField is the multipart field the uploads endpoint reads.
	AttachmentField = "upload[attachment]"

	defaultUploadTimeout = 30 * time.Second
)

// ShopifyUploader posts images to the shop's uploads endpoint.
type ShopifyUploader struct {
	client  *shopify.Client
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewShopifyUploader builds an uploader. timeout bounds each upload.
func NewShopifyUploader(client *shopify.Client, timeout time.Duration, logger logrus.FieldLogger) *ShopifyUploader {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ShopifyUploader{client: client, timeout: timeout, logger: logger}
}

type uploadResponse struct {
	Upload *struct {
		ID        shopify.ID `json:"id"`
		PublicURL string     `json:"public_url"`
		Key       string     `json:"key"`
	} `json:"upload"`
}

// Upload sends one image. Errors carry apperr.NoIndex; the batch processor
// attaches the image position.
func (u *ShopifyUploader) Upload(ctx context.Context, image model.NormalizedImage, shop, credential string) (model.UploadResult, error) {
	const op = "upload asset"

	body, contentType, err := multipartBody(image)
	if err != nil {
		return model.UploadResult{}, apperr.Transport(op, apperr.NoIndex, 0, "build multipart body", err)
	}
	req, err := http.NewRequest(http.MethodPost, u.client.Endpoint(shop, "uploads"), body)
	if err != nil {
		return model.UploadResult{}, apperr.Transport(op, apperr.NoIndex, 0, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp uploadResponse
	if err := u.client.Do(ctx, op, apperr.NoIndex, u.timeout, credential, req, &resp); err != nil {
		return model.UploadResult{}, err
	}
	if resp.Upload == nil || resp.Upload.ID == "" || resp.Upload.PublicURL == "" {
		return model.UploadResult{}, apperr.Validation(op, apperr.NoIndex, http.StatusOK, "response is missing upload id or public_url", nil)
	}

	result := model.UploadResult{
		AssetID:          string(resp.Upload.ID),
		PublicURL:        shopify.SecureURL(resp.Upload.PublicURL),
		OriginalFilename: image.Filename,
	}
	u.logger.WithFields(logrus.Fields{
		"shop":     shop,
		"asset_id": result.AssetID,
		"key":      resp.Upload.Key,
	}).Debug("asset uploaded")
	return result, nil
}

func multipartBody(image model.NormalizedImage) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, AttachmentField, image.Filename))
	mimeType := image.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	header.Set("Content-Type", mimeType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
