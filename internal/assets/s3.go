package assets

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/shopify"
)

// S3Config points the bucket backend at an S3 compatible store.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicBaseURL is the CDN or bucket website prefix objects are served
	// from. When empty the endpoint/bucket path is used.
	PublicBaseURL string
}

// S3Uploader stores images in a bucket instead of the shop's uploads
// endpoint. The bucket credentials come from config; the per-call credential
// is not sent anywhere.
type S3Uploader struct {
	client  *minio.Client
	cfg     S3Config
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewS3Uploader creates a MinIO client from cfg.
func NewS3Uploader(cfg S3Config, timeout time.Duration, logger logrus.FieldLogger) (*S3Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &S3Uploader{client: client, cfg: cfg, timeout: timeout, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

// Upload puts the image under <shop>/<filename>.
func (s *S3Uploader) Upload(ctx context.Context, image model.NormalizedImage, shop, _ string) (model.UploadResult, error) {
	const op = "upload asset"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := ObjectKey(shop, image.Filename)
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(image.Content), int64(len(image.Content)),
		minio.PutObjectOptions{ContentType: image.MimeType})
	if err != nil {
		return model.UploadResult{}, classifyMinio(op, err)
	}

	assetID := strings.Trim(info.ETag, `"`)
	if assetID == "" {
		assetID = key
	}
	result := model.UploadResult{
		AssetID:          assetID,
		PublicURL:        shopify.SecureURL(s.publicURL(key)),
		OriginalFilename: image.Filename,
	}
	s.logger.WithFields(logrus.Fields{"bucket": s.cfg.Bucket, "key": key}).Debug("asset stored")
	return result, nil
}

func (s *S3Uploader) publicURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + escapeKey(key)
	}
	endpoint := s.client.EndpointURL()
	return fmt.Sprintf("https://%s/%s/%s", endpoint.Host, url.PathEscape(s.cfg.Bucket), escapeKey(key))
}

// ObjectKey namespaces objects by shop.
func ObjectKey(shop, filename string) string {
	return path.Join(shop, path.Base(filename))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func classifyMinio(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return apperr.Auth(op, apperr.NoIndex, resp.StatusCode, resp.Message)
	case "EntityTooLarge", "InvalidArgument", "InvalidBucketName", "NoSuchBucket":
		return apperr.Validation(op, apperr.NoIndex, resp.StatusCode, "rejected by object store", nil)
	default:
		return apperr.Transport(op, apperr.NoIndex, resp.StatusCode, "object store request failed", err)
	}
}
