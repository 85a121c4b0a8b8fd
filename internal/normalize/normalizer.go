// Package normalize turns any accepted image source into the canonical JPEG
// uploaded to the asset store.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"

	// webp is not registered by imaging itself.
	_ "golang.org/x/image/webp"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxDimension = 2048
	defaultQuality      = 85
	defaultMaxBytes     = 20 << 20
	defaultMaxPixels    = 50_000_000

	// MimeType is the only content type the normalizer produces.
	MimeType = "image/jpeg"
)

type httpRequestFunc func(req *http.Request) (*http.Response, error)

// Options configures a Normalizer. Zero values fall back to the defaults.
type Options struct {
	FetchTimeout time.Duration
	MaxDimension int
	Quality      int
	MaxBytes     int64
	// MaxPixels caps the declared width*height checked before decoding.
	MaxPixels    int64
	// AllowedHosts are glob patterns matched against remote image hosts.
	AllowedHosts []string
	HTTPClient   *http.Client
	Logger       logrus.FieldLogger
}

// Normalizer decodes and re-encodes images. It keeps no per-call state and is
// safe for concurrent use.
type Normalizer struct {
	fetchTimeout time.Duration
	maxDimension int
	quality      int
	maxBytes     int64
	maxPixels    int64
	allowedHosts []string
	makeRequest  httpRequestFunc
	logger       logrus.FieldLogger
}

// New builds a Normalizer from opts.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		fetchTimeout: opts.FetchTimeout,
		maxDimension: opts.MaxDimension,
		quality:      opts.Quality,
		maxBytes:     opts.MaxBytes,
		maxPixels:    opts.MaxPixels,
		allowedHosts: opts.AllowedHosts,
		logger:       opts.Logger,
	}
	if n.fetchTimeout <= 0 {
		n.fetchTimeout = defaultFetchTimeout
	}
	if n.maxDimension <= 0 {
		n.maxDimension = defaultMaxDimension
	}
	if n.quality <= 0 || n.quality > 100 {
		n.quality = defaultQuality
	}
	if n.maxBytes <= 0 {
		n.maxBytes = defaultMaxBytes
	}
	if n.maxPixels <= 0 {
		n.maxPixels = defaultMaxPixels
	}
	if len(n.allowedHosts) == 0 {
		n.allowedHosts = []string{"*"}
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	n.makeRequest = client.Do
	if n.logger == nil {
		n.logger = logrus.StandardLogger()
	}
	return n
}

// Normalize produces the canonical JPEG for src. index is the position of the
// source in its batch and is used for the filename and error reporting.
func (n *Normalizer) Normalize(ctx context.Context, src model.ImageSource, index int) (model.NormalizedImage, error) {
	raw, err := n.load(ctx, src, index)
	if err != nil {
		return model.NormalizedImage{}, err
	}
	return n.transcode(raw, index)
}

func (n *Normalizer) load(ctx context.Context, src model.ImageSource, index int) ([]byte, error) {
	switch src.Kind {
	case model.SourceInline:
		raw, err := DecodeDataURI(src.Encoded)
		if err != nil {
			return nil, apperr.Decode("decode inline image", index, "malformed inline data", err)
		}
		return raw, nil
	case model.SourceRemote:
		return n.fetch(ctx, src.URL, index)
	case model.SourceRaw:
		if len(src.Data) == 0 {
			return nil, apperr.Decode("decode raw image", index, "empty buffer", nil)
		}
		return src.Data, nil
	default:
		return nil, apperr.Decode("decode image", index, fmt.Sprintf("unknown source kind %q", src.Kind), nil)
	}
}

func (n *Normalizer) fetch(ctx context.Context, rawURL string, index int) ([]byte, error) {
	const op = "fetch remote image"
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, apperr.Fetch(op, index, 0, "invalid image url", err)
	}
	if !n.hostAllowed(u.Hostname()) {
		return nil, apperr.Fetch(op, index, 0, fmt.Sprintf("host %s is not allowed", u.Hostname()), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, n.fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Fetch(op, index, 0, "build request", err)
	}
	resp, err := n.makeRequest(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Fetch(op, index, 0, fmt.Sprintf("timed out after %s", n.fetchTimeout), err)
		}
		return nil, apperr.Fetch(op, index, 0, "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Fetch(op, index, resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBytes+1))
	if err != nil {
		return nil, apperr.Fetch(op, index, resp.StatusCode, "read body", err)
	}
	if int64(len(body)) > n.maxBytes {
		return nil, apperr.Fetch(op, index, resp.StatusCode, fmt.Sprintf("image exceeds %d bytes", n.maxBytes), nil)
	}
	return body, nil
}

func (n *Normalizer) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range n.allowedHosts {
		if glob.Glob(strings.ToLower(pattern), host) {
			return true
		}
	}
	return false
}

func (n *Normalizer) transcode(raw []byte, index int) (model.NormalizedImage, error) {
	const op = "transcode image"
	if int64(len(raw)) > n.maxBytes {
		return model.NormalizedImage{}, apperr.Decode(op, index, fmt.Sprintf("image exceeds %d bytes", n.maxBytes), nil)
	}
	detected := mimetype.Detect(raw)
	if !strings.HasPrefix(detected.String(), "image/") {
		return model.NormalizedImage{}, apperr.Decode(op, index, fmt.Sprintf("unsupported media type %s", detected.String()), nil)
	}

	declared, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return model.NormalizedImage{}, apperr.Decode(op, index, "cannot read image header", err)
	}
	if pixels := int64(declared.Width) * int64(declared.Height); pixels > n.maxPixels {
		return model.NormalizedImage{}, apperr.Decode(op, index,
			fmt.Sprintf("image is %dx%d, above the %d pixel limit", declared.Width, declared.Height, n.maxPixels), nil)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return model.NormalizedImage{}, apperr.Decode(op, index, "cannot decode image", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > n.maxDimension || bounds.Dy() > n.maxDimension {
		img = imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)
		bounds = img.Bounds()
	}
	// JPEG has no alpha channel.
	flat := imaging.Overlay(imaging.New(bounds.Dx(), bounds.Dy(), color.White), img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		return model.NormalizedImage{}, apperr.Decode(op, index, "encode jpeg", err)
	}

	out := model.NormalizedImage{
		Content:  buf.Bytes(),
		Filename: Filename(index),
		MimeType: MimeType,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}
	n.logger.WithFields(logrus.Fields{
		"index":  index,
		"source": detected.String(),
		"width":  out.Width,
		"height": out.Height,
		"bytes":  len(out.Content),
	}).Debug("image normalized")
	return out, nil
}

// Filename returns a collision free name for the image at index.
func Filename(index int) string {
	return fmt.Sprintf("product-image-%d-%s.jpg", index+1, uuid.NewString())
}
