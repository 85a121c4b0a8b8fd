package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/dharsanguruparan/ShopDrop/internal/activity"
	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/assets"
	"github.com/dharsanguruparan/ShopDrop/internal/batch"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/normalize"
	"github.com/dharsanguruparan/ShopDrop/internal/publisher"
	"github.com/dharsanguruparan/ShopDrop/internal/shopify"
)

// fakeShop answers the uploads and products endpoints.
type fakeShop struct {
	mu             sync.Mutex
	uploads        []string
	productCalls   int
	productPayload map[string]any
	// rejectUpload returns a non-zero status for uploads that should fail.
	rejectUpload  func(filename string, n int) int
	productStatus int
	productBody   string
}

func (f *fakeShop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/admin/api/2024-01/uploads.json":
		_, header, err := r.FormFile(assets.AttachmentField)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n := len(f.uploads)
		f.uploads = append(f.uploads, header.Filename)
		if f.rejectUpload != nil {
			if status := f.rejectUpload(header.Filename, n); status != 0 {
				w.WriteHeader(status)
				io.WriteString(w, `{"errors":"rejected"}`)
				return
			}
		}
		fmt.Fprintf(w, `{"upload":{"id":%d,"public_url":"http://cdn.shopify.com/files/%s","key":"%s"}}`, 100+n, header.Filename, header.Filename)
	case "/admin/api/2024-01/products.json":
		f.productCalls++
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.productPayload)
		status := f.productStatus
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		if f.productBody != "" {
			io.WriteString(w, f.productBody)
			return
		}
		io.WriteString(w, `{"product":{"id":7001,"handle":"linen-tote","status":"draft"}}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeShop) productImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, _ := f.productPayload["product"].(map[string]any)
	raw, _ := product["images"].([]any)
	out := make([]string, 0, len(raw))
	for _, img := range raw {
		out = append(out, img.(map[string]any)["src"].(string))
	}
	return out
}

type harness struct {
	orchestrator *Orchestrator
	shop         string
	fake         *fakeShop
	store        *activity.MemoryStore
}

func newHarness(t *testing.T, fake *fakeShop, log ActivityLog) harness {
	t.Helper()
	srv := httptest.NewTLSServer(fake)
	t.Cleanup(srv.Close)

	logger, _ := logtest.NewNullLogger()
	client := shopify.NewClient("2024-01", srv.Client())
	normalizer := normalize.New(normalize.Options{FetchTimeout: time.Second, Logger: logger})
	uploader := assets.NewShopifyUploader(client, time.Second, logger)
	pub := publisher.New(client, publisher.Defaults{}, time.Second, logger)

	store := activity.NewMemoryStore()
	if log == nil {
		log = activity.NewLog(store)
	}
	return harness{
		orchestrator: New(batch.New(normalizer, uploader, 2, logger), pub, log, logger),
		shop:         strings.TrimPrefix(srv.URL, "https://"),
		fake:         fake,
		store:        store,
	}
}

func pngDataURI(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.NRGBA{A: 0})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return normalize.EncodeDataURI("image/png", buf.Bytes())
}

func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone.png"
	srv.Close()
	return url
}

func fields() model.ProductFields {
	return model.ProductFields{Title: "Linen tote", Description: "Hand stitched.", Price: 24.5}
}

func TestRunPublish_SkipsUnreachableImageAndRecordsOutcome(t *testing.T) {
	h := newHarness(t, &fakeShop{}, nil)
	sources := []model.ImageSource{
		model.FromString(pngDataURI(t, 40, 30)),
		model.FromString(unreachableURL(t)),
		model.FromString(pngDataURI(t, 20, 20)),
	}

	out, err := h.orchestrator.RunPublish(context.Background(), "sess-1", fields(), sources, "http://"+h.shop+"/", "tok")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if out.ImageCount != 2 || len(out.ImageURLs) != 2 {
		t.Fatalf("expected 2 images, got %+v", out)
	}
	if !strings.Contains(out.ImageURLs[0], "product-image-1-") || !strings.Contains(out.ImageURLs[1], "product-image-3-") {
		t.Fatalf("images out of order: %v", out.ImageURLs)
	}
	for _, u := range append(out.ImageURLs, out.ProductURL, out.AdminURL) {
		if !strings.HasPrefix(u, "https://") {
			t.Fatalf("url %s is not https", u)
		}
	}
	if out.ProductURL != "https://"+h.shop+"/products/linen-tote" {
		t.Fatalf("unexpected product url %s", out.ProductURL)
	}
	if got := h.fake.productImages(); len(got) != 2 || !strings.HasPrefix(got[0], "https://cdn.shopify.com/") {
		t.Fatalf("product payload images %v", got)
	}

	entries, _ := h.store.List(context.Background(), "sess-1")
	if len(entries) != 1 || entries[0].Kind != activity.KindShopifyUpload {
		t.Fatalf("expected one shopifyUpload entry, got %+v", entries)
	}
	var recorded model.PublishOutcome
	if err := json.Unmarshal(entries[0].Payload, &recorded); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if recorded.ProductID != "7001" || recorded.ImageCount != 2 {
		t.Fatalf("unexpected recorded outcome %+v", recorded)
	}
}

func TestRunPublish_RejectedUploadDropsOnlyThatImage(t *testing.T) {
	fake := &fakeShop{rejectUpload: func(filename string, _ int) int {
		if strings.HasPrefix(filename, "product-image-2-") {
			return http.StatusUnauthorized
		}
		return 0
	}}
	h := newHarness(t, fake, nil)
	sources := []model.ImageSource{
		model.FromString(pngDataURI(t, 10, 10)),
		model.FromString(pngDataURI(t, 10, 10)),
	}
	out, err := h.orchestrator.RunPublish(context.Background(), "sess-2", fields(), sources, h.shop, "tok")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if out.ImageCount != 1 || !strings.Contains(out.ImageURLs[0], "product-image-1-") {
		t.Fatalf("expected only the first image, got %v", out.ImageURLs)
	}
}

func TestRunPublish_AllImagesFailingStillCreatesProduct(t *testing.T) {
	h := newHarness(t, &fakeShop{}, nil)
	sources := []model.ImageSource{model.FromString("data:image/png;base64,@@@"), model.FromBytes(nil)}

	out, err := h.orchestrator.RunPublish(context.Background(), "sess-3", fields(), sources, h.shop, "tok")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if out.ImageCount != 0 || len(h.fake.productImages()) != 0 || h.fake.productCalls != 1 {
		t.Fatalf("expected an image-less product, got %+v", out)
	}
}

func TestRunPublish_ValidationFailureRecordsNothing(t *testing.T) {
	fake := &fakeShop{
		productStatus: http.StatusUnprocessableEntity,
		productBody:   `{"errors":{"variants.price":["must be greater than or equal to 0"]}}`,
	}
	h := newHarness(t, fake, nil)

	_, err := h.orchestrator.RunPublish(context.Background(), "sess-4", fields(), nil, h.shop, "tok")
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if string(e.Fields) != `{"variants.price":["must be greater than or equal to 0"]}` {
		t.Fatalf("fields not verbatim: %s", e.Fields)
	}
	if entries, _ := h.store.List(context.Background(), "sess-4"); len(entries) != 0 {
		t.Fatalf("nothing should be recorded, got %d entries", len(entries))
	}
}

func TestRunPublish_InvalidShop(t *testing.T) {
	h := newHarness(t, &fakeShop{}, nil)
	_, err := h.orchestrator.RunPublish(context.Background(), "s", fields(), nil, "https://", "tok")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunPublish_CancelledContextSkipsProductCreate(t *testing.T) {
	h := newHarness(t, &fakeShop{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orchestrator.RunPublish(ctx, "s", fields(), []model.ImageSource{model.FromString(pngDataURI(t, 5, 5))}, h.shop, "tok")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if h.fake.productCalls != 0 || len(h.fake.uploads) != 0 {
		t.Fatalf("no remote calls expected, got %d uploads %d products", len(h.fake.uploads), h.fake.productCalls)
	}
}

type failingLog struct{}

func (failingLog) AppendActivity(context.Context, string, string, any) error {
	return errors.New("store down")
}

func TestRunPublish_ActivityFailureDoesNotFailPublish(t *testing.T) {
	h := newHarness(t, &fakeShop{}, failingLog{})
	out, err := h.orchestrator.RunPublish(context.Background(), "s", fields(), nil, h.shop, "tok")
	if err != nil {
		t.Fatalf("publish should succeed, got %v", err)
	}
	if out.ProductID != "7001" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}
