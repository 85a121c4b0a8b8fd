package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/dharsanguruparan/ShopDrop/internal/activity"
	"github.com/dharsanguruparan/ShopDrop/internal/config"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		ShopifyAPIVersion: "2024-01",
		FetchTimeout:      time.Second,
		UploadTimeout:     time.Second,
		ProductTimeout:    time.Second,
		BatchWorkers:      2,
		DefaultVendor:     "Studio K",
		AssetBackend:      config.AssetBackendShopify,
		ActivityStore:     config.ActivityMemory,
	}
}

func TestNew_PublishesAndRecords(t *testing.T) {
	var body string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"product":{"id":"9","handle":"mug","status":"draft"}}`)
	}))
	defer srv.Close()

	logger, _ := logtest.NewNullLogger()
	a, err := New(context.Background(), testConfig(), logger, Options{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close(context.Background())

	shop := strings.TrimPrefix(srv.URL, "https://")
	out, err := a.Orchestrator.RunPublish(context.Background(), "sess", model.ProductFields{Title: "Mug"}, nil, shop, "tok")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if out.ProductID != "9" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.Contains(body, `"vendor":"Studio K"`) {
		t.Fatalf("configured vendor not used: %s", body)
	}
	entries, err := a.Activity.Entries(context.Background(), "sess")
	if err != nil || len(entries) != 1 || entries[0].Kind != activity.KindShopifyUpload {
		t.Fatalf("expected one recorded entry, got %v (%v)", entries, err)
	}
}

func TestNew_BadActivityStore(t *testing.T) {
	cfg := testConfig()
	cfg.ActivityStore = "postgres"
	if _, err := New(context.Background(), cfg, nil, Options{}); err == nil {
		t.Fatal("expected error without database url")
	}
}
