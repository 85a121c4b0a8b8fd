package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/dharsanguruparan/ShopDrop/internal/activity"
	"github.com/dharsanguruparan/ShopDrop/internal/app"
	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/assets"
	"github.com/dharsanguruparan/ShopDrop/internal/config"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
)

type cliShop struct {
	mu      sync.Mutex
	uploads int
}

func (s *cliShop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.URL.Path {
	case "/admin/api/2024-01/uploads.json":
		if _, _, err := r.FormFile(assets.AttachmentField); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.uploads++
		fmt.Fprintf(w, `{"upload":{"id":%d,"public_url":"https://cdn.shopify.com/files/%d.jpg"}}`, s.uploads, s.uploads)
	case "/admin/api/2024-01/products.json":
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"product":{"id":42,"handle":"clay-mug","status":"draft"}}`)
	default:
		http.NotFound(w, r)
	}
}

func testConfig(store, redisAddr string) *config.Config {
	return &config.Config{
		ShopifyAPIVersion: "2024-01",
		FetchTimeout:      time.Second,
		UploadTimeout:     time.Second,
		ProductTimeout:    time.Second,
		BatchWorkers:      2,
		AssetBackend:      config.AssetBackendShopify,
		ActivityStore:     store,
		RedisAddr:         redisAddr,
		LogLevel:          "error",
		LogFormat:         "text",
	}
}

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xcc
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(t.TempDir(), "mug.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return path
}

func execute(t *testing.T, env *cliEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(env)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestPublishAndActivity(t *testing.T) {
	shop := &cliShop{}
	srv := httptest.NewTLSServer(shop)
	defer srv.Close()
	mr := miniredis.RunT(t)

	cfg := testConfig(config.ActivityRedis, mr.Addr())
	env := &cliEnv{
		loadConfig: func() (*config.Config, error) { return cfg, nil },
		appOptions: app.Options{HTTPClient: srv.Client()},
	}
	host := strings.TrimPrefix(srv.URL, "https://")

	stdout, stderr, err := execute(t, env, "publish",
		"--shop", host, "--title", "Clay mug", "--price", "18",
		"--token", "tok", "--session", "s1", "--verbose",
		"--image", writePNG(t), "--image", "data:image/png;base64,bm90IGFuIGltYWdl",
	)
	if err != nil {
		t.Fatalf("publish: %v (stderr %s)", err, stderr)
	}
	var outcome model.PublishOutcome
	if err := json.Unmarshal([]byte(stdout), &outcome); err != nil {
		t.Fatalf("decode outcome: %v\n%s", err, stdout)
	}
	if outcome.ProductID != "42" || outcome.ImageCount != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !strings.Contains(stderr, "image 1: uploaded") || !strings.Contains(stderr, "image 2: skipped") {
		t.Fatalf("verbose report missing:\n%s", stderr)
	}

	stdout, _, err = execute(t, env, "activity", "--session", "s1")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	var entries []activity.Entry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("decode entries: %v\n%s", err, stdout)
	}
	if len(entries) != 1 || entries[0].Kind != activity.KindShopifyUpload {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestActivityEmptySessionPrintsEmptyList(t *testing.T) {
	env := &cliEnv{loadConfig: func() (*config.Config, error) { return testConfig(config.ActivityMemory, ""), nil }}
	stdout, _, err := execute(t, env, "activity", "--session", "nobody")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("expected empty list, got %q", stdout)
	}
}

func TestPublishRequiresToken(t *testing.T) {
	t.Setenv("SHOPDROP_ACCESS_TOKEN", "")
	env := &cliEnv{loadConfig: func() (*config.Config, error) { return testConfig(config.ActivityMemory, ""), nil }}
	_, _, err := execute(t, env, "publish", "--shop", "x.myshopify.com", "--title", "Mug")
	if err == nil || !strings.Contains(err.Error(), "SHOPDROP_ACCESS_TOKEN") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestLoadSources(t *testing.T) {
	path := writePNG(t)
	sources, err := loadSources([]string{"https://example.com/a.png", "DATA:image/png;base64,AA==", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(sources))
	}
	if sources[0].Kind != model.SourceRemote || sources[0].URL != "https://example.com/a.png" {
		t.Fatalf("url should pass through: %+v", sources[0])
	}
	if sources[1].Kind != model.SourceInline {
		t.Fatalf("data uri should stay inline: %+v", sources[1])
	}
	if sources[2].Kind != model.SourceRaw || len(sources[2].Data) == 0 {
		t.Fatalf("file should be read into bytes")
	}

	if _, err := loadSources([]string{filepath.Join(t.TempDir(), "missing.jpg")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDescribeFailure(t *testing.T) {
	err := describeFailure(apperr.Validation("publish", apperr.NoIndex, 422, "rejected", json.RawMessage(`{"title":["can't be blank"]}`)))
	if !strings.Contains(err.Error(), `can't be blank`) {
		t.Fatalf("validation fields missing: %v", err)
	}
	plain := fmt.Errorf("boom")
	if describeFailure(plain) != plain {
		t.Fatalf("non-app errors pass through")
	}
}

func TestDevCommands(t *testing.T) {
	root := newRootCommand(&cliEnv{})
	for _, tc := range []struct {
		args  []string
		short string
	}{
		{[]string{"run", "server"}, "go run ./cmd/server"},
		{[]string{"run", "worker"}, "go run ./cmd/worker"},
	} {
		cmd, _, err := root.Find(tc.args)
		if err != nil {
			t.Fatalf("find %v: %v", tc.args, err)
		}
		if cmd.Short != tc.short {
			t.Fatalf("%v: expected %q, got %q", tc.args, tc.short, cmd.Short)
		}
	}

	if got := goRunArgs("./cmd/server", []string{"-v"}); !reflect.DeepEqual(got, []string{"run", "./cmd/server", "-v"}) {
		t.Fatalf("unexpected run args %v", got)
	}
	if got := goTestArgs(false, false, nil); !reflect.DeepEqual(got, []string{"test", "./..."}) {
		t.Fatalf("unexpected default test args %v", got)
	}
	if got := goTestArgs(true, true, []string{"./internal/batch"}); !reflect.DeepEqual(got, []string{"test", "-race", "-cover", "./internal/batch"}) {
		t.Fatalf("unexpected test args %v", got)
	}
}
