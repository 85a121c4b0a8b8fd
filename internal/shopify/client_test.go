package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
)

func TestNormalizeShop(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"my-shop.myshopify.com", "my-shop.myshopify.com", false},
		{"https://my-shop.myshopify.com", "my-shop.myshopify.com", false},
		{"http://My-Shop.myshopify.com/", "my-shop.myshopify.com", false},
		{"HTTP://my-shop.myshopify.com/admin/products?x=1", "my-shop.myshopify.com", false},
		{"  https://127.0.0.1:8443  ", "127.0.0.1:8443", false},
		{"", "", true},
		{"https://", "", true},
		{"bad shop", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeShop(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeShop(%q): expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeShop(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeShop(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSecureURL(t *testing.T) {
	tests := map[string]string{
		"http://cdn.shopify.com/s/files/a.jpg":  "https://cdn.shopify.com/s/files/a.jpg",
		"https://cdn.shopify.com/s/files/a.jpg": "https://cdn.shopify.com/s/files/a.jpg",
		"HTTP://cdn.shopify.com/a.jpg?v=1":      "https://cdn.shopify.com/a.jpg?v=1",
		"//cdn.shopify.com/a.jpg":               "https://cdn.shopify.com/a.jpg",
		"cdn.shopify.com/a.jpg":                 "https://cdn.shopify.com/a.jpg",
		"":                                      "",
	}
	for in, want := range tests {
		if got := SecureURL(in); got != want {
			t.Errorf("SecureURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var payload struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":632910392,"b":"gid://shopify/Product/1","c":null}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.A != "632910392" || payload.B != "gid://shopify/Product/1" || payload.C != "" {
		t.Fatalf("unexpected ids: %+v", payload)
	}
}

func TestClientDo(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(TokenHeader) != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"errors":"[API] Invalid API key or access token"}`))
			return
		}
		switch r.URL.Path {
		case "/admin/api/2024-01/ok.json":
			w.Write([]byte(`{"value":"yes"}`))
		case "/admin/api/2024-01/garbled.json":
			w.Write([]byte(`<html>`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("bad gateway"))
		}
	}))
	defer srv.Close()

	shop := strings.TrimPrefix(srv.URL, "https://")
	client := NewClient("2024-01", srv.Client())

	call := func(resource, token string, out any) error {
		req, err := http.NewRequest(http.MethodGet, client.Endpoint(shop, resource), nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		return client.Do(context.Background(), "test", apperr.NoIndex, time.Second, token, req, out)
	}

	var ok struct {
		Value string `json:"value"`
	}
	if err := call("ok", "good", &ok); err != nil || ok.Value != "yes" {
		t.Fatalf("expected success, got %v (%+v)", err, ok)
	}
	if err := call("ok", "bad", nil); !apperr.IsKind(err, apperr.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if err := call("garbled", "good", &ok); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for malformed body, got %v", err)
	}
	if err := call("missing", "good", nil); !apperr.IsKind(err, apperr.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClientDoTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	shop := strings.TrimPrefix(srv.URL, "https://")
	client := NewClient("2024-01", srv.Client())
	req, _ := http.NewRequest(http.MethodGet, client.Endpoint(shop, "slow"), nil)

	err := client.Do(context.Background(), "slow", 3, 50*time.Millisecond, "good", req, nil)
	if !apperr.IsKind(err, apperr.KindTransport) {
		t.Fatalf("expected transport error on timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got %v", err)
	}
}
