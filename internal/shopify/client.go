// Package shopify holds the pieces shared by every call the pipeline makes to
// the Shopify Admin REST API: shop normalization, endpoint construction,
// https enforcement, and classification of responses into apperr kinds.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
)

// TokenHeader carries the shop access token on every Admin API request.
const TokenHeader = "X-Shopify-Access-Token"

const maxResponseBytes = 4 << 20

type httpRequestFunc func(req *http.Request) (*http.Response, error)

// Client issues Admin API requests. It is safe for concurrent use.
type Client struct {
	apiVersion  string
	makeRequest httpRequestFunc
}

// NewClient builds a client for the given API version. A nil httpClient
// falls back to http.DefaultClient; timeouts are applied per call.
func NewClient(apiVersion string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{apiVersion: apiVersion, makeRequest: httpClient.Do}
}

// Endpoint returns https://{shop}/admin/api/{version}/{resource}.json.
func (c *Client) Endpoint(shop, resource string) string {
	return fmt.Sprintf("https://%s/admin/api/%s/%s.json", shop, c.apiVersion, resource)
}

// Do sends req with the access token and a bounded timeout. A 2xx body is
// decoded into out; anything else is returned as an *apperr.Error.
func (c *Client) Do(ctx context.Context, op string, index int, timeout time.Duration, token string, req *http.Request, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req = req.WithContext(ctx)
	req.Header.Set(TokenHeader, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.makeRequest(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperr.Transport(op, index, 0, fmt.Sprintf("timed out after %s", timeout), err)
		}
		return apperr.Transport(op, index, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Transport(op, index, resp.StatusCode, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.FromResponse(op, index, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Validation(op, index, resp.StatusCode, "malformed response body", nil)
	}
	return nil
}

// NormalizeShop reduces "http://My-Shop.myshopify.com/admin" and friends to
// "my-shop.myshopify.com".
func NormalizeShop(raw string) (string, error) {
	shop := strings.TrimSpace(raw)
	lower := strings.ToLower(shop)
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, prefix) {
			shop = shop[len(prefix):]
			break
		}
	}
	if i := strings.IndexAny(shop, "/?#"); i >= 0 {
		shop = shop[:i]
	}
	shop = strings.ToLower(shop)
	if shop == "" || strings.ContainsAny(shop, " \t@") {
		return "", fmt.Errorf("invalid shop identifier %q", raw)
	}
	return shop, nil
}

// SecureURL forces the https scheme onto raw. Protocol-relative and
// scheme-less values are upgraded too.
func SecureURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, "http://") {
			return "https://" + s[len("http://"):]
		}
		if strings.HasPrefix(lower, "https://") {
			return "https://" + s[len("https://"):]
		}
		return "https://" + s
	}
	u.Scheme = "https"
	return u.String()
}

// ProductURL is the storefront address of a product.
func ProductURL(shop, handle string) string {
	return SecureURL(fmt.Sprintf("https://%s/products/%s", shop, url.PathEscape(handle)))
}

// AdminProductURL is the admin page where a product is managed.
func AdminProductURL(shop, id string) string {
	return SecureURL(fmt.Sprintf("https://%s/admin/products/%s", shop, url.PathEscape(id)))
}

// ID accepts identifiers that arrive either as JSON numbers or strings.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}
