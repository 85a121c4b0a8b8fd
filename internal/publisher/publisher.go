// Package publisher turns product fields plus uploaded images into a single
// product-create call against the shop.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/shopify"
)

const (
	// MetaDescriptionLimit caps the SEO description in runes.
	MetaDescriptionLimit = 160

	DefaultVendor           = "ShopDrop"
	DefaultProductType      = "Handmade"
	DefaultInventory        = 1
	defaultTimeout          = 30 * time.Second
	inventoryManagement     = "shopify"
	inventoryPolicyDeny     = "deny"
	productsResource        = "products"
	operationCreateProducts = "create product"
)

// Defaults fill in fields the caller left empty.
type Defaults struct {
	Vendor      string
	ProductType string
}

// Publisher creates products. It is safe for concurrent use.
type Publisher struct {
	client   *shopify.Client
	defaults Defaults
	timeout  time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time
}

// New builds a Publisher. Zero defaults fall back to ShopDrop/Handmade.
func New(client *shopify.Client, defaults Defaults, timeout time.Duration, logger logrus.FieldLogger) *Publisher {
	if defaults.Vendor == "" {
		defaults.Vendor = DefaultVendor
	}
	if defaults.ProductType == "" {
		defaults.ProductType = DefaultProductType
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{client: client, defaults: defaults, timeout: timeout, logger: logger, now: time.Now}
}

// Build assembles the record for fields and the uploaded images, in order.
func (p *Publisher) Build(fields model.ProductFields, images []model.UploadResult) model.ProductRecord {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		urls = append(urls, shopify.SecureURL(img.PublicURL))
	}

	vendor := strings.TrimSpace(fields.Vendor)
	if vendor == "" {
		vendor = p.defaults.Vendor
	}
	productType := strings.TrimSpace(fields.ProductType)
	if productType == "" {
		productType = p.defaults.ProductType
	}
	inventory := DefaultInventory
	if fields.Inventory != nil {
		inventory = *fields.Inventory
	}

	return model.ProductRecord{
		Title:             fields.Title,
		HTMLDescription:   fields.Description,
		Vendor:            vendor,
		ProductType:       productType,
		Status:            model.ParseStatus(fields.Status),
		Price:             FormatPrice(fields.Price),
		InventoryQuantity: inventory,
		ImageURLs:         urls,
		Tags:              []string(fields.Tags),
		MetaTitle:         fields.Title,
		MetaDescription:   Truncate(fields.Description, MetaDescriptionLimit),
	}
}

// FormatPrice renders a price with two decimal places.
func FormatPrice(price float64) string {
	return fmt.Sprintf("%.2f", price)
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

type productImage struct {
	Src string `json:"src"`
}

type productVariant struct {
	Price               string `json:"price"`
	InventoryQuantity   int    `json:"inventory_quantity"`
	InventoryManagement string `json:"inventory_management"`
	InventoryPolicy     string `json:"inventory_policy"`
}

type productPayload struct {
	Title           string           `json:"title"`
	BodyHTML        string           `json:"body_html"`
	Vendor          string           `json:"vendor"`
	ProductType     string           `json:"product_type"`
	Status          string           `json:"status"`
	Tags            string           `json:"tags"`
	Images          []productImage   `json:"images"`
	Variants        []productVariant `json:"variants"`
	MetaTitle       string           `json:"metafields_global_title_tag"`
	MetaDescription string           `json:"metafields_global_description_tag"`
}

type createRequest struct {
	Product productPayload `json:"product"`
}

type createResponse struct {
	Product *struct {
		ID     shopify.ID `json:"id"`
		Handle string     `json:"handle"`
		Status string     `json:"status"`
		Title  string     `json:"title"`
	} `json:"product"`
}

func payloadFor(record model.ProductRecord) createRequest {
	images := make([]productImage, 0, len(record.ImageURLs))
	for _, u := range record.ImageURLs {
		images = append(images, productImage{Src: u})
	}
	return createRequest{Product: productPayload{
		Title:       record.Title,
		BodyHTML:    record.HTMLDescription,
		Vendor:      record.Vendor,
		ProductType: record.ProductType,
		Status:      string(record.Status),
		Tags:        strings.Join(record.Tags, ", "),
		Images:      images,
		Variants: []productVariant{{
			Price:               record.Price,
			InventoryQuantity:   record.InventoryQuantity,
			InventoryManagement: inventoryManagement,
			InventoryPolicy:     inventoryPolicyDeny,
		}},
		MetaTitle:       record.MetaTitle,
		MetaDescription: record.MetaDescription,
	}}
}

// Publish creates the product on shop. Images may be empty. Errors are
// *apperr.Error values with NoIndex.
func (p *Publisher) Publish(ctx context.Context, fields model.ProductFields, images []model.UploadResult, shop, credential string) (model.PublishOutcome, error) {
	const op = operationCreateProducts

	if fields.Price < 0 || math.IsNaN(fields.Price) || math.IsInf(fields.Price, 0) {
		return model.PublishOutcome{}, apperr.Validation(op, apperr.NoIndex, 0, "price must be a non-negative number", nil)
	}

	record := p.Build(fields, images)
	body, err := json.Marshal(payloadFor(record))
	if err != nil {
		return model.PublishOutcome{}, apperr.Transport(op, apperr.NoIndex, 0, "encode product", err)
	}
	req, err := http.NewRequest(http.MethodPost, p.client.Endpoint(shop, productsResource), bytes.NewReader(body))
	if err != nil {
		return model.PublishOutcome{}, apperr.Transport(op, apperr.NoIndex, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp createResponse
	if err := p.client.Do(ctx, op, apperr.NoIndex, p.timeout, credential, req, &resp); err != nil {
		return model.PublishOutcome{}, err
	}
	if resp.Product == nil || resp.Product.ID == "" {
		return model.PublishOutcome{}, apperr.Validation(op, apperr.NoIndex, http.StatusOK, "response is missing product id", nil)
	}

	status := resp.Product.Status
	if status == "" {
		status = string(record.Status)
	}
	title := resp.Product.Title
	if title == "" {
		title = record.Title
	}
	// without a handle there is no storefront page to link to
	var productURL string
	if resp.Product.Handle != "" {
		productURL = shopify.ProductURL(shop, resp.Product.Handle)
	}
	outcome := model.PublishOutcome{
		ProductID:  string(resp.Product.ID),
		Handle:     resp.Product.Handle,
		Status:     status,
		Title:      title,
		ProductURL: productURL,
		AdminURL:   shopify.AdminProductURL(shop, string(resp.Product.ID)),
		ImageURLs:  record.ImageURLs,
		ImageCount: len(record.ImageURLs),
		Timestamp:  p.now().UTC(),
	}
	p.logger.WithFields(logrus.Fields{
		"shop":       shop,
		"product_id": outcome.ProductID,
		"images":     outcome.ImageCount,
		"status":     outcome.Status,
	}).Info("product created")
	return outcome, nil
}
