// Package model contains the structs shared by the publishing pipeline, the
// HTTP layer, the queue and the CLI.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SourceKind tags which variant of ImageSource is populated.
type SourceKind string

const (
	SourceInline SourceKind = "inline"
	SourceRemote SourceKind = "remote"
	SourceRaw    SourceKind = "raw"
)

// ImageSource is one image as received from the caller. Exactly one of
// Encoded, URL or Data is meaningful, selected by Kind.
type ImageSource struct {
	Kind SourceKind
	// Encoded is a data URI ("data:image/png;base64,....").
	Encoded string
	URL     string
	Data    []byte
}

// FromString classifies a caller supplied string. Anything that is not an
// http(s) URL is treated as inline encoded data and validated later.
func FromString(s string) ImageSource {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ImageSource{Kind: SourceRemote, URL: trimmed}
	}
	return ImageSource{Kind: SourceInline, Encoded: trimmed}
}

// FromBytes wraps a raw buffer.
func FromBytes(data []byte) ImageSource {
	return ImageSource{Kind: SourceRaw, Data: data}
}

// Describe returns a short label for logs that never includes payload bytes.
func (s ImageSource) Describe() string {
	switch s.Kind {
	case SourceRemote:
		return s.URL
	case SourceInline:
		if i := strings.IndexByte(s.Encoded, ','); i > 0 && i < 64 {
			return s.Encoded[:i]
		}
		return "inline data"
	default:
		return "raw buffer"
	}
}

// NormalizedImage is the canonical JPEG form handed to an uploader.
type NormalizedImage struct {
	Content  []byte
	Filename string
	MimeType string
	Width    int
	Height   int
}

// UploadResult is produced once per successfully uploaded image.
type UploadResult struct {
	AssetID          string `json:"assetId"`
	PublicURL        string `json:"publicUrl"`
	OriginalFilename string `json:"originalFilename"`
}

// ProductStatus is the lifecycle status sent to the platform.
type ProductStatus string

const (
	StatusDraft  ProductStatus = "draft"
	StatusActive ProductStatus = "active"
)

// ParseStatus maps caller input onto a status. Only an explicit "active"
// publishes live; everything else stays a draft.
func ParseStatus(s string) ProductStatus {
	if strings.EqualFold(strings.TrimSpace(s), string(StatusActive)) {
		return StatusActive
	}
	return StatusDraft
}

// Tags accepts either a JSON array of strings or a comma separated string.
type Tags []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tags) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = cleanTags(list)
		return nil
	}
	var joined string
	if err := json.Unmarshal(b, &joined); err != nil {
		return err
	}
	*t = SplitTags(joined)
	return nil
}

// SplitTags splits a comma separated tag list.
func SplitTags(s string) Tags {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return cleanTags(strings.Split(s, ","))
}

func cleanTags(in []string) Tags {
	out := make(Tags, 0, len(in))
	for _, tag := range in {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// ProductFields are the business fields of one publish request.
type ProductFields struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Vendor      string  `json:"vendor,omitempty"`
	ProductType string  `json:"productType,omitempty"`
	Tags        Tags    `json:"tags,omitempty"`
	Status      string  `json:"status,omitempty"`
	// Inventory is nil when the caller did not supply a quantity.
	Inventory *int `json:"inventory,omitempty"`
}

// ProductRecord is the platform product built for a single publish call.
type ProductRecord struct {
	Title             string
	HTMLDescription   string
	Vendor            string
	ProductType       string
	Status            ProductStatus
	Price             string
	InventoryQuantity int
	ImageURLs         []string
	Tags              []string
	MetaTitle         string
	MetaDescription   string
}

// PublishOutcome is what gets appended to the session activity log.
type PublishOutcome struct {
	ProductID  string    `json:"productId"`
	Handle     string    `json:"handle"`
	Status     string    `json:"status"`
	Title      string    `json:"title"`
	ProductURL string    `json:"productUrl"`
	AdminURL   string    `json:"adminUrl"`
	ImageURLs  []string  `json:"imageUrls"`
	ImageCount int       `json:"imageCount"`
	Timestamp  time.Time `json:"timestamp"`
}
