package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/shopify"
)

// MaxImages bounds the images accepted in one publish request.
const MaxImages = 20

const imagesField = "images"

type publishRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Price       *float64   `json:"price"`
	ShopURL     string     `json:"shopUrl"`
	AccessToken string     `json:"accessToken"`
	Images      []string   `json:"images"`
	Vendor      string     `json:"vendor"`
	ProductType string     `json:"productType"`
	Tags        model.Tags `json:"tags"`
	Status      string     `json:"status"`
	Inventory   *int       `json:"inventory"`

	sources []model.ImageSource
}

func (p *publishRequest) fields() model.ProductFields {
	var price float64
	if p.Price != nil {
		price = *p.Price
	}
	return model.ProductFields{
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		Price:       price,
		Vendor:      p.Vendor,
		ProductType: p.ProductType,
		Tags:        p.Tags,
		Status:      p.Status,
		Inventory:   p.Inventory,
	}
}

// validate returns a message per offending field.
func (p *publishRequest) validate() map[string]string {
	errs := map[string]string{}
	if strings.TrimSpace(p.Title) == "" {
		errs["title"] = "is required"
	}
	switch {
	case p.Price == nil:
		errs["price"] = "is required"
	case *p.Price < 0 || math.IsNaN(*p.Price) || math.IsInf(*p.Price, 0):
		errs["price"] = "must be a non-negative number"
	}
	if strings.TrimSpace(p.ShopURL) == "" {
		errs["shopUrl"] = "is required"
	} else if _, err := shopify.NormalizeShop(p.ShopURL); err != nil {
		errs["shopUrl"] = "must be a shop URL or host"
	}
	if strings.TrimSpace(p.AccessToken) == "" {
		errs["accessToken"] = "is required"
	}
	switch strings.ToLower(strings.TrimSpace(p.Status)) {
	case "", string(model.StatusDraft), string(model.StatusActive):
	default:
		errs["status"] = "must be draft or active"
	}
	if p.Inventory != nil && *p.Inventory < 0 {
		errs["inventory"] = "must not be negative"
	}
	if len(p.sources) > MaxImages {
		errs["images"] = fmt.Sprintf("at most %d images are allowed", MaxImages)
	}
	return errs
}

func decodePublishRequest(r *http.Request, maxImageBytes int64) (*publishRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		mr, err := r.MultipartReader()
		if err != nil {
			return nil, errors.New("expecting multipart form")
		}
		return decodeMultipart(mr, maxImageBytes)
	case "application/json", "":
		var req publishRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		for _, img := range req.Images {
			req.sources = append(req.sources, model.FromString(img))
		}
		return &req, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

// decodeMultipart streams the form so image parts keep their order whether
// they are files or text values.
func decodeMultipart(mr *multipart.Reader, maxImageBytes int64) (*publishRequest, error) {
	req := &publishRequest{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if err := req.readPart(part, maxImageBytes); err != nil {
			part.Close()
			return nil, err
		}
		part.Close()
	}
	return req, nil
}

func (p *publishRequest) readPart(part *multipart.Part, maxImageBytes int64) error {
	name := part.FormName()
	if name == imagesField && part.FileName() != "" {
		data, err := io.ReadAll(io.LimitReader(part, maxImageBytes+1))
		if err != nil {
			return fmt.Errorf("read image %q: %w", part.FileName(), err)
		}
		if int64(len(data)) > maxImageBytes {
			return fmt.Errorf("image %q exceeds limit (%d bytes)", part.FileName(), maxImageBytes)
		}
		p.sources = append(p.sources, model.FromBytes(data))
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(part, maxImageBytes+1))
	if err != nil {
		return fmt.Errorf("read field %q: %w", name, err)
	}
	value := string(raw)
	switch name {
	case imagesField:
		if strings.TrimSpace(value) != "" {
			p.sources = append(p.sources, model.FromString(value))
		}
	case "title":
		p.Title = value
	case "description":
		p.Description = value
	case "price":
		price, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("price %q is not a number", value)
		}
		p.Price = &price
	case "shopUrl":
		p.ShopURL = value
	case "accessToken":
		p.AccessToken = value
	case "vendor":
		p.Vendor = value
	case "productType":
		p.ProductType = value
	case "tags":
		p.Tags = append(p.Tags, model.SplitTags(value)...)
	case "status":
		p.Status = value
	case "inventory":
		inv, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("inventory %q is not an integer", value)
		}
		p.Inventory = &inv
	}
	return nil
}
