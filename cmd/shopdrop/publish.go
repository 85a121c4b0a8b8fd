package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ShopDrop/internal/app"
	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/batch"
	"github.com/dharsanguruparan/ShopDrop/internal/logging"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/pipeline"
)

const defaultCLISession = "cli"

func newPublishCmd(env *cliEnv) *cobra.Command {
	var (
		title       string
		description string
		price       float64
		shop        string
		token       string
		vendor      string
		productType string
		tags        string
		status      string
		inventory   int
		images      []string
		session     string
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload images and create a product",
		Example: `  shopdrop publish --shop my-shop.myshopify.com --title "Clay mug" --price 18 \
    --image ./mug-front.jpg --image https://example.com/mug-side.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if price < 0 {
				return fmt.Errorf("--price must not be negative")
			}
			if token == "" {
				return fmt.Errorf("--token or SHOPDROP_ACCESS_TOKEN is required")
			}
			cfg, err := env.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.LogLevel
			if verbose {
				level = "debug"
			}
			logger := logging.NewWithOutput(cmd.ErrOrStderr(), level, cfg.LogFormat)

			sources, err := loadSources(images)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			deps, err := app.New(ctx, cfg, logger, env.appOptions)
			if err != nil {
				return fmt.Errorf("init pipeline: %w", err)
			}
			defer deps.Close(context.Background())

			fields := model.ProductFields{
				Title:       title,
				Description: description,
				Price:       price,
				Vendor:      vendor,
				ProductType: productType,
				Tags:        model.SplitTags(tags),
				Status:      status,
			}
			if cmd.Flags().Changed("inventory") {
				fields.Inventory = &inventory
			}

			var imageBatch pipeline.ImageBatch = deps.Batch
			if verbose {
				imageBatch = &reportingBatch{processor: deps.Batch, out: cmd.ErrOrStderr()}
			}
			orchestrator := pipeline.New(imageBatch, deps.Publisher, deps.Activity, logger)

			outcome, err := orchestrator.RunPublish(ctx, session, fields, sources, shop, token)
			if err != nil {
				return describeFailure(err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&title, "title", "", "Product title")
	flags.StringVar(&description, "description", "", "Product description (HTML allowed)")
	flags.Float64Var(&price, "price", 0, "Price in the shop currency")
	flags.StringVar(&shop, "shop", "", "Shop domain or URL, e.g. my-shop.myshopify.com")
	flags.StringVar(&token, "token", os.Getenv("SHOPDROP_ACCESS_TOKEN"), "Admin API access token")
	flags.StringVar(&vendor, "vendor", "", "Vendor (defaults to the configured brand)")
	flags.StringVar(&productType, "product-type", "", "Product type")
	flags.StringVar(&tags, "tags", "", "Comma separated tags")
	flags.StringVar(&status, "status", "", "draft or active (default draft)")
	flags.IntVar(&inventory, "inventory", 1, "Inventory quantity")
	flags.StringArrayVarP(&images, "image", "i", nil, "Image path, URL or data URI (repeatable)")
	flags.StringVar(&session, "session", defaultCLISession, "Session key the outcome is recorded under")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Report every image and log at debug level")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("shop")
	return cmd
}

// loadSources reads local files; URLs and data URIs pass through.
func loadSources(images []string) ([]model.ImageSource, error) {
	sources := make([]model.ImageSource, 0, len(images))
	for _, img := range images {
		lower := strings.ToLower(strings.TrimSpace(img))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
			sources = append(sources, model.FromString(img))
			continue
		}
		data, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		sources = append(sources, model.FromBytes(data))
	}
	return sources, nil
}

func describeFailure(err error) error {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Kind == apperr.KindValidation && len(e.Fields) > 0 {
		return fmt.Errorf("%s: %s", e.UserMessage(), string(e.Fields))
	}
	return fmt.Errorf("%s", e.UserMessage())
}

// reportingBatch prints one line per image before handing back the
// successes.
type reportingBatch struct {
	processor *batch.Processor
	out       io.Writer
}

func (r *reportingBatch) Process(ctx context.Context, sources []model.ImageSource, shop, credential string) []model.UploadResult {
	uploads := make([]model.UploadResult, 0, len(sources))
	for _, item := range r.processor.Run(ctx, sources, shop, credential) {
		if item.OK() {
			fmt.Fprintf(r.out, "image %d: uploaded %s\n", item.Index+1, item.Upload.PublicURL)
			uploads = append(uploads, item.Upload)
			continue
		}
		fmt.Fprintf(r.out, "image %d: skipped (%v)\n", item.Index+1, item.Err)
	}
	return uploads
}
