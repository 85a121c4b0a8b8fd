// Package config centralizes how ShopDrop reads its settings. Values come
// from SHOPDROP_* environment variables, optionally seeded by a .env file
// and a YAML base file named by SHOPDROP_CONFIG_FILE.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SHOPDROP_"

// Asset backends.
const (
	AssetBackendShopify = "shopify"
	AssetBackendS3      = "s3"
)

// Activity stores.
const (
	ActivityMemory   = "memory"
	ActivityPostgres = "postgres"
	ActivityRedis    = "redis"
)

// Config represents runtime configuration for the server, worker and CLI.
type Config struct {
	Address         string
	MaxRequestBytes int64

	ShopifyAPIVersion string
	FetchTimeout      time.Duration
	UploadTimeout     time.Duration
	ProductTimeout    time.Duration

	MaxImageDimension int
	JPEGQuality       int
	MaxImageBytes     int64
	MaxImagePixels    int64
	BatchWorkers      int
	AllowedImageHosts []string

	DefaultVendor      string
	DefaultProductType string

	AssetBackend    string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3UseSSL        bool
	S3PublicBaseURL string

	ActivityStore string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SigningSecret []byte
	SessionTTL    time.Duration
	// SigningSecretGenerated is set when no secret was configured and a
	// per-process random one is in use.
	SigningSecretGenerated bool

	LogLevel  string
	LogFormat string
}

const (
	defaultAddress         = ":8080"
	defaultMaxRequestBytes = 64 << 20 // 64 MiB
	defaultAPIVersion      = "2024-01"
	defaultFetchTimeout    = 15 * time.Second
	defaultUploadTimeout   = 30 * time.Second
	defaultProductTimeout  = 30 * time.Second
	defaultMaxDimension    = 2048
	defaultJPEGQuality     = 85
	defaultMaxImageBytes   = 20 << 20 // 20 MiB
	defaultMaxImagePixels  = 50_000_000
	defaultBatchWorkers    = 4
	defaultAllowedHosts    = "*"
	defaultVendor          = "ShopDrop"
	defaultProductType     = "Handmade"
	defaultS3Bucket        = "shopdrop-assets"
	defaultS3Region        = "us-east-1"
	defaultRedisAddr       = "localhost:6379"
	defaultSessionTTL      = 30 * 24 * time.Hour
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// Load reads a .env file if present, then the YAML file named by
// SHOPDROP_CONFIG_FILE, then the environment. Later sources win.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	src := source{}
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		Address:         src.readEnv("ADDRESS", defaultAddress),
		MaxRequestBytes: src.parseInt64("MAX_REQUEST_BYTES", defaultMaxRequestBytes),

		ShopifyAPIVersion: src.readEnv("SHOPIFY_API_VERSION", defaultAPIVersion),
		FetchTimeout:      src.parseDuration("FETCH_TIMEOUT", defaultFetchTimeout),
		UploadTimeout:     src.parseDuration("UPLOAD_TIMEOUT", defaultUploadTimeout),
		ProductTimeout:    src.parseDuration("PRODUCT_TIMEOUT", defaultProductTimeout),

		MaxImageDimension: src.parseInt("MAX_IMAGE_DIMENSION", defaultMaxDimension),
		JPEGQuality:       src.parseInt("JPEG_QUALITY", defaultJPEGQuality),
		MaxImageBytes:     src.parseInt64("MAX_IMAGE_BYTES", defaultMaxImageBytes),
		MaxImagePixels:    src.parseInt64("MAX_IMAGE_PIXELS", defaultMaxImagePixels),
		BatchWorkers:      src.parseInt("BATCH_WORKERS", defaultBatchWorkers),
		AllowedImageHosts: src.parseList("ALLOWED_IMAGE_HOSTS", defaultAllowedHosts),

		DefaultVendor:      src.readEnv("DEFAULT_VENDOR", defaultVendor),
		DefaultProductType: src.readEnv("DEFAULT_PRODUCT_TYPE", defaultProductType),

		AssetBackend:    strings.ToLower(src.readEnv("ASSET_BACKEND", AssetBackendShopify)),
		S3Endpoint:      src.readEnv("S3_ENDPOINT", ""),
		S3AccessKey:     src.readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:     src.readEnv("S3_SECRET_KEY", ""),
		S3Bucket:        src.readEnv("S3_BUCKET", defaultS3Bucket),
		S3Region:        src.readEnv("S3_REGION", defaultS3Region),
		S3UseSSL:        src.parseBool("S3_USE_SSL", true),
		S3PublicBaseURL: src.readEnv("S3_PUBLIC_BASE_URL", ""),

		ActivityStore: strings.ToLower(src.readEnv("ACTIVITY_STORE", ActivityMemory)),
		DatabaseURL:   src.readEnv("DATABASE_URL", ""),
		RedisAddr:     src.readEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword: src.readEnv("REDIS_PASSWORD", ""),
		RedisDB:       src.parseInt("REDIS_DB", 0),

		SigningSecret: src.parseSecret("SIGNING_SECRET"),
		SessionTTL:    src.parseDuration("SESSION_TTL", defaultSessionTTL),

		LogLevel:  src.readEnv("LOG_LEVEL", defaultLogLevel),
		LogFormat: src.readEnv("LOG_FORMAT", defaultLogFormat),
	}
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
		cfg.SigningSecretGenerated = true
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = defaultBatchWorkers
	}
	if cfg.MaxImageDimension <= 0 {
		cfg.MaxImageDimension = defaultMaxDimension
	}
	if cfg.MaxImagePixels <= 0 {
		cfg.MaxImagePixels = defaultMaxImagePixels
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = defaultJPEGQuality
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects backend selections that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.AssetBackend {
	case AssetBackendShopify:
	case AssetBackendS3:
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("s3 asset backend requires SHOPDROP_S3_ENDPOINT, SHOPDROP_S3_ACCESS_KEY and SHOPDROP_S3_SECRET_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown asset backend %q", c.AssetBackend))
	}
	switch c.ActivityStore {
	case ActivityMemory, ActivityRedis:
	case ActivityPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres activity store requires SHOPDROP_DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown activity store %q", c.ActivityStore))
	}
	if c.ShopifyAPIVersion == "" {
		errs = append(errs, errors.New("shopify api version must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// source resolves a key against the environment first, then the YAML file.
// File keys are the env names without the prefix, lower-cased.
type source struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToLower(k)] = v
	}
	return out, nil
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v, true
	}
	if v, ok := s.file[strings.ToLower(key)]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s source) readEnv(key, def string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return def
}

func (s source) parseList(key, def string) []string {
	val := s.readEnv(key, def)
	out := make([]string, 0)
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (s source) parseInt64(key string, def int64) int64 {
	if v, ok := s.lookup(key); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func (s source) parseInt(key string, def int) int {
	if v, ok := s.lookup(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func (s source) parseBool(key string, def bool) bool {
	if v, ok := s.lookup(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func (s source) parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := s.lookup(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func (s source) parseSecret(key string) []byte {
	if v, ok := s.lookup(key); ok {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random secret: %v", err))
	}
	return buf
}
