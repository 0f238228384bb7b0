// Package config provides configuration loading and management for the image-api service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// so OS env > .env.local > .env.
func init() {
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the image-api service.
type Config struct {
	Env       string // Deployment environment (dev, staging, prod)
	Port      string // HTTP server port
	PublicURL string // Externally reachable base URL, used to absolutize asset URLs

	// Ledger / config store backend. DatabaseDSN wins over SQLitePath; neither means in-memory.
	DatabaseDSN string
	SQLitePath  string

	NATSURL string // NATS server URL for import events

	// Asset store. S3 is used when S3Bucket is set, the local upload directory otherwise.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string // Public base URL of the bucket
	UploadDir   string

	// Media limits
	MaxMediaSize      int64    // Maximum downloaded image size in bytes
	AllowedMimeTypes  []string // MIME types accepted by the importer
	MaxImageDimension int      // Still images wider or taller than this are downscaled

	HTTPTimeout time.Duration // Timeout for each outbound provider call

	// Provider options
	IsHTMLEditor bool
	Unsplash     model.ProviderCredentials
	Giphy        model.ProviderCredentials

	JWTSecret          string   // Enables the admin bearer-token policy when set
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort              = "8080"
	defaultPublicURL         = "http://localhost:8080"
	defaultS3Region          = "us-east-1"
	defaultEnv               = "dev"
	defaultUploadDir         = "./public/uploads"
	defaultMaxMediaSize      = 20 * 1024 * 1024
	defaultMaxImageDimension = 2560
	defaultHTTPTimeout       = 15 * time.Second
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Provider access keys are optional here: a missing key is reported per request.
func Load() (Config, error) {
	cfg := Config{
		Env:       getEnv("IMAGEAPI_ENV", defaultEnv),
		Port:      getEnv("IMAGEAPI_PORT", defaultPort),
		PublicURL: strings.TrimRight(getEnv("IMAGEAPI_PUBLIC_URL", defaultPublicURL), "/"),

		DatabaseDSN: os.Getenv("IMAGEAPI_DB_DSN"),
		SQLitePath:  os.Getenv("IMAGEAPI_SQLITE_PATH"),
		NATSURL:     os.Getenv("IMAGEAPI_NATS_URL"),

		S3Endpoint:  os.Getenv("IMAGEAPI_S3_ENDPOINT"),
		S3Region:    getEnv("IMAGEAPI_S3_REGION", defaultS3Region),
		S3Bucket:    os.Getenv("IMAGEAPI_S3_BUCKET"),
		S3AccessKey: os.Getenv("IMAGEAPI_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("IMAGEAPI_S3_SECRET_KEY"),
		S3PublicURL: strings.TrimRight(os.Getenv("IMAGEAPI_S3_PUBLIC_URL"), "/"),
		UploadDir:   getEnv("IMAGEAPI_UPLOAD_DIR", defaultUploadDir),

		MaxMediaSize:      defaultMaxMediaSize,
		MaxImageDimension: defaultMaxImageDimension,
		HTTPTimeout:       defaultHTTPTimeout,

		IsHTMLEditor: parseBool(os.Getenv("IMAGEAPI_HTML_EDITOR")),
		Unsplash: model.ProviderCredentials{
			AccessKey: os.Getenv("UNSPLASH_ACCESS_KEY"),
			AppName:   os.Getenv("UNSPLASH_APP_NAME"),
		},
		Giphy: model.ProviderCredentials{
			AccessKey: os.Getenv("GIPHY_ACCESS_KEY"),
		},

		JWTSecret: os.Getenv("IMAGEAPI_JWT_SECRET"),
	}

	if v := os.Getenv("IMAGEAPI_MAX_MEDIA_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size <= 0 {
			return cfg, fmt.Errorf("IMAGEAPI_MAX_MEDIA_SIZE must be a positive integer, got %q", v)
		}
		cfg.MaxMediaSize = size
	}

	if v := os.Getenv("IMAGEAPI_MAX_IMAGE_DIMENSION"); v != "" {
		dim, err := strconv.Atoi(v)
		if err != nil || dim < 0 {
			return cfg, fmt.Errorf("IMAGEAPI_MAX_IMAGE_DIMENSION must be a non-negative integer, got %q", v)
		}
		cfg.MaxImageDimension = dim
	}

	if v := os.Getenv("IMAGEAPI_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("IMAGEAPI_HTTP_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.HTTPTimeout = d
	}

	if v := os.Getenv("IMAGEAPI_ALLOWED_MIME_TYPES"); v != "" {
		cfg.AllowedMimeTypes = splitList(v)
	} else {
		cfg.AllowedMimeTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
	}

	if v := os.Getenv("IMAGEAPI_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}

	if cfg.S3Bucket != "" && cfg.S3PublicURL == "" {
		return cfg, fmt.Errorf("IMAGEAPI_S3_PUBLIC_URL is required when IMAGEAPI_S3_BUCKET is set")
	}

	return cfg, nil
}

// Credentials returns the provider options for name.
func (c Config) Credentials(name string) (model.ProviderCredentials, bool) {
	switch name {
	case model.ProviderUnsplash:
		return c.Unsplash, true
	case model.ProviderGiphy:
		return c.Giphy, true
	default:
		return model.ProviderCredentials{}, false
	}
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
