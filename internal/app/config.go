package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CATALOG_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CATALOG_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Storage     StorageConfig
	Paging      PagingConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StorageConfig controls the attachment store.
type StorageConfig struct {
	Root          string `default:"uploads" usage:"Directory holding uploaded attachments" flag:"storage-root"`
	CodeLength    int    `default:"8" usage:"Length of the random prefix of stored file names" flag:"storage-code-length"`
	MaxUploadSize int64  `default:"10485760" usage:"Maximum write request body size in bytes" flag:"max-upload-size"`
}

// PagingConfig bounds paged list requests.
type PagingConfig struct {
	MaxSize int `default:"100" usage:"Largest accepted page size" flag:"max-page-size"`
}

// AuthConfig controls API key checks on write routes.
type AuthConfig struct {
	Enabled      bool   `default:"false" usage:"Require an API key on write routes" flag:"auth-enabled"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
}

// RateLimitConfig controls the per-client sliding window rate limiter on
// write routes. Max of zero disables it.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max write requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CATALOG",
		Files:     []string{"config.yaml", "/etc/catalog/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set CATALOG_DATABASE_URL or DATABASE_URL")
	case c.Storage.Root == "":
		return errors.New("storage root is required")
	case c.Storage.MaxUploadSize <= 0:
		return errors.Errorf("max upload size must be positive, got %d", c.Storage.MaxUploadSize)
	case c.Paging.MaxSize <= 0:
		return errors.Errorf("max page size must be positive, got %d", c.Paging.MaxSize)
	case c.Auth.Enabled && c.Auth.APIKeyPepper == "":
		return errors.New("api key pepper is required when auth is enabled")
	}
	return nil
}
