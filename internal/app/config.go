package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/discount"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STOREFRONT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Discount     DiscountConfig
	Catalog      CatalogConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Health       HealthConfig
	Graceful     GracefulConfig
}

// DiscountConfig tunes the discount engine.
type DiscountConfig struct {
	Capacity    int           `default:"15" usage:"Maximum products a single rule may claim"`
	SampleSize  int           `default:"5" usage:"Rules considered, in creation order, when applying to one product" flag:"sample-size"`
	PageSize    int           `default:"6" usage:"Page size of the discounted product listing" flag:"discount-page-size"`
	StepTimeout time.Duration `default:"5s" usage:"Timeout of each storage call made by the engine" flag:"step-timeout"`
}

// CatalogConfig controls the product listing endpoints.
type CatalogConfig struct {
	PageSize int `default:"10" usage:"Page size of GET /api/products" flag:"catalog-page-size"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// HealthConfig controls background health checks.
type HealthConfig struct {
	Interval        time.Duration `default:"10s" usage:"Health check interval" flag:"health-interval"`
	MaxGoroutines   int           `default:"10000" usage:"Liveness fails above this many goroutines" flag:"max-goroutines"`
	DatabaseTimeout time.Duration `default:"5s" usage:"Timeout of the database readiness ping" flag:"health-db-timeout"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Engine converts the discount settings into the engine configuration.
func (c DiscountConfig) Engine() discount.Config {
	return discount.Config{
		Capacity:    c.Capacity,
		SampleSize:  c.SampleSize,
		PageSize:    c.PageSize,
		StepTimeout: c.StepTimeout,
	}
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	case c.Discount.Capacity <= 0:
		return errors.Errorf("discount capacity must be positive, got %d", c.Discount.Capacity)
	case c.Discount.SampleSize <= 0:
		return errors.Errorf("discount sample size must be positive, got %d", c.Discount.SampleSize)
	case c.Discount.PageSize <= 0 || c.Catalog.PageSize <= 0:
		return errors.New("page sizes must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
