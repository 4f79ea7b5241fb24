package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "127.0.0.1:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERWATCH_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string        `default:"127.0.0.1:8080" usage:"Local API listen address"`
	UpstreamURL  string        `usage:"Marketplace API root (ORDERWATCH_UPSTREAM_URL or MARKETPLACE_URL)" flag:"upstream-url"`
	AccessToken  string        `usage:"Bearer token for the marketplace API" flag:"access-token"`
	CallTimeout  time.Duration `default:"5s" usage:"Timeout of a single upstream call" flag:"call-timeout"`
	Concurrency  int           `default:"4" usage:"Orders reconciled in parallel during a list refresh"`
	SnapshotPath string        `default:"orderwatch.snapshot.gz" usage:"Snapshot cache file, empty disables it" flag:"snapshot-path"`
	RateLimit    RateLimitConfig
	Inbound      InboundConfig
	CORS         CORSConfig
	List         ListConfig
	Detail       DetailConfig
	Graceful     GracefulConfig
}

// RateLimitConfig bounds outgoing upstream requests.
type RateLimitConfig struct {
	RPS   float64 `default:"10" usage:"Upstream requests per second, 0 disables limiting"`
	Burst int     `default:"20" usage:"Upstream request burst"`
}

// InboundConfig controls the per-client limiter of the local API.
type InboundConfig struct {
	RPS   float64 `default:"50" usage:"Local API requests per second per client, 0 disables limiting"`
	Burst int     `default:"100" usage:"Local API request burst"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// ListConfig controls history aggregation and the list view.
type ListConfig struct {
	PageSize int           `default:"20" usage:"History page size" flag:"page-size"`
	MaxPages int           `default:"50" usage:"Hard cap of history pages per refresh" flag:"max-pages"`
	Interval time.Duration `default:"15s" usage:"List view refresh interval" flag:"list-interval"`
}

// DetailConfig controls detail views.
type DetailConfig struct {
	Interval time.Duration `default:"30s" usage:"Detail view refresh interval" flag:"detail-interval"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"1s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"10s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERWATCH",
		Files:     []string{"config.yaml", "/etc/orderwatch/config.yaml"},
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

// applyPlatformDefaults maps the standard PORT and MARKETPLACE_URL variables
// to the ORDERWATCH_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.UpstreamURL == "" {
		if v := os.Getenv("MARKETPLACE_URL"); v != "" {
			c.UpstreamURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "127.0.0.1:" + port
	}
}

func (c *Config) validate() error {
	if c.UpstreamURL == "" {
		return errors.New("upstream URL is required: set ORDERWATCH_UPSTREAM_URL or MARKETPLACE_URL")
	}
	if c.List.PageSize <= 0 {
		return errors.Errorf("list page size must be positive, got %d", c.List.PageSize)
	}
	if c.List.MaxPages <= 0 {
		return errors.Errorf("list max pages must be positive, got %d", c.List.MaxPages)
	}
	if c.List.Interval <= 0 || c.Detail.Interval <= 0 {
		return errors.New("refresh intervals must be positive")
	}
	return nil
}
