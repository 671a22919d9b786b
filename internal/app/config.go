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
// environment variables (PRICERULES_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PRICERULES_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Cache       CacheConfig
	Eval        EvalConfig
	CodeIndex   CodeIndexConfig
	Graceful    GracefulConfig
}

// CacheConfig controls the rule cache.
type CacheConfig struct {
	TTL time.Duration `default:"5m" usage:"How long loaded rules are reused" flag:"cache-ttl"`
}

// EvalConfig controls rule evaluation.
type EvalConfig struct {
	Concurrency int `default:"8" usage:"Rules scored in parallel per request" flag:"eval-concurrency"`
}

// CodeIndexConfig sizes the coupon code bloom filter.
type CodeIndexConfig struct {
	Capacity          uint    `default:"100000" usage:"Expected number of coupon codes"`
	FalsePositiveRate float64 `default:"0.001" usage:"Coupon index false positive rate"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from command-line flags, environment
// variables, YAML config files, and platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		Args:      args,
		EnvPrefix: "PRICERULES",
		Files:     []string{"config.yaml", "/etc/pricerules/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PRICERULES_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT
// variables onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
