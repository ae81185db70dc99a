// Package config loads service configuration from an optional YAML file and
// THREADSKETCH_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment overrides. Nested keys use a
	// double underscore: THREADSKETCH_SHOPIFY__STORE_URL.
	EnvPrefix = "THREADSKETCH_"

	DefaultConfigFile = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Canvas    CanvasConfig    `koanf:"canvas"`
	Stability StabilityConfig `koanf:"stability"`
	Anthropic AnthropicConfig `koanf:"anthropic"`
	Shopify   ShopifyConfig   `koanf:"shopify"`
	Listing   ListingConfig   `koanf:"listing"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxUploadSize  int64         `koanf:"max_upload_size"` // bytes
	CORSOrigins    []string      `koanf:"cors_origins"`    // empty disables CORS
}

type StorageConfig struct {
	ArtifactDir   string        `koanf:"artifact_dir"`
	PublicPrefix  string        `koanf:"public_prefix"`  // URL prefix artifacts are served under
	FallbackImage string        `koanf:"fallback_image"` // generic screenshot used when no final artifact exists
	SessionTTL    time.Duration `koanf:"session_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	Ledger        LedgerConfig  `koanf:"ledger"`
}

// LedgerConfig selects the run ledger backend.
type LedgerConfig struct {
	Type string `koanf:"type"` // sqlite, memory
	Path string `koanf:"path"`
}

type CanvasConfig struct {
	Size       int    `koanf:"size"`
	Background string `koanf:"background"` // white, transparent, or #rrggbb
}

type StabilityConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Engine  string        `koanf:"engine"`
	Timeout time.Duration `koanf:"timeout"`
}

type AnthropicConfig struct {
	APIKey          string        `koanf:"api_key"`
	BaseURL         string        `koanf:"base_url"`
	Model           string        `koanf:"model"`
	MaxTokens       int           `koanf:"max_tokens"`
	MaxPromptTokens int           `koanf:"max_prompt_tokens"`
	Timeout         time.Duration `koanf:"timeout"`
}

type ShopifyConfig struct {
	StoreURL   string        `koanf:"store_url"`
	AdminToken string        `koanf:"admin_token"`
	APIVersion string        `koanf:"api_version"`
	Timeout    time.Duration `koanf:"timeout"`

	// Theme installation is attempted only when ThemeArchiveURL is set.
	ThemeArchiveURL string `koanf:"theme_archive_url"`
	ThemeName       string `koanf:"theme_name"`
	PublishTheme    bool   `koanf:"publish_theme"`
}

type ListingConfig struct {
	Vendor         string `koanf:"vendor"`
	ProductType    string `koanf:"product_type"`
	Price          string `koanf:"price"`
	BrandTag       string `koanf:"brand_tag"`
	DefaultGarment string `koanf:"default_garment"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// HasCommerceCredentials reports whether the commerce platform can be called.
func (c *ShopifyConfig) HasCommerceCredentials() bool {
	return c.StoreURL != "" && c.AdminToken != ""
}

var defaults = map[string]any{
	"server.port":                 3001,
	"server.request_timeout":      "5m",
	"server.max_upload_size":      10 * 1024 * 1024,
	"server.cors_origins":         []string{"*"},
	"storage.artifact_dir":        "./public/uploads",
	"storage.public_prefix":       "/uploads",
	"storage.fallback_image":      "./public/output.png",
	"storage.session_ttl":         "24h",
	"storage.sweep_interval":      "10m",
	"storage.ledger.type":         "sqlite",
	"storage.ledger.path":         "./data/threadsketch.db",
	"canvas.size":                 1024,
	"canvas.background":           "white",
	"stability.base_url":          "https://api.stability.ai",
	"stability.engine":            "stable-diffusion-xl-1024-v1-0",
	"stability.timeout":           "2m",
	"anthropic.base_url":          "https://api.anthropic.com",
	"anthropic.model":             "claude-3-5-sonnet-20241022",
	"anthropic.max_tokens":        500,
	"anthropic.max_prompt_tokens": 4000,
	"anthropic.timeout":           "45s",
	"shopify.api_version":         "2023-10",
	"shopify.timeout":             "30s",
	"shopify.theme_name":          "ThreadSketch Storefront",
	"listing.vendor":              "ThreadSketch",
	"listing.product_type":        "Custom Apparel",
	"listing.price":               "29.99",
	"listing.brand_tag":           "ThreadSketch",
	"listing.default_garment":     "t-shirt",
	"telemetry.enabled":           true,
	"telemetry.service_name":      "threadsketch",
}

// legacyEnv maps the environment variable names used by earlier deployments
// onto config keys. They only apply when the key is otherwise empty.
var legacyEnv = map[string]string{
	"SHOPIFY_STORE_URL":     "shopify.store_url",
	"SHOPIFY_ADMIN_API_KEY": "shopify.admin_token",
	"ANTHROPIC_API_KEY":     "anthropic.api_key",
	"STABILITY_API_KEY":     "stability.api_key",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (if it exists), applies environment overrides and defaults,
// and validates the result. An empty path means DefaultConfigFile.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	for envName, key := range legacyEnv {
		if k.String(key) != "" {
			continue
		}
		if v := os.Getenv(envName); v != "" {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Stability.APIKey = substituteEnvVars(cfg.Stability.APIKey)
	cfg.Anthropic.APIKey = substituteEnvVars(cfg.Anthropic.APIKey)
	cfg.Shopify.AdminToken = substituteEnvVars(cfg.Shopify.AdminToken)
	cfg.Shopify.StoreURL = CleanStoreURL(substituteEnvVars(cfg.Shopify.StoreURL))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the service unusable. Missing
// provider credentials are not fatal here; see MissingCredentials.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("invalid server.max_upload_size: %d", c.Server.MaxUploadSize)
	}
	if c.Canvas.Size < 64 || c.Canvas.Size > 4096 {
		return fmt.Errorf("invalid canvas.size: %d", c.Canvas.Size)
	}
	switch c.Storage.Ledger.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid storage.ledger.type: %q", c.Storage.Ledger.Type)
	}
	if c.Storage.ArtifactDir == "" {
		return fmt.Errorf("storage.artifact_dir required")
	}
	return nil
}

// MissingCredentials lists credentials that are not configured. The service
// still starts; calls needing them fail with a configuration error.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Shopify.StoreURL == "" {
		missing = append(missing, "shopify.store_url (SHOPIFY_STORE_URL)")
	}
	if c.Shopify.AdminToken == "" {
		missing = append(missing, "shopify.admin_token (SHOPIFY_ADMIN_API_KEY)")
	}
	if c.Anthropic.APIKey == "" {
		missing = append(missing, "anthropic.api_key (ANTHROPIC_API_KEY)")
	}
	if c.Stability.APIKey == "" {
		missing = append(missing, "stability.api_key (STABILITY_API_KEY)")
	}
	return missing
}

// CleanStoreURL strips any scheme and trailing slash from a store URL.
func CleanStoreURL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
