package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/livetemplate/blockdown/internal/format"
	"gopkg.in/yaml.v3"
)

// Config represents the blockdown configuration
type Config struct {
	Title     string                  `yaml:"title"`
	Server    ServerConfig            `yaml:"server"`
	Pages     PagesConfig             `yaml:"pages"`
	Fetch     FetchConfig             `yaml:"fetch"`
	Resolver  ResolverConfig          `yaml:"resolver"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Webhook   WebhookConfig           `yaml:"webhook"`
	Sources   map[string]SourceConfig `yaml:"sources,omitempty"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// PagesConfig locates page documents (.md, .yaml, .yml, .json)
type PagesConfig struct {
	Dir   string `yaml:"dir"`   // Relative to the config file directory. Default: "."
	Watch bool   `yaml:"watch"` // Reload pages on file changes
}

// FetchConfig configures the HTTP client shared by live-metric cards and
// rest sources.
type FetchConfig struct {
	Timeout      string            `yaml:"timeout,omitempty"`       // Per-request timeout. Default: 10s
	Retry        *RetryConfig      `yaml:"retry,omitempty"`         // Retry configuration
	Cache        *CacheConfig      `yaml:"cache,omitempty"`         // Response cache, keyed by URL
	Headers      map[string]string `yaml:"headers,omitempty"`       // Sent with every request (env vars expanded)
	AllowPrivate bool              `yaml:"allow_private,omitempty"` // Permit loopback/private hosts (development only)
}

// ResolverConfig configures {{placeholder}} substitution in page content
type ResolverConfig struct {
	Strict      bool   `yaml:"strict"`      // Render unresolved placeholders visibly instead of leaving them literal
	Fallback    string `yaml:"fallback"`    // Substituted when a provider fails. Default: N/A
	Concurrency int    `yaml:"concurrency"` // Max concurrent providers per page (0 = unlimited)
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Default: 10
	Burst             int     `yaml:"burst,omitempty"`               // Default: 20
}

// WebhookConfig protects the source cache invalidation endpoint
type WebhookConfig struct {
	Secret string `yaml:"secret,omitempty"` // Shared secret or HMAC key (env vars expanded). Empty disables webhooks
}

// GetSecret returns the secret with environment variables expanded
func (c WebhookConfig) GetSecret() string {
	return os.ExpandEnv(c.Secret)
}

// SourceConfig defines a named data provider for {{placeholders}}
type SourceConfig struct {
	Type     string            `yaml:"type"`               // "rest", "json", "csv", "sqlite", "pg", "exec", "static", "computed"
	URL      string            `yaml:"url,omitempty"`      // For rest: endpoint URL (env vars expanded)
	File     string            `yaml:"file,omitempty"`     // For json/csv: file path
	DB       string            `yaml:"db,omitempty"`       // For sqlite: database file path
	DSN      string            `yaml:"dsn,omitempty"`      // For pg: connection string (default: $DATABASE_URL)
	Query    string            `yaml:"query,omitempty"`    // For sqlite/pg: SQL query
	Cmd      string            `yaml:"cmd,omitempty"`      // For exec: command to run (requires --allow-exec)
	Expr     string            `yaml:"expr,omitempty"`     // For computed: aggregate over another source, e.g. count(tasks where done)
	Value    any               `yaml:"value,omitempty"`    // For static: literal value
	Path     string            `yaml:"path,omitempty"`     // Dot-path into the fetched document
	Format   *format.Format    `yaml:"format,omitempty"`   // How the extracted value is displayed
	Fallback string            `yaml:"fallback,omitempty"` // Substituted when the provider fails
	Headers  map[string]string `yaml:"headers,omitempty"`  // For rest: HTTP headers (env vars expanded)
	Options  map[string]string `yaml:"options,omitempty"`  // Type-specific options
	Timeout  string            `yaml:"timeout,omitempty"`  // Request timeout (e.g., "30s", "1m"). Default: 10s
	Retry    *RetryConfig      `yaml:"retry,omitempty"`    // Retry configuration
	Cache    *CacheConfig      `yaml:"cache,omitempty"`    // Cache configuration
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries,omitempty"` // Maximum retry attempts (default: 3)
	BaseDelay  string `yaml:"base_delay,omitempty"`  // Initial delay (e.g., "100ms"). Default: 100ms
	MaxDelay   string `yaml:"max_delay,omitempty"`   // Maximum delay (e.g., "5s"). Default: 5s
}

// CacheConfig configures caching behavior
type CacheConfig struct {
	TTL      string `yaml:"ttl,omitempty"`      // Cache TTL (e.g., "5m", "1h"). Default: disabled (empty)
	Strategy string `yaml:"strategy,omitempty"` // "simple" or "stale-while-revalidate". Default: "simple"
}

const defaultTimeout = 10 * time.Second

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetTimeout returns the parsed timeout duration (default: 10s)
func (c SourceConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, defaultTimeout)
}

// IsCacheEnabled returns true if caching is enabled for this source
func (c SourceConfig) IsCacheEnabled() bool {
	return c.Cache.IsEnabled()
}

// GetCacheTTL returns the cache TTL (0 if caching is disabled)
func (c SourceConfig) GetCacheTTL() time.Duration {
	return c.Cache.GetTTL()
}

// GetCacheStrategy returns the cache strategy (default: "simple")
func (c SourceConfig) GetCacheStrategy() string {
	return c.Cache.GetStrategy()
}

// GetTimeout returns the HTTP timeout for card and rest fetches (default: 10s)
func (c FetchConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, defaultTimeout)
}

// GetMaxRetries returns the max retries (default: 3, set to 0 to disable retries)
func (c *RetryConfig) GetMaxRetries() int {
	if c == nil || c.MaxRetries < 0 {
		return 3
	}
	return c.MaxRetries
}

// GetBaseDelay returns the base delay (default: 100ms)
func (c *RetryConfig) GetBaseDelay() time.Duration {
	if c == nil {
		return 100 * time.Millisecond
	}
	return parseDuration(c.BaseDelay, 100*time.Millisecond)
}

// GetMaxDelay returns the max delay (default: 5s)
func (c *RetryConfig) GetMaxDelay() time.Duration {
	if c == nil {
		return 5 * time.Second
	}
	return parseDuration(c.MaxDelay, 5*time.Second)
}

// IsEnabled returns true when a TTL is configured
func (c *CacheConfig) IsEnabled() bool {
	return c != nil && c.GetTTL() > 0
}

// GetTTL returns the cache TTL (0 if caching is disabled)
func (c *CacheConfig) GetTTL() time.Duration {
	if c == nil {
		return 0
	}
	return parseDuration(c.TTL, 0)
}

// GetStrategy returns the cache strategy (default: "simple")
func (c *CacheConfig) GetStrategy() string {
	if c == nil || c.Strategy == "" {
		return "simple"
	}
	return c.Strategy
}

// IsStaleWhileRevalidate returns true if using stale-while-revalidate strategy
func (c *CacheConfig) IsStaleWhileRevalidate() bool {
	return c.GetStrategy() == "stale-while-revalidate"
}

// GetRequestsPerSecond returns the rate limit in requests per second (default: 10)
func (c RateLimitConfig) GetRequestsPerSecond() float64 {
	if c.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RequestsPerSecond
}

// GetBurst returns the burst size (default: 20)
func (c RateLimitConfig) GetBurst() int {
	if c.Burst <= 0 {
		return 20
	}
	return c.Burst
}

// Validate checks source definitions for missing required fields
func (c *Config) Validate() error {
	for name, src := range c.Sources {
		if err := src.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the fields required by the source type are present
func (c SourceConfig) Validate(name string) error {
	required := map[string]string{
		"rest":     c.URL,
		"json":     c.File,
		"csv":      c.File,
		"sqlite":   c.Query,
		"pg":       c.Query,
		"exec":     c.Cmd,
		"computed": c.Expr,
	}
	switch c.Type {
	case "static":
		if c.Value == nil {
			return fmt.Errorf("source %q: static source requires a value", name)
		}
		return nil
	case "":
		return fmt.Errorf("source %q: type is required", name)
	}
	field, known := required[c.Type]
	if !known {
		return fmt.Errorf("source %q: unsupported type %q", name, c.Type)
	}
	if field == "" {
		return fmt.Errorf("source %q: missing required field for %s source", name, c.Type)
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "blockdown",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Pages: PagesConfig{
			Dir: ".",
		},
		Fetch: FetchConfig{
			Timeout: "10s",
		},
		Resolver: ResolverConfig{
			Fallback: format.DefaultFallback,
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

// FileNames are the config file names LoadFromDir looks for, in order.
var FileNames = []string{"blockdown.yaml", "blockdown.yml"}

// IsConfigFile reports whether the base name of path is a config file name.
func IsConfigFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range FileNames {
		if base == name {
			return true
		}
	}
	return false
}

// LoadFromDir looks for blockdown.yaml, then blockdown.yml, in the given
// directory. If neither is found, returns the default configuration.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return DefaultConfig(), nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
