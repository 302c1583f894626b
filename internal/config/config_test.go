package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceConfigCacheGetters(t *testing.T) {
	tests := []struct {
		name        string
		cache       *CacheConfig
		wantEnabled bool
		wantTTL     time.Duration
		wantSWR     bool
		wantStrat   string
	}{
		{name: "nil cache", cache: nil, wantStrat: "simple"},
		{name: "empty ttl", cache: &CacheConfig{}, wantStrat: "simple"},
		{name: "invalid ttl", cache: &CacheConfig{TTL: "soon"}, wantStrat: "simple"},
		{
			name:        "simple",
			cache:       &CacheConfig{TTL: "5m"},
			wantEnabled: true,
			wantTTL:     5 * time.Minute,
			wantStrat:   "simple",
		},
		{
			name:        "stale-while-revalidate",
			cache:       &CacheConfig{TTL: "30s", Strategy: "stale-while-revalidate"},
			wantEnabled: true,
			wantTTL:     30 * time.Second,
			wantSWR:     true,
			wantStrat:   "stale-while-revalidate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := SourceConfig{Type: "rest", URL: "https://example.com", Cache: tt.cache}
			assert.Equal(t, tt.wantEnabled, src.IsCacheEnabled())
			assert.Equal(t, tt.wantTTL, src.GetCacheTTL())
			assert.Equal(t, tt.wantStrat, src.GetCacheStrategy())
			assert.Equal(t, tt.wantSWR, tt.cache.IsStaleWhileRevalidate())
		})
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	var nilRetry *RetryConfig
	assert.Equal(t, 3, nilRetry.GetMaxRetries())
	assert.Equal(t, 100*time.Millisecond, nilRetry.GetBaseDelay())
	assert.Equal(t, 5*time.Second, nilRetry.GetMaxDelay())

	disabled := &RetryConfig{MaxRetries: 0}
	assert.Equal(t, 0, disabled.GetMaxRetries())

	custom := &RetryConfig{MaxRetries: 5, BaseDelay: "250ms", MaxDelay: "2s"}
	assert.Equal(t, 5, custom.GetMaxRetries())
	assert.Equal(t, 250*time.Millisecond, custom.GetBaseDelay())
	assert.Equal(t, 2*time.Second, custom.GetMaxDelay())
}

func TestTimeoutDefaults(t *testing.T) {
	assert.Equal(t, 10*time.Second, SourceConfig{}.GetTimeout())
	assert.Equal(t, time.Minute, SourceConfig{Timeout: "1m"}.GetTimeout())
	assert.Equal(t, 10*time.Second, SourceConfig{Timeout: "-5s"}.GetTimeout())
	assert.Equal(t, 10*time.Second, FetchConfig{}.GetTimeout())
	assert.Equal(t, 3*time.Second, FetchConfig{Timeout: "3s"}.GetTimeout())
}

func TestRateLimitDefaults(t *testing.T) {
	var rl RateLimitConfig
	assert.Equal(t, 10.0, rl.GetRequestsPerSecond())
	assert.Equal(t, 20, rl.GetBurst())

	rl = RateLimitConfig{RequestsPerSecond: 2.5, Burst: 4}
	assert.Equal(t, 2.5, rl.GetRequestsPerSecond())
	assert.Equal(t, 4, rl.GetBurst())
}

func TestWebhookSecretExpandsEnv(t *testing.T) {
	t.Setenv("BLOCKDOWN_HOOK", "s3cret")
	assert.Equal(t, "s3cret", WebhookConfig{Secret: "${BLOCKDOWN_HOOK}"}.GetSecret())
	assert.Empty(t, WebhookConfig{}.GetSecret())
}

func TestIsConfigFile(t *testing.T) {
	assert.True(t, IsConfigFile("site/blockdown.yaml"))
	assert.True(t, IsConfigFile("blockdown.yml"))
	assert.False(t, IsConfigFile("pages/blockdown.json"))
	assert.False(t, IsConfigFile("index.yaml"))
}

func TestSourceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		src     SourceConfig
		wantErr string
	}{
		{name: "rest ok", src: SourceConfig{Type: "rest", URL: "https://api.example.com"}},
		{name: "rest missing url", src: SourceConfig{Type: "rest"}, wantErr: "missing required field"},
		{name: "json ok", src: SourceConfig{Type: "json", File: "data.json"}},
		{name: "csv missing file", src: SourceConfig{Type: "csv"}, wantErr: "missing required field"},
		{name: "sqlite missing query", src: SourceConfig{Type: "sqlite", DB: "x.db"}, wantErr: "missing required field"},
		{name: "pg ok", src: SourceConfig{Type: "pg", Query: "SELECT 1"}},
		{name: "exec ok", src: SourceConfig{Type: "exec", Cmd: "date"}},
		{name: "static ok", src: SourceConfig{Type: "static", Value: "v1.2.0"}},
		{name: "computed ok", src: SourceConfig{Type: "computed", Expr: "count(tasks)"}},
		{name: "computed missing expr", src: SourceConfig{Type: "computed"}, wantErr: "missing required field"},
		{name: "static missing value", src: SourceConfig{Type: "static"}, wantErr: "requires a value"},
		{name: "missing type", src: SourceConfig{}, wantErr: "type is required"},
		{name: "unknown type", src: SourceConfig{Type: "graphql"}, wantErr: "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.src.Validate("x")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "N/A", cfg.Resolver.Fallback)
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	content := `title: Network Status
server:
  port: 9000
resolver:
  strict: true
sources:
  tps:
    type: rest
    url: https://api.example.com/stats
    path: stats.tps
    format:
      type: number
      compact: true
      decimals: 1
      suffix: " tx/s"
    cache:
      ttl: 30s
  version:
    type: static
    value: v2.1.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blockdown.yaml"), []byte(content), 0644))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, "Network Status", cfg.Title)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep defaults")
	assert.True(t, cfg.Resolver.Strict)
	require.Len(t, cfg.Sources, 2)

	tps := cfg.Sources["tps"]
	assert.Equal(t, "stats.tps", tps.Path)
	require.NotNil(t, tps.Format)
	assert.True(t, tps.Format.Compact)
	require.NotNil(t, tps.Format.Decimals)
	assert.Equal(t, 1, *tps.Format.Decimals)
	assert.Equal(t, " tx/s", tps.Format.Suffix)
	assert.Equal(t, 30*time.Second, tps.GetCacheTTL())

	assert.Equal(t, "v2.1.0", cfg.Sources["version"].Value)
}

func TestLoadFromDirPrefersYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blockdown.yml"), []byte("title: yml\n"), 0644))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "yml", cfg.Title)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blockdown.yaml"), []byte("title: yaml\n"), 0644))
	cfg, err = LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "yaml", cfg.Title)
}

func TestLoadRejectsInvalidSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockdown.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  broken:\n    type: rest\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config file")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockdown.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: [unterminated\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockdown.yaml")

	cfg := DefaultConfig()
	cfg.Title = "Saved"
	cfg.Sources = map[string]SourceConfig{
		"greeting": {Type: "static", Value: "hello"},
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Saved", loaded.Title)
	assert.Equal(t, "hello", loaded.Sources["greeting"].Value)
}
