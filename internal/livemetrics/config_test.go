package livemetrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardConfigValidate(t *testing.T) {
	metric := []MetricConfig{{Label: "TPS", ValuePath: "tps"}}

	tests := []struct {
		name    string
		cfg     CardConfig
		wantErr string
	}{
		{name: "valid", cfg: CardConfig{DataURL: "https://x.test/a", MetricsLeft: metric}},
		{name: "templated host", cfg: CardConfig{DataURL: "{{base}}/stats", MetricsLeft: metric}},
		{name: "chart only", cfg: CardConfig{DataURL: "https://x.test/a", Chart: &ChartConfig{Type: "area", ValueKey: "v"}}},
		{name: "missing url", cfg: CardConfig{MetricsLeft: metric}, wantErr: "dataUrl is required"},
		{name: "relative url", cfg: CardConfig{DataURL: "/api/stats", MetricsLeft: metric}, wantErr: "absolute http(s) URL"},
		{name: "bad history url", cfg: CardConfig{DataURL: "https://x.test", HistoryURL: "ftp://x", MetricsLeft: metric}, wantErr: "historyUrl"},
		{name: "negative interval", cfg: CardConfig{DataURL: "https://x.test", RefreshInterval: -1, MetricsLeft: metric}, wantErr: "refreshInterval"},
		{name: "negative timeout", cfg: CardConfig{DataURL: "https://x.test", Timeout: -5, MetricsLeft: metric}, wantErr: "timeout"},
		{name: "empty card", cfg: CardConfig{DataURL: "https://x.test"}, wantErr: "at least one metric"},
		{name: "metric without path", cfg: CardConfig{DataURL: "https://x.test", MetricsRight: []MetricConfig{{Label: "X"}}}, wantErr: `metric "X"`},
		{name: "bad chart type", cfg: CardConfig{DataURL: "https://x.test", Chart: &ChartConfig{Type: "pie"}}, wantErr: "unsupported type"},
		{name: "negative limit", cfg: CardConfig{DataURL: "https://x.test", Chart: &ChartConfig{Limit: -1}}, wantErr: "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCardConfigVariables(t *testing.T) {
	cfg := CardConfig{
		DataURL:    "https://x.test/{{chain}}/{{network}}",
		HistoryURL: "https://x.test/{{chain}}/history?range={{period}}",
	}
	assert.Equal(t, []string{"chain", "network"}, cfg.Variables(), "history is ignored without a chart")

	cfg.Chart = &ChartConfig{ValueKey: "v"}
	assert.Equal(t, []string{"chain", "network", "period"}, cfg.Variables())
}

func TestCardConfigDurations(t *testing.T) {
	var cfg CardConfig
	assert.Equal(t, DefaultTimeout, cfg.TimeoutDuration())
	assert.Zero(t, cfg.Interval())

	cfg.Timeout = 1500
	cfg.RefreshInterval = 30000
	assert.Equal(t, 1500*time.Millisecond, cfg.TimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Interval())
}

func TestCardConfigJSON(t *testing.T) {
	raw := `{
		"title": "Network",
		"dataUrl": "https://x.test/{{chain}}",
		"refreshInterval": 5000,
		"metricsLeft": [{"label": "TPS", "valuePath": "stats.tps", "valueFormat": {"compact": true}}],
		"liveMetric": {"label": "Block", "valuePath": "block", "accentColor": "#0f0"},
		"chart": {"type": "bar", "dataPath": "series", "valueKey": "v", "limit": 50}
	}`
	var cfg CardConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://x.test/{{chain}}", cfg.DataURL)
	assert.True(t, cfg.MetricsLeft[0].ValueFormat.Compact)
	require.NotNil(t, cfg.LiveMetric)
	assert.Equal(t, "block", cfg.LiveMetric.ValuePath)
	assert.Equal(t, "#0f0", cfg.LiveMetric.AccentColor)
	assert.Equal(t, 50, cfg.Chart.Limit)
}
