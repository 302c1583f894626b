// Package livemetrics implements live-metric cards: blocks that poll a JSON
// endpoint whose URL may depend on page state, project the response through
// dot-paths into formatted display values, and chart a bounded series.
package livemetrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/livetemplate/blockdown/internal/format"
	"github.com/livetemplate/blockdown/internal/mustache"
)

const (
	// DefaultTimeout bounds a single card fetch.
	DefaultTimeout = 10 * time.Second

	// MaxSeriesPoints caps a chart series regardless of the configured limit.
	MaxSeriesPoints = 1000
)

// MetricConfig projects one value out of the card's data document.
type MetricConfig struct {
	Label          string         `json:"label"`
	ValuePath      string         `json:"valuePath"`
	ValueFormat    *format.Format `json:"valueFormat,omitempty"`
	HoverLabel     string         `json:"hoverLabel,omitempty"`
	HoverValuePath string         `json:"hoverValuePath,omitempty"`
	HoverFormat    *format.Format `json:"hoverFormat,omitempty"`
	Align          string         `json:"align,omitempty"` // "left", "right" or "center"
}

// LiveMetricConfig is the highlighted metric of a card.
type LiveMetricConfig struct {
	MetricConfig
	AccentColor string `json:"accentColor,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// ChartConfig describes the card's sparkline.
type ChartConfig struct {
	Type     string `json:"type,omitempty"`     // "line" (default), "area" or "bar"
	DataPath string `json:"dataPath,omitempty"` // Path to the record array within the series root
	ValueKey string `json:"valueKey,omitempty"` // Path to the value within each record
	TimeKey  string `json:"timeKey,omitempty"`  // Path to the timestamp within each record
	Limit    int    `json:"limit,omitempty"`    // Keep the last N points (0 = all, up to MaxSeriesPoints)
	Color    string `json:"color,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// CardConfig is the payload of a live-metrics block.
type CardConfig struct {
	Title           string            `json:"title,omitempty"`
	Subtitle        string            `json:"subtitle,omitempty"`
	Icon            string            `json:"icon,omitempty"`
	DataURL         string            `json:"dataUrl"`
	DataPath        string            `json:"dataPath,omitempty"`
	HistoryURL      string            `json:"historyUrl,omitempty"`
	HistoryPath     string            `json:"historyPath,omitempty"`
	RefreshInterval int               `json:"refreshInterval,omitempty"` // Milliseconds; 0 disables polling
	Timeout         int               `json:"timeout,omitempty"`         // Milliseconds; default 10000
	MetricsLeft     []MetricConfig    `json:"metricsLeft,omitempty"`
	MetricsRight    []MetricConfig    `json:"metricsRight,omitempty"`
	LiveMetric      *LiveMetricConfig `json:"liveMetric,omitempty"`
	Chart           *ChartConfig      `json:"chart,omitempty"`
}

var chartTypes = map[string]bool{"": true, "line": true, "area": true, "bar": true}

// Validate reports configuration that could never produce a card.
func (c CardConfig) Validate() error {
	if strings.TrimSpace(c.DataURL) == "" {
		return fmt.Errorf("dataUrl is required")
	}
	if err := checkURLTemplate("dataUrl", c.DataURL); err != nil {
		return err
	}
	if c.HistoryURL != "" {
		if err := checkURLTemplate("historyUrl", c.HistoryURL); err != nil {
			return err
		}
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refreshInterval must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if len(c.MetricsLeft) == 0 && len(c.MetricsRight) == 0 && c.LiveMetric == nil && c.Chart == nil {
		return fmt.Errorf("card needs at least one metric or a chart")
	}
	for _, m := range c.allMetrics() {
		if m.ValuePath == "" {
			return fmt.Errorf("metric %q: valuePath is required", m.Label)
		}
	}
	if c.Chart != nil {
		if !chartTypes[c.Chart.Type] {
			return fmt.Errorf("chart: unsupported type %q", c.Chart.Type)
		}
		if c.Chart.Limit < 0 {
			return fmt.Errorf("chart: limit must not be negative")
		}
	}
	return nil
}

// checkURLTemplate requires an absolute http(s) URL or one whose scheme and
// host come from a placeholder.
func checkURLTemplate(field, tmpl string) error {
	t := strings.TrimSpace(tmpl)
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") || strings.HasPrefix(t, "{{") {
		return nil
	}
	return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, tmpl)
}

func (c CardConfig) allMetrics() []MetricConfig {
	out := make([]MetricConfig, 0, len(c.MetricsLeft)+len(c.MetricsRight)+1)
	out = append(out, c.MetricsLeft...)
	out = append(out, c.MetricsRight...)
	if c.LiveMetric != nil {
		out = append(out, c.LiveMetric.MetricConfig)
	}
	return out
}

// usesHistory reports whether the chart series comes from a separate request.
func (c CardConfig) usesHistory() bool {
	return c.Chart != nil && c.HistoryURL != ""
}

// Variables lists the state keys the card's URL templates reference: the
// dataUrl variables, plus the historyUrl variables when a chart is configured.
func (c CardConfig) Variables() []string {
	vars := mustache.Variables(c.DataURL)
	if !c.usesHistory() {
		return vars
	}
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		seen[v] = true
	}
	for _, v := range mustache.Variables(c.HistoryURL) {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	return vars
}

// TimeoutDuration returns the per-fetch timeout.
func (c CardConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// Interval returns the polling period, or 0 when polling is disabled.
func (c CardConfig) Interval() time.Duration {
	if c.RefreshInterval <= 0 {
		return 0
	}
	return time.Duration(c.RefreshInterval) * time.Millisecond
}
