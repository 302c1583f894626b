package livemetrics

import (
	"github.com/livetemplate/blockdown/internal/dotpath"
	"github.com/livetemplate/blockdown/internal/format"
)

// MetricValue is a metric ready for display.
type MetricValue struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	HoverLabel  string `json:"hoverLabel,omitempty"`
	HoverValue  string `json:"hoverValue,omitempty"`
	Align       string `json:"align,omitempty"`
	AccentColor string `json:"accentColor,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// Point is one chart sample.
type Point struct {
	T any     `json:"t,omitempty"`
	V float64 `json:"v"`
}

// ProjectMetric renders m against root. A path that does not resolve yields
// the format's fallback text.
func ProjectMetric(root any, m MetricConfig) MetricValue {
	mv := MetricValue{Label: m.Label, Align: m.Align, HoverLabel: m.HoverLabel}
	mv.Value = project(root, m.ValuePath, m.ValueFormat)
	if m.HoverValuePath != "" {
		hf := m.HoverFormat
		if hf == nil {
			hf = m.ValueFormat
		}
		mv.HoverValue = project(root, m.HoverValuePath, hf)
	}
	return mv
}

func project(root any, path string, f *format.Format) string {
	v, ok := dotpath.Lookup(root, path)
	if !ok {
		return f.FallbackText()
	}
	return format.Value(v, f)
}

func projectAll(root any, metrics []MetricConfig) []MetricValue {
	out := make([]MetricValue, len(metrics))
	for i, m := range metrics {
		out[i] = ProjectMetric(root, m)
	}
	return out
}

func projectLive(root any, lm *LiveMetricConfig) *MetricValue {
	if lm == nil {
		return nil
	}
	mv := ProjectMetric(root, lm.MetricConfig)
	mv.AccentColor = lm.AccentColor
	mv.Icon = lm.Icon
	return &mv
}

// ProjectSeries extracts the chart series from root. Records whose value is
// missing or not numeric are skipped. The last Limit points are kept, never
// more than MaxSeriesPoints. It reports false when the record array is absent.
func ProjectSeries(root any, chart *ChartConfig) ([]Point, bool) {
	if chart == nil {
		return nil, false
	}
	records, ok := dotpath.Records(root, chart.DataPath)
	if !ok {
		return nil, false
	}

	points := make([]Point, 0, len(records))
	for _, rec := range records {
		v, ok := dotpath.Float(rec, chart.ValueKey)
		if !ok {
			continue
		}
		p := Point{V: v}
		if chart.TimeKey != "" {
			p.T, _ = dotpath.Lookup(rec, chart.TimeKey)
		}
		points = append(points, p)
	}

	limit := chart.Limit
	if limit <= 0 || limit > MaxSeriesPoints {
		limit = MaxSeriesPoints
	}
	if len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points, true
}
