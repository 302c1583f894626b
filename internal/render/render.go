// Package render writes pages and blocks as HTML.
//
// Prose fields are markdown: they go through goldmark and the result is
// sanitised with bluemonday before it reaches a template. Everything else
// is escaped by html/template.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/format"
	"github.com/livetemplate/blockdown/internal/livemetrics"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	// SparklineWidth is the viewBox width of card charts.
	SparklineWidth = 100

	// DefaultSparklineHeight applies when a card chart gives no height.
	DefaultSparklineHeight = 40

	defaultSparklineColor = "currentColor"
)

// Renderer is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	tmpl   *template.Template
	logger *zap.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger for blocks that fail to render.
func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// WithPolicy replaces the sanitising policy for markdown output.
func WithPolicy(p *bluemonday.Policy) Option {
	return func(r *Renderer) { r.policy = p }
}

// New creates a renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		policy: bluemonday.UGCPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("render")

	r.tmpl = template.Must(template.New("blockdown").Funcs(template.FuncMap{
		"markdown": r.Markdown,
		"inline":   r.Inline,
		"join":     strings.Join,
	}).ParseFS(templateFS, "templates/*.html"))
	return r
}

// Markdown converts markdown source to sanitised HTML.
func (r *Renderer) Markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		r.logger.Warn("markdown conversion failed", zap.Error(err))
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes()))
}

// Inline is Markdown without the paragraph wrapper around a single
// paragraph.
func (r *Renderer) Inline(src string) template.HTML {
	out := strings.TrimSpace(string(r.Markdown(src)))
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") && strings.Count(out, "<p>") == 1 {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	return template.HTML(out)
}

// View is the per-viewer state a page is rendered with.
type View struct {
	Cards map[string]livemetrics.Snapshot // By card id
	State map[string]any                  // Dropdown selections by state key
}

// ViewOf indexes snapshots by card id.
func ViewOf(snaps []livemetrics.Snapshot, state map[string]any) View {
	cards := make(map[string]livemetrics.Snapshot, len(snaps))
	for _, s := range snaps {
		cards[s.BlockID] = s
	}
	return View{Cards: cards, State: state}
}

// Blocks writes blocks in order. A block that fails to render is replaced
// by a placeholder and the rest of the page is unaffected.
func (r *Renderer) Blocks(w io.Writer, blocks []blockdown.Block, view View) error {
	v := &htmlVisitor{r: r, view: view}
	for _, b := range blocks {
		v.render(b)
	}
	_, err := w.Write(v.buf.Bytes())
	return err
}

// Card writes one card from its snapshot.
func (r *Renderer) Card(w io.Writer, snap livemetrics.Snapshot, cfg livemetrics.CardConfig) error {
	return r.tmpl.ExecuteTemplate(w, "card", cardView(snap, cfg))
}

type cardData struct {
	Snap  livemetrics.Snapshot
	Chart *sparkline
}

type sparkline struct {
	Type   string
	Color  string
	Width  int
	Height int
	Line   string
	Area   string
	Bars   []livemetrics.Bar
}

func cardView(snap livemetrics.Snapshot, cfg livemetrics.CardConfig) cardData {
	d := cardData{Snap: snap}
	if cfg.Chart == nil || len(snap.Series) == 0 {
		return d
	}
	height := cfg.Chart.Height
	if height <= 0 {
		height = DefaultSparklineHeight
	}
	color := cfg.Chart.Color
	if color == "" {
		color = defaultSparklineColor
	}
	sp := &sparkline{Type: snap.ChartType, Color: color, Width: SparklineWidth, Height: height}
	w, h := float64(SparklineWidth), float64(height)
	switch sp.Type {
	case "bar":
		sp.Bars = livemetrics.Bars(snap.Series, w, h)
	case "area":
		sp.Area = livemetrics.AreaPath(snap.Series, w, h)
		sp.Line = livemetrics.LinePath(snap.Series, w, h)
	default:
		sp.Type = "line"
		sp.Line = livemetrics.LinePath(snap.Series, w, h)
	}
	d.Chart = sp
	return d
}

// placeholderSnapshot stands in for a card the view has no snapshot for.
func placeholderSnapshot(id string, cfg livemetrics.CardConfig) livemetrics.Snapshot {
	return livemetrics.NewCard(id, cfg, livemetrics.Options{}).Snapshot()
}

// cellText renders a table or KPI value. Without a format, strings are
// shown as written and numbers use the default number format.
func cellText(v any, f *format.Format) string {
	if f != nil {
		return format.Value(v, f)
	}
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return fmt.Sprint(val)
	case float64, float32, int, int64, int32, json.Number:
		return format.Value(val, nil)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
