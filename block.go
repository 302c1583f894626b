package blockdown

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/livetemplate/blockdown/internal/format"
	"github.com/livetemplate/blockdown/internal/livemetrics"
	"github.com/livetemplate/blockdown/internal/mustache"
)

// Kind is the discriminant of a Block.
type Kind string

const (
	KindParagraph      Kind = "paragraph"
	KindHeading        Kind = "heading"
	KindImage          Kind = "image"
	KindChart          Kind = "chart"
	KindCallout        Kind = "callout"
	KindQuote          Kind = "quote"
	KindCode           Kind = "code"
	KindDivider        Kind = "divider"
	KindContainer      Kind = "container"
	KindSpacer         Kind = "spacer"
	KindTable          Kind = "table"
	KindKPICards       Kind = "kpi-cards"
	KindLiveMetrics    Kind = "live-metrics"
	KindLiveMetricsRow Kind = "live-metrics-row"
	KindDropdown       Kind = "dropdown"
	KindTitleButton    Kind = "titleButton"
	KindFAQ            Kind = "faq"
	KindIframe         Kind = "iframe"
	KindList           Kind = "list"
)

// MaxRowCards bounds the number of cards in a live-metrics row.
const MaxRowCards = 3

// Block is one typed unit of page content. The set of implementations is
// closed to this package; use a Visitor to dispatch on the concrete kind.
type Block interface {
	BlockID() string
	Kind() Kind
	InMenu() bool
	Accept(v Visitor) error

	base() *Base
}

// Visitor has one method per block kind. A type implementing Visitor stops
// compiling when a kind is added without a matching method.
type Visitor interface {
	VisitParagraph(*ParagraphBlock) error
	VisitHeading(*HeadingBlock) error
	VisitImage(*ImageBlock) error
	VisitChart(*ChartBlock) error
	VisitCallout(*CalloutBlock) error
	VisitQuote(*QuoteBlock) error
	VisitCode(*CodeBlock) error
	VisitDivider(*DividerBlock) error
	VisitContainer(*ContainerBlock) error
	VisitSpacer(*SpacerBlock) error
	VisitTable(*TableBlock) error
	VisitKPICards(*KPICardsBlock) error
	VisitLiveMetrics(*LiveMetricsBlock) error
	VisitLiveMetricsRow(*LiveMetricsRowBlock) error
	VisitDropdown(*DropdownBlock) error
	VisitTitleButton(*TitleButtonBlock) error
	VisitFAQ(*FAQBlock) error
	VisitIframe(*IframeBlock) error
	VisitList(*ListBlock) error
}

// Base holds the fields every block carries.
type Base struct {
	ID         string `json:"id"`
	ShowInMenu *bool  `json:"showInMenu,omitempty"` // nil means true
}

// BlockID returns the id assigned at parse time.
func (b *Base) BlockID() string { return b.ID }

// InMenu reports whether the block appears in the page's table of contents.
func (b *Base) InMenu() bool { return b.ShowInMenu == nil || *b.ShowInMenu }

func (b *Base) base() *Base { return b }

// ParagraphBlock is a run of markdown prose. Text is the markdown source.
type ParagraphBlock struct {
	Base
	Text string `json:"text"`
}

func (*ParagraphBlock) Kind() Kind { return KindParagraph }
func (b *ParagraphBlock) Accept(v Visitor) error { return v.VisitParagraph(b) }

// HeadingBlock is a section heading. Anchor is the generated fragment id.
type HeadingBlock struct {
	Base
	Level  int    `json:"level"`
	Text   string `json:"text"`
	Anchor string `json:"anchor,omitempty"`
}

func (*HeadingBlock) Kind() Kind { return KindHeading }
func (b *HeadingBlock) Accept(v Visitor) error { return v.VisitHeading(b) }

type ImageBlock struct {
	Base
	Src     string `json:"src"`
	Alt     string `json:"alt,omitempty"`
	Caption string `json:"caption,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

func (*ImageBlock) Kind() Kind { return KindImage }
func (b *ImageBlock) Accept(v Visitor) error { return v.VisitImage(b) }

func (b *ImageBlock) validate() error {
	if b.Src == "" {
		return fmt.Errorf("src is required")
	}
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	return nil
}

var chartTypes = map[string]bool{
	"line": true, "area": true, "bar": true, "column": true, "pie": true, "scatter": true, "stacked-area": true,
}

// ChartSeriesSource describes one remote series of a chart.
type ChartSeriesSource struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Path  string `json:"pathToData,omitempty"` // Dot-path to the record array
	XKey  string `json:"xKey,omitempty"`
	YKey  string `json:"yKey,omitempty"`
	Color string `json:"color,omitempty"`
}

// ChartDataSource lists the remote series a chart plots.
type ChartDataSource struct {
	Series []ChartSeriesSource `json:"meta"`
}

// ChartBlock plots inline Data or the series described by DataAsJSON.
type ChartBlock struct {
	Base
	ChartType  string           `json:"chartType"`
	Title      string           `json:"title,omitempty"`
	Subtitle   string           `json:"subtitle,omitempty"`
	Data       any              `json:"data,omitempty"`
	DataAsJSON *ChartDataSource `json:"dataAsJson,omitempty"`
	Height     int              `json:"height,omitempty"`
}

func (*ChartBlock) Kind() Kind { return KindChart }
func (b *ChartBlock) Accept(v Visitor) error { return v.VisitChart(b) }

func (b *ChartBlock) validate() error {
	if b.ChartType == "" {
		return fmt.Errorf("chart type is required")
	}
	if !chartTypes[b.ChartType] {
		return fmt.Errorf("unsupported chart type %q", b.ChartType)
	}
	if b.Data == nil && b.DataAsJSON == nil {
		return fmt.Errorf("chart needs data or dataAsJson")
	}
	if b.DataAsJSON != nil {
		if len(b.DataAsJSON.Series) == 0 {
			return fmt.Errorf("dataAsJson.meta must list at least one series")
		}
		for i, s := range b.DataAsJSON.Series {
			if err := checkRemoteURL(s.URL); err != nil {
				return fmt.Errorf("dataAsJson.meta[%d]: %w", i, err)
			}
		}
	}
	return nil
}

var calloutTones = map[string]bool{"info": true, "warning": true, "success": true, "danger": true}

type CalloutBlock struct {
	Base
	Tone  string `json:"tone"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

func (*CalloutBlock) Kind() Kind { return KindCallout }
func (b *CalloutBlock) Accept(v Visitor) error { return v.VisitCallout(b) }

func (b *CalloutBlock) validate() error {
	if b.Tone == "" {
		b.Tone = "info"
	}
	if !calloutTones[b.Tone] {
		return fmt.Errorf("unsupported tone %q", b.Tone)
	}
	if b.Text == "" && b.Title == "" {
		return fmt.Errorf("callout needs a title or text")
	}
	return nil
}

// QuoteBlock is a block quotation. Text is the quoted markdown.
type QuoteBlock struct {
	Base
	Text string `json:"text"`
}

func (*QuoteBlock) Kind() Kind { return KindQuote }
func (b *QuoteBlock) Accept(v Visitor) error { return v.VisitQuote(b) }

type CodeBlock struct {
	Base
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

func (*CodeBlock) Kind() Kind { return KindCode }
func (b *CodeBlock) Accept(v Visitor) error { return v.VisitCode(b) }

type DividerBlock struct {
	Base
}

func (*DividerBlock) Kind() Kind { return KindDivider }
func (b *DividerBlock) Accept(v Visitor) error { return v.VisitDivider(b) }

var containerLayouts = map[string]bool{"": true, "row": true, "column": true, "grid": true}

// ContainerBlock groups nested blocks parsed from nested content.
type ContainerBlock struct {
	Base
	Layout string  `json:"layout,omitempty"`
	Blocks []Block `json:"blocks"`
}

func (*ContainerBlock) Kind() Kind { return KindContainer }
func (b *ContainerBlock) Accept(v Visitor) error { return v.VisitContainer(b) }

// MarshalJSON writes the nested blocks with their discriminants.
func (b *ContainerBlock) MarshalJSON() ([]byte, error) {
	children, err := marshalList(b.Blocks)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Base
		Layout string            `json:"layout,omitempty"`
		Blocks []json.RawMessage `json:"blocks"`
	}{b.Base, b.Layout, children})
}

// SpacerBlock is vertical whitespace. Height is in pixels.
type SpacerBlock struct {
	Base
	Height int `json:"height"`
}

// DefaultSpacerHeight applies when a spacer gives no height.
const DefaultSpacerHeight = 24

func (*SpacerBlock) Kind() Kind { return KindSpacer }
func (b *SpacerBlock) Accept(v Visitor) error { return v.VisitSpacer(b) }

func (b *SpacerBlock) validate() error {
	if b.Height < 0 {
		return fmt.Errorf("height must not be negative")
	}
	if b.Height == 0 {
		b.Height = DefaultSpacerHeight
	}
	return nil
}

// TableColumn defines one table column. Cells are looked up by Key.
type TableColumn struct {
	Key    string         `json:"key"`
	Label  string         `json:"label,omitempty"`
	Format *format.Format `json:"format,omitempty"`
	Align  string         `json:"align,omitempty"`
}

// TableSource describes remote rows.
type TableSource struct {
	URL  string `json:"url"`
	Path string `json:"pathToRowData,omitempty"`
}

// TableBlock carries either inline Rows or a JSONData fetch descriptor.
type TableBlock struct {
	Base
	Columns  []TableColumn    `json:"columnDefinitions"`
	Rows     []map[string]any `json:"rowData,omitempty"`
	JSONData *TableSource     `json:"jsonData,omitempty"`
}

func (*TableBlock) Kind() Kind { return KindTable }
func (b *TableBlock) Accept(v Visitor) error { return v.VisitTable(b) }

func (b *TableBlock) validate() error {
	if len(b.Columns) == 0 {
		return fmt.Errorf("columnDefinitions must list at least one column")
	}
	for i, c := range b.Columns {
		if c.Key == "" {
			return fmt.Errorf("columnDefinitions[%d]: key is required", i)
		}
	}
	switch {
	case b.Rows != nil && b.JSONData != nil:
		return fmt.Errorf("rowData and jsonData are mutually exclusive")
	case b.Rows == nil && b.JSONData == nil:
		return fmt.Errorf("table needs rowData or jsonData")
	case b.JSONData != nil:
		return checkRemoteURL(b.JSONData.URL)
	}
	return nil
}

// KPICard is one headline number.
type KPICard struct {
	Title    string         `json:"title"`
	Value    any            `json:"value"`
	Format   *format.Format `json:"format,omitempty"`
	Subtitle string         `json:"subtitle,omitempty"`
	Icon     string         `json:"icon,omitempty"`
	Trend    string         `json:"trend,omitempty"` // "up", "down" or "flat"
}

type KPICardsBlock struct {
	Base
	Items []KPICard `json:"items"`
}

func (*KPICardsBlock) Kind() Kind { return KindKPICards }
func (b *KPICardsBlock) Accept(v Visitor) error { return v.VisitKPICards(b) }

func (b *KPICardsBlock) validate() error {
	if len(b.Items) == 0 {
		return fmt.Errorf("items must list at least one card")
	}
	for i, it := range b.Items {
		if it.Title == "" {
			return fmt.Errorf("items[%d]: title is required", i)
		}
		switch it.Trend {
		case "", "up", "down", "flat":
		default:
			return fmt.Errorf("items[%d]: unsupported trend %q", i, it.Trend)
		}
	}
	return nil
}

// LiveMetricsBlock is a single live-metric card.
type LiveMetricsBlock struct {
	Base
	Card livemetrics.CardConfig `json:"card"`
}

func (*LiveMetricsBlock) Kind() Kind { return KindLiveMetrics }
func (b *LiveMetricsBlock) Accept(v Visitor) error { return v.VisitLiveMetrics(b) }

func (b *LiveMetricsBlock) validate() error { return b.Card.Validate() }

// LiveMetricsRowBlock lays out up to MaxRowCards independent cards.
type LiveMetricsRowBlock struct {
	Base
	Cards []livemetrics.CardConfig `json:"cards"`
}

func (*LiveMetricsRowBlock) Kind() Kind { return KindLiveMetricsRow }
func (b *LiveMetricsRowBlock) Accept(v Visitor) error { return v.VisitLiveMetricsRow(b) }

func (b *LiveMetricsRowBlock) validate() error {
	if len(b.Cards) == 0 {
		return fmt.Errorf("cards must list at least one card")
	}
	if len(b.Cards) > MaxRowCards {
		return fmt.Errorf("a row holds at most %d cards, got %d", MaxRowCards, len(b.Cards))
	}
	for i, c := range b.Cards {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("cards[%d]: %w", i, err)
		}
	}
	return nil
}

type DropdownOption struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// DropdownOptionsSource loads options from a JSON endpoint.
type DropdownOptionsSource struct {
	URL      string `json:"url"`
	Path     string `json:"path,omitempty"`
	ValueKey string `json:"valueKey,omitempty"`
	LabelKey string `json:"labelKey,omitempty"`
}

// DropdownBlock writes the selected value to shared state under StateKey.
type DropdownBlock struct {
	Base
	StateKey    string                 `json:"stateKey"`
	Label       string                 `json:"label,omitempty"`
	Placeholder string                 `json:"placeholder,omitempty"`
	Options     []DropdownOption       `json:"options,omitempty"`
	OptionsFrom *DropdownOptionsSource `json:"optionsFrom,omitempty"`
	Default     string                 `json:"defaultValue,omitempty"` // Comma separated when Multiple
	Multiple    bool                   `json:"multiple,omitempty"`
}

func (*DropdownBlock) Kind() Kind { return KindDropdown }
func (b *DropdownBlock) Accept(v Visitor) error { return v.VisitDropdown(b) }

func (b *DropdownBlock) validate() error {
	if b.StateKey == "" {
		return fmt.Errorf("stateKey is required")
	}
	if !isIdentifier(b.StateKey) {
		return fmt.Errorf("stateKey %q is not a valid identifier", b.StateKey)
	}
	if len(b.Options) == 0 && b.OptionsFrom == nil {
		return fmt.Errorf("dropdown needs options or optionsFrom")
	}
	for i, o := range b.Options {
		if o.Value == "" {
			return fmt.Errorf("options[%d]: value is required", i)
		}
	}
	if b.OptionsFrom != nil {
		if err := checkRemoteURL(b.OptionsFrom.URL); err != nil {
			return fmt.Errorf("optionsFrom: %w", err)
		}
	}
	if b.Default != "" && len(b.Options) > 0 {
		for _, v := range b.DefaultValues() {
			if !b.HasOption(v) {
				return fmt.Errorf("defaultValue %q is not one of the options", v)
			}
		}
	}
	return nil
}

// HasOption reports whether value is one of the static options. Dropdowns
// with remote options accept any value.
func (b *DropdownBlock) HasOption(value string) bool {
	if len(b.Options) == 0 {
		return true
	}
	for _, o := range b.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// DefaultValues splits Default into the initial selection.
func (b *DropdownBlock) DefaultValues() []string {
	if b.Default == "" {
		return nil
	}
	if !b.Multiple {
		return []string{b.Default}
	}
	return splitList(b.Default)
}

type Button struct {
	Label string `json:"label"`
	Href  string `json:"href"`
	Style string `json:"style,omitempty"`
}

// TitleButtonBlock is a heading with an optional call-to-action link.
type TitleButtonBlock struct {
	Base
	Title  string  `json:"title"`
	Icon   string  `json:"icon,omitempty"`
	Button *Button `json:"button,omitempty"`
}

func (*TitleButtonBlock) Kind() Kind { return KindTitleButton }
func (b *TitleButtonBlock) Accept(v Visitor) error { return v.VisitTitleButton(b) }

func (b *TitleButtonBlock) validate() error {
	if b.Title == "" {
		return fmt.Errorf("title is required")
	}
	if b.Button != nil && (b.Button.Label == "" || b.Button.Href == "") {
		return fmt.Errorf("button needs a label and an href")
	}
	return nil
}

type FAQItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"` // Markdown
}

type FAQBlock struct {
	Base
	Title string    `json:"title,omitempty"`
	Items []FAQItem `json:"items"`
}

func (*FAQBlock) Kind() Kind { return KindFAQ }
func (b *FAQBlock) Accept(v Visitor) error { return v.VisitFAQ(b) }

func (b *FAQBlock) validate() error {
	if len(b.Items) == 0 {
		return fmt.Errorf("items must list at least one question")
	}
	for i, it := range b.Items {
		if it.Question == "" || it.Answer == "" {
			return fmt.Errorf("items[%d]: question and answer are required", i)
		}
	}
	return nil
}

type IframeBlock struct {
	Base
	Src    string `json:"src"`
	Title  string `json:"title,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (*IframeBlock) Kind() Kind { return KindIframe }
func (b *IframeBlock) Accept(v Visitor) error { return v.VisitIframe(b) }

func (b *IframeBlock) validate() error {
	if b.Height < 0 {
		return fmt.Errorf("height must not be negative")
	}
	return checkRemoteURL(b.Src)
}

// ListItem is one list entry; Items holds a nested list.
type ListItem struct {
	Text  string     `json:"text"`
	Items []ListItem `json:"items,omitempty"`
}

type ListBlock struct {
	Base
	Ordered bool       `json:"ordered,omitempty"`
	Start   int        `json:"start,omitempty"`
	Items   []ListItem `json:"items"`
}

func (*ListBlock) Kind() Kind { return KindList }
func (b *ListBlock) Accept(v Visitor) error { return v.VisitList(b) }

// validator is implemented by payloads that check their own shape.
type validator interface {
	validate() error
}

// MarshalBlocks encodes blocks as a JSON array of objects carrying their
// "type" discriminant alongside the payload fields.
func MarshalBlocks(blocks []Block) ([]byte, error) {
	list, err := marshalList(blocks)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []json.RawMessage{}
	}
	return json.Marshal(list)
}

func marshalList(blocks []Block) ([]json.RawMessage, error) {
	if blocks == nil {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		raw, err := marshalBlock(b)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", b.BlockID(), err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func marshalBlock(b Block) (json.RawMessage, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(b.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if len(payload) > 2 {
		buf.WriteByte(',')
		buf.Write(payload[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Walk calls fn for every block in blocks, descending into containers.
func Walk(blocks []Block, fn func(Block)) {
	for _, b := range blocks {
		fn(b)
		if c, ok := b.(*ContainerBlock); ok {
			Walk(c.Blocks, fn)
		}
	}
}

// checkRemoteURL accepts absolute http(s) URLs and URLs whose scheme and
// host come from a placeholder.
func checkRemoteURL(raw string) error {
	u := strings.TrimSpace(raw)
	switch {
	case u == "":
		return fmt.Errorf("url is required")
	case strings.HasPrefix(u, "https://"), strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "{{"):
		return nil
	}
	return fmt.Errorf("url must be an absolute http(s) URL, got %q", raw)
}

func isIdentifier(s string) bool { return mustache.IsIdentifier(s) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
