package blockdown

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/livetemplate/blockdown/internal/livemetrics"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

// maxContainerDepth bounds container nesting.
const maxContainerDepth = 8

// Parser converts content segments into blocks. It is safe for concurrent
// use when its id generator is.
type Parser struct {
	md     goldmark.Markdown
	newID  func() string
	logger *zap.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithIDGenerator replaces the block id generator (default: random UUIDs).
func WithIDGenerator(fn func() string) ParserOption {
	return func(p *Parser) { p.newID = fn }
}

// StableIDs returns a generator of name-based UUIDs derived from seed and
// a counter. Parsing the same content with the same seed yields the same
// ids.
func StableIDs(seed string) func() string {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed))
	var n atomic.Int64
	return func() string {
		return uuid.NewSHA1(ns, strconv.AppendInt(nil, n.Add(1), 10)).String()
	}
}

// WithLogger sets the logger dropped segments are reported to.
func WithLogger(l *zap.Logger) ParserOption {
	return func(p *Parser) { p.logger = l }
}

// NewParser creates a parser for GitHub-flavoured markdown with structured
// fences.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("parser")
	return p
}

func (p *Parser) withIDs(fn func() string) *Parser {
	cp := *p
	cp.newID = fn
	return &cp
}

// Parse parses content with a default parser.
func Parse(content []string) []Block {
	return NewParser().Parse(content)
}

// Parse converts content into blocks in input order. Segments that fail
// to decode are dropped.
func (p *Parser) Parse(content []string) []Block {
	blocks, _ := p.ParseWithDiagnostics(content)
	return blocks
}

// ParseWithDiagnostics is Parse that also returns one ParseError per
// dropped segment.
func (p *Parser) ParseWithDiagnostics(content []string) ([]Block, []*ParseError) {
	var st parseState
	for i, seg := range content {
		st.segment = i
		p.parseSegment(&st, seg, 0)
	}
	if st.blocks == nil {
		st.blocks = []Block{}
	}
	return st.blocks, st.diags
}

type parseState struct {
	segment int
	blocks  []Block
	diags   []*ParseError
}

func (p *Parser) parseSegment(st *parseState, seg string, depth int) {
	src := []byte(seg)
	doc := p.md.Parser().Parse(text.NewReader(src))

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if fenced, ok := n.(*ast.FencedCodeBlock); ok {
			p.fence(st, fenced, src, depth)
			continue
		}
		b := p.convert(n, src)
		if b == nil {
			p.logger.Debug("skipping node", zap.String("node", n.Kind().String()), zap.Int("segment", st.segment))
			continue
		}
		p.add(st, b)
	}
}

func (p *Parser) add(st *parseState, b Block) {
	b.base().ID = p.newID()
	st.blocks = append(st.blocks, b)
}

// convert maps a top-level prose node to a block, or nil.
func (p *Parser) convert(n ast.Node, src []byte) Block {
	switch n := n.(type) {
	case *ast.Heading:
		h := &HeadingBlock{Level: n.Level, Text: inlineText(n, src)}
		if id, ok := n.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				h.Anchor = string(b)
			}
		}
		return h
	case *ast.Paragraph:
		if img, ok := n.FirstChild().(*ast.Image); ok && n.ChildCount() == 1 {
			return &ImageBlock{Src: string(img.Destination), Alt: inlineText(img, src), Caption: string(img.Title)}
		}
		return &ParagraphBlock{Text: linesText(n, src)}
	case *ast.TextBlock:
		return &ParagraphBlock{Text: linesText(n, src)}
	case *ast.HTMLBlock:
		var b strings.Builder
		b.WriteString(linesText(n, src))
		if n.HasClosure() {
			b.WriteByte('\n')
			b.Write(bytes.TrimSpace(n.ClosureLine.Value(src)))
		}
		return &ParagraphBlock{Text: strings.TrimSpace(b.String())}
	case *ast.List:
		l := &ListBlock{Ordered: n.IsOrdered(), Items: listItems(n, src)}
		if n.IsOrdered() {
			l.Start = n.Start
		}
		return l
	case *ast.Blockquote:
		return &QuoteBlock{Text: blockText(n, src)}
	case *ast.ThematicBreak:
		return &DividerBlock{}
	case *ast.CodeBlock:
		return &CodeBlock{Code: rawLines(n, src)}
	case *extast.Table:
		return tableBlock(n, src)
	}
	return nil
}

// fence handles a fenced code block: structured tags decode into their
// block kind, anything else is a code block.
func (p *Parser) fence(st *parseState, n *ast.FencedCodeBlock, src []byte, depth int) {
	tag := string(n.Language(src))
	body := rawLines(n, src)
	line := fenceLine(n, src)

	if tag == string(KindContainer) {
		p.container(st, tag, body, line, string(src), depth)
		return
	}
	decode, ok := structuredTags[tag]
	if !ok {
		p.add(st, &CodeBlock{Language: tag, Code: body})
		return
	}

	b, err := decode([]byte(body))
	if err == nil {
		err = validateBlock(b)
	}
	if err != nil {
		p.drop(st, tag, body, line, string(src), err)
		return
	}
	p.add(st, b)
}

func (p *Parser) container(st *parseState, tag, body string, line int, src string, depth int) {
	if depth >= maxContainerDepth {
		p.drop(st, tag, body, line, src, fmt.Errorf("containers nested deeper than %d levels", maxContainerDepth))
		return
	}
	var payload struct {
		Base
		Layout  string   `json:"layout"`
		Content []string `json:"content"`
	}
	if err := decodeStrict([]byte(body), &payload); err != nil {
		p.drop(st, tag, body, line, src, err)
		return
	}
	if !containerLayouts[payload.Layout] {
		p.drop(st, tag, body, line, src, fmt.Errorf("unsupported layout %q", payload.Layout))
		return
	}

	// Children are collected separately and land in the container, but
	// their diagnostics are reported against the enclosing segment.
	inner := parseState{segment: st.segment}
	for _, seg := range payload.Content {
		p.parseSegment(&inner, seg, depth+1)
	}
	st.diags = append(st.diags, inner.diags...)

	c := &ContainerBlock{Base: payload.Base, Layout: payload.Layout, Blocks: inner.blocks}
	if c.Blocks == nil {
		c.Blocks = []Block{}
	}
	p.add(st, c)
}

func (p *Parser) drop(st *parseState, tag, body string, line int, src string, err error) {
	line = errorLine(body, line, err)
	p.logger.Warn("dropping invalid block",
		zap.Int("segment", st.segment),
		zap.String("tag", tag),
		zap.Int("line", line),
		zap.Error(err))

	pe := NewParseError(st.segment, line, err.Error()).WithTag(tag).WithCode(src)
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &syntaxErr), errors.Is(err, errTrailingData), errors.Is(err, errEmptyBody):
		pe.WithHint(fmt.Sprintf("The body of a ```%s fence must be exactly one JSON value", tag))
	default:
		pe.WithHint(fmt.Sprintf("Check the fields of the %s block", tag))
	}
	st.diags = append(st.diags, pe)
}

func validateBlock(b Block) error {
	if v, ok := b.(validator); ok {
		return v.validate()
	}
	return nil
}

type decodeFunc func(data []byte) (Block, error)

var structuredTags = map[string]decodeFunc{
	string(KindChart):          decodeChart,
	string(KindKPICards):       decodeKPICards,
	string(KindLiveMetrics):    decodeLiveMetrics,
	string(KindLiveMetricsRow): decodeLiveMetricsRow,
	string(KindTable):          decodeAs[TableBlock],
	string(KindFAQ):            decodeFAQ,
	string(KindDropdown):       decodeAs[DropdownBlock],
	string(KindTitleButton):    decodeAs[TitleButtonBlock],
	string(KindImage):          decodeAs[ImageBlock],
	string(KindCallout):        decodeAs[CalloutBlock],
	string(KindIframe):         decodeAs[IframeBlock],
	string(KindSpacer):         decodeAs[SpacerBlock],
}

// IsStructuredTag reports whether a fence tag decodes into a block kind.
func IsStructuredTag(tag string) bool {
	_, ok := structuredTags[tag]
	return ok || tag == string(KindContainer)
}

var (
	errEmptyBody    = errors.New("empty block body")
	errTrailingData = errors.New("unexpected data after the JSON value")
)

// decodeStrict decodes exactly one JSON value.
func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}

func decodeAs[T any, P interface {
	*T
	Block
}](data []byte) (Block, error) {
	var v T
	if err := decodeStrict(data, &v); err != nil {
		return nil, err
	}
	return P(&v), nil
}

// decodeChart accepts the chart type as "type" or "chartType".
func decodeChart(data []byte) (Block, error) {
	var body struct {
		ChartBlock
		Type string `json:"type"`
	}
	if err := decodeStrict(data, &body); err != nil {
		return nil, err
	}
	b := body.ChartBlock
	if b.ChartType == "" {
		b.ChartType = body.Type
	}
	return &b, nil
}

func decodeKPICards(data []byte) (Block, error) {
	b := &KPICardsBlock{}
	if isArray(data) {
		return b, decodeStrict(data, &b.Items)
	}
	return b, decodeStrict(data, b)
}

func decodeFAQ(data []byte) (Block, error) {
	b := &FAQBlock{}
	if isArray(data) {
		return b, decodeStrict(data, &b.Items)
	}
	return b, decodeStrict(data, b)
}

func decodeLiveMetrics(data []byte) (Block, error) {
	var body struct {
		livemetrics.CardConfig
		ShowInMenu *bool `json:"showInMenu"`
	}
	if err := decodeStrict(data, &body); err != nil {
		return nil, err
	}
	return &LiveMetricsBlock{Base: Base{ShowInMenu: body.ShowInMenu}, Card: body.CardConfig}, nil
}

func decodeLiveMetricsRow(data []byte) (Block, error) {
	b := &LiveMetricsRowBlock{}
	if isArray(data) {
		return b, decodeStrict(data, &b.Cards)
	}
	return b, decodeStrict(data, b)
}

func isArray(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// fenceLine returns the 1-indexed line of the fence opener.
func fenceLine(n *ast.FencedCodeBlock, src []byte) int {
	switch {
	case n.Info != nil:
		return lineOf(src, n.Info.Segment.Start)
	case n.Lines().Len() > 0:
		return lineOf(src, n.Lines().At(0).Start) - 1
	}
	return 1
}

func lineOf(src []byte, offset int) int {
	offset = min(max(offset, 0), len(src))
	return bytes.Count(src[:offset], []byte("\n")) + 1
}

// errorLine points JSON decode errors at the offending line of the segment.
func errorLine(body string, fence int, err error) int {
	var offset int64 = -1
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	}
	if offset < 0 || int(offset) > len(body) {
		return fence
	}
	// Offsets point just past the offending token.
	if offset > 0 {
		offset--
	}
	return fence + lineOf([]byte(body), int(offset))
}

// rawLines returns the verbatim lines of a block node.
func rawLines(n ast.Node, src []byte) string {
	var b bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func linesText(n ast.Node, src []byte) string {
	return strings.TrimSpace(rawLines(n, src))
}

// blockText joins the text of the leaf blocks under n with blank lines.
func blockText(n ast.Node, src []byte) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		var t string
		if c.Lines().Len() > 0 {
			t = linesText(c, src)
		} else {
			t = blockText(c, src)
		}
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// inlineText flattens the inline content of n to plain text.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.Label(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func listItems(list *ast.List, src []byte) []ListItem {
	var items []ListItem
	for c := list.FirstChild(); c != nil; c = c.NextSibling() {
		var item ListItem
		var parts []string
		for cc := c.FirstChild(); cc != nil; cc = cc.NextSibling() {
			if sub, ok := cc.(*ast.List); ok {
				item.Items = append(item.Items, listItems(sub, src)...)
				continue
			}
			var t string
			if cc.Lines().Len() > 0 {
				t = linesText(cc, src)
			} else {
				t = blockText(cc, src)
			}
			if t != "" {
				parts = append(parts, t)
			}
		}
		item.Text = strings.Join(parts, "\n\n")
		items = append(items, item)
	}
	return items
}

// tableBlock converts a GFM table. Cells become strings keyed by the header
// label; duplicate or empty labels get positional keys.
func tableBlock(t *extast.Table, src []byte) *TableBlock {
	tb := &TableBlock{Rows: []map[string]any{}}
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}

		if _, ok := row.(*extast.TableHeader); ok {
			seen := make(map[string]bool)
			for i, label := range cells {
				key := label
				if key == "" || seen[key] {
					key = fmt.Sprintf("col%d", i+1)
				}
				seen[key] = true
				col := TableColumn{Key: key, Label: label}
				if i < len(t.Alignments) {
					col.Align = alignment(t.Alignments[i])
				}
				tb.Columns = append(tb.Columns, col)
			}
			continue
		}

		rec := make(map[string]any, len(tb.Columns))
		for i, col := range tb.Columns {
			v := ""
			if i < len(cells) {
				v = cells[i]
			}
			rec[col.Key] = v
		}
		tb.Rows = append(tb.Rows, rec)
	}
	return tb
}

func alignment(a extast.Alignment) string {
	switch a {
	case extast.AlignLeft:
		return "left"
	case extast.AlignRight:
		return "right"
	case extast.AlignCenter:
		return "center"
	}
	return ""
}
