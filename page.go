package blockdown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/livetemplate/blockdown/internal/resolve"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for page files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported page format")

// Document is an authored page before placeholder resolution.
type Document struct {
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description,omitempty"`
	ShowInMenu  *bool    `yaml:"showInMenu" json:"showInMenu,omitempty"`
	Content     []string `yaml:"content" json:"content"`
	File        string   `yaml:"-" json:"-"`
}

// Slug is the page's URL name: the file name without its extension.
func (d *Document) Slug() string {
	base := filepath.Base(d.File)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsPageFile reports whether name has a page extension.
func IsPageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadPage reads a page document from disk.
func LoadPage(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	doc, err := ParseDocument(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument decodes a page by the extension of name: markdown with
// optional frontmatter, or YAML/JSON with a content array. A JSON document
// may also be a bare array of strings.
func ParseDocument(name string, data []byte) (*Document, error) {
	doc := &Document{File: name}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		fm, segments, err := ParseMarkdown(data)
		if err != nil {
			return nil, err
		}
		doc.Title = fm.Title
		doc.Description = fm.Description
		doc.ShowInMenu = fm.ShowInMenu
		doc.Content = segments
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		var err error
		if isArray(data) {
			err = json.Unmarshal(data, &doc.Content)
		} else {
			err = json.Unmarshal(data, doc)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	doc.File = name
	if doc.Title == "" {
		doc.Title = doc.Slug()
	}
	return doc, nil
}

// Page is a resolved and parsed document.
type Page struct {
	Slug        string
	Title       string
	Description string
	ShowInMenu  bool
	File        string
	Content     []string // As authored
	Resolved    []string // After placeholder substitution
	Blocks      []Block
	Diagnostics []*ParseError
}

// MarshalJSON encodes the page for API clients.
func (p *Page) MarshalJSON() ([]byte, error) {
	blocks, err := marshalList(p.Blocks)
	if err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = []json.RawMessage{}
	}
	diags := p.Diagnostics
	if diags == nil {
		diags = []*ParseError{}
	}
	return json.Marshal(struct {
		Slug        string            `json:"slug"`
		Title       string            `json:"title"`
		Description string            `json:"description,omitempty"`
		Blocks      []json.RawMessage `json:"blocks"`
		Diagnostics []*ParseError     `json:"diagnostics"`
	}{p.Slug, p.Title, p.Description, blocks, diags})
}

// Dropdowns returns every dropdown on the page, including nested ones.
func (p *Page) Dropdowns() []*DropdownBlock {
	var out []*DropdownBlock
	Walk(p.Blocks, func(b Block) {
		if d, ok := b.(*DropdownBlock); ok {
			out = append(out, d)
		}
	})
	return out
}

// Find returns the block with the given id.
func (p *Page) Find(id string) (Block, bool) {
	var found Block
	Walk(p.Blocks, func(b Block) {
		if found == nil && b.BlockID() == id {
			found = b
		}
	})
	return found, found != nil
}

// liveTags are fences whose {{placeholders}} are card URL templates,
// resolved per session against shared state rather than at build time.
var liveTags = map[string]bool{
	string(KindLiveMetrics):    true,
	string(KindLiveMetricsRow): true,
}

// Builder turns documents into pages: placeholders are resolved first,
// then the result is parsed.
type Builder struct {
	Resolver *resolve.Resolver // nil disables placeholder substitution
	Parser   *Parser
	Logger   *zap.Logger

	// StableIDs derives block ids from the page slug, so every build of a
	// page gives its blocks the same ids.
	StableIDs bool
}

// Build resolves and parses doc. vars supply placeholder values that no
// provider claims, such as selections passed in a page URL. The only error
// is cancellation of ctx.
func (b *Builder) Build(ctx context.Context, doc *Document, vars map[string]string) (*Page, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := b.Parser
	if p == nil {
		p = NewParser(WithLogger(logger))
	}
	if b.StableIDs {
		p = p.withIDs(StableIDs(doc.Slug()))
	}

	resolved := doc.Content
	if b.Resolver != nil {
		r := b.Resolver
		if len(vars) > 0 {
			r = r.WithState(varsLookup(vars))
		}
		var err error
		resolved, err = resolveContent(ctx, r, doc.Content)
		if err != nil {
			return nil, err
		}
	}

	blocks, diags := p.ParseWithDiagnostics(resolved)
	for _, d := range diags {
		d.File = doc.File
	}
	if len(diags) > 0 {
		logger.Info("page built with dropped blocks",
			zap.String("page", doc.Slug()),
			zap.Int("dropped", len(diags)))
	}

	showInMenu := doc.ShowInMenu == nil || *doc.ShowInMenu
	return &Page{
		Slug:        doc.Slug(),
		Title:       doc.Title,
		Description: doc.Description,
		ShowInMenu:  showInMenu,
		File:        doc.File,
		Content:     doc.Content,
		Resolved:    resolved,
		Blocks:      blocks,
		Diagnostics: diags,
	}, nil
}

// resolveContent substitutes placeholders everywhere except inside
// live-metrics fences, including those nested in container content. All
// prose of all segments goes to the resolver in one call so identifiers are
// resolved once and concurrently.
func resolveContent(ctx context.Context, r *resolve.Resolver, content []string) ([]string, error) {
	var plan resolvePlan
	builds := make([]func([]string) string, len(content))
	for i, s := range content {
		builds[i] = plan.segment(s)
	}

	done, err := r.Resolve(ctx, plan.pending)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(content))
	for i, build := range builds {
		out[i] = build(done)
	}
	return out, nil
}

// resolvePlan collects the texts to resolve. Each planning step returns a
// function that reassembles its text from the resolved values.
type resolvePlan struct {
	pending []string
}

func (pl *resolvePlan) text(s string) func([]string) string {
	idx := len(pl.pending)
	pl.pending = append(pl.pending, s)
	return func(done []string) string { return done[idx] }
}

func (pl *resolvePlan) segment(s string) func([]string) string {
	var parts []func([]string) string
	for _, c := range splitFences(s) {
		switch {
		case c.fenced && liveTags[c.tag]:
			verbatim := c.text
			parts = append(parts, func([]string) string { return verbatim })
		case c.fenced && c.tag == string(KindContainer):
			parts = append(parts, pl.container(c.text))
		default:
			parts = append(parts, pl.text(c.text))
		}
	}
	return func(done []string) string {
		var b strings.Builder
		for _, part := range parts {
			b.WriteString(part(done))
		}
		return b.String()
	}
}

// container plans a container fence: its content segments are planned like
// top-level segments and its other fields are resolved as raw JSON. A fence
// that does not decode is resolved as plain text and left to the parser to
// report.
func (pl *resolvePlan) container(text string) func([]string) string {
	open, body, closing, ok := cutFence(text)
	if !ok {
		return pl.text(text)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return pl.text(text)
	}
	var content []string
	if raw, ok := fields["content"]; ok {
		if err := json.Unmarshal(raw, &content); err != nil {
			return pl.text(text)
		}
	}

	others := make(map[string]func([]string) string, len(fields))
	for k, raw := range fields {
		if k != "content" {
			others[k] = pl.text(string(raw))
		}
	}
	children := make([]func([]string) string, len(content))
	for i, seg := range content {
		children[i] = pl.segment(seg)
	}
	_, hasContent := fields["content"]

	return func(done []string) string {
		out := make(map[string]json.RawMessage, len(fields))
		for k, build := range others {
			out[k] = json.RawMessage(build(done))
		}
		if hasContent {
			segs := make([]string, len(children))
			for i, build := range children {
				segs[i] = build(done)
			}
			raw, err := json.Marshal(segs)
			if err != nil {
				return text
			}
			out["content"] = raw
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			// A substituted value broke the JSON; leave it to the parser.
			return text
		}
		return open + string(data) + "\n" + closing
	}
}

// cutFence splits a closed fence into its opening line, body and closing line.
func cutFence(text string) (open, body, closing string, ok bool) {
	lines := strings.SplitAfter(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) < 2 {
		return "", "", "", false
	}
	m, _, isFence := openingFence(lines[0])
	last := lines[len(lines)-1]
	if !isFence || !m.closes(last) {
		return "", "", "", false
	}
	return lines[0], strings.Join(lines[1:len(lines)-1], ""), last, true
}

type varsLookup map[string]string

func (v varsLookup) Lookup(key string) (string, bool) {
	s, ok := v[key]
	return s, ok && s != ""
}
