package resolve

import (
	"context"
	"fmt"

	"github.com/livetemplate/blockdown/internal/config"
	"github.com/livetemplate/blockdown/internal/dotpath"
	"github.com/livetemplate/blockdown/internal/format"
	"github.com/livetemplate/blockdown/internal/source"
)

// Provider produces the replacement text for one identifier.
type Provider interface {
	Resolve(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }

// Static returns a provider that always yields value.
func Static(value string) Provider {
	return ProviderFunc(func(context.Context) (string, error) { return value, nil })
}

// fallbacker is implemented by providers that carry their own fallback text.
type fallbacker interface {
	FallbackText() string
}

// SourceProvider extracts one value from a source document and formats it.
type SourceProvider struct {
	Source   source.Source
	Path     string         // Dot-path into the document; empty means the root
	Format   *format.Format // Nil formats numbers with defaults and passes strings through
	Fallback string         // Overrides Format.Fallback
}

// Resolve fetches the document and renders the value at Path.
func (p *SourceProvider) Resolve(ctx context.Context) (string, error) {
	doc, err := p.Source.Fetch(ctx)
	if err != nil {
		return "", err
	}

	v, ok := dotpath.Lookup(doc, p.Path)
	if !ok {
		return "", fmt.Errorf("source %q: no value at path %q", p.Source.Name(), p.Path)
	}
	v = singleCell(v)

	switch val := v.(type) {
	case map[string]any, []any:
		return "", fmt.Errorf("source %q: value at path %q is not a scalar", p.Source.Name(), p.Path)
	case string:
		if p.Format == nil {
			return val, nil
		}
	}
	return format.Value(v, p.Format), nil
}

// FallbackText is substituted when Resolve fails.
func (p *SourceProvider) FallbackText() string {
	if p.Fallback != "" {
		return p.Fallback
	}
	if p.Format != nil && p.Format.Fallback != "" {
		return p.Format.Fallback
	}
	return ""
}

// singleCell unwraps a one-row, one-column query result so that
// "SELECT COUNT(*) AS n FROM t" can be used without a path.
func singleCell(v any) any {
	rows, ok := v.([]any)
	if !ok || len(rows) != 1 {
		return v
	}
	row, ok := rows[0].(map[string]any)
	if !ok || len(row) != 1 {
		return v
	}
	for _, cell := range row {
		return cell
	}
	return v
}

// ProvidersFromConfig builds one SourceProvider per configured source.
func ProvidersFromConfig(cfg *config.Config, reg *source.Registry) map[string]Provider {
	providers := make(map[string]Provider, len(cfg.Sources))
	for name, srcCfg := range cfg.Sources {
		src, ok := reg.Get(name)
		if !ok {
			continue
		}
		providers[name] = &SourceProvider{
			Source:   src,
			Path:     srcCfg.Path,
			Format:   srcCfg.Format,
			Fallback: srcCfg.Fallback,
		}
	}
	return providers
}
