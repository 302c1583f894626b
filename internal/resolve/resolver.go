// Package resolve substitutes {{identifier}} placeholders in raw page
// content before it is parsed into blocks.
//
// Identifiers are looked up first among named providers and then among
// page state variables. Every distinct identifier is resolved once per call,
// concurrently with the others. A failing provider yields its fallback text
// and never affects its siblings.
package resolve

import (
	"context"
	"sync"

	"github.com/livetemplate/blockdown/internal/format"
	"github.com/livetemplate/blockdown/internal/mustache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StateLookup is the read side of page state.
type StateLookup interface {
	Lookup(key string) (string, bool)
}

// Options configures a Resolver.
type Options struct {
	Providers   map[string]Provider
	Strict      bool   // Replace unknown identifiers with a visible marker
	Fallback    string // Used when a failing provider has none of its own. Default: N/A
	Concurrency int    // Max providers in flight per call; 0 means unlimited
	Logger      *zap.Logger
}

// Resolver is safe for concurrent use.
type Resolver struct {
	opts   Options
	state  StateLookup
	logger *zap.Logger
}

// New creates a resolver.
func New(opts Options) *Resolver {
	if opts.Fallback == "" {
		opts.Fallback = format.DefaultFallback
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{opts: opts, logger: opts.Logger.Named("resolve")}
}

// WithState returns a copy of r that also consults st.
func (r *Resolver) WithState(st StateLookup) *Resolver {
	cp := *r
	cp.state = st
	return &cp
}

// UnresolvedMarker is what strict mode substitutes for an unknown identifier.
func UnresolvedMarker(name string) string {
	return "[unresolved: " + name + "]"
}

// Resolve returns content with placeholders substituted. The result has the
// same length and order as content. The only error is cancellation of ctx.
func (r *Resolver) Resolve(ctx context.Context, content []string) ([]string, error) {
	values, err := r.resolveAll(ctx, collect(content))
	if err != nil {
		return nil, err
	}

	lookup := mustache.MapLookup(values)
	out := make([]string, len(content))
	for i, s := range content {
		out[i], _ = mustache.Expand(s, lookup)
	}
	return out, nil
}

// ResolveString resolves a single string.
func (r *Resolver) ResolveString(ctx context.Context, s string) (string, error) {
	out, err := r.Resolve(ctx, []string{s})
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// collect returns the distinct identifiers across content in first-use order.
func collect(content []string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range content {
		for _, name := range mustache.Variables(s) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func (r *Resolver) resolveAll(ctx context.Context, names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	if len(names) == 0 {
		return values, ctx.Err()
	}

	var mu sync.Mutex
	var g errgroup.Group
	if r.opts.Concurrency > 0 {
		g.SetLimit(r.opts.Concurrency)
	}

	for _, name := range names {
		if p, ok := r.opts.Providers[name]; ok {
			g.Go(func() error {
				text := r.runProvider(ctx, name, p)
				mu.Lock()
				values[name] = text
				mu.Unlock()
				return nil
			})
			continue
		}

		if r.state != nil {
			if v, ok := r.state.Lookup(name); ok {
				mu.Lock()
				values[name] = v
				mu.Unlock()
				continue
			}
		}

		r.logger.Warn("unresolved placeholder", zap.String("name", name))
		if r.opts.Strict {
			mu.Lock()
			values[name] = UnresolvedMarker(name)
			mu.Unlock()
		}
	}

	// Providers never fail the group: a failure becomes fallback text.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *Resolver) runProvider(ctx context.Context, name string, p Provider) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("provider panicked", zap.String("name", name), zap.Any("panic", rec))
			text = r.fallbackFor(p)
		}
	}()

	text, err := p.Resolve(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("provider failed, using fallback", zap.String("name", name), zap.Error(err))
		}
		return r.fallbackFor(p)
	}
	return text
}

func (r *Resolver) fallbackFor(p Provider) string {
	if fb, ok := p.(fallbacker); ok {
		if text := fb.FallbackText(); text != "" {
			return text
		}
	}
	return r.opts.Fallback
}
