// Package source provides the data backends behind named {{placeholder}}
// providers and live-metric cards. Every backend yields a decoded JSON-like
// document (maps, slices and scalars) that callers address with dot-paths.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/livetemplate/blockdown/internal/cache"
	"github.com/livetemplate/blockdown/internal/config"
	"go.uber.org/zap"
)

// Source is a named backend.
type Source interface {
	Name() string

	// Fetch retrieves the current document.
	Fetch(ctx context.Context) (any, error)

	// Close releases any resources held by the source.
	Close() error
}

// Registry holds the sources configured for a site.
type Registry struct {
	sources map[string]Source
	cache   *cache.MemoryCache
	logger  *zap.Logger
}

// NewRegistry builds every source in cfg.Sources. Relative file paths are
// resolved against baseDir; rest sources share fetcher.
func NewRegistry(cfg *config.Config, baseDir string, fetcher *HTTPFetcher, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		sources: make(map[string]Source),
		cache:   cache.NewMemoryCache(),
		logger:  logger.Named("source"),
	}

	for name, srcCfg := range cfg.Sources {
		src, err := r.createSource(name, srcCfg, baseDir, fetcher)
		if err != nil {
			r.Close()
			return nil, err
		}
		if cs, ok := src.(*ComputedSource); ok {
			if err := checkTarget(name, cs.Target(), cfg.Sources); err != nil {
				r.Close()
				return nil, err
			}
		}
		if srcCfg.IsCacheEnabled() {
			src = NewCachedSource(src, r.cache, srcCfg, r.logger)
		}
		r.sources[name] = src
	}
	return r, nil
}

// checkTarget rejects computed sources over missing or computed sources,
// which rules out cycles.
func checkTarget(name, target string, sources map[string]config.SourceConfig) error {
	t, ok := sources[target]
	if !ok {
		return &ValidationError{Source: name, Field: "expr", Reason: fmt.Sprintf("unknown source %q", target)}
	}
	if t.Type == "computed" {
		return &ValidationError{Source: name, Field: "expr", Reason: fmt.Sprintf("source %q is itself computed", target)}
	}
	return nil
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, bool) {
	src, ok := r.sources[name]
	return src, ok
}

// Names returns the configured source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InvalidateCache drops the cached document for one source.
func (r *Registry) InvalidateCache(name string) {
	if cs, ok := r.sources[name].(*CachedSource); ok {
		cs.Invalidate()
	}
}

// InvalidateAllCaches drops every cached document.
func (r *Registry) InvalidateAllCaches() {
	r.cache.InvalidateAll()
}

// Close releases all sources and stops the cache sweeper.
func (r *Registry) Close() error {
	r.cache.Stop()
	var errs []error
	for _, src := range r.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) createSource(name string, cfg config.SourceConfig, baseDir string, fetcher *HTTPFetcher) (Source, error) {
	switch cfg.Type {
	case "rest":
		return NewRestSource(name, cfg, fetcher)
	case "json":
		return NewJSONFileSource(name, cfg.File, baseDir)
	case "csv":
		return NewCSVFileSource(name, cfg.File, baseDir, cfg.Options)
	case "sqlite":
		return NewSQLiteSource(name, cfg.DB, cfg.Query, baseDir)
	case "pg":
		return NewPostgresSource(name, cfg.DSN, cfg.Query, cfg.Options)
	case "exec":
		return NewExecSource(name, cfg, baseDir)
	case "static":
		return NewStaticSource(name, cfg.Value), nil
	case "computed":
		return NewComputedSource(name, cfg.Expr, r.Get)
	default:
		return nil, &UnsupportedSourceError{Type: cfg.Type}
	}
}

// UnsupportedSourceError is returned for unknown source types.
type UnsupportedSourceError struct {
	Type string
}

func (e *UnsupportedSourceError) Error() string {
	return "unsupported source type: " + e.Type
}

// StaticSource returns a fixed value.
type StaticSource struct {
	name  string
	value any
}

// NewStaticSource creates a source that always yields value.
func NewStaticSource(name string, value any) *StaticSource {
	return &StaticSource{name: name, value: value}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Fetch(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.value, nil
}

func (s *StaticSource) Close() error { return nil }
