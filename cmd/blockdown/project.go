package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/config"
	"github.com/livetemplate/blockdown/internal/resolve"
	"github.com/livetemplate/blockdown/internal/source"
	"go.uber.org/zap"
)

// project is a page directory with its configuration and everything built
// from it.
type project struct {
	cfg      *config.Config
	baseDir  string // Directory relative paths in the config resolve against
	pagesDir string

	// sources fetches for rest sources; cards fetches for live-metric
	// cards, which poll again on their own and so never retry.
	sources  *source.HTTPFetcher
	cards    *source.HTTPFetcher
	registry *source.Registry
	builder  *blockdown.Builder
}

// loadProject loads the configuration for path, a directory or a file
// inside one.
func (a *app) loadProject(path string) (*project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("path does not exist: %s", path)
		}
		return nil, err
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	var cfg *config.Config
	baseDir := dir
	if a.configPath != "" {
		cfg, err = config.Load(a.configPath)
		if cfgAbs, absErr := filepath.Abs(a.configPath); absErr == nil {
			baseDir = filepath.Dir(cfgAbs)
		}
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pagesDir := dir
	if d := cfg.Pages.Dir; info.IsDir() && d != "" && d != "." {
		if !filepath.IsAbs(d) {
			d = filepath.Join(baseDir, d)
		}
		pagesDir = d
	}

	logger := a.logger
	opts := source.FetcherOptionsFromConfig(cfg.Fetch)
	opts.Logger = logger
	sources := source.NewHTTPFetcher(opts)
	opts.Retry = source.RetryPolicy{}
	cards := source.NewHTTPFetcher(opts)

	registry, err := source.NewRegistry(cfg, baseDir, sources, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sources: %w", err)
	}

	resolver := resolve.New(resolve.Options{
		Providers:   resolve.ProvidersFromConfig(cfg, registry),
		Strict:      cfg.Resolver.Strict,
		Fallback:    cfg.Resolver.Fallback,
		Concurrency: cfg.Resolver.Concurrency,
		Logger:      logger,
	})

	logger.Debug("loaded project",
		zap.String("pages", pagesDir),
		zap.String("base", baseDir),
		zap.Int("sources", len(cfg.Sources)))

	return &project{
		cfg:      cfg,
		baseDir:  baseDir,
		pagesDir: pagesDir,
		sources:  sources,
		cards:    cards,
		registry: registry,
		builder: &blockdown.Builder{
			Resolver: resolver,
			Parser:   blockdown.NewParser(blockdown.WithLogger(logger)),
			Logger:   logger,
		},
	}, nil
}

// Close releases the project's sources.
func (p *project) Close() error {
	return p.registry.Close()
}
