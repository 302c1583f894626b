package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/render"
	"github.com/livetemplate/blockdown/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// exportConcurrency bounds the pages built at once by export.
const exportConcurrency = 4

// buildFile loads and builds one page file. Placeholders are resolved only
// when resolve is set.
func (a *app) buildFile(ctx context.Context, path string, resolve bool, vars map[string]string) (*blockdown.Page, error) {
	doc, err := blockdown.LoadPage(path)
	if err != nil {
		return nil, err
	}
	builder := &blockdown.Builder{
		Parser: blockdown.NewParser(blockdown.WithLogger(a.logger)),
		Logger: a.logger,
	}
	if resolve {
		p, err := a.loadProject(path)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		builder = p.builder
	}
	return builder.Build(ctx, doc, vars)
}

func newParseCmd(a *app) *cobra.Command {
	var (
		resolve bool
		vars    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Print the blocks of a page as JSON",
		Long: `Parses a page document and prints the page as JSON. Segments the
parser drops are listed under "diagnostics".

Examples:
  blockdown parse network.md
  blockdown parse network.md --resolve --var chain=base`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.buildFile(cmd.Context(), args[0], resolve || len(vars) > 0, vars)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "Substitute {{placeholders}} before parsing")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "Placeholder value (key=value, repeatable)")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	var vars map[string]string
	cmd := &cobra.Command{
		Use:   "resolve <file>",
		Short: "Print a page's content with {{placeholders}} substituted",
		Long: `Substitutes placeholders from the configured sources and prints the
resulting content segments, separated by blank lines. Live-metric
fences are printed unchanged; their placeholders are filled per card.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.buildFile(cmd.Context(), args[0], true, vars)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, strings.Join(page.Resolved, "\n\n"))
			return err
		},
	}
	cmd.Flags().StringToStringVar(&vars, "var", nil, "Placeholder value (key=value, repeatable)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export [directory]",
		Short: "Render every page to static HTML",
		Long: `Builds every page, evaluates its live-metric cards once and writes
<slug>.html to the output directory, with index.html listing the pages.
Exported pages do not update.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			p, err := a.loadProject(dir)
			if err != nil {
				return err
			}
			defer p.Close()

			pages := server.NewPageStore(p.pagesDir, a.logger)
			if err := pages.Discover(); err != nil {
				return fmt.Errorf("failed to discover pages: %w", err)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			n, err := a.export(cmd.Context(), p, pages, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Exported %d pages to %s\n", n, outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", "dist", "Output directory")
	return cmd
}

func (a *app) export(ctx context.Context, p *project, pages *server.PageStore, outDir string) (int, error) {
	docs := pages.List()
	renderer := render.New(render.WithLogger(a.logger))

	nav := make([]render.NavEntry, 0, len(docs))
	hasIndex := false
	for _, doc := range docs {
		if doc.Slug() == "index" {
			hasIndex = true
		}
		if doc.ShowInMenu != nil && !*doc.ShowInMenu {
			continue
		}
		title := doc.Title
		if title == "" {
			title = doc.Slug()
		}
		nav = append(nav, render.NavEntry{Title: title, Description: doc.Description, Href: doc.Slug() + ".html"})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for _, doc := range docs {
		g.Go(func() error {
			page, err := p.builder.Build(gctx, doc, nil)
			if err != nil {
				return err
			}
			session := blockdown.NewSession(page, blockdown.SessionOptions{Fetcher: p.cards, Logger: a.logger})
			snaps := session.Refresh(gctx)

			pageNav := make([]render.NavEntry, len(nav))
			copy(pageNav, nav)
			for i := range pageNav {
				pageNav[i].Active = pageNav[i].Href == page.Slug+".html"
			}

			var buf bytes.Buffer
			view := render.ViewOf(snaps, session.Store().Snapshot())
			if err := renderer.Page(&buf, page, view, render.PageOptions{Nav: pageNav}); err != nil {
				return fmt.Errorf("%s: %w", doc.File, err)
			}
			a.logger.Debug("exported page", zap.String("page", page.Slug), zap.Int("cards", len(snaps)))
			return os.WriteFile(filepath.Join(outDir, page.Slug+".html"), buf.Bytes(), 0o644)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if !hasIndex {
		var buf bytes.Buffer
		if err := renderer.Index(&buf, p.cfg.Title, nav); err != nil {
			return 0, err
		}
		if err := os.WriteFile(filepath.Join(outDir, "index.html"), buf.Bytes(), 0o644); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}
