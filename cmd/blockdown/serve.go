package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/livetemplate/blockdown/internal/render"
	"github.com/livetemplate/blockdown/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port  int
		host  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Serve the pages in a directory",
		Long: `Serves every page document under the directory. Live-metric cards
are updated over a WebSocket per viewer.

Examples:
  blockdown serve                  # Serve current directory
  blockdown serve ./dashboards -w  # Reload pages on change
  blockdown serve --port 9000`,
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
			defer func() {
				if err := p.Close(); err != nil {
					a.logger.Warn("failed to close sources", zap.Error(err))
				}
			}()

			// Flags override the config file.
			if cmd.Flags().Changed("port") {
				p.cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				p.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("watch") {
				p.cfg.Pages.Watch = watch
			}

			pages := server.NewPageStore(p.pagesDir, a.logger)
			if err := pages.Discover(); err != nil {
				return fmt.Errorf("failed to discover pages: %w", err)
			}

			srv := server.New(server.Options{
				Config:   p.cfg,
				Pages:    pages,
				Builder:  p.builder,
				Fetcher:  p.cards,
				Registry: p.registry,
				Renderer: render.New(render.WithLogger(a.logger)),
				Logger:   a.logger,
			})
			if p.cfg.Pages.Watch {
				if err := srv.EnableWatch(); err != nil {
					return fmt.Errorf("failed to enable watch mode: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := net.JoinHostPort(p.cfg.Server.Host, strconv.Itoa(p.cfg.Server.Port))
			fmt.Fprintf(a.out, "Serving %d pages from %s\n", pages.Len(), p.pagesDir)
			fmt.Fprintf(a.out, "Listening on http://%s\n", addr)
			if p.cfg.Pages.Watch {
				fmt.Fprintln(a.out, "Watching for changes")
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&host, "host", "localhost", "Host to bind")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload pages when their files change")
	return cmd
}
