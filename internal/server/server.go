// Package server serves pages over HTTP and keeps their live-metric cards
// current over one WebSocket per viewer.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/config"
	"github.com/livetemplate/blockdown/internal/render"
	"github.com/livetemplate/blockdown/internal/source"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Config   *config.Config
	Pages    *PageStore
	Builder  *blockdown.Builder
	Fetcher  source.Fetcher   // Card data; nil leaves cards waiting
	Registry *source.Registry // nil disables the source routes and webhooks
	Renderer *render.Renderer
	Logger   *zap.Logger
}

// Server serves the pages of one directory.
type Server struct {
	cfg      *config.Config
	pages    *PageStore
	builder  *blockdown.Builder
	fetcher  source.Fetcher
	registry *source.Registry
	renderer *render.Renderer
	logger   *zap.Logger
	hub      *hub
	limiter  *RateLimiter

	watchMu sync.Mutex
	watcher *Watcher
}

// New creates a server. Pages must be set; other options default.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	// The page a browser renders and the session its socket opens are
	// separate builds; their block ids must agree.
	builder := blockdown.Builder{Logger: opts.Logger}
	if opts.Builder != nil {
		builder = *opts.Builder
	}
	builder.StableIDs = true
	if opts.Renderer == nil {
		opts.Renderer = render.New(render.WithLogger(opts.Logger))
	}
	logger := opts.Logger.Named("server")
	rl := opts.Config.RateLimit
	return &Server{
		cfg:      opts.Config,
		pages:    opts.Pages,
		builder:  &builder,
		fetcher:  opts.Fetcher,
		registry: opts.Registry,
		renderer: opts.Renderer,
		logger:   logger,
		hub:      newHub(),
		limiter:  NewRateLimiter(rl.GetRequestsPerSecond(), rl.GetBurst(), 0, logger),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Get("/assets/{name}", s.serveAsset)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Use(Compress)

		r.Get("/", s.handleIndex)
		r.Get("/pages/{slug}", s.handlePage)
		r.Get("/ws/pages/{slug}", s.serveWebSocket)

		r.Route("/api", func(r chi.Router) {
			r.Get("/pages", s.handleListPages)
			r.Get("/pages/{slug}", s.handlePageJSON)
			r.Get("/pages/{slug}/cards", s.handleCards)
			r.Post("/preview", s.handlePreview)
			if s.registry != nil {
				r.Get("/sources", s.handleListSources)
				r.Get("/sources/{name}", s.handleSource)
			}
		})

		if s.registry != nil {
			r.Post("/webhook/sources", s.handleWebhook)
			r.Post("/webhook/sources/{name}", s.handleWebhook)
		}
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully: live sessions are closed and the watcher stopped.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	go s.limiter.Run(limiterCtx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr), zap.Int("pages", s.pages.Len()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.hub.closeAll()
	if err := s.StopWatch(); err != nil {
		s.logger.Warn("failed to stop watcher", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// EnableWatch reloads changed pages and asks their viewers to reload.
func (s *Server) EnableWatch() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}
	w, err := NewWatcher(s.pages.Dir(), s.onPageChange, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = w
	w.Start()
	s.logger.Info("watching pages", zap.String("dir", s.pages.Dir()))
	return nil
}

// StopWatch stops the file watcher if it's running.
func (s *Server) StopWatch() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Stop()
	s.watcher = nil
	return err
}

func (s *Server) onPageChange(path string) {
	slug, err := s.pages.Reload(path)
	if err != nil {
		s.logger.Warn("failed to reload page", zap.String("file", path), zap.Error(err))
		return
	}
	if slug == "" {
		return
	}
	s.logger.Info("page reloaded", zap.String("page", slug))
	s.BroadcastReload(slug)
}

// buildPage resolves and parses the page for slug with the request's
// query parameters as placeholder values. status is the HTTP status to
// report with a non-nil error.
func (s *Server) buildPage(r *http.Request, slug string) (*blockdown.Page, int, error) {
	doc, ok := s.pages.Get(slug)
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("page not found: %s", slug)
	}
	page, err := s.builder.Build(r.Context(), doc, queryVars(r.URL.Query()))
	if err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	return page, http.StatusOK, nil
}

func (s *Server) newSession(page *blockdown.Page) *blockdown.Session {
	return blockdown.NewSession(page, blockdown.SessionOptions{
		Fetcher: s.fetcher,
		Logger:  s.logger,
	})
}

// queryVars keeps the first value of each parameter.
func queryVars(q url.Values) map[string]string {
	if len(q) == 0 {
		return nil
	}
	vars := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			vars[k] = v[0]
		}
	}
	return vars
}

// applySelections writes query parameters naming a dropdown's state key
// into the session. Other parameters are ignored.
func applySelections(session *blockdown.Session, q url.Values) error {
	for key, vals := range q {
		if _, ok := session.Store().Owner(key); !ok || len(vals) == 0 {
			continue
		}
		if err := session.SelectKey(key, vals[0]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"pages":    s.pages.Len(),
		"sessions": s.hub.len(),
	})
}

func (s *Server) nav(active string) []render.NavEntry {
	docs := s.pages.List()
	out := make([]render.NavEntry, 0, len(docs))
	for _, doc := range docs {
		if doc.ShowInMenu != nil && !*doc.ShowInMenu {
			continue
		}
		title := doc.Title
		if title == "" {
			title = doc.Slug()
		}
		out = append(out, render.NavEntry{
			Title:       title,
			Description: doc.Description,
			Href:        "/pages/" + url.PathEscape(doc.Slug()),
			Active:      doc.Slug() == active,
		})
	}
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.pages.Get("index"); ok {
		s.servePage(w, r, "index")
		return
	}
	var buf bytes.Buffer
	if err := s.renderer.Index(&buf, s.cfg.Title, s.nav("")); err != nil {
		s.logger.Error("failed to render index", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, chi.URLParam(r, "slug"))
}

// servePage renders a page with its dropdowns showing the request's
// selections and its cards as placeholders. The browser script then opens
// the page's socket, which fills the cards.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, slug string) {
	page, status, err := s.buildPage(r, slug)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	session := s.newSession(page)
	if err := applySelections(session, r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	err = s.renderer.Page(&buf, page, render.ViewOf(nil, session.Store().Snapshot()), render.PageOptions{
		Nav:       s.nav(slug),
		SocketURL: "/ws/pages/" + url.PathEscape(slug),
	})
	if err != nil {
		s.logger.Error("failed to render page", zap.String("page", slug), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
