package server

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/assets"
	"github.com/livetemplate/blockdown/internal/dotpath"
	"github.com/livetemplate/blockdown/internal/source"
	"go.uber.org/zap"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// pageSummary describes a page in listings.
type pageSummary struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ShowInMenu  bool   `json:"showInMenu"`
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	docs := s.pages.List()
	out := make([]pageSummary, 0, len(docs))
	for _, doc := range docs {
		out = append(out, pageSummary{
			Slug:        doc.Slug(),
			Title:       doc.Title,
			Description: doc.Description,
			ShowInMenu:  doc.ShowInMenu == nil || *doc.ShowInMenu,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out})
}

func (s *Server) handlePageJSON(w http.ResponseWriter, r *http.Request) {
	page, status, err := s.buildPage(r, chi.URLParam(r, "slug"))
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleCards evaluates every card of a page once, with the query
// parameters applied as dropdown selections.
func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	page, status, err := s.buildPage(r, slug)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	session := s.newSession(page)
	if err := applySelections(session, r.URL.Query()); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	snaps := session.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"page":  slug,
		"state": session.Store().Snapshot(),
		"cards": snaps,
	})
}

// handlePreview builds a page from the request body without saving it.
// The format query parameter selects the decoder (default md).
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	doc, err := blockdown.ParseDocument("preview."+format, data)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.builder.Build(r.Context(), doc, queryVars(r.URL.Query()))
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.registry.Names()})
}

// handleSource fetches a source's document. An optional path query
// parameter selects part of it.
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	src, ok := s.registry.Get(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "source not found: "+name)
		return
	}

	doc, err := src.Fetch(r.Context())
	if err != nil {
		s.logger.Warn("source fetch failed", zap.String("source", name), zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, source.UserFriendlyMessage(err))
		return
	}
	if path := r.URL.Query().Get("path"); path != "" {
		v, ok := dotpath.Lookup(doc, path)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "path not found: "+path)
			return
		}
		doc = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "data": doc})
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}
	data, err := fs.ReadFile(assets.ClientFS(), name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("failed to read asset", zap.String("asset", name), zap.Error(err))
		}
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", assets.ContentType(name))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}
