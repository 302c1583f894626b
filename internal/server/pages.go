package server

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/config"
	"go.uber.org/zap"
)

// PageStore holds the documents found under a directory, keyed by slug.
type PageStore struct {
	dir    string
	logger *zap.Logger

	mu   sync.RWMutex
	docs map[string]*blockdown.Document
}

// NewPageStore creates an empty store for dir.
func NewPageStore(dir string, logger *zap.Logger) *PageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageStore{
		dir:    dir,
		logger: logger.Named("pages"),
		docs:   make(map[string]*blockdown.Document),
	}
}

// Dir returns the directory the store reads.
func (s *PageStore) Dir() string { return s.dir }

// skipDir reports whether a directory is hidden from discovery.
func skipDir(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

func isPagePath(path string) bool {
	return blockdown.IsPageFile(path) && !config.IsConfigFile(path)
}

// Discover replaces the store's contents with every page file under the
// directory. Files that fail to load are logged and skipped; the first
// file found for a slug keeps it.
func (s *PageStore) Discover() error {
	docs := make(map[string]*blockdown.Document)
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isPagePath(path) {
			return nil
		}

		doc, err := blockdown.LoadPage(path)
		if err != nil {
			s.logger.Warn("skipping page", zap.String("file", path), zap.Error(err))
			return nil
		}
		if prev, ok := docs[doc.Slug()]; ok {
			s.logger.Warn("duplicate page slug",
				zap.String("slug", doc.Slug()),
				zap.String("kept", prev.File),
				zap.String("skipped", path))
			return nil
		}
		docs[doc.Slug()] = doc
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to discover pages in %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()
	s.logger.Info("discovered pages", zap.Int("count", len(docs)))
	return nil
}

// Reload re-reads one file after a change and returns the affected slug.
// A removed file drops its page.
func (s *PageStore) Reload(path string) (string, error) {
	doc, err := blockdown.LoadPage(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.remove(path), nil
		}
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.docs[doc.Slug()]; ok && !samePath(prev.File, path) {
		return "", fmt.Errorf("slug %q already belongs to %s", doc.Slug(), prev.File)
	}
	s.docs[doc.Slug()] = doc
	return doc.Slug(), nil
}

func (s *PageStore) remove(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug, doc := range s.docs {
		if samePath(doc.File, path) {
			delete(s.docs, slug)
			return slug
		}
	}
	return ""
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// Get returns the document for slug.
func (s *PageStore) Get(slug string) (*blockdown.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[slug]
	return doc, ok
}

// List returns every document, "index" first and the rest by title.
func (s *PageStore) List() []*blockdown.Document {
	s.mu.RLock()
	out := make([]*blockdown.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Slug() == "index") != (b.Slug() == "index") {
			return a.Slug() == "index"
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.Slug() < b.Slug()
	})
	return out
}

// Len returns the number of pages.
func (s *PageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

