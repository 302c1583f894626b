package source

import (
	"context"
	"sync"
	"time"

	"github.com/livetemplate/blockdown/internal/cache"
	"github.com/livetemplate/blockdown/internal/config"
	"go.uber.org/zap"
)

// CachedSource wraps a Source with a TTL cache. With the
// stale-while-revalidate strategy, a stale document is served immediately
// while a single background fetch refreshes it.
type CachedSource struct {
	inner  Source
	cache  cache.Cache
	ttl    time.Duration
	swr    bool
	logger *zap.Logger

	mu           sync.Mutex
	revalidating bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCachedSource wraps inner using the cache settings in cfg.
func NewCachedSource(inner Source, c cache.Cache, cfg config.SourceConfig, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CachedSource{
		inner:  inner,
		cache:  c,
		ttl:    cfg.GetCacheTTL(),
		swr:    cfg.Cache.IsStaleWhileRevalidate(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *CachedSource) Name() string { return s.inner.Name() }

// Fetch serves from cache when possible.
func (s *CachedSource) Fetch(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, found, stale := s.cache.Get(s.key())
	if found {
		if stale && s.swr {
			s.revalidate()
		}
		return doc, nil
	}
	return s.fetchAndStore(ctx)
}

func (s *CachedSource) fetchAndStore(ctx context.Context) (any, error) {
	doc, err := s.inner.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.swr {
		// Fresh for the first half of the TTL, stale-but-served for the rest.
		s.cache.SetWithStale(s.key(), doc, s.ttl/2, s.ttl)
	} else {
		s.cache.Set(s.key(), doc, s.ttl)
	}
	return doc, nil
}

func (s *CachedSource) revalidate() {
	s.mu.Lock()
	if s.revalidating || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.revalidating = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.revalidating = false
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()

		if _, err := s.fetchAndStore(ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("background revalidation failed", zap.String("source", s.Name()), zap.Error(err))
		}
	}()
}

func (s *CachedSource) key() string {
	return "source:" + s.inner.Name()
}

// Invalidate drops the cached document.
func (s *CachedSource) Invalidate() {
	s.cache.Invalidate(s.key())
}

// Close cancels and waits for any background revalidation, then closes the
// inner source.
func (s *CachedSource) Close() error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	return s.inner.Close()
}
