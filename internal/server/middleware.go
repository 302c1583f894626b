package server

import (
	"container/list"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SecurityHeaders adds security headers to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// connect-src 'self' covers the same-origin card socket. Card data
		// URLs are fetched by the server, never the browser, except table
		// rows and dropdown options loaded from their own URLs.
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self'; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data: https:; "+
				"frame-src https:; "+
				"connect-src 'self' https:; "+
				"frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request at Debug, or Warn for 5xx.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}

const (
	// evictionLogInterval is the minimum time between eviction log messages.
	evictionLogInterval = 30 * time.Second
	limiterIdleTTL      = 10 * time.Minute
	limiterSweepEvery   = 5 * time.Minute
	defaultMaxIPs       = 10000
)

type ipLimiter struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token bucket. At most maxIPs addresses are
// tracked; a new address evicts the least recently seen one.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	maxIPs int
	logger *zap.Logger

	mu           sync.Mutex
	items        map[string]*list.Element
	order        *list.List // front = most recent
	lastEvictLog time.Time
	evictCount   int
}

// NewRateLimiter creates a limiter. maxIPs <= 0 selects the default.
func NewRateLimiter(rps float64, burst, maxIPs int, logger *zap.Logger) *RateLimiter {
	if maxIPs <= 0 {
		maxIPs = defaultMaxIPs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		rps:    rate.Limit(rps),
		burst:  burst,
		maxIPs: maxIPs,
		logger: logger.Named("ratelimit"),
		items:  make(map[string]*list.Element),
		order:  list.New(),
	}
}

// Allow reports whether ip may make a request now.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elem, ok := l.items[ip]
	if ok {
		l.order.MoveToFront(elem)
		elem.Value.(*ipLimiter).lastSeen = now
	} else {
		if l.order.Len() >= l.maxIPs {
			l.evictOldest(now)
		}
		elem = l.order.PushFront(&ipLimiter{
			ip:       ip,
			limiter:  rate.NewLimiter(l.rps, l.burst),
			lastSeen: now,
		})
		l.items[ip] = elem
	}
	return elem.Value.(*ipLimiter).limiter.Allow()
}

func (l *RateLimiter) evictOldest(now time.Time) {
	back := l.order.Back()
	if back == nil {
		return
	}
	l.order.Remove(back)
	delete(l.items, back.Value.(*ipLimiter).ip)
	l.evictCount++
	if now.Sub(l.lastEvictLog) >= evictionLogInterval {
		l.logger.Info("evicted least recent addresses",
			zap.Int("evicted", l.evictCount),
			zap.Int("capacity", l.maxIPs))
		l.lastEvictLog = now
		l.evictCount = 0
	}
}

// Len returns the number of tracked addresses.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Sweep drops addresses idle for longer than ttl.
func (l *RateLimiter) Sweep(now time.Time, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// LRU order tracks access recency, so a full scan is needed.
	for e := l.order.Back(); e != nil; {
		prev := e.Prev()
		if lim := e.Value.(*ipLimiter); now.Sub(lim.lastSeen) > ttl {
			l.order.Remove(e)
			delete(l.items, lim.ip)
		}
		e = prev
	}
}

// Run sweeps idle addresses until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.Sweep(now, limiterIdleTTL)
		case <-ctx.Done():
			return
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request.
// It only trusts X-Forwarded-For / X-Real-IP when the immediate peer is a
// loopback or private address (i.e., behind a reverse proxy).
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	if peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate()) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}

// secureCompare performs a constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
