package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/livetemplate/blockdown/internal/cache"
	"github.com/livetemplate/blockdown/internal/config"
	"github.com/livetemplate/blockdown/internal/security"
	"go.uber.org/zap"
)

// MaxResponseSize bounds how much of a response body is read.
const MaxResponseSize = 10 * 1024 * 1024

// Fetcher retrieves and decodes a JSON document.
type Fetcher interface {
	FetchJSON(ctx context.Context, rawURL string) (any, error)
}

// FetcherOptions configures an HTTPFetcher.
type FetcherOptions struct {
	Timeout  time.Duration
	Retry    RetryPolicy
	Circuit  CircuitBreakerConfig
	Headers  map[string]string // Values are expanded with os.ExpandEnv
	Policy   security.URLPolicy
	Cache    cache.Cache // Optional response cache keyed by URL
	CacheTTL time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// FetcherOptionsFromConfig maps the fetch section of the config file.
func FetcherOptionsFromConfig(c config.FetchConfig) FetcherOptions {
	return FetcherOptions{
		Timeout:  c.GetTimeout(),
		Retry:    RetryPolicyFromConfig(c.Retry),
		Circuit:  DefaultCircuitBreakerConfig(),
		Headers:  c.Headers,
		Policy:   security.URLPolicy{AllowPrivate: c.AllowPrivate},
		CacheTTL: c.Cache.GetTTL(),
	}
}

// HTTPFetcher performs GET requests with SSRF checks, retry with backoff,
// a circuit breaker per host, and an optional TTL cache.
type HTTPFetcher struct {
	opts     FetcherOptions
	client   *http.Client
	breakers *BreakerSet
	logger   *zap.Logger
}

// NewHTTPFetcher creates a fetcher. A zero Retry policy disables retries.
func NewHTTPFetcher(opts FetcherOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = config.FetchConfig{}.GetTimeout()
	}
	if opts.Circuit.FailureThreshold <= 0 {
		opts.Circuit = DefaultCircuitBreakerConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("fetch")

	client := opts.Client
	if client == nil {
		policy := opts.Policy
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("stopped after 5 redirects")
				}
				return policy.Validate(req.URL.String())
			},
		}
	}

	return &HTTPFetcher{
		opts:     opts,
		client:   client,
		breakers: NewBreakerSet(opts.Circuit, logger),
		logger:   logger,
	}
}

// FetchJSON GETs rawURL and decodes the body as JSON.
func (f *HTTPFetcher) FetchJSON(ctx context.Context, rawURL string) (any, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ValidationError{Source: rawURL, Field: "url", Reason: err.Error()}
	}
	host := parsed.Host
	if err := f.opts.Policy.Validate(rawURL); err != nil {
		return nil, &ValidationError{Source: host, Field: "url", Reason: err.Error()}
	}

	useCache := f.opts.Cache != nil && f.opts.CacheTTL > 0
	cacheKey := "url:" + rawURL
	if useCache {
		if doc, found, _ := f.opts.Cache.Get(cacheKey); found {
			return doc, nil
		}
	}

	doc, err := f.breakers.For(host).Execute(ctx, func(ctx context.Context) (any, error) {
		return WithRetry(ctx, f.logger, host, f.opts.Retry, func(ctx context.Context) (any, error) {
			return f.get(ctx, host, rawURL)
		})
	})
	if err != nil {
		return nil, err
	}

	if useCache {
		f.opts.Cache.Set(cacheKey, doc, f.opts.CacheTTL)
	}
	return doc, nil
}

func (f *HTTPFetcher) get(ctx context.Context, name, rawURL string) (any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range f.opts.Headers {
		req.Header.Set(key, os.ExpandEnv(value))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Our own deadline fired, not the caller's.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Source: name, Operation: "request", Duration: f.opts.Timeout.String()}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewSourceError(name, "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{
			Source:     name,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, NewSourceError(name, "read response", err)
	}
	if len(body) > MaxResponseSize {
		return nil, &ValidationError{Source: name, Reason: fmt.Sprintf("response exceeds %d bytes", MaxResponseSize)}
	}
	return decodeJSON(name, body)
}

// decodeJSON decodes a single JSON document into generic maps and slices.
func decodeJSON(name string, data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &ValidationError{Source: name, Reason: "empty response"}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Source: name, Reason: "could not parse response as JSON"}
	}
	return doc, nil
}
