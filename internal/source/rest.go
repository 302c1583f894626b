package source

import (
	"context"
	"os"

	"github.com/livetemplate/blockdown/internal/config"
	"go.uber.org/zap"
)

// RestSource fetches a JSON document from a fixed endpoint.
type RestSource struct {
	name    string
	url     string
	fetcher *HTTPFetcher
}

// NewRestSource creates a REST source. The URL has environment variables
// expanded. When the source sets its own timeout, retry or headers, it gets a
// dedicated fetcher; otherwise the shared one is used.
func NewRestSource(name string, cfg config.SourceConfig, shared *HTTPFetcher) (*RestSource, error) {
	if cfg.URL == "" {
		return nil, &ValidationError{Source: name, Field: "url", Reason: "url is required"}
	}

	fetcher := shared
	if fetcher == nil || cfg.Timeout != "" || cfg.Retry != nil || len(cfg.Headers) > 0 {
		opts := FetcherOptions{Logger: zap.NewNop()}
		if shared != nil {
			opts = shared.opts
			opts.Cache = nil
		}
		if cfg.Timeout != "" {
			opts.Timeout = cfg.GetTimeout()
		}
		if cfg.Retry != nil {
			opts.Retry = RetryPolicyFromConfig(cfg.Retry)
		}
		if len(cfg.Headers) > 0 {
			merged := make(map[string]string, len(opts.Headers)+len(cfg.Headers))
			for k, v := range opts.Headers {
				merged[k] = v
			}
			for k, v := range cfg.Headers {
				merged[k] = v
			}
			opts.Headers = merged
		}
		fetcher = NewHTTPFetcher(opts)
	}

	return &RestSource{
		name:    name,
		url:     os.ExpandEnv(cfg.URL),
		fetcher: fetcher,
	}, nil
}

func (s *RestSource) Name() string { return s.name }

// Fetch GETs the endpoint and returns the decoded body.
func (s *RestSource) Fetch(ctx context.Context) (any, error) {
	return s.fetcher.FetchJSON(ctx, s.url)
}

func (s *RestSource) Close() error { return nil }
