// Package security validates outbound and embedded URLs.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedHost is wrapped by every rejection of an internal destination.
var ErrBlockedHost = errors.New("blocked host")

// URLPolicy decides which URLs the server may fetch.
type URLPolicy struct {
	// AllowPrivate permits loopback, private and link-local hosts.
	// Intended for local development against a dev backend.
	AllowPrivate bool
}

// CheckScheme parses rawURL and requires an http or https scheme with a host.
// It is used for URLs that are embedded (iframes, images) rather than fetched.
func CheckScheme(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("URL must have a host")
	}
	return parsed, nil
}

// Validate checks rawURL for SSRF: internal networks are rejected unless the
// policy allows them.
func (p URLPolicy) Validate(rawURL string) error {
	parsed, err := CheckScheme(rawURL)
	if err != nil {
		return err
	}
	if p.AllowPrivate {
		return nil
	}
	return checkHost(parsed.Hostname())
}

// ValidateHTTPURL applies the default (strict) policy.
func ValidateHTTPURL(rawURL string) error {
	return URLPolicy{}.Validate(rawURL)
}

func checkHost(host string) error {
	hostLower := strings.ToLower(host)
	if hostLower == "localhost" || hostLower == "localhost.localdomain" || strings.HasSuffix(hostLower, ".localhost") {
		return fmt.Errorf("%w: requests to localhost are not allowed", ErrBlockedHost)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostnames are not resolved here
		return nil
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: requests to loopback addresses are not allowed", ErrBlockedHost)
	case ip.IsPrivate():
		return fmt.Errorf("%w: requests to private network addresses are not allowed", ErrBlockedHost)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: requests to link-local addresses are not allowed", ErrBlockedHost)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: requests to unspecified addresses are not allowed", ErrBlockedHost)
	}
	return nil
}
