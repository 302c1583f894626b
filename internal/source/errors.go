package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// SourceError wraps a failure with the provider name and the step that failed.
type SourceError struct {
	Source    string // Provider or card name (e.g., "tps")
	Operation string // Step that failed (e.g., "request", "decode")
	Err       error
	Retryable bool
}

func (e *SourceError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("source %q %s failed: %v", e.Source, e.Operation, e.Err)
	}
	return fmt.Sprintf("source %q: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ConnectionError reports that the backend could not be reached.
type ConnectionError struct {
	Source  string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source %q: connection to %s failed: %v", e.Source, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Source    string
	Operation string
	Duration  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("source %q: %s timed out after %s", e.Source, e.Operation, e.Duration)
}

// ValidationError reports bad configuration or an undecodable payload.
type ValidationError struct {
	Source string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("source %q: invalid %s: %s", e.Source, e.Field, e.Reason)
	}
	return fmt.Sprintf("source %q: validation failed: %s", e.Source, e.Reason)
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	Source     string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("source %q: HTTP %d %s: %s", e.Source, e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("source %q: HTTP %d %s", e.Source, e.StatusCode, e.Status)
}

// IsRetryable returns true for 5xx and 429.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// CircuitOpenError is returned without calling the backend while its breaker is open.
type CircuitOpenError struct {
	Source string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("source %q: circuit breaker open, service temporarily unavailable", e.Source)
}

// ExecDisabledError is returned by exec sources unless --allow-exec was given.
type ExecDisabledError struct {
	Source string
}

func (e *ExecDisabledError) Error() string {
	return fmt.Sprintf("source %q: exec sources are disabled (run with --allow-exec)", e.Source)
}

// NewSourceError wraps err and classifies it as retryable or not.
func NewSourceError(source, operation string, err error) *SourceError {
	return &SourceError{
		Source:    source,
		Operation: operation,
		Err:       err,
		Retryable: isRetryableError(err),
	}
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"temporary failure",
	"try again",
	"service unavailable",
	"bad gateway",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// The caller gave up; retrying cannot help.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}

	var connErr *ConnectionError
	var timeoutErr *TimeoutError
	if errors.As(err, &connErr) || errors.As(err, &timeoutErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// UserFriendlyMessage turns a fetch error into text suitable for a card's
// error banner.
func UserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	var circuitErr *CircuitOpenError
	if errors.As(err, &circuitErr) {
		return "Service temporarily unavailable. Please try again later."
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401:
			return "Authentication required."
		case httpErr.StatusCode == 403:
			return "Access denied."
		case httpErr.StatusCode == 404:
			return "Resource not found."
		case httpErr.StatusCode == 429:
			return "Too many requests. Please slow down."
		case httpErr.StatusCode >= 500:
			return "Server error. Please try again later."
		default:
			return fmt.Sprintf("Request failed (HTTP %d).", httpErr.StatusCode)
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out. Please try again."
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return "Could not connect to data source. Please check your connection."
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return fmt.Sprintf("Invalid data: %s", validationErr.Reason)
	}

	var execErr *ExecDisabledError
	if errors.As(err, &execErr) {
		return "Command sources are disabled on this server."
	}

	return "Failed to load data. Please try again."
}
