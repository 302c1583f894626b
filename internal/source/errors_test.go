package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "source error with operation",
			err:  &SourceError{Source: "tps", Operation: "request", Err: errors.New("connection refused")},
			want: `source "tps" request failed: connection refused`,
		},
		{
			name: "source error without operation",
			err:  &SourceError{Source: "tps", Err: errors.New("boom")},
			want: `source "tps": boom`,
		},
		{
			name: "connection error",
			err:  &ConnectionError{Source: "db", Address: "db:5432", Err: errors.New("no route to host")},
			want: `source "db": connection to db:5432 failed: no route to host`,
		},
		{
			name: "timeout error",
			err:  &TimeoutError{Source: "api", Operation: "request", Duration: "10s"},
			want: `source "api": request timed out after 10s`,
		},
		{
			name: "validation error with field",
			err:  &ValidationError{Source: "api", Field: "url", Reason: "url is required"},
			want: `source "api": invalid url: url is required`,
		},
		{
			name: "http error with body",
			err:  &HTTPError{Source: "api", StatusCode: 503, Status: "Service Unavailable", Body: "down"},
			want: `source "api": HTTP 503 Service Unavailable: down`,
		},
		{
			name: "circuit open",
			err:  &CircuitOpenError{Source: "api"},
			want: `source "api": circuit breaker open, service temporarily unavailable`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"5xx", &HTTPError{StatusCode: 502}, true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"404", &HTTPError{StatusCode: 404}, false},
		{"connection", &ConnectionError{Err: errors.New("x")}, true},
		{"timeout", &TimeoutError{}, true},
		{"wrapped timeout", fmt.Errorf("outer: %w", &TimeoutError{}), true},
		{"canceled", context.Canceled, false},
		{"transient message", errors.New("dial tcp: connection refused"), true},
		{"permanent message", errors.New("invalid character"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestUserFriendlyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"circuit", &CircuitOpenError{}, "Service temporarily unavailable. Please try again later."},
		{"401", &HTTPError{StatusCode: 401}, "Authentication required."},
		{"404", &HTTPError{StatusCode: 404}, "Resource not found."},
		{"500", &HTTPError{StatusCode: 500}, "Server error. Please try again later."},
		{"418", &HTTPError{StatusCode: 418}, "Request failed (HTTP 418)."},
		{"timeout", &TimeoutError{}, "Request timed out. Please try again."},
		{"deadline", context.DeadlineExceeded, "Request timed out. Please try again."},
		{"validation", &ValidationError{Reason: "bad json"}, "Invalid data: bad json"},
		{"exec disabled", &ExecDisabledError{Source: "x"}, "Command sources are disabled on this server."},
		{"wrapped", &SourceError{Err: &HTTPError{StatusCode: 403}}, "Access denied."},
		{"generic", errors.New("?"), "Failed to load data. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserFriendlyMessage(tt.err))
		})
	}
}
