package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := WithRetry(context.Background(), zap.NewNop(), "api", fastPolicy(3), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, &HTTPError{StatusCode: 503}
		}
		return map[string]any{"ok": true}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, got)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), zap.NewNop(), "api", fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 404}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var httpErr *HTTPError
	assert.True(t, errors.As(err, &httpErr))
}

func TestWithRetryExhaustion(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), zap.NewNop(), "api", fastPolicy(2), func(ctx context.Context) (any, error) {
		calls++
		return nil, &ConnectionError{Source: "api", Address: "api:443", Err: errors.New("refused")}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.False(t, srcErr.Retryable, "exhausted errors are no longer retryable")
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}

	calls := 0
	_, err := WithRetry(ctx, zap.NewNop(), "api", policy, func(ctx context.Context) (any, error) {
		calls++
		cancel()
		return nil, &HTTPError{StatusCode: 500}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffBounds(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	for attempt := 0; attempt < 8; attempt++ {
		d := backoff(attempt, policy)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestRetryPolicyFromConfigDefaults(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 5*time.Second, p.MaxDelay)
}
