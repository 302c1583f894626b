package source

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/livetemplate/blockdown/internal/config"
	"go.uber.org/zap"
)

// RetryPolicy configures exponential backoff.
type RetryPolicy struct {
	MaxRetries int           // Attempts after the first (0 disables retries)
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Upper bound for any single delay
	Multiplier float64       // Backoff factor per attempt
}

// DefaultRetryPolicy returns 3 retries starting at 100ms, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicyFromConfig(nil)
}

// RetryPolicyFromConfig applies the config defaults to a possibly nil block.
func RetryPolicyFromConfig(c *config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: c.GetMaxRetries(),
		BaseDelay:  c.GetBaseDelay(),
		MaxDelay:   c.GetMaxDelay(),
		Multiplier: 2.0,
	}
}

// WithRetry calls fn until it succeeds, fails with a non-retryable error,
// or the policy is exhausted. Context cancellation aborts immediately.
func WithRetry[T any](ctx context.Context, logger *zap.Logger, name string, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug("fetch succeeded after retry", zap.String("source", name), zap.Int("attempt", attempt+1))
			}
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, err
		}

		if attempt < policy.MaxRetries {
			delay := backoff(attempt, policy)
			logger.Debug("fetch failed, retrying",
				zap.String("source", name),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}
	}

	logger.Warn("all fetch attempts failed", zap.String("source", name), zap.Int("attempts", policy.MaxRetries+1), zap.Error(lastErr))

	var sourceErr *SourceError
	if errors.As(lastErr, &sourceErr) {
		sourceErr.Retryable = false
		return zero, lastErr
	}
	return zero, &SourceError{Source: name, Operation: "fetch", Err: lastErr}
}

func shouldRetry(err error) bool {
	var sourceErr *SourceError
	if errors.As(err, &sourceErr) {
		return sourceErr.Retryable
	}

	var circuitErr *CircuitOpenError
	var validationErr *ValidationError
	var execErr *ExecDisabledError
	if errors.As(err, &circuitErr) || errors.As(err, &validationErr) || errors.As(err, &execErr) {
		return false
	}
	return isRetryableError(err)
}

// backoff returns BaseDelay*Multiplier^attempt capped at MaxDelay, with
// +/-20% jitter.
func backoff(attempt int, policy RetryPolicy) time.Duration {
	mult := policy.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(policy.BaseDelay) * math.Pow(mult, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	return time.Duration(delay * (0.8 + rand.Float64()*0.4))
}
