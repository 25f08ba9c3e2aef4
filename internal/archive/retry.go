package archive

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/pkg/models"
)

// RetryConfig defines retry behavior for transient upstream failures.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry policy used against the public archive.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2,
	}
}

// withRetry runs fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done. Only upstream-unavailable errors
// are retried.
func withRetry[T any](ctx context.Context, cfg RetryConfig, operation string, fn func() (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().Str("operation", operation).Int("attempt", attempt).Msg("Upstream call succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		if !isRetryable(ctx, err) || attempt == attempts {
			break
		}

		delay := backoff(attempt, cfg)
		log.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("retry_delay", delay).
			Msg("Retrying upstream call")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, models.WrapError(models.KindUpstreamUnavailable, "request canceled", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return models.IsKind(err, models.KindUpstreamUnavailable)
}

// backoff computes the exponential delay for an attempt with 10% jitter.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	jitter := d * 0.1 * (2*rand.Float64() - 1)
	return time.Duration(d + jitter)
}
