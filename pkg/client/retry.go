package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	slRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sl_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	slRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sl_retry_backoff_seconds",
		Help:    "Backoff duration before retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	slRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sl_retry_exhausted_total",
		Help: "Total number of calls that failed after using every retry attempt",
	})
)

// withRetry runs fn until it succeeds, fails with a non-transient error,
// the predicate declines, or call.Retries extra attempts are used up.
// The last error is returned unchanged.
func (c *Client) withRetry(ctx context.Context, path string, payload any, call CallConfig, fn func(ctx context.Context) error) error {
	maxAttempts := call.Retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := c.config.RetryBackoff

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Str("path", path).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		// Business, auth, admission and parse errors are final.
		if !IsTransient(err) {
			return err
		}

		if attempt >= maxAttempts {
			if maxAttempts > 1 {
				slRetryExhaustedTotal.Inc()
				c.logger.Error().
					Err(err).
					Str("path", path).
					Int("max_attempts", maxAttempts).
					Msg("Retry attempts exhausted")
			}
			return err
		}

		if call.ShouldRetry != nil && !call.ShouldRetry(ctx, path, payload, err, attempt) {
			return err
		}

		slRetriesTotal.WithLabelValues(string(ErrorClassTransient)).Inc()

		// Add jitter (±20% randomness)
		delay := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		slRetryBackoffSeconds.Observe(delay.Seconds())

		c.logger.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		backoff *= 2
		if c.config.MaxBackoff > 0 && backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
}
