package providers

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig defines retry behavior for transient cloud API failures such
// as throttling. It never applies to SSH connects, which are not retried.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Retry runs op until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error, retryable func(error) bool) error {
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == cfg.MaxRetries {
			return err
		}
		delay := cfg.delay(attempt)
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("delay", delay).
			Msg("provider call failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// delay calculates exponential backoff delay with jitter
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))

	// ±25% jitter
	d += d * 0.25 * (2*rand.Float64() - 1)

	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}
