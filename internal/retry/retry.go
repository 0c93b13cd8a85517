// Package retry provides the shared retry policy used by the token
// refresher and episode reprocessing.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrTerminal wraps errors that must not be retried. The caller decides
// what terminal means (for credentials it is an invalid grant).
var ErrTerminal = errors.New("terminal failure")

// Policy configures backoff retry behavior.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
}

// DefaultPolicy returns sensible defaults for network-facing operations.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		MaxAttempts:  3,
		Multiplier:   2.0,
	}
}

// Do executes fn with backoff retry. An error wrapping ErrTerminal stops
// retrying immediately and is returned as-is.
func Do(ctx context.Context, name string, p Policy, fn func() error, logger *zerolog.Logger) error {
	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Str("operation", name).Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if errors.Is(err, ErrTerminal) {
			logger.Error().Err(err).Str("operation", name).Msg("terminal error, not retrying")
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("maxAttempts", p.MaxAttempts).
			Dur("nextRetryIn", delay).
			Msg("operation failed, will retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		next := time.Duration(float64(delay) * p.Multiplier)
		if next > p.MaxDelay {
			next = p.MaxDelay
		}
		delay = next
	}

	logger.Error().Err(lastErr).Str("operation", name).Int("attempts", p.MaxAttempts).
		Msg("operation failed after all retries")
	return lastErr
}
