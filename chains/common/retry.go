// Package common holds chain-agnostic helpers shared by chain clients.
package common

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/errors"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int              // Maximum number of retry attempts
	InitialDelay   time.Duration    // Initial delay between retries
	MaxDelay       time.Duration    // Maximum delay between retries
	BackoffFactor  float64          // Exponential backoff factor (e.g., 2.0)
	RetryableError func(error) bool // Function to determine if error is retryable
}

// DefaultRetryConfig returns the default configuration: read-path RPC and
// timeout faults retry with exponential backoff, everything else fails
// immediately. Funds-moving calls must never be wrapped in a retry.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       15 * time.Second,
		BackoffFactor:  2.0,
		RetryableError: errors.IsRetryable,
	}
}

// RetryManager handles retry logic with exponential backoff
type RetryManager struct {
	config *RetryConfig
	logger zerolog.Logger
}

// NewRetryManager creates a new retry manager
func NewRetryManager(config *RetryConfig, logger zerolog.Logger) *RetryManager {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryManager{
		config: config,
		logger: logger.With().Str("component", "retry_manager").Logger(),
	}
}

// ExecuteWithRetry executes a function with retry logic
func (r *RetryManager) ExecuteWithRetry(
	ctx context.Context,
	operation string,
	fn func() error,
) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt+1).
					Msg("operation succeeded after retries")
			}
			return nil
		}

		lastErr = err

		if !r.config.RetryableError(err) {
			return err
		}

		if attempt >= r.config.MaxRetries {
			break
		}

		r.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("operation failed, retrying")

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * r.config.BackoffFactor)
			if delay > r.config.MaxDelay {
				delay = r.config.MaxDelay
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
