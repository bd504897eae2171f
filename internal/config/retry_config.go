// Package config defines retry configuration.
package config

import (
	"time"
)

// RetryConfig holds the exponential backoff policy for the ingestion worker's
// OLTP click-delta flush, a call that is allowed to retry locally (see the
// TransientDependency error kind).
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int
	// InitialDelay is the initial delay before first retry
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier
	Multiplier float64
	// Jitter adds randomness to prevent thundering herd
	Jitter bool
}

// GetRetryConfig returns the retry configuration.
func (c Config) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   c.RetryMaxRetries,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryJitter,
	}
}
