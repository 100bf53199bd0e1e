package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxAttempts is the number of retries after the first failed attempt.
const DefaultMaxAttempts = 5

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// ConnectConfig returns the backoff used while establishing a warehouse session.
// Attempt n waits 2^n seconds before running.
func ConnectConfig(maxAttempts int) *Config {
	return &Config{
		MaxRetries:   maxAttempts,
		InitialDelay: 2 * time.Second,
		Multiplier:   2.0,
	}
}

func (c *Config) nextDelay(delay time.Duration) time.Duration {
	return time.Duration(float64(delay) * c.Multiplier)
}

// retryablePatterns are lower-cased fragments of transient connect failures.
// The Snowflake ODBC driver reports a failed REST login request as the ODBC
// general error S1000, so it comes first.
var retryablePatterns = []string{
	"s1000",
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"temporary failure",
	"network is unreachable",
	"service unavailable",
	"too many requests",
}

// IsRetryable determines if a connect error is transient and worth retrying.
// Permanent failures (bad credentials, missing driver, missing objects) are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// DoIfRetryable only retries if the error is transient.
// For permanent errors it returns immediately.
// Respects context cancellation during wait periods.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = ConnectConfig(DefaultMaxAttempts)
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(delay):
				delay = cfg.nextDelay(delay)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
