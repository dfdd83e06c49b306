package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Retry defaults.
const (
	defaultMaxRetries  = 5
	defaultInitBackoff = time.Second
	defaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
)

// RetryConfig holds retry settings for provider calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries"`  // max retry attempts (default 5)
	InitBackoff time.Duration `json:"init_backoff"` // initial backoff (default 1s)
	MaxBackoff  time.Duration `json:"max_backoff"`  // backoff cap (default 60s)
}

// effective returns retry settings with defaults filled in.
func (r RetryConfig) effective() (maxRetries int, initBackoff, maxBackoff time.Duration) {
	maxRetries = r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	initBackoff = r.InitBackoff
	if initBackoff <= 0 {
		initBackoff = defaultInitBackoff
	}
	maxBackoff = r.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return
}

// withRetry runs fn with exponential backoff on retryable errors. Billing
// errors and other permanent failures abort immediately.
func withRetry(ctx context.Context, provider string, retry RetryConfig, fn func() error) error {
	maxRetries, initBackoff, maxBackoff := retry.effective()
	backoff := initBackoff

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if isBillingError(err) {
			return fmt.Errorf("billing/payment error (fatal): %w", err)
		}
		if !isRetryableError(err) {
			return fmt.Errorf("%s request failed: %w", provider, err)
		}
		if attempt == maxRetries {
			return fmt.Errorf("%s request failed after %d retries: %w", provider, maxRetries, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// isRateLimitError checks if the error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "capacity")
}

// isServerError checks if the error is a transient server error (5xx).
func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "temporarily unavailable")
}

// isRetryableError checks if the error is retryable (rate limit or server
// error).
func isRetryableError(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// isBillingError checks if the error is a billing/payment/quota error
// (fatal, no retry).
func isBillingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "credits") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "insufficient") ||
		strings.Contains(errStr, "402") ||
		strings.Contains(errStr, "subscription") ||
		strings.Contains(errStr, "expired")
}
