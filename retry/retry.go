// Package retry implements bounded exponential backoff over classifiable transient
// errors, used to wrap calls into the LLM and embedding collaborators.
package retry

import (
	"context"
	"strings"
	"time"
)

// Policy configures the backoff schedule.
type Policy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// IsRetryable classifies err as transient. The default implementation matches the
// substrings the Python reference treats as transient: rate limiting, timeouts,
// temporary unavailability, connection resets, and 5xx indicators.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return true
	case strings.Contains(msg, "temporarily unavailable"):
		return true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection aborted"):
		return true
	case strings.Contains(msg, "5xx"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	default:
		return false
	}
}

// Do runs fn, retrying on transient errors per policy. Non-transient errors and
// exhaustion of the retry budget propagate fn's error unchanged. isRetryable may be
// nil to use the default classifier.
func Do(ctx context.Context, policy Policy, isRetryable func(error) bool, fn func(ctx context.Context) error) error {
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	attempt := 0
	backoff := policy.InitialBackoff
	if backoff < 0 {
		backoff = 0
	}
	maxBackoff := policy.MaxBackoff
	if maxBackoff < 0 {
		maxBackoff = 0
	}
	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= max(0, policy.MaxRetries) || !isRetryable(err) {
			return err
		}

		sleep := backoff
		if sleep > maxBackoff {
			sleep = maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		attempt++
		backoff = min(maxBackoff, time.Duration(float64(backoff)*multiplier))
	}
}
