package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"rate limit exceeded", true},
		{"HTTP 429 too many requests", true},
		{"request timeout", true},
		{"connection timed out", true},
		{"service temporarily unavailable", true},
		{"connection reset by peer", true},
		{"connection aborted", true},
		{"upstream returned 503", true},
		{"5xx from provider", true},
		{"invalid schema", false},
		{"unauthorized", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsRetryable(errors.New(c.msg)), c.msg)
	}
	assert.False(t, IsRetryable(nil))
}

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3}, nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffMultiplier: 2}
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rate limit hit")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonTransientPropagatesImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 5}, nil, func(ctx context.Context) error {
		calls++
		return errors.New("invalid schema")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsRetriesAndPropagates(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		return errors.New("429 too many requests")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestDo_CustomClassifier(t *testing.T) {
	calls := 0
	always := func(error) bool { return true }
	err := Do(context.Background(), Policy{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}, always, func(ctx context.Context) error {
		calls++
		return errors.New("anything")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
