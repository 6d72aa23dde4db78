package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_DisabledWhenBothZero(t *testing.T) {
	l := New(0, 0)
	err := l.Acquire(context.Background(), 1000, 1000000)
	require.NoError(t, err)
}

func TestAcquire_WithinCapacityDoesNotBlock(t *testing.T) {
	l := New(60, 60000)
	start := time.Now()
	err := l.Acquire(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquire_BlocksUntilRefill(t *testing.T) {
	// capacity 60/min => 1/sec; draining all of it forces the next acquire to wait.
	l := New(60, 0)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, 60, 0))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, 1, 0))
	assert.GreaterOrEqual(t, time.Since(start), minWait)
}

func TestAcquire_RespectsContextCancellation(t *testing.T) {
	l := New(1, 0)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, 1, 0))

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(cctx, 1, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_TokenBucketIndependentOfRequestBucket(t *testing.T) {
	l := New(0, 1000)
	err := l.Acquire(context.Background(), 10000, 10)
	require.NoError(t, err)
}
