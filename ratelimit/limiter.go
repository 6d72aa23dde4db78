// Package ratelimit implements a dual token-bucket limiter for requests-per-minute
// and tokens-per-minute ceilings, used to throttle calls into the LLM and embedding
// providers ahead of C2's retry executor.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	minWait  = 50 * time.Millisecond
	maxSleep = 5 * time.Second
)

// bucket is a continuously-refilling token bucket. A capacity of 0 disables it: it
// always reports satisfied and never deducts.
type bucket struct {
	capacity   float64
	refillPerS float64
	available  float64
	lastTS     time.Time
}

func newBucket(capacity float64, now time.Time) bucket {
	refill := 0.0
	if capacity > 0 {
		refill = capacity / 60.0
	}
	return bucket{capacity: capacity, refillPerS: refill, available: capacity, lastTS: now}
}

func (b *bucket) refill(now time.Time) {
	if b.refillPerS <= 0 {
		b.available = b.capacity
		b.lastTS = now
		return
	}
	dt := now.Sub(b.lastTS).Seconds()
	if dt < 0 {
		dt = 0
	}
	b.available = min(b.capacity, b.available+dt*b.refillPerS)
	b.lastTS = now
}

// Limiter enforces a requests-per-minute and a tokens-per-minute ceiling.
type Limiter struct {
	mu  sync.Mutex
	req bucket
	tok bucket
}

// New builds a Limiter. rpm/tpm <= 0 disables the corresponding bucket.
func New(rpm, tpm int) *Limiter {
	now := time.Now()
	reqCap := 0.0
	if rpm > 0 {
		reqCap = float64(rpm)
	}
	tokCap := 0.0
	if tpm > 0 {
		tokCap = float64(tpm)
	}
	return &Limiter{
		req: newBucket(reqCap, now),
		tok: newBucket(tokCap, now),
	}
}

// Capacity returns the configured requests-per-minute and tokens-per-minute ceilings
// (0 means that bucket is disabled). Callers that partition work into batches before
// calling Acquire use this to keep every batch under the bucket capacity: a single
// Acquire request larger than capacity can never be satisfied by refill and blocks
// forever.
func (l *Limiter) Capacity() (requests, tokens int) {
	return int(l.req.capacity), int(l.tok.capacity)
}

// Acquire blocks until both buckets can satisfy the requested amounts, then deducts
// them atomically. It returns early if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, requests, tokens int) error {
	if l.req.capacity <= 0 && l.tok.capacity <= 0 {
		return nil
	}

	reqNeed := float64(max(0, requests))
	tokNeed := float64(max(0, tokens))

	for {
		wait, done := l.tryAcquire(reqNeed, tokNeed)
		if done {
			return nil
		}
		if wait > maxSleep {
			wait = maxSleep
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire refills both buckets and either deducts (returning done=true) or
// reports how long the caller should sleep before retrying.
func (l *Limiter) tryAcquire(reqNeed, tokNeed float64) (wait time.Duration, done bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.req.refill(now)
	l.tok.refill(now)

	reqOK := l.req.capacity <= 0 || l.req.available >= reqNeed
	tokOK := l.tok.capacity <= 0 || l.tok.available >= tokNeed

	if reqOK && tokOK {
		if l.req.capacity > 0 {
			l.req.available -= reqNeed
		}
		if l.tok.capacity > 0 {
			l.tok.available -= tokNeed
		}
		return 0, true
	}

	waitReq := 0.0
	if l.req.capacity > 0 && !reqOK && l.req.refillPerS > 0 {
		waitReq = (reqNeed - l.req.available) / l.req.refillPerS
	}
	waitTok := 0.0
	if l.tok.capacity > 0 && !tokOK && l.tok.refillPerS > 0 {
		waitTok = (tokNeed - l.tok.available) / l.tok.refillPerS
	}

	waitS := max(waitReq, waitTok, minWait.Seconds())
	return time.Duration(waitS * float64(time.Second)), false
}
