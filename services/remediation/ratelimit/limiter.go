// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit bounds outbound request rate and concurrency to the
// remote API.
//
// The model is a token bucket refilled to full capacity on a fixed interval,
// combined with a bounded-concurrency gate. Construct exactly one Limiter
// per process and inject it into every component that talks to the remote
// system; token and queue state must only be touched through Acquire,
// Release, and Execute.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrDestroyed is returned to queued waiters when the limiter shuts down.
// It is distinct from call failures so callers can tell "the system is
// shutting down" apart from "the call failed".
var ErrDestroyed = errors.New("rate limiter destroyed")

// Config configures a Limiter.
type Config struct {
	// MaxTokens is the bucket capacity. Default: 100.
	MaxTokens int

	// RefillInterval is how often the bucket refills to full capacity.
	// Tokens are replenished only by the refill timer, never by Release.
	// Default: 10s.
	RefillInterval time.Duration

	// MaxConcurrent caps in-flight requests. Default: 5.
	MaxConcurrent int

	// Logger for queue and refill events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns limits matching the remote platform's published
// burst allowance.
func DefaultConfig() Config {
	return Config{
		MaxTokens:      100,
		RefillInterval: 10 * time.Second,
		MaxConcurrent:  5,
	}
}

// Status is a point-in-time snapshot of limiter state for observability.
type Status struct {
	Tokens         int `json:"tokens"`
	MaxTokens      int `json:"max_tokens"`
	QueueSize      int `json:"queue_size"`
	ActiveRequests int `json:"active_requests"`
	MaxConcurrent  int `json:"max_concurrent"`
}

// waiter is one queued Acquire call. The grant channel is closed when a
// token has been consumed on the waiter's behalf.
type waiter struct {
	grant chan struct{}
}

// Limiter is a token bucket plus concurrency gate.
//
// # Thread Safety
//
// Safe for concurrent use. Queued waiters are granted tokens strictly in
// FIFO order. The wait queue deliberately has no timeout; callers that need
// one cancel their context.
type Limiter struct {
	maxTokens      int
	refillInterval time.Duration
	maxConcurrent  int
	logger         *slog.Logger

	mu        sync.Mutex
	tokens    int
	queue     []*waiter
	destroyed bool

	// sem gates in-flight requests; active mirrors its occupancy for
	// Status reporting.
	sem    *semaphore.Weighted
	active atomic.Int64

	ticker      *time.Ticker
	done        chan struct{}
	destroyOnce sync.Once
}

// New creates a Limiter and starts its refill timer.
//
// Callers must Destroy the limiter when done or the refill goroutine leaks.
func New(cfg Config) *Limiter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 100
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &Limiter{
		maxTokens:      cfg.MaxTokens,
		refillInterval: cfg.RefillInterval,
		maxConcurrent:  cfg.MaxConcurrent,
		logger:         cfg.Logger,
		tokens:         cfg.MaxTokens,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ticker:         time.NewTicker(cfg.RefillInterval),
		done:           make(chan struct{}),
	}

	go l.refillLoop()
	return l
}

// Acquire consumes one token and occupies one concurrency slot, suspending
// the caller until both are available.
//
// # Description
//
// If a token is available and nobody is queued ahead, Acquire consumes it
// immediately; otherwise the caller joins a FIFO wait queue and is granted a
// token by a later refill. After the token is obtained, Acquire waits for a
// concurrency slot.
//
// # Outputs
//
//   - error: nil on success; ErrDestroyed if the limiter shut down while
//     the caller was queued; ctx.Err() on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return ErrDestroyed
	}

	if l.tokens > 0 && len(l.queue) == 0 {
		l.tokens--
		l.mu.Unlock()
	} else {
		w := &waiter{grant: make(chan struct{})}
		l.queue = append(l.queue, w)
		queued := len(l.queue)
		l.mu.Unlock()

		l.logger.Debug("rate limiter queueing request", "queue_size", queued)

		select {
		case <-w.grant:
			// Token consumed on our behalf by the refill loop.
		case <-l.done:
			return ErrDestroyed
		case <-ctx.Done():
			l.abandon(w)
			return ctx.Err()
		}
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		// Token is consumed and cannot be returned (tokens are only
		// replenished by refill), matching the model: release never
		// restores tokens.
		return err
	}
	l.active.Add(1)
	return nil
}

// Release frees the concurrency slot taken by a successful Acquire. Tokens
// are not returned; only the refill timer replenishes them.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Execute runs fn between Acquire and Release, guaranteeing the slot is
// freed even when fn panics or returns an error.
func (l *Limiter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return fmt.Errorf("acquiring rate limit: %w", err)
	}
	defer l.Release()
	return fn(ctx)
}

// Status returns a snapshot of the limiter's counters.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Tokens:         l.tokens,
		MaxTokens:      l.maxTokens,
		QueueSize:      len(l.queue),
		ActiveRequests: int(l.active.Load()),
		MaxConcurrent:  l.maxConcurrent,
	}
}

// Destroy stops the refill timer and rejects all queued waiters with
// ErrDestroyed. In-flight requests are unaffected. Safe to call more than
// once.
func (l *Limiter) Destroy() {
	l.destroyOnce.Do(func() {
		l.mu.Lock()
		l.destroyed = true
		queued := len(l.queue)
		l.queue = nil
		l.mu.Unlock()

		l.ticker.Stop()
		close(l.done)

		if queued > 0 {
			l.logger.Warn("rate limiter destroyed with queued waiters",
				"rejected", queued)
		}
	})
}

// refillLoop restores the bucket to full capacity on every tick and drains
// the wait queue in FIFO order.
func (l *Limiter) refillLoop() {
	for {
		select {
		case <-l.done:
			return
		case <-l.ticker.C:
			l.refill()
		}
	}
}

func (l *Limiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.destroyed {
		return
	}

	l.tokens = l.maxTokens

	// Grant tokens to queued waiters, oldest first.
	for l.tokens > 0 && len(l.queue) > 0 {
		w := l.queue[0]
		l.queue = l.queue[1:]
		l.tokens--
		close(w.grant)
	}
}

// abandon removes a cancelled waiter from the queue. If the waiter was
// already granted between cancellation and this call, the token is returned
// to the bucket so the grant is not lost.
func (l *Limiter) abandon(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}

	// Not in the queue: the refill loop granted us a token concurrently
	// with cancellation. Put it back, capped at capacity.
	select {
	case <-w.grant:
		if !l.destroyed && l.tokens < l.maxTokens {
			l.tokens++
		}
	default:
	}
}
