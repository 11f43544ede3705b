// Package ratelimit bounds how many provider calls all invocations together
// may start per window.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBudgetExhausted is wrapped into the rate-limited error returned to the engine.
var ErrBudgetExhausted = errors.New("provider call budget exhausted")

// Limiter grants or denies one provider call.
type Limiter interface {
	Allow(ctx context.Context) (bool, error)
}

// WindowLimiter is a fixed-window counter local to one process.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	count  int
	until  time.Time
	now    func() time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{limit: limit, window: window, now: time.Now}
}

func (l *WindowLimiter) Allow(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.until) {
		l.count = 0
		l.until = now.Add(l.window)
	}
	if l.count >= l.limit {
		return false, nil
	}
	l.count++
	return true, nil
}
