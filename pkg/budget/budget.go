// Package budget bounds how many paid rendering jobs a key may start.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrExceeded is returned by Check when the key has no budget left.
var ErrExceeded = errors.New("budget: exceeded")

// Policy is a token bucket: PerMinute refill with a Burst capacity.
type Policy struct {
	PerMinute int
	Burst     int
}

// DefaultPolicy allows a job every other second with a burst of five.
var DefaultPolicy = Policy{PerMinute: 30, Burst: 5}

func (p Policy) perSecond() float64 {
	r := float64(p.PerMinute) / 60.0
	if r <= 0 {
		r = 1.0
	}
	return r
}

func (p Policy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// Limiter decides whether key may spend one unit.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Check consults l and fails closed: a nil limiter or a limiter error denies.
func Check(ctx context.Context, l Limiter, key string) error {
	if l == nil {
		return errors.New("budget: no limiter configured")
	}
	ok, err := l.Allow(ctx, key)
	if err != nil {
		return fmt.Errorf("budget check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w for %s", ErrExceeded, key)
	}
	return nil
}

// MemoryLimiter keeps one in-process bucket per key.
type MemoryLimiter struct {
	mu      sync.Mutex
	policy  Policy
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source used for refills.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) {
		m.now = now
	}
}

func NewMemoryLimiter(p Policy, opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{policy: p, buckets: make(map[string]*rate.Limiter), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(m.policy.perSecond()), m.policy.burst())
		m.buckets[key] = b
	}
	m.mu.Unlock()
	return b.AllowN(m.now(), 1), nil
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
