package ratelimit

import (
	"context"
	"log"
	"time"
)

// FailurePolicy decides what happens when the backing store errors.
// The limiter defaults to FailOpen: throttling is best-effort and must
// never block legitimate traffic because a store is unreachable.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "fail_open"
	FailClosed FailurePolicy = "fail_closed"
)

// Config describes one route class: at most MaxRequests per Window.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Result is the admit/deny decision for a single request.
type Result struct {
	Allowed           bool
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// Store tracks fixed-window counters per key. Implementations must be safe
// for concurrent use; exact precision under concurrent increments is not
// required (best-effort throttling, not hard quotas).
type Store interface {
	Check(ctx context.Context, key string, cfg Config) (Result, error)
}

// Limiter applies a failure policy on top of a Store. It is constructed
// once per process and injected into the HTTP middleware.
type Limiter struct {
	store  Store
	policy FailurePolicy
}

type Option func(*Limiter)

func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) { l.policy = p }
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, policy: FailOpen}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the configured failure policy.
func (l *Limiter) Policy() FailurePolicy {
	return l.policy
}

// Check decides whether the request identified by key is admitted under cfg.
func (l *Limiter) Check(ctx context.Context, key string, cfg Config) Result {
	res, err := l.store.Check(ctx, key, cfg)
	if err == nil {
		return res
	}

	log.Printf("rate limit store error for key %s: %v", key, err)
	if l.policy == FailClosed {
		return Result{
			Allowed:           false,
			Remaining:         0,
			ResetAt:           time.Now().Add(cfg.Window),
			RetryAfterSeconds: retryAfterSeconds(time.Now().Add(cfg.Window), time.Now()),
		}
	}
	// Fail open: admit as if the quota were untouched.
	return Result{
		Allowed:   true,
		Remaining: cfg.MaxRequests - 1,
		ResetAt:   time.Now().Add(cfg.Window),
	}
}

func retryAfterSeconds(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
