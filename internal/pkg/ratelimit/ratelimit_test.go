package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{}

func (failingStore) Check(context.Context, string, Config) (Result, error) {
	return Result{}, errors.New("store unavailable")
}

func TestLimiterFailOpen(t *testing.T) {
	l := NewLimiter(failingStore{})
	if l.Policy() != FailOpen {
		t.Fatalf("default policy = %q, want %q", l.Policy(), FailOpen)
	}

	cfg := Config{MaxRequests: 10, Window: time.Minute}
	res := l.Check(context.Background(), "k", cfg)
	if !res.Allowed {
		t.Fatalf("fail-open limiter must admit when the store errors")
	}
	if res.Remaining != cfg.MaxRequests-1 {
		t.Fatalf("fail-open remaining = %d, want %d", res.Remaining, cfg.MaxRequests-1)
	}
}

func TestLimiterFailClosed(t *testing.T) {
	l := NewLimiter(failingStore{}, WithFailurePolicy(FailClosed))

	res := l.Check(context.Background(), "k", Config{MaxRequests: 10, Window: time.Minute})
	if res.Allowed {
		t.Fatalf("fail-closed limiter must deny when the store errors")
	}
	if res.RetryAfterSeconds <= 0 {
		t.Fatalf("fail-closed denial should carry retry-after, got %d", res.RetryAfterSeconds)
	}
}

func TestLimiterPassesThroughStoreDecision(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	cfg := Config{MaxRequests: 1, Window: time.Minute}

	if res := l.Check(context.Background(), "k", cfg); !res.Allowed {
		t.Fatalf("first request should be allowed")
	}
	if res := l.Check(context.Background(), "k", cfg); res.Allowed {
		t.Fatalf("second request should be denied")
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	now := time.Now()
	if got := retryAfterSeconds(now.Add(1500*time.Millisecond), now); got != 2 {
		t.Fatalf("retryAfterSeconds(1.5s) = %d, want 2", got)
	}
	if got := retryAfterSeconds(now.Add(-time.Second), now); got != 1 {
		t.Fatalf("elapsed reset should still report at least 1 second, got %d", got)
	}
}
