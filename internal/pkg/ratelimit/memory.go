package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = 60 * time.Second

// MemoryStore keeps fixed-window counters in a process-local map. State is
// per instance: horizontally scaled deployments should use the Redis store
// instead, since independent maps weaken the limit by a factor of the
// instance count.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	sweepEvery time.Duration
	sweepOnce  sync.Once

	// now is swapped out in tests.
	now func() time.Time
}

type memoryEntry struct {
	count   int
	resetAt time.Time
}

type MemoryOption func(*MemoryStore)

func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepEvery = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		sweepEvery: defaultSweepInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check implements Store with the fixed-window algorithm: a fresh or expired
// window starts at count 1; a full window denies without incrementing.
func (s *MemoryStore) Check(_ context.Context, key string, cfg Config) (Result, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.resetAt) {
		ent = &memoryEntry{count: 1, resetAt: now.Add(cfg.Window)}
		s.entries[key] = ent
		return Result{Allowed: true, Remaining: cfg.MaxRequests - 1, ResetAt: ent.resetAt}, nil
	}

	if ent.count >= cfg.MaxRequests {
		return Result{
			Allowed:           false,
			Remaining:         0,
			ResetAt:           ent.resetAt,
			RetryAfterSeconds: retryAfterSeconds(ent.resetAt, now),
		}, nil
	}

	ent.count++
	return Result{Allowed: true, Remaining: cfg.MaxRequests - ent.count, ResetAt: ent.resetAt}, nil
}

// StartSweeper launches the background sweep that evicts expired windows.
// It runs at most once per process regardless of how often it is called;
// stop it by cancelling the context.
func (s *MemoryStore) StartSweeper(ctx context.Context) {
	s.sweepOnce.Do(func() {
		t := time.NewTicker(s.sweepEvery)
		go func() {
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					s.Sweep()
				}
			}
		}()
	})
}

// Sweep removes entries whose window has elapsed. Active windows are kept.
func (s *MemoryStore) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.resetAt.Before(now) {
			delete(s.entries, k)
		}
	}
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
