package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config describes the limit applied to a single scope key.
// A non-positive MaxRequests disables limiting for that key.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Reason    string
}

// UsageStats represents current usage for a scope key.
type UsageStats struct {
	RequestsInWindow int
	Successes        int64
	Failures         int64
}

type window struct {
	events    []time.Time
	successes int64
	failures  int64
}

// RateLimitService enforces sliding-window limits per scope key,
// entirely in memory. Checks and records never fail: a limiter that
// errors out would block calls it was only supposed to meter.
type RateLimitService struct {
	mu     sync.Mutex
	scopes map[string]*window
	logger *zap.Logger

	// now is swappable in tests
	now func() time.Time
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		scopes: make(map[string]*window),
		logger: logger,
		now:    time.Now,
	}
}

// CheckLimit reports whether another request is allowed for the scope key.
// Events older than the window are pruned first, so a key recovers as soon
// as its oldest event slides out of the window.
func (s *RateLimitService) CheckLimit(key string, cfg Config) Result {
	if cfg.MaxRequests <= 0 {
		// No rate limit configured
		return Result{Allowed: true, Remaining: -1}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w := s.scopes[key]
	if w == nil {
		return Result{Allowed: true, Remaining: cfg.MaxRequests, ResetAt: now}
	}

	s.prune(w, now, cfg.Window)

	count := len(w.events)
	resetAt := now
	if count > 0 {
		resetAt = w.events[0].Add(cfg.Window)
	}

	if count >= cfg.MaxRequests {
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
			Reason:    "window exhausted",
		}
	}

	return Result{
		Allowed:   true,
		Remaining: cfg.MaxRequests - count,
		ResetAt:   resetAt,
	}
}

// RecordRequest records one request against the scope key. Failed calls
// consume window capacity exactly like successful ones; success is tracked
// only for usage reporting.
func (s *RateLimitService) RecordRequest(key string, success bool, cfg Config) {
	if cfg.MaxRequests <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w := s.scopes[key]
	if w == nil {
		w = &window{}
		s.scopes[key] = w
	}

	s.prune(w, now, cfg.Window)
	w.events = append(w.events, now)
	if success {
		w.successes++
	} else {
		w.failures++
	}
}

// GetCurrentUsage returns the current usage for a scope key.
func (s *RateLimitService) GetCurrentUsage(key string, cfg Config) UsageStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.scopes[key]
	if w == nil {
		return UsageStats{}
	}

	if cfg.Window > 0 {
		s.prune(w, s.now(), cfg.Window)
	}

	return UsageStats{
		RequestsInWindow: len(w.events),
		Successes:        w.successes,
		Failures:         w.failures,
	}
}

// prune drops events that have left the window. Caller holds the lock.
func (s *RateLimitService) prune(w *window, now time.Time, windowSize time.Duration) {
	cutoff := now.Add(-windowSize)
	idx := 0
	for idx < len(w.events) && !w.events[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.events = append(w.events[:0], w.events[idx:]...)
	}
}

// CleanupStale removes scope keys whose last event is older than retention,
// so keys for providers that went quiet do not accumulate forever.
func (s *RateLimitService) CleanupStale(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	removed := 0
	for key, w := range s.scopes {
		if len(w.events) == 0 || w.events[len(w.events)-1].Before(cutoff) {
			delete(s.scopes, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up stale rate limit scopes",
			zap.Int("scopes_removed", removed))
	}

	return removed
}

// StartCleanupWorker starts a background worker to periodically drop stale scopes
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval time.Duration, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			s.CleanupStale(retention)
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
