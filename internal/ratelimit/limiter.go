// Package ratelimit implements fixed-window request counting per caller
// IP across independent tiers. Fixed windows are a deliberate
// simplification: the objective is abuse deterrence, not fairness.
package ratelimit

import (
	"sync"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
)

// Tier identifies an independent rate-limit budget.
type Tier string

const (
	TierGlobal    Tier = "global"    // all requests
	TierAuth      Tier = "auth"      // failed authentication attempts
	TierSensitive Tier = "sensitive" // mutating operations
)

// TierConfig holds a tier's ceiling and window.
type TierConfig struct {
	Limit  int
	Window time.Duration
}

// DefaultTiers returns the standard tier configuration.
func DefaultTiers() map[Tier]TierConfig {
	return map[Tier]TierConfig{
		TierGlobal:    {Limit: 100, Window: 15 * time.Minute},
		TierAuth:      {Limit: 5, Window: 15 * time.Minute},
		TierSensitive: {Limit: 20, Window: time.Minute},
	}
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// window is a fixed-window counter for one (key, tier) pair.
type window struct {
	count int
	start time.Time
	mu    sync.Mutex
}

// Limiter tracks request counts per (key, tier).
type Limiter struct {
	tiers   map[Tier]TierConfig
	windows map[string]*window
	mu      sync.RWMutex
	clk     clock.Clock
}

// New creates a Limiter with the given tier configuration.
func New(tiers map[Tier]TierConfig, clk clock.Clock) *Limiter {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Limiter{
		tiers:   tiers,
		windows: make(map[string]*window),
		clk:     clk,
	}
}

// Check counts one request for (key, tier) and reports whether it is
// allowed. The count-th request within a window succeeds up to the
// tier's limit; the next is rejected with a RetryAfter hint.
func (l *Limiter) Check(key string, tier Tier) Decision {
	cfg, ok := l.tiers[tier]
	if !ok {
		// Unknown tier never limits; callers only use the declared tiers.
		return Decision{Allowed: true}
	}

	mapKey := key + "|" + string(tier)

	l.mu.Lock()
	w, exists := l.windows[mapKey]
	if !exists {
		w = &window{start: l.clk.Now()}
		l.windows[mapKey] = w
	}
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clk.Now()
	if now.Sub(w.start) >= cfg.Window {
		w.count = 0
		w.start = now
	}

	if w.count >= cfg.Limit {
		retry := cfg.Window - now.Sub(w.start)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	w.count++
	return Decision{Allowed: true}
}

// Peek reports whether (key, tier) is already at its ceiling without
// counting a request.
func (l *Limiter) Peek(key string, tier Tier) Decision {
	cfg, ok := l.tiers[tier]
	if !ok {
		return Decision{Allowed: true}
	}

	l.mu.RLock()
	w, exists := l.windows[key+"|"+string(tier)]
	l.mu.RUnlock()
	if !exists {
		return Decision{Allowed: true}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clk.Now()
	if now.Sub(w.start) >= cfg.Window {
		return Decision{Allowed: true}
	}
	if w.count >= cfg.Limit {
		retry := cfg.Window - now.Sub(w.start)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}
	return Decision{Allowed: true}
}

// Reset clears the counter for a specific (key, tier).
func (l *Limiter) Reset(key string, tier Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key+"|"+string(tier))
}

// CleanupExpired removes windows that elapsed longer than maxAge ago.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	for key, w := range l.windows {
		w.mu.Lock()
		stale := now.Sub(w.start) > maxAge
		w.mu.Unlock()
		if stale {
			delete(l.windows, key)
		}
	}
}

// StartCleanup runs CleanupExpired on a ticker until stop is closed.
func (l *Limiter) StartCleanup(interval, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.CleanupExpired(maxAge)
			case <-stop:
				return
			}
		}
	}()
}
