// Package ratelimit implements the per-tier rate-limit backoff tracker (C4).
package ratelimit

import (
	"sync"
	"time"
)

// maxBackoff caps the computed backoff window regardless of the multiplier.
const maxBackoff = 60 * time.Second

// maxConsecutiveExponent bounds the doubling exponent so consecutive_429s
// cannot overflow the backoff computation.
const maxConsecutiveExponent = 6

// TierState is the rate-limit state owned by the tracker for one tier name.
type TierState struct {
	ConsecutiveLimits uint64
	BackoffUntil      time.Time // zero value means "not backing off"
}

// Tracker holds per-tier rate-limit state behind a single-writer lock.
type Tracker struct {
	mu    sync.RWMutex
	tiers map[string]*TierState
	now   func() time.Time
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{
		tiers: make(map[string]*TierState),
		now:   time.Now,
	}
}

func (t *Tracker) stateLocked(tier string) *TierState {
	s, ok := t.tiers[tier]
	if !ok {
		s = &TierState{}
		t.tiers[tier] = s
	}
	return s
}

// ShouldSkip reports whether tier is currently inside its backoff window.
func (t *Tracker) ShouldSkip(tier string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.tiers[tier]
	if !ok || s.BackoffUntil.IsZero() {
		return false
	}
	return t.now().Before(s.BackoffUntil)
}

// Record429 records an upstream 429 for tier. retryAfter, if non-zero, is
// the upstream's advertised Retry-After duration and is used as the backoff
// base instead of the 1-second default. The computed window is
// base * 2^min(consecutive_429s, 6), capped at 60s.
func (t *Tracker) Record429(tier string, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stateLocked(tier)
	s.ConsecutiveLimits++

	base := retryAfter
	if base <= 0 {
		base = time.Second
	}

	exponent := s.ConsecutiveLimits
	if exponent > maxConsecutiveExponent {
		exponent = maxConsecutiveExponent
	}
	multiplier := uint64(1) << exponent

	backoff := base * time.Duration(multiplier)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	s.BackoffUntil = t.now().Add(backoff)
}

// RecordSuccess clears tier's backoff state after a successful attempt.
func (t *Tracker) RecordSuccess(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stateLocked(tier)
	s.ConsecutiveLimits = 0
	s.BackoffUntil = time.Time{}
}

// Snapshot returns a copy of tier's current state, or ok=false if unseen.
func (t *Tracker) Snapshot(tier string) (TierState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.tiers[tier]
	if !ok {
		return TierState{}, false
	}
	return *s, true
}
