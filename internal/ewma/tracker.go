// Package ewma implements the per-tier exponentially-weighted moving-average
// latency tracker (C3).
package ewma

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultAlpha is the smoothing factor applied to new samples.
	DefaultAlpha = 0.3
	// DefaultMinSamples is the sample count at which a tier is considered
	// "measured" for ordering purposes.
	DefaultMinSamples = 3
	// DefaultFailurePenalty scales the EWMA on a recorded failure.
	DefaultFailurePenalty = 2.0
)

// TierState is the latency state owned by the tracker for one tier name. It
// is created on first observation and never destroyed.
type TierState struct {
	EWMASeconds        float64
	Samples            uint64
	ConsecutiveFailures uint64
}

// Tracker holds per-tier latency state behind a single-writer lock. All
// mutation is O(1); ordering is O(k log k) for k tiers.
type Tracker struct {
	mu             sync.RWMutex
	tiers          map[string]*TierState
	alpha          float64
	minSamples     uint64
	failurePenalty float64
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithAlpha overrides the smoothing factor, clamped to [0.01, 1.0].
func WithAlpha(alpha float64) Option {
	return func(t *Tracker) {
		if alpha < 0.01 {
			alpha = 0.01
		}
		if alpha > 1.0 {
			alpha = 1.0
		}
		t.alpha = alpha
	}
}

// WithMinSamples overrides the measured/unmeasured threshold.
func WithMinSamples(n uint64) Option {
	return func(t *Tracker) { t.minSamples = n }
}

// WithFailurePenalty overrides the failure penalty multiplier, clamped to >= 1.0.
func WithFailurePenalty(p float64) Option {
	return func(t *Tracker) {
		if p < 1.0 {
			p = 1.0
		}
		t.failurePenalty = p
	}
}

// New constructs a Tracker with the spec defaults, as modified by opts.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		tiers:          make(map[string]*TierState),
		alpha:          DefaultAlpha,
		minSamples:     DefaultMinSamples,
		failurePenalty: DefaultFailurePenalty,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) stateLocked(tier string) *TierState {
	s, ok := t.tiers[tier]
	if !ok {
		s = &TierState{}
		t.tiers[tier] = s
	}
	return s
}

// RecordSuccess records a successful attempt's latency in seconds.
func (t *Tracker) RecordSuccess(tier string, durationSeconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stateLocked(tier)
	if s.Samples == 0 {
		s.EWMASeconds = durationSeconds
	} else {
		s.EWMASeconds = t.alpha*durationSeconds + (1-t.alpha)*s.EWMASeconds
	}
	s.Samples++
	s.ConsecutiveFailures = 0
}

// RecordFailure records a failed attempt. Failures do not carry a wall-clock
// duration; instead the current EWMA is penalized relative to itself so that
// timeouts/connection errors (which don't reflect real backend latency) don't
// pollute the estimate with arbitrary timeout values.
func (t *Tracker) RecordFailure(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stateLocked(tier)
	s.Samples++
	s.ConsecutiveFailures++
	if s.EWMASeconds > 0 {
		s.EWMASeconds = t.alpha*(s.EWMASeconds*t.failurePenalty) + (1-t.alpha)*s.EWMASeconds
	}
}

// GetLatency returns the current EWMA (seconds) and sample count for tier, or
// ok=false if no observation has been recorded.
func (t *Tracker) GetLatency(tier string) (seconds float64, samples uint64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, found := t.tiers[tier]
	if !found {
		return 0, 0, false
	}
	return s.EWMASeconds, s.Samples, true
}

// GetAllLatencies returns a snapshot copy of every tracked tier's state.
func (t *Tracker) GetAllLatencies() map[string]TierState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]TierState, len(t.tiers))
	for k, v := range t.tiers {
		out[k] = *v
	}
	return out
}

// Restore seeds tier state from an external source (e.g. a persisted
// snapshot) at startup. It is the only write path a collaborator outside the
// core may use; the core never persists state itself (spec §6).
func (t *Tracker) Restore(tier string, ewmaSeconds float64, samples uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stateLocked(tier)
	s.EWMASeconds = ewmaSeconds
	s.Samples = samples
}

// SortTiers reorders candidateTiers so that tiers with samples >= minSamples
// ("measured") precede tiers with fewer samples ("unmeasured"); within the
// measured group the order is ascending by EWMA; within the unmeasured group
// the original configuration order is preserved. The sort is stable.
func (t *Tracker) SortTiers(candidateTiers []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type entry struct {
		name     string
		index    int
		measured bool
		ewma     float64
	}

	entries := make([]entry, len(candidateTiers))
	for i, name := range candidateTiers {
		e := entry{name: name, index: i}
		if s, ok := t.tiers[name]; ok && s.Samples >= t.minSamples {
			e.measured = true
			e.ewma = s.EWMASeconds
		}
		entries[i] = e
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.measured != b.measured {
			return a.measured // measured sorts before unmeasured
		}
		if a.measured {
			if a.ewma != b.ewma {
				return a.ewma < b.ewma
			}
		}
		return a.index < b.index
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

// AttemptTimer is a scoped helper that records exactly one outcome to a
// Tracker. Go has no destructors, so the total-recording guarantee from
// spec §4.3/§9 ("a scoped attempt timer... if released without an explicit
// outcome, records as failure") is implemented with an explicit Close: call
// it via defer immediately after Start returns, after any FinishSuccess or
// FinishFailure call Close is a no-op.
type AttemptTimer struct {
	tracker  *Tracker
	tier     string
	start    time.Time
	resolved bool
}

// StartAttemptTimer begins timing an attempt against tier.
func StartAttemptTimer(tracker *Tracker, tier string) *AttemptTimer {
	return &AttemptTimer{tracker: tracker, tier: tier, start: time.Now()}
}

// Elapsed returns the seconds elapsed since Start.
func (a *AttemptTimer) Elapsed() float64 {
	return time.Since(a.start).Seconds()
}

// FinishSuccess records a success outcome and marks the timer resolved.
func (a *AttemptTimer) FinishSuccess() {
	if a.resolved {
		return
	}
	a.resolved = true
	a.tracker.RecordSuccess(a.tier, a.Elapsed())
}

// FinishFailure records a failure outcome and marks the timer resolved.
func (a *AttemptTimer) FinishFailure() {
	if a.resolved {
		return
	}
	a.resolved = true
	a.tracker.RecordFailure(a.tier)
}

// Close finalizes the timer as a failure if neither FinishSuccess nor
// FinishFailure was called. Callers must `defer timer.Close()` right after
// StartAttemptTimer so that panics, early returns, and cancellation all still
// produce a recorded outcome.
func (a *AttemptTimer) Close() {
	if a.resolved {
		return
	}
	a.FinishFailure()
}
