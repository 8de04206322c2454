package orchestrator

import (
	"log/slog"
	"time"

	"github.com/llmrelay/llmrelay/internal/ewma"
)

// DynamicBackoff scales a tier's exponential backoff delay by that tier's
// current EWMA latency trend: tiers running faster than a reference baseline
// retry more aggressively, tiers running slow back off harder. It is a
// supplemented feature (not in the core retry formula) that reduces to the
// plain exponential formula when the scale factor is pinned to 1.0.
//
// Grounded on the proxy's DynamicBackoff scaler from the original
// implementation; disabled by passing nil to Orchestrator where the plain
// spec §4.8 formula is used instead.
type DynamicBackoff struct {
	tracker           *ewma.Tracker
	referenceLatencyMs float64
	minScale, maxScale float64
}

// NewDynamicBackoff constructs a scaler with the default reference/scale
// range (1000ms baseline, [0.5, 3.0] scale).
func NewDynamicBackoff(tracker *ewma.Tracker) *DynamicBackoff {
	return NewDynamicBackoffWithParams(tracker, 1000.0, 0.5, 3.0)
}

// NewDynamicBackoffWithParams constructs a scaler with custom parameters,
// clamping minScale/maxScale to [0.1, 10.0] and referenceLatencyMs to ≥1.
func NewDynamicBackoffWithParams(tracker *ewma.Tracker, referenceLatencyMs, minScale, maxScale float64) *DynamicBackoff {
	if referenceLatencyMs < 1.0 {
		referenceLatencyMs = 1.0
	}
	return &DynamicBackoff{
		tracker:            tracker,
		referenceLatencyMs: referenceLatencyMs,
		minScale:           clampFloat(minScale, 0.1, 10.0),
		maxScale:           clampFloat(maxScale, 0.1, 10.0),
	}
}

// ScaleFactor returns clamp(ewma_ms / reference_ms, minScale, maxScale), or
// 1.0 (no scaling) if the tier has no EWMA samples yet.
func (d *DynamicBackoff) ScaleFactor(tierName string) float64 {
	ewmaSeconds, samples, ok := d.tracker.GetLatency(tierName)
	if !ok || samples == 0 || ewmaSeconds <= 0 {
		return 1.0
	}
	ewmaMs := ewmaSeconds * 1000.0
	factor := clampFloat(ewmaMs/d.referenceLatencyMs, d.minScale, d.maxScale)
	slog.Debug("dynamic backoff scale factor", "tier", tierName, "ewma_ms", ewmaMs, "factor", factor)
	return factor
}

// ExponentialWithEWMA combines the plain exponential backoff formula
// (base * multiplier^attempt, capped at maxMs) with this tier's EWMA scale
// factor, never going below baseMs nor above maxMs.
func (d *DynamicBackoff) ExponentialWithEWMA(tierName string, baseMs int, multiplier float64, attempt int, maxMs int) time.Duration {
	exponentialMs := float64(baseMs)
	for i := 0; i < attempt; i++ {
		exponentialMs *= multiplier
	}
	if exponentialMs > float64(maxMs) {
		exponentialMs = float64(maxMs)
	}

	factor := d.ScaleFactor(tierName)
	scaledMs := exponentialMs * factor
	if scaledMs < float64(baseMs) {
		scaledMs = float64(baseMs)
	}
	if scaledMs > float64(maxMs) {
		scaledMs = float64(maxMs)
	}
	return time.Duration(scaledMs) * time.Millisecond
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
