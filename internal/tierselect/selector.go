// Package tierselect implements the tier selector (C7): composing the
// attempt-ordered tier list from configuration, the EWMA latency tracker
// (C3), and the rate-limit tracker (C4).
package tierselect

import (
	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/ewma"
	"github.com/llmrelay/llmrelay/internal/ratelimit"
)

// Selector composes tier order per spec §4.7.
type Selector struct {
	ewmaTracker *ewma.Tracker
	rlTracker   *ratelimit.Tracker
}

// New constructs a Selector bound to shared C3/C4 trackers.
func New(ewmaTracker *ewma.Tracker, rlTracker *ratelimit.Tracker) *Selector {
	return &Selector{ewmaTracker: ewmaTracker, rlTracker: rlTracker}
}

// Order returns the attempt-ordered list of tier routes from candidates,
// per spec §4.7: (a) drop tiers currently in rate-limit backoff, (b) re-sort
// the remainder using EWMA, (c) return the sequence. candidates are tier
// routes ("<provider>,<model>"); ordering and backoff lookups key on the
// short tier-name (the provider half).
func (s *Selector) Order(candidates []string) []string {
	eligible := make([]string, 0, len(candidates))
	routeByName := make(map[string]string, len(candidates))
	names := make([]string, 0, len(candidates))

	for _, route := range candidates {
		name := config.TierName(route)
		if s.rlTracker.ShouldSkip(name) {
			continue
		}
		eligible = append(eligible, route)
		routeByName[name] = route
		names = append(names, name)
	}

	sortedNames := s.ewmaTracker.SortTiers(names)

	ordered := make([]string, 0, len(sortedNames))
	for _, name := range sortedNames {
		ordered = append(ordered, routeByName[name])
	}
	return ordered
}

// AllBackedOff reports whether every candidate tier is currently in
// rate-limit backoff, i.e. the request must fail with ALL_RATE_LIMITED.
func (s *Selector) AllBackedOff(candidates []string) bool {
	if len(candidates) == 0 {
		return false
	}
	for _, route := range candidates {
		if !s.rlTracker.ShouldSkip(config.TierName(route)) {
			return false
		}
	}
	return true
}
