package httpserver

import (
	"sync"

	"golang.org/x/time/rate"
)

// streamCap bounds concurrent inbound streams per spec §5's "resource caps":
// a new request is rejected with 503 once maxStreams are in flight. Adapted
// from examples/middleware/rate-limiting's ConcurrentLimiter, trimmed to the
// Allow/Release pair the HTTP layer actually needs. A zero maxStreams means
// unlimited, per spec §5.
type streamCap struct {
	semaphore chan struct{}
}

func newStreamCap(maxStreams int) *streamCap {
	if maxStreams <= 0 {
		return &streamCap{}
	}
	return &streamCap{semaphore: make(chan struct{}, maxStreams)}
}

// Allow attempts to reserve a slot without blocking. ok is always true for
// an unbounded cap.
func (c *streamCap) Allow() (ok bool) {
	if c.semaphore == nil {
		return true
	}
	select {
	case c.semaphore <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot reserved by a successful Allow.
func (c *streamCap) Release() {
	if c.semaphore == nil {
		return
	}
	<-c.semaphore
}

// ingressLimiter throttles the rate of new inbound requests (independent of
// how many are concurrently in flight), adapted from the same example file's
// TokenBucketLimiter. A nil *rate.Limiter (zero requestsPerSecond) disables
// throttling entirely.
type ingressLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

func newIngressLimiter(requestsPerSecond float64, burst int) *ingressLimiter {
	if requestsPerSecond <= 0 {
		return &ingressLimiter{}
	}
	return &ingressLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (l *ingressLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
