package rpcclient

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker implements the closed/open/half-open policy from spec.md
// §4.1: after failureThreshold consecutive failures it opens for
// resetTimeout; while open, calls fail fast; after resetTimeout a single
// half-open probe is allowed through, and its outcome closes or re-opens the
// breaker. No circuit-breaker library appears anywhere in the retrieved
// corpus, so this is hand-rolled in the teacher's plain-mutex-and-counter
// style (see runner/x_runner.go's atomic stat counters for the idiom).
type circuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration
	halfOpenTimeout  time.Duration

	state       breakerState
	consecFails int
	openedAt    time.Time
	probing     bool
}

func newCircuitBreaker(failureThreshold int, resetTimeout, halfOpenTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenTimeout:  halfOpenTimeout,
		state:            breakerClosed,
	}
}

// allow reports whether a call may proceed, transitioning open->half-open
// once resetTimeout has elapsed. The returned probe flag, when true, marks
// this call as the single half-open probe; the caller must call succeed or
// fail exactly once.
func (b *circuitBreaker) allow() (ok bool, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true, false
	case breakerOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return false, false
		}
		if b.probing {
			return false, false
		}
		b.state = breakerHalfOpen
		b.probing = true
		return true, true
	case breakerHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
	return false, false
}

func (b *circuitBreaker) succeed(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	b.state = breakerClosed
	b.consecFails = 0
}

func (b *circuitBreaker) fail(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}

	b.consecFails++
	if b.consecFails >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

func (b *circuitBreaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && time.Since(b.openedAt) < b.resetTimeout
}
