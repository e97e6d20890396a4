package resilience

import (
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	StateClosed   State = iota // normal operation, failures counted
	StateOpen                  // failing fast, no real calls attempted
	StateHalfOpen              // limited trial calls allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings tunes a Breaker. Zero values fall back to the defaults below.
type Settings struct {
	// WindowSize is the number of most recent calls considered when
	// evaluating the failure rate.
	WindowSize int
	// MinSamples is the minimum number of recorded calls before the
	// failure rate is evaluated at all.
	MinSamples int
	// FailureThreshold is the failure rate (0..1] that trips the breaker.
	FailureThreshold float64
	// OpenWait is how long the breaker stays open before admitting
	// trial calls.
	OpenWait time.Duration
	// HalfOpenTrials is how many trial calls are admitted while
	// half-open. All of them must succeed to close the breaker.
	HalfOpenTrials int
}

func (s Settings) withDefaults() Settings {
	if s.WindowSize <= 0 {
		s.WindowSize = 10
	}
	if s.MinSamples <= 0 {
		s.MinSamples = 5
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 0.5
	}
	if s.OpenWait <= 0 {
		s.OpenWait = 5 * time.Second
	}
	if s.HalfOpenTrials <= 0 {
		s.HalfOpenTrials = 3
	}
	return s
}

// Breaker is an explicit circuit-breaker state machine guarding one named
// external dependency. All state transitions happen under a single mutex;
// callers share one Breaker per dependency.
type Breaker struct {
	name     string
	settings Settings

	mu          sync.Mutex
	state       State
	window      []bool // ring buffer of outcomes, true = failure
	windowIdx   int
	windowFill  int
	openedAt    time.Time
	trialsBegun int
	trialsOK    int

	now func() time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, settings Settings) *Breaker {
	s := settings.withDefaults()
	return &Breaker{
		name:     name,
		settings: s,
		window:   make([]bool, s.WindowSize),
		now:      time.Now,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, accounting for open-wait expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed right now. While half-open, each
// permitted call consumes one of the trial slots.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trialsBegun < b.settings.HalfOpenTrials {
			b.trialsBegun++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records the outcome of a permitted call that succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.push(false)
	case StateHalfOpen:
		b.trialsOK++
		if b.trialsOK >= b.settings.HalfOpenTrials {
			b.reset()
		}
	}
}

// RecordFailure records the outcome of a permitted call that failed. A
// failing trial call reopens the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.push(true)
		if b.windowFill >= b.settings.MinSamples && b.failureRate() >= b.settings.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// maybeHalfOpen transitions open -> half-open once the wait has elapsed.
// Caller must hold b.mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.OpenWait {
		b.state = StateHalfOpen
		b.trialsBegun = 0
		b.trialsOK = 0
	}
}

// push appends an outcome to the sliding window. Caller must hold b.mu.
func (b *Breaker) push(failure bool) {
	b.window[b.windowIdx] = failure
	b.windowIdx = (b.windowIdx + 1) % len(b.window)
	if b.windowFill < len(b.window) {
		b.windowFill++
	}
}

// failureRate computes the failure rate over the filled window slots.
// Caller must hold b.mu.
func (b *Breaker) failureRate() float64 {
	if b.windowFill == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.windowFill; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.windowFill)
}

// trip opens the breaker and clears the window. Caller must hold b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.clearWindow()
}

// reset closes the breaker with a clean window. Caller must hold b.mu.
func (b *Breaker) reset() {
	b.state = StateClosed
	b.clearWindow()
}

func (b *Breaker) clearWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowIdx = 0
	b.windowFill = 0
}
