package external

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrDependencyUnavailable is what the simulated remote returns when a call
// is dropped.
var ErrDependencyUnavailable = errors.New("external dependency unavailable")

// Location is the coarse geo answer from the lookup dependency.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// Dependency models the remote validation and lookup API. Production would
// back this with HTTP calls; tests and local runs use Simulated.
type Dependency interface {
	CheckEmail(ctx context.Context, email string) (bool, error)
	Locate(ctx context.Context, ip string) (Location, error)
	Ping(ctx context.Context) error
}

// Simulated is an in-process Dependency with a configurable failure rate and
// latency, standing in for a flaky remote API.
type Simulated struct {
	mu          sync.Mutex
	failureRate float64
	latency     time.Duration
	rng         *rand.Rand
}

// NewSimulated creates a simulated dependency failing roughly failureRate of
// calls (0 never fails, 1 always fails).
func NewSimulated(failureRate float64, latency time.Duration) *Simulated {
	return &Simulated{
		failureRate: failureRate,
		latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetFailureRate adjusts the failure rate at runtime.
func (s *Simulated) SetFailureRate(rate float64) {
	s.mu.Lock()
	s.failureRate = rate
	s.mu.Unlock()
}

func (s *Simulated) call(ctx context.Context) error {
	s.mu.Lock()
	fail := s.rng.Float64() < s.failureRate
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return ErrDependencyUnavailable
	}
	return nil
}

func (s *Simulated) CheckEmail(ctx context.Context, email string) (bool, error) {
	if err := s.call(ctx); err != nil {
		return false, err
	}
	return emailLooksValid(email), nil
}

func (s *Simulated) Locate(ctx context.Context, ip string) (Location, error) {
	if err := s.call(ctx); err != nil {
		return Location{}, err
	}
	if ip == "127.0.0.1" || ip == "::1" {
		return Location{Country: "local", City: "localhost"}, nil
	}
	return Location{Country: "US", City: "San Francisco"}, nil
}

func (s *Simulated) Ping(ctx context.Context) error {
	return s.call(ctx)
}
