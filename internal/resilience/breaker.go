// Package resilience guards codec backends with circuit breakers and walks a
// fallback chain when a cascade is requested.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls until the reset timeout elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of successful probes needed to close.
	// Default: 1.
	HalfOpenProbes int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probes       int
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
	passed   int
}

// NewBreaker creates a closed breaker. Zero-value config fields take
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probes:       cfg.HalfOpenProbes,
		now:          cfg.Now,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = HalfOpen
		b.inFlight, b.passed = 0, 0
		slog.Info("circuit breaker half-open", "name", b.name)
	}
	if b.state == HalfOpen {
		if b.inFlight >= b.probes {
			return false, ErrCircuitOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if probe {
			b.trip("probe failed")
			return
		}
		b.failures++
		if b.state == Closed && b.failures >= b.maxFailures {
			b.trip("consecutive failures")
		}
		return
	}

	if probe {
		b.inFlight--
		b.passed++
		if b.passed >= b.probes {
			b.state = Closed
			b.failures = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// trip opens the breaker. Must be called with mu held.
func (b *Breaker) trip(reason string) {
	b.state = Open
	b.openedAt = b.now()
	slog.Warn("circuit breaker opened",
		"name", b.name,
		"reason", reason,
		"failures", b.failures)
}

// State reports the breaker state. An open breaker whose timeout has elapsed
// reads as half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures, b.inFlight, b.passed = 0, 0, 0
}
