// Package resilience guards calls to remote backends.
//
// [Breaker] is a three-state circuit breaker: after MaxFailures consecutive
// failures it opens and rejects calls with [ErrCircuitOpen] until
// ResetTimeout has passed, then lets a single trial through. A successful
// trial closes it again, a failed one re-opens it.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State of a [Breaker].
type State int

const (
	Closed State = iota
	Open
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

// Config tunes a [Breaker]. Zero values select the defaults.
type Config struct {
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          cfg.Now,
	}
}

// Do runs fn unless the breaker is open and returns fn's error. A
// [context.Canceled] error leaves the failure count untouched.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.probing = false
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		b.failures++
		if trial || b.failures >= b.maxFailures {
			if b.state != Open {
				slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures)
			}
			b.state = Open
			b.openedAt = b.now()
		}
		return err
	}
	if b.state != Closed {
		slog.Info("circuit breaker closed", "name", b.name)
	}
	b.state = Closed
	b.failures = 0
	return nil
}

func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = HalfOpen
		slog.Info("circuit breaker half-open", "name", b.name)
		fallthrough
	case HalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

// State returns the current state. An open breaker whose timeout elapsed
// reports [HalfOpen].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}
