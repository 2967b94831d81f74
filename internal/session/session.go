// Package session tracks the lifecycle phase of the single interaction
// session.
//
// The phases form a cycle IDLE → LISTENING → PROCESSING → RESPONDING → IDLE
// with an early exit PROCESSING → IDLE, a reset from any phase back to IDLE
// after a fault, and the absorbing TERMINATED phase. The Session is written by
// one goroutine (the orchestrator) but its [Snapshot] may be read from others,
// e.g. the control socket.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTransition is returned when a phase change is not allowed.
var ErrInvalidTransition = errors.New("session: invalid phase transition")

// Phase is a lifecycle state of the session.
type Phase int

const (
	Idle Phase = iota
	Listening
	Processing
	Responding
	Terminated
)

// String returns the upper-case phase name.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Processing:
		return "PROCESSING"
	case Responding:
		return "RESPONDING"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// next lists the forward edges of the cycle. Resets to Idle and moves to
// Terminated are handled separately.
var next = map[Phase]Phase{
	Idle:       Listening,
	Listening:  Processing,
	Processing: Responding,
	Responding: Idle,
}

// Snapshot is a copy of the session's observable state.
type Snapshot struct {
	Phase         Phase
	LastUtterance *string
	Language      string
	LastIntent    string
	Cycles        int
	CreatedAt     time.Time
}

// Session is the process-wide session state.
type Session struct {
	mu            sync.RWMutex
	phase         Phase
	lastUtterance *string
	language      string
	lastIntent    string
	cycles        int
	createdAt     time.Time
	watchers      []func(from, to Phase)
}

// New creates a session in IDLE with the given default language.
func New(language string) *Session {
	return &Session{
		phase:     Idle,
		language:  language,
		createdAt: time.Now(),
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Transition moves the session to phase to. Allowed moves are the forward
// edges of the cycle, any non-terminal phase to IDLE and any phase to
// TERMINATED (which is idempotent). Leaving TERMINATED is never allowed.
func (s *Session) Transition(to Phase) error {
	s.mu.Lock()
	from := s.phase
	switch {
	case to == Terminated:
	case from == Terminated:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	case to == Idle:
		if from == Responding {
			s.cycles++
		}
	case next[from] == to:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.phase = to
	watchers := s.watchers
	s.mu.Unlock()

	if from != to {
		for _, fn := range watchers {
			fn(from, to)
		}
	}
	return nil
}

// Terminate moves the session to TERMINATED.
func (s *Session) Terminate() {
	_ = s.Transition(Terminated)
}

// Watch registers fn to be called after every phase change. Watchers run on
// the goroutine that changed the phase, outside the session lock.
func (s *Session) Watch(fn func(from, to Phase)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Reset returns a non-terminated session to IDLE. It reports whether the
// session is usable afterwards.
func (s *Session) Reset() bool {
	return s.Transition(Idle) == nil
}

// Terminated reports whether the session reached TERMINATED.
func (s *Session) Terminated() bool {
	return s.Phase() == Terminated
}

// SetUtterance records the transcript of the current cycle.
func (s *Session) SetUtterance(text string) {
	s.mu.Lock()
	s.lastUtterance = &text
	s.mu.Unlock()
}

// SetLanguage records the language of the current cycle.
func (s *Session) SetLanguage(tag string) {
	s.mu.Lock()
	s.language = tag
	s.mu.Unlock()
}

// SetIntent records the intent of the current cycle.
func (s *Session) SetIntent(tag string) {
	s.mu.Lock()
	s.lastIntent = tag
	s.mu.Unlock()
}

// Language returns the last detected language.
func (s *Session) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Phase:      s.phase,
		Language:   s.language,
		LastIntent: s.lastIntent,
		Cycles:     s.cycles,
		CreatedAt:  s.createdAt,
	}
	if s.lastUtterance != nil {
		u := *s.lastUtterance
		snap.LastUtterance = &u
	}
	return snap
}
