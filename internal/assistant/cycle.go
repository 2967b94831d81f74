package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"secondbrain/internal/intent"
	"secondbrain/internal/reasoning"
	"secondbrain/internal/session"
	"secondbrain/internal/voice"
)

// Outcome is how a cycle ended. Silent means nothing usable was heard and
// nothing was said; retry means speech was heard but not understood.
type Outcome string

const (
	OutcomeSilent            Outcome = "silent"
	OutcomeRetry             Outcome = "retry"
	OutcomeAnswered          Outcome = "answered"
	OutcomeFallback          Outcome = "fallback"
	OutcomeCameraUnavailable Outcome = "camera_unavailable"
	OutcomeNeedImage         Outcome = "need_image"
	OutcomeFarewell          Outcome = "farewell"
	OutcomeFault             Outcome = "fault"
)

// Cycle describes one finished interaction cycle.
type Cycle struct {
	Started  time.Time
	Duration time.Duration

	Utterance string
	Language  string
	Intent    intent.Tag // empty when classification was not reached
	Mode      reasoning.Mode
	Objects   map[string]int

	Outcome  Outcome
	Response string

	// Err is the cause of a fault, fallback or unavailable camera.
	Err error
}

// Observer is told about every finished cycle. Each call gets a context
// bounded by Options.ObserverTimeout; errors and panics are logged and do not
// affect the loop.
type Observer interface {
	ObserveCycle(ctx context.Context, c Cycle) error
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(ctx context.Context, c Cycle) error

func (f ObserverFunc) ObserveCycle(ctx context.Context, c Cycle) error { return f(ctx, c) }

// PhaseObserver is told about every session phase change. It runs on the
// cycle goroutine and must not block.
type PhaseObserver interface {
	ObservePhase(from, to session.Phase)
}

func (a *Assistant) finish(ctx context.Context, c *Cycle, err error) {
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case errors.Is(err, voice.ErrEndOfInput):
		return
	case err != nil:
		c.Outcome, c.Err = OutcomeFault, err
	}
	c.Duration = a.opts.Now().Sub(c.Started)

	for _, o := range a.opts.Observers {
		a.notify(ctx, o, *c)
	}
}

func (a *Assistant) notify(ctx context.Context, o Observer, c Cycle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.ObserverTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cycle observer panicked", "panic", r)
		}
	}()
	if err := o.ObserveCycle(ctx, c); err != nil {
		slog.Warn("cycle observer failed", "err", err)
	}
}

func notifyPhase(o PhaseObserver, from, to session.Phase) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("phase observer panicked", "panic", r)
		}
	}()
	o.ObservePhase(from, to)
}
