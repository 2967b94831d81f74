// Package assistant runs the listen, understand and answer loop.
//
// One cycle captures an utterance, transcribes it, checks for an exit phrase,
// filters noise, detects language and intent and speaks a response. Cycles run
// strictly one after another; [Assistant.Process] feeds the same pipeline from
// a remote client. A failing cycle is
// logged, the session is reset and the loop continues after a cooldown; only
// an exit phrase or context cancellation ends Run.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"secondbrain/internal/intent"
	"secondbrain/internal/lang"
	"secondbrain/internal/perception"
	"secondbrain/internal/reasoning"
	"secondbrain/internal/session"
	"secondbrain/internal/voice"
)

// ErrPanic wraps a panic recovered from a cycle.
var ErrPanic = errors.New("assistant: panic in cycle")

// ErrTerminated is returned by [Assistant.Process] once the session has
// ended.
var ErrTerminated = errors.New("assistant: session terminated")

// DefaultObserverTimeout bounds each observer call when
// Options.ObserverTimeout is zero.
const DefaultObserverTimeout = 5 * time.Second

// Voice is the audio side of the assistant.
type Voice interface {
	Capture(ctx context.Context, d time.Duration) (voice.Clip, error)
	Transcribe(ctx context.Context, clip voice.Clip) (string, error)
	Speak(ctx context.Context, text, language string) error
	Tone(ctx context.Context, freq float64, d time.Duration) error
}

// Perception grabs and analyses a camera frame.
type Perception interface {
	Capture(ctx context.Context) (*perception.Detection, error)
}

// Reasoner answers questions. It never fails; failures come back as a
// localized apology.
type Reasoner interface {
	Ask(ctx context.Context, req reasoning.Request) reasoning.Answer
}

// Messages are the fixed phrases spoken in one language.
type Messages struct {
	Greeting          string
	Farewell          string
	Retry             string
	CameraUnavailable string
	HoldSteady        string
	MicUnavailable    string
}

// Tone is a sine cue.
type Tone struct {
	Frequency float64
	Duration  time.Duration
}

// Options configures an [Assistant].
type Options struct {
	// Messages maps a language tag to its phrases. The fallback language
	// must be present.
	Messages map[string]Messages

	Cooldown        time.Duration
	FaultCooldown   time.Duration
	CaptureDuration time.Duration

	CueTone     Tone
	StartupTone Tone

	// HoldSteady speaks the stabilisation notice before a camera capture.
	HoldSteady bool

	// Greet speaks the greeting once when Run starts.
	Greet bool

	Observers []Observer

	// ObserverTimeout bounds each ObserveCycle call.
	ObserverTimeout time.Duration

	// PhaseObservers are told about every session phase change.
	PhaseObservers []PhaseObserver

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now defaults to time.Now.
	Now func() time.Time
}

// Assistant owns the session and drives the cycles.
type Assistant struct {
	voice      Voice
	perception Perception
	reasoner   Reasoner
	languages  *lang.Classifier
	intents    *intent.Classifier
	session    *session.Session
	opts       Options

	// mu runs one cycle at a time, local or remote.
	mu sync.Mutex
}

// New creates an Assistant. perception may be nil when no camera is
// configured; vision requests are then answered with the camera-unavailable
// message.
func New(v Voice, p Perception, r Reasoner, languages *lang.Classifier, intents *intent.Classifier, opts Options) *Assistant {
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ObserverTimeout <= 0 {
		opts.ObserverTimeout = DefaultObserverTimeout
	}
	s := session.New(languages.Fallback())
	if len(opts.PhaseObservers) > 0 {
		observers := opts.PhaseObservers
		s.Watch(func(from, to session.Phase) {
			for _, o := range observers {
				notifyPhase(o, from, to)
			}
		})
	}
	return &Assistant{
		voice:      v,
		perception: p,
		reasoner:   r,
		languages:  languages,
		intents:    intents,
		session:    s,
		opts:       opts,
	}
}

// Snapshot returns the current session state. Safe for concurrent use.
func (a *Assistant) Snapshot() session.Snapshot {
	return a.session.Snapshot()
}

// Run greets the user and runs cycles until the session terminates or ctx is
// cancelled. Both are clean shutdowns and return nil.
func (a *Assistant) Run(ctx context.Context) error {
	a.greet(ctx)

	for {
		if ctx.Err() != nil {
			slog.Info("shutting down", "reason", context.Cause(ctx))
			a.session.Terminate()
			return nil
		}

		err := a.safeCycle(ctx)
		switch {
		case a.session.Terminated():
			slog.Info("session terminated", "cycles", a.session.Snapshot().Cycles)
			return nil
		case errors.Is(err, voice.ErrEndOfInput):
			slog.Info("audio input exhausted")
			a.session.Terminate()
			return nil
		case err != nil && ctx.Err() != nil:
			// cancelled mid-cycle; the next iteration shuts down
		case err != nil:
			slog.Error("cycle failed", "err", err, "cooldown", a.opts.FaultCooldown)
			a.session.Reset()
			_ = a.opts.Sleep(ctx, a.opts.FaultCooldown)
		}
	}
}

// RunCycle runs one interaction cycle starting from IDLE.
func (a *Assistant) RunCycle(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := Cycle{Started: a.opts.Now()}
	err := a.cycle(ctx, &c)
	a.finish(ctx, &c, err)
	return err
}

func (a *Assistant) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			snap := a.session.Snapshot()
			c := Cycle{Started: a.opts.Now(), Language: snap.Language}
			a.finish(ctx, &c, err)
		}
	}()
	return a.RunCycle(ctx)
}

// Exchange is one request from a remote client: audio recorded on the
// client and, optionally, a frame it took.
type Exchange struct {
	Clip voice.Clip

	// Camera analyses the frame sent with the audio. Nil when the client sent
	// none.
	Camera Perception
}

// Reply is the outcome of an [Exchange]. Text is what the assistant would
// have said, in Language; it is empty for silent and need-image outcomes.
type Reply struct {
	Text     string
	Language string
	Outcome  Outcome
}

// Process runs one cycle on audio supplied by a remote client instead of the
// local devices. Nothing is played locally. A VISION request without a frame
// ends with [OutcomeNeedImage] so the client can send the same audio again
// together with a photo. A farewell terminates the session.
func (a *Assistant) Process(ctx context.Context, ex Exchange) (rep Reply, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Terminated() {
		return Reply{}, ErrTerminated
	}

	c := Cycle{Started: a.opts.Now()}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		a.finish(ctx, &c, err)
		if err != nil {
			a.session.Reset()
			rep = Reply{}
			return
		}
		rep = Reply{Text: c.Response, Language: c.Language, Outcome: c.Outcome}
	}()

	if err = a.session.Transition(session.Listening); err != nil {
		return
	}
	if err = a.understand(ctx, &c, ex.Clip, turn{camera: ex.Camera, askForImage: true}); err != nil {
		return
	}
	if c.Outcome == OutcomeFarewell {
		a.session.Terminate()
		return
	}
	err = a.session.Transition(session.Idle)
	return
}

// turn is what a cycle may use besides the clip.
type turn struct {
	camera     Perception
	holdSteady bool

	// askForImage answers a VISION request without camera with
	// OutcomeNeedImage instead of the camera-unavailable phrase.
	askForImage bool
}

func (a *Assistant) cycle(ctx context.Context, c *Cycle) error {
	if err := a.opts.Sleep(ctx, a.opts.Cooldown); err != nil {
		return err
	}

	// LISTENING
	if err := a.session.Transition(session.Listening); err != nil {
		return err
	}
	if err := a.voice.Tone(ctx, a.opts.CueTone.Frequency, a.opts.CueTone.Duration); err != nil {
		slog.Warn("cue tone failed", "err", err)
	}
	clip, err := a.voice.Capture(ctx, a.opts.CaptureDuration)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, voice.ErrEndOfInput) {
			a.micUnavailable(ctx, c)
		}
		return err
	}

	t := turn{camera: a.perception, holdSteady: a.opts.HoldSteady}
	if err := a.understand(ctx, c, clip, t); err != nil {
		return err
	}
	return a.respond(ctx, c)
}

// understand runs PROCESSING and, when there is something to answer, moves
// to RESPONDING. It leaves the outcome and the text to say in c; nothing but
// the hold-steady notice is spoken.
func (a *Assistant) understand(ctx context.Context, c *Cycle, clip voice.Clip, t turn) error {
	// PROCESSING
	if err := a.session.Transition(session.Processing); err != nil {
		return err
	}
	text, err := a.voice.Transcribe(ctx, clip)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("transcription failed", "err", err)
		c.Outcome, c.Err = OutcomeSilent, err
		return nil
	}
	text = strings.TrimSpace(text)
	a.session.SetUtterance(text)
	c.Utterance = text

	if a.languages.IsExit(text) {
		c.Language = a.languages.Detect(text)
		c.Intent = intent.Exit
		a.session.SetLanguage(c.Language)
		a.session.SetIntent(string(intent.Exit))
		if err := a.session.Transition(session.Responding); err != nil {
			return err
		}
		a.farewell(c)
		return nil
	}

	if text == "" {
		slog.Debug("heard nothing")
		c.Outcome = OutcomeSilent
		return nil
	}

	valid, language := a.languages.Classify(text)
	c.Language = language
	if !valid {
		slog.Info("utterance not understood", "text", text, "lang", language)
		c.Outcome = OutcomeRetry
		c.Response = a.messages(language).Retry
		return nil
	}

	a.session.SetLanguage(language)
	tag := a.intents.Classify(text)
	c.Intent = tag
	a.session.SetIntent(string(tag))
	slog.Info("utterance", "text", text, "lang", language, "intent", tag)

	// RESPONDING
	if err := a.session.Transition(session.Responding); err != nil {
		return err
	}
	switch tag {
	case intent.Exit:
		a.farewell(c)
	case intent.Vision:
		return a.see(ctx, c, t)
	default:
		ans := a.reasoner.Ask(ctx, reasoning.Request{Text: text, Language: language})
		a.answered(c, ans)
	}
	return nil
}

// respond speaks what understand left in c and closes the cycle.
func (a *Assistant) respond(ctx context.Context, c *Cycle) error {
	switch c.Outcome {
	case OutcomeSilent:
		return a.session.Transition(session.Idle)
	case OutcomeFarewell:
		err := a.voice.Speak(ctx, c.Response, c.Language)
		a.session.Terminate()
		if err != nil {
			slog.Warn("farewell failed", "err", err)
		}
		return nil
	}
	if err := a.voice.Speak(ctx, c.Response, c.Language); err != nil {
		return err
	}
	return a.session.Transition(session.Idle)
}

// see handles a VISION request and leaves the response in c.
func (a *Assistant) see(ctx context.Context, c *Cycle, t turn) error {
	if t.camera == nil && t.askForImage {
		c.Outcome = OutcomeNeedImage
		return nil
	}

	msgs := a.messages(c.Language)
	if t.holdSteady {
		if err := a.voice.Speak(ctx, msgs.HoldSteady, c.Language); err != nil {
			return err
		}
	}

	var (
		det *perception.Detection
		err error
	)
	if t.camera == nil {
		err = perception.ErrUnavailable
	} else {
		det, err = t.camera.Capture(ctx)
	}
	if err != nil {
		slog.Warn("camera unavailable", "err", err)
		c.Outcome = OutcomeCameraUnavailable
		c.Response = msgs.CameraUnavailable
		c.Err = err
		return nil
	}
	frame := det.FrameRef
	defer func() {
		if err := det.Release(); err != nil {
			slog.Warn("failed to remove frame", "path", frame, "err", err)
		}
	}()

	c.Objects = det.Counts
	slog.Info("scene", "objects", det.Summary(), "total", det.Total(), "people", det.People())
	ans := a.reasoner.Ask(ctx, reasoning.Request{
		Text:     c.Utterance,
		Language: c.Language,
		FrameRef: frame,
		Objects:  det.Summary(),
	})
	a.answered(c, ans)
	return nil
}

func (a *Assistant) answered(c *Cycle, ans reasoning.Answer) {
	c.Response = ans.Text
	c.Mode = ans.Mode
	if ans.Outcome == reasoning.Fallback {
		slog.Warn("reasoning failed", "mode", ans.Mode, "err", ans.Err)
		c.Outcome, c.Err = OutcomeFallback, ans.Err
		return
	}
	c.Outcome = OutcomeAnswered
}

func (a *Assistant) farewell(c *Cycle) {
	c.Outcome = OutcomeFarewell
	c.Response = a.messages(c.Language).Farewell
}

// micUnavailable tells the user, in the language of the session, that
// nothing could be recorded. Failing to say it is only logged.
func (a *Assistant) micUnavailable(ctx context.Context, c *Cycle) {
	c.Language = a.session.Language()
	c.Response = a.messages(c.Language).MicUnavailable
	if err := a.voice.Speak(ctx, c.Response, c.Language); err != nil {
		slog.Warn("microphone notice failed", "err", err)
	}
}

func (a *Assistant) greet(ctx context.Context) {
	if err := a.voice.Tone(ctx, a.opts.StartupTone.Frequency, a.opts.StartupTone.Duration); err != nil {
		slog.Warn("startup tone failed", "err", err)
	}
	if !a.opts.Greet {
		return
	}
	fallback := a.languages.Fallback()
	if err := a.voice.Speak(ctx, a.messages(fallback).Greeting, fallback); err != nil {
		slog.Warn("greeting failed", "err", err)
	}
}

// messages returns the phrases for tag, falling back per phrase to the
// fallback language.
func (a *Assistant) messages(tag string) Messages {
	fb := a.opts.Messages[a.languages.Fallback()]
	m, ok := a.opts.Messages[tag]
	if !ok {
		return fb
	}
	if m.Greeting == "" {
		m.Greeting = fb.Greeting
	}
	if m.Farewell == "" {
		m.Farewell = fb.Farewell
	}
	if m.Retry == "" {
		m.Retry = fb.Retry
	}
	if m.CameraUnavailable == "" {
		m.CameraUnavailable = fb.CameraUnavailable
	}
	if m.HoldSteady == "" {
		m.HoldSteady = fb.HoldSteady
	}
	if m.MicUnavailable == "" {
		m.MicUnavailable = fb.MicUnavailable
	}
	return m
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
