// Package voice sequences audio capture, transcription, speech synthesis and
// playback for the assistant.
//
// Every call blocks until the device work is done, so two utterances never
// overlap. Synthesized speech goes through a temporary file that is removed
// after playback whether it succeeded or not.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ErrEndOfInput is returned by a Recorder that has no more audio to offer,
// such as a replay source that went through all of its recordings.
var ErrEndOfInput = errors.New("voice: end of input")

// Clip is captured mono audio.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Recorder captures audio for a fixed window.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (Clip, error)
}

// Transcriber converts a clip to text. An empty string is a valid result.
type Transcriber interface {
	Transcribe(ctx context.Context, clip Clip) (string, error)
}

// Synthesizer renders text into an audio file at out.
type Synthesizer interface {
	// Ext is the file extension of the rendered audio, e.g. ".mp3".
	Ext() string
	Synthesize(ctx context.Context, text, voice, out string) error
}

// Player plays audio on the default output device and returns when playback
// has finished.
type Player interface {
	PlayFile(ctx context.Context, path string) error
	Tone(ctx context.Context, freq float64, d time.Duration) error
}

// Ducker lowers other applications while the assistant uses the audio
// devices.
type Ducker interface {
	Duck(ctx context.Context) error
	Unduck(ctx context.Context) error
}

// Options configures a [Gateway].
type Options struct {
	// Voices maps a language tag to a synthesizer voice.
	Voices map[string]string

	// DefaultLanguage selects the voice for unknown tags.
	DefaultLanguage string

	// TempDir receives synthesized audio; empty means os.TempDir().
	TempDir string

	// Ducker is optional.
	Ducker Ducker
}

// Gateway wraps the audio collaborators.
type Gateway struct {
	rec    Recorder
	stt    Transcriber
	synth  Synthesizer
	player Player
	opts   Options
}

// New creates a Gateway.
func New(rec Recorder, stt Transcriber, synth Synthesizer, player Player, opts Options) *Gateway {
	return &Gateway{rec: rec, stt: stt, synth: synth, player: player, opts: opts}
}

// Capture records for d.
func (g *Gateway) Capture(ctx context.Context, d time.Duration) (Clip, error) {
	defer g.duck(ctx)()

	clip, err := g.rec.Record(ctx, d)
	if err != nil {
		return Clip{}, fmt.Errorf("voice: capture: %w", err)
	}
	return clip, nil
}

// Transcribe converts clip to text. An empty clip transcribes to "".
func (g *Gateway) Transcribe(ctx context.Context, clip Clip) (string, error) {
	if len(clip.Samples) == 0 {
		return "", nil
	}
	text, err := g.stt.Transcribe(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("voice: transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Speak synthesizes text with the voice of language and plays it. Blank text
// is a no-op.
func (g *Gateway) Speak(ctx context.Context, text, language string) error {
	return g.synthesize(ctx, text, language, func(path string) error {
		defer g.duck(ctx)()
		if err := g.player.PlayFile(ctx, path); err != nil {
			return fmt.Errorf("voice: play: %w", err)
		}
		return nil
	})
}

// Render synthesizes text with the voice of language and copies the encoded
// audio to w instead of playing it. Blank text writes nothing.
func (g *Gateway) Render(ctx context.Context, text, language string, w io.Writer) error {
	return g.synthesize(ctx, text, language, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("voice: open speech: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("voice: copy speech: %w", err)
		}
		return nil
	})
}

// Ext is the file extension of synthesized audio.
func (g *Gateway) Ext() string {
	return g.synth.Ext()
}

// synthesize renders text into a temporary file and hands its path to use.
// The file is removed afterwards whatever use returned.
func (g *Gateway) synthesize(ctx context.Context, text, language string, use func(path string) error) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	f, err := os.CreateTemp(g.opts.TempDir, "secondbrain-speech-*"+g.synth.Ext())
	if err != nil {
		return fmt.Errorf("voice: temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove speech file", "path", path, "err", err)
		}
	}()

	if err := g.synth.Synthesize(ctx, text, g.voice(language), path); err != nil {
		return fmt.Errorf("voice: synthesize: %w", err)
	}
	return use(path)
}

// Tone plays a sine cue.
func (g *Gateway) Tone(ctx context.Context, freq float64, d time.Duration) error {
	if freq <= 0 || d <= 0 {
		return nil
	}
	if err := g.player.Tone(ctx, freq, d); err != nil {
		return fmt.Errorf("voice: tone: %w", err)
	}
	return nil
}

func (g *Gateway) voice(language string) string {
	if v, ok := g.opts.Voices[language]; ok && v != "" {
		return v
	}
	return g.opts.Voices[g.opts.DefaultLanguage]
}

// duck lowers other streams and returns the function restoring them. Ducking
// failures are logged and otherwise ignored.
func (g *Gateway) duck(ctx context.Context) func() {
	if g.opts.Ducker == nil {
		return func() {}
	}
	if err := g.opts.Ducker.Duck(ctx); err != nil {
		slog.Warn("failed to duck other audio", "err", err)
	}
	return func() {
		if err := g.opts.Ducker.Unduck(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to restore other audio", "err", err)
		}
	}
}
