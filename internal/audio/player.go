package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const (
	outputRate    = beep.SampleRate(44100)
	toneAmplitude = 0.3
)

// Player plays synthesized speech and cue tones on the default output.
// One sound plays at a time.
type Player struct {
	mu sync.Mutex
}

// NewPlayer initializes the speaker.
func NewPlayer() (*Player, error) {
	if err := speaker.Init(outputRate, outputRate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("audio: speaker init: %w", err)
	}
	return &Player{}, nil
}

// PlayFile decodes an mp3 or wav file and blocks until it has been played.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		return fmt.Errorf("audio: cannot play %q files", ext)
	}
	if err != nil {
		return fmt.Errorf("audio: decode %s: %w", path, err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != outputRate {
		s = beep.Resample(4, format.SampleRate, outputRate, streamer)
	}
	return p.play(ctx, s)
}

// Tone plays a sine wave.
func (p *Player) Tone(ctx context.Context, freq float64, d time.Duration) error {
	return p.play(ctx, beep.Take(outputRate.N(d), sine(outputRate, freq, toneAmplitude)))
}

func (p *Player) play(ctx context.Context, s beep.Streamer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func sine(rate beep.SampleRate, freq, amp float64) beep.Streamer {
	var pos int
	step := 2 * math.Pi * freq / float64(rate)
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := amp * math.Sin(step*float64(pos))
			samples[i][0], samples[i][1] = v, v
			pos++
		}
		return len(samples), true
	})
}
