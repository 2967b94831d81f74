// Package audio talks to the sound devices: microphone capture, file replay,
// playback and ducking of other applications.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"secondbrain/internal/voice"
)

// Recorder captures a fixed window from the default input device.
//
// The audio host is initialized on first use and again after a failed
// capture, so a microphone that shows up after start-up is picked up by the
// next cycle.
type Recorder struct {
	sampleRate int
	silenceRMS float64

	mu         sync.Mutex
	ready      bool
	initialize func() error
	terminate  func() error
}

func NewRecorder(sampleRate int, silenceRMS float64) *Recorder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Recorder{
		sampleRate: sampleRate,
		silenceRMS: silenceRMS,
		initialize: portaudio.Initialize,
		terminate:  portaudio.Terminate,
	}
}

// Init initializes the audio host unless it already is.
func (r *Recorder) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	if err := r.initialize(); err != nil {
		return fmt.Errorf("audio: init input: %w", err)
	}
	r.ready = true
	return nil
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return
	}
	if err := r.terminate(); err != nil {
		slog.Warn("failed to terminate audio host", "err", err)
	}
	r.ready = false
}

// Record implements [voice.Recorder]. A capture quieter than the silence
// threshold comes back as an empty clip.
func (r *Recorder) Record(ctx context.Context, d time.Duration) (voice.Clip, error) {
	if d <= 0 {
		return voice.Clip{}, errors.New("audio: capture window must be positive")
	}
	if err := r.Init(); err != nil {
		return voice.Clip{}, err
	}

	frameSize := r.sampleRate / 50 // 20ms
	buf := make([]float32, frameSize)
	want := int(float64(r.sampleRate) * d.Seconds())
	out := make([]float32, 0, want)

	stream, err := portaudio.OpenDefaultStream(
		1, // in
		0, // no out
		float64(r.sampleRate),
		len(buf),
		buf,
	)
	if err != nil {
		r.Close()
		return voice.Clip{}, fmt.Errorf("audio: open input: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return voice.Clip{}, err
	}
	defer stream.Stop()

	for len(out) < want {
		if err := ctx.Err(); err != nil {
			return voice.Clip{}, err
		}
		if err := stream.Read(); err != nil {
			return voice.Clip{}, err
		}
		out = append(out, buf...)
	}

	return gate(voice.Clip{Samples: out[:want], SampleRate: r.sampleRate}, r.silenceRMS), nil
}

// gate empties clip when its level is below threshold.
func gate(clip voice.Clip, threshold float64) voice.Clip {
	if threshold > 0 && frameRMS(clip.Samples) < threshold {
		clip.Samples = nil
	}
	return clip
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
