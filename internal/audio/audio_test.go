package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secondbrain/internal/voice"
	"secondbrain/pkg/audioconv"
)

const sinkInputs = `Sink Input #41
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #42
	Volume: front-left: 32768 /  50% / -18.06 dB,   front-right: 32768 /  50% / -18.06 dB
	Properties:
		application.name = "secondbrain"
Sink Input #43
	Volume: front-left: 45875 /  70% / -9.29 dB
	Properties:
		application.name = "mpv"
Sink Input #bogus
	Volume: 10%
`

type fakePactl struct {
	list   string
	err    error
	volume map[string]string
}

func (f *fakePactl) run(_ context.Context, args ...string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if args[0] == "list" {
		return []byte(f.list), nil
	}
	f.volume[args[1]] = args[2]
	return nil, nil
}

func newTestDucker(p *fakePactl, fade time.Duration) *Ducker {
	d := NewDucker(DuckerConfig{SelfNames: []string{"secondbrain"}, Factor: 0.2, MinVolume: 15, Fade: fade})
	d.pactl = p.run
	d.sleep = func(time.Duration) {}
	return d
}

func TestParseSinkInputs(t *testing.T) {
	t.Parallel()

	got := parseSinkInputs(sinkInputs)
	assert.Equal(t, []streamInfo{
		{ID: 41, Volume: 100, AppName: "Firefox"},
		{ID: 42, Volume: 50, AppName: "secondbrain"},
		{ID: 43, Volume: 70, AppName: "mpv"},
	}, got)
	assert.Empty(t, parseSinkInputs(""))
}

func TestDucker_DuckAndRestore(t *testing.T) {
	t.Parallel()

	p := &fakePactl{list: sinkInputs, volume: map[string]string{}}
	d := newTestDucker(p, 0)

	require.NoError(t, d.Duck(context.Background()))
	assert.Equal(t, map[string]string{"41": "20%", "43": "15%"}, p.volume, "own stream untouched, floor applied")

	// second duck is a no-op
	p.volume = map[string]string{}
	require.NoError(t, d.Duck(context.Background()))
	assert.Empty(t, p.volume)

	p.list = strings.ReplaceAll(p.list, "100%", "20%")
	require.NoError(t, d.Unduck(context.Background()))
	assert.Equal(t, "100%", p.volume["41"])
	assert.Equal(t, "70%", p.volume["43"])

	p.volume = map[string]string{}
	require.NoError(t, d.Unduck(context.Background()))
	assert.Empty(t, p.volume, "unduck without duck is a no-op")
}

func TestDucker_FadeEndsAtTarget(t *testing.T) {
	t.Parallel()

	p := &fakePactl{list: sinkInputs, volume: map[string]string{}}
	d := newTestDucker(p, 100*time.Millisecond)

	require.NoError(t, d.Duck(context.Background()))
	assert.Equal(t, "20%", p.volume["41"])
}

func TestDucker_PactlFailure(t *testing.T) {
	t.Parallel()

	p := &fakePactl{err: errors.New("pactl: not found")}
	d := newTestDucker(p, 0)
	assert.ErrorContains(t, d.Duck(context.Background()), "pactl")
}

func TestGate(t *testing.T) {
	t.Parallel()

	quiet := voice.Clip{Samples: []float32{0.001, -0.001, 0.001}, SampleRate: 16000}
	loud := voice.Clip{Samples: []float32{0.3, -0.4, 0.2}, SampleRate: 16000}

	assert.Empty(t, gate(quiet, 0.01).Samples)
	assert.Equal(t, 16000, gate(quiet, 0.01).SampleRate)
	assert.Equal(t, loud, gate(loud, 0.01))
	assert.Equal(t, quiet, gate(quiet, 0), "zero threshold disables gating")
}

func TestRecorder_InitRetriesUntilReady(t *testing.T) {
	t.Parallel()

	var inits, terms int
	failing := true
	r := NewRecorder(16000, 0)
	r.initialize = func() error {
		inits++
		if failing {
			return errors.New("no default input device")
		}
		return nil
	}
	r.terminate = func() error {
		terms++
		return nil
	}

	r.Close()
	assert.Zero(t, terms, "nothing to terminate before init")

	assert.ErrorContains(t, r.Init(), "no default input device")
	_, err := r.Record(context.Background(), time.Second)
	assert.ErrorContains(t, err, "audio: init input")
	assert.Equal(t, 2, inits, "each capture retries")

	failing = false
	require.NoError(t, r.Init())
	require.NoError(t, r.Init())
	assert.Equal(t, 3, inits, "initialized once")

	r.Close()
	r.Close()
	assert.Equal(t, 1, terms)

	_, err = r.Record(context.Background(), 0)
	assert.ErrorContains(t, err, "must be positive")
	assert.Equal(t, 3, inits, "bad window is rejected before touching the device")
}

func writeRecording(t *testing.T, dir, name string, samples []float32) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, audioconv.EncodeWAV(f, samples, 16000))
	require.NoError(t, f.Close())
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	loud := make([]float32, 32000)
	for i := range loud {
		loud[i] = float32(0.5 * math.Sin(float64(i)/5))
	}
	writeRecording(t, dir, "02-second.wav", loud)
	writeRecording(t, dir, "01-first.wav", make([]float32, 1600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	src, err := NewFileSource(dir, 16000, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Remaining())

	clip, err := src.Record(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, clip.Samples, "silent first recording is gated")

	clip, err = src.Record(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, clip.Samples, 16000, "truncated to the capture window")

	_, err = src.Record(context.Background(), time.Second)
	assert.ErrorIs(t, err, voice.ErrEndOfInput)
}

func TestNewFileSource_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing"), 16000, 0)
	assert.Error(t, err)

	_, err = NewFileSource(t.TempDir(), 16000, 0)
	assert.ErrorContains(t, err, "no recordings")
}

func TestSine(t *testing.T) {
	t.Parallel()

	s := beep.Take(8, sine(beep.SampleRate(8), 1, 0.5))
	buf := make([][2]float64, 16)
	n, ok := s.Stream(buf)
	require.True(t, ok)
	require.Equal(t, 8, n)
	assert.InDelta(t, 0, buf[0][0], 1e-9)
	assert.InDelta(t, 0.5, buf[2][0], 1e-9)
	assert.InDelta(t, -0.5, buf[6][1], 1e-9)
}
