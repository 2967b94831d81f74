package perception

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrame struct {
	seq     int
	closed  bool
	saveErr error
}

func (f *fakeFrame) Save(path string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return os.WriteFile(path, []byte{0xFF, 0xD8, byte(f.seq)}, 0o600)
}

func (f *fakeFrame) Close() error {
	f.closed = true
	return nil
}

type fakeCamera struct {
	frames  []*fakeFrame
	reads   int
	failAt  int
	closed  bool
	saveErr error
}

func (c *fakeCamera) Read(context.Context) (Frame, error) {
	if c.failAt > 0 && c.reads+1 == c.failAt {
		return nil, errors.New("read failed")
	}
	c.reads++
	f := &fakeFrame{seq: c.reads, saveErr: c.saveErr}
	c.frames = append(c.frames, f)
	return f, nil
}

func (c *fakeCamera) Close() error {
	c.closed = true
	return nil
}

type fakeDetector struct {
	objects []Object
	err     error
	seen    Frame
}

func (d *fakeDetector) Detect(_ context.Context, f Frame) ([]Object, error) {
	d.seen = f
	return d.objects, d.err
}

func opener(cam *fakeCamera) Opener {
	return func(context.Context) (Camera, error) { return cam, nil }
}

func TestCapture_WarmupAndTally(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	det := &fakeDetector{objects: []Object{
		{Label: "bottle", Confidence: 0.91},
		{Label: "person", Confidence: 0.6},
		{Label: "person", Confidence: 0.75},
		{Label: "chair", Confidence: 0.59},
	}}
	g := New(opener(cam), det, Options{WarmupFrames: 5, MinConfidence: 0.6, FrameDir: t.TempDir()})

	d, err := g.Capture(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, 6, cam.reads, "5 warm-up frames plus the retained one")
	assert.Same(t, cam.frames[5], det.seen, "detection must run on the frame after warm-up")
	for _, f := range cam.frames {
		assert.True(t, f.closed)
	}
	assert.True(t, cam.closed)

	assert.Equal(t, map[string]int{"bottle": 1, "person": 2}, d.Counts)
	assert.Equal(t, 2, d.People())
	assert.Equal(t, 0, d.Count("chair"), "below threshold")
	assert.Equal(t, 3, d.Total())
	assert.Equal(t, "2 person, 1 bottle", d.Summary())

	data, err := os.ReadFile(d.FrameRef)
	require.NoError(t, err)
	assert.Equal(t, byte(6), data[2])

	require.NoError(t, d.Release())
	assert.Empty(t, d.FrameRef)
	require.NoError(t, d.Release(), "release is idempotent")
}

func TestCapture_ReleaseRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g := New(opener(&fakeCamera{}), &fakeDetector{}, Options{FrameDir: dir})
	d, err := g.Capture(context.Background())
	require.NoError(t, err)

	path := d.FrameRef
	require.FileExists(t, path)
	require.NoError(t, d.Release())
	assert.NoFileExists(t, path)
}

func TestCapture_Unavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		g    func(dir string) *Gateway
	}{
		{
			name: "no opener",
			g: func(dir string) *Gateway {
				return New(nil, &fakeDetector{}, Options{FrameDir: dir})
			},
		},
		{
			name: "no detector",
			g: func(dir string) *Gateway {
				return New(opener(&fakeCamera{}), nil, Options{FrameDir: dir})
			},
		},
		{
			name: "open fails",
			g: func(dir string) *Gateway {
				return New(func(context.Context) (Camera, error) {
					return nil, errors.New("no device")
				}, &fakeDetector{}, Options{FrameDir: dir})
			},
		},
		{
			name: "warm-up read fails",
			g: func(dir string) *Gateway {
				return New(opener(&fakeCamera{failAt: 2}), &fakeDetector{}, Options{WarmupFrames: 3, FrameDir: dir})
			},
		},
		{
			name: "retained read fails",
			g: func(dir string) *Gateway {
				return New(opener(&fakeCamera{failAt: 4}), &fakeDetector{}, Options{WarmupFrames: 3, FrameDir: dir})
			},
		},
		{
			name: "detector fails",
			g: func(dir string) *Gateway {
				return New(opener(&fakeCamera{}), &fakeDetector{err: errors.New("model")}, Options{FrameDir: dir})
			},
		},
		{
			name: "save fails",
			g: func(dir string) *Gateway {
				return New(opener(&fakeCamera{saveErr: errors.New("disk")}), &fakeDetector{}, Options{FrameDir: dir})
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			d, err := tc.g(dir).Capture(context.Background())
			assert.Nil(t, d)
			assert.ErrorIs(t, err, ErrUnavailable)

			entries, rerr := os.ReadDir(dir)
			require.NoError(t, rerr)
			assert.Empty(t, entries, "no frame file may be left behind")
		})
	}
}

func TestAnalyze_SuppliedFrame(t *testing.T) {
	t.Parallel()

	det := &fakeDetector{objects: []Object{
		{Label: "cup", Confidence: 0.9},
		{Label: "cup", Confidence: 0.2},
	}}
	g := New(nil, det, Options{MinConfidence: 0.5, FrameDir: t.TempDir()})

	frame := &fakeFrame{seq: 9}
	d, err := g.Analyze(context.Background(), frame)
	require.NoError(t, err)
	t.Cleanup(func() { d.Release() })

	assert.Same(t, frame, det.seen)
	assert.Equal(t, map[string]int{"cup": 1}, d.Counts)
	assert.Equal(t, 1, d.Total())
	assert.FileExists(t, d.FrameRef)
	assert.False(t, frame.closed, "caller owns the frame")

	_, err = New(nil, nil, Options{}).Analyze(context.Background(), frame)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDetection_NilSafe(t *testing.T) {
	t.Parallel()

	var d *Detection
	assert.Equal(t, 0, d.People())
	assert.Equal(t, 0, d.Total())
	assert.Equal(t, "", d.Summary())
	assert.NoError(t, d.Release())
}

func TestDetection_SummaryOrdering(t *testing.T) {
	t.Parallel()

	d := &Detection{Counts: map[string]int{"cup": 1, "book": 1, "chair": 3}}
	assert.Equal(t, "3 chair, 1 book, 1 cup", d.Summary())
}
