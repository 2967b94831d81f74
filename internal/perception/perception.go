// Package perception turns one camera frame into a tally of detected objects.
//
// A capture opens the camera, throws away a few warm-up frames while
// auto-exposure settles, keeps the next frame, runs the detector on it and
// stores the frame as a JPEG file for downstream reasoning. Anything that
// prevents this (no device, no model, read failure) is reported as
// [ErrUnavailable].
package perception

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrUnavailable signals that no frame or detection could be produced.
var ErrUnavailable = errors.New("perception: camera unavailable")

// Frame is one captured image. The caller owns it and must Close it.
type Frame interface {
	// Save writes the frame to path as JPEG.
	Save(path string) error
	Close() error
}

// Camera is an open capture device.
type Camera interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Opener opens the camera for one capture.
type Opener func(ctx context.Context) (Camera, error)

// Object is a single detection.
type Object struct {
	Label      string
	Confidence float64
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]Object, error)
}

// Options tunes the gateway.
type Options struct {
	// WarmupFrames are read and discarded before the retained frame.
	WarmupFrames int

	// MinConfidence drops detections below it.
	MinConfidence float64

	// FrameDir receives frame files; empty means os.TempDir().
	FrameDir string
}

// Gateway wraps camera capture and object detection behind one call.
type Gateway struct {
	open     Opener
	detector Detector
	opts     Options
}

// New creates a Gateway. A nil opener or detector makes every capture
// report [ErrUnavailable].
func New(open Opener, detector Detector, opts Options) *Gateway {
	if opts.WarmupFrames < 0 {
		opts.WarmupFrames = 0
	}
	return &Gateway{open: open, detector: detector, opts: opts}
}

// Capture acquires one frame and returns its detections. On failure the
// returned Detection is nil and the error wraps [ErrUnavailable].
func (g *Gateway) Capture(ctx context.Context) (*Detection, error) {
	if g.open == nil || g.detector == nil {
		return nil, fmt.Errorf("%w: vision pipeline not configured", ErrUnavailable)
	}

	cam, err := g.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open camera: %v", ErrUnavailable, err)
	}
	defer cam.Close()

	for i := 0; i < g.opts.WarmupFrames; i++ {
		f, err := cam.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: warm-up frame %d: %v", ErrUnavailable, i, err)
		}
		f.Close()
	}

	frame, err := cam.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read frame: %v", ErrUnavailable, err)
	}
	defer frame.Close()

	return g.Analyze(ctx, frame)
}

// Analyze runs the detector on a frame obtained elsewhere, such as an image
// uploaded by a remote client, and stores it like a captured one. The caller
// keeps ownership of frame.
func (g *Gateway) Analyze(ctx context.Context, frame Frame) (*Detection, error) {
	if g.detector == nil {
		return nil, fmt.Errorf("%w: no detector configured", ErrUnavailable)
	}

	objects, err := g.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: detect: %v", ErrUnavailable, err)
	}

	counts := make(map[string]int)
	for _, o := range objects {
		if o.Confidence >= g.opts.MinConfidence {
			counts[o.Label]++
		}
	}

	path, err := g.persist(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: store frame: %v", ErrUnavailable, err)
	}

	return &Detection{Counts: counts, FrameRef: path}, nil
}

func (g *Gateway) persist(frame Frame) (string, error) {
	f, err := os.CreateTemp(g.opts.FrameDir, "secondbrain-frame-*.jpg")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()

	if err := frame.Save(path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Detection is the label→count tally of one capture plus the stored frame.
type Detection struct {
	Counts   map[string]int
	FrameRef string
}

// Count returns how many objects with label were detected.
func (d *Detection) Count(label string) int {
	if d == nil {
		return 0
	}
	return d.Counts[label]
}

// People is the person count view of the tally.
func (d *Detection) People() int { return d.Count("person") }

// Total returns the number of detected objects.
func (d *Detection) Total() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, c := range d.Counts {
		n += c
	}
	return n
}

// Summary renders the tally as "2 chair, 1 person", most frequent first and
// alphabetically among equals. An empty tally renders as "".
func (d *Detection) Summary() string {
	if d == nil || len(d.Counts) == 0 {
		return ""
	}
	labels := make([]string, 0, len(d.Counts))
	for l := range d.Counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		ci, cj := d.Counts[labels[i]], d.Counts[labels[j]]
		if ci != cj {
			return ci > cj
		}
		return labels[i] < labels[j]
	})
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = strconv.Itoa(d.Counts[l]) + " " + l
	}
	return strings.Join(parts, ", ")
}

// Release removes the stored frame. It is safe to call more than once.
func (d *Detection) Release() error {
	if d == nil || d.FrameRef == "" {
		return nil
	}
	err := os.Remove(d.FrameRef)
	d.FrameRef = ""
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
