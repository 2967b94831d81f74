package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"secondbrain/internal/voice"
	"secondbrain/pkg/audioconv"
)

// FileSource replays recordings from a directory in name order, one per
// capture. It stands in for the microphone on headless machines.
type FileSource struct {
	mu         sync.Mutex
	files      []string
	next       int
	sampleRate int
	silenceRMS float64
}

func NewFileSource(dir string, sampleRate int, silenceRMS float64) (*FileSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("audio: replay dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(audioconv.Extensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("audio: no recordings in %s", dir)
	}
	slices.Sort(files)

	if sampleRate <= 0 {
		sampleRate = audioconv.DefaultSampleRate
	}
	return &FileSource{files: files, sampleRate: sampleRate, silenceRMS: silenceRMS}, nil
}

// Record implements [voice.Recorder]. The recording is truncated to d.
// After the last file it returns [voice.ErrEndOfInput].
func (s *FileSource) Record(ctx context.Context, d time.Duration) (voice.Clip, error) {
	s.mu.Lock()
	if s.next >= len(s.files) {
		s.mu.Unlock()
		return voice.Clip{}, voice.ErrEndOfInput
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	slog.Debug("replaying recording", "path", path)
	pcm, err := audioconv.DecodeFile(ctx, path, audioconv.Options{
		SampleRate: s.sampleRate,
		MaxSamples: int(float64(s.sampleRate) * d.Seconds()),
	})
	if err != nil {
		return voice.Clip{}, err
	}
	return gate(voice.Clip{Samples: pcm, SampleRate: s.sampleRate}, s.silenceRMS), nil
}

// Remaining reports how many recordings are left.
func (s *FileSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files) - s.next
}
