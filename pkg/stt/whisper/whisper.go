// Package whisper runs speech recognition locally with whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	wcpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"secondbrain/pkg/stt"
)

type Options struct {
	Language      string  // e.g. "auto", "en", "hi"
	Threads       int     // <=0 => NumCPU()
	InitialPrompt string  // optional prefix prompt
	BeamSize      int     // 0 = greedy
	Temperature   float32 // 0 = default
}

// Engine holds a loaded model. Contexts are created per call, calls are
// serialized.
type Engine struct {
	mu    sync.Mutex
	model wcpp.Model
	opts  Options
}

func New(modelPath string, opts Options) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: empty model path")
	}
	m, err := wcpp.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	if opts.Language == "" {
		opts.Language = "auto"
	}
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	return &Engine{model: m, opts: opts}, nil
}

func (e *Engine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// Transcribe expects mono float32 samples at 16 kHz.
func (e *Engine) Transcribe(ctx context.Context, pcm16k []float32) (stt.Result, error) {
	if e.model == nil {
		return stt.Result{}, errors.New("whisper: nil model")
	}
	if len(pcm16k) == 0 {
		return stt.Result{}, errors.New("whisper: no audio samples provided")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(e.opts.Language); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: set language: %w", err)
	}
	wctx.SetTranslate(false)
	wctx.SetThreads(uint(e.opts.Threads))
	if e.opts.BeamSize > 0 {
		wctx.SetBeamSize(e.opts.BeamSize)
	}
	if e.opts.InitialPrompt != "" {
		wctx.SetInitialPrompt(e.opts.InitialPrompt)
	}
	if e.opts.Temperature != 0 {
		wctx.SetTemperature(e.opts.Temperature)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process: %w", err)
	}

	var (
		segs  []stt.Segment
		parts []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return stt.Result{}, err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: next segment: %w", err)
		}
		segs = append(segs, stt.Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		parts = append(parts, s.Text)
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return stt.Result{
		Text:     stt.Clean(strings.Join(parts, " ")),
		Segments: segs,
		Language: lang,
	}, nil
}
