package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"secondbrain/pkg/audioconv"
)

// Remote transcribes through an OpenAI-compatible /audio/transcriptions
// endpoint (OpenAI, Groq).
type Remote struct {
	client   openai.Client
	model    string
	language string
	tmpDir   string
}

// NewRemote creates the engine. language may be empty for auto-detection.
func NewRemote(model, language string, opts ...option.RequestOption) (*Remote, error) {
	if model == "" {
		return nil, errors.New("stt: remote model must not be empty")
	}
	return &Remote{client: openai.NewClient(opts...), model: model, language: language}, nil
}

// Transcribe uploads pcm as a 16-bit WAV file.
func (r *Remote) Transcribe(ctx context.Context, pcm []float32, sampleRate int) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, errors.New("stt: no audio samples provided")
	}

	f, err := os.CreateTemp(r.tmpDir, "secondbrain-utterance-*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("stt: temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := audioconv.EncodeWAV(f, pcm, sampleRate); err != nil {
		return Result{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("stt: rewind: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(r.model),
	}
	if r.language != "" && r.language != "auto" {
		params.Language = openai.String(r.language)
	}

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("stt: transcription: %w", err)
	}
	return Result{Text: Clean(resp.Text), Language: r.language}, nil
}
