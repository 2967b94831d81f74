// Package remote serves phone clients that record speech and take photos on
// their own and hand them to the assistant over HTTP.
//
// A client POSTs a multipart form to /process with an "audio" part and, when
// asked for one, an "image" part. The reply is either the synthesized answer
// as audio or a small JSON status:
//
//	{"status":"need_image"}  resend the same audio with a photo
//	{"status":"silent"}      nothing to say
//	{"status":"error", ...}  the request failed
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"secondbrain/internal/assistant"
	"secondbrain/internal/perception"
	"secondbrain/internal/voice"
	"secondbrain/pkg/audioconv"
)

const (
	// DefaultMaxBytes bounds a whole request body.
	DefaultMaxBytes = 32 << 20

	memoryLimit = 4 << 20
)

// Pipeline runs one cycle on client supplied input.
type Pipeline interface {
	Process(ctx context.Context, ex assistant.Exchange) (assistant.Reply, error)
}

// Renderer synthesizes reply text into encoded audio.
type Renderer interface {
	Render(ctx context.Context, text, language string, w io.Writer) error
	Ext() string
}

// Analyzer runs object detection on an encoded image.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (*perception.Detection, error)
}

// AnalyzerFunc adapts a function to [Analyzer].
type AnalyzerFunc func(ctx context.Context, image []byte) (*perception.Detection, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, image []byte) (*perception.Detection, error) {
	return f(ctx, image)
}

// Options configures a [Server].
type Options struct {
	// SampleRate the audio is decoded to; 0 means 16 kHz.
	SampleRate int

	// MaxBytes bounds the request body; 0 means DefaultMaxBytes.
	MaxBytes int64

	// TempDir receives uploaded audio while it is decoded.
	TempDir string

	// OnTerminate is called once the farewell has been sent.
	OnTerminate func()
}

// Server is the /process handler.
type Server struct {
	pipeline Pipeline
	renderer Renderer
	analyzer Analyzer
	opts     Options
}

// New creates a Server. analyzer may be nil, in which case image requests are
// answered with the camera-unavailable phrase.
func New(p Pipeline, r Renderer, a Analyzer, opts Options) *Server {
	if opts.SampleRate <= 0 {
		opts.SampleRate = audioconv.DefaultSampleRate
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &Server{pipeline: p, renderer: r, analyzer: a, opts: opts}
}

type status struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBytes)

	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad multipart body: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, hdr, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing audio part"))
		return
	}
	samples, err := s.decode(ctx, part, hdr.Filename)
	part.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ex := assistant.Exchange{Clip: voice.Clip{Samples: samples, SampleRate: s.opts.SampleRate}}
	if img, _, err := r.FormFile("image"); err == nil {
		data, rerr := io.ReadAll(img)
		img.Close()
		if rerr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read image: %w", rerr))
			return
		}
		ex.Camera = still{analyzer: s.analyzer, image: data}
	}

	rep, err := s.pipeline.Process(ctx, ex)
	switch {
	case errors.Is(err, assistant.ErrTerminated):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		slog.Error("remote cycle failed", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("cycle failed"))
		return
	}

	switch {
	case rep.Outcome == assistant.OutcomeNeedImage:
		writeJSON(w, http.StatusOK, status{Status: "need_image"})
	case strings.TrimSpace(rep.Text) == "":
		writeJSON(w, http.StatusOK, status{Status: "silent"})
	default:
		s.speak(ctx, w, rep)
	}

	if rep.Outcome == assistant.OutcomeFarewell && s.opts.OnTerminate != nil {
		s.opts.OnTerminate()
	}
}

// speak renders the reply before writing anything so a synthesis failure can
// still become an error status.
func (s *Server) speak(ctx context.Context, w http.ResponseWriter, rep assistant.Reply) {
	var buf strings.Builder
	if err := s.renderer.Render(ctx, rep.Text, rep.Language, &buf); err != nil {
		slog.Error("failed to render reply", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("speech synthesis failed"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentType(s.renderer.Ext()))
	h.Set("Content-Language", rep.Language)
	h.Set("X-Outcome", string(rep.Outcome))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, buf.String()); err != nil {
		slog.Warn("failed to send reply", "err", err)
	}
}

// decode stores the upload in a temporary file so the decoder can pick the
// format from its extension or magic bytes.
func (s *Server) decode(ctx context.Context, part io.Reader, name string) ([]float32, error) {
	f, err := os.CreateTemp(s.opts.TempDir, "secondbrain-upload-*"+filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	_, err = io.Copy(f, part)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}

	samples, err := audioconv.DecodeFile(ctx, path, audioconv.Options{SampleRate: s.opts.SampleRate})
	if err != nil {
		return nil, fmt.Errorf("unreadable audio: %w", err)
	}
	return samples, nil
}

// still is a camera that always returns the uploaded image.
type still struct {
	analyzer Analyzer
	image    []byte
}

func (c still) Capture(ctx context.Context) (*perception.Detection, error) {
	if c.analyzer == nil {
		return nil, fmt.Errorf("%w: no detector configured", perception.ErrUnavailable)
	}
	if len(c.image) == 0 {
		return nil, fmt.Errorf("%w: empty image", perception.ErrUnavailable)
	}
	return c.analyzer.Analyze(ctx, c.image)
}

var contentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".ogg": "audio/ogg",
}

func contentType(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, status{Status: "error", Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}
