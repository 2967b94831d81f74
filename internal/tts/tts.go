// Package tts renders speech to audio files with external synthesizers.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type runner func(ctx context.Context, name string, args ...string) error

func run(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Edge synthesizes with the edge-tts command line tool (Microsoft neural
// voices such as "en-US-GuyNeural"). Output is mp3.
type Edge struct {
	binary string
	run    runner
}

func NewEdge(binary string) *Edge {
	if binary == "" {
		binary = "edge-tts"
	}
	return &Edge{binary: binary, run: run}
}

func (e *Edge) Ext() string { return ".mp3" }

func (e *Edge) Synthesize(ctx context.Context, text, voice, out string) error {
	args := []string{"--text", text, "--write-media", out}
	if voice != "" {
		args = append(args, "--voice", voice)
	}
	if err := e.run(ctx, e.binary, args...); err != nil {
		return err
	}
	return checkOutput(out)
}

// Espeak synthesizes offline with espeak-ng. voice is an espeak voice name
// or language code such as "en" or "hi". Output is wav.
type Espeak struct {
	binary string
	run    runner
}

func NewEspeak(binary string) *Espeak {
	if binary == "" {
		binary = "espeak-ng"
	}
	return &Espeak{binary: binary, run: run}
}

func (e *Espeak) Ext() string { return ".wav" }

func (e *Espeak) Synthesize(ctx context.Context, text, voice, out string) error {
	args := []string{"-w", out}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	// "--" keeps text starting with a dash from being read as a flag.
	args = append(args, "--", text)
	if err := e.run(ctx, e.binary, args...); err != nil {
		return err
	}
	return checkOutput(out)
}

func checkOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	if fi.Size() == 0 {
		return errors.New("tts: synthesizer produced no audio")
	}
	return nil
}
