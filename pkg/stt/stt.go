// Package stt holds the speech-to-text result types shared by the local and
// remote engines, and the remote OpenAI-compatible engine itself. The local
// whisper.cpp engine lives in the whisper subpackage because it needs cgo.
package stt

import (
	"regexp"
	"strings"
)

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

var (
	annotationRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Clean removes non-speech annotations such as "[BLANK_AUDIO]" or "(music)"
// and collapses whitespace.
func Clean(text string) string {
	text = annotationRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}
