// Package lang decides whether a transcript is usable speech, which supported
// language it is in, and whether it is one of the termination phrases.
//
// Language detection is signal counting: every word written in a language's
// script and every stopword of that language counts one point for it. The
// language with the most points wins; no points or a tie resolves to the
// fallback language.
package lang

import (
	"strings"
	"unicode"
)

// Language describes the signals of one supported language.
type Language struct {
	Tag string

	// Script is a Unicode script name from unicode.Scripts. Optional.
	Script string

	Stopwords []string
}

// Options configures a [Classifier].
type Options struct {
	ExitPhrases []string
	Fillers     []string
	Languages   []Language
	Fallback    string
}

type profile struct {
	tag       string
	script    *unicode.RangeTable
	stopwords map[string]struct{}
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	exits    map[string]struct{}
	fillers  map[string]struct{}
	profiles []profile
	fallback string
}

// New builds a Classifier. Unknown script names are ignored.
func New(opts Options) *Classifier {
	c := &Classifier{
		exits:    toSet(opts.ExitPhrases),
		fillers:  toSet(opts.Fillers),
		fallback: opts.Fallback,
	}
	for _, l := range opts.Languages {
		p := profile{tag: l.Tag, stopwords: toSet(l.Stopwords)}
		if l.Script != "" {
			p.script = unicode.Scripts[l.Script]
		}
		c.profiles = append(c.profiles, p)
	}
	return c
}

// Fallback returns the fallback language tag.
func (c *Classifier) Fallback() string { return c.fallback }

// IsExit reports whether utterance is exactly one of the exit phrases,
// ignoring case, surrounding space and trailing punctuation.
func (c *Classifier) IsExit(utterance string) bool {
	n := Normalize(utterance)
	if n == "" {
		return false
	}
	_, ok := c.exits[n]
	return ok
}

// Classify reports whether utterance is usable speech and the language it is
// written in.
func (c *Classifier) Classify(utterance string) (valid bool, language string) {
	language = c.Detect(utterance)

	n := Normalize(utterance)
	if n == "" {
		return false, language
	}
	if _, ok := c.fillers[n]; ok {
		return false, language
	}
	return true, language
}

// Detect returns the language tag with the strongest signal in text.
func (c *Classifier) Detect(text string) string {
	words := words(strings.ToLower(text))
	if len(words) == 0 {
		return c.fallback
	}

	best, bestScore, tie := c.fallback, 0, false
	for _, p := range c.profiles {
		score := 0
		for _, w := range words {
			if p.script != nil && hasRuneIn(w, p.script) {
				score++
			}
			if _, ok := p.stopwords[w]; ok {
				score++
			}
		}
		switch {
		case score > bestScore:
			best, bestScore, tie = p.tag, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if bestScore == 0 || tie {
		return c.fallback
	}
	return best
}

// Normalize lower-cases s, trims surrounding space and strips trailing
// sentence punctuation (including the Devanagari danda).
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '!' || r == '?' || r == ',' || r == '।' || r == '॥'
	})
	return strings.TrimSpace(s)
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func hasRuneIn(w string, table *unicode.RangeTable) bool {
	for _, r := range w {
		if unicode.Is(table, r) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		if n := Normalize(it); n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}
