// Package reasoning asks the remote language model for an answer.
//
// The gateway has two modes chosen only by whether a frame reference is
// given: text-only for conversation and text+image for describing the
// surroundings. It never returns an error: every failure of the backend is
// turned into the apology of the requested language, tagged with
// [Fallback] so callers can tell the two apart.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"secondbrain/internal/resilience"
)

// Mode is the request kind.
type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

// Outcome tags an [Answer].
type Outcome int

const (
	// Answered means the text came from the backend.
	Answered Outcome = iota

	// Fallback means the backend failed and the text is the apology.
	Fallback
)

func (o Outcome) String() string {
	if o == Fallback {
		return "fallback"
	}
	return "answered"
}

// Image is an inline image attached to a completion.
type Image struct {
	Data []byte
	MIME string
}

// Completion is what the backend receives.
type Completion struct {
	System string
	User   string
	Image  *Image
}

// Client is the remote reasoning backend.
type Client interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// Language names a supported language and its apology.
type Language struct {
	Tag     string
	Name    string
	Apology string
}

// Request is one question.
type Request struct {
	Text     string
	Language string

	// FrameRef is the path of a captured JPEG frame. Non-empty selects
	// image mode.
	FrameRef string

	// Objects is an optional detection summary added to image requests.
	Objects string
}

// Answer is the gateway's reply.
type Answer struct {
	Text     string
	Language string
	Mode     Mode
	Outcome  Outcome

	// Err is the backend failure behind a Fallback answer.
	Err error
}

// Options configures a [Gateway].
type Options struct {
	Languages []Language
	Fallback  string

	// Timeout bounds each backend call. Zero means no extra bound.
	Timeout time.Duration

	// Breaker, when set, short-circuits calls while the backend is down.
	Breaker *resilience.Breaker
}

// Gateway wraps a [Client].
type Gateway struct {
	client    Client
	languages map[string]Language
	fallback  string
	timeout   time.Duration
	breaker   *resilience.Breaker
}

// New creates a Gateway.
func New(client Client, opts Options) *Gateway {
	g := &Gateway{
		client:    client,
		languages: make(map[string]Language, len(opts.Languages)),
		fallback:  opts.Fallback,
		timeout:   opts.Timeout,
		breaker:   opts.Breaker,
	}
	for _, l := range opts.Languages {
		g.languages[l.Tag] = l
	}
	return g
}

// SystemInstruction is the fixed instruction for answers in language.
func SystemInstruction(language string) string {
	return "You are an assistive 'Second Brain' for a blind person. " +
		"Provide very concise, descriptive, and helpful answers. " +
		"Answer in " + language + "."
}

// Ask sends req to the backend and always returns something speakable.
func (g *Gateway) Ask(ctx context.Context, req Request) Answer {
	lang := g.language(req.Language)
	ans := Answer{Language: lang.Tag, Mode: ModeText}
	if req.FrameRef != "" {
		ans.Mode = ModeImage
	}

	text, err := g.complete(ctx, lang, req, ans.Mode)
	if err != nil {
		slog.Error("reasoning request failed", "mode", ans.Mode, "lang", lang.Tag, "err", err)
		ans.Text, ans.Outcome, ans.Err = lang.Apology, Fallback, err
		return ans
	}
	ans.Text = text
	return ans
}

func (g *Gateway) complete(ctx context.Context, lang Language, req Request, mode Mode) (string, error) {
	if g.client == nil {
		return "", errors.New("reasoning: no backend configured")
	}

	c := Completion{
		System: SystemInstruction(lang.Name),
		User:   req.Text,
	}
	if mode == ModeImage {
		data, err := os.ReadFile(req.FrameRef)
		if err != nil {
			return "", fmt.Errorf("reasoning: read frame: %w", err)
		}
		c.Image = &Image{Data: data, MIME: "image/jpeg"}
		if req.Objects != "" {
			c.User = strings.TrimSpace(req.Text) + "\nObjects detected: " + req.Objects + "."
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var text string
	call := func() error {
		out, err := g.client.Complete(ctx, c)
		if err != nil {
			return err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return errors.New("reasoning: empty completion")
		}
		text = out
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Do(call)
	} else {
		err = call()
	}
	return text, err
}

func (g *Gateway) language(tag string) Language {
	if l, ok := g.languages[tag]; ok {
		return fillLanguage(l)
	}
	if l, ok := g.languages[g.fallback]; ok {
		return fillLanguage(l)
	}
	return fillLanguage(Language{Tag: tag})
}

func fillLanguage(l Language) Language {
	if l.Name == "" {
		l.Name = l.Tag
	}
	if l.Apology == "" {
		l.Apology = "Sorry, I cannot answer right now."
	}
	return l
}
