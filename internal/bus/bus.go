// Package bus publishes cycle and phase events to a websocket message bus so
// other processes (a caregiver dashboard, a logger) can follow the
// conversation.
//
// Observers only enqueue; a goroutine running [Bus.Run] does the network
// work, so a slow or silent bus never holds up a cycle.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"secondbrain/internal/assistant"
	"secondbrain/internal/session"
)

const (
	source       = "secondbrain"
	writeTimeout = 2 * time.Second
	queueSize    = 64
)

var (
	// ErrBackoff is returned while the bus waits before redialing.
	ErrBackoff = errors.New("bus: reconnect backoff")

	// ErrQueueFull is returned when messages arrive faster than they are sent.
	ErrQueueFull = errors.New("bus: queue full")
)

// Message is the envelope on the wire.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`

	// Previous is the phase left, on phase messages.
	Previous string `json:"previous,omitempty"`

	Utterance string         `json:"utterance,omitempty"`
	Lang      string         `json:"lang,omitempty"`
	Intent    string         `json:"intent,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Objects   map[string]int `json:"objects,omitempty"`
	Time      time.Time      `json:"time"`
}

// Bus is a publish-only websocket client. It dials lazily and redials after
// a failure, at most once per reconnect interval.
type Bus struct {
	mu        sync.Mutex
	url       string
	conn      *websocket.Conn
	reconnect time.Duration
	lastDial  time.Time
	now       func() time.Time
	dialer    *websocket.Dialer
	queue     chan *Message
}

func New(wsURL string, reconnect time.Duration) (*Bus, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("bus: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bus: unsupported scheme %q", u.Scheme)
	}
	return &Bus{
		url:       u.String(),
		reconnect: reconnect,
		now:       time.Now,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeTimeout,
		},
		queue: make(chan *Message, queueSize),
	}, nil
}

// ObserveCycle implements [assistant.Observer]. It only queues the event.
func (b *Bus) ObserveCycle(_ context.Context, c assistant.Cycle) error {
	return b.Enqueue(&Message{
		To:        "*",
		Kind:      "cycle",
		Content:   c.Response,
		Utterance: c.Utterance,
		Lang:      c.Language,
		Intent:    string(c.Intent),
		Outcome:   string(c.Outcome),
		Objects:   c.Objects,
		Time:      c.Started,
	})
}

// ObservePhase implements [assistant.PhaseObserver].
func (b *Bus) ObservePhase(from, to session.Phase) {
	err := b.Enqueue(&Message{
		To:       "*",
		Kind:     "phase",
		Content:  to.String(),
		Previous: from.String(),
		Time:     b.now(),
	})
	if err != nil {
		slog.Debug("dropped phase event", "phase", to, "err", err)
	}
}

// Enqueue hands m to [Bus.Run] without blocking.
func (b *Bus) Enqueue(m *Message) error {
	select {
	case b.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run publishes queued messages until ctx is done. A message that cannot be
// sent is logged and dropped.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.queue:
			pctx, cancel := context.WithTimeout(ctx, 2*writeTimeout)
			err := b.Publish(pctx, m)
			cancel()
			switch {
			case errors.Is(err, ErrBackoff):
				slog.Debug("bus unavailable, dropped event", "kind", m.Kind)
			case err != nil:
				slog.Warn("failed to publish event", "kind", m.Kind, "err", err)
			}
		}
	}
}

// Publish sends m, dialing first if needed. It blocks for at most the
// handshake and write timeouts.
func (b *Bus) Publish(ctx context.Context, m *Message) error {
	if m.From == "" {
		m.From = source
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		if err := b.dial(ctx); err != nil {
			return err
		}
	}

	_ = b.conn.SetWriteDeadline(b.now().Add(writeTimeout))
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = b.conn.Close()
		b.conn = nil
		return fmt.Errorf("bus: write: %w", err)
	}
	return nil
}

func (b *Bus) dial(ctx context.Context) error {
	if !b.lastDial.IsZero() && b.now().Sub(b.lastDial) < b.reconnect {
		return ErrBackoff
	}
	b.lastDial = b.now()

	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("bus: dial %s: %w", b.url, err)
	}
	slog.Info("connected to bus", "url", b.url)
	b.conn = conn
	return nil
}

// Close sends a close frame and drops the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), b.now().Add(writeTimeout))
	err := b.conn.Close()
	b.conn = nil
	return err
}
