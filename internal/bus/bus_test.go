package bus

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secondbrain/internal/assistant"
	"secondbrain/internal/intent"
	"secondbrain/internal/session"
)

// sink is a websocket server collecting messages.
type sink struct {
	mu       sync.Mutex
	messages []Message
	conns    []*websocket.Conn
	received chan struct{}
}

func newSink(t *testing.T) (*sink, string) {
	t.Helper()
	s := &sink{received: make(chan struct{}, 16)}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m Message
			if json.Unmarshal(data, &m) == nil {
				s.mu.Lock()
				s.messages = append(s.messages, m)
				s.mu.Unlock()
				s.received <- struct{}{}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *sink) wait(t *testing.T, n int) []Message {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.received:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func TestBus_ObserveCycle(t *testing.T) {
	t.Parallel()
	s, url := newSink(t)

	b, err := New(url, time.Second)
	require.NoError(t, err)
	defer b.Close()
	run(t, b)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, b.ObserveCycle(context.Background(), assistant.Cycle{
		Started:   started,
		Utterance: "what is in front of me",
		Language:  "en",
		Intent:    intent.Vision,
		Outcome:   assistant.OutcomeAnswered,
		Response:  "A bottle.",
		Objects:   map[string]int{"bottle": 1},
	}))

	msgs := s.wait(t, 1)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "secondbrain", m.From)
	assert.Equal(t, "*", m.To)
	assert.Equal(t, "cycle", m.Kind)
	assert.Equal(t, "A bottle.", m.Content)
	assert.Equal(t, "VISION", m.Intent)
	assert.Equal(t, map[string]int{"bottle": 1}, m.Objects)
	assert.True(t, started.Equal(m.Time))
}

// run drains b until the test ends.
func run(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// silentHost accepts TCP connections and never answers.
func silentHost(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return "ws://" + ln.Addr().String() + "/bus"
}

func TestBus_PhaseEvents(t *testing.T) {
	t.Parallel()
	s, url := newSink(t)

	b, err := New(url, time.Second)
	require.NoError(t, err)
	defer b.Close()
	run(t, b)

	b.ObservePhase(session.Idle, session.Listening)
	b.ObservePhase(session.Listening, session.Processing)

	msgs := s.wait(t, 2)
	require.Len(t, msgs, 2)
	assert.Equal(t, "phase", msgs[0].Kind)
	assert.Equal(t, "LISTENING", msgs[0].Content)
	assert.Equal(t, "IDLE", msgs[0].Previous)
	assert.Equal(t, "PROCESSING", msgs[1].Content)
	assert.Equal(t, "LISTENING", msgs[1].Previous)
}

func TestBus_SilentHostDoesNotBlockObservers(t *testing.T) {
	t.Parallel()

	b, err := New(silentHost(t), time.Minute)
	require.NoError(t, err)
	run(t, b)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.ObserveCycle(context.Background(), assistant.Cycle{Response: "hi"}))
		b.ObservePhase(session.Idle, session.Listening)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond, "observers only enqueue")
}

func TestBus_PublishToSilentHostTimesOut(t *testing.T) {
	t.Parallel()

	b, err := New(silentHost(t), 0)
	require.NoError(t, err)

	start := time.Now()
	err = b.Publish(context.Background(), &Message{Kind: "cycle"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "dial")
	assert.Less(t, time.Since(start), 2*writeTimeout, "handshake is bounded")
}

func TestBus_QueueFull(t *testing.T) {
	t.Parallel()

	b, err := New("ws://127.0.0.1:1/bus", time.Minute)
	require.NoError(t, err)

	for i := 0; i < queueSize; i++ {
		require.NoError(t, b.Enqueue(&Message{Kind: "cycle"}))
	}
	assert.ErrorIs(t, b.Enqueue(&Message{Kind: "cycle"}), ErrQueueFull)
	assert.ErrorIs(t, b.ObserveCycle(context.Background(), assistant.Cycle{}), ErrQueueFull)
	b.ObservePhase(session.Idle, session.Listening)
}

func TestBus_ReconnectsAfterFailure(t *testing.T) {
	t.Parallel()
	s, url := newSink(t)

	b, err := New(url, time.Minute)
	require.NoError(t, err)
	defer b.Close()
	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Publish(context.Background(), &Message{Kind: "a"}))
	s.wait(t, 1)

	// Break the client side of the connection.
	b.mu.Lock()
	_ = b.conn.Close()
	b.mu.Unlock()

	assert.Error(t, b.Publish(context.Background(), &Message{Kind: "b"}), "write on a closed conn fails")
	assert.ErrorIs(t, b.Publish(context.Background(), &Message{Kind: "c"}), ErrBackoff)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Publish(context.Background(), &Message{Kind: "d"}))
	msgs := s.wait(t, 1)
	assert.Equal(t, "d", msgs[len(msgs)-1].Kind)
}

func TestNew_RejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"http://localhost:1", "::bad", ""} {
		_, err := New(u, time.Second)
		assert.Error(t, err, u)
	}
}

func TestBus_DialFailure(t *testing.T) {
	t.Parallel()

	b, err := New("ws://127.0.0.1:1/bus", 0)
	require.NoError(t, err)
	assert.ErrorContains(t, b.Publish(context.Background(), &Message{}), "dial")
	assert.NoError(t, b.Close())
}
