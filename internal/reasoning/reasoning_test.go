package reasoning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secondbrain/internal/resilience"
)

type fakeClient struct {
	reply string
	err   error
	calls []Completion
	block bool
}

func (f *fakeClient) Complete(ctx context.Context, c Completion) (string, error) {
	f.calls = append(f.calls, c)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

var testLanguages = []Language{
	{Tag: "en", Name: "English", Apology: "I'm having trouble connecting to the server."},
	{Tag: "hi", Name: "Hindi", Apology: "मुझे सर्वर से जुड़ने में समस्या हो रही है।"},
}

func writeFrame(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o600))
	return path
}

func TestAsk_TextMode(t *testing.T) {
	t.Parallel()

	client := &fakeClient{reply: "  Paris is the capital of France.  "}
	g := New(client, Options{Languages: testLanguages, Fallback: "en"})

	ans := g.Ask(context.Background(), Request{Text: "what is the capital of france", Language: "en"})

	assert.Equal(t, Answered, ans.Outcome)
	assert.Equal(t, ModeText, ans.Mode)
	assert.Equal(t, "Paris is the capital of France.", ans.Text)
	assert.Equal(t, "en", ans.Language)
	require.Len(t, client.calls, 1)
	assert.Nil(t, client.calls[0].Image)
	assert.Equal(t, "what is the capital of france", client.calls[0].User)
	assert.Contains(t, client.calls[0].System, "Answer in English.")
}

func TestAsk_ImageMode(t *testing.T) {
	t.Parallel()

	client := &fakeClient{reply: "A bottle is on the table in front of you."}
	g := New(client, Options{Languages: testLanguages, Fallback: "en"})

	ans := g.Ask(context.Background(), Request{
		Text:     "what is in front of me",
		Language: "en",
		FrameRef: writeFrame(t),
		Objects:  "1 bottle",
	})

	assert.Equal(t, Answered, ans.Outcome)
	assert.Equal(t, ModeImage, ans.Mode)
	require.Len(t, client.calls, 1)
	img := client.calls[0].Image
	require.NotNil(t, img)
	assert.Equal(t, "image/jpeg", img.MIME)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, img.Data)
	assert.Equal(t, "what is in front of me\nObjects detected: 1 bottle.", client.calls[0].User)
}

func TestAsk_SystemInstructionFollowsLanguage(t *testing.T) {
	t.Parallel()

	client := &fakeClient{reply: "ठीक है"}
	g := New(client, Options{Languages: testLanguages, Fallback: "en"})

	g.Ask(context.Background(), Request{Text: "नमस्ते", Language: "hi"})
	g.Ask(context.Background(), Request{Text: "bonjour", Language: "fr"})

	require.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[0].System, "Answer in Hindi.")
	assert.Contains(t, client.calls[1].System, "Answer in English.", "unknown language uses the fallback")
}

func TestAsk_FailuresReturnLocalizedApology(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		client Client
		req    Request
	}{
		{"backend error", &fakeClient{err: errors.New("401 unauthorized")}, Request{Text: "hi", Language: "hi"}},
		{"empty completion", &fakeClient{reply: "   "}, Request{Text: "hi", Language: "hi"}},
		{"no client", nil, Request{Text: "hi", Language: "hi"}},
		{"missing frame", &fakeClient{reply: "x"}, Request{Text: "hi", Language: "hi", FrameRef: "/nonexistent/frame.jpg"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := New(tc.client, Options{Languages: testLanguages, Fallback: "en"})
			ans := g.Ask(context.Background(), tc.req)
			assert.Equal(t, Fallback, ans.Outcome)
			assert.Equal(t, "मुझे सर्वर से जुड़ने में समस्या हो रही है।", ans.Text)
			assert.Error(t, ans.Err)
		})
	}
}

func TestAsk_Timeout(t *testing.T) {
	t.Parallel()

	client := &fakeClient{block: true}
	g := New(client, Options{Languages: testLanguages, Fallback: "en", Timeout: 20 * time.Millisecond})

	ans := g.Ask(context.Background(), Request{Text: "slow", Language: "en"})
	assert.Equal(t, Fallback, ans.Outcome)
	assert.ErrorIs(t, ans.Err, context.DeadlineExceeded)
	assert.Equal(t, "I'm having trouble connecting to the server.", ans.Text)
}

func TestAsk_BreakerSkipsBackendWhenOpen(t *testing.T) {
	t.Parallel()

	client := &fakeClient{err: errors.New("down")}
	br := resilience.NewBreaker(resilience.Config{Name: "reasoning", MaxFailures: 2, ResetTimeout: time.Hour})
	g := New(client, Options{Languages: testLanguages, Fallback: "en", Breaker: br})

	for i := 0; i < 3; i++ {
		ans := g.Ask(context.Background(), Request{Text: "q", Language: "en"})
		assert.Equal(t, Fallback, ans.Outcome)
	}
	assert.Len(t, client.calls, 2, "third call must be short-circuited")
	assert.Equal(t, resilience.Open, br.State())
}

func TestSystemInstruction(t *testing.T) {
	t.Parallel()

	s := SystemInstruction("Hindi")
	assert.Contains(t, s, "blind person")
	assert.Contains(t, s, "concise")
	assert.Contains(t, s, "Answer in Hindi.")
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "answered", Answered.String())
	assert.Equal(t, "fallback", Fallback.String())
}
