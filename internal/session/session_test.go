package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	s := New("en")
	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	assert.Equal(t, "en", snap.Language)
	assert.Nil(t, snap.LastUtterance)
	assert.False(t, snap.CreatedAt.IsZero())
}

func TestTransition_FullCycle(t *testing.T) {
	t.Parallel()

	s := New("en")
	for _, p := range []Phase{Listening, Processing, Responding, Idle} {
		require.NoError(t, s.Transition(p), "-> %s", p)
		assert.Equal(t, p, s.Phase())
	}
	assert.Equal(t, 1, s.Snapshot().Cycles)
}

func TestTransition_EarlyReturnFromProcessing(t *testing.T) {
	t.Parallel()

	s := New("en")
	require.NoError(t, s.Transition(Listening))
	require.NoError(t, s.Transition(Processing))
	require.NoError(t, s.Transition(Idle))
	assert.Equal(t, Idle, s.Phase())
	assert.Equal(t, 0, s.Snapshot().Cycles, "a cycle that never responded is not counted")
}

func TestTransition_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path []Phase
		to   Phase
	}{
		{"idle to processing", nil, Processing},
		{"idle to responding", nil, Responding},
		{"listening to responding", []Phase{Listening}, Responding},
		{"responding to listening", []Phase{Listening, Processing, Responding}, Listening},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := New("en")
			for _, p := range tc.path {
				require.NoError(t, s.Transition(p))
			}
			before := s.Phase()
			err := s.Transition(tc.to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, before, s.Phase(), "phase must not change on a rejected transition")
		})
	}
}

func TestTerminated_IsAbsorbing(t *testing.T) {
	t.Parallel()

	s := New("en")
	require.NoError(t, s.Transition(Listening))
	require.NoError(t, s.Transition(Terminated))
	assert.True(t, s.Terminated())

	for _, p := range []Phase{Idle, Listening, Processing, Responding} {
		assert.ErrorIs(t, s.Transition(p), ErrInvalidTransition)
	}
	assert.False(t, s.Reset())
	assert.NoError(t, s.Transition(Terminated))
	assert.Equal(t, Terminated, s.Phase())
}

func TestReset_FromAnyLivePhase(t *testing.T) {
	t.Parallel()

	for _, path := range [][]Phase{
		{},
		{Listening},
		{Listening, Processing},
		{Listening, Processing, Responding},
	} {
		s := New("en")
		for _, p := range path {
			require.NoError(t, s.Transition(p))
		}
		assert.True(t, s.Reset())
		assert.Equal(t, Idle, s.Phase())
	}
}

func TestSnapshot_CopiesUtterance(t *testing.T) {
	t.Parallel()

	s := New("en")
	s.SetUtterance("hello")
	s.SetLanguage("hi")
	s.SetIntent("KNOWLEDGE")

	snap := s.Snapshot()
	require.NotNil(t, snap.LastUtterance)
	*snap.LastUtterance = "changed"

	again := s.Snapshot()
	assert.Equal(t, "hello", *again.LastUtterance)
	assert.Equal(t, "hi", again.Language)
	assert.Equal(t, "hi", s.Language())
	assert.Equal(t, "KNOWLEDGE", again.LastIntent)
}

func TestWatch_SeesEveryChange(t *testing.T) {
	t.Parallel()

	type change struct{ from, to Phase }
	var seen []change
	s := New("en")
	s.Watch(func(from, to Phase) {
		assert.Equal(t, to, s.Phase(), "watchers run after the change and outside the lock")
		seen = append(seen, change{from, to})
	})

	require.NoError(t, s.Transition(Listening))
	require.NoError(t, s.Transition(Processing))
	require.NoError(t, s.Transition(Idle))
	assert.True(t, s.Reset(), "IDLE to IDLE is not a change")
	require.Error(t, s.Transition(Responding))
	s.Terminate()
	s.Terminate()

	assert.Equal(t, []change{
		{Idle, Listening},
		{Listening, Processing},
		{Processing, Idle},
		{Idle, Terminated},
	}, seen)
}

func TestLanguage(t *testing.T) {
	t.Parallel()

	s := New("en")
	assert.Equal(t, "en", s.Language())
	s.SetLanguage("hi")
	assert.Equal(t, "hi", s.Language())
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "RESPONDING", Responding.String())
	assert.Equal(t, "TERMINATED", Terminated.String())
	assert.Equal(t, "UNKNOWN", Phase(42).String())
}
