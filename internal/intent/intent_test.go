package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultGroups() []Group {
	return []Group{
		{Tag: Exit, Keywords: []string{"shut down", "goodbye", "बंद करो"}},
		{Tag: Vision, Keywords: []string{"see", "look", "in front of me", "describe", "how many", "मेरे सामने", "क्या है"}},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	c := New(defaultGroups())

	tests := []struct {
		name string
		in   string
		want Tag
	}{
		{"vision keyword", "what is in front of me", Vision},
		{"case insensitive", "DESCRIBE the room", Vision},
		{"hindi vision", "मेरे सामने क्या है", Vision},
		{"exit synonym", "please shut down now", Exit},
		{"hindi exit", "अब बंद करो", Exit},
		{"no match defaults to knowledge", "who wrote hamlet", Knowledge},
		{"empty defaults to knowledge", "", Knowledge},
		{"first group wins on overlap", "look, goodbye", Exit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, c.Classify(tc.in))
		})
	}
}

func TestClassify_PriorityFollowsGroupOrder(t *testing.T) {
	t.Parallel()

	text := "can you see and say goodbye"
	exitFirst := New(defaultGroups())
	visionFirst := New([]Group{defaultGroups()[1], defaultGroups()[0]})

	assert.Equal(t, Exit, exitFirst.Classify(text))
	assert.Equal(t, Vision, visionFirst.Classify(text))
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()
	c := New(defaultGroups())

	for _, text := range []string{"look around", "tell me a joke", "goodbye", ""} {
		first := c.Classify(text)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, c.Classify(text))
		}
	}
}

func TestNew_DropsEmptyKeywords(t *testing.T) {
	t.Parallel()

	c := New([]Group{{Tag: Vision, Keywords: []string{"", "  ", "Look"}}})
	assert.Equal(t, Knowledge, c.Classify("anything at all"))
	assert.Equal(t, Vision, c.Classify("look"))
	assert.Equal(t, []Group{{Tag: Vision, Keywords: []string{"look"}}}, c.Groups())
}

func TestParseTag(t *testing.T) {
	t.Parallel()

	tag, err := ParseTag(" vision ")
	require.NoError(t, err)
	assert.Equal(t, Vision, tag)

	_, err = ParseTag("weather")
	assert.Error(t, err)
}
