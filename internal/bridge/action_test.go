package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"":          ActionNoOp,
		"noop":      ActionNoOp,
		"publish":   ActionPublish,
		"pub":       ActionPublish,
		"Subscribe": ActionSubscribe,
		" sub ":     ActionSubscribe,
	}
	for in, want := range cases {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAction("relay")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "publish", ActionPublish.String())
	assert.Equal(t, "subscribe", ActionSubscribe.String())
	assert.Equal(t, "noop", ActionNoOp.String())
	assert.Equal(t, "Action(9)", Action(9).String())
}
