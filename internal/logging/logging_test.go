package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSubsystemAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := NewWithWriter(Config{Level: "warn"}, buf)
	require.NoError(t, err)

	log := Subsystem(l, "connector")
	log.Info("hidden")
	log.Warn("retrying", "topic", "/odom")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, "subsystem=connector")
	assert.Contains(t, out, "topic=/odom")
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := NewWithWriter(Config{Format: "json"}, buf)
	require.NoError(t, err)
	l.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = NewWithWriter(Config{Format: "xml"}, buf)
	assert.Error(t, err)
}
