package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "info", InfoLevel.String())
	assert.Equal(t, "warn", WarnLevel.String())
	assert.Equal(t, "error", ErrorLevel.String())
	assert.Equal(t, "unknown", Level(42).String())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log")

	l := New(&Config{Level: InfoLevel, Format: "json", Output: path})
	l.Info("memory stored", "memory_id", "m-1", "agent_id", "a-1")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "memory stored")
	assert.Contains(t, string(data), "m-1")
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log")

	l := New(&Config{Level: WarnLevel, Format: "text", Output: path})
	l.Debug("not visible")
	l.Info("not visible either")
	l.Warn("visible warning")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "not visible")
	assert.Contains(t, string(data), "visible warning")
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log")

	l := New(&Config{Level: ErrorLevel, Format: "text", Output: path})
	l.Info("before")
	l.SetLevel(DebugLevel)
	l.Debug("after")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "before"))
	assert.True(t, strings.Contains(string(data), "after"))
}

func TestWithAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log")

	l := New(&Config{Level: InfoLevel, Format: "json", Output: path})
	child := l.With("component", "episodic")
	child.Info("event recorded")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"episodic"`)
}

func TestNopDoesNotPanic(t *testing.T) {
	l := Nop()
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")
	require.NoError(t, l.Close())
}
