package logger

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "level %q", tt.input)
	}
}

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpm.log")
	err := Init(LogConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)
	defer Close()

	Info().Str("key", "value").Msg("test message")
	require.FileExists(t, path)
}

func TestGetBeforeInit(t *testing.T) {
	// Get must always return a usable logger, even before Init.
	l := Get()
	require.NotNil(t, l)
}

func TestForComponent(t *testing.T) {
	require.NoError(t, Init(LogConfig{Level: "debug", Format: "json"}))
	defer Close()
	l := ForComponent("eventpool")
	l.Info().Msg("component log")
}
