package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestForService_TagsRecords(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelDebug)

	ForService("detector").Info("faces found", "count", 2)

	out := buf.String()
	assert.Contains(t, out, "service=detector")
	assert.Contains(t, out, "count=2")
}

func TestInit_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "watchpost.log")

	require.NoError(t, Init(Options{Level: "debug", FilePath: path, MaxSizeMB: 1}))
	t.Cleanup(func() { Close() })

	ForService("store").Debug("queue drained", "pending", 0)
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"store"`)
	assert.Contains(t, string(data), `"msg":"queue drained"`)
}
