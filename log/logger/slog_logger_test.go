package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatlonely/rdbx/log/writer"
)

func TestNewSLogWithOptions(t *testing.T) {
	tests := []struct {
		name    string
		options *SLogOptions
		wantErr bool
	}{
		{name: "nil options", options: nil, wantErr: true},
		{name: "default console output", options: &SLogOptions{Level: "info"}},
		{name: "json to stdout", options: &SLogOptions{
			Level:  "debug",
			Format: "json",
			Output: &writer.Options{Type: "console", Console: &writer.ConsoleWriterOptions{Target: "stdout"}},
		}},
		{name: "invalid level", options: &SLogOptions{Level: "invalid"}, wantErr: true},
		{name: "invalid format", options: &SLogOptions{Level: "info", Format: "invalid"}, wantErr: true},
		{name: "invalid output", options: &SLogOptions{Output: &writer.Options{Type: "kafka"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewSLogWithOptions(tt.options)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, l)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "DEBUG", "INFO"} {
		_, err := parseLevel(level)
		assert.NoError(t, err, level)
	}
	for _, level := range []string{"invalid", ""} {
		_, err := parseLevel(level)
		assert.Error(t, err, level)
	}
}

func TestSLogToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := NewSLogWithOptions(&SLogOptions{
		Level:  "info",
		Format: "json",
		Output: &writer.Options{Type: "file", File: &writer.FileWriterOptions{Path: path}},
		Fields: map[string]any{"service": "rdbx"},
	})
	require.NoError(t, err)

	l.WithGroup("executor").Info("retry", "attempt", 2)
	l.Debug("hidden")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"service":"rdbx"`)
	assert.Contains(t, string(content), `"executor":{"attempt":2}`)
	assert.NotContains(t, string(content), "hidden")
}

func TestSLogWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewSLogWithWriter(&buf, "warn")
	require.NoError(t, err)

	l.Info("skip")
	l.With("table", "USERS").Warn("retrying", "attempt", 1)

	out := buf.String()
	assert.False(t, strings.Contains(out, "skip"))
	assert.Contains(t, out, "table=USERS")
	assert.Contains(t, out, "attempt=1")

	NewNop().Error("nothing")
}
