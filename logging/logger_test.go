package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{"warning", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"verbose", LogLevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlogLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(LogLevelInfo, "json", &buf)

	logger.Debug("hidden")
	logger.Info("runner.run.start", "run", "r1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "runner.run.start", entry["msg"])
	assert.Equal(t, "r1", entry["run"])
}

func TestZapAdapter_KeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapAdapter(zap.New(core))

	logger.Info("tool.call.success", "tool", "get_protos", "duration_ms", 3)
	logger.Error("tool.call.error", "tool", "generate_sample")

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0]
	assert.Equal(t, "tool.call.success", first.Message)
	assert.Equal(t, "get_protos", first.ContextMap()["tool"])
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer

	l, err := New(Options{Backend: "zap", Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)
	l.Debug("x.y", "k", "v")
	assert.Contains(t, buf.String(), `"k":"v"`)

	l, err = New(Options{Backend: "none"})
	require.NoError(t, err)
	assert.IsType(t, NoOpLogger{}, l)

	_, err = New(Options{Backend: "logrus"})
	assert.Error(t, err)
}
