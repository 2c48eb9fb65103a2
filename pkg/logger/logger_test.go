package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: FormatJSON})

	log.With(SessionID("s1")).Info("state advanced", State("teaching_explain"))
	log.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "state advanced", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "teaching_explain", entry["state"])
}

func TestNewFromCore_Observed(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	log := NewFromCore(core).With(Component("orchestrator"))

	log.Info("ignored")
	log.Warn("escalated", Int("error_count", 3))

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "escalated", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "orchestrator", ctx["component"])
	assert.EqualValues(t, 3, ctx["error_count"])
}

func TestContextRoundTrip(t *testing.T) {
	log := Nop()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
