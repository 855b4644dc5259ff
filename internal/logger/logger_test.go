package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, format string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(&Config{Level: "debug", Format: format, Output: &buf, ServiceName: "test"}), &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestNew_JSONFieldNames(t *testing.T) {
	log, buf := newBuffered(t, "json")
	log.WithField(FieldImageID, "img-1").Info("stored")

	line := lastLine(t, buf)
	assert.Equal(t, "stored", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "test", line["service"])
	assert.Equal(t, "img-1", line[FieldImageID])
	assert.Contains(t, line, "timestamp")
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Output: &buf})
	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestContextPropagation(t *testing.T) {
	log, buf := newBuffered(t, "json")

	_, ok := Lookup(context.Background())
	assert.False(t, ok)

	ctx := log.WithField(FieldRequestID, "req-9").WithContext(context.Background())
	ctx = SetComponent(ctx, "search")
	ctx = SetImageID(ctx, "img-2")

	got, ok := Lookup(ctx)
	require.True(t, ok)
	assert.Equal(t, "req-9", GetRequestID(ctx))

	got.Info("hello")
	line := lastLine(t, buf)
	assert.Equal(t, "search", line[FieldComponent])
	assert.Equal(t, "img-2", line[FieldImageID])
	assert.Equal(t, "req-9", line[FieldRequestID])
}

func TestEntry_MetricFields(t *testing.T) {
	log, buf := newBuffered(t, "json")
	ctx := log.WithContext(context.Background())

	With(Fields{FieldStatus: "ok"}).WithDuration(12).WithCount(3).Info(ctx, "search %s", "done")

	line := lastLine(t, buf)
	assert.Equal(t, "search done", line["message"])
	assert.EqualValues(t, 12, line[FieldDurationMs])
	assert.EqualValues(t, 3, line[FieldCount])
	assert.Equal(t, "ok", line[FieldStatus])
}

func TestSetDefaultLogger_IgnoresNil(t *testing.T) {
	prev := GetDefault()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	log, _ := newBuffered(t, "text")
	SetDefaultLogger(log)
	SetDefaultLogger(nil)
	assert.Same(t, log, GetDefault())
	assert.Same(t, log, FromContext(context.Background()))
}
