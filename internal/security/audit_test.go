package security

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogAppend(t *testing.T) {
	log := NewAuditLog()

	ev := log.Info(EventPermissionGranted, "capability granted", map[string]any{
		"plugin":     "p1",
		"capability": "read_state",
	})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventPermissionGranted, ev.Kind)
	assert.Equal(t, 1, log.Len())
}

func TestAuditLogRetention(t *testing.T) {
	log := NewAuditLog(WithRetention(3))

	for i := 0; i < 5; i++ {
		log.Info(EventSandboxExecute, "execution", map[string]any{"n": i})
	}

	events := log.Events()
	require.Len(t, events, 3)
	// Oldest evicted; events 2, 3, 4 remain in order.
	assert.Equal(t, 2, events[0].Details["n"])
	assert.Equal(t, 4, events[2].Details["n"])
}

func TestAuditLogLineFormat(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	log := NewAuditLog(WithClock(func() time.Time { return ts }))

	ev := log.Warn(EventPermissionDenied, "capability denied", map[string]any{
		"plugin": "p1",
		"reason": "no_ui_handler",
	})

	line := ev.Line()
	assert.Equal(t, "[2026-03-14T09:26:53Z] [PERMISSION_DENIED] capability denied: plugin=p1, reason=no_ui_handler", line)
}

func TestAuditLogLineSummarizesNested(t *testing.T) {
	log := NewAuditLog()

	ev := log.Info(EventPermissionRequest, "permission request", map[string]any{
		"nested": map[string]any{"a": 1, "b": 2, "c": 3},
		"items":  []any{1, 2, 3, 4, 5, 6, 7},
		"long":   strings.Repeat("x", 500),
	})

	line := ev.Line()
	assert.Contains(t, line, "nested=map[3]")
	assert.Contains(t, line, "items=list[7]")
	assert.Less(t, len(line), 400)
}

func TestAuditLogSink(t *testing.T) {
	var buf bytes.Buffer
	log := NewAuditLog(WithSink(&buf))

	log.Info(EventSandboxExecute, "execution", map[string]any{"plugin": "p1"})

	out := buf.String()
	assert.Contains(t, out, "[SANDBOX_EXECUTE]")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestAuditLogQuery(t *testing.T) {
	log := NewAuditLog()

	log.Info(EventSandboxExecute, "execution", map[string]any{"plugin": "p1"})
	log.Warn(EventSandboxTimeout, "timed out", map[string]any{"plugin": "p1"})
	log.Error(EventEscapeAttempt, "escape attempt", map[string]any{"plugin": "p2"})

	assert.Len(t, log.Query(Filter{Kind: EventSandboxTimeout}), 1)
	assert.Len(t, log.Query(Filter{MinLevel: LevelWarn}), 2)
	assert.Len(t, log.Query(Filter{PluginID: "p1"}), 2)
	assert.Len(t, log.Query(Filter{PluginID: "p2", MinLevel: LevelError}), 1)
	assert.Len(t, log.Query(Filter{}), 3)
}
