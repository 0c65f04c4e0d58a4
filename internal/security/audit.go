package security

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies an audit event.
type EventKind string

// Audit event kinds.
const (
	EventPermissionRequest EventKind = "PERMISSION_REQUEST"
	EventPermissionGranted EventKind = "PERMISSION_GRANTED"
	EventPermissionDenied  EventKind = "PERMISSION_DENIED"
	EventPermissionRevoked EventKind = "PERMISSION_REVOKED"
	EventPermissionReset   EventKind = "PERMISSION_RESET"
	EventHighRiskUsed      EventKind = "HIGH_RISK_CAPABILITY_USED"
	EventSandboxExecute    EventKind = "SANDBOX_EXECUTE"
	EventSandboxError      EventKind = "SANDBOX_ERROR"
	EventSandboxTimeout    EventKind = "SANDBOX_TIMEOUT"
	EventEscapeAttempt     EventKind = "SANDBOX_ESCAPE_ATTEMPT"
	EventContextLeak       EventKind = "CONTEXT_LEAK"
	EventStoreError        EventKind = "STORE_ERROR"
	EventPluginLog         EventKind = "PLUGIN_LOG"
)

// Level indicates the severity of an audit event.
type Level int

const (
	// LevelInfo is for routine security events.
	LevelInfo Level = iota

	// LevelWarn is for events worth surfacing to a human.
	LevelWarn

	// LevelError is for enforcement failures and escape attempts.
	LevelError
)

// String returns a string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// AuditEvent is a single security-relevant occurrence. Events are never
// mutated after creation.
type AuditEvent struct {
	ID        string
	Timestamp time.Time
	Level     Level
	Kind      EventKind
	Message   string
	Details   map[string]any
}

// Line renders the event as a single bounded log line:
//
//	[timestamp] [KIND] message: key=value, key=value
//
// Nested detail values are summarized rather than fully serialized so a
// hostile plugin cannot bloat the log through event details.
func (e AuditEvent) Line() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Timestamp.Format(time.RFC3339))
	b.WriteString("] [")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	b.WriteString(e.Message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(": ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(summarize(e.Details[k]))
		}
	}
	return b.String()
}

// maxDetailString bounds how much of a string detail appears in a line.
const maxDetailString = 120

// summarize renders a detail value compactly. Containers are reduced to
// their size; long strings are truncated.
func summarize(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		if len(val) > maxDetailString {
			return val[:maxDetailString] + "..."
		}
		return val
	case []any:
		return fmt.Sprintf("list[%d]", len(val))
	case []string:
		if len(val) <= 4 {
			return strings.Join(val, "|")
		}
		return fmt.Sprintf("list[%d]", len(val))
	case []CapabilityID:
		parts := make([]string, 0, len(val))
		for _, id := range val {
			parts = append(parts, string(id))
		}
		if len(parts) <= 4 {
			return strings.Join(parts, "|")
		}
		return fmt.Sprintf("list[%d]", len(parts))
	case map[string]any:
		return fmt.Sprintf("map[%d]", len(val))
	case error:
		return summarize(val.Error())
	default:
		return summarize(fmt.Sprintf("%v", val))
	}
}

// DefaultAuditRetention is the default in-memory ring buffer size.
const DefaultAuditRetention = 1000

// AuditLog is an append-only log of security events with bounded in-memory
// retention. The oldest events are evicted once the retention limit is
// reached. An optional sink receives every event's line rendering,
// independent of retention.
type AuditLog struct {
	mu        sync.Mutex
	events    []AuditEvent
	start     int // ring buffer head
	count     int
	retention int
	sink      io.Writer
	now       func() time.Time
}

// AuditOption configures an AuditLog.
type AuditOption func(*AuditLog)

// WithRetention sets the in-memory retention size.
func WithRetention(n int) AuditOption {
	return func(a *AuditLog) {
		if n > 0 {
			a.retention = n
		}
	}
}

// WithSink routes every event's line rendering to w.
func WithSink(w io.Writer) AuditOption {
	return func(a *AuditLog) { a.sink = w }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) AuditOption {
	return func(a *AuditLog) { a.now = now }
}

// NewAuditLog creates an audit log with the given options.
func NewAuditLog(opts ...AuditOption) *AuditLog {
	a := &AuditLog{
		retention: DefaultAuditRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.events = make([]AuditEvent, a.retention)
	return a
}

// Append records an event. Details may be nil.
func (a *AuditLog) Append(level Level, kind EventKind, message string, details map[string]any) AuditEvent {
	ev := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: a.now(),
		Level:     level,
		Kind:      kind,
		Message:   message,
		Details:   details,
	}

	a.mu.Lock()
	pos := (a.start + a.count) % a.retention
	a.events[pos] = ev
	if a.count < a.retention {
		a.count++
	} else {
		a.start = (a.start + 1) % a.retention
	}
	sink := a.sink
	a.mu.Unlock()

	if sink != nil {
		fmt.Fprintln(sink, ev.Line())
	}
	return ev
}

// Info appends an info-level event.
func (a *AuditLog) Info(kind EventKind, message string, details map[string]any) AuditEvent {
	return a.Append(LevelInfo, kind, message, details)
}

// Warn appends a warn-level event.
func (a *AuditLog) Warn(kind EventKind, message string, details map[string]any) AuditEvent {
	return a.Append(LevelWarn, kind, message, details)
}

// Error appends an error-level event.
func (a *AuditLog) Error(kind EventKind, message string, details map[string]any) AuditEvent {
	return a.Append(LevelError, kind, message, details)
}

// Events returns all retained events, oldest first.
func (a *AuditLog) Events() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AuditEvent, 0, a.count)
	for i := 0; i < a.count; i++ {
		out = append(out, a.events[(a.start+i)%a.retention])
	}
	return out
}

// Filter selects events in a Query.
type Filter struct {
	// Kind restricts to a single event kind. Empty matches all.
	Kind EventKind

	// MinLevel restricts to events at or above this level.
	MinLevel Level

	// PluginID restricts to events whose details carry this plugin id.
	PluginID string
}

// Query returns retained events matching the filter, oldest first.
func (a *AuditLog) Query(f Filter) []AuditEvent {
	var out []AuditEvent
	for _, ev := range a.Events() {
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		if ev.Level < f.MinLevel {
			continue
		}
		if f.PluginID != "" {
			pid, _ := ev.Details["plugin"].(string)
			if pid != f.PluginID {
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// Len returns the number of retained events.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
