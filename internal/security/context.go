package security

import (
	"fmt"
	"strings"
	"time"
)

// ContextFrame identifies an active plugin invocation and its resolved
// capability set. Frames form a strict LIFO stack: a frame may not outlive
// the call that pushed it.
type ContextFrame struct {
	PluginID     string
	Capabilities map[CapabilityID]bool

	// Permissions is the grant snapshot taken when the frame was pushed.
	// The checker reads it instead of the live ledger, so a decision made
	// mid-invocation takes effect on the next invocation, not this one.
	Permissions map[CapabilityID]PermissionState

	StartTime time.Time

	// ParentID is the plugin id of the frame immediately below at push
	// time, or empty for a top-level invocation. It enables provenance
	// tracing for nested plugin-to-plugin calls.
	ParentID string
}

// HasCapability returns true if the frame's capability set includes id.
func (f *ContextFrame) HasCapability(id CapabilityID) bool {
	return f.Capabilities[id]
}

// ContextStack tracks the currently executing plugin identity. The
// subsystem is single-threaded and cooperative; "nesting" means a plugin's
// sandboxed code synchronously invoking another plugin.
type ContextStack struct {
	frames []*ContextFrame
}

// NewContextStack creates an empty context stack.
func NewContextStack() *ContextStack {
	return &ContextStack{}
}

// Enter pushes a frame for the given plugin. The capability and permission
// sets are copied, so later mutation by the caller does not affect the
// frame.
func (cs *ContextStack) Enter(pluginID string, capabilities []CapabilityID, permissions map[CapabilityID]PermissionState) error {
	if pluginID == "" {
		return fmt.Errorf("%w: empty plugin id", ErrInvalidInput)
	}
	for _, id := range capabilities {
		if id == "" {
			return fmt.Errorf("%w: empty capability id", ErrInvalidInput)
		}
	}

	frame := &ContextFrame{
		PluginID:     pluginID,
		Capabilities: make(map[CapabilityID]bool, len(capabilities)),
		Permissions:  make(map[CapabilityID]PermissionState, len(permissions)),
		StartTime:    time.Now(),
	}
	for _, id := range capabilities {
		frame.Capabilities[id] = true
	}
	for id, state := range permissions {
		frame.Permissions[id] = state
	}
	if top := cs.Current(); top != nil {
		frame.ParentID = top.PluginID
	}

	cs.frames = append(cs.frames, frame)
	return nil
}

// Exit pops the top frame. Calling Exit with no active frame returns
// ErrEmptyContextStack; that is a bookkeeping bug worth logging, not a
// fatal condition.
func (cs *ContextStack) Exit() error {
	if len(cs.frames) == 0 {
		return ErrEmptyContextStack
	}
	cs.frames = cs.frames[:len(cs.frames)-1]
	return nil
}

// Current returns the top frame, or nil when no plugin is executing.
func (cs *ContextStack) Current() *ContextFrame {
	if len(cs.frames) == 0 {
		return nil
	}
	return cs.frames[len(cs.frames)-1]
}

// HasCapability reports whether the currently executing code holds the
// capability. No active frame means host/trusted code is running, and the
// check passes unconditionally.
func (cs *ContextStack) HasCapability(id CapabilityID) bool {
	top := cs.Current()
	if top == nil {
		return true
	}
	return top.HasCapability(id)
}

// Depth returns the number of active frames.
func (cs *ContextStack) Depth() int {
	return len(cs.frames)
}

// IsNested returns true when a plugin invocation is itself running inside
// another plugin invocation.
func (cs *ContextStack) IsNested() bool {
	return len(cs.frames) > 1
}

// Validate asserts that no frames remain on the stack. A non-empty stack
// at a checkpoint (end of a tick, end of a test, teardown) means a frame
// leaked; the error lists the offending plugin ids.
func (cs *ContextStack) Validate() error {
	if len(cs.frames) == 0 {
		return nil
	}
	ids := make([]string, 0, len(cs.frames))
	for _, f := range cs.frames {
		ids = append(ids, f.PluginID)
	}
	return fmt.Errorf("%w: %s", ErrLeakedFrames, strings.Join(ids, ", "))
}

// WithContext pushes a frame, invokes fn, and pops the frame on every
// control path. A panic inside fn still pops before re-propagating.
func (cs *ContextStack) WithContext(pluginID string, capabilities []CapabilityID, fn func() error) error {
	if err := cs.Enter(pluginID, capabilities, nil); err != nil {
		return err
	}
	defer cs.Exit() //nolint:errcheck // frame was just pushed
	return fn()
}
