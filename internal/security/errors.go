package security

import "errors"

// Security subsystem errors.
var (
	// ErrEmptyContextStack is returned when Exit is called with no active
	// frame. This indicates a bookkeeping bug in the caller, not an
	// expected security denial.
	ErrEmptyContextStack = errors.New("security context stack is empty")

	// ErrLeakedFrames is returned by ContextStack.Validate when frames
	// remain on the stack at a checkpoint.
	ErrLeakedFrames = errors.New("security context frames leaked")

	// ErrNoUIHandler is recorded when a permission request cannot be
	// presented to the user; pending capabilities are denied fail-secure.
	ErrNoUIHandler = errors.New("no UI handler registered for permission prompts")

	// ErrInvalidInput is returned when a capability list argument is
	// structurally invalid (nil entries, empty ids).
	ErrInvalidInput = errors.New("invalid capability list")
)

// DenialReason classifies why a capability check failed.
type DenialReason int

const (
	// DenialUnknownCapability - the id is not in the registry.
	DenialUnknownCapability DenialReason = iota

	// DenialNotDeclared - the plugin did not declare the capability in
	// its manifest.
	DenialNotDeclared

	// DenialNotPermitted - the capability is declared but the user has
	// not granted it.
	DenialNotPermitted
)

// String returns a string representation of the denial reason.
func (d DenialReason) String() string {
	switch d {
	case DenialUnknownCapability:
		return "unknown_capability"
	case DenialNotDeclared:
		return "not_declared"
	case DenialNotPermitted:
		return "not_permitted"
	default:
		return "unknown"
	}
}

// Denial describes a failed capability check. A nil *Denial means the
// check passed.
type Denial struct {
	Reason     DenialReason
	Capability CapabilityID
	PluginID   string

	// UserPrompt carries the registry's user-facing prompt text for
	// NotPermitted denials, so hosts can show consent UI instead of a
	// raw internal error string.
	UserPrompt string
}

// Error implements the error interface so a Denial can be returned from
// Require-style guards.
func (d *Denial) Error() string {
	switch d.Reason {
	case DenialUnknownCapability:
		return "unknown capability " + string(d.Capability)
	case DenialNotDeclared:
		return "capability " + string(d.Capability) + " not declared in plugin manifest"
	case DenialNotPermitted:
		return "capability " + string(d.Capability) + " not granted by user"
	default:
		return "capability " + string(d.Capability) + " denied"
	}
}

// StorageError wraps a persistence failure of the permission ledger.
type StorageError struct {
	Op  string // "load", "save", "import"
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return "permission store " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }
