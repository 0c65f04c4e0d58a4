// Package security implements the capability-based trust boundary for
// whisker plugins.
//
// The package is organized around a small set of cooperating components:
//
//   - Registry: the immutable catalog of capabilities plugins can request.
//   - PermissionStore: the persisted ledger of per-plugin grant decisions.
//   - AuditLog: an append-only log of security-relevant events.
//   - ContextStack: tracks which plugin (if any) is currently executing.
//   - PermissionManager: orchestrates the user-consent workflow.
//   - Checker: the runtime enforcement point consulted before every
//     sensitive operation.
//   - Kernel: wires the above together with explicit dependency injection.
//
// Expected denials are values, not panics: Checker.Check returns a
// *Denial describing why an operation is not allowed, and callers decide
// whether to surface UI, skip a feature, or abort.
package security

// CapabilityID identifies a capability in the registry.
type CapabilityID string

// Capabilities a plugin can declare in its manifest.
const (
	// CapReadState allows reading story variables and passage state.
	CapReadState CapabilityID = "read_state"

	// CapWriteState allows modifying story variables. Requires read_state.
	CapWriteState CapabilityID = "write_state"

	// CapModifyStory allows adding or replacing passages at runtime.
	CapModifyStory CapabilityID = "modify_story"

	// CapUI allows showing notifications and menus through the host.
	CapUI CapabilityID = "ui"

	// CapAudio allows playing host-mediated audio cues.
	CapAudio CapabilityID = "audio"

	// CapNetwork allows outbound HTTP requests through the host.
	CapNetwork CapabilityID = "network"

	// CapFilesystem allows host-mediated file access.
	CapFilesystem CapabilityID = "filesystem"
)

// RiskLevel indicates how dangerous a capability is.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh

	// RiskCritical indicates maximum security risk.
	RiskCritical
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Capability describes a single entry in the registry.
type Capability struct {
	// ID is the unique capability identifier.
	ID CapabilityID

	// Name is a human-readable name.
	Name string

	// Description explains what the capability allows.
	Description string

	// Risk indicates how dangerous this capability is.
	Risk RiskLevel

	// Requires lists prerequisite capabilities. Granting this capability
	// only makes sense if the prerequisites are granted too; Expand
	// computes the transitive closure.
	Requires []CapabilityID

	// UserPrompt is the text shown to the user when consent is requested.
	UserPrompt string

	// Warnings are extra cautions shown alongside the prompt.
	Warnings []string
}

// IsHighRisk returns true for HIGH and CRITICAL capabilities.
func (c Capability) IsHighRisk() bool {
	return c.Risk >= RiskHigh
}
