package security

// Checker is the runtime enforcement point. Every capability-gated host
// operation consults it immediately before doing the sensitive work.
//
// A nil manager puts the checker in permissive "trusted-host" mode: the
// declaration check still applies, but no user grant is required. This is
// intended for embedding scenarios where the host vouches for its plugins.
type Checker struct {
	registry *Registry
	stack    *ContextStack
	manager  *PermissionManager
	audit    *AuditLog
}

// NewChecker creates a checker over the given collaborators. manager may
// be nil for trusted-host mode.
func NewChecker(registry *Registry, stack *ContextStack, manager *PermissionManager, audit *AuditLog) *Checker {
	return &Checker{
		registry: registry,
		stack:    stack,
		manager:  manager,
		audit:    audit,
	}
}

// Check returns nil if the currently executing code may use the
// capability, or a *Denial describing why not. Allowance requires either
// no active context (host/trusted code) or declared AND granted.
func (c *Checker) Check(id CapabilityID) *Denial {
	cap, ok := c.registry.Get(id)
	if !ok {
		return &Denial{Reason: DenialUnknownCapability, Capability: id}
	}

	frame := c.stack.Current()
	if frame == nil {
		// Host code runs with no frame and is trusted.
		return nil
	}

	if !frame.HasCapability(id) {
		return &Denial{
			Reason:     DenialNotDeclared,
			Capability: id,
			PluginID:   frame.PluginID,
		}
	}

	if c.manager != nil && !c.granted(frame, id) {
		return &Denial{
			Reason:     DenialNotPermitted,
			Capability: id,
			PluginID:   frame.PluginID,
			UserPrompt: cap.UserPrompt,
		}
	}

	if cap.IsHighRisk() {
		c.audit.Warn(EventHighRiskUsed, "high-risk capability used", map[string]any{
			"plugin":     frame.PluginID,
			"capability": string(id),
			"risk":       cap.Risk.String(),
		})
	}
	return nil
}

// granted resolves the permission state for the NotPermitted step. The
// frame's snapshot, taken when the frame was pushed, is authoritative for
// the duration of the invocation; frames pushed without a snapshot fall
// back to the live ledger.
func (c *Checker) granted(frame *ContextFrame, id CapabilityID) bool {
	if state, ok := frame.Permissions[id]; ok {
		return state == StateGranted
	}
	return c.manager.IsGranted(frame.PluginID, id)
}

// Require is Check for code paths with no sensible fallback: it returns
// the denial as an error so the calling operation aborts.
func (c *Checker) Require(id CapabilityID) error {
	if denial := c.Check(id); denial != nil {
		return denial
	}
	return nil
}

// Wrap returns a callable that performs the capability check immediately
// before invoking fn, forwarding arguments and result unchanged.
func (c *Checker) Wrap(id CapabilityID, fn func(args ...any) (any, error)) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if denial := c.Check(id); denial != nil {
			return nil, denial
		}
		return fn(args...)
	}
}

// WrapAll is Wrap for a set of capabilities; every one must pass.
func (c *Checker) WrapAll(ids []CapabilityID, fn func(args ...any) (any, error)) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		for _, id := range ids {
			if denial := c.Check(id); denial != nil {
				return nil, denial
			}
		}
		return fn(args...)
	}
}

// Missing returns the subset of ids that would currently fail the
// declaration or permission step, without raising. Unknown ids are
// included. Used for UI preflight.
func (c *Checker) Missing(ids []CapabilityID) []CapabilityID {
	var out []CapabilityID
	frame := c.stack.Current()
	for _, id := range ids {
		if !c.registry.IsValid(id) {
			out = append(out, id)
			continue
		}
		if frame == nil {
			continue
		}
		if !frame.HasCapability(id) {
			out = append(out, id)
			continue
		}
		if c.manager != nil && !c.granted(frame, id) {
			out = append(out, id)
		}
	}
	return out
}
