package security

import (
	"fmt"
	"sort"
	"sync"
)

// Prompt is one user-facing consent question, built from the registry.
type Prompt struct {
	Capability CapabilityID
	Name       string
	Text       string
	Risk       RiskLevel
	Warnings   []string
}

// UIHandler presents permission prompts to the user. The handler is
// asynchronous by contract: it may invoke decide immediately or at any
// later point, exactly once, with one decision per prompted capability.
type UIHandler func(pluginID string, prompts []Prompt, decide func(map[CapabilityID]bool))

// CompletionFunc receives the final granted and denied sets of a
// permission request.
type CompletionFunc func(granted, denied []CapabilityID)

// PermissionManager orchestrates the user-consent workflow over the
// registry and the store. Permission decisions are persisted immediately,
// not batched, so they survive a crash right after being made.
type PermissionManager struct {
	registry *Registry
	store    *PermissionStore
	audit    *AuditLog

	mu sync.Mutex
	ui UIHandler
}

// NewPermissionManager creates a manager over the given collaborators.
func NewPermissionManager(registry *Registry, store *PermissionStore, audit *AuditLog) *PermissionManager {
	return &PermissionManager{
		registry: registry,
		store:    store,
		audit:    audit,
	}
}

// SetUIHandler registers the prompt presenter. A nil handler puts the
// manager in fail-secure mode: pending capabilities are denied.
func (m *PermissionManager) SetUIHandler(h UIHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ui = h
}

func (m *PermissionManager) uiHandler() UIHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ui
}

// Grant records a user grant for a capability and persists it.
func (m *PermissionManager) Grant(pluginID string, capID CapabilityID, metadata map[string]any) error {
	if !m.registry.IsValid(capID) {
		return &UnknownCapabilityError{Capability: capID}
	}
	m.store.Set(pluginID, capID, StateGranted, metadata)
	m.audit.Info(EventPermissionGranted, "capability granted", map[string]any{
		"plugin":     pluginID,
		"capability": string(capID),
	})
	return m.store.Save()
}

// Deny records a user denial for a capability and persists it.
func (m *PermissionManager) Deny(pluginID string, capID CapabilityID, metadata map[string]any) error {
	if !m.registry.IsValid(capID) {
		return &UnknownCapabilityError{Capability: capID}
	}
	m.store.Set(pluginID, capID, StateDenied, metadata)
	m.audit.Info(EventPermissionDenied, "capability denied", map[string]any{
		"plugin":     pluginID,
		"capability": string(capID),
	})
	return m.store.Save()
}

// Revoke withdraws a previously granted capability. Revocation is one-way:
// a revoked capability returns to pending only through Reset.
func (m *PermissionManager) Revoke(pluginID string, capID CapabilityID, metadata map[string]any) error {
	if !m.registry.IsValid(capID) {
		return &UnknownCapabilityError{Capability: capID}
	}
	state, _ := m.store.Get(pluginID, capID)
	if state != StateGranted {
		return fmt.Errorf("cannot revoke %q for plugin %q: state is %s, not granted", capID, pluginID, state)
	}
	m.store.Set(pluginID, capID, StateRevoked, metadata)
	m.audit.Warn(EventPermissionRevoked, "capability revoked", map[string]any{
		"plugin":     pluginID,
		"capability": string(capID),
	})
	return m.store.Save()
}

// Reset removes the record for a capability, or every record for the
// plugin when capID is empty, returning them to pending.
func (m *PermissionManager) Reset(pluginID string, capID CapabilityID) error {
	m.store.Remove(pluginID, capID)
	details := map[string]any{"plugin": pluginID}
	if capID != "" {
		details["capability"] = string(capID)
	}
	m.audit.Info(EventPermissionReset, "permissions reset", details)
	return m.store.Save()
}

// IsGranted reports whether the user has granted a capability.
func (m *PermissionManager) IsGranted(pluginID string, capID CapabilityID) bool {
	state, ok := m.store.Get(pluginID, capID)
	return ok && state == StateGranted
}

// States returns the recorded state for each id. Ids with no record map
// to StatePending.
func (m *PermissionManager) States(pluginID string, ids []CapabilityID) map[CapabilityID]PermissionState {
	out := make(map[CapabilityID]PermissionState, len(ids))
	for _, id := range ids {
		state, ok := m.store.Get(pluginID, id)
		if !ok {
			state = StatePending
		}
		out[id] = state
	}
	return out
}

// Request resolves user decisions for a set of capabilities. The flow:
// validate (failing closed on invalid input), expand to the transitive
// closure, partition against the store, deny pending fail-secure when no
// UI handler is registered, otherwise prompt the user and persist each
// decision. onComplete always runs exactly once.
func (m *PermissionManager) Request(pluginID string, ids []CapabilityID, onComplete CompletionFunc) {
	if onComplete == nil {
		onComplete = func(_, _ []CapabilityID) {}
	}

	if err := m.validateRequest(pluginID, ids); err != nil {
		m.audit.Warn(EventPermissionDenied, "permission request rejected", map[string]any{
			"plugin": pluginID,
			"error":  err.Error(),
		})
		onComplete(nil, append([]CapabilityID(nil), ids...))
		return
	}

	expanded := m.registry.Expand(ids)
	m.audit.Info(EventPermissionRequest, "permission request", map[string]any{
		"plugin":       pluginID,
		"capabilities": expanded,
	})

	var granted, denied, pending []CapabilityID
	for _, id := range expanded {
		switch state, _ := m.store.Get(pluginID, id); state {
		case StateGranted:
			granted = append(granted, id)
		case StateDenied, StateRevoked:
			denied = append(denied, id)
		default:
			pending = append(pending, id)
		}
	}

	if len(pending) == 0 {
		onComplete(granted, denied)
		return
	}

	ui := m.uiHandler()
	if ui == nil {
		// Fail-secure: no way to ask the user means no. The denial is not
		// persisted, so the user is asked normally once a handler exists.
		for _, id := range pending {
			m.audit.Warn(EventPermissionDenied, ErrNoUIHandler.Error(), map[string]any{
				"plugin":     pluginID,
				"capability": string(id),
				"reason":     "no_ui_handler",
			})
		}
		onComplete(granted, append(denied, pending...))
		return
	}

	prompts := m.buildPrompts(pending)

	var once sync.Once
	decide := func(decisions map[CapabilityID]bool) {
		once.Do(func() {
			for _, id := range pending {
				if decisions[id] {
					if err := m.Grant(pluginID, id, nil); err != nil {
						m.audit.Error(EventStoreError, "failed to persist grant", map[string]any{
							"plugin":     pluginID,
							"capability": string(id),
							"error":      err.Error(),
						})
					}
					granted = append(granted, id)
				} else {
					if err := m.Deny(pluginID, id, nil); err != nil {
						m.audit.Error(EventStoreError, "failed to persist denial", map[string]any{
							"plugin":     pluginID,
							"capability": string(id),
							"error":      err.Error(),
						})
					}
					denied = append(denied, id)
				}
			}
			onComplete(granted, denied)
		})
	}

	ui(pluginID, prompts, decide)
}

// RequestSync is a blocking convenience wrapper around Request. It must
// not be called from inside a sandboxed execution: the subsystem is
// single-threaded and the UI handler may depend on that thread.
func (m *PermissionManager) RequestSync(pluginID string, ids []CapabilityID) (granted, denied []CapabilityID) {
	done := make(chan struct{})
	m.Request(pluginID, ids, func(g, d []CapabilityID) {
		granted, denied = g, d
		close(done)
	})
	<-done
	return granted, denied
}

func (m *PermissionManager) validateRequest(pluginID string, ids []CapabilityID) error {
	if pluginID == "" {
		return fmt.Errorf("%w: empty plugin id", ErrInvalidInput)
	}
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty capability id", ErrInvalidInput)
		}
	}
	return m.registry.Validate(ids)
}

// buildPrompts returns consent prompts sorted highest risk first, ties
// broken by registry order.
func (m *PermissionManager) buildPrompts(ids []CapabilityID) []Prompt {
	prompts := make([]Prompt, 0, len(ids))
	for _, id := range ids {
		c, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		prompts = append(prompts, Prompt{
			Capability: c.ID,
			Name:       c.Name,
			Text:       c.UserPrompt,
			Risk:       c.Risk,
			Warnings:   append([]string(nil), c.Warnings...),
		})
	}
	sort.SliceStable(prompts, func(i, j int) bool {
		if prompts[i].Risk != prompts[j].Risk {
			return prompts[i].Risk > prompts[j].Risk
		}
		return m.registry.Index(prompts[i].Capability) < m.registry.Index(prompts[j].Capability)
	})
	return prompts
}
