package security

import "fmt"

// Registry is the static catalog of capabilities. It is built once and
// never mutated afterwards, so reads need no locking.
type Registry struct {
	caps  map[CapabilityID]Capability
	order []CapabilityID
}

// NewRegistry builds the registry with the built-in whisker capabilities.
func NewRegistry() *Registry {
	r := &Registry{caps: make(map[CapabilityID]Capability)}

	r.add(Capability{
		ID:          CapReadState,
		Name:        "Read Story State",
		Description: "Read story variables and the current passage",
		Risk:        RiskLow,
		UserPrompt:  "Allow this plugin to read your story's variables?",
	})
	r.add(Capability{
		ID:          CapWriteState,
		Name:        "Write Story State",
		Description: "Modify story variables",
		Risk:        RiskMedium,
		Requires:    []CapabilityID{CapReadState},
		UserPrompt:  "Allow this plugin to change your story's variables?",
	})
	r.add(Capability{
		ID:          CapModifyStory,
		Name:        "Modify Story",
		Description: "Add or replace passages while the story is running",
		Risk:        RiskHigh,
		Requires:    []CapabilityID{CapReadState, CapWriteState},
		UserPrompt:  "Allow this plugin to rewrite parts of your story?",
		Warnings:    []string{"A malicious plugin could alter the story you are playing."},
	})
	r.add(Capability{
		ID:          CapUI,
		Name:        "User Interface",
		Description: "Show notifications and menus",
		Risk:        RiskLow,
		UserPrompt:  "Allow this plugin to show notifications?",
	})
	r.add(Capability{
		ID:          CapAudio,
		Name:        "Audio",
		Description: "Play audio cues through the host",
		Risk:        RiskLow,
		UserPrompt:  "Allow this plugin to play sounds?",
	})
	r.add(Capability{
		ID:          CapNetwork,
		Name:        "Network Access",
		Description: "Make outbound HTTP requests through the host",
		Risk:        RiskHigh,
		UserPrompt:  "Allow this plugin to access the network?",
		Warnings: []string{
			"The plugin could send story data to a remote server.",
			"Only grant this to plugins you trust.",
		},
	})
	r.add(Capability{
		ID:          CapFilesystem,
		Name:        "File Access",
		Description: "Read and write files through the host",
		Risk:        RiskCritical,
		UserPrompt:  "Allow this plugin to access files on your computer?",
		Warnings: []string{
			"The plugin could read or overwrite files outside the story.",
			"Only grant this to plugins you trust completely.",
		},
	})

	return r
}

func (r *Registry) add(c Capability) {
	r.caps[c.ID] = c
	r.order = append(r.order, c.ID)
}

// Get returns the capability for the given id.
func (r *Registry) Get(id CapabilityID) (Capability, bool) {
	c, ok := r.caps[id]
	return c, ok
}

// IsValid returns true if the id names a registered capability.
func (r *Registry) IsValid(id CapabilityID) bool {
	_, ok := r.caps[id]
	return ok
}

// IsHighRisk returns true if the capability exists and is HIGH or CRITICAL.
func (r *Registry) IsHighRisk(id CapabilityID) bool {
	c, ok := r.caps[id]
	return ok && c.IsHighRisk()
}

// RequiredOf returns the direct prerequisites of a capability.
func (r *Registry) RequiredOf(id CapabilityID) []CapabilityID {
	c, ok := r.caps[id]
	if !ok {
		return nil
	}
	out := make([]CapabilityID, len(c.Requires))
	copy(out, c.Requires)
	return out
}

// All returns every registered capability in registry order.
func (r *Registry) All() []Capability {
	out := make([]Capability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.caps[id])
	}
	return out
}

// Index returns the registry-order position of a capability. Used to break
// ties when sorting prompts by risk. Unknown ids sort last.
func (r *Registry) Index(id CapabilityID) int {
	for i, o := range r.order {
		if o == id {
			return i
		}
	}
	return len(r.order)
}

// Validate checks that every id names a registered capability. It returns
// an UnknownCapabilityError for the first id that does not.
func (r *Registry) Validate(ids []CapabilityID) error {
	for _, id := range ids {
		if !r.IsValid(id) {
			return &UnknownCapabilityError{Capability: id}
		}
	}
	return nil
}

// Expand returns the input closed over Requires: every prerequisite appears
// before its dependents, each id appears at most once, and duplicates in
// the input are dropped. A seen-set makes the walk cycle-safe even though
// the built-in registry is acyclic.
func (r *Registry) Expand(ids []CapabilityID) []CapabilityID {
	seen := make(map[CapabilityID]bool)
	var out []CapabilityID

	var visit func(id CapabilityID)
	visit = func(id CapabilityID) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, req := range r.caps[id].Requires {
			visit(req)
		}
		out = append(out, id)
	}

	for _, id := range ids {
		visit(id)
	}
	return out
}

// UnknownCapabilityError is returned when an id is not in the registry.
type UnknownCapabilityError struct {
	Capability CapabilityID
}

// Error implements the error interface.
func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Capability)
}
