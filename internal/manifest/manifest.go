// Package manifest loads and validates whisker plugin manifests.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/whisker-if/whisker/internal/security"
)

// Manifest describes a plugin's identity and the capabilities it intends
// to use.
type Manifest struct {
	// Identity
	Name        string `json:"name"`        // Unique identifier (e.g., "dice-roller")
	Version     string `json:"version"`     // Semver (e.g., "1.2.0")
	Description string `json:"description"` // Short description
	Author      string `json:"author"`      // Author name or org
	Homepage    string `json:"homepage"`    // URL to plugin homepage

	// Entry point
	Main string `json:"main"` // Relative path to main Lua file (default: "init.lua")

	// Capabilities requested
	Capabilities []security.CapabilityID `json:"capabilities"`

	// Internal: path to the plugin directory
	path string
}

// Validation errors.
var (
	ErrMissingName         = errors.New("manifest: name is required")
	ErrInvalidName         = errors.New("manifest: name must be alphanumeric with hyphens")
	ErrInvalidVersion      = errors.New("manifest: version must be valid semver")
	ErrInvalidMain         = errors.New("manifest: main must be a .lua file")
	ErrInvalidCapability   = errors.New("manifest: invalid capability")
	ErrMissingPrerequisite = errors.New("manifest: missing prerequisite capability")
)

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// Load reads and validates a manifest file.
func Load(path string, registry *security.Registry) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.path = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(registry); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFromDir loads plugin.json from a plugin directory.
func LoadFromDir(dir string, registry *security.Registry) (*Manifest, error) {
	return Load(filepath.Join(dir, "plugin.json"), registry)
}

func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks the manifest against the capability registry.
//
// Declaring write_state without read_state is rejected here as a hard
// manifest-level rule. This is deliberate and distinct from the automatic
// prerequisite closure applied at grant time: the plugin author must state
// what the plugin actually touches.
func (m *Manifest) Validate(registry *security.Registry) error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	declared := make(map[security.CapabilityID]bool, len(m.Capabilities))
	for _, cap := range m.Capabilities {
		if !registry.IsValid(cap) {
			return fmt.Errorf("%w: %s", ErrInvalidCapability, cap)
		}
		declared[cap] = true
	}
	if declared[security.CapWriteState] && !declared[security.CapReadState] {
		return fmt.Errorf("%w: %s requires %s", ErrMissingPrerequisite,
			security.CapWriteState, security.CapReadState)
	}

	return nil
}

// Path returns the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the main Lua file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// HasCapability returns true if the plugin declares the capability.
func (m *Manifest) HasCapability(cap security.CapabilityID) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// String returns a short identity string.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
