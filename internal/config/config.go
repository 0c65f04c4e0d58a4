// Package config loads runtime configuration for the whisker security
// subsystem.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the host-tunable settings of the security subsystem.
type Config struct {
	// TimeoutMS is the default CPU-time budget per sandboxed call.
	TimeoutMS int `yaml:"timeout_ms"`

	// AuditRetention is the in-memory audit ring buffer size.
	AuditRetention int `yaml:"audit_retention"`

	// StorePath is the permission ledger file.
	StorePath string `yaml:"store_path"`

	// AllowedModules lists module names plugins may require.
	AllowedModules []string `yaml:"allowed_modules"`

	// TrustedPlugins run without user-grant checks (declaration checks
	// still apply).
	TrustedPlugins []string `yaml:"trusted_plugins"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		TimeoutMS:      100,
		AuditRetention: 1000,
		StorePath:      "permissions.json",
		AllowedModules: []string{"math", "string", "table", "os", "whisker"},
	}
}

// Load reads a YAML config file, filling unset fields with defaults. A
// missing file yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = Default().TimeoutMS
	}
	if cfg.AuditRetention <= 0 {
		cfg.AuditRetention = Default().AuditRetention
	}
	return cfg, nil
}

// Timeout returns the configured budget as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// IsTrusted returns true if the plugin id is in the trusted list.
func (c Config) IsTrusted(pluginID string) bool {
	for _, id := range c.TrustedPlugins {
		if id == pluginID {
			return true
		}
	}
	return false
}
