package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeout_ms: 250
audit_retention: 50
store_path: /tmp/perms.json
allowed_modules:
  - math
  - whisker
trusted_plugins:
  - builtin-saves
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.TimeoutMS)
	assert.Equal(t, 50, cfg.AuditRetention)
	assert.Equal(t, "/tmp/perms.json", cfg.StorePath)
	assert.Equal(t, []string{"math", "whisker"}, cfg.AllowedModules)
	assert.True(t, cfg.IsTrusted("builtin-saves"))
	assert.False(t, cfg.IsTrusted("other"))
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout_ms: 30\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.TimeoutMS)
	assert.Equal(t, Default().AuditRetention, cfg.AuditRetention)
	assert.Equal(t, Default().StorePath, cfg.StorePath)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout_ms: [not a number\n"), 0o644))

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadClampsNonPositiveValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout_ms: -5\naudit_retention: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().TimeoutMS, cfg.TimeoutMS)
	assert.Equal(t, Default().AuditRetention, cfg.AuditRetention)
}

func TestTimeout(t *testing.T) {
	cfg := Config{TimeoutMS: 250}
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout())
}
