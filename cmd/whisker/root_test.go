package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisker-if/whisker/internal/config"
	"github.com/whisker-if/whisker/internal/security"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StorePath = filepath.Join(t.TempDir(), "permissions.json")
	return cfg
}

func TestKernelForTrustedPlugin(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustedPlugins = []string{"builtin-saves"}

	k := kernelFor(cfg, "builtin-saves")
	require.NoError(t, k.Stack.Enter("builtin-saves",
		[]security.CapabilityID{security.CapReadState}, nil))
	defer k.Stack.Exit() //nolint:errcheck

	// Declared capabilities pass without a user grant.
	assert.Nil(t, k.Checker.Check(security.CapReadState))

	// Undeclared capabilities are still denied.
	denial := k.Checker.Check(security.CapNetwork)
	require.NotNil(t, denial)
	assert.Equal(t, security.DenialNotDeclared, denial.Reason)
}

func TestKernelForUntrustedPlugin(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustedPlugins = []string{"builtin-saves"}

	k := kernelFor(cfg, "stranger")
	require.NoError(t, k.Stack.Enter("stranger",
		[]security.CapabilityID{security.CapReadState}, nil))
	defer k.Stack.Exit() //nolint:errcheck

	denial := k.Checker.Check(security.CapReadState)
	require.NotNil(t, denial)
	assert.Equal(t, security.DenialNotPermitted, denial.Reason)
}

func TestKernelForEmptyPluginIDNeverTrusted(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustedPlugins = []string{""}

	k := kernelFor(cfg, "")
	require.NoError(t, k.Stack.Enter("p1",
		[]security.CapabilityID{security.CapReadState}, nil))
	defer k.Stack.Exit() //nolint:errcheck

	denial := k.Checker.Check(security.CapReadState)
	require.NotNil(t, denial)
	assert.Equal(t, security.DenialNotPermitted, denial.Reason)
}
