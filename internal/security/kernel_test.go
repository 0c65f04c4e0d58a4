package security

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKernelWiring(t *testing.T) {
	k := NewKernel()

	require.NotNil(t, k.Registry)
	require.NotNil(t, k.Store)
	require.NotNil(t, k.Audit)
	require.NotNil(t, k.Stack)
	require.NotNil(t, k.Manager)
	require.NotNil(t, k.Checker)
}

func TestKernelIndependentInstances(t *testing.T) {
	k1 := NewKernel()
	k2 := NewKernel()

	require.NoError(t, k1.Manager.Grant("p1", CapReadState, nil))

	assert.True(t, k1.Manager.IsGranted("p1", CapReadState))
	assert.False(t, k2.Manager.IsGranted("p1", CapReadState))
}

func TestKernelTrustedHost(t *testing.T) {
	k := NewKernel(WithTrustedHost())

	require.NoError(t, k.Stack.Enter("p1", []CapabilityID{CapNetwork}, nil))
	defer k.Stack.Exit() //nolint:errcheck

	assert.Nil(t, k.Checker.Check(CapNetwork))
}

func TestKernelAuditSink(t *testing.T) {
	var buf bytes.Buffer
	k := NewKernel(WithAuditSink(&buf))

	require.NoError(t, k.Manager.Grant("p1", CapReadState, nil))
	assert.Contains(t, buf.String(), "[PERMISSION_GRANTED]")
}

func TestKernelPersistenceAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.json")

	k := NewKernel(WithStoreBackend(&FileBackend{Path: path}))
	require.NoError(t, k.Manager.Grant("p1", CapWriteState, nil))
	require.NoError(t, k.Shutdown())

	reloaded := NewKernel(WithStoreBackend(&FileBackend{Path: path}))
	assert.True(t, reloaded.Manager.IsGranted("p1", CapWriteState))
}

func TestKernelShutdownDetectsLeak(t *testing.T) {
	k := NewKernel()

	require.NoError(t, k.Stack.Enter("p1", nil, nil))

	err := k.Shutdown()
	require.ErrorIs(t, err, ErrLeakedFrames)
	assert.Len(t, k.Audit.Query(Filter{Kind: EventContextLeak}), 1)
}

func TestKernelCorruptLedgerStartsEmpty(t *testing.T) {
	backend := &countingBackend{data: []byte("not json")}
	k := NewKernel(WithStoreBackend(backend))

	assert.Empty(t, k.Store.Plugins())
	assert.Len(t, k.Audit.Query(Filter{Kind: EventStoreError}), 1)
}

func TestKernelUnreadableLedgerAudited(t *testing.T) {
	backend := &countingBackend{loadErr: errors.New("permission denied")}
	k := NewKernel(WithStoreBackend(backend))

	assert.Empty(t, k.Store.Plugins())
	assert.Len(t, k.Audit.Query(Filter{Kind: EventStoreError}), 1)
}

func TestKernelMissingLedgerNotAudited(t *testing.T) {
	k := NewKernel(WithStoreBackend(&countingBackend{}))

	assert.Empty(t, k.Store.Plugins())
	assert.Empty(t, k.Audit.Query(Filter{Kind: EventStoreError}))
}
