package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetAbsent(t *testing.T) {
	s := NewPermissionStore(nil)

	state, ok := s.Get("p1", CapReadState)
	assert.False(t, ok)
	assert.Equal(t, StatePending, state)
}

func TestStoreSetGet(t *testing.T) {
	s := NewPermissionStore(nil)

	s.Set("p1", CapReadState, StateGranted, map[string]any{"source": "test"})

	state, ok := s.Get("p1", CapReadState)
	require.True(t, ok)
	assert.Equal(t, StateGranted, state)

	rec, ok := s.GetRecord("p1", CapReadState)
	require.True(t, ok)
	assert.Equal(t, "test", rec.Metadata["source"])
	assert.False(t, rec.Timestamp.IsZero())
}

func TestStoreRemove(t *testing.T) {
	s := NewPermissionStore(nil)

	s.Set("p1", CapReadState, StateGranted, nil)
	s.Set("p1", CapNetwork, StateDenied, nil)
	s.Set("p2", CapReadState, StateGranted, nil)

	s.Remove("p1", CapReadState)
	_, ok := s.Get("p1", CapReadState)
	assert.False(t, ok)
	_, ok = s.Get("p1", CapNetwork)
	assert.True(t, ok)

	// Empty capability id removes all records for the plugin.
	s.Remove("p1", "")
	_, ok = s.Get("p1", CapNetwork)
	assert.False(t, ok)
	_, ok = s.Get("p2", CapReadState)
	assert.True(t, ok)
}

func TestStoreExportImportRoundTrip(t *testing.T) {
	s := NewPermissionStore(nil)
	s.Set("p1", CapReadState, StateGranted, map[string]any{"source": "ui"})
	s.Set("p1", CapNetwork, StateDenied, nil)
	s.Set("p2", CapWriteState, StateRevoked, nil)

	blob, err := s.Export()
	require.NoError(t, err)

	fresh := NewPermissionStore(nil)
	require.NoError(t, fresh.Import(blob))

	for _, tt := range []struct {
		plugin string
		cap    CapabilityID
		want   PermissionState
	}{
		{"p1", CapReadState, StateGranted},
		{"p1", CapNetwork, StateDenied},
		{"p2", CapWriteState, StateRevoked},
	} {
		state, ok := fresh.Get(tt.plugin, tt.cap)
		require.True(t, ok, "%s/%s", tt.plugin, tt.cap)
		assert.Equal(t, tt.want, state)
	}

	rec, ok := fresh.GetRecord("p1", CapReadState)
	require.True(t, ok)
	assert.Equal(t, "ui", rec.Metadata["source"])
}

func TestStoreImportInvalid(t *testing.T) {
	s := NewPermissionStore(nil)

	err := s.Import([]byte("not json"))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "import", serr.Op)
}

func TestStoreKeysWithDots(t *testing.T) {
	s := NewPermissionStore(nil)
	s.Set("com.example.plugin", CapReadState, StateGranted, nil)

	blob, err := s.Export()
	require.NoError(t, err)

	fresh := NewPermissionStore(nil)
	require.NoError(t, fresh.Import(blob))

	state, ok := fresh.Get("com.example.plugin", CapReadState)
	require.True(t, ok)
	assert.Equal(t, StateGranted, state)
}

func TestStoreLoadMissingFileStartsEmpty(t *testing.T) {
	backend := &FileBackend{Path: filepath.Join(t.TempDir(), "absent.json")}
	s := NewPermissionStore(backend)

	require.NoError(t, s.Load())
	assert.Empty(t, s.Plugins())
}

func TestStoreLoadUnreadableBackend(t *testing.T) {
	backend := &countingBackend{loadErr: errors.New("permission denied")}
	s := NewPermissionStore(backend)

	err := s.Load()
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "load", serr.Op)

	// The store still works, starting empty.
	assert.Empty(t, s.Plugins())
	s.Set("p1", CapReadState, StateGranted, nil)
	state, ok := s.Get("p1", CapReadState)
	require.True(t, ok)
	assert.Equal(t, StateGranted, state)
}

func TestStoreSaveDirtyTracking(t *testing.T) {
	backend := &countingBackend{}
	s := NewPermissionStore(backend)

	// Nothing changed; save is a no-op.
	require.NoError(t, s.Save())
	assert.Equal(t, 0, backend.saves)

	s.Set("p1", CapReadState, StateGranted, nil)
	require.NoError(t, s.Save())
	assert.Equal(t, 1, backend.saves)

	// Clean again after a save.
	require.NoError(t, s.Save())
	assert.Equal(t, 1, backend.saves)
}

func TestStoreSaveErrorSurfaced(t *testing.T) {
	backend := &countingBackend{saveErr: errors.New("disk full")}
	s := NewPermissionStore(backend)
	s.Set("p1", CapReadState, StateGranted, nil)

	err := s.Save()
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "save", serr.Op)
}

func TestStoreFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.json")
	backend := &FileBackend{Path: path}

	s := NewPermissionStore(backend)
	s.Set("p1", CapWriteState, StateGranted, nil)
	require.NoError(t, s.Save())

	_, err := os.Stat(path)
	require.NoError(t, err)

	reloaded := NewPermissionStore(&FileBackend{Path: path})
	require.NoError(t, reloaded.Load())
	state, ok := reloaded.Get("p1", CapWriteState)
	require.True(t, ok)
	assert.Equal(t, StateGranted, state)
}

// countingBackend records saves and can fail on demand.
type countingBackend struct {
	saves   int
	saveErr error
	loadErr error
	data    []byte
}

func (b *countingBackend) Load() ([]byte, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	if b.data == nil {
		return nil, os.ErrNotExist
	}
	return b.data, nil
}

func (b *countingBackend) Save(data []byte) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves++
	b.data = data
	return nil
}
