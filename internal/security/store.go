package security

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PermissionState is the lifecycle state of a (plugin, capability) pair.
type PermissionState string

// Permission states. Absence of a record means StatePending.
const (
	StatePending PermissionState = "pending"
	StateGranted PermissionState = "granted"
	StateDenied  PermissionState = "denied"
	StateRevoked PermissionState = "revoked"
)

// PermissionRecord is a persisted grant decision.
type PermissionRecord struct {
	State     PermissionState
	Timestamp time.Time
	Metadata  map[string]any
}

// StoreBackend is the persistence medium for the permission ledger. A nil
// backend makes the store purely in-memory.
type StoreBackend interface {
	// Load reads the ledger blob. os.ErrNotExist means no ledger has been
	// written yet; any other error marks the ledger unreadable.
	Load() ([]byte, error)

	// Save writes the ledger blob. Errors are surfaced to the caller.
	Save([]byte) error
}

// FileBackend persists the ledger to a single JSON file.
type FileBackend struct {
	Path string
}

// Load reads the ledger file.
func (f *FileBackend) Load() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Save writes the ledger file, creating it if needed.
func (f *FileBackend) Save(data []byte) error {
	return os.WriteFile(f.Path, data, 0o600)
}

// PermissionStore is the persisted ledger of per-plugin, per-capability
// grant decisions. It is the sole mutator of permission records; other
// components read through the PermissionManager.
type PermissionStore struct {
	mu      sync.RWMutex
	records map[string]map[CapabilityID]PermissionRecord
	backend StoreBackend
	dirty   bool
}

// NewPermissionStore creates a store over the given backend. Backend may
// be nil for an in-memory store.
func NewPermissionStore(backend StoreBackend) *PermissionStore {
	return &PermissionStore{
		records: make(map[string]map[CapabilityID]PermissionRecord),
		backend: backend,
	}
}

// Get returns the state for a (plugin, capability) pair. The second return
// is false when no record exists, which callers treat as StatePending.
func (s *PermissionStore) Get(pluginID string, capID CapabilityID) (PermissionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[pluginID][capID]
	if !ok {
		return StatePending, false
	}
	return rec.State, true
}

// GetRecord returns the full record for a (plugin, capability) pair.
func (s *PermissionStore) GetRecord(pluginID string, capID CapabilityID) (PermissionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[pluginID][capID]
	return rec, ok
}

// Set creates or overwrites a record and marks the store dirty.
func (s *PermissionStore) Set(pluginID string, capID CapabilityID, state PermissionState, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[pluginID] == nil {
		s.records[pluginID] = make(map[CapabilityID]PermissionRecord)
	}
	s.records[pluginID][capID] = PermissionRecord{
		State:     state,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	s.dirty = true
}

// Remove deletes the record for a capability, or every record for the
// plugin when capID is empty.
func (s *PermissionStore) Remove(pluginID string, capID CapabilityID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if capID == "" {
		if _, ok := s.records[pluginID]; ok {
			delete(s.records, pluginID)
			s.dirty = true
		}
		return
	}
	if _, ok := s.records[pluginID][capID]; ok {
		delete(s.records[pluginID], capID)
		if len(s.records[pluginID]) == 0 {
			delete(s.records, pluginID)
		}
		s.dirty = true
	}
}

// Plugins returns the plugin ids with at least one record.
func (s *PermissionStore) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

// Records returns a copy of all records for a plugin.
func (s *PermissionStore) Records(pluginID string) map[CapabilityID]PermissionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[CapabilityID]PermissionRecord, len(s.records[pluginID]))
	for id, rec := range s.records[pluginID] {
		out[id] = rec
	}
	return out
}

// Load reads the ledger from the backend. The store starts empty on any
// failure; a missing ledger is the normal first run and returns nil, while
// an unreadable or corrupt ledger returns a StorageError so the caller can
// record that records were lost.
func (s *PermissionStore) Load() error {
	if s.backend == nil {
		return nil
	}

	data, err := s.backend.Load()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &StorageError{Op: "load", Err: err}
	}
	return s.Import(data)
}

// Save writes the ledger through the backend. It is a no-op unless a
// record changed since the last save. Save failures are always surfaced.
func (s *PermissionStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty || s.backend == nil {
		return nil
	}

	data, err := s.exportLocked()
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	if err := s.backend.Save(data); err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	s.dirty = false
	return nil
}

// Export serializes the ledger to a JSON blob suitable for Import.
func (s *PermissionStore) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

func (s *PermissionStore) exportLocked() ([]byte, error) {
	blob := []byte("{}")
	var err error
	for pluginID, caps := range s.records {
		for capID, rec := range caps {
			prefix := escapeKey(pluginID) + "." + escapeKey(string(capID))
			blob, err = sjson.SetBytes(blob, prefix+".state", string(rec.State))
			if err != nil {
				return nil, err
			}
			blob, err = sjson.SetBytes(blob, prefix+".timestamp", rec.Timestamp.Unix())
			if err != nil {
				return nil, err
			}
			if len(rec.Metadata) > 0 {
				blob, err = sjson.SetBytes(blob, prefix+".metadata", rec.Metadata)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return blob, nil
}

// Import replaces the ledger contents with the given blob.
func (s *PermissionStore) Import(data []byte) error {
	if !gjson.ValidBytes(data) {
		return &StorageError{Op: "import", Err: errInvalidLedger}
	}

	records := make(map[string]map[CapabilityID]PermissionRecord)
	gjson.ParseBytes(data).ForEach(func(plugin, caps gjson.Result) bool {
		entry := make(map[CapabilityID]PermissionRecord)
		caps.ForEach(func(capID, rec gjson.Result) bool {
			var meta map[string]any
			if m, ok := rec.Get("metadata").Value().(map[string]any); ok {
				meta = m
			}
			entry[CapabilityID(capID.String())] = PermissionRecord{
				State:     PermissionState(rec.Get("state").String()),
				Timestamp: time.Unix(rec.Get("timestamp").Int(), 0),
				Metadata:  meta,
			}
			return true
		})
		if len(entry) > 0 {
			records[plugin.String()] = entry
		}
		return true
	})

	s.mu.Lock()
	s.records = records
	s.dirty = false
	s.mu.Unlock()
	return nil
}

var errInvalidLedger = errors.New("ledger is not valid JSON")

// escapeKey escapes sjson/gjson path separators in a ledger key.
func escapeKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`)
	return r.Replace(k)
}
