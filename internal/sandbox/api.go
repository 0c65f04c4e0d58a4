package sandbox

import (
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/whisker-if/whisker/internal/security"
)

// StateAccessor is the host's view of story state: variables and the
// current passage. Implemented by the story engine, which is outside this
// subsystem.
type StateAccessor interface {
	// Get returns a story variable.
	Get(name string) (any, bool)

	// Set assigns a story variable.
	Set(name string, value any) error
}

// Storage is per-plugin key/value storage. Keys are scoped by plugin id;
// one plugin can never observe another plugin's entries.
type Storage interface {
	Get(pluginID, key string) (any, bool)
	Set(pluginID, key string, value any)
	Remove(pluginID, key string)
}

// MemoryStorage is an in-memory Storage implementation.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]map[string]any)}
}

// Get returns the value for a plugin-scoped key.
func (m *MemoryStorage) Get(pluginID, key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[pluginID][key]
	return v, ok
}

// Set assigns a plugin-scoped key.
func (m *MemoryStorage) Set(pluginID, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[pluginID] == nil {
		m.data[pluginID] = make(map[string]any)
	}
	m.data[pluginID][key] = value
}

// Remove deletes a plugin-scoped key.
func (m *MemoryStorage) Remove(pluginID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[pluginID], key)
}

// attachWhiskerAPI builds the capability-gated host surface and registers
// it in the environment as the "whisker" module. This table is the only
// channel through which sandboxed code reaches host functionality.
//
// The partitioning is the template for new gated operations: state reads
// require read_state, state writes require write_state, per-plugin storage
// and logging require no capability because isolation already bounds them.
func (r *Runtime) attachWhiskerAPI(env *environment, pluginID string, opts Options) {
	L := env.L
	checker := r.kernel.Checker

	storage := opts.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}

	api := L.NewTable()

	// whisker.state — gated story-state access.
	state := L.NewTable()
	state.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if err := checker.Require(security.CapReadState); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if opts.State == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, ok := opts.State.Get(name)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, v))
		return 1
	}))
	state.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		value := toGo(L.Get(2))
		if err := checker.Require(security.CapWriteState); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if opts.State == nil {
			L.RaiseError("no state accessor configured")
			return 0
		}
		if err := opts.State.Set(name, value); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return 0
	}))
	api.RawSetString("state", state)

	// whisker.storage — plugin-scoped, ungated.
	store := L.NewTable()
	store.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		v, ok := storage.Get(pluginID, key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, v))
		return 1
	}))
	store.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		storage.Set(pluginID, key, toGo(L.Get(2)))
		return 0
	}))
	store.RawSetString("remove", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		storage.Remove(pluginID, key)
		return 0
	}))
	api.RawSetString("storage", store)

	// whisker.log — ungated, routed to the audit log.
	logTbl := L.NewTable()
	logTbl.RawSetString("info", L.NewFunction(r.pluginLog(pluginID, security.LevelInfo)))
	logTbl.RawSetString("warn", L.NewFunction(r.pluginLog(pluginID, security.LevelWarn)))
	api.RawSetString("log", logTbl)

	env.registerModule("whisker", api)
}

func (r *Runtime) pluginLog(pluginID string, level security.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		r.kernel.Audit.Append(level, security.EventPluginLog, "plugin log", map[string]any{
			"plugin":  pluginID,
			"message": msg,
		})
		return 0
	}
}
