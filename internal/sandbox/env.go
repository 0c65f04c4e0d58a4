package sandbox

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/whisker-if/whisker/internal/security"
)

// symbolKind classifies how an allowlisted symbol is admitted into the
// environment.
type symbolKind int

const (
	// kindPrimitive admits a single base-library function as-is.
	kindPrimitive symbolKind = iota

	// kindFullLibrary admits a full copy of a library with no I/O or
	// privilege surface.
	kindFullLibrary

	// kindPartialLibrary admits only an enumerated subset of a library's
	// members.
	kindPartialLibrary
)

// symbolSpec is one allowlist entry.
type symbolSpec struct {
	name    string
	kind    symbolKind
	members []string // for kindPartialLibrary
}

// allowlist is the fixed set of symbols admitted into every sandbox
// environment. Nothing outside this list reaches plugin code; the
// environment never aliases the host globals.
var allowlist = []symbolSpec{
	{name: "assert", kind: kindPrimitive},
	{name: "error", kind: kindPrimitive},
	{name: "ipairs", kind: kindPrimitive},
	{name: "next", kind: kindPrimitive},
	{name: "pairs", kind: kindPrimitive},
	{name: "pcall", kind: kindPrimitive},
	{name: "select", kind: kindPrimitive},
	{name: "tonumber", kind: kindPrimitive},
	{name: "tostring", kind: kindPrimitive},
	{name: "type", kind: kindPrimitive},
	{name: "unpack", kind: kindPrimitive},
	{name: "xpcall", kind: kindPrimitive},
	{name: "rawequal", kind: kindPrimitive},

	{name: "math", kind: kindFullLibrary},
	{name: "string", kind: kindFullLibrary},

	// table without unsafe internals, os limited to clock reading.
	{name: "table", kind: kindPartialLibrary, members: []string{"concat", "insert", "remove", "sort"}},
	{name: "os", kind: kindPartialLibrary, members: []string{"clock", "date", "difftime", "time"}},
}

// environment is the restricted namespace one plugin executes in. It is
// rebuilt per execution; nothing persists between plugins.
type environment struct {
	L     *lua.LState
	table *lua.LTable

	pluginID string
	audit    *security.AuditLog

	// protected tables refuse metatable introspection and mutation.
	protected map[*lua.LTable]bool

	// modules loadable through the restricted require.
	allowed map[string]bool
	modules map[string]*lua.LTable

	// originals saved before the globals are abandoned.
	origSetMeta lua.LValue
	origGetMeta lua.LValue
}

// newEnvironment builds a fresh restricted namespace on L. The caller is
// expected to have opened the base, table, string, math, and os libraries
// on the state; the environment copies from them and never references the
// state's globals afterwards.
func newEnvironment(L *lua.LState, pluginID string, allowedModules []string, audit *security.AuditLog) *environment {
	env := &environment{
		L:         L,
		table:     L.NewTable(),
		pluginID:  pluginID,
		audit:     audit,
		protected: make(map[*lua.LTable]bool),
		allowed:   make(map[string]bool, len(allowedModules)),
		modules:   make(map[string]*lua.LTable),
	}
	for _, name := range allowedModules {
		env.allowed[name] = true
	}

	env.origSetMeta = L.GetGlobal("setmetatable")
	env.origGetMeta = L.GetGlobal("getmetatable")

	for _, spec := range allowlist {
		env.admit(spec)
	}

	env.installPrint()
	env.installMetatableGuards()
	env.installRequire()

	// The environment is its own _G; there is no route back to the host
	// globals.
	env.table.RawSetString("_G", env.table)

	env.close()
	return env
}

// admit copies one allowlist entry from the state globals into the
// environment.
func (e *environment) admit(spec symbolSpec) {
	src := e.L.GetGlobal(spec.name)

	switch spec.kind {
	case kindPrimitive:
		if src != lua.LNil {
			e.table.RawSetString(spec.name, src)
		}

	case kindFullLibrary:
		lib, ok := src.(*lua.LTable)
		if !ok {
			return
		}
		cp := e.L.NewTable()
		lib.ForEach(func(k, v lua.LValue) {
			cp.RawSet(k, v)
		})
		e.install(spec.name, cp)

	case kindPartialLibrary:
		lib, ok := src.(*lua.LTable)
		if !ok {
			return
		}
		cp := e.L.NewTable()
		for _, member := range spec.members {
			if v := lib.RawGetString(member); v != lua.LNil {
				cp.RawSetString(member, v)
			}
		}
		e.install(spec.name, cp)
	}
}

// install places a library copy into the environment, protects it, and
// makes it loadable through require.
func (e *environment) install(name string, lib *lua.LTable) {
	e.protected[lib] = true
	e.table.RawSetString(name, lib)
	e.modules[name] = lib
}

// installPrint routes print into the audit log instead of a raw console.
func (e *environment) installPrint() {
	e.table.RawSetString("print", e.L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		e.audit.Info(security.EventPluginLog, "plugin output", map[string]any{
			"plugin": e.pluginID,
			"output": joinTab(parts),
		})
		return 0
	}))
}

func joinTab(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\t"
		}
		out += p
	}
	return out
}

// installMetatableGuards wraps getmetatable and setmetatable so protected
// tables can be neither inspected nor rebound. A tamper attempt is a
// sandbox escape attempt and is audited as such.
func (e *environment) installMetatableGuards() {
	e.table.RawSetString("setmetatable", e.L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		if e.protected[t] {
			e.escapeAttempt("setmetatable on protected table")
			L.RaiseError("cannot change a protected metatable")
			return 0
		}
		L.Push(e.origSetMeta)
		L.Push(t)
		L.Push(L.Get(2))
		L.Call(2, 1)
		return 1
	}))

	e.table.RawSetString("getmetatable", e.L.NewFunction(func(L *lua.LState) int {
		v := L.Get(1)
		if t, ok := v.(*lua.LTable); ok && e.protected[t] {
			L.Push(lua.LString("protected"))
			return 1
		}
		L.Push(e.origGetMeta)
		L.Push(v)
		L.Call(1, 1)
		return 1
	}))
}

// installRequire installs the restricted module loader. Only modules in
// the host-supplied allowlist resolve; anything else is denied and logged
// as an escape attempt.
func (e *environment) installRequire() {
	loaded := make(map[string]lua.LValue)

	e.table.RawSetString("require", e.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		if !e.allowed[name] {
			e.escapeAttempt("require of disallowed module " + name)
			L.RaiseError("module %q is not allowed", name)
			return 0
		}
		if v, ok := loaded[name]; ok {
			L.Push(v)
			return 1
		}
		mod, ok := e.modules[name]
		if !ok {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		loaded[name] = mod
		L.Push(mod)
		return 1
	}))
}

// registerModule makes a host-built table loadable through require and
// visible as a global. Used for the whisker API surface.
func (e *environment) registerModule(name string, mod *lua.LTable) {
	e.allowed[name] = true
	e.install(name, mod)
}

// close seals the namespace: reads or writes of names that were never
// admitted raise instead of silently creating implicit globals.
func (e *environment) close() {
	mt := e.L.NewTable()
	mt.RawSetString("__index", e.L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("attempt to read undefined name %q", L.Get(2).String())
		return 0
	}))
	mt.RawSetString("__newindex", e.L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("attempt to write undefined name %q", L.Get(2).String())
		return 0
	}))
	e.protected[mt] = true
	e.protected[e.table] = true
	e.L.SetMetatable(e.table, mt)
}

func (e *environment) escapeAttempt(detail string) {
	e.audit.Error(security.EventEscapeAttempt, "sandbox escape attempt", map[string]any{
		"plugin": e.pluginID,
		"detail": detail,
	})
}
