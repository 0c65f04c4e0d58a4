package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/whisker-if/whisker/internal/security"
)

// DefaultTimeout is the CPU-time budget applied when Options.Timeout is
// zero.
const DefaultTimeout = 100 * time.Millisecond

// luaBytecodeSignature prefixes precompiled Lua chunks. Text-only loading
// is a hard rule: bytecode can encode constructs the textual allowlist
// never sees.
const luaBytecodeSignature = "\x1bLua"

// Options configures a single sandboxed execution.
type Options struct {
	// Timeout is the wall-clock budget for the call. Zero means
	// DefaultTimeout. Nested executions get their own fresh budget.
	Timeout time.Duration

	// AllowedModules lists module names the plugin may require.
	AllowedModules []string

	// Capabilities is the plugin's declared capability set, pushed onto
	// the security context stack for the duration of the call.
	Capabilities []security.CapabilityID

	// State is the host's story-state accessor backing whisker.state.
	// When nil, state operations report that no accessor is configured.
	State StateAccessor

	// Storage backs the per-plugin key/value store. When nil, an
	// execution-local in-memory store is used.
	Storage Storage
}

// Result is the outcome of a sandboxed execution. Untrusted code never
// propagates a raw error into host control flow; failures land here.
type Result struct {
	OK    bool
	Value any
	Err   string
}

// Runtime executes untrusted plugin code against a security kernel.
type Runtime struct {
	kernel *security.Kernel
}

// NewRuntime creates a runtime over the given kernel.
func NewRuntime(kernel *security.Kernel) *Runtime {
	return &Runtime{kernel: kernel}
}

// Execute compiles and runs source text for the given plugin. The
// pipeline: reject bytecode, build a fresh environment, compile, push a
// security context frame, run under the timeout guard, pop the frame on
// every control path.
func (r *Runtime) Execute(code, pluginID string, opts Options) Result {
	if strings.HasPrefix(code, luaBytecodeSignature) {
		r.kernel.Audit.Error(security.EventEscapeAttempt, "precompiled chunk rejected", map[string]any{
			"plugin": pluginID,
		})
		return Result{Err: "compilation error: precompiled chunks are not accepted"}
	}

	return r.run(pluginID, opts, func(L *lua.LState, env *environment) (lua.LValue, error) {
		fn, err := L.LoadString(code)
		if err != nil {
			return lua.LNil, &compileError{err: err}
		}
		L.SetFEnv(fn, env.table)
		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			return lua.LNil, err
		}
		return L.Get(-1), nil
	})
}

// ExecuteFunction runs a pre-existing host-authored callable through the
// same isolation and logging pipeline as Execute: a context frame is
// pushed, the timeout budget applies through ctx, and failures are
// returned in the Result rather than propagated.
func (r *Runtime) ExecuteFunction(fn func(ctx context.Context) (any, error), pluginID string, opts Options) Result {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	r.kernel.Audit.Info(security.EventSandboxExecute, "sandbox execution", map[string]any{
		"plugin": pluginID,
		"kind":   "function",
	})

	if err := r.kernel.Stack.Enter(pluginID, opts.Capabilities, r.permissionSet(pluginID, opts.Capabilities)); err != nil {
		return Result{Err: err.Error()}
	}
	defer r.popFrame()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	value, err := runRecovered(fn, ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return r.timeoutResult(pluginID, opts.Timeout)
		}
		r.kernel.Audit.Warn(security.EventSandboxError, "sandbox execution failed", map[string]any{
			"plugin": pluginID,
			"error":  err.Error(),
		})
		return Result{Err: err.Error()}
	}
	return Result{OK: true, Value: value}
}

// runRecovered invokes fn with panic recovery so a misbehaving host
// extension still cannot unwind through the sandbox.
func runRecovered(fn func(ctx context.Context) (any, error), ctx context.Context) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// run is the shared execution pipeline for Lua chunks.
func (r *Runtime) run(pluginID string, opts Options, body func(L *lua.LState, env *environment) (lua.LValue, error)) Result {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	r.kernel.Audit.Info(security.EventSandboxExecute, "sandbox execution", map[string]any{
		"plugin": pluginID,
		"kind":   "chunk",
	})

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibraries(L)

	env := newEnvironment(L, pluginID, opts.AllowedModules, r.kernel.Audit)
	r.attachWhiskerAPI(env, pluginID, opts)

	if err := r.kernel.Stack.Enter(pluginID, opts.Capabilities, r.permissionSet(pluginID, opts.Capabilities)); err != nil {
		return Result{Err: err.Error()}
	}
	defer r.popFrame()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	L.SetContext(ctx)
	defer func() {
		// The guard comes off on every exit path, never leaked across
		// calls.
		L.RemoveContext()
		cancel()
	}()

	value, err := runLuaRecovered(body, L, env)
	if err != nil {
		var cerr *compileError
		if errors.As(err, &cerr) {
			r.kernel.Audit.Warn(security.EventSandboxError, "compilation failed", map[string]any{
				"plugin": pluginID,
				"error":  cerr.err.Error(),
			})
			return Result{Err: "compilation error: " + cerr.err.Error()}
		}
		if ctx.Err() == context.DeadlineExceeded {
			return r.timeoutResult(pluginID, opts.Timeout)
		}
		r.kernel.Audit.Warn(security.EventSandboxError, "sandbox execution failed", map[string]any{
			"plugin": pluginID,
			"error":  err.Error(),
		})
		return Result{Err: err.Error()}
	}

	return Result{OK: true, Value: toGo(value)}
}

func runLuaRecovered(body func(L *lua.LState, env *environment) (lua.LValue, error), L *lua.LState, env *environment) (value lua.LValue, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lua panic: %v", rec)
		}
	}()
	return body(L, env)
}

// popFrame pops the context frame pushed by run. An empty stack here is a
// bookkeeping bug and is audited, not treated as fatal.
func (r *Runtime) popFrame() {
	if err := r.kernel.Stack.Exit(); err != nil {
		r.kernel.Audit.Error(security.EventContextLeak, "context frame bookkeeping error", map[string]any{
			"error": err.Error(),
		})
	}
}

func (r *Runtime) timeoutResult(pluginID string, budget time.Duration) Result {
	msg := fmt.Sprintf("Execution timeout: exceeded %dms", budget.Milliseconds())
	r.kernel.Audit.Warn(security.EventSandboxTimeout, "sandbox execution timed out", map[string]any{
		"plugin":     pluginID,
		"timeout_ms": budget.Milliseconds(),
	})
	return Result{Err: msg}
}

// permissionSet snapshots the recorded permission states for the frame.
func (r *Runtime) permissionSet(pluginID string, caps []security.CapabilityID) map[security.CapabilityID]security.PermissionState {
	if r.kernel.Manager == nil || len(caps) == 0 {
		return nil
	}
	return r.kernel.Manager.States(pluginID, caps)
}

// openSafeLibraries opens only the libraries the environment copies from.
// io, debug, channel, and coroutine stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenOs(L)
}

// compileError wraps a chunk compilation failure so run can distinguish
// it from runtime errors.
type compileError struct {
	err error
}

func (e *compileError) Error() string { return e.err.Error() }

func (e *compileError) Unwrap() error { return e.err }
