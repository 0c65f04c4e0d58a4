// Package sandbox executes untrusted plugin code in a restricted Lua
// environment under a CPU-time budget.
//
// This package wraps the gopher-lua library to provide:
//   - A closed, allowlist-derived execution environment
//   - Text-only chunk loading (precompiled chunks are rejected)
//   - A wall-clock execution budget enforced through the VM's context hook
//   - The capability-gated whisker API exposed to plugins
//
// # Runtime
//
// The Runtime type runs source text against a fresh environment:
//
//	rt := sandbox.NewRuntime(kernel)
//	res := rt.Execute(code, "my-plugin", sandbox.Options{
//	    Timeout:      100 * time.Millisecond,
//	    Capabilities: []security.CapabilityID{security.CapReadState},
//	    State:        accessor,
//	})
//	if !res.OK {
//	    // res.Err carries the compilation, runtime, or timeout message
//	}
//
// Untrusted code can never propagate a raw error into host control flow:
// every failure is caught inside Execute and returned in the Result.
//
// # Environment
//
// The environment never inherits the host globals by reference. Every
// admitted symbol is explicitly allowlisted: pure primitives, full copies
// of the math and string libraries, partial copies of table and os, a
// print routed to the audit log, and a require restricted to the host's
// module allowlist. Reads or writes of undefined names raise instead of
// silently touching an implicit global.
package sandbox
