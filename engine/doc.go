// Package engine defines the guest runtime adapter: the Backend interface
// every guest language implements, the ScriptUnit it compiles to and the
// Namespace of global bindings it runs against.
//
// # Backends
//
// Backends register a Factory under an id from an init function:
//
//	full   - starengine, every Starlark dialect option enabled
//	micro  - starengine, restricted dialect and an execution step budget
//	lua    - luaengine, Lua 5.1 via gopher-lua
//
// Import the backend packages for their side effects and create one with
// New:
//
//	import _ "github.com/wippyai/embshell/engine/starengine"
//
//	b, err := engine.New("full", engine.Config{
//	    Stdout:   os.Stdout,
//	    Registry: registry,
//	    Space:    arena,
//	})
//
// # Lifecycle
//
// Compile parses source and reports syntax faults before anything runs.
// Execute runs a unit against a Namespace, writing guest output as it is
// produced. Namespace mutations made by one Execute are visible to the
// next, which is how line mode shares state between lines.
//
// # Errors
//
// Backends translate engine errors into *errors.Error at this boundary.
// Host errors raised by native functions pass through unchanged, so the
// shell classifies every fault with errors.Classify and never inspects
// engine message text.
//
// # Freezing
//
// Backends whose Traits report CanFreeze also implement Freezer. The
// payload is the backend's own compiled program; the freeze package
// wraps it in a versioned envelope.
package engine
