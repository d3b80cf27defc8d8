// Package embshell provides an embeddable scripting host for Go programs.
//
// A host application runs guest scripts against a fixed set of native
// modules, shares raw memory regions with them through typed overlays and
// can freeze compiled units into portable artifacts to execute later.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	embshell/            Root package with core Memory, Allocator and Space interfaces
//	├── shell/           Session: stdin driver, meta-commands, globals dump, config
//	├── engine/          Backend contract, backend registry and the globals namespace
//	│   ├── starengine/  Starlark backends "full" and "micro"
//	│   └── luaengine/   Lua backend "lua"
//	├── native/          Native module registry, host functions and classes
//	├── modules/         Built-in modules: host, example, uctypes
//	├── overlay/         Typed field views over raw bytes
//	├── memory/          Fixed-size arena backing the host address space
//	├── freeze/          Frozen unit envelope, artifact files and compile cache
//	├── errors/          Structured errors and fault classification
//	└── cmd/embshell/    Command-line shell
//
// # Quick Start
//
// Run a script read from stdin:
//
//	s, err := shell.New(ctx, shell.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	os.Exit(s.Run(ctx, os.Stdin))
//
// # Native Modules
//
// Register Go functions as a module the guest can load:
//
//	install := func(r *native.Registry, _ embshell.Space) error {
//	    return r.Register(native.NewModule("calc").
//	        Func("triple", func(n int64) int64 { return 3 * n }))
//	}
//	s, err := shell.New(ctx, cfg, shell.WithModules(install))
//
// The registry is sealed once the session is built; modules cannot be
// added while scripts run.
//
// # Faults
//
// Every failure surfaced to the guest is classified into one fault kind
// with a fixed process exit code (see errors.Fault). The shell reports the
// fault on stderr as "<Fault>: <message>".
//
// # Thread Safety
//
// A Session is NOT thread-safe and should be used by a single goroutine.
// Blocking operations take a context.Context; cancelling it interrupts the
// running guest.
//
// # Memory Model
//
// The host address space is a fixed arena of WebAssembly pages. It never
// grows, so views handed to guest code stay valid for the life of the
// session. Blocks owned by class instances and byte arrays return to the
// arena once the guest drops the object.
package embshell
