package starengine

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/wippyai/embshell/engine"
	"github.com/wippyai/embshell/errors"
)

// Backend ids.
const (
	Full  = "full"
	Micro = "micro"
)

// DefaultMicroSteps is the micro dialect's step budget when none is
// configured.
const DefaultMicroSteps = 10_000_000

// FrozenFilename is the filename compiled into frozen programs, so that
// freezing the same source twice yields identical bytes.
const FrozenFilename = "<module>"

func init() {
	engine.Register(Full, func(cfg engine.Config) (engine.Backend, error) { return New(Full, cfg) })
	engine.Register(Micro, func(cfg engine.Config) (engine.Backend, error) { return New(Micro, cfg) })
}

// Dialect returns the file options of a backend id.
func Dialect(id string) *syntax.FileOptions {
	if id == Micro {
		return &syntax.FileOptions{
			TopLevelControl:   true,
			GlobalReassign:    true,
			LoadBindsGlobally: true,
		}
	}
	return &syntax.FileOptions{
		Set:               true,
		While:             true,
		TopLevelControl:   true,
		GlobalReassign:    true,
		LoadBindsGlobally: true,
		Recursion:         true,
	}
}

// Backend runs Starlark. Full and micro differ only in dialect options,
// step budget and the error marker.
type Backend struct {
	cfg      engine.Config
	opts     *syntax.FileOptions
	base     starlark.StringDict
	modules  map[string]*loadEntry
	id       string
	maxSteps uint64
}

var (
	_ engine.Backend = (*Backend)(nil)
	_ engine.Freezer = (*Backend)(nil)
)

// program is the compiled form held in a ScriptUnit. Source units keep
// the names declared when they were compiled; frozen units carry a
// Starlark program.
type program struct {
	prog  *starlark.Program
	names []string
}

// New creates a Starlark backend for id.
func New(id string, cfg engine.Config) (*Backend, error) {
	if id != Full && id != Micro {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("backend", id).
			Detail("not a starlark backend: %s", id).
			Build()
	}

	b := &Backend{
		cfg:      cfg,
		opts:     Dialect(id),
		base:     starlark.StringDict{"newclass": starlark.NewBuiltin("newclass", newclass)},
		modules:  make(map[string]*loadEntry),
		id:       id,
		maxSteps: cfg.MaxSteps,
	}
	if id == Micro && b.maxSteps == 0 {
		b.maxSteps = DefaultMicroSteps
	}
	for name, v := range cfg.Registry.Globals() {
		b.base[name] = toStarlark(v)
	}
	return b, nil
}

func (b *Backend) Name() string { return b.id }

func (b *Backend) Traits() engine.Traits {
	return engine.Traits{ErrorMarker: b.id == Full, CanFreeze: true}
}

func (b *Backend) Close() error {
	b.modules = make(map[string]*loadEntry)
	return nil
}

// Compile parses src. Name resolution happens when the unit runs, against
// the namespace of that moment.
func (b *Backend) Compile(ctx context.Context, ns *engine.Namespace, filename string, src []byte) (*engine.ScriptUnit, error) {
	f, err := b.opts.Parse(filename, src, 0)
	if err != nil {
		return nil, translate(ctx, err)
	}

	var imports []string
	seen := make(map[string]bool)
	for _, stmt := range f.Stmts {
		if load, ok := stmt.(*syntax.LoadStmt); ok {
			name := load.ModuleName()
			if !seen[name] {
				seen[name] = true
				imports = append(imports, name)
			}
		}
	}

	return &engine.ScriptUnit{
		Code:     &program{names: ns.Names()},
		Backend:  b.id,
		Filename: filename,
		Source:   src,
		Imports:  imports,
	}, nil
}

// Execute resolves the unit's imports, then runs it. Source units run as
// a chunk over the namespace so declared globals read as ordinary module
// globals; frozen units run as a program with the namespace predeclared.
func (b *Backend) Execute(ctx context.Context, unit *engine.ScriptUnit, ns *engine.Namespace) error {
	p, ok := unit.Code.(*program)
	if !ok || unit.Backend != b.id {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("unit compiled by backend '%s' cannot run on '%s'", unit.Backend, b.id).
			Build()
	}

	thread := b.newThread(ctx, unit.Filename)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	for _, name := range unit.Imports {
		if _, err := b.load(thread, name); err != nil {
			return err
		}
	}

	if p.prog != nil {
		return b.runProgram(ctx, thread, p.prog, ns)
	}
	return b.runChunk(ctx, thread, unit, ns)
}

func (b *Backend) runChunk(ctx context.Context, thread *starlark.Thread, unit *engine.ScriptUnit, ns *engine.Namespace) error {
	f, err := b.opts.Parse(unit.Filename, unit.Source, 0)
	if err != nil {
		return translate(ctx, err)
	}

	globals := b.namespace(ns)
	err = starlark.ExecREPLChunk(f, thread, globals)

	// Bindings survive a fault; earlier statements already ran.
	if m, ok := f.Module.(*resolve.Module); ok {
		for _, bind := range m.Globals {
			if bind.First == nil {
				continue
			}
			b.bind(ns, bind.First.Name, globals[bind.First.Name])
		}
	}
	return translate(ctx, err)
}

func (b *Backend) runProgram(ctx context.Context, thread *starlark.Thread, prog *starlark.Program, ns *engine.Namespace) error {
	globals, err := prog.Init(thread, b.namespace(ns))
	names := globals.Keys()
	sort.Strings(names)
	for _, name := range names {
		b.bind(ns, name, globals[name])
	}
	return translate(ctx, err)
}

// bind stores a global back into ns. Host globals are not copied unless
// the namespace already declares the name.
func (b *Backend) bind(ns *engine.Namespace, name string, v starlark.Value) {
	if v == nil {
		return
	}
	if _, host := b.base[name]; host && !ns.Has(name) {
		return
	}
	ns.Set(name, toBinding(v))
}

// namespace returns the globals a unit runs against: host globals and
// builtins overlaid by the namespace.
func (b *Backend) namespace(ns *engine.Namespace) starlark.StringDict {
	d := make(starlark.StringDict, len(b.base)+ns.Len())
	for k, v := range b.base {
		d[k] = v
	}
	for _, name := range ns.Names() {
		v, _ := ns.Get(name)
		d[name] = toStarlark(v)
	}
	return d
}

func (b *Backend) newThread(ctx context.Context, name string) *starlark.Thread {
	t := &starlark.Thread{
		Name:  name,
		Print: b.print,
		Load:  b.load,
	}
	t.SetLocal(contextKey, ctx)
	if b.maxSteps > 0 {
		t.SetMaxExecutionSteps(b.maxSteps)
	}
	return t
}

func (b *Backend) print(_ *starlark.Thread, msg string) {
	fmt.Fprintln(b.cfg.Stdout, msg)
}

// Serialize compiles the unit's source into a program under the fixed
// frozen filename. Names declared at compile time are predeclared, so
// the frozen program expects the same namespace shape.
func (b *Backend) Serialize(unit *engine.ScriptUnit) ([]byte, []string, error) {
	p, ok := unit.Code.(*program)
	if !ok {
		return nil, nil, errors.Artifact(errors.KindArtifact, "unit was not compiled by a starlark backend")
	}

	prog := p.prog
	if prog == nil {
		declared := make(map[string]bool, len(p.names))
		for _, n := range p.names {
			declared[n] = true
		}
		isPredeclared := func(name string) bool { return declared[name] || b.base.Has(name) }

		var err error
		_, prog, err = starlark.SourceProgramOptions(b.opts, FrozenFilename, unit.Source, isPredeclared)
		if err != nil {
			return nil, nil, translate(context.Background(), err)
		}
	}

	var buf bytes.Buffer
	if err := prog.Write(&buf); err != nil {
		return nil, nil, errors.Wrap(errors.PhaseArtifact, errors.KindArtifact, err, "encode program")
	}
	engine.Logger().Debug("program frozen",
		zap.String("backend", b.id),
		zap.Int("bytes", buf.Len()),
		zap.Int("loads", prog.NumLoads()))
	return buf.Bytes(), programLoads(prog), nil
}

// Deserialize decodes a program written by Serialize.
func (b *Backend) Deserialize(filename string, payload []byte) (*engine.ScriptUnit, error) {
	prog, err := starlark.CompiledProgram(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Artifact(errors.KindArtifact, "invalid program in %s: %v", filename, err)
	}
	return &engine.ScriptUnit{
		Code:     &program{prog: prog},
		Backend:  b.id,
		Filename: filename,
		Imports:  programLoads(prog),
	}, nil
}

func programLoads(prog *starlark.Program) []string {
	var names []string
	seen := make(map[string]bool)
	for i := 0; i < prog.NumLoads(); i++ {
		name, _ := prog.Load(i)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
