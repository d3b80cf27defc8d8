package luaengine

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/embshell/engine"
	"github.com/wippyai/embshell/errors"
)

// ID is the backend id.
const ID = "lua"

// SourceExt is the extension of guest modules on the module path.
const SourceExt = ".lua"

func init() {
	engine.Register(ID, func(cfg engine.Config) (engine.Backend, error) { return New(cfg) })
}

// Backend runs Lua 5.1. Globals are strict: reading a name that was
// never declared or assigned is a name fault.
type Backend struct {
	cfg      engine.Config
	ctx      context.Context
	L        *lua.LState
	undef    *lua.LUserData
	host     map[string]bool
	declared map[string]bool
	order    []string
}

var _ engine.Backend = (*Backend)(nil)

// New creates a Lua backend with the base, table, string and math
// libraries, strict globals and the host globals installed.
func New(cfg engine.Config) (*Backend, error) {
	b := &Backend{
		cfg:      cfg,
		ctx:      context.Background(),
		L:        lua.NewState(lua.Options{SkipOpenLibs: true}),
		host:     make(map[string]bool),
		declared: make(map[string]bool),
	}

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := b.L.CallByParam(lua.P{
			Fn:      b.L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			b.L.Close()
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open lua library "+lib.name)
		}
	}

	b.installMetatables()

	g := b.L.G.Global
	g.RawSetString("print", b.L.NewFunction(b.print))
	g.RawSetString("require", b.L.NewFunction(b.require))
	for name, v := range cfg.Registry.Globals() {
		g.RawSetString(name, b.toLua(v))
		b.host[name] = true
	}
	b.strictGlobals()
	return b, nil
}

func (b *Backend) Name() string { return ID }

// Traits: compiled Lua prototypes cannot be serialized, so the lua
// backend does not freeze.
func (b *Backend) Traits() engine.Traits {
	return engine.Traits{}
}

func (b *Backend) Close() error {
	b.L.Close()
	return nil
}

// strictGlobals installs the _G metatable: assignment declares a name,
// reading an undeclared name raises a name fault.
func (b *Backend) strictGlobals() {
	mt := b.L.NewTable()
	b.L.SetField(mt, "__newindex", b.L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		key := L.CheckString(2)
		b.declare(key)
		t.RawSetString(key, L.Get(3))
		return 0
	}))
	b.L.SetField(mt, "__index", b.L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if b.declared[key] {
			L.Push(lua.LNil)
			return 1
		}
		b.raise(L, errors.Undefined(errors.PhaseRuntime, key))
		return 0
	}))
	b.L.SetMetatable(b.L.G.Global, mt)
}

func (b *Backend) declare(name string) {
	if !b.declared[name] {
		b.declared[name] = true
		b.order = append(b.order, name)
	}
}

func (b *Backend) context() context.Context { return b.ctx }

func (b *Backend) print(L *lua.LState) int {
	top := L.GetTop()
	var sb strings.Builder
	for i := 1; i <= top; i++ {
		if i > 1 {
			sb.WriteByte('\t')
		}
		sb.WriteString(L.ToStringMeta(L.Get(i)).String())
	}
	sb.WriteByte('\n')
	_, _ = b.cfg.Stdout.Write([]byte(sb.String()))
	return 0
}

// require resolves native modules first, then <dir>/<name>.lua on the
// module path. Results are cached in package.loaded semantics: a module
// runs once per backend.
func (b *Backend) require(L *lua.LState) int {
	name := L.CheckString(1)

	loaded := b.loaded()
	if v := loaded.RawGetString(name); v != lua.LNil {
		L.Push(v)
		return 1
	}

	if m, err := b.cfg.Registry.Lookup(name); err == nil {
		v := b.object(m)
		loaded.RawSetString(name, v)
		L.Push(v)
		return 1
	}

	fn, err := b.findModule(name)
	if err != nil {
		b.raise(L, err)
		return 0
	}

	// Mark the module before running it so a cycle sees a value.
	loaded.RawSetString(name, lua.LTrue)
	L.Push(fn)
	L.Push(lua.LString(name))
	if err := L.PCall(1, 1, nil); err != nil {
		// A failed module stays unloaded so the next require retries it.
		loaded.RawSetString(name, lua.LNil)
		var api *lua.ApiError
		if stderrors.As(err, &api) {
			L.Error(api.Object, 0)
		} else {
			b.raise(L, err)
		}
		return 0
	}
	result := L.Get(-1)
	L.Pop(1)
	if result == lua.LNil {
		result = lua.LTrue
	}
	loaded.RawSetString(name, result)

	engine.Logger().Debug("module loaded", zap.String("backend", ID), zap.String("module", name))
	L.Push(result)
	return 1
}

func (b *Backend) loaded() *lua.LTable {
	reg := b.L.Get(lua.RegistryIndex).(*lua.LTable)
	t, ok := reg.RawGetString("_EMBSHELL_LOADED").(*lua.LTable)
	if !ok {
		t = b.L.NewTable()
		reg.RawSetString("_EMBSHELL_LOADED", t)
	}
	return t
}

func (b *Backend) findModule(name string) (*lua.LFunction, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, errors.ImportNotFound(name)
	}
	for _, dir := range b.cfg.ModulePath {
		path := filepath.Join(dir, name+SourceExt)
		src, err := os.ReadFile(path)
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(errors.PhaseImport, errors.KindImport, err, fmt.Sprintf("cannot read module '%s'", name))
		}
		fn, err := b.L.Load(bytes.NewReader(src), path)
		if err != nil {
			return nil, b.translate(err)
		}
		return fn, nil
	}
	return nil, errors.ImportNotFound(name)
}

// Compile loads src into a chunk. Lua resolves imports when require
// runs, so the unit lists none.
func (b *Backend) Compile(_ context.Context, _ *engine.Namespace, filename string, src []byte) (*engine.ScriptUnit, error) {
	fn, err := b.L.Load(bytes.NewReader(src), filename)
	if err != nil {
		return nil, b.translate(err)
	}
	return &engine.ScriptUnit{
		Code:     fn,
		Backend:  ID,
		Filename: filename,
		Source:   src,
	}, nil
}

// Execute runs the chunk with the namespace bound as globals, then copies
// every declared global back, even after a fault.
func (b *Backend) Execute(ctx context.Context, unit *engine.ScriptUnit, ns *engine.Namespace) error {
	fn, ok := unit.Code.(*lua.LFunction)
	if !ok || unit.Backend != ID {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("unit compiled by backend '%s' cannot run on '%s'", unit.Backend, ID).
			Build()
	}

	b.ctx = ctx
	if ctx.Done() != nil {
		b.L.SetContext(ctx)
		defer b.L.RemoveContext()
	}

	g := b.L.G.Global
	for _, name := range ns.Names() {
		v, _ := ns.Get(name)
		g.RawSetString(name, b.toLua(v))
		b.declare(name)
	}

	b.L.Push(fn)
	err := b.L.PCall(0, 0, nil)

	for _, name := range b.order {
		if b.host[name] && !ns.Has(name) {
			continue
		}
		ns.Set(name, b.toBinding(g.RawGetString(name)))
	}
	return b.translate(err)
}
