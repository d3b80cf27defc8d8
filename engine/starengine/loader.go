package starengine

import (
	"bytes"
	"crypto/sha256"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.uber.org/zap"

	"github.com/wippyai/embshell/engine"
	"github.com/wippyai/embshell/errors"
)

// SourceExt is the extension of guest modules on the module path.
const SourceExt = ".star"

var stdlib = map[string]*starlarkstruct.Module{
	"math": math.Module,
	"time": time.Module,
	"json": json.Module,
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// load resolves a module name: native modules first, then the bundled
// standard library, then source files on the module path. Results are
// cached for the life of the backend. Every loaded module also binds its
// own name to the module object, so load("m", "m") imports it whole.
func (b *Backend) load(thread *starlark.Thread, name string) (starlark.StringDict, error) {
	if e, ok := b.modules[name]; ok {
		if e == nil {
			return nil, errors.New(errors.PhaseImport, errors.KindImport).
				Path(name).
				Detail("cycle in load graph at '%s'", name).
				Build()
		}
		return e.globals, e.err
	}

	b.modules[name] = nil
	globals, err := b.resolve(thread, name)
	b.modules[name] = &loadEntry{globals: globals, err: err}

	engine.Logger().Debug("module loaded",
		zap.String("backend", b.id),
		zap.String("module", name),
		zap.Error(err))
	return globals, err
}

func (b *Backend) resolve(thread *starlark.Thread, name string) (starlark.StringDict, error) {
	if m, err := b.cfg.Registry.Lookup(name); err == nil {
		dict := make(starlark.StringDict, len(m.Names())+1)
		for _, n := range m.Names() {
			v, _ := m.Member(n)
			dict[n] = toStarlark(v)
		}
		dict[name] = &hostObject{obj: m}
		return dict, nil
	}

	if m, ok := stdlib[name]; ok {
		dict := make(starlark.StringDict, len(m.Members)+1)
		for k, v := range m.Members {
			dict[k] = v
		}
		dict[name] = m
		return dict, nil
	}

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
		return b.initModule(thread, name, path, src)
	}
	return nil, errors.ImportNotFound(name)
}

func (b *Backend) initModule(parent *starlark.Thread, name, path string, src []byte) (starlark.StringDict, error) {
	ctx := threadContext(parent)

	prog, err := b.compileModule(path, src)
	if err != nil {
		return nil, translate(ctx, err)
	}

	thread := b.newThread(ctx, "load "+name)
	globals, err := prog.Init(thread, b.base)
	if err != nil {
		return nil, translate(ctx, err)
	}
	globals.Freeze()

	dict := make(starlark.StringDict, len(globals)+1)
	for k, v := range globals {
		dict[k] = v
	}
	dict[name] = &starlarkstruct.Module{Name: name, Members: globals}
	return dict, nil
}

// compileModule compiles a module-path file, going through the compile
// cache when one is configured. Cache failures only cost a recompile.
func (b *Backend) compileModule(path string, src []byte) (*starlark.Program, error) {
	key := b.cacheKey(path, src)
	if b.cfg.Cache != nil {
		data, ok, err := b.cfg.Cache.Get(key)
		if err != nil {
			engine.Logger().Warn("compile cache read failed", zap.String("path", path), zap.Error(err))
		} else if ok {
			if prog, err := starlark.CompiledProgram(bytes.NewReader(data)); err == nil {
				return prog, nil
			}
		}
	}

	_, prog, err := starlark.SourceProgramOptions(b.opts, path, src, b.base.Has)
	if err != nil {
		return nil, err
	}

	if b.cfg.Cache != nil {
		var buf bytes.Buffer
		if err := prog.Write(&buf); err == nil {
			if err := b.cfg.Cache.Put(key, buf.Bytes()); err != nil {
				engine.Logger().Warn("compile cache write failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
	return prog, nil
}

func (b *Backend) cacheKey(path string, src []byte) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(src)
	return fmt.Sprintf("%s/%d/%x", b.id, starlark.CompilerVersion, h.Sum(nil))
}
