package engine

import (
	"context"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/native"
)

// Traits are the capabilities shared code may branch on. Shared code
// never switches on a backend's identity.
type Traits struct {
	// ErrorMarker adds an "ERROR" line after syntax and name fault reports.
	ErrorMarker bool
	// CanFreeze reports whether the backend implements Freezer.
	CanFreeze bool
}

// ScriptUnit is one compiled payload. Code is the backend's program and
// is opaque outside the backend that produced it.
type ScriptUnit struct {
	Code     any
	Backend  string
	Filename string
	Source   []byte
	Imports  []string
}

// Backend runs guest code. A backend keeps state between Execute calls:
// module caches and whatever the namespace does not carry.
type Backend interface {
	Name() string
	Traits() Traits
	// Compile parses src. Syntax faults are reported here and nothing runs.
	Compile(ctx context.Context, ns *Namespace, filename string, src []byte) (*ScriptUnit, error)
	// Execute runs unit against ns. Statements run in source order and
	// output already written is never retracted, even on fault.
	Execute(ctx context.Context, unit *ScriptUnit, ns *Namespace) error
	Close() error
}

// Freezer is implemented by backends whose compiled programs can be
// persisted.
type Freezer interface {
	// Serialize returns the program bytes and the names of the modules it
	// imports.
	Serialize(unit *ScriptUnit) ([]byte, []string, error)
	Deserialize(filename string, payload []byte) (*ScriptUnit, error)
}

// Cache stores compiled modules keyed by backend and source digest.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
}

// Config is passed to every backend factory.
type Config struct {
	Stdout     io.Writer
	Registry   *native.Registry
	Space      embshell.Space
	Cache      Cache
	ModulePath []string
	MaxSteps   uint64
}

// Factory creates a backend.
type Factory func(cfg Config) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a backend available under id. It panics on duplicates,
// as it is meant to be called from init.
func Register(id string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[id]; dup {
		panic("engine: backend registered twice: " + id)
	}
	factories[id] = f
}

// Backends returns the registered backend ids in sorted order.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New creates the backend registered under id.
func New(id string, cfg Config) (Backend, error) {
	factoriesMu.RLock()
	f, ok := factories[id]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("backend", id).
			Detail("unknown backend '%s'", id).
			Build()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Registry == nil {
		cfg.Registry = native.NewRegistry()
		cfg.Registry.Seal()
	}

	b, err := f(cfg)
	if err != nil {
		return nil, err
	}
	Logger().Debug("backend created",
		zap.String("backend", id),
		zap.Strings("modules", cfg.Registry.Names()),
		zap.Strings("module_path", cfg.ModulePath))
	return b, nil
}
