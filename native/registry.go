package native

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/embshell/errors"
)

// Registry maps module names to native modules. Modules are registered
// during startup; after Seal the registry is read-only and safe for
// concurrent lookups.
type Registry struct {
	modules map[string]*Module
	mu      sync.RWMutex
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]*Module),
	}
}

// Register adds m. Names are unique; a module with build errors is
// rejected.
func (r *Registry) Register(m *Module) error {
	if m == nil || m.Name == "" {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("module name cannot be empty").
			Build()
	}
	if err := m.Err(); err != nil {
		return errors.New(errors.PhaseHost, errors.KindRegistration).
			Path(m.Name).
			Detail("module '%s' is invalid", m.Name).
			Cause(err).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.New(errors.PhaseHost, errors.KindRegistration).
			Path(m.Name).
			Detail("registry is sealed").
			Build()
	}
	if _, dup := r.modules[m.Name]; dup {
		return errors.New(errors.PhaseHost, errors.KindRegistration).
			Path(m.Name).
			Detail("module '%s' already registered", m.Name).
			Build()
	}
	r.modules[m.Name] = m

	Logger().Debug("registered module",
		zap.String("module", m.Name),
		zap.Bool("global", m.Global),
		zap.Int("members", len(m.members)))
	return nil
}

// Seal forbids further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup returns the named module or an import fault.
func (r *Registry) Lookup(name string) (*Module, error) {
	r.mu.RLock()
	m, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ImportNotFound(name)
	}
	return m, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// Names returns registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Globals returns the members of every Global module, merged. Later
// modules in name order win on conflicts.
func (r *Registry) Globals() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for n, m := range r.modules {
		if m.Global {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	out := make(map[string]any)
	for _, n := range names {
		for k, v := range r.modules[n].members {
			out[k] = v
		}
	}
	return out
}
