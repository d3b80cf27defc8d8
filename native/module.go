package native

import (
	"fmt"
	"sort"

	"github.com/wippyai/embshell/errors"
)

// Module is a named table of host functions, constants, classes and
// objects. A Global module's members are bound in every guest namespace
// without an import.
type Module struct {
	members map[string]any
	err     error
	Name    string
	Doc     string
	Global  bool
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		members: make(map[string]any),
		Name:    name,
	}
}

// Func adds a function member. Binding errors are kept and reported by
// Err and at registration.
func (m *Module) Func(name string, fn any) *Module {
	f, err := NewFunc(name, fn)
	if err != nil {
		m.setErr(err)
		return m
	}
	return m.set(name, f)
}

// Host adds every exported method of h as a snake_case function.
func (m *Module) Host(h any) *Module {
	funcs, err := BindMethods(h)
	if err != nil {
		m.setErr(err)
		return m
	}
	for _, f := range funcs {
		m.set(f.Name(), f)
	}
	return m
}

// Const adds a constant member.
func (m *Module) Const(name string, v any) *Module {
	return m.set(name, Normalize(v))
}

// Class adds a class member under its own name.
func (m *Module) Class(c *Class) *Module {
	return m.set(c.Name(), c)
}

// Value adds an arbitrary member, such as a host object.
func (m *Module) Value(name string, v any) *Module {
	return m.set(name, Normalize(v))
}

// Err returns the first error met while building the module.
func (m *Module) Err() error {
	return m.err
}

// Names returns member names in sorted order.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.members))
	for n := range m.members {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Member looks up a member by name.
func (m *Module) Member(name string) (any, bool) {
	v, ok := m.members[name]
	return v, ok
}

func (m *Module) TypeName() string { return "module" }

func (m *Module) Attr(name string) (any, error) {
	v, ok := m.members[name]
	if !ok {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Path(m.Name, name).
			Detail("module '%s' has no attribute '%s'", m.Name, name).
			Build()
	}
	return v, nil
}

func (m *Module) SetAttr(name string, _ any) error {
	return errors.ReadOnly(errors.PhaseHost, "module "+m.Name, name)
}

func (m *Module) AttrNames() []string { return m.Names() }

func (m *Module) String() string { return fmt.Sprintf("<module '%s'>", m.Name) }

func (m *Module) set(name string, v any) *Module {
	if _, dup := m.members[name]; dup {
		m.setErr(errors.New(errors.PhaseHost, errors.KindRegistration).
			Path(m.Name, name).
			Detail("duplicate member '%s'", name).
			Build())
		return m
	}
	m.members[name] = v
	return m
}

func (m *Module) setErr(err error) {
	if m.err == nil {
		m.err = err
	}
}
