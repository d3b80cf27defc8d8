package engine

import "github.com/wippyai/embshell/native"

// Namespace is the set of global bindings a script runs against. Names
// keep their declaration order; values are neutral host values or
// backend-owned guest values that print themselves via String.
type Namespace struct {
	values map[string]any
	names  []string
}

// NewNamespace creates a namespace with names declared and unassigned.
func NewNamespace(names ...string) *Namespace {
	ns := &Namespace{values: make(map[string]any)}
	for _, n := range names {
		ns.Declare(n)
	}
	return ns
}

// Declare binds name to Undefined unless it is already declared.
func (ns *Namespace) Declare(name string) {
	if _, ok := ns.values[name]; ok {
		return
	}
	ns.values[name] = native.Undefined
	ns.names = append(ns.names, name)
}

// Set assigns name, declaring it first when needed.
func (ns *Namespace) Set(name string, v any) {
	if _, ok := ns.values[name]; !ok {
		ns.names = append(ns.names, name)
	}
	ns.values[name] = v
}

// Get returns the value bound to name.
func (ns *Namespace) Get(name string) (any, bool) {
	v, ok := ns.values[name]
	return v, ok
}

// Has reports whether name is declared.
func (ns *Namespace) Has(name string) bool {
	_, ok := ns.values[name]
	return ok
}

// Names returns declared names in declaration order.
func (ns *Namespace) Names() []string {
	out := make([]string, len(ns.names))
	copy(out, ns.names)
	return out
}

func (ns *Namespace) Len() int { return len(ns.names) }
