package native

import (
	"context"
	"fmt"
	"sort"

	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/overlay"
)

// Class is a host-defined object type. Instance state lives in a block of
// the address space laid out by Layout; the attribute set is fixed to the
// layout's fields and the class methods.
type Class struct {
	Space    embshell.Space
	Layout   *overlay.Layout
	Defaults map[string]any
	Methods  map[string]*Func
	Writable map[string]bool
	Doc      string
	name     string
	Params   []string // constructor parameters, in positional order
	Order    overlay.Order
}

// NewClass creates a class whose instances are allocated in space.
func NewClass(name string, space embshell.Space, layout *overlay.Layout) *Class {
	return &Class{
		Space:    space,
		Layout:   layout,
		Defaults: make(map[string]any),
		Methods:  make(map[string]*Func),
		Writable: make(map[string]bool),
		name:     name,
		Order:    overlay.LittleEndian,
	}
}

// Method registers fn as a method; its first parameter after an optional
// context receives the *Instance.
func (c *Class) Method(name string, fn any) error {
	f, err := NewFunc(name, fn)
	if err != nil {
		return err
	}
	c.Methods[name] = f
	return nil
}

// Call constructs an instance. Positional and keyword arguments bind to
// Params; missing ones take Defaults or zero.
func (c *Class) Call(_ context.Context, args []any, kwargs []KV) (any, error) {
	if len(args) > len(c.Params) {
		return nil, errors.New(errors.PhaseHost, errors.KindArity).
			Path(c.name).
			Detail("%s() takes at most %d arguments (%d given)", c.name, len(c.Params), len(args)).
			Build()
	}

	values := make(map[string]any, len(c.Params))
	for i, a := range args {
		values[c.Params[i]] = a
	}
	for _, kw := range kwargs {
		if !c.isParam(kw.Name) {
			return nil, errors.New(errors.PhaseHost, errors.KindArity).
				Path(c.name).
				Detail("%s() got an unexpected keyword argument '%s'", c.name, kw.Name).
				Build()
		}
		if _, dup := values[kw.Name]; dup {
			return nil, errors.New(errors.PhaseHost, errors.KindArity).
				Path(c.name).
				Detail("%s() got multiple values for argument '%s'", c.name, kw.Name).
				Build()
		}
		values[kw.Name] = kw.Value
	}

	inst, err := c.New()
	if err != nil {
		return nil, err
	}
	for _, p := range c.Params {
		v, ok := values[p]
		if !ok {
			v, ok = c.Defaults[p]
		}
		if !ok {
			continue
		}
		if err := inst.view.Set(p, v); err != nil {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Path(c.name, p).
				Detail("%s() argument '%s' must be a number, not %s", c.name, p, TypeName(v)).
				Cause(err).
				Build()
		}
	}
	return inst, nil
}

// New allocates a zeroed instance. Its block is freed once the instance
// is unreachable.
func (c *Class) New() (*Instance, error) {
	size, align := c.Layout.Footprint(), c.Layout.Align()
	addr, err := c.Space.Alloc(size, align)
	if err != nil {
		return nil, err
	}
	buf, err := c.Space.View(addr, size)
	if err != nil {
		c.Space.Free(addr, size, align)
		return nil, err
	}
	view, err := overlay.NewStruct(addr, buf, c.Layout, c.Order)
	if err != nil {
		c.Space.Free(addr, size, align)
		return nil, err
	}
	return Own(&Instance{class: c, view: view}, c.Space, addr, size, align), nil
}

func (c *Class) isParam(name string) bool {
	for _, p := range c.Params {
		if p == name {
			return true
		}
	}
	return false
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

func (c *Class) String() string { return fmt.Sprintf("<class '%s'>", c.name) }

// Instance is an object of a host-defined class.
type Instance struct {
	class *Class
	view  *overlay.Struct
}

// Class returns the instance's class.
func (i *Instance) Class() *Class { return i.class }

// Get reads a field, bypassing attribute rules. For method implementations.
func (i *Instance) Get(field string) (any, error) {
	v, err := i.view.Get(field)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// Set writes a field, bypassing the writable check. For method
// implementations.
func (i *Instance) Set(field string, v any) error {
	return i.view.Set(field, v)
}

func (i *Instance) TypeName() string { return i.class.name }

func (i *Instance) Attr(name string) (any, error) {
	if m, ok := i.class.Methods[name]; ok {
		return m.Bind(i), nil
	}
	if _, ok := i.class.Layout.Field(name); ok {
		return i.Get(name)
	}
	return nil, noAttr(i.class.name, name)
}

func (i *Instance) SetAttr(name string, v any) error {
	if _, ok := i.class.Layout.Field(name); ok {
		if !i.class.Writable[name] {
			return errors.ReadOnly(errors.PhaseHost, i.class.name, name)
		}
		return i.view.Set(name, v)
	}
	if _, ok := i.class.Methods[name]; ok {
		return errors.ReadOnly(errors.PhaseHost, i.class.name, name)
	}
	return errors.FieldUnknown(errors.PhaseHost, i.class.name, name)
}

func (i *Instance) AttrNames() []string {
	names := i.class.Layout.Names()
	for m := range i.class.Methods {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

// Addr returns the address of the instance's state block.
func (i *Instance) Addr() uint32 { return i.view.Addr() }

// Bytes returns the instance's state bytes.
func (i *Instance) Bytes() []byte { return i.view.Bytes() }

func (i *Instance) String() string {
	return fmt.Sprintf("<%s object at 0x%x>", i.class.name, i.view.Addr())
}
