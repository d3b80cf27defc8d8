package starengine

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// newclass(name) returns a constructor for plain guest objects. Unlike
// host-backed instances they accept any attribute.
func newclass(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return &guestClass{name: name}, nil
}

type guestClass struct {
	name string
}

var _ starlark.Callable = (*guestClass)(nil)

func (c *guestClass) Name() string          { return c.name }
func (c *guestClass) String() string        { return fmt.Sprintf("<class '%s'>", c.name) }
func (c *guestClass) Type() string          { return "type" }
func (c *guestClass) Freeze()               {}
func (c *guestClass) Truth() starlark.Bool  { return starlark.True }
func (c *guestClass) Hash() (uint32, error) { return starlark.String(c.name).Hash() }

// CallInternal creates an instance; keyword arguments become attributes.
func (c *guestClass) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: unexpected positional arguments", c.name)
	}
	o := &guestObject{class: c, attrs: make(map[string]starlark.Value, len(kwargs))}
	for _, kv := range kwargs {
		k, _ := starlark.AsString(kv[0])
		o.attrs[k] = kv[1]
	}
	return o, nil
}

type guestObject struct {
	class  *guestClass
	attrs  map[string]starlark.Value
	frozen bool
}

var _ starlark.HasSetField = (*guestObject)(nil)

func (o *guestObject) String() string       { return fmt.Sprintf("<%s object at %p>", o.class.name, o) }
func (o *guestObject) Type() string         { return o.class.name }
func (o *guestObject) Truth() starlark.Bool { return starlark.True }

func (o *guestObject) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", o.class.name)
}

func (o *guestObject) Freeze() {
	if o.frozen {
		return
	}
	o.frozen = true
	for _, v := range o.attrs {
		v.Freeze()
	}
}

func (o *guestObject) Attr(name string) (starlark.Value, error) {
	return o.attrs[name], nil
}

func (o *guestObject) AttrNames() []string {
	names := make([]string, 0, len(o.attrs))
	for n := range o.attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (o *guestObject) SetField(name string, v starlark.Value) error {
	if o.frozen {
		return fmt.Errorf("cannot set .%s field of frozen %s", name, o.class.name)
	}
	o.attrs[name] = v
	return nil
}
