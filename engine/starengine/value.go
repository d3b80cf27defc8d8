package starengine

import (
	"context"
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/wippyai/embshell/native"
)

const contextKey = "embshell.context"

func threadContext(t *starlark.Thread) context.Context {
	if ctx, ok := t.Local(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// undefinedValue is the guest face of native.Undefined.
type undefinedValue struct{}

var undefined starlark.Value = undefinedValue{}

func (undefinedValue) String() string        { return native.Undefined.String() }
func (undefinedValue) Type() string          { return "undefined" }
func (undefinedValue) Freeze()               {}
func (undefinedValue) Truth() starlark.Bool  { return starlark.False }
func (undefinedValue) Hash() (uint32, error) { return 0, nil }

// hostObject exposes a native.Object. Attribute errors from the host pass
// through unchanged so their classification survives.
type hostObject struct {
	obj native.Object
}

var (
	_ starlark.HasAttrs    = (*hostObject)(nil)
	_ starlark.HasSetField = (*hostObject)(nil)
)

func (o *hostObject) String() string       { return native.Repr(o.obj) }
func (o *hostObject) Type() string         { return o.obj.TypeName() }
func (o *hostObject) Freeze()              {}
func (o *hostObject) Truth() starlark.Bool { return starlark.True }

func (o *hostObject) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", o.Type())
}

func (o *hostObject) Attr(name string) (starlark.Value, error) {
	v, err := o.obj.Attr(name)
	if err != nil {
		return nil, err
	}
	return toStarlark(v), nil
}

func (o *hostObject) AttrNames() []string { return o.obj.AttrNames() }

func (o *hostObject) SetField(name string, v starlark.Value) error {
	return o.obj.SetAttr(name, toNeutral(v))
}

// hostSeq is a hostObject with indexed elements, such as a bytearray.
type hostSeq struct {
	hostObject
	seq native.Indexable
}

var (
	_ starlark.Indexable   = (*hostSeq)(nil)
	_ starlark.HasSetIndex = (*hostSeq)(nil)
)

func (s *hostSeq) Len() int { return s.seq.Len() }

// Index is only called with an index already checked against Len.
func (s *hostSeq) Index(i int) starlark.Value {
	v, err := s.seq.Index(i)
	if err != nil {
		return starlark.None
	}
	return toStarlark(v)
}

func (s *hostSeq) SetIndex(i int, v starlark.Value) error {
	return s.seq.SetIndex(i, toNeutral(v))
}

// hostFunc exposes a native.Callable.
type hostFunc struct {
	fn native.Callable
}

var _ starlark.Callable = (*hostFunc)(nil)

func (f *hostFunc) Name() string { return f.fn.Name() }

func (f *hostFunc) String() string {
	if c, ok := f.fn.(*native.Class); ok {
		return c.String()
	}
	return fmt.Sprintf("<built-in function %s>", f.fn.Name())
}

func (f *hostFunc) Type() string {
	if _, ok := f.fn.(*native.Class); ok {
		return "type"
	}
	return "builtin_function_or_method"
}

func (f *hostFunc) Freeze()               {}
func (f *hostFunc) Truth() starlark.Bool  { return starlark.True }
func (f *hostFunc) Hash() (uint32, error) { return starlark.String(f.fn.Name()).Hash() }

func (f *hostFunc) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	in := make([]any, len(args))
	for i, a := range args {
		in[i] = toNeutral(a)
	}
	var kv []native.KV
	for _, pair := range kwargs {
		name, _ := starlark.AsString(pair[0])
		kv = append(kv, native.KV{Name: name, Value: toNeutral(pair[1])})
	}

	out, err := f.fn.Call(threadContext(thread), in, kv)
	if err != nil {
		return nil, err
	}
	return toStarlark(out), nil
}

// toStarlark converts a neutral host value. Guest values stored in a
// namespace by this backend come back unchanged.
func toStarlark(v any) starlark.Value {
	switch x := native.Normalize(v).(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return x
	case bool:
		return starlark.Bool(x)
	case int64:
		return starlark.MakeInt64(x)
	case uint64:
		return starlark.MakeUint64(x)
	case float64:
		return starlark.Float(x)
	case string:
		return starlark.String(x)
	case []byte:
		return starlark.Bytes(x)
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			elems[i] = toStarlark(e)
		}
		return starlark.NewList(elems)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			_ = d.SetKey(starlark.String(k), toStarlark(x[k]))
		}
		return d
	case *native.Sentinel:
		if native.IsUndefined(x) {
			return undefined
		}
		return starlark.String(x.String())
	case native.Callable:
		return &hostFunc{fn: x}
	case native.Object:
		if seq, ok := x.(native.Indexable); ok {
			return &hostSeq{hostObject: hostObject{obj: x}, seq: seq}
		}
		return &hostObject{obj: x}
	}
	return starlark.String(fmt.Sprint(v))
}

// toNeutral converts a guest value for a host call. Containers are copied
// element by element; values with no neutral form are passed as is.
func toNeutral(v starlark.Value) any {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i
		}
		if u, ok := x.Uint64(); ok {
			return u
		}
		return x
	case starlark.Float:
		return float64(x)
	case starlark.String:
		return string(x)
	case starlark.Bytes:
		return []byte(x)
	case *starlark.List:
		out := make([]any, x.Len())
		for i := range out {
			out[i] = toNeutral(x.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toNeutral(e)
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return x
			}
			out[k] = toNeutral(item[1])
		}
		return out
	case *hostObject:
		return x.obj
	case *hostSeq:
		return x.obj
	case *hostFunc:
		return x.fn
	case undefinedValue:
		return native.Undefined
	}
	return v
}

// toBinding converts a guest value for storage in a namespace. Scalars
// and host values become neutral; containers and guest objects stay
// guest values so later units see the same object.
func toBinding(v starlark.Value) any {
	switch v.(type) {
	case *starlark.List, starlark.Tuple, *starlark.Dict, *starlark.Set:
		return v
	}
	return toNeutral(v)
}
