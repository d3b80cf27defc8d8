package native

import (
	"context"

	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/overlay"
)

// Object is a host value with named attributes.
type Object interface {
	TypeName() string
	Attr(name string) (any, error)
	SetAttr(name string, v any) error
	AttrNames() []string
}

// Callable is anything guest code can call.
type Callable interface {
	Name() string
	Call(ctx context.Context, args []any, kwargs []KV) (any, error)
}

// KV is a keyword argument.
type KV struct {
	Value any
	Name  string
}

// Indexable is a host value with integer-indexed elements.
type Indexable interface {
	Len() int
	Index(i int) (any, error)
	SetIndex(i int, v any) error
}

// Addressable is a host value backed by a block of the address space.
type Addressable interface {
	Addr() uint32
}

// Buffer is a host value exposing its backing bytes.
type Buffer interface {
	Bytes() []byte
}

// StructObject exposes an overlay.Struct to guest code. Its attributes are
// exactly the layout's fields.
type StructObject struct {
	s *overlay.Struct
}

// WrapStruct wraps an overlay struct.
func WrapStruct(s *overlay.Struct) *StructObject {
	return &StructObject{s: s}
}

// Struct returns the underlying overlay.
func (o *StructObject) Struct() *overlay.Struct { return o.s }

func (o *StructObject) TypeName() string { return "struct" }

func (o *StructObject) Attr(name string) (any, error) {
	v, err := o.s.Get(name)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func (o *StructObject) SetAttr(name string, v any) error {
	return o.s.Set(name, v)
}

func (o *StructObject) AttrNames() []string { return o.s.Layout().Names() }

func (o *StructObject) Addr() uint32   { return o.s.Addr() }
func (o *StructObject) Bytes() []byte  { return o.s.Bytes() }
func (o *StructObject) String() string { return o.s.String() }

// ArrayObject exposes an array field of a struct.
type ArrayObject struct {
	arr *overlay.Array
}

func (o *ArrayObject) TypeName() string { return "array" }

func (o *ArrayObject) Attr(name string) (any, error) {
	return nil, noAttr("array", name)
}

func (o *ArrayObject) SetAttr(name string, _ any) error {
	return errors.FieldUnknown(errors.PhaseHost, "array", name)
}

func (o *ArrayObject) AttrNames() []string { return nil }

func (o *ArrayObject) Len() int { return o.arr.Len() }

func (o *ArrayObject) Index(i int) (any, error) {
	v, err := o.arr.Get(i)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func (o *ArrayObject) SetIndex(i int, v any) error { return o.arr.Set(i, v) }
func (o *ArrayObject) Addr() uint32                { return o.arr.Addr() }
func (o *ArrayObject) Bytes() []byte               { return o.arr.Bytes() }
func (o *ArrayObject) String() string              { return "<array " + o.arr.Kind().String() + ">" }

// ByteArray is a mutable byte sequence aliasing host memory.
type ByteArray struct {
	v *overlay.ByteView
}

// WrapView wraps a byte view.
func WrapView(v *overlay.ByteView) *ByteArray {
	return &ByteArray{v: v}
}

// View returns the underlying view.
func (b *ByteArray) View() *overlay.ByteView { return b.v }

func (b *ByteArray) TypeName() string { return "bytearray" }

func (b *ByteArray) Attr(name string) (any, error) {
	return nil, noAttr("bytearray", name)
}

func (b *ByteArray) SetAttr(name string, _ any) error {
	return errors.FieldUnknown(errors.PhaseHost, "bytearray", name)
}

func (b *ByteArray) AttrNames() []string { return nil }

func (b *ByteArray) Len() int { return b.v.Len() }

func (b *ByteArray) Index(i int) (any, error) {
	v, err := b.v.Get(i)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (b *ByteArray) SetIndex(i int, v any) error { return b.v.Set(i, v) }
func (b *ByteArray) Addr() uint32                { return b.v.Addr() }
func (b *ByteArray) Bytes() []byte               { return b.v.Bytes() }
func (b *ByteArray) String() string              { return b.v.String() }

func noAttr(typeName, name string) error {
	return errors.New(errors.PhaseRuntime, errors.KindNotFound).
		Path(typeName, name).
		Detail("'%s' object has no attribute '%s'", typeName, name).
		Build()
}
