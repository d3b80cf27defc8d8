package overlay

import (
	"fmt"

	"github.com/wippyai/embshell/errors"
)

// Struct is a typed view over borrowed bytes. Reads decode the current
// bytes on every access and writes go straight to them, so changes made
// through any other view of the same memory are always visible.
type Struct struct {
	layout *Layout
	buf    []byte
	addr   uint32
	order  Order
}

// NewStruct overlays l on buf. addr is the address of buf[0] in the host
// address space, or zero when buf is not arena memory.
func NewStruct(addr uint32, buf []byte, l *Layout, order Order) (*Struct, error) {
	if err := checkFootprint(l, buf); err != nil {
		return nil, err
	}
	return &Struct{
		layout: l,
		buf:    buf[:l.Footprint():l.Footprint()],
		addr:   addr,
		order:  order,
	}, nil
}

// Layout returns the struct's layout.
func (s *Struct) Layout() *Layout { return s.layout }

// Order returns the struct's byte order.
func (s *Struct) Order() Order { return s.order }

// Addr returns the host address of the first byte.
func (s *Struct) Addr() uint32 { return s.addr }

// Bytes returns the aliased bytes covered by the layout.
func (s *Struct) Bytes() []byte { return s.buf }

// Get decodes the named field.
func (s *Struct) Get(name string) (any, error) {
	f, ok := s.layout.Field(name)
	if !ok {
		return nil, errors.New(errors.PhaseMemory, errors.KindNotFound).
			Path("struct", name).
			Detail("'struct' object has no attribute '%s'", name).
			Build()
	}

	switch {
	case f.Layout != nil:
		return NewStruct(s.addrOf(f.Offset), s.buf[f.Offset:], f.Layout, s.order)
	case f.Array:
		end := f.Offset + f.Size()
		return &Array{kind: f.Kind, count: f.Count, buf: s.buf[f.Offset:end:end], addr: s.addrOf(f.Offset), order: s.order}, nil
	default:
		return decodeScalar(s.buf, f.Offset, f.Kind, f.BitPos, f.BitLen, s.order.ByteOrder()), nil
	}
}

// Set encodes v into the named scalar field.
func (s *Struct) Set(name string, v any) error {
	f, ok := s.layout.Field(name)
	if !ok {
		return errors.FieldUnknown(errors.PhaseMemory, "struct", name)
	}
	if f.Layout != nil || f.Array {
		return errors.New(errors.PhaseMemory, errors.KindTypeMismatch).
			Path("struct", name).
			Detail("cannot assign to aggregate field '%s'", name).
			Build()
	}
	if err := encodeScalar(s.buf, f.Offset, f.Kind, f.BitPos, f.BitLen, s.order.ByteOrder(), v); err != nil {
		if e, ok := err.(*errors.Error); ok {
			e.Path = []string{"struct", name}
		}
		return err
	}
	return nil
}

func (s *Struct) addrOf(off uint32) uint32 {
	if s.addr == 0 {
		return 0
	}
	return s.addr + off
}

func (s *Struct) String() string {
	return fmt.Sprintf("<struct %s at 0x%x>", s.order, s.addr)
}

// Array is a fixed-length typed view embedded in a struct.
type Array struct {
	buf   []byte
	addr  uint32
	count uint32
	kind  Kind
	order Order
}

// NewArray overlays count elements of kind k on buf.
func NewArray(addr uint32, buf []byte, k Kind, count uint32, order Order) (*Array, error) {
	size := k.Width() * count
	if int(size) > len(buf) {
		return nil, errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Detail("array of %d %s exceeds buffer length %d", count, k, len(buf)).
			Build()
	}
	return &Array{kind: k, count: count, buf: buf[:size:size], addr: addr, order: order}, nil
}

// Len returns the element count.
func (a *Array) Len() int { return int(a.count) }

// Kind returns the element kind.
func (a *Array) Kind() Kind { return a.kind }

// Addr returns the host address of the first element.
func (a *Array) Addr() uint32 { return a.addr }

// Bytes returns the aliased element bytes.
func (a *Array) Bytes() []byte { return a.buf }

// Get decodes element i. Negative indices count from the end.
func (a *Array) Get(i int) (any, error) {
	i, err := a.index(i)
	if err != nil {
		return nil, err
	}
	return decodeScalar(a.buf, uint32(i)*a.kind.Width(), a.kind, 0, 0, a.order.ByteOrder()), nil
}

// Set encodes v into element i with truncation to the element width.
func (a *Array) Set(i int, v any) error {
	i, err := a.index(i)
	if err != nil {
		return err
	}
	return encodeScalar(a.buf, uint32(i)*a.kind.Width(), a.kind, 0, 0, a.order.ByteOrder(), v)
}

func (a *Array) index(i int) (int, error) {
	n := int(a.count)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, errors.OutOfBounds(errors.PhaseMemory, nil, i, n)
	}
	return i, nil
}
