package modules

import (
	"sort"

	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/native"
	"github.com/wippyai/embshell/overlay"
)

// Uctypes returns the memory overlay module: typed struct views over
// host memory, raw byte views and address arithmetic.
func Uctypes(space embshell.Space) (*native.Module, error) {
	u := &uctypes{space: space}

	m := native.NewModule("uctypes").
		Func("struct", u.structAt).
		Func("bytearray_at", u.bytearrayAt).
		Func("bytes_at", u.bytesAt).
		Func("addressof", addressof).
		Func("sizeof", sizeof).
		Const("ARRAY", int64(overlay.ArrayHead)).
		Const("BF_POS", overlay.BFPos).
		Const("BF_LEN", overlay.BFLen).
		Const("LITTLE_ENDIAN", int64(overlay.LittleEndian)).
		Const("BIG_ENDIAN", int64(overlay.BigEndian)).
		Const("NATIVE", int64(overlay.Native))
	for _, k := range overlay.Kinds() {
		m.Const(k.String(), int64(overlay.Descriptor(k)))
	}
	m.Doc = "typed views over host memory"
	return m, m.Err()
}

type uctypes struct {
	space embshell.Space
}

// structAt overlays layout on the allocated block containing addr. The
// layout must fit in what remains of that block.
func (u *uctypes) structAt(addr uint32, layout map[string]any, order ...int64) (*native.StructObject, error) {
	l, err := ParseLayout(layout)
	if err != nil {
		return nil, err
	}

	o := overlay.LittleEndian
	if len(order) > 1 {
		return nil, errors.New(errors.PhaseHost, errors.KindArity).
			Path("uctypes", "struct").
			Detail("struct() takes at most 3 arguments").
			Build()
	}
	if len(order) == 1 {
		if order[0] < 0 || order[0] > int64(overlay.Native) {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Path("uctypes", "struct").
				Detail("invalid byte order %d", order[0]).
				Build()
		}
		o = overlay.Order(order[0])
	}

	start, size, ok := u.space.Region(addr)
	if !ok {
		return nil, errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Path("uctypes", "struct").
			Detail("address 0x%x is not inside an allocated buffer", addr).
			Build()
	}
	buf, err := u.space.View(addr, start+size-addr)
	if err != nil {
		return nil, err
	}
	s, err := overlay.NewStruct(addr, buf, l, o)
	if err != nil {
		return nil, err
	}
	return native.WrapStruct(s), nil
}

// bytearrayAt returns a view of size bytes at addr, aliasing memory.
func (u *uctypes) bytearrayAt(addr, size uint32) (*native.ByteArray, error) {
	buf, err := u.space.View(addr, size)
	if err != nil {
		return nil, err
	}
	return native.WrapView(overlay.NewByteView(addr, buf)), nil
}

// bytesAt returns a copy of size bytes at addr.
func (u *uctypes) bytesAt(addr, size uint32) ([]byte, error) {
	return u.space.Read(addr, size)
}

func addressof(obj any) (int64, error) {
	if a, ok := obj.(native.Addressable); ok && a.Addr() != 0 {
		return int64(a.Addr()), nil
	}
	return 0, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		Path("uctypes", "addressof").
		Detail("addressof() argument must be a buffer in host memory, not %s", native.TypeName(obj)).
		Build()
}

func sizeof(v any) (int64, error) {
	switch x := v.(type) {
	case map[string]any:
		l, err := ParseLayout(x)
		if err != nil {
			return 0, err
		}
		return int64(l.Footprint()), nil
	case native.Buffer:
		return int64(len(x.Bytes())), nil
	}
	return 0, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		Path("uctypes", "sizeof").
		Detail("sizeof() argument must be a layout or buffer, not %s", native.TypeName(v)).
		Build()
}

// ParseLayout builds a layout from a descriptor dictionary. Values are
// scalar descriptors (KIND | offset), array pairs (ARRAY | offset,
// KIND | count) or nested pairs (offset, {layout}).
func ParseLayout(desc map[string]any) (*overlay.Layout, error) {
	names := make([]string, 0, len(desc))
	for n := range desc {
		names = append(names, n)
	}
	sort.Strings(names)

	fields := make([]overlay.Field, 0, len(desc))
	for _, name := range names {
		f, err := parseField(name, desc[name])
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return overlay.NewLayout(fields...)
}

func parseField(name string, v any) (overlay.Field, error) {
	switch x := v.(type) {
	case int64, uint64, float64:
		d, ok := descriptor(x)
		if !ok {
			return overlay.Field{}, badField(name, v)
		}
		return overlay.DecodeScalar(name, d)
	case []any:
		if len(x) != 2 {
			return overlay.Field{}, badField(name, v)
		}
		head, ok := descriptor(x[0])
		if !ok {
			return overlay.Field{}, badField(name, v)
		}
		if sub, ok := x[1].(map[string]any); ok {
			l, err := ParseLayout(sub)
			if err != nil {
				return overlay.Field{}, err
			}
			return overlay.NestedStruct(name, head, l)
		}
		elem, ok := descriptor(x[1])
		if !ok {
			return overlay.Field{}, badField(name, v)
		}
		return overlay.DecodeArray(name, head, elem)
	}
	return overlay.Field{}, badField(name, v)
}

func descriptor(v any) (uint64, bool) {
	switch x := v.(type) {
	case int64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case uint64:
		return x, true
	case float64:
		// Lua numbers arrive as floats.
		if x < 0 || x != float64(uint64(x)) {
			return 0, false
		}
		return uint64(x), true
	}
	return 0, false
}

func badField(name string, v any) error {
	return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		Path("uctypes", name).
		Detail("field '%s' has invalid descriptor %s", name, native.Repr(v)).
		Build()
}
