package modules

import (
	"context"
	"math"
	"time"

	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/native"
	"github.com/wippyai/embshell/overlay"
)

// HostRegionSize is the size of the fixed host region, two int32 slots.
const HostRegionSize = 8

// hostRegionLayout is the layout pre-bound as global_struct.
var hostRegionLayout = overlay.MustLayout(
	overlay.Field{Name: "int_1", Kind: overlay.Int32, Offset: 0},
	overlay.Field{Name: "int_2", Kind: overlay.Int32, Offset: 4},
)

// HostRegion allocates the fixed region the host shares with every
// script, initialized to {10, 20}.
func HostRegion(space embshell.Space) (*overlay.Struct, error) {
	addr, err := space.Alloc(HostRegionSize, 4)
	if err != nil {
		return nil, err
	}
	buf, err := space.View(addr, HostRegionSize)
	if err != nil {
		return nil, err
	}
	s, err := overlay.NewStruct(addr, buf, hostRegionLayout, overlay.LittleEndian)
	if err != nil {
		return nil, err
	}
	if err := s.Set("int_1", int64(10)); err != nil {
		return nil, err
	}
	if err := s.Set("int_2", int64(20)); err != nil {
		return nil, err
	}
	return s, nil
}

// Host returns the global module bound into every namespace: the host
// functions log_10, sleep and bytearray, and the fixed region as
// global_struct with its address and size.
func Host(space embshell.Space) (*native.Module, error) {
	region, err := HostRegion(space)
	if err != nil {
		return nil, err
	}

	m := native.NewModule("host").
		Func("log_10", log10).
		Func("sleep", sleep).
		Func("bytearray", func(init ...any) (*native.ByteArray, error) {
			switch len(init) {
			case 0:
				return NewByteArray(space, nil)
			case 1:
				return NewByteArray(space, init[0])
			}
			return nil, errors.New(errors.PhaseHost, errors.KindArity).
				Path("bytearray").
				Detail("bytearray() takes at most 1 argument (%d given)", len(init)).
				Build()
		}).
		Value("global_struct", native.WrapStruct(region)).
		Const("global_struct_ptr", int64(region.Addr())).
		Const("global_struct_size", int64(HostRegionSize))
	m.Doc = "host functions and the shared host region"
	m.Global = true
	return m, m.Err()
}

// log10 is exact for integral powers of ten.
func log10(x float64) float64 {
	r := math.Log10(x)
	if n := math.Round(r); n != r && math.Pow(10, n) == x {
		return n
	}
	return r
}

func sleep(ctx context.Context, ms int64) error {
	if ms < 0 {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Path("sleep").
			Detail("sleep length must be non-negative").
			Build()
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.PhaseHost, errors.KindGuest, ctx.Err(), "sleep interrupted")
	}
}

// NewByteArray allocates a buffer in space. init is a length, a string,
// bytes, another buffer or a list of ints.
func NewByteArray(space embshell.Space, init any) (*native.ByteArray, error) {
	var data []byte
	size := 0

	switch x := init.(type) {
	case nil:
	case int64:
		if x < 0 || x > int64(space.Size()) {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Path("bytearray").
				Detail("bytearray size %d out of range", x).
				Build()
		}
		size = int(x)
	case string:
		data = []byte(x)
	case []byte:
		data = x
	case native.Buffer:
		data = x.Bytes()
	case []any:
		data = make([]byte, len(x))
		for i, e := range x {
			n, ok := e.(int64)
			if !ok || n < 0 || n > 255 {
				return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
					Path("bytearray").
					Detail("bytearray() items must be ints in range(256), not %s", native.Repr(e)).
					Build()
			}
			data[i] = byte(n)
		}
	default:
		return nil, errors.TypeMismatch(errors.PhaseHost, []string{"bytearray"}, "int, str, bytes or list", native.TypeName(init))
	}
	if data != nil {
		size = len(data)
	}

	addr, err := space.Alloc(uint32(size), 8)
	if err != nil {
		return nil, err
	}
	buf, err := space.View(addr, uint32(size))
	if err != nil {
		space.Free(addr, uint32(size), 8)
		return nil, err
	}
	copy(buf, data)
	return native.Own(native.WrapView(overlay.NewByteView(addr, buf)), space, addr, uint32(size), 8), nil
}
