package modules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/memory"
	"github.com/wippyai/embshell/native"
	"github.com/wippyai/embshell/overlay"
)

func setup(t *testing.T) (*native.Registry, *memory.Arena) {
	t.Helper()
	ctx := context.Background()
	arena, err := memory.New(ctx, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close(ctx) })

	r := native.NewRegistry()
	require.NoError(t, Install(r, arena))
	r.Seal()
	return r, arena
}

func call(t *testing.T, m *native.Module, name string, args ...any) (any, error) {
	t.Helper()
	v, ok := m.Member(name)
	require.True(t, ok, "member %s", name)
	return v.(native.Callable).Call(context.Background(), args, nil)
}

func TestInstall(t *testing.T) {
	r, _ := setup(t)
	assert.Equal(t, []string{"example", "host", "uctypes"}, r.Names())

	g := r.Globals()
	for _, name := range []string{"log_10", "sleep", "bytearray", "global_struct", "global_struct_ptr", "global_struct_size"} {
		assert.Contains(t, g, name)
	}
	assert.NotContains(t, g, "double")
}

func TestHost_Region(t *testing.T) {
	r, arena := setup(t)
	host, err := r.Lookup("host")
	require.NoError(t, err)

	ptr, _ := host.Member("global_struct_ptr")
	size, _ := host.Member("global_struct_size")
	assert.Equal(t, int64(8), size)

	raw, err := arena.Read(uint32(ptr.(int64)), 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("\n\x00\x00\x00\x14\x00\x00\x00"), raw)

	gs, _ := host.Member("global_struct")
	s := gs.(*native.StructObject)
	require.NoError(t, s.SetAttr("int_1", int64(0x99)))
	v, err := s.Attr("int_1")
	require.NoError(t, err)
	assert.Equal(t, int64(153), v)
	v, _ = s.Attr("int_2")
	assert.Equal(t, int64(20), v)
}

func TestHost_Functions(t *testing.T) {
	r, _ := setup(t)
	host, _ := r.Lookup("host")

	v, err := call(t, host, "log_10", 100.0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = call(t, host, "log_10", int64(1000))
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = call(t, host, "log_10", "x")
	assert.Equal(t, errors.FaultType, errors.Classify(err))

	start := time.Now()
	v, err = call(t, host, "sleep", int64(10))
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.True(t, time.Since(start) >= 10*time.Millisecond)

	_, err = call(t, host, "sleep", "wrongtype")
	assert.Equal(t, errors.FaultType, errors.Classify(err))

	_, err = call(t, host, "sleep", int64(-1))
	assert.Error(t, err)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleep(ctx, 10_000)
	require.Error(t, err)
}

func TestNewByteArray(t *testing.T) {
	_, arena := setup(t)

	tests := []struct {
		name string
		init any
		want []byte
	}{
		{"size", int64(3), []byte{0, 0, 0}},
		{"string", "ab", []byte("ab")},
		{"bytes", []byte{1, 2}, []byte{1, 2}},
		{"list", []any{int64(255), int64(0)}, []byte{255, 0}},
		{"empty", nil, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewByteArray(arena, tt.init)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Bytes())
		})
	}

	_, err := NewByteArray(arena, []any{int64(256)})
	assert.Equal(t, errors.FaultType, errors.Classify(err))
	_, err = NewByteArray(arena, 1.5)
	assert.Equal(t, errors.FaultType, errors.Classify(err))
	_, err = NewByteArray(arena, int64(-1))
	assert.Error(t, err)
}

func TestExample(t *testing.T) {
	r, _ := setup(t)
	ex, err := r.Lookup("example")
	require.NoError(t, err)

	v, err := call(t, ex, "double", int64(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), v)

	_, err = call(t, ex, "double", "x")
	assert.Equal(t, errors.FaultType, errors.Classify(err))
	_, err = call(t, ex, "double", int64(1)<<60)
	assert.Equal(t, errors.FaultType, errors.Classify(err))

	for name, want := range map[string]int64{"Undefined": 0, "BeforeSend": 1, "AfterSend": 2, "FreeRunning": 4} {
		got, ok := ex.Member(name)
		require.True(t, ok)
		assert.Equal(t, want, got, name)
	}
}

func TestExample_PolarPoint(t *testing.T) {
	r, _ := setup(t)
	ex, _ := r.Lookup("example")

	v, err := call(t, ex, "PolarPoint")
	require.NoError(t, err)
	pp := v.(*native.Instance)
	radius, _ := pp.Attr("radius")
	theta, _ := pp.Attr("theta")
	assert.Equal(t, 0.0, radius)
	assert.Equal(t, 0.0, theta)

	m, err := pp.Attr("set_radius")
	require.NoError(t, err)
	_, err = m.(native.Callable).Call(context.Background(), []any{int64(3)}, nil)
	require.NoError(t, err)
	radius, _ = pp.Attr("radius")
	assert.Equal(t, 3.0, radius)

	assert.Equal(t, errors.FaultType, errors.Classify(pp.SetAttr("radius", 1.0)))
	assert.Equal(t, errors.FaultType, errors.Classify(pp.SetAttr("new_attr", 1.0)))

	v, err = call(t, ex, "PolarPoint", 2.0, 0.0)
	require.NoError(t, err)
	m, _ = v.(*native.Instance).Attr("to_cartesian")
	xy, err := m.(native.Callable).Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 0}, []float64{xy.([]any)[0].(float64), xy.([]any)[1].(float64)}, 1e-9)
}

func TestUctypes_StructOverByteArray(t *testing.T) {
	r, arena := setup(t)
	u, _ := r.Lookup("uctypes")

	buf, err := NewByteArray(arena, "12345678abcd")
	require.NoError(t, err)

	addr, err := call(t, u, "addressof", buf)
	require.NoError(t, err)

	uint32Desc, _ := u.Member("UINT32")
	layout := map[string]any{"f32": uint32Desc.(int64) | 0}
	v, err := call(t, u, "struct", addr, layout)
	require.NoError(t, err)
	s := v.(*native.StructObject)

	require.NoError(t, s.SetAttr("f32", int64(0x7fffffff)))
	assert.Equal(t, []byte("\xff\xff\xff\x7f5678abcd"), buf.Bytes())

	size, err := call(t, u, "sizeof", layout)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	size, err = call(t, u, "sizeof", s)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestUctypes_DefaultOrderIsLittleEndian(t *testing.T) {
	r, arena := setup(t)
	u, _ := r.Lookup("uctypes")
	uint16Desc, _ := u.Member("UINT16")
	uint32Desc, _ := u.Member("UINT32")
	bigEndian, _ := u.Member("BIG_ENDIAN")
	layout := map[string]any{
		"lo":  uint16Desc.(int64) | 0,
		"val": uint32Desc.(int64) | 2,
	}

	tests := []struct {
		name  string
		order []any
		want  []byte
	}{
		{"default", nil, []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03}},
		{"big endian", []any{bigEndian}, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewByteArray(arena, int64(6))
			require.NoError(t, err)
			addr, err := call(t, u, "addressof", buf)
			require.NoError(t, err)

			v, err := call(t, u, "struct", append([]any{addr, layout}, tt.order...)...)
			require.NoError(t, err)
			s := v.(*native.StructObject)
			require.NoError(t, s.SetAttr("lo", int64(0x0102)))
			require.NoError(t, s.SetAttr("val", int64(0x03040506)))
			assert.Equal(t, tt.want, buf.Bytes())
		})
	}

	ex, _ := r.Lookup("example")
	pp, err := call(t, ex, "PolarPoint", 1.0, 0.0)
	require.NoError(t, err)
	inst := pp.(*native.Instance)
	raw, err := arena.Read(inst.Addr(), 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, raw, "class instances default to little-endian")
}

func TestUctypes_BytearrayAtAliasesRegion(t *testing.T) {
	r, _ := setup(t)
	u, _ := r.Lookup("uctypes")
	host, _ := r.Lookup("host")
	ptr, _ := host.Member("global_struct_ptr")
	gs, _ := host.Member("global_struct")

	v, err := call(t, u, "bytearray_at", ptr, int64(8))
	require.NoError(t, err)
	view := v.(*native.ByteArray)
	assert.Equal(t, `bytearray(b'\n\x00\x00\x00\x14\x00\x00\x00')`, view.String())

	require.NoError(t, view.SetIndex(0, int64(0xff)))
	got, _ := gs.(*native.StructObject).Attr("int_1")
	assert.Equal(t, int64(255), got)

	require.NoError(t, gs.(*native.StructObject).SetAttr("int_1", int64(0x99887766)))
	assert.Equal(t, []byte("fw\x88\x99\x14\x00\x00\x00"), view.Bytes())

	copied, err := call(t, u, "bytes_at", ptr, int64(2))
	require.NoError(t, err)
	assert.Equal(t, []byte("fw"), copied)
}

func TestUctypes_StructErrors(t *testing.T) {
	r, arena := setup(t)
	u, _ := r.Lookup("uctypes")

	buf, err := NewByteArray(arena, int64(8))
	require.NoError(t, err)
	addr := int64(buf.Addr())

	int32Desc := int64(overlay.Descriptor(overlay.Int32))
	_, err = call(t, u, "struct", addr, map[string]any{"x": int32Desc | 8})
	assert.Error(t, err, "footprint beyond buffer")

	_, err = call(t, u, "struct", addr+6, map[string]any{"x": int32Desc | 0})
	assert.Error(t, err, "footprint beyond remaining bytes")

	_, err = call(t, u, "struct", int64(arena.Size()-4), map[string]any{"x": int32Desc})
	assert.Error(t, err, "address outside any buffer")

	_, err = call(t, u, "struct", addr, map[string]any{"x": "INT32"})
	assert.Equal(t, errors.FaultType, errors.Classify(err))

	_, err = call(t, u, "struct", addr, map[string]any{"x": int32Desc}, int64(7))
	assert.Error(t, err, "invalid byte order")

	_, err = call(t, u, "addressof", int64(5))
	assert.Equal(t, errors.FaultType, errors.Classify(err))
}

func TestParseLayout(t *testing.T) {
	arr := []any{int64(overlay.ArrayHead | 4), int64(overlay.Descriptor(overlay.Uint8) | 3)}
	nested := []any{int64(8), map[string]any{"b": int64(overlay.Descriptor(overlay.Uint16) | 2)}}
	bf := int64(overlay.Descriptor(overlay.BFUint8) | 0 | 2<<overlay.BFPos | 3<<overlay.BFLen)

	l, err := ParseLayout(map[string]any{
		"a":   int64(overlay.Descriptor(overlay.Uint32)),
		"arr": arr,
		"in":  nested,
		"bf":  bf,
		"lua": float64(overlay.Descriptor(overlay.Int8) | 1),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(12), l.Footprint())

	f, ok := l.Field("arr")
	require.True(t, ok)
	assert.True(t, f.Array)
	assert.Equal(t, uint32(3), f.Count)

	f, _ = l.Field("bf")
	assert.Equal(t, uint8(2), f.BitPos)
	assert.Equal(t, uint8(3), f.BitLen)

	_, err = ParseLayout(map[string]any{"x": []any{int64(1)}})
	assert.Error(t, err)
	_, err = ParseLayout(map[string]any{"x": int64(-1)})
	assert.Error(t, err)
}

func TestLog10Exact(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1, 0},
		{10, 1},
		{100, 2},
		{1000, 3},
		{1e6, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, log10(tt.in), "log10(%v)", tt.in)
	}
	assert.InDelta(t, 0.30103, log10(2), 1e-5)
}
