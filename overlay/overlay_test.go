package overlay

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/embshell/errors"
)

func mustScalar(t *testing.T, name string, d uint64) Field {
	t.Helper()
	f, err := DecodeScalar(name, d)
	if err != nil {
		t.Fatalf("DecodeScalar(%s): %v", name, err)
	}
	return f
}

func TestStruct_WriteVisibleThroughByteView(t *testing.T) {
	buf := []byte("12345678abcd")
	layout := MustLayout(mustScalar(t, "f32", Descriptor(Uint32)|0))

	s, err := NewStruct(0, buf, layout, LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("f32", int64(0x7fffffff)); err != nil {
		t.Fatal(err)
	}

	want := []byte("\xff\xff\xff\x7f5678abcd")
	if !bytes.Equal(buf, want) {
		t.Errorf("buffer = %q, want %q", buf, want)
	}

	v := NewByteView(0, buf)
	b, err := v.Get(3)
	if err != nil {
		t.Fatal(err)
	}
	if b != 0x7f {
		t.Errorf("view[3] = %#x, want 0x7f", b)
	}
}

func TestStruct_ByteViewWriteVisibleThroughStruct(t *testing.T) {
	buf := []byte{10, 0, 0, 0, 20, 0, 0, 0}
	layout := MustLayout(
		mustScalar(t, "int_1", Descriptor(Int32)|0),
		mustScalar(t, "int_2", Descriptor(Int32)|4),
	)
	s, err := NewStruct(0x100, buf, layout, LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	v := NewByteView(0x100, buf)

	if err := v.Set(0, int64(0xff)); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("int_1")
	if got != int64(255) {
		t.Errorf("int_1 = %v, want 255", got)
	}

	if err := s.Set("int_1", int64(0x99887766)); err != nil {
		t.Fatal(err)
	}
	if want := []byte("fw\x88\x99\x14\x00\x00\x00"); !bytes.Equal(buf, want) {
		t.Errorf("buffer = %q, want %q", buf, want)
	}

	got, _ = s.Get("int_1")
	if got != int64(int32(-1719109786)) {
		t.Errorf("int_1 = %v, want sign-extended 0x99887766", got)
	}
	got, _ = s.Get("int_2")
	if got != int64(20) {
		t.Errorf("int_2 = %v, want 20", got)
	}
}

func TestStruct_Truncation(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   any
		want any
	}{
		{"int8 wraps", Int8, int64(200), int64(-56)},
		{"uint8 keeps low bits", Uint8, int64(0x1ff), int64(0xff)},
		{"uint16 negative", Uint16, int64(-1), int64(0xffff)},
		{"int32 from uint64", Int32, uint64(0xffffffff), int64(-1)},
		{"uint64 full range", Uint64, int64(-1), uint64(0xffffffffffffffff)},
		{"bool", Uint8, true, int64(1)},
		{"float32 from int", Float32, int64(3), float64(3)},
		{"float64", Float64, 2.5, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 8)
			s, err := NewStruct(0, buf, MustLayout(Field{Name: "x", Kind: tt.kind}), LittleEndian)
			if err != nil {
				t.Fatal(err)
			}
			if err := s.Set("x", tt.in); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get("x")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestStruct_Endianness(t *testing.T) {
	buf := []byte{0x12, 0x34, 0, 0}
	layout := MustLayout(Field{Name: "v", Kind: Uint16})

	be, _ := NewStruct(0, buf, layout, BigEndian)
	le, _ := NewStruct(0, buf, layout, LittleEndian)

	if got, _ := be.Get("v"); got != int64(0x1234) {
		t.Errorf("big endian = %#x", got)
	}
	if got, _ := le.Get("v"); got != int64(0x3412) {
		t.Errorf("little endian = %#x", got)
	}

	if err := be.Set("v", int64(0xabcd)); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0xab || buf[1] != 0xcd {
		t.Errorf("big endian write = % x", buf[:2])
	}
}

func TestStruct_Bitfields(t *testing.T) {
	hi := mustScalar(t, "hi", Descriptor(BFUint8)|0|4<<BFPos|4<<BFLen)
	lo := mustScalar(t, "lo", Descriptor(BFUint8)|0|0<<BFPos|4<<BFLen)
	sgn := mustScalar(t, "sgn", Descriptor(BFInt8)|0|4<<BFPos|4<<BFLen)

	buf := []byte{0xab}
	s, err := NewStruct(0, buf, MustLayout(hi, lo, sgn), Native)
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := s.Get("hi"); got != int64(0xa) {
		t.Errorf("hi = %v", got)
	}
	if got, _ := s.Get("lo"); got != int64(0xb) {
		t.Errorf("lo = %v", got)
	}
	if got, _ := s.Get("sgn"); got != int64(-6) {
		t.Errorf("sgn = %v, want -6", got)
	}

	if err := s.Set("lo", int64(0x13)); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0xa3 {
		t.Errorf("after write buf = %#x, want 0xa3", buf[0])
	}
}

func TestStruct_Arrays(t *testing.T) {
	f, err := DecodeArray("data", ArrayHead|1, Descriptor(Uint8)|2)
	if err != nil {
		t.Fatal(err)
	}
	buf := []byte{0, 1, 2, 3}
	s, err := NewStruct(0x40, buf, MustLayout(f), LittleEndian)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("data")
	if err != nil {
		t.Fatal(err)
	}
	arr := got.(*Array)
	if arr.Len() != 2 || arr.Addr() != 0x41 {
		t.Errorf("len=%d addr=%#x", arr.Len(), arr.Addr())
	}
	if err := arr.Set(-1, int64(9)); err != nil {
		t.Fatal(err)
	}
	if buf[2] != 9 {
		t.Errorf("array write did not reach buffer: % x", buf)
	}
	if _, err := arr.Get(2); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMemory, Kind: errors.KindOutOfBounds}) {
		t.Errorf("expected out of bounds, got %v", err)
	}
	if err := s.Set("data", int64(1)); err == nil {
		t.Error("assigning an aggregate field must fail")
	}
}

func TestStruct_Nested(t *testing.T) {
	inner := MustLayout(Field{Name: "b", Kind: Uint8, Offset: 1})
	f, err := NestedStruct("in", 2, inner)
	if err != nil {
		t.Fatal(err)
	}
	outer := MustLayout(Field{Name: "a", Kind: Uint16}, f)
	if outer.Footprint() != 4 {
		t.Fatalf("footprint = %d, want 4", outer.Footprint())
	}

	buf := make([]byte, 4)
	s, _ := NewStruct(0, buf, outer, LittleEndian)
	got, err := s.Get("in")
	if err != nil {
		t.Fatal(err)
	}
	if err := got.(*Struct).Set("b", int64(7)); err != nil {
		t.Fatal(err)
	}
	if buf[3] != 7 {
		t.Errorf("nested write = % x", buf)
	}
}

func TestNewStruct_FootprintExceedsBuffer(t *testing.T) {
	layout := MustLayout(Field{Name: "x", Kind: Int32, Offset: 8})
	_, err := NewStruct(0, make([]byte, 8), layout, LittleEndian)
	if err == nil {
		t.Fatal("expected footprint error")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindOutOfBounds {
		t.Errorf("unexpected error %v", err)
	}
}

func TestStruct_UnknownField(t *testing.T) {
	s, _ := NewStruct(0, make([]byte, 4), MustLayout(Field{Name: "x", Kind: Int32}), LittleEndian)

	if _, err := s.Get("nope"); errors.Classify(err) != errors.FaultName {
		t.Errorf("read of unknown field: %v", err)
	}
	if err := s.Set("nope", int64(1)); errors.Classify(err) != errors.FaultType {
		t.Errorf("write of unknown field: %v", err)
	}
	if err := s.Set("x", "str"); errors.Classify(err) != errors.FaultType {
		t.Errorf("write of string: %v", err)
	}
}

func TestDecodeScalar_Invalid(t *testing.T) {
	tests := []struct {
		name string
		d    uint64
	}{
		{"too wide", 1 << 33},
		{"bitfield without length", Descriptor(BFUint8) | 1<<BFPos},
		{"bitfield overflow", Descriptor(BFUint8) | 6<<BFPos | 4<<BFLen},
		{"bit range on scalar", Descriptor(Int32) | 1<<BFLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeScalar("f", tt.d); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLayout(t *testing.T) {
	l := Sequential(Member{"a", Uint8}, Member{"b", Float64}, Member{"c", Uint16})
	b, _ := l.Field("b")
	c, _ := l.Field("c")
	if b.Offset != 8 || c.Offset != 16 {
		t.Errorf("offsets b=%d c=%d", b.Offset, c.Offset)
	}
	if l.Footprint() != 18 || l.Align() != 8 {
		t.Errorf("footprint=%d align=%d", l.Footprint(), l.Align())
	}
	if names := l.Names(); len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("names = %v", names)
	}

	if _, err := NewLayout(Field{Name: "x", Kind: Int8}, Field{Name: "x", Kind: Int8}); err == nil {
		t.Error("duplicate names must be rejected")
	}
}

func TestByteView(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	v := NewByteView(0x20, buf)

	sub, err := v.Slice(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Addr() != 0x21 || sub.Len() != 2 {
		t.Errorf("slice addr=%#x len=%d", sub.Addr(), sub.Len())
	}
	if err := sub.Set(0, int64(0x1ff)); err != nil {
		t.Fatal(err)
	}
	if buf[1] != 0xff {
		t.Errorf("slice write = % x", buf)
	}
	if _, err := v.Get(4); err == nil {
		t.Error("expected out of range")
	}
	if got := v.String(); got != `bytearray(b'\x01\xff\x03\x04')` {
		t.Errorf("String() = %s", got)
	}
}

func TestEscape(t *testing.T) {
	got := Escape([]byte("\n\x00\x00\x00\x14\x00\x00\x00"))
	want := `\n\x00\x00\x00\x14\x00\x00\x00`
	if got != want {
		t.Errorf("Escape() = %s, want %s", got, want)
	}
}
