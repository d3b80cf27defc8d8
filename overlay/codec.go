package overlay

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/embshell/errors"
)

func load(buf []byte, off uint32, k Kind, order binary.ByteOrder) uint64 {
	b := buf[off:]
	switch k.Width() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}

func store(buf []byte, off uint32, k Kind, order binary.ByteOrder, bits uint64) {
	b := buf[off:]
	switch k.Width() {
	case 1:
		b[0] = byte(bits)
	case 2:
		order.PutUint16(b, uint16(bits))
	case 4:
		order.PutUint32(b, uint32(bits))
	default:
		order.PutUint64(b, bits)
	}
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// decodeScalar reads a scalar of kind k at off. Signed kinds yield int64,
// UINT64 yields uint64, narrower unsigned kinds int64, floats float64.
func decodeScalar(buf []byte, off uint32, k Kind, pos, n uint8, order binary.ByteOrder) any {
	raw := load(buf, off, k, order)
	switch {
	case k == Float32:
		return float64(math.Float32frombits(uint32(raw)))
	case k == Float64:
		return math.Float64frombits(raw)
	case k.Bitfield():
		v := (raw >> pos) & (1<<n - 1)
		if k.Signed() {
			return signExtend(v, uint(n))
		}
		return int64(v)
	case k == Uint64:
		return raw
	case k.Signed():
		return signExtend(raw, uint(k.Width()*8))
	default:
		return int64(raw)
	}
}

// encodeScalar writes v at off. Integers keep their low bits: a value wider
// than the field is truncated in two's complement, never rejected.
func encodeScalar(buf []byte, off uint32, k Kind, pos, n uint8, order binary.ByteOrder, v any) error {
	if k.Float() {
		f, ok := asFloat(v)
		if !ok {
			return errors.TypeMismatch(errors.PhaseMemory, nil, "number", typeName(v))
		}
		if k == Float32 {
			store(buf, off, k, order, uint64(math.Float32bits(float32(f))))
		} else {
			store(buf, off, k, order, math.Float64bits(f))
		}
		return nil
	}

	bits, ok := asBits(v)
	if !ok {
		return errors.TypeMismatch(errors.PhaseMemory, nil, "int", typeName(v))
	}
	if k.Bitfield() {
		mask := uint64(1<<n-1) << pos
		raw := load(buf, off, k, order)
		raw = raw&^mask | (bits<<pos)&mask
		store(buf, off, k, order, raw)
		return nil
	}
	store(buf, off, k, order, bits)
	return nil
}

func asBits(v any) (uint64, bool) {
	switch x := v.(type) {
	case int64:
		return uint64(x), true
	case int:
		return uint64(x), true
	case int32:
		return uint64(x), true
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case string:
		return "str"
	case []byte:
		return "bytes"
	case float64, float32:
		return "float"
	case bool:
		return "bool"
	case *Struct:
		return "struct"
	case *Array, *ByteView:
		return "bytearray"
	}
	return "object"
}
