package overlay

import (
	"encoding/binary"
	"fmt"
)

// Kind is the primitive type of an overlay field.
type Kind uint8

// Kind values match the type nibble of a field descriptor.
const (
	Uint8 Kind = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	BFUint8
	BFInt8
	BFUint16
	BFInt16
	BFUint32
	BFInt32
	Float32
	Float64
)

var kindNames = [...]string{
	Uint8:    "UINT8",
	Int8:     "INT8",
	Uint16:   "UINT16",
	Int16:    "INT16",
	Uint32:   "UINT32",
	Int32:    "INT32",
	Uint64:   "UINT64",
	Int64:    "INT64",
	BFUint8:  "BFUINT8",
	BFInt8:   "BFINT8",
	BFUint16: "BFUINT16",
	BFInt16:  "BFINT16",
	BFUint32: "BFUINT32",
	BFInt32:  "BFINT32",
	Float32:  "FLOAT32",
	Float64:  "FLOAT64",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Kinds returns every kind in descriptor order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		out = append(out, Kind(k))
	}
	return out
}

// Width returns the storage size in bytes. Bitfields report the size of
// their container.
func (k Kind) Width() uint32 {
	switch k {
	case Uint8, Int8, BFUint8, BFInt8:
		return 1
	case Uint16, Int16, BFUint16, BFInt16:
		return 2
	case Uint32, Int32, BFUint32, BFInt32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether integer values of the kind are sign-extended.
func (k Kind) Signed() bool {
	switch k {
	case Int8, Int16, Int32, Int64, BFInt8, BFInt16, BFInt32:
		return true
	}
	return false
}

// Float reports whether the kind is an IEEE 754 value.
func (k Kind) Float() bool {
	return k == Float32 || k == Float64
}

// Bitfield reports whether the kind addresses a bit range of its container.
func (k Kind) Bitfield() bool {
	return k >= BFUint8 && k <= BFInt32
}

func (k Kind) valid() bool {
	return int(k) < len(kindNames)
}

// Order is the byte order of a struct view. The zero value, LittleEndian,
// applies wherever a layout is given without an order.
type Order uint8

const (
	LittleEndian Order = 0
	BigEndian    Order = 1
	Native       Order = 2
)

// ByteOrder returns the encoding/binary order for o.
func (o Order) ByteOrder() binary.ByteOrder {
	switch o {
	case BigEndian:
		return binary.BigEndian
	case LittleEndian:
		return binary.LittleEndian
	default:
		return binary.NativeEndian
	}
}

func (o Order) String() string {
	switch o {
	case LittleEndian:
		return "LITTLE_ENDIAN"
	case BigEndian:
		return "BIG_ENDIAN"
	case Native:
		return "NATIVE"
	}
	return fmt.Sprintf("Order(%d)", uint8(o))
}
