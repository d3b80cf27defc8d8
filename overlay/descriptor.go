package overlay

import (
	"github.com/wippyai/embshell/errors"
)

// Field descriptors pack a field's type and placement into one integer so
// guest code can write layouts as plain dictionaries:
//
//	bits  0..16  byte offset
//	bits 17..21  bit position (bitfields)
//	bits 22..26  bit length (bitfields)
//	bits 28..31  Kind
//
// Arrays are described by a pair (ArrayHead | offset, Kind | count).
const (
	OffsetBits = 17
	BFPos      = 17
	BFLen      = 22
	kindShift  = 28
	aggShift   = 30

	offsetMask = 1<<OffsetBits - 1
	bitMask    = 0x1f

	// ArrayHead marks the head of an array descriptor pair.
	ArrayHead uint64 = 2 << aggShift
)

// MaxDescriptor is the largest value a descriptor may take.
const MaxDescriptor = 1<<32 - 1

// Descriptor returns the descriptor constant of k at offset zero.
func Descriptor(k Kind) uint64 {
	return uint64(k) << kindShift
}

// DecodeScalar builds a scalar or bitfield field from a descriptor.
func DecodeScalar(name string, d uint64) (Field, error) {
	if d > MaxDescriptor {
		return Field{}, invalidDescriptor(name, "descriptor 0x%x out of range", d)
	}
	k := Kind(d >> kindShift)
	if !k.valid() {
		return Field{}, invalidDescriptor(name, "unknown field type %d", uint8(k))
	}

	f := Field{
		Name:   name,
		Kind:   k,
		Offset: uint32(d & offsetMask),
	}
	if k.Bitfield() {
		f.BitPos = uint8((d >> BFPos) & bitMask)
		f.BitLen = uint8((d >> BFLen) & bitMask)
		if f.BitLen == 0 {
			return Field{}, invalidDescriptor(name, "bitfield length is zero")
		}
		if uint32(f.BitPos)+uint32(f.BitLen) > k.Width()*8 {
			return Field{}, invalidDescriptor(name, "bitfield %d+%d exceeds %s container", f.BitPos, f.BitLen, k)
		}
	} else if d&(bitMask<<BFPos|bitMask<<BFLen) != 0 {
		return Field{}, invalidDescriptor(name, "bit range set on non-bitfield %s", k)
	}
	return f, nil
}

// DecodeArray builds an array field from a descriptor pair.
func DecodeArray(name string, head, elem uint64) (Field, error) {
	if head > MaxDescriptor || head>>aggShift != ArrayHead>>aggShift {
		return Field{}, invalidDescriptor(name, "array head 0x%x lacks ARRAY marker", head)
	}
	if elem > MaxDescriptor {
		return Field{}, invalidDescriptor(name, "array element descriptor 0x%x out of range", elem)
	}
	k := Kind(elem >> kindShift)
	if !k.valid() || k.Bitfield() {
		return Field{}, invalidDescriptor(name, "invalid array element type %d", uint8(k))
	}
	return Field{
		Name:   name,
		Kind:   k,
		Offset: uint32(head & offsetMask),
		Count:  uint32(elem & offsetMask),
		Array:  true,
	}, nil
}

// NestedStruct places a sub-layout at offset.
func NestedStruct(name string, offset uint64, l *Layout) (Field, error) {
	if offset > offsetMask {
		return Field{}, invalidDescriptor(name, "offset %d out of range", offset)
	}
	if l == nil {
		return Field{}, invalidDescriptor(name, "nested layout is nil")
	}
	return Field{Name: name, Offset: uint32(offset), Layout: l}, nil
}

func invalidDescriptor(name, msg string, args ...any) error {
	return errors.New(errors.PhaseMemory, errors.KindInvalidInput).
		Path(name).
		Detail(msg, args...).
		Build()
}
