// Package overlay interprets raw bytes as typed structures.
//
// A Layout names fields by kind, byte offset and, for bitfields, bit range.
// A Struct binds a Layout to a borrowed byte slice and a byte order; a
// ByteView exposes the same kind of slice as plain bytes. Neither copies:
//
//	buf := arena.View(addr, 8)
//	s, _ := overlay.NewStruct(addr, buf, layout, overlay.LittleEndian)
//	v := overlay.NewByteView(addr, buf)
//
//	s.Set("int_1", int64(0x99887766)) // v.Get(0) now returns 0x66
//
// Integer writes keep only the bits the field can hold. Layouts are
// usually built from packed descriptors (see DecodeScalar), which lets
// guest code declare them as dictionaries of integer constants.
package overlay
