package embshell

// Memory is the host address space reachable from guest code.
type Memory interface {
	// View returns the live bytes at [addr, addr+length). The slice aliases
	// host memory; writes through it are writes to memory.
	View(addr uint32, length uint32) ([]byte, error)
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
}

// MemorySizer provides the size of the address space in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator hands out blocks of the address space
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}

// Space is an address space that tracks its allocations, so a raw address
// can be mapped back to the block that contains it.
type Space interface {
	Memory
	MemorySizer
	Allocator
	// Region returns the bounds of the allocated block containing addr.
	Region(addr uint32) (start, size uint32, ok bool)
}
