// Package memory provides the host address space that guest overlays and
// host-backed objects live in.
package memory

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/errors"
)

// reserved keeps address zero and the first few bytes unallocated so a
// zero address never names a live block.
const reserved = 16

type block struct {
	addr uint32
	size uint32
}

// Arena is a fixed-size linear memory with a first-fit allocator.
// Allocated blocks are kept sorted by address so raw addresses can be
// checked against the block they fall in, and freed gaps are reused.
type Arena struct {
	rt     wazero.Runtime
	mod    api.Module
	mem    api.Memory
	blocks []block
	mu     sync.Mutex
	frees  uint64
}

var _ embshell.Space = (*Arena)(nil)

// reclaimRounds bounds how many collections Alloc waits through before it
// reports exhaustion. Blocks owned by guest objects are returned by
// runtime cleanups, which only run after a collection.
const (
	reclaimRounds = 4
	reclaimWait   = time.Millisecond
)

// New creates an arena of pages 64 KiB pages.
func New(ctx context.Context, pages uint32) (*Arena, error) {
	if pages == 0 || pages > MaxPages {
		return nil, errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Detail("arena pages must be in [1, %d], got %d", MaxPages, pages).
			Build()
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().
		WithMemoryLimitPages(pages))

	compiled, err := rt.CompileModule(ctx, moduleImage(pages))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile arena module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("arena"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate arena module: %w", err)
	}

	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("arena module exports no memory")
	}

	Logger().Debug("arena ready", zap.Uint32("pages", pages), zap.Uint32("bytes", mem.Size()))

	return &Arena{rt: rt, mod: mod, mem: mem}, nil
}

// Close releases the underlying runtime. Views obtained from the arena
// must not be used afterwards.
func (a *Arena) Close(ctx context.Context) error {
	return a.rt.Close(ctx)
}

// Size returns the arena size in bytes.
func (a *Arena) Size() uint32 {
	return a.mem.Size()
}

// Used returns the end of the highest live block.
func (a *Arena) Used() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.blocks) == 0 {
		return reserved
	}
	b := a.blocks[len(a.blocks)-1]
	return b.addr + b.size
}

// Live returns the number of allocated blocks.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}

// Alloc reserves size zeroed bytes aligned to align. When the arena is
// full it runs the garbage collector so blocks of unreachable guest
// objects come back, and tries again.
func (a *Arena) Alloc(size, align uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Detail("alignment %d is not a power of two", align).
			Build()
	}

	addr, frees, ok := a.tryAlloc(size, align)
	for round := 0; !ok && round < reclaimRounds; round++ {
		runtime.GC()
		time.Sleep(reclaimWait)
		var now uint64
		addr, now, ok = a.tryAlloc(size, align)
		if !ok && now == frees && round > 0 {
			break
		}
		frees = now
	}
	if !ok {
		return 0, errors.AllocationFailed(size, align)
	}

	Logger().Debug("alloc", zap.Uint32("addr", addr), zap.Uint32("size", size))
	return addr, nil
}

// tryAlloc places a block in the first gap that fits. It also returns
// the free count seen, so callers can tell whether anything was reclaimed.
func (a *Arena) tryAlloc(size, align uint32) (uint32, uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	limit := uint64(a.mem.Size())
	prev := uint64(reserved)
	for i := 0; i <= len(a.blocks); i++ {
		gapEnd := limit
		if i < len(a.blocks) {
			gapEnd = uint64(a.blocks[i].addr)
		}
		addr := (prev + uint64(align) - 1) &^ (uint64(align) - 1)
		if addr+uint64(size) <= gapEnd {
			view, _ := a.mem.Read(uint32(addr), size)
			clear(view)
			a.blocks = slices.Insert(a.blocks, i, block{addr: uint32(addr), size: size})
			return uint32(addr), a.frees, true
		}
		if i < len(a.blocks) {
			prev = uint64(a.blocks[i].addr) + uint64(a.blocks[i].size)
		}
	}
	return 0, a.frees, false
}

// Free releases the block starting at ptr. Unknown pointers are ignored.
func (a *Arena) Free(ptr, size, align uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := a.find(ptr)
	if i < 0 || a.blocks[i].addr != ptr {
		return
	}
	a.blocks = slices.Delete(a.blocks, i, i+1)
	a.frees++
}

// Region returns the allocated block containing addr.
func (a *Arena) Region(addr uint32) (start, size uint32, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := a.find(addr)
	if i < 0 {
		return 0, 0, false
	}
	b := a.blocks[i]
	return b.addr, b.size, true
}

// find returns the index of the block containing addr, or -1.
func (a *Arena) find(addr uint32) int {
	i := sort.Search(len(a.blocks), func(i int) bool {
		return a.blocks[i].addr > addr
	}) - 1
	if i < 0 {
		return -1
	}
	b := a.blocks[i]
	if addr >= b.addr+b.size {
		return -1
	}
	return i
}

// View returns the live bytes at [addr, addr+length).
func (a *Arena) View(addr uint32, length uint32) ([]byte, error) {
	data, ok := a.mem.Read(addr, length)
	if !ok {
		return nil, a.outOfBounds(addr, length)
	}
	return data[:length:length], nil
}

// Read copies bytes out of memory.
func (a *Arena) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := a.mem.Read(offset, length)
	if !ok {
		return nil, a.outOfBounds(offset, length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

// Write writes bytes to memory.
func (a *Arena) Write(offset uint32, data []byte) error {
	if !a.mem.Write(offset, data) {
		return a.outOfBounds(offset, uint32(len(data)))
	}
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (a *Arena) ReadU8(offset uint32) (uint8, error) {
	v, ok := a.mem.ReadByte(offset)
	if !ok {
		return 0, a.outOfBounds(offset, 1)
	}
	return v, nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (a *Arena) ReadU32(offset uint32) (uint32, error) {
	v, ok := a.mem.ReadUint32Le(offset)
	if !ok {
		return 0, a.outOfBounds(offset, 4)
	}
	return v, nil
}

// WriteU8 writes an unsigned 8-bit value.
func (a *Arena) WriteU8(offset uint32, value uint8) error {
	if !a.mem.WriteByte(offset, value) {
		return a.outOfBounds(offset, 1)
	}
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (a *Arena) WriteU32(offset uint32, value uint32) error {
	if !a.mem.WriteUint32Le(offset, value) {
		return a.outOfBounds(offset, 4)
	}
	return nil
}

func (a *Arena) outOfBounds(offset, length uint32) error {
	return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
		Detail("memory access out of bounds: offset=%d, length=%d, size=%d", offset, length, a.mem.Size()).
		Build()
}
