package native

import (
	"runtime"

	"github.com/wippyai/embshell"
)

type ownedBlock struct {
	space      embshell.Space
	addr, size uint32
	align      uint32
}

func (b ownedBlock) free() { b.space.Free(b.addr, b.size, b.align) }

// Own ties the block at addr to obj: once obj is unreachable the block is
// returned to space. Views derived from the raw address (uctypes) do not
// keep it alive.
func Own[T any](obj *T, space embshell.Space, addr, size, align uint32) *T {
	runtime.AddCleanup(obj, ownedBlock.free, ownedBlock{space: space, addr: addr, size: size, align: align})
	return obj
}
