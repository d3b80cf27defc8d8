package memory

import (
	"github.com/wippyai/embshell/internal/leb128"
)

// MaxPages is the largest arena accepted, 64 MiB.
const MaxPages = 1024

// PageSize is the WebAssembly page size.
const PageSize = 65536

// moduleImage returns a module that declares one memory of exactly pages
// pages (min = max, so it can never grow and views never move) and exports
// it as "memory".
func moduleImage(pages uint32) []byte {
	limits := []byte{0x01, 0x01} // one memory, max present
	limits = leb128.AppendU32(limits, pages)
	limits = leb128.AppendU32(limits, pages)

	img := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
		0x05, // memory section
	}
	img = leb128.AppendSection(img, limits)
	img = append(img,
		0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
		0x06, 'm', 'e', 'm', 'o', 'r', 'y',
		0x02, 0x00, // kind: memory, index 0
	)
	return img
}
