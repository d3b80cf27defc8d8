package overlay

import (
	"fmt"
	"strings"

	"github.com/wippyai/embshell/errors"
)

// ByteView is an untyped pointer+length window onto host memory. It never
// owns or copies its bytes.
type ByteView struct {
	buf  []byte
	addr uint32
}

// NewByteView wraps buf, which starts at host address addr.
func NewByteView(addr uint32, buf []byte) *ByteView {
	return &ByteView{buf: buf[:len(buf):len(buf)], addr: addr}
}

// Len returns the view length.
func (v *ByteView) Len() int { return len(v.buf) }

// Addr returns the host address of the first byte.
func (v *ByteView) Addr() uint32 { return v.addr }

// Bytes returns the aliased bytes.
func (v *ByteView) Bytes() []byte { return v.buf }

// Get returns byte i. Negative indices count from the end.
func (v *ByteView) Get(i int) (int64, error) {
	i, err := v.index(i)
	if err != nil {
		return 0, err
	}
	return int64(v.buf[i]), nil
}

// Set stores the low eight bits of b at i.
func (v *ByteView) Set(i int, b any) error {
	i, err := v.index(i)
	if err != nil {
		return err
	}
	bits, ok := asBits(b)
	if !ok {
		return errors.TypeMismatch(errors.PhaseMemory, nil, "int", typeName(b))
	}
	v.buf[i] = byte(bits)
	return nil
}

// Slice returns a view of [lo, hi) sharing the same bytes.
func (v *ByteView) Slice(lo, hi int) (*ByteView, error) {
	if lo < 0 || hi > len(v.buf) || lo > hi {
		return nil, errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Detail("slice [%d:%d] out of range (length %d)", lo, hi, len(v.buf)).
			Build()
	}
	return &ByteView{buf: v.buf[lo:hi:hi], addr: v.addr + uint32(lo)}, nil
}

func (v *ByteView) index(i int) (int, error) {
	n := len(v.buf)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, errors.OutOfBounds(errors.PhaseMemory, nil, i, n)
	}
	return i, nil
}

// String renders the view the way a bytearray repr does.
func (v *ByteView) String() string {
	return "bytearray(b'" + Escape(v.buf) + "')"
}

// Escape renders bytes with printable ASCII kept and everything else as
// \xNN, matching bytes repr conventions.
func Escape(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c == '\'':
			sb.WriteString(`\'`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, `\x%02x`, c)
		}
	}
	return sb.String()
}
