// Package leb128 encodes the length-prefixed sections shared by the frozen
// unit envelope and the arena's module image. Only unsigned 32-bit values
// occur in either, so that is all it supports.
package leb128

import "errors"

// MaxLen is the longest encoding of a uint32.
const MaxLen = 5

var (
	// ErrOverflow reports an encoding that does not fit in 32 bits.
	ErrOverflow = errors.New("leb128: value overflows uint32")
	// ErrTruncated reports input that ends inside a value or section.
	ErrTruncated = errors.New("leb128: truncated input")
)

// AppendU32 appends the encoding of v to dst.
func AppendU32(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendSection appends body prefixed with its length.
func AppendSection(dst, body []byte) []byte {
	dst = AppendU32(dst, uint32(len(body)))
	return append(dst, body...)
}

// Size returns the encoded length of v.
func Size(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Reader decodes values and sections from a byte slice. Sections it
// returns alias the input.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.off }

// U32 decodes one value. The fifth byte may only carry the top four bits.
func (r *Reader) U32() (uint32, error) {
	var v uint32
	for i := 0; i < MaxLen; i++ {
		if r.off >= len(r.buf) {
			return 0, ErrTruncated
		}
		b := r.buf[r.off]
		r.off++
		if i == MaxLen-1 && b > 0x0f {
			return 0, ErrOverflow
		}
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrOverflow
}

// Section decodes a length prefix and returns that many following bytes.
func (r *Reader) Section() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Len()) {
		return nil, ErrTruncated
	}
	out := r.buf[r.off : r.off+int(n) : r.off+int(n)]
	r.off += int(n)
	return out, nil
}
