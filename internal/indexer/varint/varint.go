// Package varint implements the base-128 variable-length integer encoding
// used by doclists, leaf records and interior nodes. Values are written
// least-significant group first with the high bit of every byte but the last
// set. A uint64 needs at most MaxLen bytes.
package varint

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// MaxLen is the longest encoding of a 64-bit value.
const MaxLen = 10

var (
	ErrTruncated = fmt.Errorf("%w: varint truncated", apperrors.ErrCorrupt)
	ErrOverflow  = fmt.Errorf("%w: varint longer than %d bytes", apperrors.ErrCorrupt, MaxLen)
)

// Len returns the number of bytes Append would write for v.
func Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Append appends the encoding of v to dst.
func Append(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Put writes v into buf, which must have room for Len(v) bytes, and returns
// the number of bytes written.
func Put(buf []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// Decode reads one value from the front of buf and returns it with the
// number of bytes consumed.
func Decode(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < MaxLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrTruncated
		}
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrOverflow
}

// AppendInt appends a signed value in its two's complement form.
func AppendInt(dst []byte, v int64) []byte {
	return Append(dst, uint64(v))
}

// DecodeInt is the inverse of AppendInt.
func DecodeInt(buf []byte) (int64, int, error) {
	v, n, err := Decode(buf)
	return int64(v), n, err
}
