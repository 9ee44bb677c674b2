// Package codec implements the endian-aware, class-aware byte codec
// shared by the ELF and PE readers/writers: fixed-width word decoding and
// encoding, and bounded string decoding. It knows nothing about ELF or PE
// record layouts; it only knows how to get words in and out of a byte
// slice given a byte order and a native word width.
package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/errs"
)

// Order is the byte order a record was encoded with.
type Order int

const (
	// OrderNone marks an as-yet-undetermined byte order. Passing it to
	// any decode/encode function is a programmer error.
	OrderNone Order = iota
	LSB
	MSB
)

func (o Order) binary() binary.ByteOrder {
	switch o {
	case LSB:
		return binary.LittleEndian
	case MSB:
		return binary.BigEndian
	default:
		panic("codec: byte order inputs outside {LSB, MSB} are a programmer error")
	}
}

// Class is the native word width a record was encoded with.
type Class int

const (
	ClassNone Class = iota
	Class32
	Class64
)

// NWordSize returns the size in bytes of a "native word" (an
// address/offset-sized field) for the given class: 4 bytes for Class32,
// 8 bytes for Class64.
func (c Class) NWordSize() int {
	switch c {
	case Class32:
		return 4
	case Class64:
		return 8
	default:
		panic("codec: class inputs outside {Class32, Class64} are a programmer error")
	}
}

// GetHalfWord reads a 2-byte unsigned value at offset.
func GetHalfWord(order Order, data bytespan.Span, offset int) uint16 {
	return order.binary().Uint16(data.SubSpan(offset, 2).Bytes())
}

// PutHalfWord writes a 2-byte unsigned value at offset.
func PutHalfWord(order Order, data []byte, offset int, v uint16) {
	order.binary().PutUint16(data[offset:offset+2], v)
}

// GetWord reads a 4-byte unsigned value at offset.
func GetWord(order Order, data bytespan.Span, offset int) uint32 {
	return order.binary().Uint32(data.SubSpan(offset, 4).Bytes())
}

// PutWord writes a 4-byte unsigned value at offset.
func PutWord(order Order, data []byte, offset int, v uint32) {
	order.binary().PutUint32(data[offset:offset+4], v)
}

// GetNWord reads a native word (4 bytes on Class32, 8 bytes on Class64)
// at offset, returning it widened to uint64.
func GetNWord(order Order, class Class, data bytespan.Span, offset int) uint64 {
	switch class {
	case Class32:
		return uint64(GetWord(order, data, offset))
	case Class64:
		return order.binary().Uint64(data.SubSpan(offset, 8).Bytes())
	default:
		panic("codec: class inputs outside {Class32, Class64} are a programmer error")
	}
}

// PutNWord writes a native word at offset, truncating to 4 bytes on
// Class32.
func PutNWord(order Order, class Class, data []byte, offset int, v uint64) {
	switch class {
	case Class32:
		PutWord(order, data, offset, uint32(v))
	case Class64:
		order.binary().PutUint64(data[offset:offset+8], v)
	default:
		panic("codec: class inputs outside {Class32, Class64} are a programmer error")
	}
}

// GetSignedNWord reads a native word and sign-extends it from the
// class's width to int64.
func GetSignedNWord(order Order, class Class, data bytespan.Span, offset int) int64 {
	switch class {
	case Class32:
		return int64(int32(GetWord(order, data, offset)))
	case Class64:
		return int64(order.binary().Uint64(data.SubSpan(offset, 8).Bytes()))
	default:
		panic("codec: class inputs outside {Class32, Class64} are a programmer error")
	}
}

// GetAddress reads a virtual address: a native word.
func GetAddress(order Order, class Class, data bytespan.Span, offset int) uint64 {
	return GetNWord(order, class, data, offset)
}

// PutAddress writes a virtual address: a native word.
func PutAddress(order Order, class Class, data []byte, offset int, v uint64) {
	PutNWord(order, class, data, offset, v)
}

// GetOffset reads a file offset: a native word.
func GetOffset(order Order, class Class, data bytespan.Span, offset int) uint64 {
	return GetNWord(order, class, data, offset)
}

// PutOffset writes a file offset: a native word.
func PutOffset(order Order, class Class, data []byte, offset int, v uint64) {
	PutNWord(order, class, data, offset, v)
}

// GetNulTerminatedString decodes a NUL-terminated string starting at
// offset, scanning at most limit bytes. It returns errs.NotNullTerminatedStringError
// if no NUL byte is found within the limit.
func GetNulTerminatedString(data bytespan.Span, offset, limit int) (string, error) {
	raw := data.SubSpanFrom(offset).Bytes()
	if len(raw) > limit {
		raw = raw[:limit]
	}
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return "", errors.WithStack(&errs.NotNullTerminatedStringError{Offset: offset, Limit: limit})
}

// GetBoundedString decodes exactly n bytes starting at offset as UTF-8,
// trimming every trailing NUL (used for length-prefixed fields
// such as PE section names, which are NUL-padded rather than
// NUL-terminated).
func GetBoundedString(data bytespan.Span, offset, n int) string {
	raw := data.SubSpan(offset, n).Bytes()
	end := n
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end])
}
