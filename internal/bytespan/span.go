// Package bytespan implements a non-owning view over a contiguous byte
// region, mirroring the ByteArraySpan used throughout the ELF and PE
// readers: every sub-range extraction is bounds-checked, and a violated
// precondition is a programmer error, not a recoverable one, because every
// call site that cannot prove its bounds should have checked first with
// Len.
package bytespan

import "fmt"

// Span is a non-owning reference to a contiguous byte array. The zero
// Span is null: it holds no data.
type Span struct {
	data []byte
}

// New binds a Span to data. The Span's lifetime must not exceed data's.
func New(data []byte) Span { return Span{data: data} }

// IsNull reports whether the span is bound to no data.
func (s Span) IsNull() bool { return s.data == nil }

// Len returns the number of bytes the span covers.
func (s Span) Len() int { return len(s.data) }

// Bytes returns the span's backing slice directly. Callers must not
// retain it past the lifetime of the span's backing buffer.
func (s Span) Bytes() []byte { return s.data }

// SubSpan returns the count bytes starting at offset. It panics if
// offset < 0, count < 0, or offset+count > s.Len() — these are
// programmer errors: every call site is expected to have checked bounds
// against a decoded size field before calling.
func (s Span) SubSpan(offset, count int) Span {
	if offset < 0 || count < 0 || offset+count > len(s.data) {
		panic(fmt.Sprintf("bytespan: out of range: offset=%d count=%d len=%d", offset, count, len(s.data)))
	}
	return Span{data: s.data[offset : offset+count]}
}

// SubSpanFrom returns the remainder of the span starting at offset. It
// panics if offset is out of [0, s.Len()].
func (s Span) SubSpanFrom(offset int) Span {
	if offset < 0 || offset > len(s.data) {
		panic(fmt.Sprintf("bytespan: out of range: offset=%d len=%d", offset, len(s.data)))
	}
	return Span{data: s.data[offset:]}
}

// CanSubSpan reports whether SubSpan(offset, count) would succeed,
// letting callers validate before dereferencing instead of relying on the
// panic — this is the check every reader performs before every decode.
func (s Span) CanSubSpan(offset, count int) bool {
	if offset < 0 || count < 0 {
		return false
	}
	end := offset + count
	return end >= offset && end <= len(s.data)
}
