package elf

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/errs"
)

// StringTable is a byte-identical, independently owned copy of an ELF
// string-table section such as .dynstr or .shstrtab.
// It is a generalisation of the teacher's append-only, dedup-on-write
// StringTable in format/elf/writer.go: this one also supports in-place
// overwrite and tail truncation, since spec.md §4.5 requires a DT_RUNPATH
// update to reuse its old slot when the new value fits.
type StringTable struct {
	data []byte
}

// NewStringTable wraps raw as the initial contents of a string table. raw
// is copied so the table is independent of whatever buffer it came from,
// per spec.md §3.12.
func NewStringTable(raw []byte) *StringTable {
	data := make([]byte, len(raw))
	copy(data, raw)
	return &StringTable{data: data}
}

// EmptyStringTable returns a table containing only the leading NUL every
// ELF string table starts with.
func EmptyStringTable() *StringTable {
	return &StringTable{data: []byte{0}}
}

// Bytes returns the table's current contents.
func (st *StringTable) Bytes() []byte { return st.data }

// Len returns the size in bytes of the table.
func (st *StringTable) Len() int { return len(st.data) }

// Get decodes the NUL-terminated string at offset. It returns a
// StringTableError if offset is out of range or the string runs off the
// end of the table without a terminating NUL.
func (st *StringTable) Get(offset int) (string, error) {
	if offset < 0 || offset >= len(st.data) {
		return "", errors.WithStack(&errs.StringTableError{Offset: offset, Detail: "offset out of range"})
	}
	end := bytes.IndexByte(st.data[offset:], 0)
	if end < 0 {
		return "", errors.WithStack(&errs.StringTableError{Offset: offset, Detail: "not NUL-terminated"})
	}
	return string(st.data[offset : offset+end]), nil
}

// stringLen returns the number of bytes (excluding the terminating NUL)
// of the string stored at offset.
func (st *StringTable) stringLen(offset int) int {
	end := bytes.IndexByte(st.data[offset:], 0)
	if end < 0 {
		return len(st.data) - offset
	}
	return end
}

// IsTail reports whether the string at offset is the last one in the
// table: nothing follows its terminating NUL.
func (st *StringTable) IsTail(offset int) bool {
	l := st.stringLen(offset)
	return offset+l+1 == len(st.data)
}

// Append adds s, NUL-terminated, to the end of the table and returns its
// offset.
func (st *StringTable) Append(s string) int {
	offset := len(st.data)
	st.data = append(st.data, []byte(s)...)
	st.data = append(st.data, 0)
	return offset
}

// OverwriteInPlace replaces the string at offset with s without changing
// the table's length, padding the freed tail (if s is shorter than the
// original) with NUL bytes up to and including one terminator for s.
// The caller must already know s fits (len(s) <= original string length)
// and that offset is not shared with a later string's bytes.
func (st *StringTable) OverwriteInPlace(offset int, s string) {
	origLen := st.stringLen(offset)
	copy(st.data[offset:], s)
	for i := offset + len(s); i < offset+origLen+1; i++ {
		st.data[i] = 0
	}
}

// TruncateTail drops the trailing bytes of the table starting at offset,
// used when the string at offset was the last one and is being removed
// or shortened such that the table itself should shrink. The caller must
// have already verified IsTail(offset).
func (st *StringTable) TruncateTail(offset int) {
	st.data = st.data[:offset]
}
