// Package mmap memory-maps a file for the reader/writer pipeline: open,
// map, remap on growth, flush, unmap. It gives callers a (pointer, size)
// view of the whole file, read-only or read-write.
package mmap

import "os"

// Mode selects the protection the mapping is opened with.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Mapping is a memory-mapped view of a file. Data() is valid until Close
// is called; callers that need the bytes to outlive the mapping must
// copy them first, since a mutator takes ownership of independent
// storage once it starts editing.
type Mapping struct {
	data []byte
	impl mappingImpl
}

// Data returns the mapped byte slice.
func (m *Mapping) Data() []byte { return m.data }

// Len returns the size of the mapping in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Open memory-maps the whole of f in the given mode.
func Open(f *os.File, mode Mode) (*Mapping, error) {
	return openImpl(f, mode)
}

// Flush persists any writes made through Data() back to the backing
// file. It is a no-op on mappings opened ReadOnly.
func (m *Mapping) Flush() error {
	return m.impl.flush()
}

// Close unmaps the view. The Mapping must not be used afterwards.
func (m *Mapping) Close() error {
	return m.impl.close()
}
