package elf

import (
	"bytes"

	"github.com/arc-language/binlink/internal/bytespan"
)

// ProgramInterpreterSection is the decoded .interp section: the
// NUL-terminated path to the dynamic linker.
type ProgramInterpreterSection struct {
	Path string
}

func decodeProgramInterpreter(data bytespan.Span, sh SectionHeader) ProgramInterpreterSection {
	raw := data.SubSpan(int(sh.Offset), int(sh.Size)).Bytes()
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return ProgramInterpreterSection{Path: string(raw)}
}

// Encode returns the NUL-terminated on-disk form of the interpreter
// path, sized to fit within size bytes (the section's declared size);
// callers must ensure size >= len(Path)+1.
func (p ProgramInterpreterSection) Encode(size int) []byte {
	out := make([]byte, size)
	copy(out, p.Path)
	return out
}
