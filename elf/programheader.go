package elf

import (
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
)

// ProgramHeaderType is the p_type field.
type ProgramHeaderType uint32

const (
	PTNull          ProgramHeaderType = 0
	PTLoad          ProgramHeaderType = 1
	PTDynamic       ProgramHeaderType = 2
	PTInterp        ProgramHeaderType = 3
	PTNote          ProgramHeaderType = 4
	PTShLib         ProgramHeaderType = 5
	PTPHdr          ProgramHeaderType = 6
	PTTLS           ProgramHeaderType = 7
	PTGnuEHFrame    ProgramHeaderType = 0x6474e550
	PTGnuStack      ProgramHeaderType = 0x6474e551
	PTGnuRelRo      ProgramHeaderType = 0x6474e552
)

// Flags is the p_flags bitset.
type Flags uint32

const (
	FlagExecute Flags = 1 << 0
	FlagWrite   Flags = 1 << 1
	FlagRead    Flags = 1 << 2
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ProgramHeader describes one program-header table entry.
type ProgramHeader struct {
	Type   ProgramHeaderType
	Flags  Flags
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// SatisfiesAlignment reports the alignment invariant of spec.md §3.4 for
// a Load segment: (vaddr mod align) == (offset mod align). Segments with
// Align <= 1 are unconstrained and trivially satisfy it.
func (ph ProgramHeader) SatisfiesAlignment() bool {
	if ph.Align <= 1 {
		return true
	}
	return ph.VAddr%ph.Align == ph.Offset%ph.Align
}

// Covers reports whether the segment's file range fully contains
// [offset, offset+size).
func (ph ProgramHeader) Covers(offset, size uint64) bool {
	return offset >= ph.Offset && offset+size <= ph.Offset+ph.FileSz
}

func programHeaderEntrySize(class Class) int {
	if class == Class32 {
		return 32
	}
	return 56
}

func decodeProgramHeader(data bytespan.Span, id Ident, base int) ProgramHeader {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	var ph ProgramHeader

	if id.Class == Class32 {
		// ELF32: p_type, p_offset, p_vaddr, p_paddr, p_filesz, p_memsz, p_flags, p_align.
		ph.Type = ProgramHeaderType(codec.GetWord(order, data, base+0))
		ph.Offset = codec.GetOffset(order, cls, data, base+4)
		ph.VAddr = codec.GetAddress(order, cls, data, base+8)
		ph.PAddr = codec.GetAddress(order, cls, data, base+12)
		ph.FileSz = codec.GetNWord(order, cls, data, base+16)
		ph.MemSz = codec.GetNWord(order, cls, data, base+20)
		ph.Flags = Flags(codec.GetWord(order, data, base+24))
		ph.Align = codec.GetNWord(order, cls, data, base+28)
		return ph
	}

	// ELF64: p_type, p_flags, p_offset, p_vaddr, p_paddr, p_filesz, p_memsz, p_align.
	ph.Type = ProgramHeaderType(codec.GetWord(order, data, base+0))
	ph.Flags = Flags(codec.GetWord(order, data, base+4))
	ph.Offset = codec.GetOffset(order, cls, data, base+8)
	ph.VAddr = codec.GetAddress(order, cls, data, base+16)
	ph.PAddr = codec.GetAddress(order, cls, data, base+24)
	ph.FileSz = codec.GetNWord(order, cls, data, base+32)
	ph.MemSz = codec.GetNWord(order, cls, data, base+40)
	ph.Align = codec.GetNWord(order, cls, data, base+48)
	return ph
}

func encodeProgramHeader(data []byte, id Ident, base int, ph ProgramHeader) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()

	if id.Class == Class32 {
		codec.PutWord(order, data, base+0, uint32(ph.Type))
		codec.PutOffset(order, cls, data, base+4, ph.Offset)
		codec.PutAddress(order, cls, data, base+8, ph.VAddr)
		codec.PutAddress(order, cls, data, base+12, ph.PAddr)
		codec.PutNWord(order, cls, data, base+16, ph.FileSz)
		codec.PutNWord(order, cls, data, base+20, ph.MemSz)
		codec.PutWord(order, data, base+24, uint32(ph.Flags))
		codec.PutNWord(order, cls, data, base+28, ph.Align)
		return
	}

	codec.PutWord(order, data, base+0, uint32(ph.Type))
	codec.PutWord(order, data, base+4, uint32(ph.Flags))
	codec.PutOffset(order, cls, data, base+8, ph.Offset)
	codec.PutAddress(order, cls, data, base+16, ph.VAddr)
	codec.PutAddress(order, cls, data, base+24, ph.PAddr)
	codec.PutNWord(order, cls, data, base+32, ph.FileSz)
	codec.PutNWord(order, cls, data, base+40, ph.MemSz)
	codec.PutNWord(order, cls, data, base+48, ph.Align)
}
