package elf

import (
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
)

// SectionType is the sh_type field.
type SectionType uint32

const (
	SHTNull     SectionType = 0
	SHTProgBits SectionType = 1
	SHTSymTab   SectionType = 2
	SHTStrTab   SectionType = 3
	SHTRela     SectionType = 4
	SHTHash     SectionType = 5
	SHTDynamic  SectionType = 6
	SHTNote     SectionType = 7
	SHTNoBits   SectionType = 8
	SHTRel      SectionType = 9
	SHTDynSym   SectionType = 11
	SHTInitArray SectionType = 14
	SHTFiniArray SectionType = 15
	// SHTGnuHash is the GNU hash section type and SHTOsSpecific the start
	// of the OS-specific range. Section types are stored as read; the
	// .gnu.hash section is located by name.
	SHTGnuHash  SectionType = 0x6ffffff6
	SHTOsSpecific SectionType = 0x60000000
)

// SectionFlags is the sh_flags bitset.
type SectionFlags uint64

const (
	SHFWrite     SectionFlags = 1 << 0
	SHFAlloc     SectionFlags = 1 << 1
	SHFExecInstr SectionFlags = 1 << 2
)

// SectionHeader describes one section-header table entry.
// Name is resolved from NameIndex through .shstrtab at read time.
type SectionHeader struct {
	NameIndex uint32
	Name      string
	Type      SectionType
	Flags     SectionFlags
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// End returns the first byte past the section's file range.
func (sh SectionHeader) End() uint64 { return sh.Offset + sh.Size }

// Range returns the section's [offset, offset+size) file extent.
func (sh SectionHeader) Range() OffsetRange {
	return OffsetRange{Begin: sh.Offset, End: sh.Offset + sh.Size}
}

func sectionHeaderEntrySize(class Class) int {
	if class == Class32 {
		return 40
	}
	return 64
}

func decodeSectionHeader(data bytespan.Span, id Ident, base int) SectionHeader {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	var sh SectionHeader

	if id.Class == Class32 {
		sh.NameIndex = codec.GetWord(order, data, base+0)
		sh.Type = SectionType(codec.GetWord(order, data, base+4))
		sh.Flags = SectionFlags(codec.GetWord(order, data, base+8))
		sh.Addr = codec.GetAddress(order, cls, data, base+12)
		sh.Offset = codec.GetOffset(order, cls, data, base+16)
		sh.Size = codec.GetNWord(order, cls, data, base+20)
		sh.Link = codec.GetWord(order, data, base+24)
		sh.Info = codec.GetWord(order, data, base+28)
		sh.AddrAlign = codec.GetNWord(order, cls, data, base+32)
		sh.EntSize = codec.GetNWord(order, cls, data, base+36)
		return sh
	}

	sh.NameIndex = codec.GetWord(order, data, base+0)
	sh.Type = SectionType(codec.GetWord(order, data, base+4))
	sh.Flags = SectionFlags(codec.GetNWord(order, cls, data, base+8))
	sh.Addr = codec.GetAddress(order, cls, data, base+16)
	sh.Offset = codec.GetOffset(order, cls, data, base+24)
	sh.Size = codec.GetNWord(order, cls, data, base+32)
	sh.Link = codec.GetWord(order, data, base+40)
	sh.Info = codec.GetWord(order, data, base+44)
	sh.AddrAlign = codec.GetNWord(order, cls, data, base+48)
	sh.EntSize = codec.GetNWord(order, cls, data, base+56)
	return sh
}

func encodeSectionHeader(data []byte, id Ident, base int, sh SectionHeader) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()

	if id.Class == Class32 {
		codec.PutWord(order, data, base+0, sh.NameIndex)
		codec.PutWord(order, data, base+4, uint32(sh.Type))
		codec.PutWord(order, data, base+8, uint32(sh.Flags))
		codec.PutAddress(order, cls, data, base+12, sh.Addr)
		codec.PutOffset(order, cls, data, base+16, sh.Offset)
		codec.PutNWord(order, cls, data, base+20, sh.Size)
		codec.PutWord(order, data, base+24, sh.Link)
		codec.PutWord(order, data, base+28, sh.Info)
		codec.PutNWord(order, cls, data, base+32, sh.AddrAlign)
		codec.PutNWord(order, cls, data, base+36, sh.EntSize)
		return
	}

	codec.PutWord(order, data, base+0, sh.NameIndex)
	codec.PutWord(order, data, base+4, uint32(sh.Type))
	codec.PutNWord(order, cls, data, base+8, uint64(sh.Flags))
	codec.PutAddress(order, cls, data, base+16, sh.Addr)
	codec.PutOffset(order, cls, data, base+24, sh.Offset)
	codec.PutNWord(order, cls, data, base+32, sh.Size)
	codec.PutWord(order, data, base+40, sh.Link)
	codec.PutWord(order, data, base+44, sh.Info)
	codec.PutNWord(order, cls, data, base+48, sh.AddrAlign)
	codec.PutNWord(order, cls, data, base+56, sh.EntSize)
}
