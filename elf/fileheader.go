package elf

import (
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
)

// ObjectFileType is the e_type field.
type ObjectFileType uint16

const (
	TypeNone         ObjectFileType = 0
	TypeRel          ObjectFileType = 1
	TypeExec         ObjectFileType = 2
	TypeSharedObject ObjectFileType = 3
	TypeCore         ObjectFileType = 4
)

const (
	fileHeaderSize32 = 52
	fileHeaderSize64 = 64
)

// Machine identifies the e_machine field's target CPU architecture, the
// subset DetectPlatform distinguishes.
const (
	EMNone    = 0
	EM386     = 3
	EMARM     = 40
	EMX8664   = 62
	EMAArch64 = 183
)

// FileHeader is the ELF file header: Ident plus the
// fields that locate the program-header and section-header tables.
type FileHeader struct {
	Ident          Ident
	Type           ObjectFileType
	Machine        uint16
	Version        uint32
	Entry          uint64
	PHOff          uint64
	SHOff          uint64
	Flags          uint32
	EHSize         uint16
	PHEntSize      uint16
	PHNum          uint16
	SHEntSize      uint16
	SHNum          uint16
	SHStrNdx       uint16
}

// expectedEHSize returns the on-disk header size implied by the Ident's
// class, used by SeemsValid to catch a header that claims a size that
// does not match its own class.
func (id Ident) expectedEHSize() uint16 {
	if id.Class == Class32 {
		return fileHeaderSize32
	}
	return fileHeaderSize64
}

// SeemsValid reports the invariant of spec.md §3.3: a valid Ident, an
// object file type this module can edit (Exec or SharedObject — edits
// are only legal on those two), and an EHSize consistent with the class.
func (fh FileHeader) SeemsValid() bool {
	if !fh.Ident.IsValid() {
		return false
	}
	if fh.Type != TypeExec && fh.Type != TypeSharedObject {
		return false
	}
	return fh.EHSize == fh.Ident.expectedEHSize()
}

// HeaderSize returns the on-disk size of the file header: 52 bytes for
// Class32, 64 bytes for Class64.
func (id Ident) HeaderSize() int {
	if id.Class == Class32 {
		return fileHeaderSize32
	}
	return fileHeaderSize64
}

func decodeFileHeader(data bytespan.Span, id Ident) FileHeader {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	nw := cls.NWordSize()

	// Layout (both classes): 16-byte ident, then
	//   e_type(2) e_machine(2) e_version(4) e_entry(nw) e_phoff(nw)
	//   e_shoff(nw) e_flags(4) e_ehsize(2) e_phentsize(2) e_phnum(2)
	//   e_shentsize(2) e_shnum(2) e_shstrndx(2)
	off := identSize
	fh := FileHeader{Ident: id}

	fh.Type = ObjectFileType(codec.GetHalfWord(order, data, off))
	off += 2
	fh.Machine = codec.GetHalfWord(order, data, off)
	off += 2
	fh.Version = codec.GetWord(order, data, off)
	off += 4
	fh.Entry = codec.GetNWord(order, cls, data, off)
	off += nw
	fh.PHOff = codec.GetNWord(order, cls, data, off)
	off += nw
	fh.SHOff = codec.GetNWord(order, cls, data, off)
	off += nw
	fh.Flags = codec.GetWord(order, data, off)
	off += 4
	fh.EHSize = codec.GetHalfWord(order, data, off)
	off += 2
	fh.PHEntSize = codec.GetHalfWord(order, data, off)
	off += 2
	fh.PHNum = codec.GetHalfWord(order, data, off)
	off += 2
	fh.SHEntSize = codec.GetHalfWord(order, data, off)
	off += 2
	fh.SHNum = codec.GetHalfWord(order, data, off)
	off += 2
	fh.SHStrNdx = codec.GetHalfWord(order, data, off)

	return fh
}

// encodeFileHeader writes fh into data, which must be at least
// fh.Ident.HeaderSize() bytes.
func encodeFileHeader(data []byte, fh FileHeader) {
	order := fh.Ident.DataFormat.codec()
	cls := fh.Ident.Class.codec()
	nw := cls.NWordSize()

	encodeIdent(data, fh.Ident)

	off := identSize
	codec.PutHalfWord(order, data, off, uint16(fh.Type))
	off += 2
	codec.PutHalfWord(order, data, off, fh.Machine)
	off += 2
	codec.PutWord(order, data, off, fh.Version)
	off += 4
	codec.PutNWord(order, cls, data, off, fh.Entry)
	off += nw
	codec.PutNWord(order, cls, data, off, fh.PHOff)
	off += nw
	codec.PutNWord(order, cls, data, off, fh.SHOff)
	off += nw
	codec.PutWord(order, data, off, fh.Flags)
	off += 4
	codec.PutHalfWord(order, data, off, fh.EHSize)
	off += 2
	codec.PutHalfWord(order, data, off, fh.PHEntSize)
	off += 2
	codec.PutHalfWord(order, data, off, fh.PHNum)
	off += 2
	codec.PutHalfWord(order, data, off, fh.SHEntSize)
	off += 2
	codec.PutHalfWord(order, data, off, fh.SHNum)
	off += 2
	codec.PutHalfWord(order, data, off, fh.SHStrNdx)
}
