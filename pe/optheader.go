package pe

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

// MagicType distinguishes a PE32 (32-bit) from a PE32+ (64-bit) optional
// header: the two share the same leading fields but diverge after
// BaseOfData, and every RVA-and-size data directory that follows lands at
// a different fixed offset depending on which one this is.
type MagicType int

const (
	MagicUnknown MagicType = iota
	MagicPE32
	MagicPE32Plus
	MagicRomImage
)

func magicTypeOf(raw uint16) MagicType {
	switch raw {
	case 0x10b:
		return MagicPE32
	case 0x20b:
		return MagicPE32Plus
	case 0x107:
		return MagicRomImage
	default:
		return MagicUnknown
	}
}

// ImageDataDirectory is one (virtualAddress, size) pair from the optional
// header's data-directory array.
type ImageDataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

func (d ImageDataDirectory) IsNull() bool { return d.VirtualAddress == 0 || d.Size == 0 }

func dataDirectoryFromUint64(v uint64) ImageDataDirectory {
	return ImageDataDirectory{
		VirtualAddress: uint32(v),
		Size:           uint32(v >> 32),
	}
}

// Data-directory indices within the array that follows the Windows
// specific fields: 1 is the import table, 13 is the delay
// import table.
const (
	directoryIndexImport      = 1
	directoryIndexDelayImport = 13
)

// OptionalHeader is the subset of the PE optional header this module
// needs: the magic (to know whether data directories sit at the PE32 or
// PE32+ offsets) and the import/delay-import directories.
type OptionalHeader struct {
	Magic               uint16
	NumberOfRvaAndSizes  uint32
	ImportTable          uint64
	DelayImportTable     uint64
}

func (h OptionalHeader) MagicType() MagicType { return magicTypeOf(h.Magic) }

func (h OptionalHeader) SeemsValid() bool {
	return h.MagicType() != MagicUnknown && h.NumberOfRvaAndSizes > 0
}

// ContainsImportTable reports whether the import-table directory entry is
// present and non-zero.
func (h OptionalHeader) ContainsImportTable() bool {
	return h.NumberOfRvaAndSizes >= 2 && h.ImportTable != 0
}

func (h OptionalHeader) ImportTableDirectory() ImageDataDirectory {
	return dataDirectoryFromUint64(h.ImportTable)
}

// ContainsDelayImportTable reports whether the delay-import-table
// directory entry is present and non-zero.
func (h OptionalHeader) ContainsDelayImportTable() bool {
	return h.NumberOfRvaAndSizes >= 14 && h.DelayImportTable != 0
}

func (h OptionalHeader) DelayImportTableDirectory() ImageDataDirectory {
	return dataDirectoryFromUint64(h.DelayImportTable)
}

func optionalHeaderOffset(dos DosHeader) int { return int(dos.PeSignatureOffset) + 24 }

func extractOptionalHeader(data bytespan.Span, coff CoffHeader, dos DosHeader) (OptionalHeader, error) {
	base := optionalHeaderOffset(dos)
	size := int(coff.SizeOfOptionalHeader)
	if !data.CanSubSpan(base, size) {
		return OptionalHeader{}, errors.WithStack(&errs.PEFormatError{Detail: "file shorter than the optional header coff declares"})
	}
	if size < minimumOptionalHeaderSize {
		return OptionalHeader{}, errors.WithStack(&errs.PEFormatError{Detail: "optional header smaller than the minimum this module understands"})
	}

	order := codec.LSB
	magic := codec.GetHalfWord(order, data, base+0)

	var h OptionalHeader
	h.Magic = magic

	switch magicTypeOf(magic) {
	case MagicPE32:
		// PE32: data directories start at offset 96 from the optional
		// header base; NumberOfRvaAndSizes sits at 92.
		h.NumberOfRvaAndSizes = codec.GetWord(order, data, base+92)
		h.ImportTable = directoryQWord(data, base+96, directoryIndexImport)
		h.DelayImportTable = directoryQWord(data, base+96, directoryIndexDelayImport)
	case MagicPE32Plus:
		// PE32+: data directories start at offset 112.
		h.NumberOfRvaAndSizes = codec.GetWord(order, data, base+108)
		h.ImportTable = directoryQWord(data, base+112, directoryIndexImport)
		h.DelayImportTable = directoryQWord(data, base+112, directoryIndexDelayImport)
	default:
		return h, nil
	}

	return h, nil
}

// directoryQWord reads the 8-byte (virtualAddress, size) pair at
// dirBase+idx*8, returning 0 if those 8 bytes lie past the end of data.
// It does not consult NumberOfRvaAndSizes.
func directoryQWord(data bytespan.Span, dirBase, idx int) uint64 {
	off := dirBase + idx*8
	if !data.CanSubSpan(off, 8) {
		return 0
	}
	return codec.GetNWord(codec.LSB, codec.Class64, data, off)
}
