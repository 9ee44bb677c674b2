package pe

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

const sectionHeaderRawSize = 40

// SectionHeader is one entry of the PE section table.
// Name is the fixed 8-byte on-disk field, NUL-padded and trimmed.
type SectionHeader struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
}

// SeemsValid mirrors the original's SectionHeader::seemsValid.
func (sh SectionHeader) SeemsValid() bool {
	if sh.Name == "" || sh.Name[0] == '/' {
		return false
	}
	if sh.VirtualSize == 0 || sh.SizeOfRawData == 0 || sh.PointerToRawData == 0 {
		return false
	}
	return sh.VirtualAddress >= sh.PointerToRawData
}

func (sh SectionHeader) rvaFileOffsetDelta() uint32 {
	return sh.VirtualAddress - sh.PointerToRawData
}

// RvaIsValid reports whether rva is at least VirtualAddress -
// PointerToRawData, so that RvaToFileOffset gives a non-negative offset,
// per the original's rvaIsValid. It does not check an upper bound.
func (sh SectionHeader) RvaIsValid(rva uint32) bool {
	return rva >= sh.rvaFileOffsetDelta()
}

// RvaToFileOffset converts a relative virtual address that this section
// covers into a file offset.
func (sh SectionHeader) RvaToFileOffset(rva uint32) int64 {
	return int64(rva) - int64(sh.rvaFileOffsetDelta())
}

func sectionTableOffset(coff CoffHeader, dos DosHeader) int {
	return optionalHeaderOffset(dos) + int(coff.SizeOfOptionalHeader)
}

func extractSectionTable(data bytespan.Span, coff CoffHeader, dos DosHeader) ([]SectionHeader, error) {
	base := sectionTableOffset(coff, dos)
	total := int(coff.NumberOfSections) * sectionHeaderRawSize
	if !data.CanSubSpan(base, total) {
		return nil, errors.WithStack(&errs.PEFormatError{Detail: "file shorter than the section table coff declares"})
	}

	out := make([]SectionHeader, coff.NumberOfSections)
	for i := range out {
		off := base + i*sectionHeaderRawSize
		out[i] = decodeSectionHeader(data, off)
	}
	return out, nil
}

func decodeSectionHeader(data bytespan.Span, off int) SectionHeader {
	order := codec.LSB
	nameRaw := data.SubSpan(off, 8).Bytes()
	end := 8
	for end > 0 && nameRaw[end-1] == 0 {
		end--
	}

	return SectionHeader{
		Name:             string(nameRaw[:end]),
		VirtualSize:      codec.GetWord(order, data, off+8),
		VirtualAddress:   codec.GetWord(order, data, off+12),
		SizeOfRawData:    codec.GetWord(order, data, off+16),
		PointerToRawData: codec.GetWord(order, data, off+20),
	}
}

// findSectionHeaderContainingRva returns the section whose mapped range
// contains directory's RVA, per the original's findSectionHeader overload
// keyed by ImageDataDirectory.
func findSectionHeaderContainingRva(sections []SectionHeader, directory ImageDataDirectory) (SectionHeader, bool) {
	for _, sh := range sections {
		if !sh.SeemsValid() {
			continue
		}
		if directory.VirtualAddress >= sh.VirtualAddress && directory.VirtualAddress < sh.VirtualAddress+sh.VirtualSize {
			return sh, true
		}
	}
	return SectionHeader{}, false
}
