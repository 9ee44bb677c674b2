// Reader extraction entry points. Every dereference of a
// computed offset is preceded by a bounds check against the span's
// length; a failure returns a typed error from internal/errs (usually an
// *errs.ReadError naming the field), never a silent truncation.
package elf

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/errs"
)

func readErr(field string, cause error) error {
	return errors.WithStack(errs.NewReadError("", field, cause))
}

// ExtractIdent decodes the 16-byte e_ident prefix.
func ExtractIdent(data bytespan.Span) (Ident, error) {
	if !data.CanSubSpan(0, identSize) {
		return Ident{}, readErr("e_ident", errors.New("file shorter than 16 bytes"))
	}
	id := decodeIdent(data)
	if !id.IsValid() {
		return id, errors.WithStack(&errs.InvalidMagicType{Detail: "e_ident does not describe a supported ELF class/encoding/ABI"})
	}
	return id, nil
}

// ExtractFileHeader decodes the file header, dispatching on id's class to
// the 52-byte or 64-byte layout.
func ExtractFileHeader(data bytespan.Span, id Ident) (FileHeader, error) {
	size := id.HeaderSize()
	if !data.CanSubSpan(0, size) {
		return FileHeader{}, readErr("file header", errors.New("file shorter than the header its class implies"))
	}
	fh := decodeFileHeader(data, id)
	if !fh.SeemsValid() {
		return fh, readErr("file header", errors.New("not an executable or shared object this module can edit"))
	}
	return fh, nil
}

// ExtractAllProgramHeaders iterates PHNum entries of PHEntSize bytes
// starting at PHOff.
func ExtractAllProgramHeaders(data bytespan.Span, fh FileHeader) ([]ProgramHeader, error) {
	entSize := int(fh.PHEntSize)
	if entSize == 0 {
		entSize = programHeaderEntrySize(fh.Ident.Class)
	}
	total := int(fh.PHNum) * entSize
	if !data.CanSubSpan(int(fh.PHOff), total) {
		return nil, readErr("program header table", errors.New("phoff/phnum/phentsize exceed file size"))
	}

	out := make([]ProgramHeader, fh.PHNum)
	for i := range out {
		out[i] = decodeProgramHeader(data, fh.Ident, int(fh.PHOff)+i*entSize)
	}
	return out, nil
}

// ExtractAllSectionHeaders iterates SHNum entries of SHEntSize bytes
// starting at SHOff, then resolves each Name through SHStrNdx.
func ExtractAllSectionHeaders(data bytespan.Span, fh FileHeader) ([]SectionHeader, error) {
	entSize := int(fh.SHEntSize)
	if entSize == 0 {
		entSize = sectionHeaderEntrySize(fh.Ident.Class)
	}
	total := int(fh.SHNum) * entSize
	if !data.CanSubSpan(int(fh.SHOff), total) {
		return nil, readErr("section header table", errors.New("shoff/shnum/shentsize exceed file size"))
	}

	out := make([]SectionHeader, fh.SHNum)
	for i := range out {
		out[i] = decodeSectionHeader(data, fh.Ident, int(fh.SHOff)+i*entSize)
	}

	if int(fh.SHStrNdx) >= len(out) {
		return out, nil
	}
	shstrtab := out[fh.SHStrNdx]
	if !data.CanSubSpan(int(shstrtab.Offset), int(shstrtab.Size)) {
		return nil, readErr(".shstrtab", errors.New("shstrndx section range exceeds file size"))
	}
	strTab := NewStringTable(data.SubSpan(int(shstrtab.Offset), int(shstrtab.Size)).Bytes())
	for i := range out {
		if s, err := strTab.Get(int(out[i].NameIndex)); err == nil {
			out[i].Name = s
		}
	}
	return out, nil
}

// ExtractAllHeaders runs the whole §4.3 header pipeline and returns the
// aggregate FileAllHeaders.
func ExtractAllHeaders(data bytespan.Span) (*FileAllHeaders, error) {
	id, err := ExtractIdent(data)
	if err != nil {
		return nil, err
	}
	fh, err := ExtractFileHeader(data, id)
	if err != nil {
		return nil, err
	}
	phs, err := ExtractAllProgramHeaders(data, fh)
	if err != nil {
		return nil, err
	}
	shs, err := ExtractAllSectionHeaders(data, fh)
	if err != nil {
		return nil, err
	}
	return &FileAllHeaders{FileHeader: fh, ProgramHeaders: phs, SectionHeaders: shs}, nil
}

// ExtractDynamicSection locates .dynamic by name+type, walks its entries
// until a Null tag, and reads the .dynstr section its own Link field
// names, returning the combined DynamicSection.
func ExtractDynamicSection(data bytespan.Span, h *FileAllHeaders) (*DynamicSection, error) {
	di := h.DynamicSectionHeaderIndex()
	if di < 0 {
		return nil, nil
	}
	dynSH := h.SectionHeaders[di]
	if !data.CanSubSpan(int(dynSH.Offset), int(dynSH.Size)) {
		return nil, readErr(".dynamic", errors.New("section range exceeds file size"))
	}

	si := h.DynStrSectionHeaderIndex()
	if si < 0 || si >= len(h.SectionHeaders) {
		return nil, errors.WithStack(&errs.DynamicSectionReadError{Detail: ".dynamic sh_link does not name a valid .dynstr"})
	}
	strSH := h.SectionHeaders[si]
	if !data.CanSubSpan(int(strSH.Offset), int(strSH.Size)) {
		return nil, readErr(".dynstr", errors.New("section range exceeds file size"))
	}
	strTab := NewStringTable(data.SubSpan(int(strSH.Offset), int(strSH.Size)).Bytes())

	ds, err := decodeDynamicSection(data, h.FileHeader.Ident, int(dynSH.Offset), int(dynSH.Size), strTab)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// ExtractPartialSymbolTable collects section-association entries from
// the symbol-table section named secName (".symtab" or ".dynsym").
func ExtractPartialSymbolTable(data bytespan.Span, h *FileAllHeaders, secName string) (*PartialSymbolTable, error) {
	si := h.SectionHeaderIndexByName(secName)
	if si < 0 {
		return nil, nil
	}
	sh := h.SectionHeaders[si]
	if !data.CanSubSpan(int(sh.Offset), int(sh.Size)) {
		return nil, readErr(secName, errors.New("section range exceeds file size"))
	}

	var strTab *StringTable
	if int(sh.Link) < len(h.SectionHeaders) {
		linkSH := h.SectionHeaders[sh.Link]
		if data.CanSubSpan(int(linkSH.Offset), int(linkSH.Size)) {
			strTab = NewStringTable(data.SubSpan(int(linkSH.Offset), int(linkSH.Size)).Bytes())
		}
	}

	pst := decodeSymbolTable(data, h.FileHeader.Ident, sh, si, strTab)
	return &pst, nil
}

// CountSymbolTableEntries returns the total number of entries (not just
// the STT_SECTION ones ExtractPartialSymbolTable keeps) in the symbol
// table section named secName, needed to size .gnu.hash's chain array.
func CountSymbolTableEntries(h *FileAllHeaders, secName string) int {
	si := h.SectionHeaderIndexByName(secName)
	if si < 0 {
		return 0
	}
	sh := h.SectionHeaders[si]
	entSize := int(sh.EntSize)
	if entSize == 0 {
		entSize = symEntrySize(h.FileHeader.Ident.Class)
	}
	if entSize == 0 {
		return 0
	}
	return int(sh.Size) / entSize
}

// ExtractGnuHashTable decodes .gnu.hash, if present. symCount should be
// the number of entries in the dynamic symbol table (.dynsym), required
// to know how many chain words follow the bucket array.
func ExtractGnuHashTable(data bytespan.Span, h *FileAllHeaders, symCount int) (*GnuHashTable, error) {
	gi := h.GnuHashSectionHeaderIndex()
	if gi < 0 {
		return nil, nil
	}
	sh := h.SectionHeaders[gi]
	if !data.CanSubSpan(int(sh.Offset), int(sh.Size)) {
		return nil, errors.WithStack(&errs.GnuHashTableReadError{Detail: "section range exceeds file size"})
	}
	t, err := decodeGnuHashTable(data, h.FileHeader.Ident, int(sh.Offset), int(sh.Size), symCount)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ExtractGlobalOffsetTable decodes the section named secName (".got" or
// ".got.plt"), if present.
func ExtractGlobalOffsetTable(data bytespan.Span, h *FileAllHeaders, secName string) (*GlobalOffsetTable, error) {
	gi := h.SectionHeaderIndexByName(secName)
	if gi < 0 {
		return nil, nil
	}
	sh := h.SectionHeaders[gi]
	if !data.CanSubSpan(int(sh.Offset), int(sh.Size)) {
		return nil, readErr(secName, errors.New("section range exceeds file size"))
	}
	got := decodeGlobalOffsetTable(data, h.FileHeader.Ident, sh)
	return &got, nil
}

// ExtractProgramInterpreter decodes .interp, if present.
func ExtractProgramInterpreter(data bytespan.Span, h *FileAllHeaders) (*ProgramInterpreterSection, error) {
	ii := h.InterpSectionHeaderIndex()
	if ii < 0 {
		return nil, nil
	}
	sh := h.SectionHeaders[ii]
	if !data.CanSubSpan(int(sh.Offset), int(sh.Size)) {
		return nil, readErr(".interp", errors.New("section range exceeds file size"))
	}
	p := decodeProgramInterpreter(data, sh)
	return &p, nil
}

// ExtractNoteSectionTable decodes every SHT_NOTE section.
func ExtractNoteSectionTable(data bytespan.Span, h *FileAllHeaders) (*NoteSectionTable, error) {
	indices := h.NoteSectionHeaderIndices()
	if len(indices) == 0 {
		return nil, nil
	}

	table := &NoteSectionTable{}
	for _, idx := range indices {
		sh := h.SectionHeaders[idx]
		if !data.CanSubSpan(int(sh.Offset), int(sh.Size)) {
			return nil, errors.WithStack(&errs.NoteSectionReadError{Detail: "section range exceeds file size"})
		}
		notes, err := decodeNoteSection(data, h.FileHeader.Ident, sh)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		table.Sections = append(table.Sections, NoteSectionEntry{Header: sh, Notes: notes})
	}
	return table, nil
}
