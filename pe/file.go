package pe

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

const maxDllNameLength = 260

// File is the read-only decoded view of a PE/COFF image this module
// exposes: enough of the header chain plus the import and
// delay-import directory tables to answer GetNeededSharedLibraries.
type File struct {
	Dos      DosHeader
	Coff     CoffHeader
	Optional OptionalHeader
	Sections []SectionHeader
}

// Extract runs the full §4.8 PE header pipeline: DOS header, PE
// signature check, COFF header, optional header, section table.
func Extract(data bytespan.Span) (*File, error) {
	dos, err := extractDosHeader(data)
	if err != nil {
		return nil, err
	}
	if !dos.SeemsValid() {
		return nil, errors.WithStack(&errs.PEFormatError{Detail: "MS-DOS header does not locate a PE signature"})
	}
	if !containsPeSignature(data, dos) {
		return nil, errors.WithStack(&errs.PEFormatError{Detail: "missing 'PE\\0\\0' signature"})
	}

	coff, err := extractCoffHeader(data, dos)
	if err != nil {
		return nil, err
	}
	if !coff.SeemsValid() {
		return nil, errors.WithStack(&errs.PEFormatError{Detail: "COFF header is not a supported executable image"})
	}

	opt, err := extractOptionalHeader(data, coff, dos)
	if err != nil {
		return nil, err
	}
	if !opt.SeemsValid() {
		return nil, errors.WithStack(&errs.PEFormatError{Detail: "optional header magic is not PE32 or PE32+"})
	}

	sections, err := extractSectionTable(data, coff, dos)
	if err != nil {
		return nil, err
	}

	return &File{Dos: dos, Coff: coff, Optional: opt, Sections: sections}, nil
}

// GetNeededSharedLibraries returns the DLL names named by the ordinary
// import directory table and the delay-load import directory table, in
// that order. Either table may be absent; an absent table contributes
// nothing.
func (f *File) GetNeededSharedLibraries(data bytespan.Span) ([]string, error) {
	var names []string

	if f.Optional.ContainsImportTable() {
		dir := f.Optional.ImportTableDirectory()
		if sh, ok := findSectionHeaderContainingRva(f.Sections, dir); ok {
			table, err := extractImportDirectoryTable(data, sh, dir)
			if err != nil {
				return nil, err
			}
			for _, entry := range table {
				if name, ok := f.readDllName(data, entry.NameRVA); ok {
					names = append(names, name)
				}
			}
		}
	}

	if f.Optional.ContainsDelayImportTable() {
		dir := f.Optional.DelayImportTableDirectory()
		if sh, ok := findSectionHeaderContainingRva(f.Sections, dir); ok {
			table, err := extractDelayLoadTable(data, sh, dir)
			if err != nil {
				return nil, err
			}
			for _, entry := range table {
				if name, ok := f.readDllName(data, entry.NameRVA); ok {
					names = append(names, name)
				}
			}
		}
	}

	return names, nil
}

// readDllName resolves nameRVA through whichever section covers it and
// decodes the NUL-terminated ASCII string there.
func (f *File) readDllName(data bytespan.Span, nameRVA uint32) (string, bool) {
	if nameRVA == 0 {
		return "", false
	}
	sh, ok := findSectionHeaderContainingRva(f.Sections, ImageDataDirectory{VirtualAddress: nameRVA, Size: 1})
	if !ok {
		return "", false
	}
	offset := int(sh.RvaToFileOffset(nameRVA))
	if offset < 0 || !data.CanSubSpan(offset, 0) {
		return "", false
	}
	name, err := codec.GetNulTerminatedString(data, offset, maxDllNameLength)
	if err != nil {
		return "", false
	}
	return name, true
}
