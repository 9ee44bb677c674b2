package pe

import (
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
)

const importDirectoryRawSize = 20

// ImportDirectory is one entry of the import directory table (the IDATA
// section), reduced to the field this module follows: the RVA of the
// imported DLL's name string.
type ImportDirectory struct {
	NameRVA uint32
}

func (d ImportDirectory) IsNull() bool { return d.NameRVA == 0 }

func importDirectoryFromSpan(data bytespan.Span, off int) ImportDirectory {
	// Full on-disk layout: OriginalFirstThunk(4), TimeDateStamp(4),
	// ForwarderChain(4), Name(4), FirstThunk(4); only Name matters here.
	return ImportDirectory{NameRVA: codec.GetWord(codec.LSB, data, off+12)}
}

// extractImportDirectoryTable walks the import directory array inside
// sectionHeader's mapped range at directory's RVA, stopping at the first
// null (all-zero) entry.
func extractImportDirectoryTable(data bytespan.Span, sectionHeader SectionHeader, directory ImageDataDirectory) ([]ImportDirectory, error) {
	if !sectionHeader.SeemsValid() || directory.IsNull() {
		return nil, nil
	}
	if !sectionHeader.RvaIsValid(directory.VirtualAddress) {
		return nil, nil
	}
	offset := int(sectionHeader.RvaToFileOffset(directory.VirtualAddress))
	size := int(directory.Size)
	if !data.CanSubSpan(offset, size) {
		return nil, nil
	}

	var out []ImportDirectory
	for o := 0; o+importDirectoryRawSize <= size; o += importDirectoryRawSize {
		d := importDirectoryFromSpan(data, offset+o)
		if d.IsNull() {
			break
		}
		out = append(out, d)
	}
	return out, nil
}
