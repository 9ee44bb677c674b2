package pe

import (
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
)

const delayLoadDirectoryRawSize = 32

// DelayLoadDirectory is one entry of the delay-load import directory
// table, reduced to the fields needed to locate the imported DLL's name.
type DelayLoadDirectory struct {
	Attributes uint32
	NameRVA    uint32
}

func (d DelayLoadDirectory) IsNull() bool { return d.Attributes == 0 && d.NameRVA == 0 }

func delayLoadDirectoryFromSpan(data bytespan.Span, off int) DelayLoadDirectory {
	order := codec.LSB
	return DelayLoadDirectory{
		Attributes: codec.GetWord(order, data, off+0),
		NameRVA:    codec.GetWord(order, data, off+4),
	}
}

// extractDelayLoadTable walks the delay-load directory array the same way
// extractImportDirectoryTable walks the ordinary import directory: RVA
// resolved through sectionHeader, stopping at the first null entry.
func extractDelayLoadTable(data bytespan.Span, sectionHeader SectionHeader, directory ImageDataDirectory) ([]DelayLoadDirectory, error) {
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

	var out []DelayLoadDirectory
	for o := 0; o+delayLoadDirectoryRawSize <= size; o += delayLoadDirectoryRawSize {
		d := delayLoadDirectoryFromSpan(data, offset+o)
		if d.IsNull() {
			break
		}
		out = append(out, d)
	}
	return out, nil
}
