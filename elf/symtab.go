package elf

import (
	"github.com/ianlancetaylor/demangle"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
)

// SymbolType is the low 4 bits of st_info.
type SymbolType byte

const (
	SttNoType  SymbolType = 0
	SttObject  SymbolType = 1
	SttFunc    SymbolType = 2
	SttSection SymbolType = 3
	SttFile    SymbolType = 4
)

func symbolType(info byte) SymbolType { return SymbolType(info & 0xf) }

func symEntrySize(class Class) int {
	if class == Class32 {
		return 16
	}
	return 24
}

// SymbolTableEntry is a section-association symbol-table entry, the
// subset of a full Elf_Sym the editor must follow per spec.md §3.7.
type SymbolTableEntry struct {
	// FileOffset is the byte offset of this entry within its symbol
	// table section, recorded so the writer can re-emit it in place.
	FileOffset int
	Name       string
	Info       byte
	Other      byte
	Shndx      uint16
	Value      uint64
	Size       uint64
}

// PartialSymbolTable holds the section-association entries of one symbol-table section (.symtab or .dynsym). The editor
// updates Value whenever the associated section moves, and Shndx
// whenever the section-header table is re-sorted.
type PartialSymbolTable struct {
	// SectionIndex is the section-header index of the symbol table this
	// was extracted from (.symtab or .dynsym).
	SectionIndex int
	Entries      []SymbolTableEntry
}

// decodeSymbolTable extracts every STT_SECTION entry from the symbol
// table section described by sh, whose accompanying string table is
// strTab.
func decodeSymbolTable(data bytespan.Span, id Ident, sh SectionHeader, sectionIndex int, strTab *StringTable) PartialSymbolTable {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	entSize := symEntrySize(id.Class)
	if sh.EntSize != 0 {
		entSize = int(sh.EntSize)
	}

	count := 0
	if entSize > 0 {
		count = int(sh.Size) / entSize
	}

	pst := PartialSymbolTable{SectionIndex: sectionIndex}

	for i := 0; i < count; i++ {
		base := int(sh.Offset) + i*entSize
		var nameIdx uint32
		var info, other byte
		var shndx uint16
		var value, size uint64

		if id.Class == Class32 {
			// Elf32_Sym: st_name, st_value, st_size, st_info, st_other, st_shndx.
			nameIdx = codec.GetWord(order, data, base+0)
			value = codec.GetAddress(order, cls, data, base+4)
			size = codec.GetNWord(order, cls, data, base+8)
			info = data.SubSpan(base+12, 1).Bytes()[0]
			other = data.SubSpan(base+13, 1).Bytes()[0]
			shndx = codec.GetHalfWord(order, data, base+14)
		} else {
			// Elf64_Sym: st_name, st_info, st_other, st_shndx, st_value, st_size.
			nameIdx = codec.GetWord(order, data, base+0)
			info = data.SubSpan(base+4, 1).Bytes()[0]
			other = data.SubSpan(base+5, 1).Bytes()[0]
			shndx = codec.GetHalfWord(order, data, base+6)
			value = codec.GetAddress(order, cls, data, base+8)
			size = codec.GetNWord(order, cls, data, base+16)
		}

		if symbolType(info) != SttSection {
			continue
		}

		name := ""
		if strTab != nil && nameIdx != 0 {
			if s, err := strTab.Get(int(nameIdx)); err == nil {
				name = s
			}
		}

		pst.Entries = append(pst.Entries, SymbolTableEntry{
			FileOffset: base,
			Name:       name,
			Info:       info,
			Other:      other,
			Shndx:      shndx,
			Value:      value,
			Size:       size,
		})
	}

	return pst
}

// encodeSymbolTableEntry re-emits one entry at its recorded FileOffset
// within data, overwriting only the fields a section-association entry
// carries: st_value and st_shndx (the fields the editor may have
// changed), leaving st_name/st_info/st_other untouched since they are
// never rewritten for this entry kind.
func encodeSymbolTableEntry(data []byte, id Ident, e SymbolTableEntry) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()

	if id.Class == Class32 {
		codec.PutAddress(order, cls, data, e.FileOffset+4, e.Value)
		codec.PutHalfWord(order, data, e.FileOffset+14, e.Shndx)
		return
	}

	codec.PutHalfWord(order, data, e.FileOffset+6, e.Shndx)
	codec.PutAddress(order, cls, data, e.FileOffset+8, e.Value)
}

// DebugName returns a demangled form of the entry's name for diagnostic
// display, falling back to the raw name if it does not look mangled.
// Section-association symbols are ordinarily unnamed, so this mostly
// matters when the partial table is built over a symtab that also
// carries named aliases; it is never consulted on the edit path.
func (e SymbolTableEntry) DebugName() string {
	if e.Name == "" {
		return e.Name
	}
	if out, err := demangle.ToString(e.Name, demangle.NoParams); err == nil {
		return out
	}
	return e.Name
}
