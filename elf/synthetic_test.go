package elf

import (
	"github.com/arc-language/binlink/internal/bytespan"
)

// syntheticBinary describes the pieces of a minimal but structurally valid
// ELF64 little-endian shared object built by buildSynthetic: just enough of
// the header chain (file header, two program headers, four section
// headers, .dynstr, .dynamic, .shstrtab) to exercise the reader, the
// layout engine, and the writer end to end without a real compiled binary
// on disk, per spec.md §8's scenarios S1–S5.
type syntheticBinary struct {
	raw       []byte
	id        Ident
	loadVAddr uint64
}

const synBase = 0x400000

// buildSynthetic lays out:
//
//	0                 ELF64 file header (64 bytes)
//	64                program header table (2 * 56 bytes)
//	176               .dynstr  (leading NUL + runPath, NUL-terminated)
//	...               .dynamic (DT_STRTAB, [DT_RUNPATH], DT_NULL)
//	...               .shstrtab
//	...               section header table (4 * 64 bytes)
//
// and returns the encoded bytes alongside the Ident needed to decode them.
// runPath == "" omits the DT_RUNPATH entry entirely.
func buildSynthetic(runPath string) syntheticBinary {
	return buildSyntheticGap(runPath, 0)
}

// buildSyntheticGap is buildSynthetic with gap unclaimed bytes inserted
// between .dynstr and .dynamic, for scenarios that need slack after the
// program header table so only .dynstr sits in the evacuation range.
func buildSyntheticGap(runPath string, gap uint64) syntheticBinary {
	id := Ident{MagicOK: true, Class: Class64, DataFormat: LSB, Version: 1, OSABI: OSABISystemV}

	const (
		ehSize   = fileHeaderSize64
		phEnt    = 56
		phCount  = 2
		shEnt    = 64
		shCount  = 4
	)
	phOff := uint64(ehSize)
	dynstrOff := phOff + phCount*phEnt

	dynstr := []byte{0}
	var runpathOffset int
	hasRunPath := runPath != ""
	if hasRunPath {
		runpathOffset = len(dynstr)
		dynstr = append(dynstr, []byte(runPath)...)
		dynstr = append(dynstr, 0)
	}
	dynstrSize := uint64(len(dynstr))

	dynstrAddr := synBase + dynstrOff
	var dynEntries []DynamicEntry
	dynEntries = append(dynEntries, DynamicEntry{Tag: DTStrTab, Val: dynstrAddr})
	if hasRunPath {
		dynEntries = append(dynEntries, DynamicEntry{Tag: DTRunpath, Val: uint64(runpathOffset)})
	}
	dynEntries = append(dynEntries, DynamicEntry{Tag: DTNull})
	dynSize := uint64(len(dynEntries) * dynamicEntrySize(Class64))

	dynamicOff := dynstrOff + dynstrSize + gap
	shstrtab := []byte{0}
	dynstrNameIdx := uint32(len(shstrtab))
	shstrtab = append(shstrtab, append([]byte(".dynstr"), 0)...)
	dynamicNameIdx := uint32(len(shstrtab))
	shstrtab = append(shstrtab, append([]byte(".dynamic"), 0)...)
	shstrtabNameIdx := uint32(len(shstrtab))
	shstrtab = append(shstrtab, append([]byte(".shstrtab"), 0)...)
	shstrtabSize := uint64(len(shstrtab))

	shstrtabOff := dynamicOff + dynSize
	shOff := shstrtabOff + shstrtabSize
	fileEnd := shOff + shCount*shEnt

	fh := FileHeader{
		Ident:     id,
		Type:      TypeSharedObject,
		Machine:   EMX8664,
		Version:   1,
		Entry:     0,
		PHOff:     phOff,
		SHOff:     shOff,
		EHSize:    ehSize,
		PHEntSize: phEnt,
		PHNum:     phCount,
		SHEntSize: shEnt,
		SHNum:     shCount,
		SHStrNdx:  3,
	}

	phs := []ProgramHeader{
		{Type: PTLoad, Flags: FlagRead | FlagWrite | FlagExecute, Offset: 0, VAddr: synBase, PAddr: synBase, FileSz: fileEnd, MemSz: fileEnd, Align: defaultPageSize},
		{Type: PTDynamic, Flags: FlagRead | FlagWrite, Offset: dynamicOff, VAddr: synBase + dynamicOff, PAddr: synBase + dynamicOff, FileSz: dynSize, MemSz: dynSize, Align: 8},
	}

	shs := []SectionHeader{
		{Type: SHTNull},
		{NameIndex: dynstrNameIdx, Name: ".dynstr", Type: SHTStrTab, Flags: SHFAlloc, Addr: dynstrAddr, Offset: dynstrOff, Size: dynstrSize, AddrAlign: 1},
		{NameIndex: dynamicNameIdx, Name: ".dynamic", Type: SHTDynamic, Flags: SHFAlloc | SHFWrite, Addr: synBase + dynamicOff, Offset: dynamicOff, Size: dynSize, Link: 1, AddrAlign: 8, EntSize: 16},
		{NameIndex: shstrtabNameIdx, Name: ".shstrtab", Type: SHTStrTab, Offset: shstrtabOff, Size: shstrtabSize, AddrAlign: 1},
	}

	out := make([]byte, fileEnd)
	encodeFileHeader(out, fh)
	for i, ph := range phs {
		encodeProgramHeader(out, id, int(phOff)+i*phEnt, ph)
	}
	copy(out[dynstrOff:], dynstr)
	ds := &DynamicSection{Entries: dynEntries, StrTab: NewStringTable(dynstr)}
	encodeDynamicSection(out, id, int(dynamicOff), ds)
	copy(out[shstrtabOff:], shstrtab)
	for i, sh := range shs {
		encodeSectionHeader(out, id, int(shOff)+i*shEnt, sh)
	}

	return syntheticBinary{raw: out, id: id, loadVAddr: synBase}
}

func mustExtractAll(raw []byte) *FileAllHeaders {
	h, err := ExtractAllHeaders(bytespan.New(raw))
	if err != nil {
		panic(err)
	}
	return h
}
