package elf

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/errs"
)

// WriteFile serialises fw back into a byte buffer derived from original
// (the full, unedited file contents): an unedited record round-trips
// byte-identical, since only the spans a mutator actually touched are
// re-emitted, per spec.md §4.7. The returned buffer is newly allocated,
// max(len(original), fw.MinimumSizeToWriteFile()) bytes long, and never
// shares storage with original.
func WriteFile(original []byte, fw *FileWriterFile) ([]byte, error) {
	want := fw.MinimumSizeToWriteFile()
	if want < uint64(len(original)) {
		want = uint64(len(original))
	}
	if want > (1 << 34) {
		return nil, errors.WithStack(errs.NewWriteError("edited layout implausibly large", nil))
	}

	out := make([]byte, want)
	copy(out, original)

	id := fw.Headers.FileHeader.Ident
	class := id.Class

	// 1. Zero the .dynstr hole left behind. If it moved, the old bytes are
	// no longer part of any section and must not appear to a reader that
	// walks the file sequentially instead of through the section table.
	// Otherwise (an in-place shrink), only the tail between the new,
	// shorter end and the original end is now unclaimed and must be
	// zeroed the same way.
	r := fw.OriginalDynstrRange()
	if fw.DynstrMoved() {
		if r.End <= uint64(len(out)) {
			zero(out[r.Begin:r.End])
		}
	} else if si := fw.Headers.DynStrSectionHeaderIndex(); si >= 0 {
		newEnd := fw.Headers.SectionHeaders[si].Offset + fw.Headers.SectionHeaders[si].Size
		if newEnd < r.End && r.End <= uint64(len(out)) {
			zero(out[newEnd:r.End])
		}
	}

	// 2. Re-emit .got/.got.plt: entry 0 of .got.plt may have been
	// rewritten to .dynamic's new address even when neither GOT section
	// itself moved.
	if fw.GotPlt != nil {
		if gi := fw.Headers.GotPltSectionHeaderIndex(); gi >= 0 {
			sh := fw.Headers.SectionHeaders[gi]
			if int(sh.Offset+sh.Size) <= len(out) {
				encodeGlobalOffsetTable(out, id, sh, *fw.GotPlt)
			}
		}
	}
	if fw.Got != nil {
		if gi := fw.Headers.GotSectionHeaderIndex(); gi >= 0 {
			sh := fw.Headers.SectionHeaders[gi]
			if int(sh.Offset+sh.Size) <= len(out) {
				encodeGlobalOffsetTable(out, id, sh, *fw.Got)
			}
		}
	}

	// 3. Emit .interp at its current (possibly moved) offset.
	if fw.Interp != nil {
		if ii := fw.Headers.InterpSectionHeaderIndex(); ii >= 0 {
			sh := fw.Headers.SectionHeaders[ii]
			if int(sh.Offset+sh.Size) <= len(out) {
				copy(out[sh.Offset:sh.Offset+sh.Size], fw.Interp.Encode(int(sh.Size)))
			}
		}
	}

	// 4. Emit .gnu.hash at its current (possibly moved) offset.
	if fw.GnuHash != nil {
		if gi := fw.Headers.GnuHashSectionHeaderIndex(); gi >= 0 {
			sh := fw.Headers.SectionHeaders[gi]
			if int(sh.Offset)+fw.GnuHash.Size(class) <= len(out) {
				encodeGnuHashTable(out, id, int(sh.Offset), *fw.GnuHash)
			}
		}
	}

	// 5. Emit every note section at its current (possibly moved) offset.
	// Only the position moved; note content is never edited, so this just
	// relocates bytes already present in original.
	if fw.Notes != nil {
		for i, idx := range fw.Headers.NoteSectionHeaderIndices() {
			if i >= len(fw.Notes.Sections) {
				break
			}
			sh := fw.Headers.SectionHeaders[idx]
			entry := fw.Notes.Sections[i]
			if sh.Offset == entry.Header.Offset {
				continue // never moved, already byte-identical from the copy above
			}
			raw := original
			if int(entry.Header.Offset+entry.Header.Size) > len(raw) {
				continue
			}
			src := raw[entry.Header.Offset : entry.Header.Offset+entry.Header.Size]
			if int(sh.Offset+sh.Size) <= len(out) {
				copy(out[sh.Offset:sh.Offset+sh.Size], src)
			}
		}
	}

	// 6. Emit .symtab/.dynsym: only the section-association entries this
	// module tracks, each at its recorded FileOffset (symbol tables are
	// never moved, so the offset from the original read is still valid).
	writeSymbolTable(out, id, fw.SymTab)
	writeSymbolTable(out, id, fw.DynSym)

	// 7. Emit .dynamic at its current (possibly moved) offset.
	if di := fw.Headers.DynamicSectionHeaderIndex(); di >= 0 {
		sh := fw.Headers.SectionHeaders[di]
		if int(sh.Offset)+fw.Dynamic.EncodedSize(class) <= len(out) {
			encodeDynamicSection(out, id, int(sh.Offset), fw.Dynamic)
		}
	}

	// 8. Emit .dynstr at its current (possibly moved) offset.
	if si := fw.Headers.DynStrSectionHeaderIndex(); si >= 0 {
		sh := fw.Headers.SectionHeaders[si]
		strBytes := fw.Dynamic.StrTab.Bytes()
		if int(sh.Offset)+len(strBytes) <= len(out) {
			copy(out[sh.Offset:sh.Offset+uint64(len(strBytes))], strBytes)
		}
	}

	// 9. Emit the file header, program-header table, and section-header
	// table last: every field they carry (phnum, shnum, shoff, section
	// offsets/sizes/addrs) has already reached its final value above.
	if err := writeHeaders(out, fw.Headers); err != nil {
		return nil, err
	}

	return out, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func writeSymbolTable(out []byte, id Ident, pst *PartialSymbolTable) {
	if pst == nil {
		return
	}
	for _, e := range pst.Entries {
		if e.FileOffset+symEntrySize(id.Class) > len(out) {
			continue
		}
		encodeSymbolTableEntry(out, id, e)
	}
}

func writeHeaders(out []byte, h *FileAllHeaders) error {
	id := h.FileHeader.Ident
	headerSize := id.HeaderSize()
	if headerSize > len(out) {
		return errors.WithStack(errs.NewWriteError("file header does not fit in the write surface", nil))
	}
	encodeFileHeader(out, h.FileHeader)

	phEntSize := programHeaderEntrySize(id.Class)
	phEnd := int(h.FileHeader.PHOff) + len(h.ProgramHeaders)*phEntSize
	if phEnd > len(out) {
		return errors.WithStack(errs.NewWriteError("program header table does not fit in the write surface", nil))
	}
	for i, ph := range h.ProgramHeaders {
		encodeProgramHeader(out, id, int(h.FileHeader.PHOff)+i*phEntSize, ph)
	}

	shEntSize := sectionHeaderEntrySize(id.Class)
	shEnd := int(h.FileHeader.SHOff) + len(h.SectionHeaders)*shEntSize
	if shEnd > len(out) {
		return errors.WithStack(errs.NewWriteError("section header table does not fit in the write surface", nil))
	}
	for i, sh := range h.SectionHeaders {
		encodeSectionHeader(out, id, int(h.FileHeader.SHOff)+i*shEntSize, sh)
	}

	return nil
}
