package elf

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/errs"
)

// EditorState tracks the lifecycle of a FileWriterFile.
type EditorState int

const (
	// Loaded is read-only: every cache is populated, no mutator has run.
	Loaded EditorState = iota
	// Edited means one or more mutators have run; MinimumSizeToWriteFile
	// may now differ from the file's original size.
	Edited
	// Invalid means an edit attempted something this package cannot do
	// (move a section without implemented move semantics, or evacuate
	// more sections than the file has room for). The FileWriterFile must
	// be discarded.
	Invalid
)

// FileWriterFile is the layout-preserving mutation engine:
// it holds every decoded model plus a snapshot of the original layout,
// decides whether an edit can be made in place or must relocate sections
// to the end of the file, and repairs every cross-reference that a
// section move invalidates. It is the only component that mutates
// headers in response to section moves; WriteFile (writer.go) is pure
// serialisation.
type FileWriterFile struct {
	Headers *FileAllHeaders
	Dynamic *DynamicSection
	SymTab  *PartialSymbolTable // .symtab, may be nil
	DynSym  *PartialSymbolTable // .dynsym, may be nil
	Got     *GlobalOffsetTable  // .got, may be nil
	GotPlt  *GlobalOffsetTable  // .got.plt, may be nil
	Interp  *ProgramInterpreterSection
	GnuHash *GnuHashTable
	Notes   *NoteSectionTable

	State EditorState

	logger Logger

	origDynOffset, origDynSize uint64
	origStrOffset, origStrSize uint64
}

// LayoutOptions carries the tunable layout constants the engine falls
// back on when the file itself does not pin them down. The zero value
// means "use the defaults".
type LayoutOptions struct {
	// PageSize overrides the page alignment used for moved sections when
	// no PT_LOAD segment declares one. Zero keeps the 4 KiB default.
	PageSize uint64
}

// ApplyLayoutOptions installs opts on the writer file's header table.
// Call it before the first mutator; options applied after an edit do not
// retroactively re-place anything.
func (f *FileWriterFile) ApplyLayoutOptions(opts LayoutOptions) {
	if opts.PageSize > 0 {
		f.Headers.FallbackPageSize = opts.PageSize
	}
}

// NewFileWriterFile snapshots the original layout of .dynamic and
// .dynstr and returns a writer file in the Loaded state.
// logger may be nil, in which case diagnostics are discarded.
func NewFileWriterFile(
	headers *FileAllHeaders,
	dynamic *DynamicSection,
	symtab, dynsym *PartialSymbolTable,
	got, gotPlt *GlobalOffsetTable,
	interp *ProgramInterpreterSection,
	gnuHash *GnuHashTable,
	notes *NoteSectionTable,
	logger Logger,
) *FileWriterFile {
	f := &FileWriterFile{
		Headers: headers,
		Dynamic: dynamic,
		SymTab:  symtab,
		DynSym:  dynsym,
		Got:     got,
		GotPlt:  gotPlt,
		Interp:  interp,
		GnuHash: gnuHash,
		Notes:   notes,
		State:   Loaded,
		logger:  logger,
	}

	if di := headers.DynamicSectionHeaderIndex(); di >= 0 {
		f.origDynOffset = headers.SectionHeaders[di].Offset
		f.origDynSize = headers.SectionHeaders[di].Size
	}
	if si := headers.DynStrSectionHeaderIndex(); si >= 0 {
		f.origStrOffset = headers.SectionHeaders[si].Offset
		f.origStrSize = headers.SectionHeaders[si].Size
	}
	return f
}

func (f *FileWriterFile) log(msg string)        { f.safeLogger().Message(msg) }
func (f *FileWriterFile) verbose(msg string)     { f.safeLogger().Verbose(msg) }
func (f *FileWriterFile) safeLogger() Logger {
	if f.logger == nil {
		return nopLogger{}
	}
	return f.logger
}

// fail transitions the FileWriterFile to Invalid and returns err unchanged,
// per spec.md §4.9 / §7's all-or-nothing layout-engine error policy.
func (f *FileWriterFile) fail(err error) error {
	f.State = Invalid
	return err
}

// SetRunPath implements the FileWriterFile::setRunPath algorithm of
// spec.md §4.6.
//
// When .dynamic moves, PT_GNU_RELRO is not extended to cover its new
// place. DT_HASH is never rewritten: only DT_GNU_HASH follows a moved
// .gnu.hash.
func (f *FileWriterFile) SetRunPath(value string) error {
	if f.State == Invalid {
		return errors.WithStack(&errs.MoveSectionError{
			Section: ".dynamic",
			Reason:  "a previous edit failed; the file must be discarded",
		})
	}
	if f.Dynamic == nil {
		return f.fail(errors.WithStack(&errs.DynamicSectionReadError{Detail: "file has no .dynamic section to edit"}))
	}

	// 1. Delegate to DynamicSection::setRunPath.
	f.Dynamic.SetRunPath(value)

	// 2. Update .dynamic and .dynstr section-header sizes and their
	// covering program headers' filesz/memsz.
	class := f.Headers.FileHeader.Ident.Class
	newDynSize := uint64(f.Dynamic.EncodedSize(class))
	newStrSize := uint64(f.Dynamic.StrTab.Len())

	di := f.Headers.DynamicSectionHeaderIndex()
	si := f.Headers.DynStrSectionHeaderIndex()
	// A section still at its original offset has room for its original
	// size; one an earlier edit already moved to the end of the file has
	// room for the size it currently has there.
	dynRoom, strRoom := f.origDynSize, f.origStrSize
	if f.DynamicMoved() {
		dynRoom = f.Headers.SectionHeaders[di].Size
	}
	if f.DynstrMoved() {
		strRoom = f.Headers.SectionHeaders[si].Size
	}
	f.Headers.SectionHeaders[di].Size = newDynSize
	f.Headers.SectionHeaders[si].Size = newStrSize
	if pi := f.Headers.DynamicProgramHeaderIndex(); pi >= 0 {
		f.Headers.ProgramHeaders[pi].FileSz = newDynSize
		f.Headers.ProgramHeaders[pi].MemSz = newDynSize
	}

	// 3. Determine whether either section must move.
	mustMoveDynamic := newDynSize > dynRoom
	mustMoveStr := newStrSize > strRoom

	f.State = Edited
	if !mustMoveDynamic && !mustMoveStr {
		f.verbose("setRunPath: in-place edit, no section move required")
		return nil
	}

	if err := f.relocateForGrowth(mustMoveDynamic, mustMoveStr); err != nil {
		return f.fail(err)
	}
	return nil
}

// relocateForGrowth performs steps 4–9 of spec.md §4.6: sorting the
// section-header table, evacuating enough low-offset sections to grow
// the program-header table by one entry, moving .dynamic/.dynstr,
// fixing up every cross-reference, and synthesising the new PT_LOAD.
func (f *FileWriterFile) relocateForGrowth(mustMoveDynamic, mustMoveStr bool) error {
	class := f.Headers.FileHeader.Ident.Class
	phEntSize := uint64(programHeaderEntrySize(class))

	// 4. Sort section headers by file offset, then compute the
	// evacuation set.
	changeMap := f.Headers.SortSectionHeaderTableByFileOffset()
	f.reindexAfterSort(changeMap)

	phTableEnd := f.Headers.FileHeader.PHOff + uint64(len(f.Headers.ProgramHeaders))*phEntSize
	evacuate, err := f.computeEvacuationSet(phTableEnd, phEntSize)
	if err != nil {
		return err
	}

	moved := make(map[int]bool)

	// 5. Move evacuated sections in ascending file-offset order: the
	// first with NextPage alignment, the rest with SectionAlignment.
	// Note sections always move as one group.
	handledNotes := false
	for i, idx := range evacuate {
		sh := f.Headers.SectionHeaders[idx]
		alignment := SectionAlignment
		if i == 0 {
			alignment = NextPage
		}
		if sh.Type == SHTNote {
			if handledNotes {
				moved[idx] = true
				continue
			}
			if err := f.Headers.MoveNoteSectionsToEnd(alignment); err != nil {
				return err
			}
			handledNotes = true
			for _, ni := range f.Headers.NoteSectionHeaderIndices() {
				moved[ni] = true
			}
			continue
		}
		if err := f.Headers.MoveSectionToEnd(idx, alignment); err != nil {
			return err
		}
		moved[idx] = true
	}

	// 6. Move .dynamic (if needed) then .dynstr (if needed), using
	// SectionAlignment. Either may already have been relocated as part of
	// the step-5 evacuation (a common case: .dynstr/.dynamic often sit at
	// low file offsets themselves), so skip a section already moved
	// rather than relocating it a second time.
	di := f.Headers.DynamicSectionHeaderIndex()
	si := f.Headers.DynStrSectionHeaderIndex()
	if mustMoveDynamic && !moved[di] {
		if err := f.Headers.MoveSectionToEnd(di, SectionAlignment); err != nil {
			return err
		}
		moved[di] = true
	}
	if mustMoveStr && !moved[si] {
		if err := f.Headers.MoveSectionToEnd(si, SectionAlignment); err != nil {
			return err
		}
		moved[si] = true
	}

	// 7. Update the partial symbol tables: shndx through the change map,
	// then the value of every association whose section just moved.
	f.fixupSymbolTable(f.SymTab, changeMap, moved)
	f.fixupSymbolTable(f.DynSym, changeMap, moved)

	// 8. Fix up cross-references.
	f.fixupCrossReferences(di, si)

	// Relocate the section-header table itself if the newly placed
	// section data would otherwise overlap it: it is conventionally the
	// last thing in the file, so appending sections past the old EOF
	// requires moving it further out too.
	newEnd := f.Headers.FindGlobalFileOffsetEnd()
	if f.Headers.FileHeader.SHOff < newEnd {
		nw := uint64(class.codec().NWordSize())
		f.Headers.FileHeader.SHOff = alignUp(newEnd, nw)
	}

	// 9. Synthesise the new PT_LOAD covering every moved section.
	f.addLoadSegmentForMoved(moved)

	f.log("setRunPath: relocated sections to the end of the file and added a new PT_LOAD")
	return nil
}

// reindexAfterSort updates f.SymTab/f.DynSym.SectionIndex after a
// sort; the symbol-table
// section indices are fixed up by fixupSymbolTable using shndx, but the
// PartialSymbolTable.SectionIndex field (which section it was extracted
// from) must also follow the section it names.
func (f *FileWriterFile) reindexAfterSort(changeMap *SectionIndexChangeMap) {
	if f.SymTab != nil {
		f.SymTab.SectionIndex = changeMap.Translate(f.SymTab.SectionIndex)
	}
	if f.DynSym != nil {
		f.DynSym.SectionIndex = changeMap.Translate(f.DynSym.SectionIndex)
	}
}

// computeEvacuationSet walks sections in ascending file-offset order and
// collects every one whose on-disk bytes intersect the range the grown
// program-header table will claim, [phTableEnd, phTableEnd+need).
// Evacuating exactly those sections (plus whatever gaps lie between
// them) leaves the range free. An intersecting section without move
// semantics makes the whole edit impossible.
func (f *FileWriterFile) computeEvacuationSet(phTableEnd, need uint64) ([]int, error) {
	holeEnd := phTableEnd + need
	di := f.Headers.DynamicSectionHeaderIndex()
	si := f.Headers.DynStrSectionHeaderIndex()

	var evac []int
	// SectionHeaders is sorted by offset here: the caller just ran
	// SortSectionHeaderTableByFileOffset.
	for i, sh := range f.Headers.SectionHeaders {
		if sh.Type == SHTNull || sh.Type == SHTNoBits {
			continue
		}
		size := sh.Size
		// The pending edit has already written the new .dynamic/.dynstr
		// sizes into their headers, but the hole must clear the bytes
		// actually on disk, so those two use their original extents.
		if i == di {
			size = f.origDynSize
		}
		if i == si {
			size = f.origStrSize
		}
		if sh.Offset+size <= phTableEnd {
			continue
		}
		if sh.Offset >= holeEnd {
			break
		}
		if err := f.Headers.checkMovable(sh.Name); err != nil {
			return nil, errors.WithStack(&errs.MoveSectionError{
				Section: sh.Name,
				Reason:  "it occupies the bytes the grown program header table needs and has no move semantics",
			})
		}
		evac = append(evac, i)
	}
	return evac, nil
}

// fixupSymbolTable applies changeMap to every entry's Shndx, then
// rewrites Value to the new section address for any entry whose (now
// translated) section is in moved.
func (f *FileWriterFile) fixupSymbolTable(pst *PartialSymbolTable, changeMap *SectionIndexChangeMap, moved map[int]bool) {
	if pst == nil {
		return
	}
	for i := range pst.Entries {
		e := &pst.Entries[i]
		newShndx := changeMap.TranslateShndx(e.Shndx)
		e.Shndx = newShndx
		if moved[int(newShndx)] && int(newShndx) < len(f.Headers.SectionHeaders) {
			e.Value = f.Headers.SectionHeaders[newShndx].Addr
		}
	}
}

// fixupCrossReferences sets .got.plt[0] to .dynamic's current address,
// DT_STRTAB to .dynstr's and DT_GNU_HASH to .gnu.hash's. It writes them
// whenever the table or section is present; it does not check what
// those entries held before.
func (f *FileWriterFile) fixupCrossReferences(dynIdx, strIdx int) {
	if f.GotPlt != nil && dynIdx >= 0 {
		f.GotPlt.SetDynamicAddr(f.Headers.SectionHeaders[dynIdx].Addr)
	}
	if strIdx >= 0 {
		f.Dynamic.SetStringTableOffset(f.Headers.SectionHeaders[strIdx].Addr)
	}
	if f.GnuHash != nil {
		if gi := f.Headers.GnuHashSectionHeaderIndex(); gi >= 0 {
			f.Dynamic.SetGnuHashAddr(f.Headers.SectionHeaders[gi].Addr)
		}
	}
}

// addLoadSegmentForMoved synthesises a PT_LOAD covering every section
// index in moved, with page alignment and Read (+Write if .dynamic is
// among them) flags.
func (f *FileWriterFile) addLoadSegmentForMoved(moved map[int]bool) {
	if len(moved) == 0 {
		return
	}

	var minOffset, maxEnd uint64
	var minAddr uint64
	first := true
	writable := false
	for idx := range moved {
		if idx < 0 || idx >= len(f.Headers.SectionHeaders) {
			continue
		}
		sh := f.Headers.SectionHeaders[idx]
		if sh.Flags&SHFWrite != 0 {
			writable = true
		}
		if first || sh.Offset < minOffset {
			minOffset = sh.Offset
			minAddr = sh.Addr
		}
		if e := sh.Offset + sh.Size; first || e > maxEnd {
			maxEnd = e
		}
		first = false
	}

	flags := FlagRead
	if writable {
		flags |= FlagWrite
	}

	f.Headers.AddProgramHeader(ProgramHeader{
		Type:   PTLoad,
		Flags:  flags,
		Offset: minOffset,
		VAddr:  minAddr,
		PAddr:  minAddr,
		FileSz: maxEnd - minOffset,
		MemSz:  maxEnd - minOffset,
		Align:  f.Headers.PageSize(),
	})
}

// MinimumSizeToWriteFile returns the minimum byte-length a write surface
// must have to hold the edited model: the global file
// offset end after every edit.
func (f *FileWriterFile) MinimumSizeToWriteFile() uint64 {
	return f.Headers.FindGlobalFileOffsetEnd()
}

// OriginalDynstrRange returns the [offset, offset+size) the .dynstr
// section occupied before any edit, used by the writer to decide which
// bytes to NUL out.
func (f *FileWriterFile) OriginalDynstrRange() OffsetRange {
	return OffsetRange{Begin: f.origStrOffset, End: f.origStrOffset + f.origStrSize}
}

// DynstrMoved reports whether .dynstr now lives somewhere other than its
// original offset.
func (f *FileWriterFile) DynstrMoved() bool {
	si := f.Headers.DynStrSectionHeaderIndex()
	if si < 0 {
		return false
	}
	return f.Headers.SectionHeaders[si].Offset != f.origStrOffset
}

// DynamicMoved reports whether .dynamic now lives somewhere other than
// its original offset.
func (f *FileWriterFile) DynamicMoved() bool {
	di := f.Headers.DynamicSectionHeaderIndex()
	if di < 0 {
		return false
	}
	return f.Headers.SectionHeaders[di].Offset != f.origDynOffset
}
