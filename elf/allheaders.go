package elf

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/errs"
)

// Alignment selects how MoveSectionToEnd aligns a relocated section.
type Alignment int

const (
	// NextPage rounds up to the page size, used for the first section
	// moved in a batch so it begins on a fresh page.
	NextPage Alignment = iota
	// SectionAlignment rounds up to the section's own sh_addralign,
	// used for subsequent sections in the same batch.
	SectionAlignment
)

const defaultPageSize = 0x1000

// FileAllHeaders is the authoritative aggregate of the file header, the
// program-header table, and the section-header table. It
// owns every index lookup and every header mutation that follows a
// section move.
type FileAllHeaders struct {
	FileHeader     FileHeader
	ProgramHeaders []ProgramHeader
	SectionHeaders []SectionHeader

	// FallbackPageSize is consulted by PageSize when no PT_LOAD segment
	// declares an alignment. Zero means the 4 KiB default.
	FallbackPageSize uint64
}

// syncCounts keeps FileHeader.{PHNum,SHNum} equal to the sizes of the two
// tables, the invariant spec.md §4.4 requires setters to maintain as a
// side effect.
func (h *FileAllHeaders) syncCounts() {
	h.FileHeader.PHNum = uint16(len(h.ProgramHeaders))
	h.FileHeader.SHNum = uint16(len(h.SectionHeaders))
}

// PageSize returns the page alignment in force for this file: the Align
// field of its first PT_LOAD segment, or defaultPageSize if there is
// none.
func (h *FileAllHeaders) PageSize() uint64 {
	for _, ph := range h.ProgramHeaders {
		if ph.Type == PTLoad && ph.Align > 1 {
			return ph.Align
		}
	}
	if h.FallbackPageSize > 0 {
		return h.FallbackPageSize
	}
	return defaultPageSize
}

// SectionHeaderIndexByName returns the index of the section named name,
// or -1.
func (h *FileAllHeaders) SectionHeaderIndexByName(name string) int {
	for i, sh := range h.SectionHeaders {
		if sh.Name == name {
			return i
		}
	}
	return -1
}

// ProgramHeaderIndexByType returns the index of the first program header
// of type t, or -1.
func (h *FileAllHeaders) ProgramHeaderIndexByType(t ProgramHeaderType) int {
	for i, ph := range h.ProgramHeaders {
		if ph.Type == t {
			return i
		}
	}
	return -1
}

// DynamicSectionHeaderIndex returns the index of .dynamic, or -1.
func (h *FileAllHeaders) DynamicSectionHeaderIndex() int {
	for i, sh := range h.SectionHeaders {
		if sh.Type == SHTDynamic && sh.Name == ".dynamic" {
			return i
		}
	}
	return -1
}

// DynStrSectionHeaderIndex returns the index of the string table the
// dynamic section's sh_link field points to (.dynstr), or -1.
func (h *FileAllHeaders) DynStrSectionHeaderIndex() int {
	di := h.DynamicSectionHeaderIndex()
	if di < 0 {
		return -1
	}
	link := int(h.SectionHeaders[di].Link)
	if link <= 0 || link >= len(h.SectionHeaders) {
		return h.SectionHeaderIndexByName(".dynstr")
	}
	return link
}

// DynamicProgramHeaderIndex returns the index of the PT_DYNAMIC program
// header, or -1.
func (h *FileAllHeaders) DynamicProgramHeaderIndex() int {
	return h.ProgramHeaderIndexByType(PTDynamic)
}

// InterpSectionHeaderIndex returns the index of .interp, or -1.
func (h *FileAllHeaders) InterpSectionHeaderIndex() int {
	return h.SectionHeaderIndexByName(".interp")
}

// InterpProgramHeaderIndex returns the index of the PT_INTERP program
// header, or -1.
func (h *FileAllHeaders) InterpProgramHeaderIndex() int {
	return h.ProgramHeaderIndexByType(PTInterp)
}

// GnuHashSectionHeaderIndex returns the index of .gnu.hash, or -1.
func (h *FileAllHeaders) GnuHashSectionHeaderIndex() int {
	return h.SectionHeaderIndexByName(".gnu.hash")
}

// GotSectionHeaderIndex returns the index of .got, or -1.
func (h *FileAllHeaders) GotSectionHeaderIndex() int {
	return h.SectionHeaderIndexByName(".got")
}

// GotPltSectionHeaderIndex returns the index of .got.plt, or -1.
func (h *FileAllHeaders) GotPltSectionHeaderIndex() int {
	return h.SectionHeaderIndexByName(".got.plt")
}

// PHdrProgramHeaderIndex returns the index of the PT_PHDR program
// header, or -1.
func (h *FileAllHeaders) PHdrProgramHeaderIndex() int {
	return h.ProgramHeaderIndexByType(PTPHdr)
}

// NoteProgramHeaderIndex returns the index of the PT_NOTE program
// header, or -1.
func (h *FileAllHeaders) NoteProgramHeaderIndex() int {
	return h.ProgramHeaderIndexByType(PTNote)
}

// GnuRelRoProgramHeaderIndex returns the index of the PT_GNU_RELRO
// program header, or -1.
func (h *FileAllHeaders) GnuRelRoProgramHeaderIndex() int {
	return h.ProgramHeaderIndexByType(PTGnuRelRo)
}

// NoteSectionHeaderIndices returns the indices of every SHT_NOTE section,
// in file order — the group that shares one PT_NOTE segment per
// spec.md §3.10.
func (h *FileAllHeaders) NoteSectionHeaderIndices() []int {
	var out []int
	for i, sh := range h.SectionHeaders {
		if sh.Type == SHTNote {
			out = append(out, i)
		}
	}
	return out
}

// FindGlobalFileOffsetEnd returns the first byte offset past every
// section and program header's file range — where a newly moved section
// may safely be appended.
func (h *FileAllHeaders) FindGlobalFileOffsetEnd() uint64 {
	var end uint64
	for _, sh := range h.SectionHeaders {
		if sh.Type == SHTNoBits {
			continue
		}
		if e := sh.Offset + sh.Size; e > end {
			end = e
		}
	}
	for _, ph := range h.ProgramHeaders {
		if e := ph.Offset + ph.FileSz; e > end {
			end = e
		}
	}
	if e := h.FileHeader.SHOff + uint64(len(h.SectionHeaders))*uint64(sectionHeaderEntrySize(h.FileHeader.Ident.Class)); e > end {
		end = e
	}
	if e := h.FileHeader.PHOff + uint64(len(h.ProgramHeaders))*uint64(programHeaderEntrySize(h.FileHeader.Ident.Class)); e > end {
		end = e
	}
	return end
}

// FindGlobalVirtualAddressEnd returns the first virtual address past
// every PT_LOAD segment's memory range and every allocated section's
// address range. Sections matter too: a section just moved to the end of
// the file has a new address before the PT_LOAD covering it exists, and
// the next section moved in the same batch must land above it.
func (h *FileAllHeaders) FindGlobalVirtualAddressEnd() uint64 {
	var end uint64
	for _, ph := range h.ProgramHeaders {
		if ph.Type != PTLoad {
			continue
		}
		if e := ph.VAddr + ph.MemSz; e > end {
			end = e
		}
	}
	for _, sh := range h.SectionHeaders {
		if sh.Flags&SHFAlloc == 0 {
			continue
		}
		if e := sh.Addr + sh.Size; e > end {
			end = e
		}
	}
	return end
}

// alignUp rounds n up to the next multiple of align. align == 0 means no
// alignment constraint.
func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

// MoveSectionToEnd recomputes idx's Offset (past the current global file
// end, rounded up per alignment) and Addr (restoring page congruence
// with the new Offset), then propagates the new Offset/Addr/Size to any
// program header that covers exactly this section: PT_DYNAMIC for
// .dynamic, PT_INTERP for .interp, PT_NOTE for the note group.
func (h *FileAllHeaders) MoveSectionToEnd(idx int, alignment Alignment) error {
	if idx < 0 || idx >= len(h.SectionHeaders) {
		return errors.WithStack(&errs.MoveSectionError{Section: "?", Reason: "section index out of range"})
	}
	sh := &h.SectionHeaders[idx]
	if err := h.checkMovable(sh.Name); err != nil {
		return err
	}

	page := h.PageSize()
	var align uint64
	switch alignment {
	case NextPage:
		align = page
	case SectionAlignment:
		align = sh.AddrAlign
		if align == 0 {
			align = 1
		}
	}

	newOffset := alignUp(h.FindGlobalFileOffsetEnd(), align)
	// The new address starts past every mapped byte, aligned the same way
	// as the offset, then is bumped within the page until
	// (addr mod page) == (offset mod page) holds again. When sections are
	// moved back to back the file-end and address-end cursors advance in
	// lockstep, so every section of the batch keeps the same addr-offset
	// delta and one PT_LOAD can cover them all.
	newAddr := alignUp(h.FindGlobalVirtualAddressEnd(), align)
	if page > 1 {
		newAddr += (newOffset%page + page - newAddr%page) % page
	}

	oldOffset, oldSize := sh.Offset, sh.Size
	sh.Offset = newOffset
	sh.Addr = newAddr

	h.propagateSectionMove(sh.Name, oldOffset, oldSize, newOffset, newAddr)
	return nil
}

// checkMovable reports MoveSectionError for any section this module does
// not implement move semantics for, per the Invalid state of spec.md §4.9.
func (h *FileAllHeaders) checkMovable(name string) error {
	switch name {
	case ".interp", ".dynamic", ".dynstr", ".gnu.hash":
		return nil
	}
	for _, sh := range h.SectionHeaders {
		if sh.Name == name && sh.Type == SHTNote {
			return nil
		}
	}
	return errors.WithStack(&errs.MoveSectionError{
		Section: name,
		Reason:  "move semantics are only implemented for .interp, the note group, .gnu.hash, .dynamic, and .dynstr",
	})
}

// propagateSectionMove updates the one program header, if any, whose
// file range covered exactly [oldOffset, oldOffset+oldSize) for the
// section named name.
func (h *FileAllHeaders) propagateSectionMove(name string, oldOffset, oldSize, newOffset, newAddr uint64) {
	var wantType ProgramHeaderType
	switch name {
	case ".dynamic":
		wantType = PTDynamic
	case ".interp":
		wantType = PTInterp
	default:
		if sh := h.sectionHeaderNamed(name); sh != nil && sh.Type == SHTNote {
			wantType = PTNote
		} else {
			return
		}
	}

	for i := range h.ProgramHeaders {
		ph := &h.ProgramHeaders[i]
		if ph.Type != wantType {
			continue
		}
		if ph.Offset == oldOffset && ph.FileSz == oldSize {
			ph.Offset = newOffset
			ph.VAddr = newAddr
			ph.PAddr = newAddr
			return
		}
	}
}

func (h *FileAllHeaders) sectionHeaderNamed(name string) *SectionHeader {
	if i := h.SectionHeaderIndexByName(name); i >= 0 {
		return &h.SectionHeaders[i]
	}
	return nil
}

// MoveNoteSectionsToEnd moves every SHT_NOTE section contiguously to the
// end of the file and rebuilds the PT_NOTE segment's bounds to cover the
// whole group.
func (h *FileAllHeaders) MoveNoteSectionsToEnd(alignment Alignment) error {
	indices := h.NoteSectionHeaderIndices()
	if len(indices) == 0 {
		return nil
	}

	page := h.PageSize()
	align := page
	if alignment == SectionAlignment {
		if a := h.SectionHeaders[indices[0]].AddrAlign; a > 0 {
			align = a
		}
	}

	groupStart := alignUp(h.FindGlobalFileOffsetEnd(), align)
	addrBase := alignUp(h.FindGlobalVirtualAddressEnd(), align)
	if page > 1 {
		addrBase += (groupStart%page + page - addrBase%page) % page
	}

	offset := groupStart
	addr := addrBase
	firstOffset, firstAddr := offset, addr
	var totalSize uint64

	for _, idx := range indices {
		sh := &h.SectionHeaders[idx]
		sh.Offset = offset
		sh.Addr = addr
		offset += sh.Size
		addr += sh.Size
		totalSize += sh.Size
	}

	if ni := h.NoteProgramHeaderIndex(); ni >= 0 {
		ph := &h.ProgramHeaders[ni]
		ph.Offset = firstOffset
		ph.VAddr = firstAddr
		ph.PAddr = firstAddr
		ph.FileSz = totalSize
		ph.MemSz = totalSize
	}

	return nil
}

// SortSectionHeaderTableByFileOffset stable-sorts the section-header
// table by Offset, repairing every Link/Info that is a section-header
// index by remembering the original links by name before the sort and
// looking them up after. It returns the index-change map.
func (h *FileAllHeaders) SortSectionHeaderTableByFileOffset() *SectionIndexChangeMap {
	type linkedBy struct {
		linkName string
		hasLink  bool
		infoIsSh bool
		infoName string
	}

	n := len(h.SectionHeaders)
	links := make([]linkedBy, n)
	for i, sh := range h.SectionHeaders {
		lb := linkedBy{}
		if sh.Link > 0 && int(sh.Link) < n {
			lb.linkName = h.SectionHeaders[sh.Link].Name
			lb.hasLink = true
		}
		switch sh.Type {
		case SHTRel, SHTRela:
			if sh.Info > 0 && int(sh.Info) < n {
				lb.infoIsSh = true
				lb.infoName = h.SectionHeaders[sh.Info].Name
			}
		}
		links[i] = lb
	}

	type indexed struct {
		sh   SectionHeader
		lb   linkedBy
		old  int
	}
	tmp := make([]indexed, n)
	for i, sh := range h.SectionHeaders {
		tmp[i] = indexed{sh: sh, lb: links[i], old: i}
	}

	sort.SliceStable(tmp, func(i, j int) bool {
		return tmp[i].sh.Offset < tmp[j].sh.Offset
	})

	changeMap := newSectionIndexChangeMap(n)
	newIndexByName := make(map[string]int, n)
	for newIdx, t := range tmp {
		changeMap.set(t.old, newIdx)
		newIndexByName[t.sh.Name] = newIdx
	}

	newHeaders := make([]SectionHeader, n)
	for newIdx, t := range tmp {
		sh := t.sh
		if t.lb.hasLink {
			if ni, ok := newIndexByName[t.lb.linkName]; ok {
				sh.Link = uint32(ni)
			}
		}
		if t.lb.infoIsSh {
			if ni, ok := newIndexByName[t.lb.infoName]; ok {
				sh.Info = uint32(ni)
			}
		}
		newHeaders[newIdx] = sh
	}

	h.SectionHeaders = newHeaders
	if int(h.FileHeader.SHStrNdx) < n {
		h.FileHeader.SHStrNdx = uint16(changeMap.Translate(int(h.FileHeader.SHStrNdx)))
	}
	return changeMap
}

// AddProgramHeader appends ph to the program-header table. If PT_PHDR is
// present, its FileSz/MemSz are extended to cover the new entry; PHNum is
// recomputed.
func (h *FileAllHeaders) AddProgramHeader(ph ProgramHeader) {
	h.ProgramHeaders = append(h.ProgramHeaders, ph)
	entSize := uint64(programHeaderEntrySize(h.FileHeader.Ident.Class))
	if pi := h.PHdrProgramHeaderIndex(); pi >= 0 {
		h.ProgramHeaders[pi].FileSz += entSize
		h.ProgramHeaders[pi].MemSz += entSize
	}
	h.syncCounts()
}
