package elf

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

// DynamicTag is the d_tag field of a dynamic-section entry.
type DynamicTag int64

const (
	DTNull           DynamicTag = 0
	DTNeeded         DynamicTag = 1
	DTPltRelSz       DynamicTag = 2
	DTHash           DynamicTag = 4
	DTStrTab         DynamicTag = 5
	DTSymTab         DynamicTag = 6
	DTStrSz          DynamicTag = 10
	DTSymEnt         DynamicTag = 11
	DTInit           DynamicTag = 12
	DTFini           DynamicTag = 13
	DTSoName         DynamicTag = 14
	DTRPath          DynamicTag = 15
	DTSymbolic       DynamicTag = 16
	DTRela           DynamicTag = 7
	DTRelaSz         DynamicTag = 8
	DTRelaEnt        DynamicTag = 9
	DTInitArray      DynamicTag = 25
	DTFiniArray      DynamicTag = 26
	DTInitArraySz    DynamicTag = 27
	DTFiniArraySz    DynamicTag = 28
	DTFlags          DynamicTag = 30
	DTPreInitArray   DynamicTag = 32
	DTPreInitArraySz DynamicTag = 33
	DTRunpath        DynamicTag = 29
	DTFlags1         DynamicTag = 0x6ffffffb
	DTGnuHash        DynamicTag = 0x6ffffef5
)

// DynamicEntry is one DynamicStruct(tag, val_or_ptr) record.
type DynamicEntry struct {
	Tag DynamicTag
	Val uint64
}

func dynamicEntrySize(class Class) int {
	return 2 * class.codec().NWordSize()
}

// DynamicSection is the logical, ordered sequence of dynamic entries
// terminated by a DTNull tag, with its embedded string table (a
// byte-identical copy of .dynstr), per spec.md §3.6.
type DynamicSection struct {
	Entries []DynamicEntry
	StrTab  *StringTable
}

func decodeDynamicSection(data bytespan.Span, id Ident, base, size int, strTab *StringTable) (DynamicSection, error) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	entSize := dynamicEntrySize(id.Class)
	end := base + size

	var entries []DynamicEntry
	off := base
	for {
		if off+entSize > end {
			return DynamicSection{}, errors.WithStack(&errs.DynamicSectionReadError{
				Detail: "entry list is not DT_NULL-terminated within the section",
			})
		}
		tag := codec.GetSignedNWord(order, cls, data, off)
		val := codec.GetNWord(order, cls, data, off+cls.NWordSize())
		entries = append(entries, DynamicEntry{Tag: DynamicTag(tag), Val: val})
		off += entSize
		if DynamicTag(tag) == DTNull {
			break
		}
	}

	if strTab != nil {
		for _, e := range entries {
			switch e.Tag {
			case DTNeeded, DTSoName, DTRPath, DTRunpath:
				if e.Val >= uint64(strTab.Len()) {
					return DynamicSection{}, errors.WithStack(&errs.DynamicSectionReadError{
						Detail: "string-table offset past the end of .dynstr",
					})
				}
			}
		}
	}

	return DynamicSection{Entries: entries, StrTab: strTab}, nil
}

// EncodedSize returns the number of bytes the section occupies once
// re-serialised: one entry per current Entries element.
func (ds *DynamicSection) EncodedSize(class Class) int {
	return len(ds.Entries) * dynamicEntrySize(class)
}

func encodeDynamicSection(data []byte, id Ident, base int, ds *DynamicSection) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	entSize := dynamicEntrySize(id.Class)

	off := base
	for _, e := range ds.Entries {
		codec.PutNWord(order, cls, data, off, uint64(int64(e.Tag)))
		codec.PutNWord(order, cls, data, off+cls.NWordSize(), e.Val)
		off += entSize
	}
}

func (ds *DynamicSection) indexOf(tag DynamicTag) int {
	for i, e := range ds.Entries {
		if e.Tag == tag {
			return i
		}
	}
	return -1
}

// GetSoName returns the DTSoName string, or "" if absent.
func (ds *DynamicSection) GetSoName() string {
	if i := ds.indexOf(DTSoName); i >= 0 {
		s, err := ds.StrTab.Get(int(ds.Entries[i].Val))
		if err == nil {
			return s
		}
	}
	return ""
}

// GetNeededSharedLibraries returns every DTNeeded string, in file order,
// per spec.md §4.3 "Iteration order".
func (ds *DynamicSection) GetNeededSharedLibraries() []string {
	var out []string
	for _, e := range ds.Entries {
		if e.Tag == DTNeeded {
			if s, err := ds.StrTab.Get(int(e.Val)); err == nil {
				out = append(out, s)
			}
		}
	}
	return out
}

// GetRunPath returns the single DTRunpath value, or "" if absent. Per
// spec.md §3.6 and §9, multiple DT_RUNPATH entries are unsupported: only
// the first is read (the source's behaviour).
func (ds *DynamicSection) GetRunPath() string {
	if i := ds.indexOf(DTRunpath); i >= 0 {
		if s, err := ds.StrTab.Get(int(ds.Entries[i].Val)); err == nil {
			return s
		}
	}
	return ""
}

// HasRunPath reports whether a DTRunpath entry is present.
func (ds *DynamicSection) HasRunPath() bool {
	return ds.indexOf(DTRunpath) >= 0
}

// SetRunPath implements the five-case protocol of spec.md §4.5:
//
//  1. Locate the existing Runpath entry.
//  2. Absent + empty value: no-op.
//  3. Present + empty value: remove the entry; truncate the string table
//     if its string is at the tail, else leave a hole.
//  4. Absent + non-empty value: append the string, insert a new entry
//     immediately before the terminal Null.
//  5. Present + non-empty value: overwrite in place if it fits (same
//     length or shorter), else append a new string and rewrite the
//     entry's offset.
func (ds *DynamicSection) SetRunPath(value string) {
	idx := ds.indexOf(DTRunpath)

	if idx < 0 {
		if value == "" {
			return
		}
		offset := ds.StrTab.Append(value)
		ds.insertBeforeNull(DynamicEntry{Tag: DTRunpath, Val: uint64(offset)})
		return
	}

	oldOffset := int(ds.Entries[idx].Val)

	if value == "" {
		if ds.StrTab.IsTail(oldOffset) {
			ds.StrTab.TruncateTail(oldOffset)
		}
		ds.removeAt(idx)
		return
	}

	oldLen := ds.strTabEntryLen(oldOffset)
	if len(value) <= oldLen {
		wasTail := ds.StrTab.IsTail(oldOffset)
		ds.StrTab.OverwriteInPlace(oldOffset, value)
		if wasTail && len(value) < oldLen {
			ds.StrTab.TruncateTail(oldOffset + len(value) + 1)
		}
		return
	}

	newOffset := ds.StrTab.Append(value)
	ds.Entries[idx].Val = uint64(newOffset)
}

// strTabEntryLen returns the length, excluding the NUL, of the string
// previously stored at offset — used before OverwriteInPlace has run.
func (ds *DynamicSection) strTabEntryLen(offset int) int {
	return ds.StrTab.stringLen(offset)
}

func (ds *DynamicSection) insertBeforeNull(e DynamicEntry) {
	nullIdx := ds.indexOf(DTNull)
	if nullIdx < 0 {
		ds.Entries = append(ds.Entries, e, DynamicEntry{Tag: DTNull})
		return
	}
	ds.Entries = append(ds.Entries[:nullIdx], append([]DynamicEntry{e}, ds.Entries[nullIdx:]...)...)
}

func (ds *DynamicSection) removeAt(idx int) {
	ds.Entries = append(ds.Entries[:idx], ds.Entries[idx+1:]...)
}

// SetStringTableOffset rewrites the DTStrTab value, used by the layout
// engine after .dynstr moves.
func (ds *DynamicSection) SetStringTableOffset(addr uint64) {
	if i := ds.indexOf(DTStrTab); i >= 0 {
		ds.Entries[i].Val = addr
	}
}

// StringTableAddr returns the current DTStrTab value, 0 if absent.
func (ds *DynamicSection) StringTableAddr() uint64 {
	if i := ds.indexOf(DTStrTab); i >= 0 {
		return ds.Entries[i].Val
	}
	return 0
}

// SetGnuHashAddr rewrites the DTGnuHash value, used by the layout engine
// after .gnu.hash moves. It is a no-op if the tag is absent.
func (ds *DynamicSection) SetGnuHashAddr(addr uint64) {
	if i := ds.indexOf(DTGnuHash); i >= 0 {
		ds.Entries[i].Val = addr
	}
}

// GnuHashAddr returns the current DTGnuHash value, 0 if absent.
func (ds *DynamicSection) GnuHashAddr() (uint64, bool) {
	if i := ds.indexOf(DTGnuHash); i >= 0 {
		return ds.Entries[i].Val, true
	}
	return 0, false
}
