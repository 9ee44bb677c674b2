package elf

import (
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

// NoteSection is one Elf_Nhdr entry plus its name and description words.
type NoteSection struct {
	Name      string
	Type      uint32
	DescWords []uint32
}

// NoteSectionTable is the ordered list of note sections, which all share
// one PT_NOTE segment: moving any one requires moving them all together.
type NoteSectionTable struct {
	Sections []NoteSectionEntry
}

// NoteSectionEntry pairs a note section's header with its decoded notes.
type NoteSectionEntry struct {
	Header SectionHeader
	Notes  []NoteSection
}

func decodeNoteSection(data bytespan.Span, id Ident, sh SectionHeader) ([]NoteSection, error) {
	order := id.DataFormat.codec()
	base := int(sh.Offset)
	end := base + int(sh.Size)

	var notes []NoteSection
	off := base
	for off < end {
		if !data.CanSubSpan(off, 12) {
			return nil, &errs.NoteSectionReadError{Detail: "truncated note header"}
		}
		nameSz := codec.GetWord(order, data, off)
		descSz := codec.GetWord(order, data, off+4)
		typ := codec.GetWord(order, data, off+8)
		off += 12

		nameEnd := off + int(align4(nameSz))
		if nameEnd > end || !data.CanSubSpan(off, int(nameSz)) {
			return nil, &errs.NoteSectionReadError{Detail: "note name past section end"}
		}
		raw := data.SubSpan(off, int(nameSz)).Bytes()
		name := ""
		for i, b := range raw {
			if b == 0 {
				name = string(raw[:i])
				break
			}
		}
		if name == "" && nameSz > 0 {
			name = string(raw)
		}
		off = nameEnd

		descWordCount := int(align4(descSz)) / 4
		if off+descWordCount*4 > end || !data.CanSubSpan(off, descWordCount*4) {
			return nil, &errs.NoteSectionReadError{Detail: "note description past section end"}
		}
		descWords := make([]uint32, descWordCount)
		for i := range descWords {
			descWords[i] = codec.GetWord(order, data, off)
			off += 4
		}

		notes = append(notes, NoteSection{Name: name, Type: typ, DescWords: descWords})
	}

	return notes, nil
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}
