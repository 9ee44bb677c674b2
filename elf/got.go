package elf

import (
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
)

// GlobalOffsetTable is the decoded contents of .got or .got.plt: an
// ordered array of addresses sized by class.
type GlobalOffsetTable struct {
	Entries []uint64
}

func decodeGlobalOffsetTable(data bytespan.Span, id Ident, sh SectionHeader) GlobalOffsetTable {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	nw := cls.NWordSize()

	count := int(sh.Size) / nw
	entries := make([]uint64, count)
	off := int(sh.Offset)
	for i := range entries {
		entries[i] = codec.GetNWord(order, cls, data, off)
		off += nw
	}
	return GlobalOffsetTable{Entries: entries}
}

func encodeGlobalOffsetTable(data []byte, id Ident, sh SectionHeader, got GlobalOffsetTable) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	nw := cls.NWordSize()

	off := int(sh.Offset)
	for _, v := range got.Entries {
		codec.PutNWord(order, cls, data, off, v)
		off += nw
	}
}

// DynamicAddr returns entry 0 of .got.plt, which per spec.md §3.8 and
// the GLOSSARY holds the virtual address of .dynamic, read by the
// dynamic loader at startup.
func (g *GlobalOffsetTable) DynamicAddr() (uint64, bool) {
	if len(g.Entries) == 0 {
		return 0, false
	}
	return g.Entries[0], true
}

// SetDynamicAddr rewrites entry 0 of .got.plt, used by the layout engine
// after a .dynamic move.
func (g *GlobalOffsetTable) SetDynamicAddr(addr uint64) {
	if len(g.Entries) > 0 {
		g.Entries[0] = addr
	}
}
