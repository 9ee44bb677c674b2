package elf

// SectionIndexChangeMap records, after SortSectionHeaderTableByFileOffset
// re-sorts the section-header table, how each old index maps to its new
// index — consulted by every component that stores a section-header
// index (symbol table st_shndx, dynamic-section link fixups) so it can
// follow the move.
type SectionIndexChangeMap struct {
	oldToNew map[int]int
}

func newSectionIndexChangeMap(n int) *SectionIndexChangeMap {
	return &SectionIndexChangeMap{oldToNew: make(map[int]int, n)}
}

func (m *SectionIndexChangeMap) set(oldIdx, newIdx int) {
	m.oldToNew[oldIdx] = newIdx
}

// Translate returns the new index of a section whose old index was
// oldIdx. If oldIdx is unknown to the map (no re-sort has happened, or
// the index is out of range) it is returned unchanged.
func (m *SectionIndexChangeMap) Translate(oldIdx int) int {
	if m == nil {
		return oldIdx
	}
	if newIdx, ok := m.oldToNew[oldIdx]; ok {
		return newIdx
	}
	return oldIdx
}

// TranslateShndx applies Translate to a 16-bit section-header index,
// leaving the reserved SHN_UNDEF (0) and SHN_ABS (0xfff1) values alone.
func (m *SectionIndexChangeMap) TranslateShndx(old uint16) uint16 {
	if old == 0 || old >= 0xff00 {
		return old
	}
	return uint16(m.Translate(int(old)))
}
