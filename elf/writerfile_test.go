package elf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/errs"
)

// openForEdit runs the full extraction pipeline over raw and
// wraps the result in a FileWriterFile, mirroring what file.go's loadElf
// does for a real mapped file.
func openForEdit(t *testing.T, raw []byte) *FileWriterFile {
	t.Helper()
	data := bytespan.New(raw)
	headers, err := ExtractAllHeaders(data)
	require.NoError(t, err)
	dyn, err := ExtractDynamicSection(data, headers)
	require.NoError(t, err)
	require.NotNil(t, dyn)
	return NewFileWriterFile(headers, dyn, nil, nil, nil, nil, nil, nil, nil, nil)
}

// S1 — no-op rewrite: re-asserting the current runpath must round-trip
// byte-identical.
func TestScenarioS1NoOpRewriteIsByteIdentical(t *testing.T) {
	bin := buildSynthetic("$ORIGIN/lib")
	fw := openForEdit(t, bin.raw)

	require.NoError(t, fw.SetRunPath("$ORIGIN/lib"))
	require.Equal(t, Edited, fw.State)

	out, err := WriteFile(bin.raw, fw)
	require.NoError(t, err)
	require.Equal(t, bin.raw, out)
}

// S2 — shorter runpath: .dynamic stays in place, .dynstr keeps its offset
// with a smaller size, and the freed tail is NUL.
func TestScenarioS2ShorterRunPathStaysInPlace(t *testing.T) {
	bin := buildSynthetic("$ORIGIN/lib")
	fw := openForEdit(t, bin.raw)
	origStrOff := fw.Headers.SectionHeaders[fw.Headers.DynStrSectionHeaderIndex()].Offset
	origStrSize := fw.Headers.SectionHeaders[fw.Headers.DynStrSectionHeaderIndex()].Size

	require.NoError(t, fw.SetRunPath("/opt"))

	require.False(t, fw.DynamicMoved())
	require.False(t, fw.DynstrMoved())
	si := fw.Headers.DynStrSectionHeaderIndex()
	require.Equal(t, origStrOff, fw.Headers.SectionHeaders[si].Offset)
	require.Less(t, fw.Headers.SectionHeaders[si].Size, origStrSize)

	out, err := WriteFile(bin.raw, fw)
	require.NoError(t, err)

	reread := mustExtractAll(out)
	dyn, err := ExtractDynamicSection(bytespan.New(out), reread)
	require.NoError(t, err)
	require.Equal(t, "/opt", dyn.GetRunPath())

	// Bytes between the new .dynstr end and the original end must be NUL.
	newEnd := fw.Headers.SectionHeaders[si].Offset + fw.Headers.SectionHeaders[si].Size
	for i := newEnd; i < origStrOff+origStrSize; i++ {
		require.Equalf(t, byte(0), out[i], "byte %d in the freed dynstr tail must be zeroed", i)
	}
}

// S3 — equal-length runpath: only the differing characters change; the
// string table's size is untouched.
func TestScenarioS3EqualLengthRunPathOnlyDiffersInPlace(t *testing.T) {
	bin := buildSynthetic("$ORIGIN/lib")
	fw := openForEdit(t, bin.raw)
	si := fw.Headers.DynStrSectionHeaderIndex()
	sizeBefore := fw.Headers.SectionHeaders[si].Size

	require.NoError(t, fw.SetRunPath("$ORIGIN/LIB"))
	require.Equal(t, sizeBefore, fw.Headers.SectionHeaders[si].Size)

	out, err := WriteFile(bin.raw, fw)
	require.NoError(t, err)
	require.Equal(t, len(bin.raw), len(out))

	diffs := 0
	for i := range bin.raw {
		if bin.raw[i] != out[i] {
			diffs++
		}
	}
	require.Equal(t, 3, diffs, "only the 3 changed characters (\"lib\" -> \"LIB\") of the runpath string should differ")

	reread := mustExtractAll(out)
	dyn, err := ExtractDynamicSection(bytespan.New(out), reread)
	require.NoError(t, err)
	require.Equal(t, "$ORIGIN/LIB", dyn.GetRunPath())
}

// S4 — much longer runpath: .dynstr must relocate past the original file
// end, a new PT_LOAD must appear, phnum increments, and every invariant of
// spec.md §8 must hold in the re-read result.
func TestScenarioS4LongRunPathRelocatesAndAddsLoadSegment(t *testing.T) {
	bin := buildSynthetic("$ORIGIN/lib")
	fw := openForEdit(t, bin.raw)
	phCountBefore := len(fw.Headers.ProgramHeaders)

	longPath := make([]byte, 10000)
	for i := range longPath {
		longPath[i] = 'a' + byte(i%26)
	}
	value := string(longPath)

	require.NoError(t, fw.SetRunPath(value))
	require.True(t, fw.DynstrMoved())
	require.Equal(t, phCountBefore+1, len(fw.Headers.ProgramHeaders))
	require.Equal(t, uint16(phCountBefore+1), fw.Headers.FileHeader.PHNum)

	out, err := WriteFile(bin.raw, fw)
	require.NoError(t, err)
	require.Greater(t, len(out), len(bin.raw))

	reread := mustExtractAll(out)
	require.Equal(t, int(reread.FileHeader.PHNum), len(reread.ProgramHeaders))
	require.Equal(t, int(reread.FileHeader.SHNum), len(reread.SectionHeaders))

	dyn, err := ExtractDynamicSection(bytespan.New(out), reread)
	require.NoError(t, err)
	require.Equal(t, value, dyn.GetRunPath())

	si := reread.DynStrSectionHeaderIndex()
	require.Equal(t, dyn.StringTableAddr(), reread.SectionHeaders[si].Addr, "DT_STRTAB must equal .dynstr's new address")

	for _, ph := range reread.ProgramHeaders {
		if ph.Type == PTLoad {
			require.True(t, ph.SatisfiesAlignment(), "every PT_LOAD must satisfy the vaddr/offset page congruence")
		}
	}

	// The new PT_LOAD covering the relocated .dynstr must itself be page
	// congruent.
	page := reread.PageSize()
	require.Equal(t, reread.SectionHeaders[si].Addr%page, reread.SectionHeaders[si].Offset%page)
}

// S5 — remove runpath: no Runpath tag survives, .dynstr shrinks by the
// removed string's length, and re-reading reports an empty runpath.
func TestScenarioS5RemoveRunPath(t *testing.T) {
	bin := buildSynthetic("$ORIGIN/lib")
	fw := openForEdit(t, bin.raw)
	si := fw.Headers.DynStrSectionHeaderIndex()
	sizeBefore := fw.Headers.SectionHeaders[si].Size

	require.NoError(t, fw.SetRunPath(""))

	require.False(t, fw.Dynamic.HasRunPath())
	require.Equal(t, sizeBefore-uint64(len("$ORIGIN/lib")+1), fw.Headers.SectionHeaders[si].Size)

	out, err := WriteFile(bin.raw, fw)
	require.NoError(t, err)

	reread := mustExtractAll(out)
	dyn, err := ExtractDynamicSection(bytespan.New(out), reread)
	require.NoError(t, err)
	require.Equal(t, "", dyn.GetRunPath())
	require.False(t, dyn.HasRunPath())
}

// Idempotence: applying the same edit twice yields the same output as
// applying it once.
func TestSetRunPathIdempotentAtWriterFileLevel(t *testing.T) {
	bin := buildSynthetic("$ORIGIN/lib")

	fwOnce := openForEdit(t, bin.raw)
	require.NoError(t, fwOnce.SetRunPath("/opt/app/lib"))
	onceOut, err := WriteFile(bin.raw, fwOnce)
	require.NoError(t, err)

	fwTwice := openForEdit(t, bin.raw)
	require.NoError(t, fwTwice.SetRunPath("/opt/app/lib"))
	require.NoError(t, fwTwice.SetRunPath("/opt/app/lib"))
	twiceOut, err := WriteFile(bin.raw, fwTwice)
	require.NoError(t, err)

	require.Equal(t, onceOut, twiceOut)
}

// Header-count invariant: phnum/shnum always equal the table sizes, across
// every scenario.
func TestHeaderCountInvariantAfterEveryScenario(t *testing.T) {
	values := []string{"$ORIGIN/lib", "/opt", "$ORIGIN/LIB", "", stringOfLen(10000)}
	for _, v := range values {
		bin := buildSynthetic("$ORIGIN/lib")
		fw := openForEdit(t, bin.raw)
		require.NoError(t, fw.SetRunPath(v))
		require.Equal(t, int(fw.Headers.FileHeader.PHNum), len(fw.Headers.ProgramHeaders))
		require.Equal(t, int(fw.Headers.FileHeader.SHNum), len(fw.Headers.SectionHeaders))
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

// When both .dynamic and .dynstr must relocate, the single synthesised
// PT_LOAD has to map every moved section: each one's addr-offset delta
// must equal the segment's own, or the loader places its bytes at the
// wrong address.
func TestGrowthMovingDynamicAndDynstrSharesOneLoadSegment(t *testing.T) {
	// No runpath yet: setting a long one grows the entry list (new
	// DT_RUNPATH) and the string table at once, so both sections move.
	// The gap keeps .dynamic clear of the range the grown program header
	// table claims, so only .dynstr is evacuated for it.
	bin := buildSyntheticGap("", 63)
	fw := openForEdit(t, bin.raw)
	phCountBefore := len(fw.Headers.ProgramHeaders)

	require.NoError(t, fw.SetRunPath(stringOfLen(10000)))
	require.True(t, fw.DynamicMoved())
	require.True(t, fw.DynstrMoved())
	require.Equal(t, phCountBefore+1, len(fw.Headers.ProgramHeaders))

	load := fw.Headers.ProgramHeaders[len(fw.Headers.ProgramHeaders)-1]
	require.Equal(t, PTLoad, load.Type)
	require.True(t, load.SatisfiesAlignment())
	require.True(t, load.Flags.Has(FlagWrite), ".dynamic is writable, so the covering segment must be too")

	for _, name := range []string{".dynamic", ".dynstr"} {
		sh := fw.Headers.SectionHeaders[fw.Headers.SectionHeaderIndexByName(name)]
		require.True(t, load.Covers(sh.Offset, sh.Size), "%s must lie inside the new PT_LOAD", name)
		require.Equal(t, load.VAddr-load.Offset, sh.Addr-sh.Offset,
			"%s must keep the segment's addr-offset delta so the linear mapping reaches it", name)
	}

	out, err := WriteFile(bin.raw, fw)
	require.NoError(t, err)
	reread := mustExtractAll(out)
	dyn, err := ExtractDynamicSection(bytespan.New(out), reread)
	require.NoError(t, err)
	require.Equal(t, stringOfLen(10000), dyn.GetRunPath())
}

// An edit that needs room no movable section can free poisons the writer
// file: the error is a MoveSectionError and every later mutation is
// refused.
func TestUnmovableSectionAtHeadPoisonsWriterFile(t *testing.T) {
	headers := &FileAllHeaders{
		FileHeader: FileHeader{
			Ident: Ident{MagicOK: true, Class: Class64, DataFormat: LSB, Version: 1, OSABI: OSABISystemV},
			Type:  TypeSharedObject,
			PHOff: 64,
			PHNum: 2,
			SHNum: 4,
		},
		ProgramHeaders: []ProgramHeader{
			{Type: PTLoad, Offset: 0, VAddr: synBase, FileSz: 4096, MemSz: 4096, Align: defaultPageSize},
			{Type: PTDynamic, Offset: 2048, VAddr: synBase + 2048, FileSz: 32, MemSz: 32, Align: 8},
		},
		SectionHeaders: []SectionHeader{
			{Type: SHTNull},
			// .text sits right after the program header table: the only
			// candidate to evacuate, and it has no move semantics.
			{Name: ".text", Type: SHTProgBits, Flags: SHFAlloc | SHFExecInstr, Addr: synBase + 176, Offset: 176, Size: 1024, AddrAlign: 16},
			{Name: ".dynstr", Type: SHTStrTab, Flags: SHFAlloc, Addr: synBase + 2000, Offset: 2000, Size: 1, AddrAlign: 1},
			{Name: ".dynamic", Type: SHTDynamic, Flags: SHFAlloc | SHFWrite, Addr: synBase + 2048, Offset: 2048, Size: 32, Link: 2, AddrAlign: 8, EntSize: 16},
		},
	}
	dyn := &DynamicSection{
		Entries: []DynamicEntry{{Tag: DTStrTab, Val: synBase + 2000}, {Tag: DTNull}},
		StrTab:  EmptyStringTable(),
	}
	fw := NewFileWriterFile(headers, dyn, nil, nil, nil, nil, nil, nil, nil, nil)

	err := fw.SetRunPath("/opt/very/long/path/that/does/not/fit")
	require.Error(t, err)
	require.Equal(t, Invalid, fw.State)

	var mse *errs.MoveSectionError
	require.ErrorAs(t, err, &mse)

	// Poisoned: even a trivially in-place edit is refused now.
	require.Error(t, fw.SetRunPath(""))
}

func TestMoveSectionToEndRejectsUnsupportedSection(t *testing.T) {
	bin := buildSynthetic("$ORIGIN/lib")
	headers := mustExtractAll(bin.raw)
	// .shstrtab has no move semantics implemented.
	idx := headers.SectionHeaderIndexByName(".shstrtab")
	require.GreaterOrEqual(t, idx, 0)
	err := headers.MoveSectionToEnd(idx, NextPage)
	require.Error(t, err)
}
