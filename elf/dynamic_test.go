package elf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/binlink/internal/bytespan"
)

func newDynamicSection(entries ...DynamicEntry) *DynamicSection {
	st := NewStringTable([]byte{0})
	return &DynamicSection{Entries: append(entries, DynamicEntry{Tag: DTNull}), StrTab: st}
}

func TestSetRunPathAbsentEmptyIsNoop(t *testing.T) {
	ds := newDynamicSection(DynamicEntry{Tag: DTNeeded, Val: 0})
	before := len(ds.Entries)

	ds.SetRunPath("")

	require.Len(t, ds.Entries, before)
	require.False(t, ds.HasRunPath())
}

func TestSetRunPathAbsentNonEmptyAppends(t *testing.T) {
	ds := newDynamicSection()

	ds.SetRunPath("/opt/app/lib")

	require.True(t, ds.HasRunPath())
	require.Equal(t, "/opt/app/lib", ds.GetRunPath())
	require.Equal(t, DTNull, ds.Entries[len(ds.Entries)-1].Tag, "Null tag stays terminal")
}

func TestSetRunPathPresentEmptyRemovesEntry(t *testing.T) {
	ds := newDynamicSection()
	ds.SetRunPath("/opt/app/lib")

	ds.SetRunPath("")

	require.False(t, ds.HasRunPath())
}

func TestSetRunPathPresentEmptyTruncatesTailString(t *testing.T) {
	ds := newDynamicSection()
	ds.SetRunPath("/opt/app/lib")
	sizeBefore := ds.StrTab.Len()

	ds.SetRunPath("")

	require.Less(t, ds.StrTab.Len(), sizeBefore)
}

func TestSetRunPathOverwritesInPlaceWhenItFits(t *testing.T) {
	ds := newDynamicSection()
	ds.SetRunPath("/opt/app/lib")
	offBefore := ds.Entries[ds.indexOf(DTRunpath)].Val

	ds.SetRunPath("/lib")

	require.Equal(t, "/lib", ds.GetRunPath())
	require.Equal(t, offBefore, ds.Entries[ds.indexOf(DTRunpath)].Val, "shorter value reuses the same slot")
	// The old string was the tail, so the table shrinks to just past the
	// new, shorter value.
	require.Equal(t, int(offBefore)+len("/lib")+1, ds.StrTab.Len())
}

func TestSetRunPathShorterNonTailLeavesHole(t *testing.T) {
	ds := newDynamicSection()
	ds.SetRunPath("/opt/app/lib")
	trailing := ds.StrTab.Append("libz.so.1")
	sizeBefore := ds.StrTab.Len()

	ds.SetRunPath("/lib")

	require.Equal(t, "/lib", ds.GetRunPath())
	require.Equal(t, sizeBefore, ds.StrTab.Len(), "strings after the rewritten one are never re-indexed")
	s, err := ds.StrTab.Get(trailing)
	require.NoError(t, err)
	require.Equal(t, "libz.so.1", s)
}

func TestSetRunPathAppendsNewStringWhenGrown(t *testing.T) {
	ds := newDynamicSection()
	ds.SetRunPath("/lib")
	sizeBefore := ds.StrTab.Len()

	ds.SetRunPath("/opt/app/lib/much/longer/path")

	require.Equal(t, "/opt/app/lib/much/longer/path", ds.GetRunPath())
	require.Greater(t, ds.StrTab.Len(), sizeBefore)
}

func TestSetRunPathIsIdempotent(t *testing.T) {
	ds := newDynamicSection()
	ds.SetRunPath("/opt/app/lib")
	snapshot := append([]DynamicEntry(nil), ds.Entries...)
	strBefore := append([]byte(nil), ds.StrTab.Bytes()...)

	ds.SetRunPath("/opt/app/lib")

	require.Equal(t, snapshot, ds.Entries)
	require.Equal(t, strBefore, ds.StrTab.Bytes())
}

func TestGetSoNameAndGetNeededSharedLibraries(t *testing.T) {
	st := NewStringTable([]byte{0})
	soOff := st.Append("libfoo.so.1")
	need1 := st.Append("libc.so.6")
	need2 := st.Append("libm.so.6")

	ds := &DynamicSection{
		StrTab: st,
		Entries: []DynamicEntry{
			{Tag: DTSoName, Val: uint64(soOff)},
			{Tag: DTNeeded, Val: uint64(need1)},
			{Tag: DTNeeded, Val: uint64(need2)},
			{Tag: DTNull},
		},
	}

	require.Equal(t, "libfoo.so.1", ds.GetSoName())
	require.Equal(t, []string{"libc.so.6", "libm.so.6"}, ds.GetNeededSharedLibraries())
}

func TestDynamicSectionEncodeDecodeRoundTrip(t *testing.T) {
	id := Ident{MagicOK: true, Class: Class64, DataFormat: LSB, Version: 1, OSABI: OSABISystemV}
	ds := newDynamicSection(DynamicEntry{Tag: DTNeeded, Val: 1})
	ds.SetRunPath("/opt/lib")

	size := ds.EncodedSize(id.Class)
	buf := make([]byte, size)
	encodeDynamicSection(buf, id, 0, ds)

	got, err := decodeDynamicSection(bytespan.New(buf), id, 0, size, ds.StrTab)
	require.NoError(t, err)
	require.Equal(t, ds.Entries, got.Entries)
}

func TestDecodeDynamicSectionRejectsMissingNullTerminator(t *testing.T) {
	id := Ident{MagicOK: true, Class: Class64, DataFormat: LSB, Version: 1, OSABI: OSABISystemV}
	// A single DT_NEEDED entry and no DT_NULL before the section ends.
	buf := make([]byte, dynamicEntrySize(Class64))
	buf[0] = 1

	_, err := decodeDynamicSection(bytespan.New(buf), id, 0, len(buf), EmptyStringTable())
	require.Error(t, err)
}
