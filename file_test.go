package binlink

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTestELF constructs a minimal, structurally valid ELF64 little-endian
// shared object on disk: file header, one PT_LOAD spanning the whole file,
// one PT_DYNAMIC, and a .dynstr/.dynamic/.shstrtab section triple carrying
// a DT_RUNPATH of runPath. It mirrors elf.buildSynthetic but is built with
// encoding/binary directly since this package cannot reach elf's unexported
// encoders, exercising the public Open/SetRunPath/Close round trip over a
// real file on disk per spec.md §5's "memory-map a file ... unmap when
// done" resource model.
func buildTestELF(t *testing.T, runPath string) string {
	t.Helper()
	const (
		ehSize  = 64
		phEnt   = 56
		phCount = 2
		shEnt   = 64
		shCount = 4
		base    = uint64(0x400000)
	)

	phOff := uint64(ehSize)
	dynstrOff := phOff + phCount*phEnt

	dynstr := []byte{0}
	runpathOffset := 0
	if runPath != "" {
		runpathOffset = len(dynstr)
		dynstr = append(dynstr, []byte(runPath)...)
		dynstr = append(dynstr, 0)
	}
	dynstrSize := uint64(len(dynstr))
	dynstrAddr := base + dynstrOff

	type dynEnt struct {
		tag int64
		val uint64
	}
	var entries []dynEnt
	entries = append(entries, dynEnt{tag: 5 /* DT_STRTAB */, val: dynstrAddr})
	if runPath != "" {
		entries = append(entries, dynEnt{tag: 29 /* DT_RUNPATH */, val: uint64(runpathOffset)})
	}
	entries = append(entries, dynEnt{tag: 0 /* DT_NULL */})
	dynSize := uint64(len(entries) * 16)
	dynamicOff := dynstrOff + dynstrSize

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

	out := make([]byte, fileEnd)
	le := binary.LittleEndian

	// e_ident
	copy(out[0:4], []byte{0x7f, 'E', 'L', 'F'})
	out[4] = 2 // ELFCLASS64
	out[5] = 1 // ELFDATA2LSB
	out[6] = 1 // EV_CURRENT
	out[7] = 0 // ELFOSABI_SYSV

	le.PutUint16(out[16:], 3) // e_type = ET_DYN
	le.PutUint16(out[18:], 62) // e_machine = EM_X86_64
	le.PutUint32(out[20:], 1)  // e_version
	// e_entry at 24, left 0
	le.PutUint64(out[32:], phOff)
	le.PutUint64(out[40:], shOff)
	// e_flags at 48
	le.PutUint16(out[52:], ehSize)
	le.PutUint16(out[54:], phEnt)
	le.PutUint16(out[56:], phCount)
	le.PutUint16(out[58:], shEnt)
	le.PutUint16(out[60:], shCount)
	le.PutUint16(out[62:], 3) // e_shstrndx

	// program header 0: PT_LOAD
	ph0 := out[phOff:]
	le.PutUint32(ph0[0:], 1)        // p_type = PT_LOAD
	le.PutUint32(ph0[4:], 7)        // p_flags = RWX
	le.PutUint64(ph0[8:], 0)        // p_offset
	le.PutUint64(ph0[16:], base)    // p_vaddr
	le.PutUint64(ph0[24:], base)    // p_paddr
	le.PutUint64(ph0[32:], fileEnd) // p_filesz
	le.PutUint64(ph0[40:], fileEnd) // p_memsz
	le.PutUint64(ph0[48:], 0x1000)  // p_align

	// program header 1: PT_DYNAMIC
	ph1 := out[phOff+phEnt:]
	le.PutUint32(ph1[0:], 2) // p_type = PT_DYNAMIC
	le.PutUint32(ph1[4:], 3) // p_flags = RW
	le.PutUint64(ph1[8:], dynamicOff)
	le.PutUint64(ph1[16:], base+dynamicOff)
	le.PutUint64(ph1[24:], base+dynamicOff)
	le.PutUint64(ph1[32:], dynSize)
	le.PutUint64(ph1[40:], dynSize)
	le.PutUint64(ph1[48:], 8)

	copy(out[dynstrOff:], dynstr)

	for i, e := range entries {
		base := dynamicOff + uint64(i*16)
		le.PutUint64(out[base:], uint64(e.tag))
		le.PutUint64(out[base+8:], e.val)
	}

	copy(out[shstrtabOff:], shstrtab)

	writeSH := func(idx int, nameIdx uint32, shType uint32, flags, addr, offset, size uint64, link, info uint32, addralign, entsize uint64) {
		b := out[shOff+uint64(idx)*shEnt:]
		le.PutUint32(b[0:], nameIdx)
		le.PutUint32(b[4:], shType)
		le.PutUint64(b[8:], flags)
		le.PutUint64(b[16:], addr)
		le.PutUint64(b[24:], offset)
		le.PutUint64(b[32:], size)
		le.PutUint32(b[40:], link)
		le.PutUint32(b[44:], info)
		le.PutUint64(b[48:], addralign)
		le.PutUint64(b[56:], entsize)
	}
	writeSH(0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	writeSH(1, dynstrNameIdx, 3 /* SHT_STRTAB */, 2 /* SHF_ALLOC */, dynstrAddr, dynstrOff, dynstrSize, 0, 0, 1, 0)
	writeSH(2, dynamicNameIdx, 6 /* SHT_DYNAMIC */, 3, base+dynamicOff, dynamicOff, dynSize, 1, 0, 8, 16)
	writeSH(3, shstrtabNameIdx, 3, 0, 0, shstrtabOff, shstrtabSize, 0, 0, 1, 0)

	path := filepath.Join(t.TempDir(), "synthetic.so")
	require.NoError(t, os.WriteFile(path, out, 0o644))
	return path
}

func TestOpenIdentifiesElfAndReadsRunPath(t *testing.T) {
	path := buildTestELF(t, "$ORIGIN/lib")

	ef, err := Open(path, nil)
	require.NoError(t, err)
	defer ef.Close()

	require.True(t, ef.IsElfFile())
	require.False(t, ef.IsPeFile())
	require.True(t, ef.IsExecutableOrSharedLibrary())
	require.Equal(t, "$ORIGIN/lib", ef.GetRunPath())
}

func TestSetRunPathPersistsAcrossReopen(t *testing.T) {
	path := buildTestELF(t, "$ORIGIN/lib")

	ef, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, ef.SetRunPath("/opt"))
	require.NoError(t, ef.Close())

	ef2, err := Open(path, nil)
	require.NoError(t, err)
	defer ef2.Close()
	require.Equal(t, "/opt", ef2.GetRunPath())
}

func TestSetRunPathGrowingPastMappingPersists(t *testing.T) {
	path := buildTestELF(t, "$ORIGIN/lib")
	longPath := make([]byte, 5000)
	for i := range longPath {
		longPath[i] = 'a' + byte(i%26)
	}

	ef, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, ef.SetRunPath(string(longPath)))
	require.NoError(t, ef.Close())

	ef2, err := Open(path, nil)
	require.NoError(t, err)
	defer ef2.Close()
	require.Equal(t, string(longPath), ef2.GetRunPath())
}

func TestGetPlatformOnOpenElf(t *testing.T) {
	path := buildTestELF(t, "$ORIGIN/lib")

	ef, err := Open(path, nil)
	require.NoError(t, err)
	defer ef.Close()

	p := ef.GetPlatform()
	require.Equal(t, OSLinux, p.OS)
	require.Equal(t, FormatELF, p.Format)
	require.Equal(t, CPUX86_64, p.CPU)
	// The synthetic binary is dynamically linked but carries no .interp.
	require.Equal(t, "", ef.GetProgramInterpreter())
}

func TestDetectPlatformClassifiesElf(t *testing.T) {
	path := buildTestELF(t, "")

	p, err := DetectPlatform(path)
	require.NoError(t, err)
	require.Equal(t, Platform{OS: OSLinux, Format: FormatELF, CPU: CPUX86_64}, p)
}

func TestOpenRejectsUnrecognisedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a binary"), 0o644))

	_, err := Open(path, nil)
	require.Error(t, err)
}
