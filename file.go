package binlink

import (
	"os"

	"github.com/pkg/errors"

	"github.com/arc-language/binlink/elf"
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/errs"
	"github.com/arc-language/binlink/internal/mmap"
	"github.com/arc-language/binlink/pe"
)

// fileKind distinguishes which format-specific decoder ExecutableFile is
// holding.
type fileKind int

const (
	kindUnknown fileKind = iota
	kindElf
	kindPe
)

// ExecutableFile is the format-agnostic facade spec.md §6.3 describes:
// open a binary once, ask what it is, read its linkage metadata, and —
// for ELF only — edit its run path. PE support is read-only, per
// SPEC_FULL.md §1, which states that PE is read-only.
type ExecutableFile struct {
	path    string
	osFile  *os.File
	mapping *mmap.Mapping
	logger  Logger

	kind fileKind

	elfWriter *elf.FileWriterFile
	peFile    *pe.File
	peData    bytespan.Span
}

// Open memory-maps path read-write and identifies it as ELF or PE. For
// an ELF file it eagerly decodes every model SetRunPath might need to
// touch; for a PE file it only decodes the header chain, since PE
// editing is out of scope.
func Open(path string, logger Logger) (*ExecutableFile, error) {
	if logger == nil {
		logger = NopLogger{}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	mapping, err := mmap.Open(f, mmap.ReadWrite)
	if err != nil {
		f.Close()
		return nil, errors.WithStack(err)
	}

	ef := &ExecutableFile{path: path, osFile: f, mapping: mapping, logger: logger}
	data := bytespan.New(mapping.Data())

	if id, err := elf.ExtractIdent(data); err == nil && id.IsValid() {
		if err := ef.loadElf(data); err != nil {
			ef.Close()
			return nil, err
		}
		return ef, nil
	}

	if pf, err := pe.Extract(data); err == nil {
		ef.kind = kindPe
		ef.peFile = pf
		ef.peData = data
		return ef, nil
	}

	ef.Close()
	return nil, errors.WithStack(&errs.InvalidMagicType{Detail: "neither a recognised ELF nor PE header"})
}

func (ef *ExecutableFile) loadElf(data bytespan.Span) error {
	headers, err := elf.ExtractAllHeaders(data)
	if err != nil {
		return err
	}
	dynamic, err := elf.ExtractDynamicSection(data, headers)
	if err != nil {
		return err
	}
	symtab, err := elf.ExtractPartialSymbolTable(data, headers, ".symtab")
	if err != nil {
		return err
	}
	dynsym, err := elf.ExtractPartialSymbolTable(data, headers, ".dynsym")
	if err != nil {
		return err
	}
	got, err := elf.ExtractGlobalOffsetTable(data, headers, ".got")
	if err != nil {
		return err
	}
	gotPlt, err := elf.ExtractGlobalOffsetTable(data, headers, ".got.plt")
	if err != nil {
		return err
	}
	interp, err := elf.ExtractProgramInterpreter(data, headers)
	if err != nil {
		return err
	}
	symCount := elf.CountSymbolTableEntries(headers, ".dynsym")
	gnuHash, err := elf.ExtractGnuHashTable(data, headers, symCount)
	if err != nil {
		return err
	}
	notes, err := elf.ExtractNoteSectionTable(data, headers)
	if err != nil {
		return err
	}

	ef.kind = kindElf
	ef.elfWriter = elf.NewFileWriterFile(headers, dynamic, symtab, dynsym, got, gotPlt, interp, gnuHash, notes, ef.logger)
	return nil
}

// IsElfFile reports whether Open identified this file as ELF.
func (ef *ExecutableFile) IsElfFile() bool { return ef.kind == kindElf }

// IsPeFile reports whether Open identified this file as PE/COFF.
func (ef *ExecutableFile) IsPeFile() bool { return ef.kind == kindPe }

// IsExecutableOrSharedLibrary reports whether the file's header chain
// describes an executable or shared-library image rather than some
// other object this module only partially understands.
func (ef *ExecutableFile) IsExecutableOrSharedLibrary() bool {
	switch ef.kind {
	case kindElf:
		t := ef.elfWriter.Headers.FileHeader.Type
		return t == elf.TypeExec || t == elf.TypeSharedObject
	case kindPe:
		return ef.peFile.Coff.IsExecutableImage()
	default:
		return false
	}
}

// ContainsDebugSymbols reports whether the file carries a debug-info
// section, per SPEC_FULL.md §12.
func (ef *ExecutableFile) ContainsDebugSymbols() bool {
	switch ef.kind {
	case kindElf:
		return ef.elfWriter.Headers.ContainsDebugSymbols()
	case kindPe:
		return ef.peFile.ContainsDebugSymbols()
	default:
		return false
	}
}

// GetPlatform classifies the already-open file the same way
// DetectPlatform classifies a path: {OS, Format, CPU} from the header
// chain alone.
func (ef *ExecutableFile) GetPlatform() Platform {
	switch ef.kind {
	case kindElf:
		return platformFromElf(ef.elfWriter.Headers.FileHeader.Ident, ef.elfWriter.Headers.FileHeader)
	case kindPe:
		return platformFromPe(ef.peFile.Coff)
	default:
		return Platform{}
	}
}

// GetProgramInterpreter returns the ELF .interp path (the dynamic
// linker), or "" for a PE file or a statically linked ELF.
func (ef *ExecutableFile) GetProgramInterpreter() string {
	if ef.kind != kindElf || ef.elfWriter.Interp == nil {
		return ""
	}
	return ef.elfWriter.Interp.Path
}

// GetSoName returns the ELF DT_SONAME string, or "" for a PE file or a
// file with no .dynamic section.
func (ef *ExecutableFile) GetSoName() string {
	if ef.kind != kindElf || ef.elfWriter.Dynamic == nil {
		return ""
	}
	return ef.elfWriter.Dynamic.GetSoName()
}

// GetNeededSharedLibraries returns the shared libraries this file
// declares a load-time dependency on, in file order.
func (ef *ExecutableFile) GetNeededSharedLibraries() ([]string, error) {
	switch ef.kind {
	case kindElf:
		if ef.elfWriter.Dynamic == nil {
			return nil, nil
		}
		return ef.elfWriter.Dynamic.GetNeededSharedLibraries(), nil
	case kindPe:
		return ef.peFile.GetNeededSharedLibraries(ef.peData)
	default:
		return nil, nil
	}
}

// GetRunPath returns the ELF DT_RUNPATH value, or "" for a PE file or a
// file with no .dynamic section.
func (ef *ExecutableFile) GetRunPath() string {
	if ef.kind != kindElf || ef.elfWriter.Dynamic == nil {
		return ""
	}
	return ef.elfWriter.Dynamic.GetRunPath()
}

// SetRunPath edits the ELF run path per spec.md §4.5/§4.6. It returns an
// error for a PE file, which this module never mutates.
func (ef *ExecutableFile) SetRunPath(value string) error {
	if ef.kind != kindElf {
		return errors.WithStack(errs.NewWriteError("run path editing is only implemented for ELF files", nil))
	}
	return ef.elfWriter.SetRunPath(value)
}

// Close writes back any pending ELF edit, flushes and unmaps the file,
// and closes the underlying file descriptor. It is safe to call exactly
// once.
func (ef *ExecutableFile) Close() error {
	var writeErr error
	if ef.kind == kindElf && ef.elfWriter != nil && ef.elfWriter.State == elf.Edited {
		writeErr = ef.flushElfEdit()
	}

	var mapErr, fileErr error
	if ef.mapping != nil {
		mapErr = ef.mapping.Close()
		ef.mapping = nil
	}
	if ef.osFile != nil {
		fileErr = ef.osFile.Close()
		ef.osFile = nil
	}

	if writeErr != nil {
		return writeErr
	}
	if mapErr != nil {
		return errors.WithStack(mapErr)
	}
	return errors.WithStack(fileErr)
}

// flushElfEdit re-serialises the edited model and writes it back,
// growing the backing file first if the edit needed more room than the
// current mapping covers.
func (ef *ExecutableFile) flushElfEdit() error {
	original := ef.mapping.Data()
	out, err := elf.WriteFile(original, ef.elfWriter)
	if err != nil {
		return err
	}

	if len(out) <= ef.mapping.Len() {
		copy(ef.mapping.Data(), out)
		return errors.WithStack(ef.mapping.Flush())
	}

	// The edit grew the file past the original mapping: unmap, truncate
	// the backing file to the new size, and remap before writing.
	if err := ef.mapping.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := ef.osFile.Truncate(int64(len(out))); err != nil {
		return errors.WithStack(err)
	}
	mapping, err := mmap.Open(ef.osFile, mmap.ReadWrite)
	if err != nil {
		return errors.WithStack(err)
	}
	ef.mapping = mapping
	copy(ef.mapping.Data(), out)
	return errors.WithStack(ef.mapping.Flush())
}
