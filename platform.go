package binlink

import (
	"os"

	"github.com/pkg/errors"

	"github.com/arc-language/binlink/elf"
	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/mmap"
	"github.com/arc-language/binlink/pe"
)

// OS is the operating system a binary's header chain implies.
type OS int

const (
	OSUnknown OS = iota
	OSLinux
	OSWindows
)

// Format names which object format a Platform was detected from.
type Format int

const (
	FormatUnknown Format = iota
	FormatELF
	FormatPE
)

// CPU is the target instruction set a binary's header chain implies.
type CPU int

const (
	CPUUnknown CPU = iota
	CPUX86_32
	CPUX86_64
)

// Platform is the coarse-grained {OS, Format, CPU} triple getPlatform()
// reports. An OSABI or machine value it cannot name collapses to the
// Unknown member of that field rather than causing an error.
type Platform struct {
	OS     OS
	Format Format
	CPU    CPU
}

// DetectPlatform opens path read-only and classifies it without decoding
// anything beyond the header chain, per FileReader.h's machine-type
// switch.
func DetectPlatform(path string) (Platform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Platform{}, errors.WithStack(err)
	}
	defer f.Close()

	mapping, err := mmap.Open(f, mmap.ReadOnly)
	if err != nil {
		return Platform{}, errors.WithStack(err)
	}
	defer mapping.Close()

	data := bytespan.New(mapping.Data())

	if id, err := elf.ExtractIdent(data); err == nil && id.IsValid() {
		fh, err := elf.ExtractFileHeader(data, id)
		if err != nil {
			return Platform{}, err
		}
		return platformFromElf(id, fh), nil
	}

	if pf, err := pe.Extract(data); err == nil {
		return platformFromPe(pf.Coff), nil
	}

	return Platform{}, nil
}

func platformFromElf(id elf.Ident, fh elf.FileHeader) Platform {
	p := Platform{Format: FormatELF}

	switch id.OSABI {
	case elf.OSABILinux, elf.OSABISystemV:
		p.OS = OSLinux
	default:
		p.OS = OSUnknown
	}

	switch fh.Machine {
	case elf.EM386:
		p.CPU = CPUX86_32
	case elf.EMX8664:
		p.CPU = CPUX86_64
	default:
		p.CPU = CPUUnknown
	}

	return p
}

func platformFromPe(coff pe.CoffHeader) Platform {
	p := Platform{Format: FormatPE, OS: OSWindows}

	switch coff.MachineType() {
	case pe.MachineI386:
		p.CPU = CPUX86_32
	case pe.MachineAmd64:
		p.CPU = CPUX86_64
	default:
		p.CPU = CPUUnknown
	}

	return p
}
