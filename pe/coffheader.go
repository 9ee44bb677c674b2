package pe

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

// MachineType is the COFF header's Machine field, identifying the target
// CPU architecture.
type MachineType uint16

const (
	MachineUnknown    MachineType = 0x0
	MachineI386       MachineType = 0x14c
	MachineAmd64      MachineType = 0x8664
	MachineArm64      MachineType = 0xaa64
	MachineNotHandled MachineType = 0x9998
)

func machineTypeOf(raw uint16) MachineType {
	switch raw {
	case 0x0:
		return MachineUnknown
	case 0x14c:
		return MachineI386
	case 0x8664:
		return MachineAmd64
	case 0xaa64:
		return MachineArm64
	default:
		return MachineNotHandled
	}
}

const (
	characteristicExecutableImage = 0x0002
	characteristicDLL             = 0x2000
	minimumOptionalHeaderSize     = 112
)

// CoffHeader is the 20-byte COFF header that follows the PE signature.
type CoffHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

func (h CoffHeader) MachineType() MachineType { return machineTypeOf(h.Machine) }

// IsExecutableImage reports the IMAGE_FILE_EXECUTABLE_IMAGE bit.
func (h CoffHeader) IsExecutableImage() bool {
	return h.Characteristics&characteristicExecutableImage != 0
}

// IsDLL reports the IMAGE_FILE_DLL bit.
func (h CoffHeader) IsDLL() bool {
	return h.Characteristics&characteristicDLL != 0
}

// SeemsValid mirrors the original's CoffHeader::seemsValid: a handled
// machine type, the executable-image flag set, and an optional header at
// least large enough to hold the standard + Windows-specific fields and
// one data directory.
func (h CoffHeader) SeemsValid() bool {
	switch h.MachineType() {
	case MachineUnknown, MachineNotHandled:
		return false
	}
	if !h.IsExecutableImage() {
		return false
	}
	return h.SizeOfOptionalHeader >= minimumOptionalHeaderSize
}

func coffHeaderOffset(dos DosHeader) int { return int(dos.PeSignatureOffset) + 4 }

func extractCoffHeader(data bytespan.Span, dos DosHeader) (CoffHeader, error) {
	off := coffHeaderOffset(dos)
	if !data.CanSubSpan(off, 20) {
		return CoffHeader{}, errors.WithStack(&errs.PEFormatError{Detail: "file shorter than the COFF header"})
	}
	order := codec.LSB
	h := CoffHeader{
		Machine:              codec.GetHalfWord(order, data, off+0),
		NumberOfSections:     codec.GetHalfWord(order, data, off+2),
		TimeDateStamp:        codec.GetWord(order, data, off+4),
		PointerToSymbolTable: codec.GetWord(order, data, off+8),
		NumberOfSymbols:      codec.GetWord(order, data, off+12),
		SizeOfOptionalHeader: codec.GetHalfWord(order, data, off+16),
		Characteristics:      codec.GetHalfWord(order, data, off+18),
	}
	return h, nil
}
