// Package pe is a read-only PE/COFF parser: enough of the
// DOS header, COFF header, optional header, section table, and import
// directories to answer GetNeededSharedLibraries and
// ContainsDebugSymbols for a Windows executable or DLL. Unlike elf, this
// package never mutates or re-serialises a file.
package pe

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

// DosHeader is the legacy MS-DOS header, reduced to the one field this
// module needs: e_lfanew, the byte offset of the PE signature.
type DosHeader struct {
	PeSignatureOffset uint32
}

// SeemsValid reports whether the header locates a PE signature at all.
func (h DosHeader) SeemsValid() bool { return h.PeSignatureOffset != 0 }

const dosELfanewOffset = 0x3c

func extractDosHeader(data bytespan.Span) (DosHeader, error) {
	if !data.CanSubSpan(dosELfanewOffset, 4) {
		return DosHeader{}, errors.WithStack(&errs.PEFormatError{Detail: "file shorter than the MS-DOS header's e_lfanew field"})
	}
	off := codec.GetWord(codec.LSB, data, dosELfanewOffset)
	return DosHeader{PeSignatureOffset: off}, nil
}

func containsPeSignature(data bytespan.Span, dos DosHeader) bool {
	if !data.CanSubSpan(int(dos.PeSignatureOffset), 4) {
		return false
	}
	sig := data.SubSpan(int(dos.PeSignatureOffset), 4).Bytes()
	return sig[0] == 'P' && sig[1] == 'E' && sig[2] == 0 && sig[3] == 0
}
