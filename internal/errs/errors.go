// Package errs defines the typed error families surfaced across the
// binlink/elf and binlink/pe package boundaries.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ReadError reports malformed or truncated input encountered while
// decoding a record. It names the file and the field being decoded so the
// caller does not have to re-derive that from a bare offset.
type ReadError struct {
	File  string
	Field string
	cause error
}

func NewReadError(file, field string, cause error) *ReadError {
	return &ReadError{File: file, Field: field, cause: errors.WithStack(cause)}
}

func (e *ReadError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("read %s: %v", e.Field, e.cause)
	}
	return fmt.Sprintf("read %s: %s: %v", e.File, e.Field, e.cause)
}

func (e *ReadError) Unwrap() error { return e.cause }
func (e *ReadError) Cause() error  { return e.cause }

// WriteError reports an output surface too small to hold the mutated
// model, or an OS-level I/O failure during serialisation.
type WriteError struct {
	Reason string
	cause  error
}

func NewWriteError(reason string, cause error) *WriteError {
	return &WriteError{Reason: reason, cause: errors.WithStack(cause)}
}

func (e *WriteError) Error() string {
	if e.cause == nil {
		return "write: " + e.Reason
	}
	return fmt.Sprintf("write: %s: %v", e.Reason, e.cause)
}

func (e *WriteError) Unwrap() error { return e.cause }

// StringTableError reports a string table that is not properly NUL-framed:
// an offset that does not index a terminated string, or a table whose
// final byte is not a NUL.
type StringTableError struct {
	Offset int
	Detail string
}

func (e *StringTableError) Error() string {
	return fmt.Sprintf("string table: offset %d: %s", e.Offset, e.Detail)
}

// NotNullTerminatedStringError reports a bounded string region that ran
// off the end of its span without encountering a NUL byte.
type NotNullTerminatedStringError struct {
	Offset int
	Limit  int
}

func (e *NotNullTerminatedStringError) Error() string {
	return fmt.Sprintf("string at offset %d is not NUL-terminated within %d bytes", e.Offset, e.Limit)
}

// InvalidMagicType reports an Ident whose magic bytes, class, or data
// format do not match a supported combination.
type InvalidMagicType struct {
	Detail string
}

func (e *InvalidMagicType) Error() string { return "invalid magic: " + e.Detail }

// MoveSectionError reports an edit that the layout engine cannot perform:
// either the evacuation budget could not be met, or the section's move
// semantics are not implemented.
type MoveSectionError struct {
	Section string
	Reason  string
}

func (e *MoveSectionError) Error() string {
	return fmt.Sprintf("cannot move section %q: %s", e.Section, e.Reason)
}

// DynamicSectionReadError reports a malformed .dynamic section: an
// unterminated entry list, or a string-table offset past the end of
// .dynstr.
type DynamicSectionReadError struct {
	Detail string
}

func (e *DynamicSectionReadError) Error() string { return "dynamic section: " + e.Detail }

// NoteSectionReadError reports a malformed note section.
type NoteSectionReadError struct {
	Detail string
}

func (e *NoteSectionReadError) Error() string { return "note section: " + e.Detail }

// GnuHashTableReadError reports a malformed .gnu.hash section.
type GnuHashTableReadError struct {
	Detail string
}

func (e *GnuHashTableReadError) Error() string { return ".gnu.hash: " + e.Detail }

// PEFormatError reports a PE/COFF file that is truncated, or whose
// headers do not describe a supported executable image.
type PEFormatError struct {
	Detail string
}

func (e *PEFormatError) Error() string { return "pe: " + e.Detail }
