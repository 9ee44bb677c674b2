// Package binlink inspects and rewrites linkage metadata of compiled ELF
// and PE/COFF binaries without invoking a linker: reading and editing
// DT_RUNPATH, reading the needed-library list, the interpreter, and the
// SONAME, all without relocating code or touching debug info.
//
// ELF files are read and written in place where possible; when an edit
// outgrows its section, the affected bytes move to the end of the file
// and every section table, program header, and dynamic-tag cross
// reference that pointed at them is repaired. PE files are read-only:
// this package has no PE writer.
//
// Open a file with Open, query it with the ExecutableFile methods, and
// call SetRunPath to stage an ELF edit; Close flushes any staged edit
// back to disk.
package binlink
