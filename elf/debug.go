package elf

// ContainsDebugSymbols reports whether the file carries a .debug*,
// .zdebug*, or .gnu_debuglink section, without decoding their contents.
func (h *FileAllHeaders) ContainsDebugSymbols() bool {
	for _, sh := range h.SectionHeaders {
		if hasDebugPrefix(sh.Name) {
			return true
		}
	}
	return false
}

func hasDebugPrefix(name string) bool {
	prefixes := []string{".debug", ".zdebug", ".gnu_debuglink"}
	for _, p := range prefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}
