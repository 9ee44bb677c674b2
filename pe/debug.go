package pe

// ContainsDebugSymbols reports whether the image carries a section
// following the CodeView ".debug$*" naming convention.
func (f *File) ContainsDebugSymbols() bool {
	for _, sh := range f.Sections {
		if len(sh.Name) >= 6 && sh.Name[:6] == ".debug" {
			return true
		}
	}
	return false
}
