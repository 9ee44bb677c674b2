package elf

// OffsetRange is a half-open byte range [Begin, End), used for section
// and segment bounds and hole detection.
type OffsetRange struct {
	Begin uint64
	End   uint64
}

// Len returns the number of bytes the range covers.
func (r OffsetRange) Len() uint64 {
	if r.End <= r.Begin {
		return 0
	}
	return r.End - r.Begin
}

// Contains reports whether offset lies within the range.
func (r OffsetRange) Contains(offset uint64) bool {
	return offset >= r.Begin && offset < r.End
}

// Overlaps reports whether r and other share any byte.
func (r OffsetRange) Overlaps(other OffsetRange) bool {
	return r.Begin < other.End && other.Begin < r.End
}

// Union returns the smallest range containing both r and other. It is
// only meaningful when the two ranges are adjacent or overlapping; the
// layout engine only calls it on section ranges it has just placed
// contiguously.
func (r OffsetRange) Union(other OffsetRange) OffsetRange {
	begin := r.Begin
	if other.Begin < begin {
		begin = other.Begin
	}
	end := r.End
	if other.End > end {
		end = other.End
	}
	return OffsetRange{Begin: begin, End: end}
}
