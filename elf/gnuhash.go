package elf

import (
	"github.com/pkg/errors"

	"github.com/arc-language/binlink/internal/bytespan"
	"github.com/arc-language/binlink/internal/codec"
	"github.com/arc-language/binlink/internal/errs"
)

// GnuHashTable is the decoded .gnu.hash section:
// GNU-style symbol hash table used for fast symbol lookup at load time.
type GnuHashTable struct {
	SymOffset  uint32
	BloomShift uint32
	Bloom      []uint64
	Buckets    []uint32
	Chain      []uint32
}

// Size returns the on-disk size in bytes: 16 + |bloom|*wordSize +
// (|buckets|+|chain|)*4, per spec.md §3.9.
func (t GnuHashTable) Size(class Class) int {
	return 16 + len(t.Bloom)*class.codec().NWordSize() + (len(t.Buckets)+len(t.Chain))*4
}

func decodeGnuHashTable(data bytespan.Span, id Ident, base, size, symCount int) (GnuHashTable, error) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	nw := cls.NWordSize()

	if size < 16 {
		return GnuHashTable{}, errors.WithStack(&errs.GnuHashTableReadError{Detail: "section shorter than the 16-byte header"})
	}
	nBuckets := codec.GetWord(order, data, base+0)
	symOffset := codec.GetWord(order, data, base+4)
	bloomSize := codec.GetWord(order, data, base+8)
	bloomShift := codec.GetWord(order, data, base+12)

	fixed := 16 + int(bloomSize)*nw + int(nBuckets)*4
	if fixed > size {
		return GnuHashTable{}, errors.WithStack(&errs.GnuHashTableReadError{
			Detail: "bloom and bucket counts exceed the section size",
		})
	}

	off := base + 16
	bloom := make([]uint64, bloomSize)
	for i := range bloom {
		bloom[i] = codec.GetNWord(order, cls, data, off)
		off += nw
	}

	buckets := make([]uint32, nBuckets)
	for i := range buckets {
		buckets[i] = codec.GetWord(order, data, off)
		off += 4
	}

	nChain := 0
	if symCount > int(symOffset) {
		nChain = symCount - int(symOffset)
	}
	if fixed+nChain*4 > size {
		return GnuHashTable{}, errors.WithStack(&errs.GnuHashTableReadError{
			Detail: "chain array implied by the dynamic symbol count exceeds the section size",
		})
	}
	chain := make([]uint32, nChain)
	for i := range chain {
		chain[i] = codec.GetWord(order, data, off)
		off += 4
	}

	return GnuHashTable{
		SymOffset:  symOffset,
		BloomShift: bloomShift,
		Bloom:      bloom,
		Buckets:    buckets,
		Chain:      chain,
	}, nil
}

func encodeGnuHashTable(data []byte, id Ident, base int, t GnuHashTable) {
	order := id.DataFormat.codec()
	cls := id.Class.codec()
	nw := cls.NWordSize()

	codec.PutWord(order, data, base+0, uint32(len(t.Buckets)))
	codec.PutWord(order, data, base+4, t.SymOffset)
	codec.PutWord(order, data, base+8, uint32(len(t.Bloom)))
	codec.PutWord(order, data, base+12, t.BloomShift)

	off := base + 16
	for _, w := range t.Bloom {
		codec.PutNWord(order, cls, data, off, w)
		off += nw
	}
	for _, b := range t.Buckets {
		codec.PutWord(order, data, off, b)
		off += 4
	}
	for _, c := range t.Chain {
		codec.PutWord(order, data, off, c)
		off += 4
	}
}

// Lookup probes the hash table for name's symbol index the way the
// dynamic loader does: bloom filter first, then bucket/chain walk. It
// returns the symbol table index and true on a hit, read-only — this
// module never writes the actual hash chains. Grounded on
// original_source/.../GnuHashTableReader.h per SPEC_FULL.md §12.
func (t GnuHashTable) Lookup(name string, hashes func(string) uint32) (int, bool) {
	if len(t.Buckets) == 0 {
		return 0, false
	}
	h := hashes(name)
	wordBits := uint32(64)
	word := t.Bloom[(h/wordBits)%uint32(len(t.Bloom))]
	mask := (uint64(1) << (h % wordBits)) | (uint64(1) << ((h >> t.BloomShift) % wordBits))
	if word&mask != mask {
		return 0, false
	}

	idx := t.Buckets[h%uint32(len(t.Buckets))]
	if idx < t.SymOffset {
		return 0, false
	}

	for {
		chainIdx := idx - t.SymOffset
		if int(chainIdx) >= len(t.Chain) {
			return 0, false
		}
		chainHash := t.Chain[chainIdx]
		if chainHash|1 == h|1 {
			return int(idx), true
		}
		if chainHash&1 != 0 {
			return 0, false
		}
		idx++
	}
}

// GnuHash computes the GNU hash of name, the function the loader and
// Lookup both use to probe the bloom filter and bucket table.
func GnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}
