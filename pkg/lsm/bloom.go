package lsm

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// bloomFilter is the fixed 81920-bit membership filter embedded in every
// table file. Each key sets four bits derived from one MurmurHash3-x64-128
// digest; false positives are possible, false negatives are not.
type bloomFilter struct {
	bits [bloomFilterBytes]byte
}

// bloomPositions hashes the big-endian encoding of key with seed 1 and
// returns the four 32-bit words of the digest reduced to bit positions.
func bloomPositions(key int64) [4]uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(key))
	h1, h2 := murmur3.Sum128WithSeed(buf[:], 1)
	return [4]uint32{
		uint32(h1) % bloomFilterBits,
		uint32(h1>>32) % bloomFilterBits,
		uint32(h2) % bloomFilterBits,
		uint32(h2>>32) % bloomFilterBits,
	}
}

// add marks key as present.
func (f *bloomFilter) add(key int64) {
	for _, pos := range bloomPositions(key) {
		f.bits[pos/8] |= 1 << (pos % 8)
	}
}

// mayContain reports whether key might be present. A false result is
// definitive.
func (f *bloomFilter) mayContain(key int64) bool {
	for _, pos := range bloomPositions(key) {
		if f.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}
