package lsm

import (
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// DefaultBitsPerItem sizes the filter's bitstring as n*bits_per_item
// bits, per the spec; 10 bits/item holds false-positive rate near 1%
// at k=7.
const DefaultBitsPerItem = 10

// BloomFilter is a per-chunk bit-table keyed by two independently
// computed hashes combined as h1 + i*h2, the standard double-hashing
// scheme the spec names explicitly. h1 is FNV-1a (stdlib hash/fnv,
// "FNV-like"); h2 is xxhash ("CityHash-like": a fast non-cryptographic
// hash in the same family dd0wney-graphdb's go.mod already pulls in).
type BloomFilter struct {
	bits []byte
	nbit uint64
	k    int
}

// NewBloomFilter sizes a filter for n expected items at bitsPerItem
// bits each, with k hash probes.
func NewBloomFilter(n uint64, bitsPerItem int, k int) *BloomFilter {
	if bitsPerItem <= 0 {
		bitsPerItem = DefaultBitsPerItem
	}
	if k <= 0 {
		k = 7
	}
	nbit := n * uint64(bitsPerItem)
	if nbit == 0 {
		nbit = uint64(bitsPerItem)
	}
	return &BloomFilter{bits: make([]byte, (nbit+7)/8), nbit: nbit, k: k}
}

func (b *BloomFilter) hashes(key []byte) (h1, h2 uint64) {
	f := fnv.New64a()
	f.Write(key)
	return f.Sum64(), xxhash.Sum64(key)
}

// Add sets the k bit positions computed for key.
func (b *BloomFilter) Add(key []byte) {
	h1, h2 := b.hashes(key)
	for i := 0; i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % b.nbit
		b.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MayContain reports whether key might be present: false means
// definitely absent, true means "check the chunk".
func (b *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := b.hashes(key)
	for i := 0; i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % b.nbit
		if b.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Bytes returns the filter's backing bitstring, the form written to
// a chunk's bloom_uri column-store file of bit values.
func (b *BloomFilter) Bytes() []byte { return b.bits }
