package sstable

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// bitsPerKey controls the false-positive rate; 10 bits/key gives ~1%.
const bitsPerKey = 10

// BloomFilter is a Bloom filter over user keys, built with double hashing
// from a single xxhash64 seed per key (Kirsch-Mitzenmacher).
type BloomFilter struct {
	bits    []byte
	numBits uint32
	k       uint32
}

// BuildBloomFilter constructs a filter sized for the given number of keys.
func BuildBloomFilter(keys [][]byte) *BloomFilter {
	n := len(keys)
	if n == 0 {
		n = 1
	}
	numBits := uint32(n * bitsPerKey)
	if numBits < 64 {
		numBits = 64
	}
	numBits = (numBits + 7) / 8 * 8

	k := uint32(float64(bitsPerKey) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	f := &BloomFilter{
		bits:    make([]byte, numBits/8),
		numBits: numBits,
		k:       k,
	}
	for _, key := range keys {
		f.add(key)
	}
	return f
}

func (f *BloomFilter) hashes(key []byte) (uint32, uint32) {
	h := xxhash.Sum64(key)
	h1 := uint32(h)
	h2 := uint32(h >> 32)
	return h1, h2
}

func (f *BloomFilter) add(key []byte) {
	h1, h2 := f.hashes(key)
	for i := uint32(0); i < f.k; i++ {
		bitPos := (h1 + i*h2) % f.numBits
		f.bits[bitPos/8] |= 1 << (bitPos % 8)
	}
}

// MayContain reports whether key might be present (false positives allowed,
// false negatives never).
func (f *BloomFilter) MayContain(key []byte) bool {
	if f == nil || len(f.bits) == 0 {
		return true
	}
	h1, h2 := f.hashes(key)
	for i := uint32(0); i < f.k; i++ {
		bitPos := (h1 + i*h2) % f.numBits
		if f.bits[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter: [num_bits: u32][k: u32][bits...].
func (f *BloomFilter) Encode() []byte {
	out := make([]byte, 8+len(f.bits))
	binary.BigEndian.PutUint32(out[0:4], f.numBits)
	binary.BigEndian.PutUint32(out[4:8], f.k)
	copy(out[8:], f.bits)
	return out
}

// DecodeBloomFilter reverses Encode.
func DecodeBloomFilter(data []byte) *BloomFilter {
	if len(data) < 8 {
		return &BloomFilter{}
	}
	numBits := binary.BigEndian.Uint32(data[0:4])
	k := binary.BigEndian.Uint32(data[4:8])
	bits := make([]byte, len(data)-8)
	copy(bits, data[8:])
	return &BloomFilter{bits: bits, numBits: numBits, k: k}
}
