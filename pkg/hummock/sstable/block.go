package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// restartInterval is the number of records between restart points, after
// which a record encodes a full key instead of a shared-prefix diff.
const restartInterval = 16

// Record is a single (key, value) pair as stored in a block.
type Record struct {
	Key   InternalKey
	Value []byte
}

// BlockBuilder accumulates records into one block's raw (uncompressed)
// representation: a sequence of prefix-compressed records followed by the
// restart-point offset table and its count.
type BlockBuilder struct {
	buf          bytes.Buffer
	restarts     []uint32
	lastKey      InternalKey
	count        int
	estimateSize int
}

// NewBlockBuilder creates an empty block builder.
func NewBlockBuilder() *BlockBuilder {
	return &BlockBuilder{restarts: []uint32{0}}
}

// Add appends a record. Keys must be added in ascending internal-key order.
func (b *BlockBuilder) Add(key InternalKey, value []byte) {
	var sharedLen int
	if b.count%restartInterval == 0 {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
		sharedLen = 0
	} else {
		sharedLen = sharedPrefixLen(b.lastKey, key)
	}
	diff := key[sharedLen:]

	putUvarint(&b.buf, uint64(sharedLen))
	putUvarint(&b.buf, uint64(len(diff)))
	putUvarint(&b.buf, uint64(len(value)))
	b.buf.Write(diff)
	b.buf.Write(value)

	b.lastKey = append(InternalKey(nil), key...)
	b.count++
	b.estimateSize = b.buf.Len()
}

// Empty reports whether any record has been added.
func (b *BlockBuilder) Empty() bool { return b.count == 0 }

// EstimatedSize returns the current raw size, for flush-threshold decisions.
func (b *BlockBuilder) EstimatedSize() int { return b.estimateSize }

// Finish serializes the block: records, then the restart offset table, then
// the restart count.
func (b *BlockBuilder) Finish() []byte {
	out := make([]byte, 0, b.buf.Len()+4*len(b.restarts)+4)
	out = append(out, b.buf.Bytes()...)
	for _, r := range b.restarts {
		out = binary.BigEndian.AppendUint32(out, r)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(b.restarts)))
	return out
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// Block is a decoded, ready-to-iterate block.
type Block struct {
	raw          []byte
	restarts     []uint32
	restartCount int
}

// ParseBlock parses a raw (decompressed) block buffer into restart offsets
// and the record area.
func ParseBlock(raw []byte) (*Block, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("sstable: block too short: %d bytes", len(raw))
	}
	n := binary.BigEndian.Uint32(raw[len(raw)-4:])
	restartTableSize := int(n) * 4
	if len(raw) < 4+restartTableSize {
		return nil, fmt.Errorf("sstable: block restart table truncated")
	}
	restarts := make([]uint32, n)
	base := len(raw) - 4 - restartTableSize
	for i := 0; i < int(n); i++ {
		restarts[i] = binary.BigEndian.Uint32(raw[base+i*4 : base+i*4+4])
	}
	return &Block{raw: raw[:base], restarts: restarts, restartCount: int(n)}, nil
}

// Len returns the number of bytes of the whole decoded block: the record
// area plus the restart offset table and its count (used for cache
// accounting).
func (blk *Block) Len() int { return len(blk.raw) + len(blk.restarts)*4 + 4 }

// BlockIterator walks the records of a parsed block in order.
type BlockIterator struct {
	block   *Block
	pos     int
	key     InternalKey
	value   []byte
	valid   bool
}

// NewBlockIterator creates an iterator positioned before the first record.
func NewBlockIterator(blk *Block) *BlockIterator {
	return &BlockIterator{block: blk}
}

// SeekToFirst repositions the iterator at the first record.
func (it *BlockIterator) SeekToFirst() {
	it.pos = 0
	it.key = nil
	it.Next()
}

// Next decodes the next record. Returns false when exhausted.
func (it *BlockIterator) Next() bool {
	if it.pos >= len(it.block.raw) {
		it.valid = false
		return false
	}
	buf := it.block.raw[it.pos:]
	sharedLen, n1 := binary.Uvarint(buf)
	buf = buf[n1:]
	diffLen, n2 := binary.Uvarint(buf)
	buf = buf[n2:]
	valueLen, n3 := binary.Uvarint(buf)
	buf = buf[n3:]
	diff := buf[:diffLen]
	value := buf[diffLen : diffLen+valueLen]

	newKey := make(InternalKey, int(sharedLen)+int(diffLen))
	copy(newKey, it.key[:sharedLen])
	copy(newKey[sharedLen:], diff)

	it.key = newKey
	it.value = value
	it.pos = len(it.block.raw) - len(buf) + int(diffLen) + int(valueLen)
	it.valid = true
	return true
}

// Valid reports whether the iterator is positioned at a record.
func (it *BlockIterator) Valid() bool { return it.valid }

// Key returns the current record's internal key.
func (it *BlockIterator) Key() InternalKey { return it.key }

// Value returns the current record's value.
func (it *BlockIterator) Value() []byte { return it.value }

// Seek positions the iterator at the first record whose key is >= target,
// using the restart point index to skip whole runs of records.
func (it *BlockIterator) Seek(target InternalKey) bool {
	lo, hi := 0, len(it.block.restarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		it.pos = int(it.block.restarts[mid])
		it.key = nil
		it.Next()
		if Compare(it.key, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it.pos = int(it.block.restarts[lo])
	it.key = nil
	for it.Next() {
		if Compare(it.key, target) >= 0 {
			return true
		}
	}
	return false
}
