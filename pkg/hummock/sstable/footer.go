package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic identifies a Tidestream sstable file; Version allows the footer
// layout to evolve without breaking old readers outright.
const (
	Magic   uint32 = 0x54534442 // "TSDB"
	Version uint32 = 1
)

// BlockMeta describes one block's placement and bounds within the file.
type BlockMeta struct {
	SmallestKey      InternalKey
	Offset           uint64
	Len              uint64
	UncompressedSize uint64
}

// Footer is the sstable's trailer: block index, bloom filter, and summary
// statistics. It is length-prefixed at the very end of the file so readers
// fetch only the last few KiB before deciding what else to read.
type Footer struct {
	Blocks          []BlockMeta
	BloomFilter     []byte
	EstimatedSize   uint64
	KeyCount        uint64
	SmallestKey     InternalKey
	LargestKey      InternalKey
}

// Encode serializes the footer body (not including the trailing length word).
func (f *Footer) Encode() []byte {
	var buf bytes.Buffer

	putUvarint(&buf, uint64(len(f.Blocks)))
	for _, b := range f.Blocks {
		putUvarint(&buf, uint64(len(b.SmallestKey)))
		buf.Write(b.SmallestKey)
		writeU64(&buf, b.Offset)
		writeU64(&buf, b.Len)
		writeU64(&buf, b.UncompressedSize)
	}

	putUvarint(&buf, uint64(len(f.BloomFilter)))
	buf.Write(f.BloomFilter)

	writeU64(&buf, f.EstimatedSize)
	writeU64(&buf, f.KeyCount)

	putUvarint(&buf, uint64(len(f.SmallestKey)))
	buf.Write(f.SmallestKey)
	putUvarint(&buf, uint64(len(f.LargestKey)))
	buf.Write(f.LargestKey)

	writeU32(&buf, Version)
	writeU32(&buf, Magic)

	return buf.Bytes()
}

// DecodeFooter parses a footer body produced by Encode.
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("sstable: footer too short")
	}
	magic := binary.BigEndian.Uint32(data[len(data)-4:])
	version := binary.BigEndian.Uint32(data[len(data)-8 : len(data)-4])
	if magic != Magic {
		return nil, fmt.Errorf("sstable: bad magic %x, file is not a Tidestream sstable", magic)
	}
	if version != Version {
		return nil, fmt.Errorf("sstable: unsupported footer version %d", version)
	}
	body := data[:len(data)-8]

	numBlocks, n := binary.Uvarint(body)
	body = body[n:]

	f := &Footer{}
	for i := uint64(0); i < numBlocks; i++ {
		keyLen, n := binary.Uvarint(body)
		body = body[n:]
		key := append(InternalKey(nil), body[:keyLen]...)
		body = body[keyLen:]

		offset := binary.BigEndian.Uint64(body[:8])
		body = body[8:]
		length := binary.BigEndian.Uint64(body[:8])
		body = body[8:]
		uncompressed := binary.BigEndian.Uint64(body[:8])
		body = body[8:]

		f.Blocks = append(f.Blocks, BlockMeta{
			SmallestKey:      key,
			Offset:           offset,
			Len:              length,
			UncompressedSize: uncompressed,
		})
	}

	bloomLen, n := binary.Uvarint(body)
	body = body[n:]
	f.BloomFilter = append([]byte(nil), body[:bloomLen]...)
	body = body[bloomLen:]

	f.EstimatedSize = binary.BigEndian.Uint64(body[:8])
	body = body[8:]
	f.KeyCount = binary.BigEndian.Uint64(body[:8])
	body = body[8:]

	smallestLen, n := binary.Uvarint(body)
	body = body[n:]
	f.SmallestKey = append(InternalKey(nil), body[:smallestLen]...)
	body = body[smallestLen:]

	largestLen, n := binary.Uvarint(body)
	body = body[n:]
	f.LargestKey = append(InternalKey(nil), body[:largestLen]...)
	body = body[largestLen:]

	return f, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
