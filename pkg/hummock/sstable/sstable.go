package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// DefaultBlockSize is the uncompressed size threshold at which the writer
// rolls a new block.
const DefaultBlockSize = 64 * 1024

// WriterOptions configures block size and compression.
type WriterOptions struct {
	BlockSize   int
	Compression Algorithm
}

// Writer builds one sstable's bytes from records presented in ascending
// internal-key order.
type Writer struct {
	opts WriterOptions

	out          bytes.Buffer
	curBlock     *BlockBuilder
	blockMetas   []BlockMeta
	bloomKeys    [][]byte
	keyCount     uint64
	smallestKey  InternalKey
	largestKey   InternalKey
}

// NewWriter creates a Writer with the given options, defaulting BlockSize
// and Compression when zero.
func NewWriter(opts WriterOptions) *Writer {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &Writer{opts: opts, curBlock: NewBlockBuilder()}
}

// Add appends one record. Keys must arrive in ascending internal-key order
// (invariant 7: sort invariant).
func (w *Writer) Add(key InternalKey, value []byte) error {
	if w.smallestKey == nil {
		w.smallestKey = append(InternalKey(nil), key...)
	}
	w.largestKey = append(InternalKey(nil), key...)
	w.keyCount++
	w.bloomKeys = append(w.bloomKeys, append([]byte(nil), key.UserKey()...))

	w.curBlock.Add(key, value)
	if w.curBlock.EstimatedSize() >= w.opts.BlockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if w.curBlock.Empty() {
		return nil
	}
	raw := w.curBlock.Finish()
	compressed, err := Compress(w.opts.Compression, raw)
	if err != nil {
		return err
	}

	offset := uint64(w.out.Len())
	w.out.WriteByte(byte(w.opts.Compression))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	w.out.Write(lenBuf[:])
	w.out.Write(compressed)
	checksum := xxhash.Sum64(compressed)
	var csBuf [8]byte
	binary.BigEndian.PutUint64(csBuf[:], checksum)
	w.out.Write(csBuf[:])

	smallest := w.blockSmallestKey()
	w.blockMetas = append(w.blockMetas, BlockMeta{
		SmallestKey:      smallest,
		Offset:           offset,
		Len:              uint64(w.out.Len()) - offset,
		UncompressedSize: uint64(len(raw)),
	})
	w.curBlock = NewBlockBuilder()
	return nil
}

func (w *Writer) blockSmallestKey() InternalKey {
	it := NewBlockIterator(mustParseForSmallest(w.curBlock))
	it.SeekToFirst()
	return it.Key()
}

// mustParseForSmallest re-parses the about-to-be-replaced block builder's
// output purely to recover its first key for the block index; cheap since
// it happens once per block, not once per record.
func mustParseForSmallest(b *BlockBuilder) *Block {
	raw := b.Finish()
	blk, err := ParseBlock(raw)
	if err != nil {
		// A block we just built ourselves always parses; this would be a bug
		// in BlockBuilder/ParseBlock symmetry.
		panic(fmt.Sprintf("sstable: internal encode/decode mismatch: %v", err))
	}
	return blk
}

// Finish flushes any pending block, builds the bloom filter and footer, and
// returns the complete file bytes.
func (w *Writer) Finish() ([]byte, error) {
	if err := w.flushBlock(); err != nil {
		return nil, err
	}

	bloom := BuildBloomFilter(w.bloomKeys)

	footer := &Footer{
		Blocks:        w.blockMetas,
		BloomFilter:   bloom.Encode(),
		EstimatedSize: uint64(w.out.Len()),
		KeyCount:      w.keyCount,
		SmallestKey:   w.smallestKey,
		LargestKey:    w.largestKey,
	}
	footerBytes := footer.Encode()

	w.out.Write(footerBytes)
	var footerLen [4]byte
	binary.BigEndian.PutUint32(footerLen[:], uint32(len(footerBytes)))
	w.out.Write(footerLen[:])

	return w.out.Bytes(), nil
}

// Empty reports whether no record has been added.
func (w *Writer) Empty() bool {
	return w.keyCount == 0
}

// BlockFetcher retrieves a raw (still-compressed, on-disk) block by byte
// range, backed by the block cache in front of the object store.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, offset, length uint64) ([]byte, error)
}

// Reader decodes a parsed Footer plus an on-demand block fetcher into a
// random-access / iterable view of one sstable.
type Reader struct {
	footer  *Footer
	bloom   *BloomFilter
	fetcher BlockFetcher
}

// OpenReader parses the tail of an sstable file (footer + its length word)
// and constructs a Reader. data must contain at least the last 4 bytes plus
// the footer; callers typically fetch the trailing few KiB first.
func OpenReader(tail []byte, fetcher BlockFetcher) (*Reader, error) {
	if len(tail) < 4 {
		return nil, fmt.Errorf("sstable: file too short to contain a footer")
	}
	footerLen := binary.BigEndian.Uint32(tail[len(tail)-4:])
	if int(footerLen)+4 > len(tail) {
		return nil, fmt.Errorf("sstable: footer length %d exceeds supplied tail of %d bytes", footerLen, len(tail))
	}
	footerBytes := tail[len(tail)-4-int(footerLen) : len(tail)-4]
	footer, err := DecodeFooter(footerBytes)
	if err != nil {
		return nil, err
	}
	return &Reader{footer: footer, bloom: DecodeBloomFilter(footer.BloomFilter), fetcher: fetcher}, nil
}

// Footer returns the parsed footer.
func (r *Reader) Footer() *Footer { return r.footer }

// MayContain checks the bloom filter before doing any I/O.
func (r *Reader) MayContain(userKey []byte) bool {
	return r.bloom.MayContain(userKey)
}

// ReadBlock fetches and decompresses the i'th block.
func (r *Reader) ReadBlock(ctx context.Context, i int) (*Block, error) {
	if i < 0 || i >= len(r.footer.Blocks) {
		return nil, fmt.Errorf("sstable: block index %d out of range", i)
	}
	meta := r.footer.Blocks[i]
	onDisk, err := r.fetcher.FetchBlock(ctx, meta.Offset, meta.Len)
	if err != nil {
		return nil, fmt.Errorf("sstable: fetch block %d: %w", i, err)
	}
	if len(onDisk) < 13 {
		return nil, fmt.Errorf("sstable: block %d truncated", i)
	}
	algo := Algorithm(onDisk[0])
	compressedLen := binary.BigEndian.Uint32(onDisk[1:5])
	compressed := onDisk[5 : 5+compressedLen]
	wantChecksum := binary.BigEndian.Uint64(onDisk[5+compressedLen : 5+compressedLen+8])
	if gotChecksum := xxhash.Sum64(compressed); gotChecksum != wantChecksum {
		return nil, fmt.Errorf("sstable: block %d checksum mismatch", i)
	}
	raw, err := Decompress(algo, compressed, int(meta.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("sstable: decompress block %d: %w", i, err)
	}
	return ParseBlock(raw)
}

// FindBlock returns the index of the block that may contain key, using the
// per-block smallest-key index (binary search over block metas).
func (r *Reader) FindBlock(key InternalKey) int {
	blocks := r.footer.Blocks
	lo, hi := 0, len(blocks)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if Compare(blocks[mid].SmallestKey, key) <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}
