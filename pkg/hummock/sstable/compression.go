package sstable

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is the block compression codec, encoded as a single byte ahead
// of every compressed block.
type Algorithm byte

const (
	AlgorithmNone Algorithm = 0
	AlgorithmLZ4  Algorithm = 1
	AlgorithmZstd Algorithm = 2
)

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

// Compress compresses raw with the given algorithm.
func Compress(algo Algorithm, raw []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return raw, nil
	case AlgorithmLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("sstable: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("sstable: lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case AlgorithmZstd:
		return zstdEncoder.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("sstable: unknown compression algorithm %d", algo)
	}
}

// Decompress reverses Compress.
func Decompress(algo Algorithm, compressed []byte, uncompressedSize int) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return compressed, nil
	case AlgorithmLZ4:
		r := lz4.NewReader(bytes.NewReader(compressed))
		out := make([]byte, uncompressedSize)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("sstable: lz4 decompress: %w", err)
		}
		return out, nil
	case AlgorithmZstd:
		out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("sstable: zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sstable: unknown compression algorithm %d", algo)
	}
}
