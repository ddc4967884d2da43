package sstable

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)

	for _, algo := range []Algorithm{AlgorithmNone, AlgorithmLZ4, AlgorithmZstd} {
		compressed, err := Compress(algo, raw)
		require.NoError(t, err)

		decompressed, err := Decompress(algo, compressed, len(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, decompressed)
	}
}

func TestCompressUnknownAlgorithmFails(t *testing.T) {
	_, err := Compress(Algorithm(99), []byte("data"))
	assert.Error(t, err)

	_, err = Decompress(Algorithm(99), []byte("data"), 4)
	assert.Error(t, err)
}
