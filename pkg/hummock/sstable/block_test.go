package sstable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestBlock(t *testing.T, n int) (*Block, []InternalKey) {
	t.Helper()
	b := NewBlockBuilder()
	keys := make([]InternalKey, 0, n)
	for i := 0; i < n; i++ {
		k := MakeInternalKey([]byte(fmt.Sprintf("key-%04d", i)), 1)
		keys = append(keys, k)
		b.Add(k, []byte(fmt.Sprintf("value-%d", i)))
	}
	require.False(t, b.Empty())

	raw := b.Finish()
	blk, err := ParseBlock(raw)
	require.NoError(t, err)
	return blk, keys
}

func TestBlockIteratesRecordsInOrder(t *testing.T) {
	blk, keys := buildTestBlock(t, 40)

	it := NewBlockIterator(blk)
	it.SeekToFirst()
	i := 0
	for it.Valid() {
		assert.Equal(t, 0, Compare(it.Key(), keys[i]))
		assert.Equal(t, fmt.Sprintf("value-%d", i), string(it.Value()))
		i++
		it.Next()
	}
	assert.Equal(t, len(keys), i)
}

func TestBlockSeekFindsTargetAcrossRestartPoints(t *testing.T) {
	blk, keys := buildTestBlock(t, 50)
	it := NewBlockIterator(blk)

	target := keys[33]
	ok := it.Seek(target)
	require.True(t, ok)
	assert.Equal(t, 0, Compare(it.Key(), target))
}

func TestBlockSeekPastEndReturnsFalse(t *testing.T) {
	blk, _ := buildTestBlock(t, 10)
	it := NewBlockIterator(blk)
	ok := it.Seek(MakeInternalKey([]byte("zzzz"), 1))
	assert.False(t, ok)
}

func TestEmptyBlockBuilderReportsEmpty(t *testing.T) {
	b := NewBlockBuilder()
	assert.True(t, b.Empty())
}

func TestParseBlockRejectsTruncatedInput(t *testing.T) {
	_, err := ParseBlock([]byte{1, 2})
	assert.Error(t, err)
}
