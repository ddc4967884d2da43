// Package sstable implements the Hummock on-disk sstable format: block
// encode/decode, the bloom filter, and the footer. The layout is bit-exact:
// length-prefixed compressed blocks, a restart-point index per block, and a
// length-prefixed footer at the end of the file so readers fetch the last
// few KiB first.
package sstable

import "encoding/binary"

// InternalKey is a user key suffixed with a descending epoch, so internal
// keys sort ascending by user key and descending by epoch: newer versions
// of the same user key are encountered first in scan order.
type InternalKey []byte

// MakeInternalKey encodes a user key and an epoch into an internal key.
// Layout: user_key || u64_be(^epoch).
func MakeInternalKey(userKey []byte, epoch uint64) InternalKey {
	buf := make([]byte, len(userKey)+8)
	copy(buf, userKey)
	binary.BigEndian.PutUint64(buf[len(userKey):], ^epoch)
	return buf
}

// UserKey returns the user-key prefix of an internal key.
func (k InternalKey) UserKey() []byte {
	return k[:len(k)-8]
}

// Epoch returns the epoch suffix of an internal key.
func (k InternalKey) Epoch() uint64 {
	return ^binary.BigEndian.Uint64(k[len(k)-8:])
}

// Compare orders internal keys: ascending by user key, descending by epoch.
// Because the epoch is stored bit-inverted, a plain byte-wise comparison of
// the full internal key already yields this order.
func Compare(a, b InternalKey) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
