// Package objectstore abstracts the shared-storage backend that Hummock
// writes sstables and the log store write their segments to. Every backend
// is addressed by a flat key namespace; callers own path construction.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("objectstore: key not found")

// ByteRange selects a sub-range of an object. End is exclusive; a zero-value
// ByteRange means the whole object.
type ByteRange struct {
	Start int64
	End   int64
}

// Store is the shared-storage abstraction every Hummock sstable and log
// store segment is written through.
type Store interface {
	// Get reads an object, optionally restricted to a byte range.
	Get(ctx context.Context, key string, r *ByteRange) ([]byte, error)

	// Put writes an object in a single request.
	Put(ctx context.Context, key string, data []byte) error

	// StreamingPut returns a writer for large objects (multipart upload
	// backends use this to avoid buffering the whole sstable in memory).
	StreamingPut(ctx context.Context, key string) (io.WriteCloser, error)

	// List returns all keys with the given prefix, in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteBatch removes many objects, batching backend requests where
	// the backend supports it.
	DeleteBatch(ctx context.Context, keys []string) error
}
