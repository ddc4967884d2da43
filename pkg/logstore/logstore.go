// Package logstore implements the KV log store: a durable per-channel
// message log that lets a downstream actor recover without upstream
// replay, by persisting every chunk and barrier marker it receives and
// letting recovery resume the read from a truncatable offset.
package logstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tidestream/tidestream/pkg/hummock/sharedbuffer"
	"github.com/tidestream/tidestream/pkg/hummock/sstable"
)

// EntryKind distinguishes a data chunk entry from a barrier marker entry in
// the log.
type EntryKind byte

const (
	EntryChunk   EntryKind = 0
	EntryBarrier EntryKind = 1
)

// Entry is one logged record: either a serialized data chunk or a barrier
// marker carrying its epoch and vnode bitmap (for handoff across a
// reschedule).
type Entry struct {
	Offset     uint64
	Kind       EntryKind
	Epoch      uint64
	ChunkBytes []byte // set when Kind == EntryChunk
	VnodeBitmap []byte // set when Kind == EntryBarrier, may be nil
}

func (e *Entry) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Kind))
	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], e.Epoch)
	buf.Write(epochBuf[:])
	switch e.Kind {
	case EntryChunk:
		writeLenPrefixed(&buf, e.ChunkBytes)
	case EntryBarrier:
		writeLenPrefixed(&buf, e.VnodeBitmap)
	}
	return buf.Bytes()
}

func decodeEntry(offset uint64, data []byte) (*Entry, error) {
	if len(data) < 9 {
		return nil, fmt.Errorf("logstore: entry at offset %d too short", offset)
	}
	kind := EntryKind(data[0])
	epoch := binary.BigEndian.Uint64(data[1:9])
	payload, _, err := readLenPrefixed(data[9:])
	if err != nil {
		return nil, err
	}
	e := &Entry{Offset: offset, Kind: kind, Epoch: epoch}
	switch kind {
	case EntryChunk:
		e.ChunkBytes = payload
	case EntryBarrier:
		e.VnodeBitmap = payload
	default:
		return nil, fmt.Errorf("logstore: unknown entry kind %d at offset %d", kind, offset)
	}
	return e, nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func readLenPrefixed(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("logstore: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	if uint32(len(data)-4) < n {
		return nil, 0, fmt.Errorf("logstore: truncated payload")
	}
	return data[4 : 4+n], 4 + int(n), nil
}

// Writer appends entries for one channel (one upstream-actor ->
// downstream-actor exchange edge) and periodically syncs them into
// Hummock via the shared-buffer uploader, so the log itself benefits from
// the same compaction/GC machinery as any other table.
type Writer struct {
	mu        sync.Mutex
	channelID uint64
	groupID   uint64
	offset    uint64
	uploader  *sharedbuffer.Uploader
	epoch     uint64
	batch     *sharedbuffer.Batch
}

// NewWriter creates a log store writer for one channel.
func NewWriter(channelID, groupID uint64, uploader *sharedbuffer.Uploader) *Writer {
	return &Writer{channelID: channelID, groupID: groupID, uploader: uploader}
}

// InitEpoch opens a new epoch for appends.
func (w *Writer) InitEpoch(epoch uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.epoch = epoch
	w.batch = sharedbuffer.NewBatch(epoch, w.groupID)
}

// AppendChunk adds a data chunk to the current epoch's batch, returning its
// assigned offset. The entry is durable only once Sync has staged the batch
// and the uploader has flushed it.
func (w *Writer) AppendChunk(chunk []byte) uint64 {
	return w.append(&Entry{Kind: EntryChunk, Epoch: w.epoch, ChunkBytes: chunk})
}

// AppendBarrier adds a barrier marker to the current epoch's batch,
// interleaved with data chunks at the point the writer actually observed it.
func (w *Writer) AppendBarrier(epoch uint64, vnodeBitmap []byte) uint64 {
	return w.append(&Entry{Kind: EntryBarrier, Epoch: epoch, VnodeBitmap: vnodeBitmap})
}

func (w *Writer) append(e *Entry) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.offset
	e.Offset = offset
	w.offset++

	key := sstable.MakeInternalKey(w.userKey(offset), w.epoch)
	w.batch.Put(key, e.encode())
	return offset
}

func (w *Writer) userKey(offset uint64) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], w.channelID)
	binary.BigEndian.PutUint64(buf[8:16], offset)
	return buf[:]
}

// Sync stages the current epoch's batch; the caller's checkpoint protocol
// drives the actual Uploader.Sync call once all log store writers for the
// epoch have reported in.
func (w *Writer) Sync(ctx context.Context) error {
	w.mu.Lock()
	batch := w.batch
	w.mu.Unlock()
	if batch == nil {
		return nil
	}
	return w.uploader.Stage(batch)
}

// Truncate records that entries at or below ackedOffset are no longer
// needed because the downstream has acknowledged consuming them. The
// truncated offset must never exceed the downstream's acknowledged offset
// (the log-store truncation bound invariant); callers are responsible for
// only calling this with an offset they've confirmed was acknowledged.
type TruncationTracker struct {
	mu        sync.Mutex
	truncated map[uint64]uint64 // channelID -> truncated offset
}

// NewTruncationTracker creates an empty tracker.
func NewTruncationTracker() *TruncationTracker {
	return &TruncationTracker{truncated: make(map[uint64]uint64)}
}

// Truncate advances the truncation point for a channel, refusing to move it
// backwards or past the supplied acknowledged offset.
func (t *TruncationTracker) Truncate(channelID, ackedOffset uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.truncated[channelID]
	if ackedOffset < cur {
		return fmt.Errorf("logstore: refusing to move truncation point backwards for channel %d: %d < %d", channelID, ackedOffset, cur)
	}
	t.truncated[channelID] = ackedOffset
	return nil
}

// TruncatedOffset returns the current truncation point for a channel.
func (t *TruncationTracker) TruncatedOffset(channelID uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated[channelID]
}
