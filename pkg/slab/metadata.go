package slab

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
	dbfs "github.com/calvinalkan/rethinkdb-core/internal/fs"
)

// metadataLogName and metadataTmpName are the on-disk file names for the
// append-only batch log and its transient compaction target.
const (
	metadataLogName = "metadata.log"
	metadataTmpName = "metadata.log.tmp"
)

// mapping is one (key -> slot) entry recorded in a batch. A mapping to
// TombstoneClassIndex marks key as deleted.
type mapping struct {
	Key  []byte `json:"key"`
	Slot SlotID `json:"slot"`
}

// batch is the JSON payload framed on disk as
// [u32_le length | payload | u32_le checksum].
type batch struct {
	Sequence    uint64    `json:"sequence"`
	TimestampMS int64     `json:"timestamp_ms"`
	Mappings    []mapping `json:"mappings"`
}

// foldChecksum computes the per-byte XOR-fold checksum of payload,
// matching fold_xor_u32(payload.bytes): each byte is widened to u32 and
// XORed in, not a word-wise XOR of 4-byte groups.
func foldChecksum(payload []byte) uint32 {
	var acc uint32
	for _, b := range payload {
		acc ^= uint32(b)
	}

	return acc
}

// MetadataStore is the durable, checksummed append-only log of key->slot
// mappings, plus the in-memory index rebuilt from it at open.
type MetadataStore struct {
	fs  dbfs.FS
	dir string

	mu           sync.RWMutex // guards index, nextSequence, and the log file append
	index        map[string]SlotID
	nextSequence uint64
	logFile      dbfs.File
}

// OpenMetadataStore creates dir if missing, replays metadata.log, and
// sets the next sequence number to max(seen)+1 (0 if the log is empty or
// absent), against the real filesystem.
func OpenMetadataStore(dir string) (*MetadataStore, error) {
	return OpenMetadataStoreFS(dbfs.NewReal(), dir)
}

// OpenMetadataStoreFS is [OpenMetadataStore] parameterized over the
// [dbfs.FS] used for the log file and its compaction rename, letting tests
// substitute [dbfs.Chaos] to exercise checksum-guarded recovery and
// crash-mid-compaction against injected I/O failures.
func OpenMetadataStoreFS(fsys dbfs.FS, dir string) (*MetadataStore, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, dberr.New(dberr.KindIO, "metadata: open", err)
	}

	m := &MetadataStore{
		fs:    fsys,
		dir:   dir,
		index: make(map[string]SlotID),
	}

	logPath := filepath.Join(dir, metadataLogName)

	maxSeq, err := m.replay(logPath)
	if err != nil {
		return nil, err
	}

	m.nextSequence = maxSeq + 1

	f, err := fsys.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, dberr.New(dberr.KindIO, "metadata: open", err)
	}

	m.logFile = f

	return m, nil
}

// replay reads frames in sequence order, applying each batch's mappings
// into the index (last write wins), and returns the maximum sequence
// number observed. A frame that fails its length or checksum check
// truncates the log's logical contents at that point; this is logged to
// stderr rather than silently discarded, per the metadata store's
// recovery contract.
func (m *MetadataStore) replay(path string) (uint64, error) {
	f, err := m.fs.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, dberr.New(dberr.KindIO, "metadata: replay", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, dberr.New(dberr.KindIO, "metadata: replay", err)
	}

	size := info.Size()

	var (
		offset int64
		maxSeq uint64
	)

	for offset < size {
		var lenBuf [4]byte
		if _, err := f.ReadAt(lenBuf[:], offset); err != nil {
			fmt.Fprintf(os.Stderr, "metadata: replay: truncated length prefix at offset %d: %v\n", offset, err)
			break
		}

		frameLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))
		if offset+4+frameLen+4 > size {
			fmt.Fprintf(os.Stderr, "metadata: replay: frame at offset %d exceeds file size, truncating\n", offset)
			break
		}

		payload := make([]byte, frameLen)
		if _, err := f.ReadAt(payload, offset+4); err != nil {
			fmt.Fprintf(os.Stderr, "metadata: replay: read payload at offset %d: %v\n", offset, err)
			break
		}

		var checksumBuf [4]byte
		if _, err := f.ReadAt(checksumBuf[:], offset+4+frameLen); err != nil {
			fmt.Fprintf(os.Stderr, "metadata: replay: read checksum at offset %d: %v\n", offset, err)
			break
		}

		wantChecksum := binary.LittleEndian.Uint32(checksumBuf[:])
		if foldChecksum(payload) != wantChecksum {
			fmt.Fprintf(os.Stderr, "metadata: replay: checksum mismatch at offset %d, truncating log here\n", offset)
			break
		}

		var b batch
		if err := json.Unmarshal(payload, &b); err != nil {
			fmt.Fprintf(os.Stderr, "metadata: replay: malformed batch at offset %d: %v, truncating log here\n", offset, err)
			break
		}

		for _, mp := range b.Mappings {
			if mp.Slot.IsTombstone() {
				delete(m.index, string(mp.Key))
			} else {
				m.index[string(mp.Key)] = mp.Slot
			}
		}

		if b.Sequence > maxSeq {
			maxSeq = b.Sequence
		}

		offset += 4 + frameLen + 4
	}

	return maxSeq, nil
}

// encodeBatch frames b as [u32_le length | JSON payload | u32_le checksum].
func encodeBatch(b batch) ([]byte, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, dberr.New(dberr.KindIO, "metadata: encode batch", err)
	}

	frame := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:4+len(payload)], payload)
	binary.LittleEndian.PutUint32(frame[4+len(payload):], foldChecksum(payload))

	return frame, nil
}

// WriteBatch assigns the next sequence number, serializes mappings as a
// checksummed frame, appends and fsyncs it, then applies the mappings to
// the in-memory index.
func (m *MetadataStore) WriteBatch(mappings []mapping) error {
	if len(mappings) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.nextSequence

	b := batch{
		Sequence:    seq,
		TimestampMS: time.Now().UnixMilli(),
		Mappings:    mappings,
	}

	frame, err := encodeBatch(b)
	if err != nil {
		return err
	}

	if _, err := m.logFile.Write(frame); err != nil {
		return dberr.New(dberr.KindIO, "metadata: write_batch", err)
	}

	if err := fsyncFile(m.logFile); err != nil {
		return dberr.New(dberr.KindIO, "metadata: write_batch", err)
	}

	for _, mp := range mappings {
		if mp.Slot.IsTombstone() {
			delete(m.index, string(mp.Key))
		} else {
			m.index[string(mp.Key)] = mp.Slot
		}
	}

	m.nextSequence = seq + 1

	return nil
}

// Set records key -> slot as a single-mapping durable batch.
func (m *MetadataStore) Set(key []byte, slot SlotID) error {
	return m.WriteBatch([]mapping{{Key: key, Slot: slot}})
}

// Get returns the slot currently mapped to key, if any.
func (m *MetadataStore) Get(key []byte) (SlotID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slot, ok := m.index[string(key)]

	return slot, ok
}

// Remove durably deletes key by appending a tombstone batch: a crash
// after this call returns replays the tombstone and key stays absent.
func (m *MetadataStore) Remove(key []byte) error {
	return m.WriteBatch([]mapping{{Key: key, Slot: SlotID{ClassIndex: TombstoneClassIndex}}})
}

// Keys returns a snapshot of all live keys.
func (m *MetadataStore) Keys() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([][]byte, 0, len(m.index))
	for k := range m.index {
		keys = append(keys, []byte(k))
	}

	return keys
}

// Len returns the number of live keys.
func (m *MetadataStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.index)
}

// Compact snapshots the in-memory index and writes a single fresh batch
// (sequence 0) containing all live mappings to metadata.log.tmp, fsyncs
// it, and atomically renames it over metadata.log, resetting the
// sequence counter to 1. Concurrent writers are blocked for the
// snapshot+rename.
func (m *MetadataStore) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mappings := make([]mapping, 0, len(m.index))
	for k, slot := range m.index {
		mappings = append(mappings, mapping{Key: []byte(k), Slot: slot})
	}

	b := batch{Sequence: 0, TimestampMS: time.Now().UnixMilli(), Mappings: mappings}

	frame, err := encodeBatch(b)
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(m.dir, metadataTmpName)
	logPath := filepath.Join(m.dir, metadataLogName)

	if err := m.fs.WriteFileAtomic(tmpPath, frame, 0o644); err != nil {
		return dberr.New(dberr.KindIO, "metadata: compact", err)
	}

	if err := m.logFile.Close(); err != nil {
		return dberr.New(dberr.KindIO, "metadata: compact", err)
	}

	if err := m.fs.Rename(tmpPath, logPath); err != nil {
		return dberr.New(dberr.KindIO, "metadata: compact", err)
	}

	f, err := m.fs.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return dberr.New(dberr.KindIO, "metadata: compact", err)
	}

	m.logFile = f
	m.nextSequence = 1

	return nil
}

// Close releases the underlying log file handle.
func (m *MetadataStore) Close() error {
	if m.logFile == nil {
		return nil
	}

	return m.logFile.Close()
}
