package slab

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"

	dbfs "github.com/calvinalkan/rethinkdb-core/internal/fs"
)

// DefaultCacheCapacity bounds the value cache: enough entries that a
// hot working set of documents stays resident without unbounded growth.
const DefaultCacheCapacity = 1000

// Options configures a Storage instance at creation. The zero value is
// not valid; start from DefaultOptions. Open fills in only a nil FS, and
// fails on zero slot sizes.
type Options struct {
	MinSlotSize   uint32
	MaxSlotSize   uint32
	CacheCapacity int
	Compression   CompressionAlgorithm

	// FS is the filesystem used for the allocator's slot files and the
	// metadata log. Defaults to [dbfs.NewReal] when nil; tests substitute
	// [dbfs.NewChaos] to exercise recovery against injected I/O failures.
	FS dbfs.FS
}

// DefaultOptions returns the default slab bounds, Zstd compression, and
// a 1000-entry cache.
func DefaultOptions() Options {
	return Options{
		MinSlotSize:   DefaultMinSlotSize,
		MaxSlotSize:   DefaultMaxSlotSize,
		CacheCapacity: DefaultCacheCapacity,
		Compression:   CompressionZstd,
		FS:            dbfs.NewReal(),
	}
}

// Storage composes the allocator, metadata store, cache, and compression
// codec into the KV API used by the namespace layer and everything above
// it. It is the sole mutator of the three components it holds; they are
// siblings and never reference each other directly.
type Storage struct {
	dir         string
	allocator   *Allocator
	metadata    *MetadataStore
	cache       *Cache
	compression CompressionAlgorithm
	lock        *dbfs.Lock
}

// lockFileName is the exclusive store-directory lock, held for the
// lifetime of an open Storage to prevent a second process from opening
// the same directory concurrently.
const lockFileName = "LOCK"

// Open creates or opens a store directory with the given options,
// rebuilding the in-memory metadata index from metadata/metadata.log.
// Only one process may hold a Storage open on dir at a time.
func Open(dir string, opts Options) (*Storage, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = dbfs.NewReal()
	}

	locker := dbfs.NewLocker(fsys)

	lock, err := locker.TryLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}

	dataDir := filepath.Join(dir, "data")
	metaDir := filepath.Join(dir, "metadata")

	allocator, err := OpenAllocatorFS(fsys, dataDir, opts.MinSlotSize, opts.MaxSlotSize)
	if err != nil {
		lock.Close()
		return nil, err
	}

	metadata, err := OpenMetadataStoreFS(fsys, metaDir)
	if err != nil {
		allocator.Close()
		lock.Close()
		return nil, err
	}

	return &Storage{
		dir:         dir,
		allocator:   allocator,
		metadata:    metadata,
		cache:       NewCache(opts.CacheCapacity),
		compression: opts.Compression,
		lock:        lock,
	}, nil
}

// WithDefaults opens a store at dir using DefaultOptions.
func WithDefaults(dir string) (*Storage, error) {
	return Open(dir, DefaultOptions())
}

// Close flushes and closes the allocator and metadata log.
func (s *Storage) Close() error {
	var firstErr error

	if err := s.allocator.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := s.allocator.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := s.metadata.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := s.lock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// Get returns the current value of key, or (nil, false) if absent.
func (s *Storage) Get(key []byte) ([]byte, bool, error) {
	if _, bytes, ok := s.cache.Get(key); ok {
		return bytes, true, nil
	}

	slot, ok := s.metadata.Get(key)
	if !ok {
		return nil, false, nil
	}

	compressed, err := s.allocator.Read(slot)
	if err != nil {
		return nil, false, err
	}

	val, err := Decode(compressed, s.compression)
	if err != nil {
		return nil, false, err
	}

	s.cache.Put(key, slot, val)

	return val, true, nil
}

// Set stores val at key. The old slot (if any) is freed only after the
// new metadata batch is durable, tolerating a brief window of
// double-allocation across a crash in exchange for never losing data:
// the in-memory index, rebuilt from the durable log, is the source of
// truth for which slot is live.
func (s *Storage) Set(key, val []byte) error {
	compressed, err := Encode(val, s.compression)
	if err != nil {
		return err
	}

	oldSlot, hadOld := s.metadata.Get(key)

	newSlot, err := s.allocator.Allocate(len(compressed))
	if err != nil {
		return err
	}

	if err := s.allocator.Write(newSlot, compressed); err != nil {
		return err
	}

	if err := s.metadata.Set(key, newSlot); err != nil {
		return err
	}

	if hadOld {
		if err := s.allocator.Free(oldSlot); err != nil {
			return err
		}
	}

	s.cache.Remove(key)

	return nil
}

// Delete removes key, freeing its slot and writing a durable tombstone.
// It is not an error to delete an absent key.
func (s *Storage) Delete(key []byte) error {
	slot, ok := s.metadata.Get(key)
	if !ok {
		return nil
	}

	if err := s.metadata.Remove(key); err != nil {
		return err
	}

	if err := s.allocator.Free(slot); err != nil {
		return err
	}

	s.cache.Remove(key)

	return nil
}

// Keys returns a snapshot of all live keys, unordered.
func (s *Storage) Keys() [][]byte {
	return s.metadata.Keys()
}

// KeysWithPrefix returns live keys starting with prefix, sorted
// lexicographically by byte value.
func (s *Storage) KeysWithPrefix(prefix []byte) [][]byte {
	all := s.metadata.Keys()

	var matched [][]byte

	for _, k := range all {
		if bytes.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return bytes.Compare(matched[i], matched[j]) < 0
	})

	return matched
}

// Contains reports whether key is present.
func (s *Storage) Contains(key []byte) bool {
	_, ok := s.metadata.Get(key)
	return ok
}

// Len returns the number of live keys.
func (s *Storage) Len() int {
	return s.metadata.Len()
}

// Flush syncs the slot files; the metadata log is always fsync'd at each
// write, so only the allocator needs an explicit flush here.
func (s *Storage) Flush() error {
	return s.allocator.Flush()
}

// CompactMetadata rewrites metadata.log to contain only the live
// mappings, without changing the observable index or any key's value.
func (s *Storage) CompactMetadata() error {
	return s.metadata.Compact()
}

// StorageStats aggregates allocator and cache statistics.
type StorageStats struct {
	KeyCount       int
	TotalAllocated uint64
	SizeClasses    []SizeClassStats
	CacheHits      uint64
	CacheMisses    uint64
	CacheHitRate   float64
}

func (s *Storage) Stats() StorageStats {
	allocStats := s.allocator.Stats()
	cacheStats := s.cache.Stats()

	return StorageStats{
		KeyCount:       s.metadata.Len(),
		TotalAllocated: allocStats.TotalAllocated,
		SizeClasses:    allocStats.SizeClasses,
		CacheHits:      cacheStats.Hits,
		CacheMisses:    cacheStats.Misses,
		CacheHitRate:   cacheStats.HitRate(),
	}
}
