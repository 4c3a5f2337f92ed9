package slab

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
	dbfs "github.com/calvinalkan/rethinkdb-core/internal/fs"
)

// lengthPrefixSize is the size, in bytes, of the little-endian u32 length
// prefix written before every slot's payload.
const lengthPrefixSize = 4

// Allocator opens one append-capable slot file per size class and
// performs length-prefixed slot reads/writes, choosing the smallest
// class that fits a given payload.
type Allocator struct {
	fs      dbfs.FS
	dir     string
	classes []*guardedClass
	files   []dbfs.File
}

// OpenAllocator opens (creating if necessary) one slot file per size
// class under dir, for the fixed class ladder computed from [min, max],
// against the real filesystem.
func OpenAllocator(dir string, min, max uint32) (*Allocator, error) {
	return OpenAllocatorFS(dbfs.NewReal(), dir, min, max)
}

// OpenAllocatorFS is [OpenAllocator] parameterized over the [dbfs.FS] used
// for all slot-file I/O, letting tests substitute [dbfs.Chaos] to exercise
// recovery against injected I/O failures.
func OpenAllocatorFS(fsys dbfs.FS, dir string, min, max uint32) (*Allocator, error) {
	sizes, err := computeSizeClasses(min, max)
	if err != nil {
		return nil, dberr.New(dberr.KindInvalidArgument, "allocator: open", err)
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, dberr.New(dberr.KindIO, "allocator: open", err)
	}

	a := &Allocator{fs: fsys, dir: dir}

	for i, size := range sizes {
		idx := uint16(i)

		path := filepath.Join(dir, fileName(idx, size))

		f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			a.Close()
			return nil, dberr.New(dberr.KindIO, "allocator: open slot file", err)
		}

		a.files = append(a.files, f)
		a.classes = append(a.classes, &guardedClass{class: newSizeClass(idx, size)})
	}

	return a, nil
}

// Close closes every slot file without syncing it; [Allocator.Flush]
// does the sync.
func (a *Allocator) Close() error {
	var firstErr error

	for _, f := range a.files {
		if f == nil {
			continue
		}

		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// classFor returns the index of the smallest class whose slot size can
// hold totalSize bytes (payload + length prefix), or an error if none
// can.
func (a *Allocator) classFor(totalSize uint32) (int, error) {
	for i, gc := range a.classes {
		if gc.class.canFit(totalSize) {
			return i, nil
		}
	}

	return -1, dberr.New(dberr.KindSizeExceedsClass, "allocator: allocate",
		fmt.Errorf("no size class fits %d bytes", totalSize))
}

// Allocate reserves a slot large enough for a payload of payloadLen
// bytes, choosing the smallest class whose slot size >= payloadLen+4.
func (a *Allocator) Allocate(payloadLen int) (SlotID, error) {
	total := uint32(payloadLen + lengthPrefixSize)

	ci, err := a.classFor(total)
	if err != nil {
		return SlotID{}, err
	}

	gc := a.classes[ci]

	gc.mu.Lock()
	offset := gc.class.allocate()
	gc.mu.Unlock()

	return SlotID{ClassIndex: uint16(ci), Offset: offset}, nil
}

// Free returns slot's offset to its class's free heap. It does not
// truncate the backing file.
func (a *Allocator) Free(slot SlotID) error {
	gc, err := a.guardedClassFor(slot)
	if err != nil {
		return err
	}

	gc.mu.Lock()
	gc.class.freeOffset(slot.Offset)
	gc.mu.Unlock()

	return nil
}

func (a *Allocator) guardedClassFor(slot SlotID) (*guardedClass, error) {
	if int(slot.ClassIndex) >= len(a.classes) {
		return nil, dberr.New(dberr.KindSlotOutOfBounds, "allocator",
			fmt.Errorf("class index %d out of bounds (have %d classes)", slot.ClassIndex, len(a.classes)))
	}

	return a.classes[slot.ClassIndex], nil
}

// Write stores bytes at slot, length-prefixed. len(bytes)+4 must not
// exceed the class's slot size.
func (a *Allocator) Write(slot SlotID, payload []byte) error {
	gc, err := a.guardedClassFor(slot)
	if err != nil {
		return err
	}

	total := uint32(len(payload) + lengthPrefixSize)

	gc.mu.Lock()
	defer gc.mu.Unlock()

	if !gc.class.canFit(total) {
		return dberr.New(dberr.KindSizeExceedsClass, "allocator: write",
			fmt.Errorf("payload of %d bytes does not fit class %d (slot size %d)", len(payload), slot.ClassIndex, gc.class.slotSize))
	}

	f := a.files[slot.ClassIndex]

	var header [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := f.WriteAt(header[:], int64(slot.Offset)); err != nil {
		return dberr.New(dberr.KindIO, "allocator: write", err)
	}

	if len(payload) > 0 {
		if _, err := f.WriteAt(payload, int64(slot.Offset)+lengthPrefixSize); err != nil {
			return dberr.New(dberr.KindIO, "allocator: write", err)
		}
	}

	return nil
}

// Read returns the payload bytes stored at slot.
func (a *Allocator) Read(slot SlotID) ([]byte, error) {
	gc, err := a.guardedClassFor(slot)
	if err != nil {
		return nil, err
	}

	gc.mu.Lock()
	f := a.files[slot.ClassIndex]
	slotSize := gc.class.slotSize
	gc.mu.Unlock()

	var header [lengthPrefixSize]byte
	if _, err := f.ReadAt(header[:], int64(slot.Offset)); err != nil {
		return nil, dberr.New(dberr.KindIO, "allocator: read", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length+lengthPrefixSize > slotSize {
		return nil, dberr.New(dberr.KindSlotOutOfBounds, "allocator: read",
			fmt.Errorf("recorded length %d exceeds slot size %d", length, slotSize))
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := f.ReadAt(payload, int64(slot.Offset)+lengthPrefixSize); err != nil {
			return nil, dberr.New(dberr.KindIO, "allocator: read", err)
		}
	}

	return payload, nil
}

// Flush syncs every slot file to stable storage.
func (a *Allocator) Flush() error {
	for _, f := range a.files {
		if err := fsyncFile(f); err != nil {
			return dberr.New(dberr.KindIO, "allocator: flush", err)
		}
	}

	return nil
}

// Stats returns per-class occupancy plus the total number of slots
// allocated across all classes.
type Stats struct {
	SizeClasses    []SizeClassStats
	TotalAllocated uint64
}

func (a *Allocator) Stats() Stats {
	var s Stats

	for _, gc := range a.classes {
		gc.mu.Lock()
		st := gc.class.stats()
		gc.mu.Unlock()

		s.SizeClasses = append(s.SizeClasses, st)
		s.TotalAllocated += st.TotalSlots
	}

	return s
}
