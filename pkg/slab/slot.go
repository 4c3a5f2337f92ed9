// Package slab implements the on-disk slab allocator, metadata log,
// compression codec, value cache, and the storage engine that composes
// them: values live in fixed-size slots grouped by size class, and a
// checksummed append-only log maps keys to slots.
package slab

import "fmt"

// TombstoneClassIndex is a class index that is never assigned to a real
// size class (classes are numbered densely from 0). A metadata mapping
// to a SlotID with this class index marks the key as deleted; see
// MetadataStore.Remove.
const TombstoneClassIndex uint16 = 0xFFFF

// SlotID names a fixed-size region within one size class's slot file.
type SlotID struct {
	ClassIndex uint16
	Offset     uint64
}

// IsTombstone reports whether id is the reserved sentinel written by a
// durable delete.
func (id SlotID) IsTombstone() bool {
	return id.ClassIndex == TombstoneClassIndex
}

func (id SlotID) String() string {
	return fmt.Sprintf("slot(class=%d,offset=%d)", id.ClassIndex, id.Offset)
}

// fileName returns the on-disk slot file name for a size class, following
// the "data/slab_{NNNN}_{size}.bin" layout.
func fileName(classIndex uint16, slotSize uint32) string {
	return fmt.Sprintf("slab_%04d_%d.bin", classIndex, slotSize)
}
