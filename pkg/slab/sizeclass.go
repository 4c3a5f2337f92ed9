package slab

import (
	"container/heap"
	"fmt"
	"sync"
)

// DefaultMinSlotSize and DefaultMaxSlotSize bound the size-class table
// when a store is created without explicit overrides.
const (
	DefaultMinSlotSize uint32 = 64
	DefaultMaxSlotSize uint32 = 64 * 1024
)

// sizeClassGrowth is the per-class growth factor; each class's slot size
// is ceil(prev * sizeClassGrowth), bounding internal fragmentation to
// roughly 1 - 1/growth per slot.
const sizeClassGrowth = 1.2

// computeSizeClasses returns the fixed slot-size ladder from min to max
// inclusive, growing by sizeClassGrowth at each step.
func computeSizeClasses(min, max uint32) ([]uint32, error) {
	if min == 0 {
		return nil, fmt.Errorf("min slot size must be > 0")
	}

	if max < min {
		return nil, fmt.Errorf("max slot size %d is below min slot size %d", max, min)
	}

	var sizes []uint32

	current := uint64(min)
	for current <= uint64(max) {
		sizes = append(sizes, uint32(current))

		next := current * 12 / 10
		if next*10 < current*12 {
			next++ // ceil(current * 1.2) without floating point drift
		}

		if next <= current {
			next = current + 1
		}

		current = next
	}

	if len(sizes) == 0 {
		return nil, fmt.Errorf("no size class fits in [%d, %d]", min, max)
	}

	return sizes, nil
}

// offsetHeap is a min-heap of free byte offsets within one class's slot
// file, giving smallest-offset-first reuse.
type offsetHeap []uint64

func (h offsetHeap) Len() int            { return len(h) }
func (h offsetHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h offsetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *offsetHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }

func (h *offsetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]

	return v
}

// sizeClass tracks one size class's free-offset heap and high-water mark.
// Every mutating method must be called with the owning class's lock held;
// sizeClass itself holds no lock.
type sizeClass struct {
	index      uint16
	slotSize   uint32
	free       offsetHeap
	nextOffset uint64
}

func newSizeClass(index uint16, slotSize uint32) *sizeClass {
	return &sizeClass{index: index, slotSize: slotSize}
}

// canFit reports whether a payload of totalSize (including the 4-byte
// length prefix) fits in this class's slots.
func (c *sizeClass) canFit(totalSize uint32) bool {
	return totalSize <= c.slotSize
}

// allocate returns a free offset, preferring a reused offset from the
// free heap (smallest first) over advancing nextOffset.
func (c *sizeClass) allocate() uint64 {
	if len(c.free) > 0 {
		return heap.Pop(&c.free).(uint64)
	}

	offset := c.nextOffset
	c.nextOffset += uint64(c.slotSize)

	return offset
}

// freeOffset returns offset to the class's reuse heap.
func (c *sizeClass) freeOffset(offset uint64) {
	heap.Push(&c.free, offset)
}

func (c *sizeClass) totalSlots() uint64 {
	if c.slotSize == 0 {
		return 0
	}

	return c.nextOffset / uint64(c.slotSize)
}

// SizeClassStats is a read-only snapshot of one class's occupancy.
type SizeClassStats struct {
	Index      uint16
	SlotSize   uint32
	TotalSlots uint64
	FreeSlots  int
}

func (c *sizeClass) stats() SizeClassStats {
	return SizeClassStats{
		Index:      c.index,
		SlotSize:   c.slotSize,
		TotalSlots: c.totalSlots(),
		FreeSlots:  len(c.free),
	}
}

// guardedClass pairs a sizeClass with the mutex that serializes access to
// it and to its backing file, per the concurrency model: each class has
// its own exclusive lock covering its free heap, next offset, and file.
type guardedClass struct {
	mu    sync.Mutex
	class *sizeClass
}
