package slab

import (
	"container/list"
	"sync"
)

// cacheEntry is the payload stored at each cache slot: the slot the
// bytes came from and the decompressed bytes. Get returns the slot with
// the bytes; the cache does not compare it with the current mapping.
type cacheEntry struct {
	key   string
	slot  SlotID
	bytes []byte
}

// Cache is a bounded LRU mapping user keys to (slot, decompressed bytes).
// It is the only component allowed to return stale data; the engine is
// responsible for invalidating an entry before a mutation to that key
// becomes observable.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element

	hits   uint64
	misses uint64
}

// NewCache builds a cache with the given capacity. A capacity <= 0
// disables caching entirely (every Get is a miss, Put is a no-op).
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached (slot, bytes) for key, recording a hit or miss.
func (c *Cache) Get(key []byte) (SlotID, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[string(key)]
	if !ok {
		c.misses++
		return SlotID{}, nil, false
	}

	c.hits++
	c.ll.MoveToFront(el)

	entry := el.Value.(*cacheEntry)

	return entry.slot, entry.bytes, true
}

// Put inserts (or refreshes) key at MRU, evicting from the LRU end until
// within capacity.
func (c *Cache) Put(key []byte, slot SlotID, bytes []byte) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := string(key)

	if el, ok := c.items[k]; ok {
		el.Value.(*cacheEntry).slot = slot
		el.Value.(*cacheEntry).bytes = bytes
		c.ll.MoveToFront(el)

		return
	}

	el := c.ll.PushFront(&cacheEntry{key: k, slot: slot, bytes: bytes})
	c.items[k] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}

		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Remove evicts key, if present.
func (c *Cache) Remove(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := string(key)
	if el, ok := c.items[k]; ok {
		c.ll.Remove(el)
		delete(c.items, k)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// CacheStats reports hit/miss counters and current occupancy.
type CacheStats struct {
	Hits     uint64
	Misses   uint64
	Size     int
	Capacity int
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.ll.Len(),
		Capacity: c.capacity,
	}
}

// HitRate returns hits / (hits + misses), or 0 if there have been no
// lookups yet.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}
