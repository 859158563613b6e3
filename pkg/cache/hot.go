package cache

import (
	"container/list"
	"sync"
)

// DefaultHotCapacity bounds the hot tier when Config.HotCapacity is unset.
const DefaultHotCapacity = 1000

// HotCache is the bounded in-memory LRU tier. It holds lightweight
// projections of the most recently touched entries and evicts the least
// recently used entry when full. Dropping it entirely and rebuilding from the
// store tier changes nothing but latency.
type HotCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

type hotItem struct {
	key   string
	entry HotEntry
}

// NewHotCache creates a hot cache bounded at capacity entries.
func NewHotCache(capacity int) *HotCache {
	if capacity <= 0 {
		capacity = DefaultHotCapacity
	}
	return &HotCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the entry for key and marks it most recently used.
func (h *HotCache) Get(key string) (HotEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	elem, ok := h.items[key]
	if !ok {
		return HotEntry{}, false
	}
	h.order.MoveToFront(elem)
	return elem.Value.(*hotItem).entry, true
}

// Put inserts or replaces the entry for key, evicting the least recently
// used entry first if the tier is at capacity.
func (h *HotCache) Put(key string, entry HotEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if elem, ok := h.items[key]; ok {
		elem.Value.(*hotItem).entry = entry
		h.order.MoveToFront(elem)
		return
	}

	if h.order.Len() >= h.capacity {
		oldest := h.order.Back()
		if oldest != nil {
			h.order.Remove(oldest)
			delete(h.items, oldest.Value.(*hotItem).key)
			cacheEvictions.Inc()
		}
	}

	h.items[key] = h.order.PushFront(&hotItem{key: key, entry: entry})
}

// Delete removes the entry for key if present.
func (h *HotCache) Delete(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if elem, ok := h.items[key]; ok {
		h.order.Remove(elem)
		delete(h.items, key)
	}
}

// Clear empties the tier.
func (h *HotCache) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.order.Init()
	h.items = make(map[string]*list.Element, h.capacity)
}

// Len returns the current number of entries.
func (h *HotCache) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order.Len()
}
