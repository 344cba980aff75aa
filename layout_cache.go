package descset

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// LayoutCache deduplicates set layouts by identity hash.
//
// Layout compilation is cheap but layouts are compared by pointer
// throughout pipeline binding, so handing the same *SetLayout back for
// an identical shape makes equality checks trivial and keeps pipeline
// compatibility exact.
//
// Thread Safety:
// LayoutCache is safe for concurrent use. It uses RWMutex with
// double-check locking for efficient reads and safe writes.
//
// The cache tracks hit/miss statistics for performance monitoring.
type LayoutCache struct {
	// mu protects mutable state.
	mu sync.RWMutex

	// layouts stores compiled layouts indexed by input hash.
	layouts map[uint64]*SetLayout

	// hits counts cache hits (atomic for lock-free reads).
	hits uint64

	// misses counts cache misses (atomic for lock-free reads).
	misses uint64
}

// NewLayoutCache creates an empty layout cache.
func NewLayoutCache() *LayoutCache {
	return &LayoutCache{
		layouts: make(map[uint64]*SetLayout),
	}
}

// GetOrCreate returns a cached layout for the given shape or compiles a
// new one. The cache holds one reference per stored layout; callers get
// an additional reference they own.
//
//  1. Fast path: RLock, check cache, return if found
//  2. Slow path: Lock, double-check, compile if needed
func (c *LayoutCache) GetOrCreate(caps DeviceCaps, info *SetLayoutInfo) (*SetLayout, error) {
	key := hashSetLayoutInfo(caps, info)

	// Fast path: read lock
	c.mu.RLock()
	if l, ok := c.layouts[key]; ok {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)
		l.Retain()
		return l, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.layouts[key]; ok {
		atomic.AddUint64(&c.hits, 1)
		l.Retain()
		return l, nil
	}

	l, err := NewSetLayout(caps, info)
	if err != nil {
		return nil, err
	}
	l.Retain()
	c.layouts[key] = l
	atomic.AddUint64(&c.misses, 1)
	return l, nil
}

// Stats returns the number of cache hits and misses.
// These values are read atomically and may not be perfectly synchronized.
func (c *LayoutCache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (c *LayoutCache) HitRate() float64 {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of cached layouts.
func (c *LayoutCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layouts)
}

// Clear drops every cached layout, releasing the cache's references,
// and resets statistics.
func (c *LayoutCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range c.layouts {
		l.Release()
	}
	c.layouts = make(map[uint64]*SetLayout)
	atomic.StoreUint64(&c.hits, 0)
	atomic.StoreUint64(&c.misses, 0)
}

// hashSetLayoutInfo computes an FNV-1a hash over layout inputs. Unlike
// SetLayout.Hash this covers the raw declaration, before sorting and
// offset assignment, so it can key the cache without compiling.
func hashSetLayoutInfo(caps DeviceCaps, info *SetLayoutInfo) uint64 {
	h := fnv.New64a()

	hashWriteBool(h, caps.IndirectDescriptors)
	hashWriteBool(h, caps.ExtendedBindlessOffsets)
	hashWriteBool(h, caps.ForceBindless)
	hashWriteUint32(h, uint32(info.Flags))

	hashWriteUint32(h, uint32(len(info.Bindings)))
	for i := range info.Bindings {
		b := &info.Bindings[i]
		hashWriteUint32(h, uint32(b.Number))
		hashWriteUint32(h, uint32(b.Type))
		hashWriteUint32(h, b.Count)
		hashWriteUint32(h, uint32(b.Stages))
		hashWriteUint32(h, uint32(b.Flags))
		hashWriteUint32(h, uint32(len(b.Samplers)))
		for _, s := range b.Samplers {
			if s == nil {
				hashWriteUint64(h, 0)
				continue
			}
			hashWriteUint64(h, s.EmbeddedKey)
			hashWriteBool(h, s.HasYCbCr)
			if s.HasYCbCr {
				hashWriteUint64(h, s.YCbCrState)
			}
		}
		hashWriteUint32(h, uint32(len(b.MutableTypes)))
		for _, t := range b.MutableTypes {
			hashWriteUint32(h, uint32(t))
		}
	}
	return h.Sum64()
}

// hashWriteUint32 writes a uint32 to the hash.
func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteUint64 writes a uint64 to the hash.
func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteBool writes a bool to the hash.
func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
