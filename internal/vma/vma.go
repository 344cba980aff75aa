// Package vma implements a first-fit, address-ordered virtual memory
// range allocator. It hands out offsets, not memory: callers map the
// returned addresses onto whatever backing store they manage.
//
// The free list is kept sorted by address and adjacent extents are
// coalesced on free, so a fully drained heap always collapses back to a
// single extent. Allocation prefers the lowest usable address, which
// keeps the heap compact under churn.
package vma

import "fmt"

type extent struct {
	addr uint64
	size uint64
}

// Heap is a range allocator over [base, base+size). The zero address is
// never handed out, so callers can use 0 as an allocation-failed
// sentinel; pick a nonzero base to guarantee that.
//
// Not safe for concurrent use.
type Heap struct {
	free     []extent
	freeSize uint64
	base     uint64
	size     uint64
}

// Init resets the heap to a single free extent covering [base, base+size).
func (h *Heap) Init(base, size uint64) {
	if base == 0 {
		panic("vma: heap base must be nonzero")
	}
	h.free = h.free[:0]
	if size > 0 {
		h.free = append(h.free, extent{addr: base, size: size})
	}
	h.freeSize = size
	h.base = base
	h.size = size
}

// Size returns the heap's total capacity.
func (h *Heap) Size() uint64 { return h.size }

// FreeSize returns the total free bytes, counting fragmentation holes.
func (h *Heap) FreeSize() uint64 { return h.freeSize }

// Alloc carves size bytes at the given power-of-two alignment out of the
// lowest-addressed extent that fits. Returns 0 when no single extent can
// satisfy the request.
func (h *Heap) Alloc(size, alignment uint64) uint64 {
	if size == 0 {
		panic("vma: zero-size allocation")
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		panic(fmt.Sprintf("vma: alignment %d is not a power of two", alignment))
	}

	for i := range h.free {
		e := h.free[i]
		addr := (e.addr + alignment - 1) &^ (alignment - 1)
		pad := addr - e.addr
		if pad+size > e.size {
			continue
		}
		tail := e.size - pad - size

		switch {
		case pad == 0 && tail == 0:
			h.free = append(h.free[:i], h.free[i+1:]...)
		case pad == 0:
			h.free[i] = extent{addr: addr + size, size: tail}
		case tail == 0:
			h.free[i] = extent{addr: e.addr, size: pad}
		default:
			h.free[i] = extent{addr: e.addr, size: pad}
			rest := extent{addr: addr + size, size: tail}
			h.free = append(h.free, extent{})
			copy(h.free[i+2:], h.free[i+1:])
			h.free[i+1] = rest
		}
		h.freeSize -= size
		return addr
	}
	return 0
}

// Free returns [addr, addr+size) to the heap, merging with free
// neighbors. Freeing a range that overlaps a free extent panics.
func (h *Heap) Free(addr, size uint64) {
	if size == 0 {
		return
	}
	if addr < h.base || addr+size > h.base+h.size {
		panic(fmt.Sprintf("vma: free of [%#x,%#x) outside heap [%#x,%#x)", addr, addr+size, h.base, h.base+h.size))
	}

	// Insertion point: first extent at or above addr.
	i := 0
	for i < len(h.free) && h.free[i].addr < addr {
		i++
	}
	if i < len(h.free) && addr+size > h.free[i].addr {
		panic(fmt.Sprintf("vma: double free at %#x", addr))
	}
	if i > 0 && h.free[i-1].addr+h.free[i-1].size > addr {
		panic(fmt.Sprintf("vma: double free at %#x", addr))
	}

	mergePrev := i > 0 && h.free[i-1].addr+h.free[i-1].size == addr
	mergeNext := i < len(h.free) && addr+size == h.free[i].addr

	switch {
	case mergePrev && mergeNext:
		h.free[i-1].size += size + h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	case mergePrev:
		h.free[i-1].size += size
	case mergeNext:
		h.free[i].addr = addr
		h.free[i].size += size
	default:
		h.free = append(h.free, extent{})
		copy(h.free[i+1:], h.free[i:])
		h.free[i] = extent{addr: addr, size: size}
	}
	h.freeSize += size
}
