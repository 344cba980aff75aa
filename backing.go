package descset

import (
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"
)

// RegionKind tells a Backing what a region will hold, so it can pick
// usage flags and labels.
type RegionKind uint8

const (
	// RegionSurfaces holds surface states, indirect records, buffer-view
	// states, and inline uniform bytes.
	RegionSurfaces RegionKind = iota

	// RegionSamplers holds sampler states (direct layout mode only).
	RegionSamplers

	// RegionHost holds host-only staging data with no GPU address.
	RegionHost
)

// Region is one backing allocation: host-visible bytes plus the GPU
// address shaders dereference. Host-only regions have Address zero.
type Region struct {
	Bytes   []byte
	Address uint64

	buffer hal.Buffer
	dirty  bool
}

// Backing supplies the memory descriptor pools carve sets out of. A pool
// holds at most three regions for its whole lifetime, so Alloc is a rare,
// coarse operation.
type Backing interface {
	// Alloc returns a zeroed region of the given size.
	Alloc(size uint64, kind RegionKind, label string) (*Region, error)

	// Free releases a region. The region's bytes must not be touched
	// afterwards.
	Free(r *Region) error
}

// HostBacking backs pools with plain host memory and hands out fake,
// monotonically increasing addresses so address arithmetic stays
// exercisable without a device. Useful for host-only pools and tests.
type HostBacking struct {
	mu   sync.Mutex
	next uint64
}

// NewHostBacking returns a host-memory backing.
func NewHostBacking() *HostBacking {
	return &HostBacking{next: 1 << 32}
}

func (b *HostBacking) Alloc(size uint64, kind RegionKind, label string) (*Region, error) {
	r := &Region{Bytes: make([]byte, size)}
	if kind != RegionHost {
		b.mu.Lock()
		r.Address = b.next
		b.next += align(size, 4096)
		b.mu.Unlock()
	}
	return r, nil
}

func (b *HostBacking) Free(r *Region) error {
	r.Bytes = nil
	return nil
}

// HALBacking backs pools with GPU buffers plus a host shadow. Descriptor
// writes land in the shadow; Flush uploads the dirty regions through the
// queue before work that reads them is submitted.
type HALBacking struct {
	device hal.Device
	queue  hal.Queue

	mu      sync.Mutex
	next    uint64
	regions map[*Region]struct{}
}

// NewHALBacking wraps a device and its queue. baseAddress is where the
// device maps descriptor regions in its address space; address-range
// records are computed relative to it.
func NewHALBacking(device hal.Device, queue hal.Queue, baseAddress uint64) *HALBacking {
	if baseAddress == 0 {
		baseAddress = 1 << 40
	}
	return &HALBacking{
		device:  device,
		queue:   queue,
		next:    baseAddress,
		regions: make(map[*Region]struct{}),
	}
}

func (b *HALBacking) Alloc(size uint64, kind RegionKind, label string) (*Region, error) {
	if kind == RegionHost {
		return &Region{Bytes: make([]byte, size)}, nil
	}
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: types.BufferUsageStorage | types.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfDeviceMemory, err)
	}
	b.mu.Lock()
	r := &Region{
		Bytes:   make([]byte, size),
		Address: b.next,
		buffer:  buf,
	}
	b.next += align(size, 4096)
	b.regions[r] = struct{}{}
	b.mu.Unlock()
	return r, nil
}

func (b *HALBacking) Free(r *Region) error {
	if r.buffer != nil {
		b.device.DestroyBuffer(r.buffer)
		r.buffer = nil
	}
	b.mu.Lock()
	delete(b.regions, r)
	b.mu.Unlock()
	r.Bytes = nil
	return nil
}

// Flush uploads every dirty region's shadow bytes to its GPU buffer.
// Call it after a batch of descriptor updates, before submission.
func (b *HALBacking) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for r := range b.regions {
		if !r.dirty {
			continue
		}
		b.queue.WriteBuffer(r.buffer, 0, r.Bytes)
		r.dirty = false
	}
}

// markDirty records that a region's shadow bytes changed.
func (r *Region) markDirty() {
	if r.buffer != nil {
		r.dirty = true
	}
}
