package descset

import (
	"fmt"

	"github.com/gogpu/descset/internal/vma"
)

// poolHeapOffset biases pool heap addresses so the allocator can use 0
// as its failure sentinel.
const poolHeapOffset = 64

// Host bookkeeping weights. The host arena does not hold the Go-side
// structures itself; it meters them so a pool enforces the same limits
// whether or not sets ever touch GPU memory.
const (
	setControlSize        = 128
	descriptorControlSize = 32
	bufferViewControlSize = 64
)

// combinedImagePlaneAllowance oversizes combined image/sampler pool
// entries so multi-planar samplers always fit.
const combinedImagePlaneAllowance = 3

// poolHeap is one descriptor region of a pool: a backing region plus a
// range allocator over it.
type poolHeap struct {
	region    *Region
	heap      vma.Heap
	size      uint64
	allocSize uint64
}

func (h *poolHeap) init(b Backing, size uint64, kind RegionKind, label string) error {
	h.size = size
	h.heap.Init(poolHeapOffset, size)
	if size == 0 {
		return nil
	}
	r, err := b.Alloc(size, kind, label)
	if err != nil {
		return err
	}
	h.region = r
	return nil
}

// alloc carves size bytes and distinguishes the two failure modes: a
// request that could never fit in the remaining bytes is pool
// exhaustion, one defeated only by the current free-list shape is
// fragmentation.
func (h *poolHeap) alloc(size, alignment uint64) (uint64, error) {
	if size == 0 {
		return poolHeapOffset, nil
	}
	addr := h.heap.Alloc(size, alignment)
	if addr == 0 {
		if size > h.size-h.allocSize {
			return 0, ErrOutOfPoolMemory
		}
		return 0, ErrFragmentedPool
	}
	h.allocSize += size
	return addr, nil
}

func (h *poolHeap) free(addr, size uint64) {
	if size == 0 {
		return
	}
	h.heap.Free(addr, size)
	h.allocSize -= size
}

// bytes maps a heap address to the backing bytes.
func (h *poolHeap) bytes(addr, size uint64) []byte {
	off := addr - poolHeapOffset
	return h.region.Bytes[off : off+size : off+size]
}

func (h *poolHeap) address(addr uint64) uint64 {
	if h.region == nil || h.region.Address == 0 {
		return 0
	}
	return h.region.Address + (addr - poolHeapOffset)
}

func (h *poolHeap) reset() {
	h.heap.Init(poolHeapOffset, h.size)
	h.allocSize = 0
}

// Pool owns the memory descriptor sets are carved from: a surface
// region, a sampler region (direct layout mode only), and a host arena
// metering per-set bookkeeping. All capacity is reserved up front; the
// pool never grows.
//
// A pool and the sets allocated from it form one update domain: at most
// one goroutine may allocate, free, write, or reset within a pool at a
// time. Distinct pools are fully independent.
type Pool struct {
	backing  Backing
	caps     DeviceCaps
	mode     LayoutMode
	hostOnly bool

	surfaces poolHeap
	samplers poolHeap

	host struct {
		heap      vma.Heap
		size      uint64
		allocSize uint64
	}

	sets map[*Set]struct{}

	// freeStates recycles fixed-size surface state blocks carved from
	// the surface heap for buffer views.
	freeStates []State
}

// NewPool reserves capacity for info and returns an empty pool.
func NewPool(backing Backing, caps DeviceCaps, info *PoolInfo) (*Pool, error) {
	mode := layoutModeFor(caps, 0)
	hostOnly := info.Flags&PoolHostOnly != 0

	var surfaceSize, samplerSize uint64
	var descCount, viewCount uint64

	for i := range info.Sizes {
		ps := &info.Sizes[i]
		if ps.Type == TypeInlineUniformBlock {
			// Count is a byte capacity here.
			surfaceSize += uint64(ps.Count)
			descCount++
			continue
		}

		b := Binding{Type: ps.Type, Count: ps.Count, MutableTypes: ps.MutableTypes}
		kinds := classifyBinding(caps, mode, &b, 0)
		su, sa := bindingStrides(caps, mode, &b, 0, 1)

		count := uint64(ps.Count)
		if ps.Type == TypeCombinedImageSampler {
			count *= combinedImagePlaneAllowance
		}
		surfaceSize += count * uint64(su)
		samplerSize += count * uint64(sa)

		descCount += uint64(ps.Count)
		if kinds.Has(KindBufferView) {
			viewCount += uint64(ps.Count)
		}
	}

	// Alignment slack: every set starts on a BufferAlignment boundary,
	// and each inline uniform binding realigns within its set.
	surfaceSize += BufferAlignment * uint64(info.MaxSets)
	surfaceSize += BufferAlignment * uint64(info.MaxInlineUniformBindings)

	// Buffer views need a pool-allocated surface state block each.
	surfaceSize += SurfaceStateSize * viewCount

	p := &Pool{
		backing:  backing,
		caps:     caps,
		mode:     mode,
		hostOnly: hostOnly,
		sets:     make(map[*Set]struct{}),
	}

	surfaceKind, samplerKind := RegionSurfaces, RegionSamplers
	if hostOnly {
		surfaceKind, samplerKind = RegionHost, RegionHost
	}
	if err := p.surfaces.init(backing, surfaceSize, surfaceKind, "descriptor-pool-surfaces"); err != nil {
		return nil, err
	}
	if mode == ModeDirect && samplerSize > 0 {
		if err := p.samplers.init(backing, samplerSize, samplerKind, "descriptor-pool-samplers"); err != nil {
			p.surfaces.destroy(backing)
			return nil, err
		}
	}

	p.host.size = uint64(info.MaxSets)*setControlSize +
		descCount*descriptorControlSize +
		viewCount*bufferViewControlSize
	p.host.heap.Init(poolHeapOffset, p.host.size)

	logger.Debug("pool created",
		"mode", mode,
		"surface_size", surfaceSize,
		"sampler_size", samplerSize,
		"host_size", p.host.size,
		"host_only", hostOnly,
	)
	return p, nil
}

func (h *poolHeap) destroy(b Backing) {
	if h.region != nil {
		b.Free(h.region)
		h.region = nil
	}
}

func (p *Pool) hostAlloc(size uint64) (uint64, error) {
	addr := p.host.heap.Alloc(size, 8)
	if addr == 0 {
		if size > p.host.size-p.host.allocSize {
			return 0, ErrOutOfPoolMemory
		}
		return 0, ErrFragmentedPool
	}
	p.host.allocSize += size
	return addr, nil
}

func (p *Pool) hostFree(addr, size uint64) {
	p.host.heap.Free(addr, size)
	p.host.allocSize -= size
}

// AllocateSet carves one set out of the pool. varCount supplies the
// element count of a variable-count binding and is ignored for fixed
// layouts. The set's descriptor memory is zeroed.
//
// Returns ErrOutOfPoolMemory when the pool lacks capacity outright and
// ErrFragmentedPool when only the current allocation pattern is in the
// way; freeing other sets may cure the latter.
func (p *Pool) AllocateSet(layout *SetLayout, varCount uint32) (*Set, error) {
	if layout.Flags&LayoutPushDescriptor != 0 {
		panic("descset: push descriptor layouts are not pool-allocated")
	}
	if vb := layout.varBinding(); vb != nil {
		if varCount > vb.ArraySize {
			panic(fmt.Sprintf("descset: variable count %d exceeds declared capacity %d", varCount, vb.ArraySize))
		}
	} else {
		varCount = 0
	}

	hostSize := uint64(setControlSize) +
		uint64(layout.descriptorCount(varCount))*descriptorControlSize +
		uint64(layout.bufferViewCount(varCount))*bufferViewControlSize
	hostAddr, err := p.hostAlloc(hostSize)
	if err != nil {
		return nil, err
	}

	surfSize, sampSize := layout.bufferSizes(varCount)
	surfAddr, err := p.surfaces.alloc(uint64(surfSize), BufferAlignment)
	if err != nil {
		p.hostFree(hostAddr, hostSize)
		return nil, err
	}
	sampAddr, err := p.samplers.alloc(uint64(sampSize), SamplerStateSize)
	if err != nil {
		p.surfaces.free(surfAddr, uint64(surfSize))
		p.hostFree(hostAddr, hostSize)
		return nil, err
	}

	layout.Retain()
	s := &Set{
		Layout:   layout,
		pool:     p,
		varCount: varCount,
		hostAddr: hostAddr,
		hostSize: hostSize,
	}
	s.init()
	if surfSize > 0 {
		s.surface = Allocation{
			Bytes:   p.surfaces.bytes(surfAddr, uint64(surfSize)),
			Offset:  surfAddr,
			Size:    uint64(surfSize),
			Address: p.surfaces.address(surfAddr),
		}
		clear(s.surface.Bytes)
	}
	if sampSize > 0 {
		s.sampler = Allocation{
			Bytes:   p.samplers.bytes(sampAddr, uint64(sampSize)),
			Offset:  sampAddr,
			Size:    uint64(sampSize),
			Address: p.samplers.address(sampAddr),
		}
		clear(s.sampler.Bytes)
	}
	s.writeImmutableSamplers()

	p.sets[s] = struct{}{}
	return s, nil
}

// AllocateSets allocates one set per layout, all or nothing. varCounts
// may be nil, or match layouts in length. On any failure every set
// allocated so far is returned to the pool and the failing error
// surfaces.
func (p *Pool) AllocateSets(layouts []*SetLayout, varCounts []uint32) ([]*Set, error) {
	if varCounts != nil && len(varCounts) != len(layouts) {
		panic("descset: varCounts length does not match layouts")
	}
	out := make([]*Set, 0, len(layouts))
	for i, l := range layouts {
		var vc uint32
		if varCounts != nil {
			vc = varCounts[i]
		}
		s, err := p.AllocateSet(l, vc)
		if err != nil {
			for _, done := range out {
				p.FreeSet(done)
			}
			return nil, fmt.Errorf("allocating set %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// FreeSet returns a set's memory to the pool. The set must not be used
// afterwards.
func (p *Pool) FreeSet(s *Set) {
	if s.pool != p {
		panic("descset: set freed into the wrong pool")
	}
	if _, ok := p.sets[s]; !ok {
		panic("descset: set freed twice")
	}
	delete(p.sets, s)

	for i := range s.bufferViews {
		if s.bufferViews[i].state.valid() {
			p.freeState(s.bufferViews[i].state)
		}
	}
	if s.surface.Size > 0 {
		p.surfaces.free(s.surface.Offset, s.surface.Size)
	}
	if s.sampler.Size > 0 {
		p.samplers.free(s.sampler.Offset, s.sampler.Size)
	}
	p.hostFree(s.hostAddr, s.hostSize)
	s.Layout.Release()
	s.pool = nil
}

// Reset frees every live set at once and restores full capacity. Sets
// allocated before the reset are invalid afterwards. The caller must
// guarantee the GPU no longer reads any of them.
func (p *Pool) Reset() {
	for s := range p.sets {
		s.Layout.Release()
		s.pool = nil
	}
	clear(p.sets)
	p.freeStates = p.freeStates[:0]
	p.surfaces.reset()
	p.samplers.reset()
	p.host.heap.Init(poolHeapOffset, p.host.size)
	p.host.allocSize = 0
	if p.surfaces.region != nil {
		clear(p.surfaces.region.Bytes)
	}
	if p.samplers.region != nil {
		clear(p.samplers.region.Bytes)
	}
}

// Destroy releases the pool's backing regions. Live sets become invalid.
func (p *Pool) Destroy() {
	p.Reset()
	p.surfaces.destroy(p.backing)
	p.samplers.destroy(p.backing)
}

// allocState carves one surface state block for a buffer view,
// preferring the recycle list.
func (p *Pool) allocState() (State, error) {
	if n := len(p.freeStates); n > 0 {
		st := p.freeStates[n-1]
		p.freeStates = p.freeStates[:n-1]
		clear(st.Data)
		return st, nil
	}
	addr, err := p.surfaces.alloc(SurfaceStateSize, SurfaceStateSize)
	if err != nil {
		return State{}, err
	}
	return State{
		Data:    p.surfaces.bytes(addr, SurfaceStateSize),
		Address: p.surfaces.address(addr),
	}, nil
}

func (p *Pool) freeState(st State) {
	p.freeStates = append(p.freeStates, st)
}

// markDirty flags the pool's GPU regions after descriptor bytes change.
func (p *Pool) markDirty() {
	if p.surfaces.region != nil {
		p.surfaces.region.markDirty()
	}
	if p.samplers.region != nil {
		p.samplers.region.markDirty()
	}
}
