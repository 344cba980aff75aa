package descset

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// BindingLayout is the compiled form of one binding: stable offsets and
// strides into the set's descriptor regions.
type BindingLayout struct {
	Type  DescriptorType
	Flags BindingFlags
	Kinds DataKindSet

	// ArraySize is the element count, or the byte capacity for inline
	// uniform bindings.
	ArraySize uint32

	// DescriptorIndex locates the binding's first slot in the set's
	// descriptor bookkeeping array.
	DescriptorIndex uint32

	// DynamicOffsetIndex is the binding's first slot in the dynamic
	// offset table, or -1.
	DynamicOffsetIndex int32

	// BufferViewIndex is the binding's first pool buffer-view slot, or -1.
	BufferViewIndex int32

	// MaxPlaneCount is the widest plane count any element can need.
	MaxPlaneCount uint8

	// SurfaceOffset and SamplerOffset locate element 0 within the set's
	// surface and sampler regions.
	SurfaceOffset uint32
	SamplerOffset uint32

	// SurfaceStride and SamplerStride are the per-element strides. Zero
	// means the binding stores nothing in that region.
	SurfaceStride uint16
	SamplerStride uint16

	// Samplers holds the immutable samplers, one per element, or nil.
	Samplers []*Sampler
}

// SetLayout is an immutable, refcounted description of one descriptor
// set: compiled bindings, region sizes, and an identity hash.
type SetLayout struct {
	caps DeviceCaps

	Mode  LayoutMode
	Flags LayoutFlags

	// Bindings is indexed by binding number; holes in a sparse layout are
	// zero-sized entries.
	Bindings []BindingLayout

	// DescriptorCount is the total bookkeeping slot count across bindings.
	DescriptorCount uint32

	// BufferViewCount is the number of pool buffer-view slots a set needs.
	BufferViewCount uint32

	// DynamicOffsetCount and DynamicOffsetStages describe the layout's
	// slice of the dynamic offset table.
	DynamicOffsetCount  uint32
	DynamicOffsetStages [MaxDynamicBuffers]gputypes.ShaderStage

	// ShaderStages is the union of all binding visibilities.
	ShaderStages gputypes.ShaderStage

	// SurfaceSize and SamplerSize are the region sizes at full declared
	// capacity. See bufferSizes for variable-count layouts.
	SurfaceSize uint32
	SamplerSize uint32

	// EmbeddedSamplerCount counts sampler elements baked into shaders.
	EmbeddedSamplerCount uint32

	// Hash identifies the layout: two layouts with equal hashes are
	// interchangeable for pipeline compatibility.
	Hash uint64

	refs atomic.Int32
}

// NewSetLayout compiles a set layout. The returned layout holds one
// reference; callers release it with Release.
//
// Contract violations (dynamic buffer overflow, a variable-count binding
// that is not last, immutable sampler count mismatch) panic. Layout
// shapes the device genuinely cannot represent return
// ErrUnsupportedLayout.
func NewSetLayout(caps DeviceCaps, info *SetLayoutInfo) (*SetLayout, error) {
	mode := layoutModeFor(caps, info.Flags)

	if info.Flags&LayoutDescriptorBuffer != 0 {
		for i := range info.Bindings {
			b := &info.Bindings[i]
			if b.Type != TypeMutable {
				continue
			}
			for _, t := range mutableCandidates(b.MutableTypes) {
				if t == TypeCombinedImageSampler {
					// The fused surface+sampler shape cannot coexist with
					// other mutable members in a raw descriptor buffer.
					return nil, fmt.Errorf("%w: mutable binding including combined image samplers on a descriptor buffer", ErrUnsupportedLayout)
				}
			}
		}
	}

	numBindings := 0
	for i := range info.Bindings {
		if info.Bindings[i].Number+1 > numBindings {
			numBindings = info.Bindings[i].Number + 1
		}
	}

	l := &SetLayout{
		caps:     caps,
		Mode:     mode,
		Flags:    info.Flags,
		Bindings: make([]BindingLayout, numBindings),
	}
	for i := range l.Bindings {
		l.Bindings[i].DynamicOffsetIndex = -1
		l.Bindings[i].BufferViewIndex = -1
	}

	// Declarations may arrive in any order; compile in binding order so
	// offsets and indices are stable.
	order := make([]int, len(info.Bindings))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return info.Bindings[order[a]].Number < info.Bindings[order[b]].Number
	})

	var surfaceOff, samplerOff uint32
	for oi, idx := range order {
		in := &info.Bindings[idx]
		out := &l.Bindings[in.Number]
		if out.ArraySize != 0 || out.Kinds != 0 {
			panic(fmt.Sprintf("descset: binding %d declared twice", in.Number))
		}
		if in.Flags&BindingVariableCount != 0 && oi != len(order)-1 {
			panic(fmt.Sprintf("descset: variable-count binding %d is not the last binding", in.Number))
		}

		out.Type = in.Type
		out.Flags = in.Flags
		out.ArraySize = in.Count
		out.Kinds = classifyBinding(caps, mode, in, info.Flags)
		out.MaxPlaneCount = 1

		embedded := info.Flags&LayoutEmbeddedSamplers != 0 && in.Type == TypeSampler

		if len(in.Samplers) > 0 {
			if in.Count != 0 && uint32(len(in.Samplers)) != in.Count {
				panic(fmt.Sprintf("descset: binding %d has %d immutable samplers for %d elements", in.Number, len(in.Samplers), in.Count))
			}
			out.Samplers = make([]*Sampler, len(in.Samplers))
			copy(out.Samplers, in.Samplers)
			for _, s := range in.Samplers {
				if p := s.planes(); p > out.MaxPlaneCount {
					out.MaxPlaneCount = p
				}
			}
		}

		l.ShaderStages |= in.Stages

		out.DescriptorIndex = l.DescriptorCount
		if in.Type == TypeInlineUniformBlock {
			l.DescriptorCount++
		} else {
			l.DescriptorCount += in.Count
		}

		if in.Type.isDynamic() {
			if l.DynamicOffsetCount+in.Count > MaxDynamicBuffers {
				panic(fmt.Sprintf("descset: more than %d dynamic buffers in one set", MaxDynamicBuffers))
			}
			out.DynamicOffsetIndex = int32(l.DynamicOffsetCount)
			for i := uint32(0); i < in.Count; i++ {
				l.DynamicOffsetStages[l.DynamicOffsetCount+i] = in.Stages
			}
			l.DynamicOffsetCount += in.Count
		}

		if out.Kinds.Has(KindBufferView) {
			out.BufferViewIndex = int32(l.BufferViewCount)
			l.BufferViewCount += in.Count
		}

		if embedded {
			// Sampler parameters are compiled into the shader; the
			// binding holds no descriptor memory.
			out.Kinds = 0
			l.EmbeddedSamplerCount += in.Count
			continue
		}

		out.SurfaceStride, out.SamplerStride = bindingStrides(caps, mode, in, info.Flags, out.MaxPlaneCount)
		surfAlign, sampAlign := dataKindAlignments(mode, out.Kinds)

		if out.SurfaceStride != 0 {
			surfaceOff = align(surfaceOff, uint32(surfAlign))
			out.SurfaceOffset = surfaceOff
			surfaceOff += in.Count * uint32(out.SurfaceStride)
		}
		if out.SamplerStride != 0 {
			samplerOff = align(samplerOff, uint32(sampAlign))
			out.SamplerOffset = samplerOff
			samplerOff += in.Count * uint32(out.SamplerStride)
		}
	}

	l.SurfaceSize = surfaceOff
	l.SamplerSize = samplerOff
	if mode != ModeDirect && l.SamplerSize != 0 {
		panic("descset: sampler region sized outside the direct layout mode")
	}

	l.Hash = l.computeHash()
	l.refs.Store(1)
	return l, nil
}

func (l *SetLayout) computeHash() uint64 {
	h := fnv.New64a()
	le := binary.LittleEndian
	put32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		h.Write(b[:])
	}
	put64 := func(v uint64) {
		var b [8]byte
		le.PutUint64(b[:], v)
		h.Write(b[:])
	}

	put32(uint32(l.Mode))
	put32(uint32(l.Flags))
	put32(l.DescriptorCount)
	put32(l.BufferViewCount)
	put32(l.DynamicOffsetCount)
	put32(uint32(l.ShaderStages))
	put32(l.SurfaceSize)
	put32(l.SamplerSize)

	for i := range l.Bindings {
		b := &l.Bindings[i]
		put32(uint32(b.Type))
		put32(uint32(b.Flags))
		put32(uint32(b.Kinds))
		put32(b.ArraySize)
		put32(uint32(b.MaxPlaneCount))
		put32(b.SurfaceOffset)
		put32(b.SamplerOffset)
		put32(uint32(b.SurfaceStride))
		put32(uint32(b.SamplerStride))
		for _, s := range b.Samplers {
			// Immutable sampler identity reaches compiled shaders, as
			// does any attached format conversion.
			put64(s.EmbeddedKey)
			if s.HasYCbCr {
				put64(s.YCbCrState)
			}
		}
	}
	return h.Sum64()
}

// Retain adds a reference.
func (l *SetLayout) Retain() { l.refs.Add(1) }

// Release drops a reference. Layouts are garbage collected; the count
// exists so pools and pipelines can assert liveness.
func (l *SetLayout) Release() {
	if l.refs.Add(-1) < 0 {
		panic("descset: set layout released more times than retained")
	}
}

// varBinding returns the variable-count binding, or nil.
func (l *SetLayout) varBinding() *BindingLayout {
	if len(l.Bindings) == 0 {
		return nil
	}
	last := &l.Bindings[len(l.Bindings)-1]
	if last.Flags&BindingVariableCount == 0 {
		return nil
	}
	return last
}

// bufferSizes returns the region sizes for a set instantiated with the
// given variable descriptor count. For fixed layouts varCount is ignored.
// The surface size is padded to BufferAlignment so sets can be suballocated
// back to back.
func (l *SetLayout) bufferSizes(varCount uint32) (surface, sampler uint32) {
	surface, sampler = l.SurfaceSize, l.SamplerSize
	if vb := l.varBinding(); vb != nil && vb.SurfaceStride != 0 {
		surface = surface - vb.ArraySize*uint32(vb.SurfaceStride) + varCount*uint32(vb.SurfaceStride)
	}
	return align(surface, BufferAlignment), sampler
}

// descriptorCount returns the bookkeeping slot count for a set with the
// given variable count.
func (l *SetLayout) descriptorCount(varCount uint32) uint32 {
	n := l.DescriptorCount
	if vb := l.varBinding(); vb != nil && vb.Type != TypeInlineUniformBlock {
		n = n - vb.ArraySize + varCount
	}
	return n
}

// bufferViewCount returns the pool buffer-view slot count for a set with
// the given variable count.
func (l *SetLayout) bufferViewCount(varCount uint32) uint32 {
	n := l.BufferViewCount
	if vb := l.varBinding(); vb != nil && vb.Kinds.Has(KindBufferView) {
		n = n - vb.ArraySize + varCount
	}
	return n
}

// BindingOffset reports where a binding's element 0 lives in the surface
// and sampler regions. ok is false for unknown or empty bindings.
func (l *SetLayout) BindingOffset(binding int) (surface, sampler uint32, ok bool) {
	if binding < 0 || binding >= len(l.Bindings) {
		return 0, 0, false
	}
	b := &l.Bindings[binding]
	if b.SurfaceStride == 0 && b.SamplerStride == 0 {
		return 0, 0, false
	}
	return b.SurfaceOffset, b.SamplerOffset, true
}

// Size returns the surface region size at full declared capacity, padded
// to the suballocation alignment.
func (l *SetLayout) Size() uint32 {
	s, _ := l.bufferSizes(l.maxVarCount())
	return s
}

func (l *SetLayout) maxVarCount() uint32 {
	if vb := l.varBinding(); vb != nil {
		return vb.ArraySize
	}
	return 0
}

// Dump logs the compiled layout, one line per binding.
func (l *SetLayout) Dump() {
	logger.Info("set layout",
		"mode", l.Mode,
		"hash", fmt.Sprintf("%016x", l.Hash),
		"surface_size", l.SurfaceSize,
		"sampler_size", l.SamplerSize,
		"descriptors", l.DescriptorCount,
		"dynamic_offsets", l.DynamicOffsetCount,
	)
	for i := range l.Bindings {
		b := &l.Bindings[i]
		if b.ArraySize == 0 && b.Kinds == 0 {
			continue
		}
		logger.Info("binding",
			"number", i,
			"type", b.Type,
			"count", b.ArraySize,
			"kinds", fmt.Sprintf("%#x", uint16(b.Kinds)),
			"surface", fmt.Sprintf("%d+%d", b.SurfaceOffset, b.SurfaceStride),
			"sampler", fmt.Sprintf("%d+%d", b.SamplerOffset, b.SamplerStride),
		)
	}
}

// SupportInfo is the result of CheckSetLayoutSupport.
type SupportInfo struct {
	Supported bool

	// MaxVariableDescriptorCount is the largest variable count the device
	// can honor for this shape. Zero when the layout has no
	// variable-count binding or is unsupported.
	MaxVariableDescriptorCount uint32
}

// maxBindlessDescriptors bounds variable counts for bindings that bypass
// the binding table.
const maxBindlessDescriptors = 1 << 20

// CheckSetLayoutSupport reports whether a layout shape fits the hardware
// binding table budget, without building the layout. Per shader stage,
// bindings that require a binding table surface entry may not exceed the
// table size minus the render target reservation.
func CheckSetLayoutSupport(caps DeviceCaps, info *SetLayoutInfo) SupportInfo {
	mode := layoutModeFor(caps, info.Flags)

	type stageCount struct {
		stage gputypes.ShaderStage
		count uint32
	}
	var stages []stageCount
	add := func(stage gputypes.ShaderStage, n uint32) {
		for i := range stages {
			if stages[i].stage == stage {
				stages[i].count += n
				return
			}
		}
		stages = append(stages, stageCount{stage, n})
	}

	var variable *Binding
	for i := range info.Bindings {
		b := &info.Bindings[i]
		if b.Flags&BindingVariableCount != 0 {
			variable = b
		}
		kinds := classifyBinding(caps, mode, b, info.Flags)
		if !kinds.Has(KindBTISurfaceState) {
			continue
		}
		if requiresBindless(caps, info.Flags, b.Flags, kinds) {
			continue
		}
		n := b.Count
		if b.Type == TypeCombinedImageSampler && len(b.Samplers) > 0 {
			// Multi-planar samplers consume one table entry per plane.
			var planes uint32
			for _, s := range b.Samplers {
				planes += uint32(s.planes())
			}
			n = planes
		}
		add(b.Stages, n)
	}

	budget := uint32(MaxBindingTableSize - MaxRenderTargets)
	out := SupportInfo{Supported: true}
	var worst uint32
	for _, sc := range stages {
		if sc.count > budget {
			return SupportInfo{}
		}
		if sc.count > worst {
			worst = sc.count
		}
	}

	if variable != nil {
		kinds := classifyBinding(caps, mode, variable, info.Flags)
		switch {
		case variable.Type == TypeInlineUniformBlock:
			out.MaxVariableDescriptorCount = MaxInlineUniformBlockSize
		case requiresBindless(caps, info.Flags, variable.Flags, kinds) ||
			supportsBindless(caps, info.Flags, kinds) && kinds&btiKinds == 0:
			out.MaxVariableDescriptorCount = maxBindlessDescriptors
		case kinds.Has(KindBTISurfaceState):
			out.MaxVariableDescriptorCount = budget - worst + variable.Count
		default:
			out.MaxVariableDescriptorCount = maxBindlessDescriptors
		}
	}
	return out
}

// PipelineSetsLayout composes up to MaxSets set layouts into the flat
// tables pipelines consume: a per-slot start into the shared dynamic
// offset table, the push set slot, and a combined identity hash.
type PipelineSetsLayout struct {
	Mode LayoutMode

	Sets               [MaxSets]*SetLayout
	DynamicOffsetStart [MaxSets]uint32
	NumSets            int

	// PushSetIndex is the slot holding a push-descriptor layout, or -1.
	PushSetIndex int

	dynamicOffsets uint32
}

// NewPipelineSetsLayout returns an empty composition.
func NewPipelineSetsLayout() *PipelineSetsLayout {
	return &PipelineSetsLayout{PushSetIndex: -1}
}

// Add places a set layout at the given slot, retaining it. All layouts
// in one composition must share a layout mode.
func (p *PipelineSetsLayout) Add(slot int, l *SetLayout) {
	if slot < 0 || slot >= MaxSets {
		panic(fmt.Sprintf("descset: set slot %d out of range", slot))
	}
	if p.Sets[slot] != nil {
		panic(fmt.Sprintf("descset: set slot %d assigned twice", slot))
	}
	if p.Mode == ModeUnknown {
		p.Mode = l.Mode
	} else if p.Mode != l.Mode {
		panic(fmt.Sprintf("descset: mixing %v and %v set layouts in one pipeline", p.Mode, l.Mode))
	}
	l.Retain()
	p.Sets[slot] = l
	p.DynamicOffsetStart[slot] = p.dynamicOffsets
	p.dynamicOffsets += l.DynamicOffsetCount
	if p.dynamicOffsets > MaxDynamicBuffers {
		panic(fmt.Sprintf("descset: more than %d dynamic buffers across a pipeline", MaxDynamicBuffers))
	}
	if l.Flags&LayoutPushDescriptor != 0 {
		if p.PushSetIndex >= 0 {
			panic("descset: two push descriptor sets in one pipeline")
		}
		p.PushSetIndex = slot
	}
	if slot+1 > p.NumSets {
		p.NumSets = slot + 1
	}
}

// DynamicOffsetCount is the total dynamic buffer count across all slots.
func (p *PipelineSetsLayout) DynamicOffsetCount() uint32 { return p.dynamicOffsets }

// Hash combines the member layout hashes with their slot positions.
func (p *PipelineSetsLayout) Hash() uint64 {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < p.NumSets; i++ {
		if p.Sets[i] == nil {
			continue
		}
		binary.LittleEndian.PutUint64(b[:], uint64(i))
		h.Write(b[:])
		binary.LittleEndian.PutUint64(b[:], p.Sets[i].Hash)
		h.Write(b[:])
	}
	return h.Sum64()
}

// Dump logs the composition, one line per occupied slot.
func (p *PipelineSetsLayout) Dump() {
	logger.Info("pipeline sets layout",
		"mode", p.Mode,
		"hash", fmt.Sprintf("%016x", p.Hash()),
		"sets", p.NumSets,
		"dynamic_offsets", p.dynamicOffsets,
		"push_slot", p.PushSetIndex,
	)
	for i := 0; i < p.NumSets; i++ {
		if p.Sets[i] == nil {
			continue
		}
		logger.Info("slot",
			"index", i,
			"hash", fmt.Sprintf("%016x", p.Sets[i].Hash),
			"dynamic_start", p.DynamicOffsetStart[i],
		)
	}
}

// Fini releases every member layout.
func (p *PipelineSetsLayout) Fini() {
	for i := range p.Sets {
		if p.Sets[i] != nil {
			p.Sets[i].Release()
			p.Sets[i] = nil
		}
	}
	p.NumSets = 0
	p.PushSetIndex = -1
	p.dynamicOffsets = 0
	p.Mode = ModeUnknown
}
