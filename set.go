package descset

import (
	"encoding/binary"
	"fmt"
)

// Allocation is a set's slice of a pool region.
type Allocation struct {
	Bytes   []byte
	Offset  uint64
	Size    uint64
	Address uint64
}

// Descriptor is the bookkeeping record of one written element. Copies
// between sets move these records along with the encoded bytes.
type Descriptor struct {
	Type  DescriptorType
	Valid bool

	ImageView *ImageView
	Sampler   *Sampler

	Buffer *Buffer
	Offset uint64
	Range  uint64

	TexelView *TexelBufferView
	Accel     *AccelerationStructure
}

// BufferView tracks the pool surface state block backing one plain
// buffer descriptor on the binding table path.
type BufferView struct {
	Address uint64
	Range   uint64

	state State

	// NeedsFill marks push-set views whose state block must be carved
	// from the command stream at bind time.
	NeedsFill bool
}

// Set is one descriptor set instance: a layout, slices of pool memory,
// and per-element bookkeeping. Writes encode immediately into the
// surface and sampler bytes.
//
// A set shares its pool's update domain; see Pool.
type Set struct {
	Layout *SetLayout

	pool   *Pool
	stream *StateStream

	surface Allocation
	sampler Allocation

	descriptors []Descriptor
	bufferViews []BufferView

	varCount uint32
	hostAddr uint64
	hostSize uint64
}

func (s *Set) init() {
	s.descriptors = make([]Descriptor, s.Layout.descriptorCount(s.varCount))
	s.bufferViews = make([]BufferView, s.Layout.bufferViewCount(s.varCount))
}

// SurfaceAddress is the GPU address of the set's surface region, zero
// for host-only backing.
func (s *Set) SurfaceAddress() uint64 { return s.surface.Address }

// SurfaceBytes exposes the raw surface region, mainly for binding-table
// construction and tests.
func (s *Set) SurfaceBytes() []byte { return s.surface.Bytes }

// SamplerBytes exposes the raw sampler region.
func (s *Set) SamplerBytes() []byte { return s.sampler.Bytes }

// DescriptorAt returns the bookkeeping record of one element.
func (s *Set) DescriptorAt(binding, element int) *Descriptor {
	b := s.bindingLayout(binding)
	if b.Type == TypeInlineUniformBlock {
		element = 0
	}
	return &s.descriptors[int(b.DescriptorIndex)+element]
}

// BufferViewAt returns the buffer-view slot of one element, or nil for
// bindings without the binding-table buffer path.
func (s *Set) BufferViewAt(binding, element int) *BufferView {
	b := s.bindingLayout(binding)
	if b.BufferViewIndex < 0 {
		return nil
	}
	return &s.bufferViews[int(b.BufferViewIndex)+element]
}

func (s *Set) bindingLayout(binding int) *BindingLayout {
	if binding < 0 || binding >= len(s.Layout.Bindings) {
		panic(fmt.Sprintf("descset: write to unknown binding %d", binding))
	}
	return &s.Layout.Bindings[binding]
}

func (s *Set) markDirty() {
	if s.pool != nil {
		s.pool.markDirty()
	}
	if s.stream != nil {
		s.stream.flush()
	}
}

// elementCount is the live element count of a binding in this set.
func (s *Set) elementCount(b *BindingLayout) uint32 {
	if b.Flags&BindingVariableCount != 0 {
		return s.varCount
	}
	return b.ArraySize
}

// surfaceSlice returns the surface bytes of one element, zeroed. Zeroing
// before each encode keeps null writes canonical and clears stale bytes
// left by a previous, differently-shaped write to a mutable binding.
func (s *Set) surfaceSlice(b *BindingLayout, element int) []byte {
	if b.SurfaceStride == 0 {
		return nil
	}
	off := uint64(b.SurfaceOffset) + uint64(element)*uint64(b.SurfaceStride)
	out := s.surface.Bytes[off : off+uint64(b.SurfaceStride)]
	clear(out)
	return out
}

func (s *Set) samplerSlice(b *BindingLayout, element int) []byte {
	if b.SamplerStride == 0 {
		return nil
	}
	off := uint64(b.SamplerOffset) + uint64(element)*uint64(b.SamplerStride)
	out := s.sampler.Bytes[off : off+uint64(b.SamplerStride)]
	clear(out)
	return out
}

// resolveType maps a write's declared type onto the binding, vetting
// mutable resolution.
func (s *Set) resolveType(b *BindingLayout, typ DescriptorType) DataKindSet {
	kinds := classify(s.Layout.caps, s.Layout.Mode, typ, s.Layout.Flags)
	if b.Type != TypeMutable && b.Type != typ {
		panic(fmt.Sprintf("descset: writing %v into a %v binding", typ, b.Type))
	}
	if kinds&^b.Kinds != 0 {
		panic(fmt.Sprintf("descset: %v is not a member of this mutable binding", typ))
	}
	return kinds
}

// surfaceStateHandle converts a bindless heap offset into the handle
// shaders store. Without extended bindless offsets the hardware consumes
// the offset pre-shifted by the state alignment.
func surfaceStateHandle(caps DeviceCaps, offset uint32) uint32 {
	if caps.ExtendedBindlessOffsets {
		return offset
	}
	return offset << 6
}

// WriteImage writes an image and/or sampler into one element. Both nil
// canonicalizes the element to the null descriptor. Immutable samplers
// on the binding override the sampler argument.
func (s *Set) WriteImage(binding, element int, typ DescriptorType, view *ImageView, sampler *Sampler) {
	b := s.bindingLayout(binding)
	kinds := s.resolveType(b, typ)

	if len(b.Samplers) > 0 {
		sampler = b.Samplers[element]
	}

	d := s.DescriptorAt(binding, element)
	*d = Descriptor{
		Type:      typ,
		Valid:     view != nil || sampler != nil,
		ImageView: view,
		Sampler:   sampler,
	}

	surf := s.surfaceSlice(b, element)
	samp := s.samplerSlice(b, element)
	defer s.markDirty()
	if view == nil && sampler == nil {
		return
	}

	planes := 1
	if view != nil {
		planes = len(view.Planes)
	} else if sampler != nil {
		planes = int(sampler.planes())
	}
	if planes > int(b.MaxPlaneCount) {
		planes = int(b.MaxPlaneCount)
	}

	for p := 0; p < planes; p++ {
		cur := surf
		if kinds.Has(KindSampledImage) {
			rec := cur[p*sampledImageRecordSize:]
			if view != nil {
				binary.LittleEndian.PutUint32(rec[0:], surfaceStateHandle(s.Layout.caps, view.Planes[p].SampledHandle))
			}
			if sampler != nil {
				binary.LittleEndian.PutUint32(rec[4:], sampler.BindlessOffset+uint32(p)*SamplerStateSize)
			}
		}
		if kinds.Has(KindStorageImage) && view != nil {
			encodeStorageImage(cur[p*storageImageRecordSize:], s.Layout.caps, &view.Planes[p])
		}
		if kinds.Has(KindSurface) && view != nil {
			pl := &view.Planes[p]
			st := pl.SurfaceState[:]
			if typ == TypeStorageImage {
				st = pl.StorageSurfaceState[:]
			}
			copy(cur[p*SurfaceStateSize:], st)
		}
		if kinds.Has(KindSampler) && sampler != nil {
			if s.Layout.Mode == ModeDirect {
				copy(samp[p*SamplerStateSize:], sampler.State[p][:])
			} else {
				copy(cur[p*SamplerStateSize:], sampler.State[p][:])
			}
		}
		if kinds.Has(KindSurfaceSampler) {
			stride := SurfaceStateSize + SamplerStateSize
			if s.Layout.Mode == ModeDirect {
				if view != nil {
					copy(cur[p*SurfaceStateSize:], view.Planes[p].SurfaceState[:])
				}
				if sampler != nil {
					copy(samp[p*SamplerStateSize:], sampler.State[p][:])
				}
			} else {
				stride = int(align(uint32(stride), SurfaceStateSize))
				if view != nil {
					copy(cur[p*stride:], view.Planes[p].SurfaceState[:])
				}
				if sampler != nil {
					copy(cur[p*stride+SurfaceStateSize:], sampler.State[p][:])
				}
			}
		}
	}
}

// encodeStorageImage packs the out-of-line storage image record shaders
// load for lowered image access.
func encodeStorageImage(dst []byte, caps DeviceCaps, pl *ImagePlane) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], surfaceStateHandle(caps, pl.StorageHandle))
	le.PutUint32(dst[4:], pl.Depth)
	le.PutUint64(dst[8:], pl.Address)
	le.PutUint32(dst[16:], pl.TileMode)
	le.PutUint32(dst[20:], pl.RowPitch)
	le.PutUint32(dst[24:], pl.QPitch)
	le.PutUint32(dst[28:], uint32(pl.Format))
}

// encodeAddressRange packs a 64-bit address plus range.
func encodeAddressRange(dst []byte, addr, rng uint64) {
	binary.LittleEndian.PutUint64(dst[0:], addr)
	binary.LittleEndian.PutUint64(dst[8:], rng)
}

// fillBufferSurfaceState writes the canonical surface state block for a
// plain buffer range.
func fillBufferSurfaceState(dst []byte, addr, size uint64) {
	le := binary.LittleEndian
	le.PutUint64(dst[0:], addr)
	le.PutUint64(dst[8:], size)
	le.PutUint32(dst[16:], uint32(bufferSurfaceFormat))
	le.PutUint32(dst[20:], 1)
}

// bufferSurfaceFormat is the raw-buffer format code in surface states.
const bufferSurfaceFormat = 0xff

// WriteBuffer writes a buffer range into one element. A nil buffer
// canonicalizes the element to the null descriptor. rng may be WholeSize.
func (s *Set) WriteBuffer(binding, element int, typ DescriptorType, buf *Buffer, offset, rng uint64) {
	b := s.bindingLayout(binding)
	kinds := s.resolveType(b, typ)
	defer s.markDirty()

	d := s.DescriptorAt(binding, element)
	surf := s.surfaceSlice(b, element)

	if buf == nil {
		*d = Descriptor{Type: typ}
		if bv := s.BufferViewAt(binding, element); bv != nil {
			*bv = BufferView{state: bv.state}
			if bv.state.valid() {
				clear(bv.state.Data)
			}
		}
		return
	}

	effective := rng
	if effective == WholeSize {
		effective = buf.Size - offset
	}
	bindRange := effective
	switch typ {
	case TypeUniformBuffer, TypeUniformBufferDynamic:
		// Uniform reads happen in aligned blocks; round the visible
		// range up so partial tail blocks stay in bounds for shaders.
		bindRange = align(effective, BufferAlignment)
		if offset+bindRange > buf.Size {
			bindRange = buf.Size - offset
		}
	}

	*d = Descriptor{
		Type:   typ,
		Valid:  true,
		Buffer: buf,
		Offset: offset,
		Range:  effective,
	}

	if kinds.Has(KindAddressRange) {
		encodeAddressRange(surf, buf.Address+offset, bindRange)
	}
	if kinds.Has(KindSurface) {
		off := 0
		if kinds.Has(KindAddressRange) {
			off = addressRangeRecordSize
		}
		fillBufferSurfaceState(surf[off:], buf.Address+offset, bindRange)
	}
	if kinds.Has(KindBufferView) {
		bv := s.BufferViewAt(binding, element)
		bv.Address = buf.Address + offset
		bv.Range = bindRange
		if s.stream != nil {
			// Push sets have no pool to carve state from; the bind path
			// fills these from the command stream.
			bv.NeedsFill = true
			return
		}
		if !bv.state.valid() {
			st, err := s.pool.allocState()
			if err != nil {
				// Pool sizing reserves a state block per buffer view;
				// running out here means the set was freed under us.
				panic(fmt.Sprintf("descset: buffer view state allocation failed: %v", err))
			}
			bv.state = st
		}
		fillBufferSurfaceState(bv.state.Data, bv.Address, bv.Range)
	}
}

// WriteTexelBufferView writes a formatted buffer view into one element.
// nil canonicalizes to the null descriptor.
func (s *Set) WriteTexelBufferView(binding, element int, typ DescriptorType, view *TexelBufferView) {
	b := s.bindingLayout(binding)
	kinds := s.resolveType(b, typ)
	defer s.markDirty()

	d := s.DescriptorAt(binding, element)
	surf := s.surfaceSlice(b, element)
	*d = Descriptor{Type: typ, Valid: view != nil, TexelView: view}
	if view == nil {
		return
	}

	if kinds.Has(KindSampledImage) {
		binary.LittleEndian.PutUint32(surf[0:], surfaceStateHandle(s.Layout.caps, view.GeneralHandle))
	}
	if kinds.Has(KindStorageImage) {
		le := binary.LittleEndian
		le.PutUint32(surf[0:], surfaceStateHandle(s.Layout.caps, view.StorageHandle))
		le.PutUint64(surf[8:], view.Address)
		le.PutUint32(surf[28:], uint32(view.Format))
	}
	if kinds.Has(KindSurface) {
		st := view.GeneralState[:]
		if typ == TypeStorageTexelBuffer {
			st = view.StorageState[:]
		}
		copy(surf, st)
	}
}

// WriteAccelerationStructure writes an acceleration structure into one
// element. nil canonicalizes to the null descriptor.
func (s *Set) WriteAccelerationStructure(binding, element int, accel *AccelerationStructure) {
	b := s.bindingLayout(binding)
	kinds := s.resolveType(b, TypeAccelerationStructure)
	defer s.markDirty()

	d := s.DescriptorAt(binding, element)
	surf := s.surfaceSlice(b, element)
	*d = Descriptor{Type: TypeAccelerationStructure, Valid: accel != nil, Accel: accel}
	if accel == nil {
		return
	}
	if kinds.Has(KindAddressRange) {
		encodeAddressRange(surf, accel.Address, accel.Size)
	}
}

// WriteInlineUniform copies raw uniform bytes into the binding at the
// given byte offset.
func (s *Set) WriteInlineUniform(binding int, offset uint32, data []byte) {
	b := s.bindingLayout(binding)
	if b.Type != TypeInlineUniformBlock {
		panic(fmt.Sprintf("descset: inline write into a %v binding", b.Type))
	}
	if offset+uint32(len(data)) > b.ArraySize {
		panic(fmt.Sprintf("descset: inline write [%d,%d) exceeds binding capacity %d", offset, offset+uint32(len(data)), b.ArraySize))
	}
	defer s.markDirty()

	d := s.DescriptorAt(binding, 0)
	d.Type = TypeInlineUniformBlock
	d.Valid = true

	base := uint64(b.SurfaceOffset) + uint64(offset)
	copy(s.surface.Bytes[base:base+uint64(len(data))], data)
}

// writeImmutableSamplers pre-populates sampler state for bindings that
// carry immutable samplers, so sets are usable without an explicit
// sampler write.
func (s *Set) writeImmutableSamplers() {
	for i := range s.Layout.Bindings {
		b := &s.Layout.Bindings[i]
		if len(b.Samplers) == 0 {
			continue
		}
		if b.Type != TypeSampler && b.Type != TypeCombinedImageSampler {
			continue
		}
		if b.Kinds == 0 {
			// Embedded samplers live in the shader.
			continue
		}
		n := int(s.elementCount(b))
		for e := 0; e < n && e < len(b.Samplers); e++ {
			if b.Samplers[e] == nil {
				continue
			}
			s.WriteImage(i, e, b.Type, nil, b.Samplers[e])
		}
	}
}
