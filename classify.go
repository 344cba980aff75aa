package descset

// DataKind identifies one flavor of data a descriptor stores. A binding
// usually stores several at once (a DataKindSet).
type DataKind uint16

const (
	// KindBTISurfaceState: the descriptor is reachable through a binding
	// table surface entry.
	KindBTISurfaceState DataKind = 1 << iota

	// KindBTISamplerState: the descriptor is reachable through a binding
	// table sampler entry.
	KindBTISamplerState

	// KindBufferView: the descriptor needs a pool-allocated surface state
	// block describing a buffer range, filled at write time.
	KindBufferView

	// KindSampledImage: an out-of-line sampled image record (surface
	// handle + sampler handle).
	KindSampledImage

	// KindStorageImage: an out-of-line storage image record with raw
	// addressing fields.
	KindStorageImage

	// KindAddressRange: an out-of-line 64-bit address + range pair.
	KindAddressRange

	// KindSurface: inline hardware surface state in the descriptor region.
	KindSurface

	// KindSampler: inline hardware sampler state.
	KindSampler

	// KindSurfaceSampler: fused surface + sampler state for combined
	// image/sampler descriptors.
	KindSurfaceSampler

	// KindInlineUniform: raw uniform bytes stored directly in the
	// descriptor region.
	KindInlineUniform
)

// DataKindSet is a bit set of DataKind values.
type DataKindSet uint16

// Has reports whether every kind in k is present.
func (s DataKindSet) Has(k DataKind) bool { return s&DataKindSet(k) == DataKindSet(k) }

// indirectKinds are the kinds stored as out-of-line records addressed
// through the indirection table.
const indirectKinds = DataKindSet(KindSampledImage | KindStorageImage | KindAddressRange)

// btiKinds are the kinds that occupy binding table entries.
const btiKinds = DataKindSet(KindBTISurfaceState | KindBTISamplerState)

// classifyIndirect maps a descriptor type to its data kinds under the
// indirect layout mode.
func classifyIndirect(t DescriptorType) DataKindSet {
	var s DataKindSet
	switch t {
	case TypeSampler:
		s = DataKindSet(KindBTISamplerState | KindSampledImage)
	case TypeCombinedImageSampler:
		s = DataKindSet(KindBTISurfaceState | KindBTISamplerState | KindSampledImage)
	case TypeSampledImage, TypeUniformTexelBuffer, TypeInputAttachment:
		s = DataKindSet(KindBTISurfaceState | KindSampledImage)
	case TypeStorageImage, TypeStorageTexelBuffer:
		s = DataKindSet(KindBTISurfaceState | KindStorageImage)
	case TypeUniformBuffer, TypeStorageBuffer:
		s = DataKindSet(KindBTISurfaceState | KindBufferView)
	case TypeUniformBufferDynamic, TypeStorageBufferDynamic:
		s = DataKindSet(KindBTISurfaceState)
	case TypeInlineUniformBlock:
		s = DataKindSet(KindInlineUniform)
	case TypeAccelerationStructure:
		s = DataKindSet(KindAddressRange)
	}

	// All plain and dynamic buffers also publish their raw address range
	// so shaders can load through the indirection table.
	switch t {
	case TypeUniformBuffer, TypeStorageBuffer,
		TypeUniformBufferDynamic, TypeStorageBufferDynamic:
		s |= DataKindSet(KindAddressRange)
	}
	return s
}

// classifyDirect maps a descriptor type to its data kinds under the
// direct and buffer-offset layout modes.
func classifyDirect(caps DeviceCaps, mode LayoutMode, t DescriptorType, flags LayoutFlags) DataKindSet {
	var s DataKindSet
	switch t {
	case TypeSampler:
		if flags&LayoutEmbeddedSamplers != 0 {
			// Sampler parameters live in the shader; nothing to store.
			s = 0
		} else {
			s = DataKindSet(KindBTISamplerState | KindSampler)
		}
	case TypeCombinedImageSampler:
		if mode == ModeDirect {
			s = DataKindSet(KindBTISurfaceState | KindBTISamplerState | KindSurface | KindSampler)
		} else {
			s = DataKindSet(KindBTISurfaceState | KindBTISamplerState | KindSurfaceSampler)
		}
	case TypeSampledImage, TypeStorageImage,
		TypeUniformTexelBuffer, TypeStorageTexelBuffer,
		TypeUniformBuffer, TypeStorageBuffer,
		TypeUniformBufferDynamic, TypeStorageBufferDynamic,
		TypeInputAttachment:
		s = DataKindSet(KindBTISurfaceState | KindSurface)
	case TypeInlineUniformBlock:
		s = DataKindSet(KindInlineUniform)
	case TypeAccelerationStructure:
		s = DataKindSet(KindAddressRange)
	}

	if mode == ModeBufferOffset {
		// Descriptor buffers are addressed directly; the binding table is
		// bypassed, except for push descriptors on hardware with full
		// bindless offsets, which keep both paths alive.
		if flags&LayoutPushDescriptor == 0 || !caps.ExtendedBindlessOffsets {
			s &^= btiKinds
		}
	}
	return s
}

// classify maps a descriptor type to the data kinds it stores under the
// given mode and capabilities. Pure.
func classify(caps DeviceCaps, mode LayoutMode, t DescriptorType, flags LayoutFlags) DataKindSet {
	if mode == ModeBufferOffset {
		return classifyDirect(caps, mode, t, flags)
	}
	if caps.IndirectDescriptors {
		return classifyIndirect(t)
	}
	return classifyDirect(caps, mode, t, flags)
}

// mutableCandidates returns the concrete types a mutable binding can
// resolve to, honoring a closed type list when one is given.
func mutableCandidates(list []DescriptorType) []DescriptorType {
	if len(list) > 0 {
		return list
	}
	out := make([]DescriptorType, 0, int(TypeInputAttachment)+2)
	for t := TypeSampler; t <= TypeInputAttachment; t++ {
		if t.isDynamic() {
			// Dynamic buffers cannot be mutable members.
			continue
		}
		out = append(out, t)
	}
	return append(out, TypeAccelerationStructure)
}

// classifyBinding resolves the data kinds of one declared binding,
// expanding mutable bindings to the union over their candidate types.
func classifyBinding(caps DeviceCaps, mode LayoutMode, b *Binding, flags LayoutFlags) DataKindSet {
	if b.Type != TypeMutable {
		return classify(caps, mode, b.Type, flags)
	}
	var s DataKindSet
	for _, t := range mutableCandidates(b.MutableTypes) {
		s |= classify(caps, mode, t, flags)
	}
	return s
}

// dataKindStrides returns the per-element surface-region and
// sampler-region byte strides implied by a data kind set. The strides are
// per plane; multi-planar bindings multiply them by the plane count.
func dataKindStrides(mode LayoutMode, kinds DataKindSet) (surface, sampler uint16) {
	if kinds.Has(KindSampledImage) {
		surface += sampledImageRecordSize
	}
	if kinds.Has(KindStorageImage) {
		surface += storageImageRecordSize
	}
	if kinds.Has(KindAddressRange) {
		surface += addressRangeRecordSize
	}
	if kinds.Has(KindSurface) {
		surface += SurfaceStateSize
	}
	if kinds.Has(KindSampler) {
		if mode == ModeDirect {
			sampler += SamplerStateSize
		} else {
			surface += SamplerStateSize
		}
	}
	if kinds.Has(KindSurfaceSampler) {
		if mode == ModeDirect {
			surface += SurfaceStateSize
			sampler += SamplerStateSize
		} else {
			// Fused layout: the sampler block trails the surface block and
			// the pair is padded to surface alignment.
			surface += align(uint16(SurfaceStateSize+SamplerStateSize), SurfaceStateSize)
		}
	}
	return surface, sampler
}

// dataKindAlignments returns the alignment each region requires for a
// data kind set.
func dataKindAlignments(mode LayoutMode, kinds DataKindSet) (surface, sampler uint16) {
	surface, sampler = 1, 1
	if kinds&indirectKinds != 0 {
		surface = max(surface, 8)
	}
	if kinds.Has(KindSurface) || kinds.Has(KindSurfaceSampler) {
		surface = max(surface, SurfaceStateSize)
		if mode == ModeDirect && kinds.Has(KindSurfaceSampler) {
			sampler = max(sampler, SamplerStateSize)
		}
	}
	if kinds.Has(KindSampler) {
		if mode == ModeDirect {
			sampler = max(sampler, SamplerStateSize)
		} else {
			surface = max(surface, SamplerStateSize)
		}
	}
	if kinds.Has(KindInlineUniform) {
		surface = max(surface, BufferAlignment)
	}
	return surface, sampler
}

// bindingStrides resolves a binding's per-element strides, expanding
// mutable bindings to the max over their candidates and folding in the
// plane count. Inline uniform bindings store raw bytes: their surface
// stride is 1 and ArraySize is a byte count.
func bindingStrides(caps DeviceCaps, mode LayoutMode, b *Binding, flags LayoutFlags, planes uint8) (surface, sampler uint16) {
	if b.Type == TypeInlineUniformBlock {
		return 1, 0
	}
	if b.Type == TypeMutable {
		for _, t := range mutableCandidates(b.MutableTypes) {
			kinds := classify(caps, mode, t, flags)
			su, sa := dataKindStrides(mode, kinds)
			surface = max(surface, su)
			sampler = max(sampler, sa)
		}
	} else {
		kinds := classify(caps, mode, b.Type, flags)
		surface, sampler = dataKindStrides(mode, kinds)
	}
	return surface * uint16(planes), sampler * uint16(planes)
}

// supportsBindless reports whether every data kind of the binding can be
// reached without a binding table entry.
func supportsBindless(caps DeviceCaps, flags LayoutFlags, kinds DataKindSet) bool {
	if flags&LayoutDescriptorBuffer != 0 {
		if !caps.ExtendedBindlessOffsets && flags&LayoutPushDescriptor != 0 {
			return kinds&indirectKinds != 0
		}
		return true
	}
	if caps.IndirectDescriptors {
		return kinds&indirectKinds != 0
	}
	return true
}

// requiresBindless reports whether the binding must bypass the binding
// table entirely.
func requiresBindless(caps DeviceCaps, layoutFlags LayoutFlags, bindingFlags BindingFlags, kinds DataKindSet) bool {
	if caps.ForceBindless {
		return supportsBindless(caps, layoutFlags, kinds)
	}
	if layoutFlags&LayoutPushDescriptor != 0 {
		// Push descriptors are written by the command stream and always
		// go through the binding table when one exists.
		return false
	}
	if layoutFlags&(LayoutDescriptorBuffer|LayoutEmbeddedSamplers) != 0 {
		return true
	}
	return bindingFlags&bindlessOnlyFlags != 0
}
