package descset

import "fmt"

// ImageInfo pairs the image and sampler of one image-flavored write
// element.
type ImageInfo struct {
	View    *ImageView
	Sampler *Sampler
}

// BufferRange is one buffer-flavored write element. Range may be
// WholeSize.
type BufferRange struct {
	Buffer *Buffer
	Offset uint64
	Range  uint64
}

// Write is one batched descriptor write: Count consecutive elements of
// one binding, starting at Element. Element runs overflow into the
// following bindings of the same type, matching how shaders index
// runaway arrays.
//
// Exactly one payload slice is consulted, chosen by Type; its length is
// the element count.
type Write struct {
	Set     *Set
	Binding int
	Element int

	Type DescriptorType

	Images     []ImageInfo
	Buffers    []BufferRange
	TexelViews []*TexelBufferView
	Accels     []*AccelerationStructure
	Inline     []byte
}

// Copy replicates Count elements from one set to another. Inline uniform
// bindings copy Count bytes instead.
type Copy struct {
	Src        *Set
	SrcBinding int
	SrcElement int

	Dst        *Set
	DstBinding int
	DstElement int

	Count int
}

// UpdateSets applies a batch of writes, then a batch of copies, in
// order. All touched sets must belong to pools in the caller's update
// domain.
func UpdateSets(writes []Write, copies []Copy) {
	for i := range writes {
		applyWrite(&writes[i])
	}
	for i := range copies {
		applyCopy(&copies[i])
	}
}

// splitElement folds an overflowing element index into the following
// bindings.
func splitElement(s *Set, binding, element int) (int, int) {
	for {
		b := s.bindingLayout(binding)
		n := int(s.elementCount(b))
		if element < n || b.Type == TypeInlineUniformBlock {
			return binding, element
		}
		element -= n
		binding++
	}
}

func applyWrite(w *Write) {
	switch w.Type {
	case TypeInlineUniformBlock:
		w.Set.WriteInlineUniform(w.Binding, uint32(w.Element), w.Inline)
		return
	case TypeSampler, TypeCombinedImageSampler, TypeSampledImage,
		TypeStorageImage, TypeInputAttachment:
		binding, element := w.Binding, w.Element
		for i := range w.Images {
			binding, element = splitElement(w.Set, binding, element)
			w.Set.WriteImage(binding, element, w.Type, w.Images[i].View, w.Images[i].Sampler)
			element++
		}
	case TypeUniformTexelBuffer, TypeStorageTexelBuffer:
		binding, element := w.Binding, w.Element
		for i := range w.TexelViews {
			binding, element = splitElement(w.Set, binding, element)
			w.Set.WriteTexelBufferView(binding, element, w.Type, w.TexelViews[i])
			element++
		}
	case TypeUniformBuffer, TypeStorageBuffer,
		TypeUniformBufferDynamic, TypeStorageBufferDynamic:
		binding, element := w.Binding, w.Element
		for i := range w.Buffers {
			binding, element = splitElement(w.Set, binding, element)
			b := w.Buffers[i]
			w.Set.WriteBuffer(binding, element, w.Type, b.Buffer, b.Offset, b.Range)
			element++
		}
	case TypeAccelerationStructure:
		binding, element := w.Binding, w.Element
		for i := range w.Accels {
			binding, element = splitElement(w.Set, binding, element)
			w.Set.WriteAccelerationStructure(binding, element, w.Accels[i])
			element++
		}
	default:
		panic(fmt.Sprintf("descset: write of unhandled type %v", w.Type))
	}
}

func applyCopy(c *Copy) {
	sb := c.Src.bindingLayout(c.SrcBinding)
	db := c.Dst.bindingLayout(c.DstBinding)

	if sb.Type == TypeInlineUniformBlock {
		if db.Type != TypeInlineUniformBlock {
			panic("descset: inline uniform copy into a non-inline binding")
		}
		src := c.Src.surface.Bytes[int(sb.SurfaceOffset)+c.SrcElement:]
		c.Dst.WriteInlineUniform(c.DstBinding, uint32(c.DstElement), src[:c.Count])
		return
	}
	defer c.Dst.markDirty()

	for i := 0; i < c.Count; i++ {
		srcB, srcE := splitElement(c.Src, c.SrcBinding, c.SrcElement+i)
		dstB, dstE := splitElement(c.Dst, c.DstBinding, c.DstElement+i)
		copyElement(c.Src, srcB, srcE, c.Dst, dstB, dstE)
	}
}

// copyElement moves one element: the bookkeeping record verbatim, the
// encoded bytes per region at the smaller of the two strides. Strides
// differ across layout modes and mutable shapes; the overlap is the only
// part both layouts agree on.
func copyElement(src *Set, srcBinding, srcElement int, dst *Set, dstBinding, dstElement int) {
	sb := src.bindingLayout(srcBinding)
	db := dst.bindingLayout(dstBinding)

	*dst.DescriptorAt(dstBinding, dstElement) = *src.DescriptorAt(srcBinding, srcElement)

	if n := min(sb.SurfaceStride, db.SurfaceStride); n > 0 {
		so := uint64(sb.SurfaceOffset) + uint64(srcElement)*uint64(sb.SurfaceStride)
		do := uint64(db.SurfaceOffset) + uint64(dstElement)*uint64(db.SurfaceStride)
		copy(dst.surface.Bytes[do:do+uint64(n)], src.surface.Bytes[so:so+uint64(n)])
	}
	if n := min(sb.SamplerStride, db.SamplerStride); n > 0 {
		so := uint64(sb.SamplerOffset) + uint64(srcElement)*uint64(sb.SamplerStride)
		do := uint64(db.SamplerOffset) + uint64(dstElement)*uint64(db.SamplerStride)
		copy(dst.sampler.Bytes[do:do+uint64(n)], src.sampler.Bytes[so:so+uint64(n)])
	}

	if sv := src.BufferViewAt(srcBinding, srcElement); sv != nil {
		if dv := dst.BufferViewAt(dstBinding, dstElement); dv != nil {
			dv.Address = sv.Address
			dv.Range = sv.Range
			if dst.stream != nil {
				dv.NeedsFill = sv.Address != 0
				return
			}
			if sv.Address == 0 {
				if dv.state.valid() {
					clear(dv.state.Data)
				}
				return
			}
			if !dv.state.valid() {
				st, err := dst.pool.allocState()
				if err != nil {
					panic(fmt.Sprintf("descset: buffer view state allocation failed: %v", err))
				}
				dv.state = st
			}
			fillBufferSurfaceState(dv.state.Data, dv.Address, dv.Range)
		}
	}
}

// TemplateEntry describes one run of elements a template updates.
// Offset and Stride index into the matching TemplateData slice: element
// e reads slot Offset+e*Stride. Inline uniform entries index bytes.
type TemplateEntry struct {
	Type    DescriptorType
	Binding int
	Element int
	Count   int
	Offset  int
	Stride  int
}

// Template is a reusable update recipe bound to one layout shape.
type Template struct {
	Entries []TemplateEntry
}

// TemplateData carries the payloads a template application consumes,
// one typed slice per payload flavor.
type TemplateData struct {
	Images     []ImageInfo
	Buffers    []BufferRange
	TexelViews []*TexelBufferView
	Accels     []*AccelerationStructure
	Inline     []byte
}

// ApplyTemplate runs every template entry against a set.
func ApplyTemplate(s *Set, t *Template, data *TemplateData) {
	for i := range t.Entries {
		e := &t.Entries[i]
		switch e.Type {
		case TypeInlineUniformBlock:
			s.WriteInlineUniform(e.Binding, uint32(e.Element), data.Inline[e.Offset:e.Offset+e.Count])
		case TypeSampler, TypeCombinedImageSampler, TypeSampledImage,
			TypeStorageImage, TypeInputAttachment:
			for j := 0; j < e.Count; j++ {
				info := data.Images[e.Offset+j*e.Stride]
				s.WriteImage(e.Binding, e.Element+j, e.Type, info.View, info.Sampler)
			}
		case TypeUniformTexelBuffer, TypeStorageTexelBuffer:
			for j := 0; j < e.Count; j++ {
				s.WriteTexelBufferView(e.Binding, e.Element+j, e.Type, data.TexelViews[e.Offset+j*e.Stride])
			}
		case TypeUniformBuffer, TypeStorageBuffer,
			TypeUniformBufferDynamic, TypeStorageBufferDynamic:
			for j := 0; j < e.Count; j++ {
				b := data.Buffers[e.Offset+j*e.Stride]
				s.WriteBuffer(e.Binding, e.Element+j, e.Type, b.Buffer, b.Offset, b.Range)
			}
		case TypeAccelerationStructure:
			for j := 0; j < e.Count; j++ {
				s.WriteAccelerationStructure(e.Binding, e.Element+j, data.Accels[e.Offset+j*e.Stride])
			}
		default:
			panic(fmt.Sprintf("descset: template entry of unhandled type %v", e.Type))
		}
	}
}
