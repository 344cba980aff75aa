package descset

// PushSet is a descriptor set written directly by a command stream
// instead of allocated from a pool. It is re-initialized before each run
// of pushes; descriptor memory comes from the stream owner's arena and
// is replaced, not reused, once the GPU may have read it.
type PushSet struct {
	set       Set
	usedOnGPU bool
}

// Init points the push set at a layout and arena, reallocating its
// descriptor memory when the layout changed, the GPU may still read the
// old memory, or the old region is too small. Surviving bytes are
// carried over so partial pushes compose.
func (p *PushSet) Init(layout *SetLayout, stream *StateStream) error {
	if layout.Flags&LayoutPushDescriptor == 0 {
		panic("descset: push set initialized with a non-push layout")
	}

	if p.set.Layout != layout {
		layout.Retain()
		if p.set.Layout != nil {
			p.set.Layout.Release()
		}
		p.set = Set{
			Layout:   layout,
			varCount: layout.maxVarCount(),
		}
		p.set.init()
		p.usedOnGPU = false
	}
	p.set.stream = stream

	surfSize, sampSize := layout.bufferSizes(p.set.varCount)

	if p.usedOnGPU || uint64(surfSize) > p.set.surface.Size {
		st, err := stream.Alloc(uint64(surfSize), BufferAlignment)
		if err != nil {
			return err
		}
		if p.set.surface.Bytes != nil {
			copy(st.Data, p.set.surface.Bytes)
		}
		p.set.surface = Allocation{
			Bytes:   st.Data,
			Size:    uint64(surfSize),
			Address: st.Address,
		}
		if sampSize > 0 {
			samp, err := stream.Alloc(uint64(sampSize), SamplerStateSize)
			if err != nil {
				return err
			}
			if p.set.sampler.Bytes != nil {
				copy(samp.Data, p.set.sampler.Bytes)
			}
			p.set.sampler = Allocation{
				Bytes:   samp.Data,
				Size:    uint64(sampSize),
				Address: samp.Address,
			}
		}
		p.usedOnGPU = false
	}
	return nil
}

// Set exposes the underlying set for writes and binding.
func (p *PushSet) Set() *Set { return &p.set }

// SetUsedOnGPU records that submitted work reads the current descriptor
// memory; the next Init reallocates instead of writing in place.
func (p *PushSet) SetUsedOnGPU() { p.usedOnGPU = true }

// Fini drops the layout reference. The arena memory belongs to the
// stream owner.
func (p *PushSet) Fini() {
	if p.set.Layout != nil {
		p.set.Layout.Release()
	}
	p.set = Set{}
	p.usedOnGPU = false
}
