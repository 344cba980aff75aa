package descset

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestNewSetLayoutDirectOffsets(t *testing.T) {
	caps := DeviceCaps{}
	layout, err := NewSetLayout(caps, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
			{Number: 1, Type: TypeCombinedImageSampler, Count: 2, Stages: gputypes.ShaderStageCompute},
			{Number: 2, Type: TypeSampler, Count: 1, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	if layout.Mode != ModeDirect {
		t.Fatalf("Mode = %v, want direct", layout.Mode)
	}

	b0 := &layout.Bindings[0]
	if b0.SurfaceOffset != 0 || b0.SurfaceStride != SurfaceStateSize {
		t.Errorf("binding 0 surface = %d+%d, want 0+%d", b0.SurfaceOffset, b0.SurfaceStride, SurfaceStateSize)
	}
	b1 := &layout.Bindings[1]
	if b1.SurfaceOffset != 64 || b1.SurfaceStride != SurfaceStateSize {
		t.Errorf("binding 1 surface = %d+%d, want 64+%d", b1.SurfaceOffset, b1.SurfaceStride, SurfaceStateSize)
	}
	if b1.SamplerOffset != 0 || b1.SamplerStride != SamplerStateSize {
		t.Errorf("binding 1 sampler = %d+%d, want 0+%d", b1.SamplerOffset, b1.SamplerStride, SamplerStateSize)
	}
	b2 := &layout.Bindings[2]
	if b2.SurfaceStride != 0 {
		t.Errorf("binding 2 surface stride = %d, want 0", b2.SurfaceStride)
	}
	if b2.SamplerOffset != 64 || b2.SamplerStride != SamplerStateSize {
		t.Errorf("binding 2 sampler = %d+%d, want 64+%d", b2.SamplerOffset, b2.SamplerStride, SamplerStateSize)
	}

	if layout.SurfaceSize != 192 {
		t.Errorf("SurfaceSize = %d, want 192", layout.SurfaceSize)
	}
	if layout.SamplerSize != 96 {
		t.Errorf("SamplerSize = %d, want 96", layout.SamplerSize)
	}
	if layout.DescriptorCount != 4 {
		t.Errorf("DescriptorCount = %d, want 4", layout.DescriptorCount)
	}
}

func TestNewSetLayoutIndirectRecords(t *testing.T) {
	caps := DeviceCaps{IndirectDescriptors: true}
	layout, err := NewSetLayout(caps, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
			{Number: 1, Type: TypeCombinedImageSampler, Count: 1, Stages: gputypes.ShaderStageCompute},
			{Number: 2, Type: TypeStorageImage, Count: 1, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	if layout.Mode != ModeIndirect {
		t.Fatalf("Mode = %v, want indirect", layout.Mode)
	}
	if got := layout.Bindings[0].SurfaceStride; got != addressRangeRecordSize {
		t.Errorf("uniform buffer stride = %d, want %d", got, addressRangeRecordSize)
	}
	if got := layout.Bindings[1].SurfaceStride; got != sampledImageRecordSize {
		t.Errorf("combined stride = %d, want %d", got, sampledImageRecordSize)
	}
	if got := layout.Bindings[2].SurfaceStride; got != storageImageRecordSize {
		t.Errorf("storage image stride = %d, want %d", got, storageImageRecordSize)
	}
	if layout.SamplerSize != 0 {
		t.Errorf("SamplerSize = %d, want 0 outside direct mode", layout.SamplerSize)
	}
	if got := layout.Bindings[0].BufferViewIndex; got != 0 {
		t.Errorf("uniform buffer view index = %d, want 0", got)
	}
	if layout.BufferViewCount != 1 {
		t.Errorf("BufferViewCount = %d, want 1", layout.BufferViewCount)
	}
}

func TestNewSetLayoutSparseBindings(t *testing.T) {
	layout, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 3, Type: TypeStorageBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
			{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	if len(layout.Bindings) != 4 {
		t.Fatalf("len(Bindings) = %d, want 4", len(layout.Bindings))
	}
	for _, hole := range []int{1, 2} {
		b := &layout.Bindings[hole]
		if b.ArraySize != 0 || b.Kinds != 0 || b.SurfaceStride != 0 {
			t.Errorf("binding %d is not an empty hole: %+v", hole, b)
		}
		if _, _, ok := layout.BindingOffset(hole); ok {
			t.Errorf("BindingOffset(%d) reported a hole as present", hole)
		}
	}
	if layout.Bindings[0].SurfaceOffset != 0 || layout.Bindings[3].SurfaceOffset != 64 {
		t.Errorf("offsets = %d, %d, want 0, 64",
			layout.Bindings[0].SurfaceOffset, layout.Bindings[3].SurfaceOffset)
	}
}

func TestNewSetLayoutDeclarationOrderIrrelevant(t *testing.T) {
	bindings := []Binding{
		{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
		{Number: 1, Type: TypeStorageBuffer, Count: 2, Stages: gputypes.ShaderStageCompute},
	}
	reversed := []Binding{bindings[1], bindings[0]}

	a, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{Bindings: bindings})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer a.Release()
	b, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{Bindings: reversed})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer b.Release()

	if a.Hash != b.Hash {
		t.Errorf("hashes differ across declaration order: %016x vs %016x", a.Hash, b.Hash)
	}
	if a.Bindings[1].SurfaceOffset != b.Bindings[1].SurfaceOffset {
		t.Errorf("offsets differ across declaration order")
	}
}

func TestSetLayoutHashDistinguishesShapes(t *testing.T) {
	base := &SetLayoutInfo{Bindings: []Binding{
		{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
	}}
	a, _ := NewSetLayout(DeviceCaps{}, base)
	defer a.Release()

	changed := &SetLayoutInfo{Bindings: []Binding{
		{Number: 0, Type: TypeStorageBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
	}}
	b, _ := NewSetLayout(DeviceCaps{}, changed)
	defer b.Release()

	if a.Hash == b.Hash {
		t.Error("layouts with different types share a hash")
	}
}

func TestNewSetLayoutDynamicOffsets(t *testing.T) {
	layout, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBufferDynamic, Count: 2, Stages: gputypes.ShaderStageCompute},
			{Number: 1, Type: TypeStorageBufferDynamic, Count: 1, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	if layout.DynamicOffsetCount != 3 {
		t.Fatalf("DynamicOffsetCount = %d, want 3", layout.DynamicOffsetCount)
	}
	if layout.Bindings[0].DynamicOffsetIndex != 0 || layout.Bindings[1].DynamicOffsetIndex != 2 {
		t.Errorf("dynamic offset indices = %d, %d, want 0, 2",
			layout.Bindings[0].DynamicOffsetIndex, layout.Bindings[1].DynamicOffsetIndex)
	}
	for i := 0; i < 3; i++ {
		if layout.DynamicOffsetStages[i] != gputypes.ShaderStageCompute {
			t.Errorf("DynamicOffsetStages[%d] = %v, want compute", i, layout.DynamicOffsetStages[i])
		}
	}
}

func TestNewSetLayoutDynamicOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic on dynamic buffer overflow")
		}
	}()
	_, _ = NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBufferDynamic, Count: MaxDynamicBuffers + 1, Stages: gputypes.ShaderStageCompute},
		},
	})
}

func TestNewSetLayoutVariableNotLastPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic for a variable-count binding that is not last")
		}
	}()
	_, _ = NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeSampledImage, Count: 8, Flags: BindingVariableCount, Stages: gputypes.ShaderStageCompute},
			{Number: 1, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
		},
	})
}

func TestNewSetLayoutInlineUniform(t *testing.T) {
	layout, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
			{Number: 1, Type: TypeInlineUniformBlock, Count: 256, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	b1 := &layout.Bindings[1]
	if b1.SurfaceStride != 1 || b1.ArraySize != 256 {
		t.Errorf("inline binding = stride %d size %d, want 1, 256", b1.SurfaceStride, b1.ArraySize)
	}
	if b1.SurfaceOffset != 64 {
		t.Errorf("inline offset = %d, want 64", b1.SurfaceOffset)
	}
	if layout.SurfaceSize != 64+256 {
		t.Errorf("SurfaceSize = %d, want 320", layout.SurfaceSize)
	}
	// One bookkeeping slot for the whole block.
	if layout.DescriptorCount != 2 {
		t.Errorf("DescriptorCount = %d, want 2", layout.DescriptorCount)
	}
}

func TestSetLayoutVariableCountSizing(t *testing.T) {
	layout, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeStorageBuffer, Count: 100, Flags: BindingVariableCount, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	if layout.SurfaceSize != 6400 {
		t.Fatalf("SurfaceSize = %d, want 6400", layout.SurfaceSize)
	}
	surface, _ := layout.bufferSizes(3)
	if surface != 192 {
		t.Errorf("bufferSizes(3) = %d, want 192", surface)
	}
	if got := layout.descriptorCount(3); got != 3 {
		t.Errorf("descriptorCount(3) = %d, want 3", got)
	}
	surface, _ = layout.bufferSizes(100)
	if surface != 6400 {
		t.Errorf("bufferSizes(100) = %d, want 6400", surface)
	}
}

func TestNewSetLayoutEmbeddedSamplers(t *testing.T) {
	samplers := []*Sampler{{EmbeddedKey: 7}, {EmbeddedKey: 9}}
	layout, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Flags: LayoutEmbeddedSamplers | LayoutPushDescriptor,
		Bindings: []Binding{
			{Number: 0, Type: TypeSampler, Count: 2, Samplers: samplers, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	if layout.EmbeddedSamplerCount != 2 {
		t.Errorf("EmbeddedSamplerCount = %d, want 2", layout.EmbeddedSamplerCount)
	}
	if layout.Bindings[0].Kinds != 0 {
		t.Errorf("embedded sampler kinds = %#x, want 0", layout.Bindings[0].Kinds)
	}
	if layout.SurfaceSize != 0 || layout.SamplerSize != 0 {
		t.Errorf("region sizes = %d, %d, want 0, 0", layout.SurfaceSize, layout.SamplerSize)
	}

	// The sampler identity must still reach the hash.
	other, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Flags: LayoutEmbeddedSamplers | LayoutPushDescriptor,
		Bindings: []Binding{
			{Number: 0, Type: TypeSampler, Count: 2, Samplers: []*Sampler{{EmbeddedKey: 7}, {EmbeddedKey: 10}}, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer other.Release()
	if layout.Hash == other.Hash {
		t.Error("embedded sampler keys do not affect the hash")
	}
}

func TestNewSetLayoutMultiPlanarSampler(t *testing.T) {
	ycbcr := &Sampler{PlaneCount: 3, HasYCbCr: true, YCbCrState: 42}
	layout, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeCombinedImageSampler, Count: 1, Samplers: []*Sampler{ycbcr}, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer layout.Release()

	b := &layout.Bindings[0]
	if b.MaxPlaneCount != 3 {
		t.Errorf("MaxPlaneCount = %d, want 3", b.MaxPlaneCount)
	}
	if b.SurfaceStride != 3*SurfaceStateSize {
		t.Errorf("surface stride = %d, want %d", b.SurfaceStride, 3*SurfaceStateSize)
	}
	if b.SamplerStride != 3*SamplerStateSize {
		t.Errorf("sampler stride = %d, want %d", b.SamplerStride, 3*SamplerStateSize)
	}
}

func TestNewSetLayoutUnsupported(t *testing.T) {
	_, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Flags: LayoutDescriptorBuffer,
		Bindings: []Binding{
			{Number: 0, Type: TypeMutable, Count: 1, Stages: gputypes.ShaderStageCompute,
				MutableTypes: []DescriptorType{TypeCombinedImageSampler, TypeSampledImage}},
		},
	})
	if !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("err = %v, want ErrUnsupportedLayout", err)
	}
}

func TestCheckSetLayoutSupport(t *testing.T) {
	budget := uint32(MaxBindingTableSize - MaxRenderTargets)

	info := &SetLayoutInfo{Bindings: []Binding{
		{Number: 0, Type: TypeStorageBuffer, Count: budget, Stages: gputypes.ShaderStageCompute},
	}}
	if got := CheckSetLayoutSupport(DeviceCaps{}, info); !got.Supported {
		t.Errorf("layout at exactly the table budget reported unsupported")
	}

	info.Bindings[0].Count = budget + 1
	if got := CheckSetLayoutSupport(DeviceCaps{}, info); got.Supported {
		t.Errorf("layout over the table budget reported supported")
	}

	// Bindless bindings do not consume table entries.
	info.Bindings[0].Flags = BindingUpdateAfterBind
	if got := CheckSetLayoutSupport(DeviceCaps{}, info); !got.Supported {
		t.Errorf("bindless layout over the table budget reported unsupported")
	}
}

func TestCheckSetLayoutSupportVariableCount(t *testing.T) {
	budget := uint32(MaxBindingTableSize - MaxRenderTargets)

	info := &SetLayoutInfo{Bindings: []Binding{
		{Number: 0, Type: TypeSampledImage, Count: 10, Flags: BindingVariableCount, Stages: gputypes.ShaderStageCompute},
	}}
	got := CheckSetLayoutSupport(DeviceCaps{}, info)
	if !got.Supported {
		t.Fatal("variable layout reported unsupported")
	}
	if got.MaxVariableDescriptorCount != budget {
		t.Errorf("MaxVariableDescriptorCount = %d, want %d", got.MaxVariableDescriptorCount, budget)
	}

	// Update-after-bind forces the binding off the table; the ceiling is
	// the bindless heap, not the table budget.
	info.Bindings[0].Flags |= BindingUpdateAfterBind
	got = CheckSetLayoutSupport(DeviceCaps{IndirectDescriptors: true}, info)
	if got.MaxVariableDescriptorCount != maxBindlessDescriptors {
		t.Errorf("bindless MaxVariableDescriptorCount = %d, want %d", got.MaxVariableDescriptorCount, maxBindlessDescriptors)
	}
}

func TestPipelineSetsLayout(t *testing.T) {
	dyn, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBufferDynamic, Count: 2, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer dyn.Release()
	push, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Flags: LayoutPushDescriptor,
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	defer push.Release()

	p := NewPipelineSetsLayout()
	p.Add(0, dyn)
	p.Add(1, dyn)
	p.Add(2, push)

	if p.NumSets != 3 {
		t.Errorf("NumSets = %d, want 3", p.NumSets)
	}
	if p.DynamicOffsetStart[1] != 2 {
		t.Errorf("DynamicOffsetStart[1] = %d, want 2", p.DynamicOffsetStart[1])
	}
	if p.DynamicOffsetCount() != 4 {
		t.Errorf("DynamicOffsetCount = %d, want 4", p.DynamicOffsetCount())
	}
	if p.PushSetIndex != 2 {
		t.Errorf("PushSetIndex = %d, want 2", p.PushSetIndex)
	}

	q := NewPipelineSetsLayout()
	q.Add(0, dyn)
	q.Add(1, dyn)
	q.Add(2, push)
	if p.Hash() != q.Hash() {
		t.Error("identical compositions hash differently")
	}
	q.Fini()
	p.Fini()
	if p.NumSets != 0 || p.PushSetIndex != -1 {
		t.Errorf("Fini left state behind: %d sets, push %d", p.NumSets, p.PushSetIndex)
	}
}

func TestSetLayoutRefcounting(t *testing.T) {
	layout, err := NewSetLayout(DeviceCaps{}, &SetLayoutInfo{
		Bindings: []Binding{
			{Number: 0, Type: TypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageCompute},
		},
	})
	if err != nil {
		t.Fatalf("NewSetLayout: %v", err)
	}
	layout.Retain()
	layout.Release()
	layout.Release()

	defer func() {
		if recover() == nil {
			t.Error("over-release did not panic")
		}
	}()
	layout.Release()
}
