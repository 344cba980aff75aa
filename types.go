package descset

import (
	"github.com/gogpu/gputypes"
)

// Hardware-fixed sizing constants. Every descriptor region offset computed
// by the layout builder is expressed in terms of these.
const (
	// SurfaceStateSize is the size in bytes of one hardware surface state
	// block (the fixed-function fetch unit's view of a resource).
	SurfaceStateSize = 64

	// SamplerStateSize is the size in bytes of one hardware sampler state
	// block.
	SamplerStateSize = 32

	// BufferAlignment is the minimum alignment of descriptor buffer
	// allocations and inline uniform regions. Descriptor buffers must be
	// pushable, which requires this alignment.
	BufferAlignment = 64

	// MaxSets is the maximum number of set slots in a pipeline layout.
	MaxSets = 32

	// MaxDynamicBuffers is the size of the global dynamic-offset table.
	MaxDynamicBuffers = 32

	// MaxBindingTableSize is the hardware binding table entry budget.
	MaxBindingTableSize = 240

	// MaxRenderTargets is the number of binding table entries reserved for
	// render targets; they are not available to descriptor sets.
	MaxRenderTargets = 8

	// MaxInlineUniformBlockSize caps a single inline uniform binding.
	MaxInlineUniformBlockSize = 4096

	// MaxPlanes is the largest sub-resource plane count a multi-planar
	// format can require.
	MaxPlanes = 3
)

// Inline record sizes. These are the out-of-line structures shaders read
// through the bindless indirection table; each is kept 8-byte aligned.
const (
	sampledImageRecordSize = 8  // surface handle + sampler handle
	storageImageRecordSize = 32 // handle, depth, address, tiling, pitches, format
	addressRangeRecordSize = 16 // 64-bit address + 64-bit range
)

// WholeSize requests the remainder of a buffer, from the bound offset to
// the end of the buffer.
const WholeSize = ^uint64(0)

// DescriptorType enumerates the resource kinds a binding can hold.
// The ordering up to TypeInputAttachment is load-bearing: unconstrained
// mutable bindings synthesize their shape from every type in that range.
type DescriptorType uint8

const (
	TypeSampler DescriptorType = iota
	TypeCombinedImageSampler
	TypeSampledImage
	TypeStorageImage
	TypeUniformTexelBuffer
	TypeStorageTexelBuffer
	TypeUniformBuffer
	TypeStorageBuffer
	TypeUniformBufferDynamic
	TypeStorageBufferDynamic
	TypeInputAttachment

	TypeInlineUniformBlock
	TypeAccelerationStructure

	// TypeMutable is the wildcard type: the concrete type is chosen per
	// write from the binding's type list (or from all eligible types when
	// the list is empty).
	TypeMutable

	numDescriptorTypes
)

var descriptorTypeNames = [numDescriptorTypes]string{
	TypeSampler:               "sampler",
	TypeCombinedImageSampler:  "combined-image-sampler",
	TypeSampledImage:          "sampled-image",
	TypeStorageImage:          "storage-image",
	TypeUniformTexelBuffer:    "uniform-texel-buffer",
	TypeStorageTexelBuffer:    "storage-texel-buffer",
	TypeUniformBuffer:         "uniform-buffer",
	TypeStorageBuffer:         "storage-buffer",
	TypeUniformBufferDynamic:  "uniform-buffer-dynamic",
	TypeStorageBufferDynamic:  "storage-buffer-dynamic",
	TypeInputAttachment:       "input-attachment",
	TypeInlineUniformBlock:    "inline-uniform-block",
	TypeAccelerationStructure: "acceleration-structure",
	TypeMutable:               "mutable",
}

func (t DescriptorType) String() string {
	if int(t) < len(descriptorTypeNames) {
		return descriptorTypeNames[t]
	}
	return "unknown"
}

// isDynamic reports whether t is a dynamically-offset buffer type.
func (t DescriptorType) isDynamic() bool {
	return t == TypeUniformBufferDynamic || t == TypeStorageBufferDynamic
}

// LayoutFlags modify how a whole set layout is built and addressed.
type LayoutFlags uint8

const (
	// LayoutPushDescriptor marks a layout intended for push sets written
	// into a per-command-stream arena instead of a pool.
	LayoutPushDescriptor LayoutFlags = 1 << iota

	// LayoutDescriptorBuffer addresses the descriptor region as a raw GPU
	// buffer with no binding-table fallback.
	LayoutDescriptorBuffer

	// LayoutEmbeddedSamplers bakes immutable sampler parameters into the
	// shader; plain sampler bindings then occupy no descriptor memory.
	LayoutEmbeddedSamplers
)

// BindingFlags modify a single binding.
type BindingFlags uint8

const (
	// BindingUpdateAfterBind allows writes after the set is bound.
	BindingUpdateAfterBind BindingFlags = 1 << iota

	// BindingUpdateUnusedWhilePending allows writes to unused descriptors
	// while the set is pending execution.
	BindingUpdateUnusedWhilePending

	// BindingPartiallyBound allows shaders to touch only written elements.
	BindingPartiallyBound

	// BindingVariableCount marks the binding's declared count as a
	// capacity ceiling; the actual count is supplied at allocation time.
	// Only legal on the last declared binding.
	BindingVariableCount
)

// bindlessOnlyFlags are the binding flags that force descriptors out of
// the fixed binding table.
const bindlessOnlyFlags = BindingUpdateAfterBind |
	BindingUpdateUnusedWhilePending |
	BindingPartiallyBound

// LayoutMode selects how shaders reach descriptor data.
type LayoutMode uint8

const (
	// ModeUnknown is the zero value; pipeline layouts start here until the
	// first set layout pins the mode.
	ModeUnknown LayoutMode = iota

	// ModeIndirect routes all resource state through out-of-line blocks
	// addressed by a bindless index stored in the descriptor region.
	ModeIndirect

	// ModeDirect embeds hardware surface/sampler state inline in the
	// descriptor region, also reachable through the binding table.
	ModeDirect

	// ModeBufferOffset addresses the descriptor region as a raw GPU buffer
	// with no binding-table fallback.
	ModeBufferOffset
)

func (m LayoutMode) String() string {
	switch m {
	case ModeIndirect:
		return "indirect"
	case ModeDirect:
		return "direct"
	case ModeBufferOffset:
		return "buffer-offset"
	default:
		return "unknown"
	}
}

// DeviceCaps carries the device capability bits that drive classification
// and layout-mode selection. It is passed explicitly into every pure
// function; there is no ambient device state.
type DeviceCaps struct {
	// IndirectDescriptors routes resource access through the global
	// indirection table rather than inline hardware state.
	IndirectDescriptors bool

	// ExtendedBindlessOffsets reports hardware support for full-width
	// bindless surface offsets. It lets push descriptors on descriptor
	// buffers bypass the binding table.
	ExtendedBindlessOffsets bool

	// ForceBindless is a debug switch that makes every binding that can
	// go bindless do so.
	ForceBindless bool
}

// layoutModeFor derives the layout mode of a set from its flags and the
// device capabilities.
func layoutModeFor(caps DeviceCaps, flags LayoutFlags) LayoutMode {
	switch {
	case flags&LayoutDescriptorBuffer != 0:
		return ModeBufferOffset
	case caps.IndirectDescriptors:
		return ModeIndirect
	default:
		return ModeDirect
	}
}

// Binding declares one binding of a set layout. Immutable once a layout
// has been built from it.
type Binding struct {
	// Number is the binding slot. Sparse numbering is allowed; holes
	// become zero-sized no-ops in the compiled layout.
	Number int

	Type  DescriptorType
	Count uint32

	// Stages is the shader stage visibility of the binding.
	Stages gputypes.ShaderStage

	Flags BindingFlags

	// Samplers optionally fixes one immutable sampler per element. Only
	// honored for sampler and combined image/sampler bindings (and
	// mutable bindings that can resolve to them). len(Samplers) must
	// equal Count when set.
	Samplers []*Sampler

	// MutableTypes constrains a TypeMutable binding to a closed list of
	// concrete types. Empty means every eligible type.
	MutableTypes []DescriptorType
}

// SetLayoutInfo is the input to NewSetLayout.
type SetLayoutInfo struct {
	Flags    LayoutFlags
	Bindings []Binding
}

// PoolSize declares pool capacity for one descriptor type. For inline
// uniform blocks, Count is the total byte capacity rather than a
// descriptor count.
type PoolSize struct {
	Type  DescriptorType
	Count uint32

	// MutableTypes constrains sizing of TypeMutable entries, mirroring
	// Binding.MutableTypes.
	MutableTypes []DescriptorType
}

// PoolFlags modify pool construction.
type PoolFlags uint8

const (
	// PoolHostOnly backs the pool with host memory instead of GPU-visible
	// regions; such pools only stage descriptor data for later upload.
	PoolHostOnly PoolFlags = 1 << iota
)

// PoolInfo is the input to NewPool.
type PoolInfo struct {
	MaxSets uint32
	Sizes   []PoolSize
	Flags   PoolFlags

	// MaxInlineUniformBindings is the number of distinct inline uniform
	// bindings the pool must be able to align independently.
	MaxInlineUniformBindings uint32
}

// ImagePlane holds the precomputed per-plane state of an image view that
// descriptor writes encode. The core reads these fields; it never creates
// or owns the image.
type ImagePlane struct {
	// SampledHandle and StorageHandle are bindless surface state handles
	// for sampled and storage access respectively.
	SampledHandle uint32
	StorageHandle uint32

	// SurfaceState and StorageSurfaceState are the hardware surface
	// blocks for sampled and storage access.
	SurfaceState        [SurfaceStateSize]byte
	StorageSurfaceState [SurfaceStateSize]byte

	// Raw addressing fields consumed by storage image records.
	Address  uint64
	Depth    uint32
	TileMode uint32
	RowPitch uint32
	QPitch   uint32
	Format   gputypes.TextureFormat
}

// ImageView is the resolved view of an image resource, one entry per
// format plane.
type ImageView struct {
	Planes []ImagePlane
}

// Sampler is the resolved state of a sampler resource.
type Sampler struct {
	// PlaneCount is > 1 for multi-planar (YCbCr) samplers.
	PlaneCount uint8

	// BindlessOffset locates the sampler's out-of-line state; plane p
	// lives at BindlessOffset + p*SamplerStateSize.
	BindlessOffset uint32

	// State holds the hardware sampler block per plane.
	State [MaxPlanes][SamplerStateSize]byte

	// EmbeddedKey identifies the sampler parameters when they are baked
	// into shader code (embedded-sampler layouts).
	EmbeddedKey uint64

	// HasYCbCr and YCbCrState describe an attached format conversion,
	// which affects shader compilation and therefore the layout hash.
	HasYCbCr   bool
	YCbCrState uint64
}

func (s *Sampler) planes() uint8 {
	if s == nil || s.PlaneCount == 0 {
		return 1
	}
	return s.PlaneCount
}

// Buffer is the resolved address range of a buffer resource.
type Buffer struct {
	Address uint64
	Size    uint64
}

// TexelBufferView is a formatted view of a buffer range, with surface
// state precomputed by the resource layer for both access flavors.
type TexelBufferView struct {
	Address uint64
	Range   uint64
	Format  gputypes.TextureFormat

	// GeneralHandle/StorageHandle are bindless handles of the two
	// precomputed surface states.
	GeneralHandle uint32
	StorageHandle uint32

	GeneralState [SurfaceStateSize]byte
	StorageState [SurfaceStateSize]byte
}

// AccelerationStructure is the resolved address range of an acceleration
// structure resource.
type AccelerationStructure struct {
	Address uint64
	Size    uint64
}

// align rounds v up to the next multiple of a. a must be a power of two.
func align[T uint16 | uint32 | uint64](v, a T) T {
	return (v + a - 1) &^ (a - 1)
}
