// Package descset implements the descriptor-table layout and allocation
// engine of a GPU-API driver: compiled set layouts, descriptor pools, and
// the typed write/update protocol that encodes resource handles into
// hardware-consumable binary records.
//
// # Overview
//
// descset is a Pure Go driver core designed to integrate with the GoGPU
// ecosystem. It covers three concerns:
//
//   - A layout compiler that turns an abstract binding declaration into
//     exact byte offsets, strides, and alignments for the hardware's
//     surface and sampler descriptor regions (SetLayout).
//   - A two-region pool sub-allocator over GPU-visible memory with
//     defined fragmentation guarantees (Pool).
//   - A write/update engine that encodes CPU-side resource handles into
//     the regions reserved by the pool (Set, UpdateSets, ApplyTemplate).
//
// # Quick Start
//
//	import "github.com/gogpu/descset"
//
//	caps := descset.DeviceCaps{IndirectDescriptors: true}
//	layout, err := descset.NewSetLayout(caps, &descset.SetLayoutInfo{
//		Bindings: []descset.Binding{
//			{Number: 0, Type: descset.TypeUniformBuffer, Count: 1,
//				Stages: gputypes.ShaderStageCompute},
//		},
//	})
//	if err != nil {
//		// handle error
//	}
//	defer layout.Release()
//
//	pool, err := descset.NewPool(descset.NewHostBacking(), caps, &descset.PoolInfo{
//		MaxSets: 16,
//		Sizes:   []descset.PoolSize{{Type: descset.TypeUniformBuffer, Count: 16}},
//	})
//	if err != nil {
//		// handle error
//	}
//	defer pool.Destroy()
//
//	set, err := pool.AllocateSet(layout, 0)
//	if err != nil {
//		// handle error
//	}
//	set.WriteBuffer(0, 0, descset.TypeUniformBuffer, buf, 0, descset.WholeSize)
//
// # Architecture
//
// The module is organized into:
//   - Public API: SetLayout, PipelineSetsLayout, Pool, Set, PushSet
//   - Classifier: pure mapping from descriptor type to binary data kinds
//   - Internal: vma (first-fit address-ordered free-extent heap)
//   - Backing: pluggable GPU-visible memory providers (host, wgpu HAL)
//
// A Pool and the Sets allocated from it are single-writer: the caller
// serializes allocate/free/write/reset per pool. SetLayouts are immutable
// once built and safe to share across goroutines.
package descset
