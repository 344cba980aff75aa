package descset

import "errors"

// Package errors for descriptor pools and layouts.
var (
	// ErrOutOfPoolMemory is returned when a pool's remaining capacity cannot
	// satisfy an allocation. Permanent until the pool is reset.
	ErrOutOfPoolMemory = errors.New("descset: out of pool memory")

	// ErrFragmentedPool is returned when a pool has enough total free space
	// but no contiguous extent large enough. Retryable after freeing other
	// sets from the same pool.
	ErrFragmentedPool = errors.New("descset: fragmented pool")

	// ErrOutOfDeviceMemory is returned when the backing provider cannot
	// allocate a GPU-visible region.
	ErrOutOfDeviceMemory = errors.New("descset: out of device memory")

	// ErrUnsupportedLayout is returned for layout declarations the device
	// cannot represent, such as a mutable binding whose type list includes
	// combined image/samplers on a descriptor-buffer layout.
	ErrUnsupportedLayout = errors.New("descset: unsupported descriptor set layout")
)
