package hostmem

import (
	"math"

	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
)

const (
	deviceHeapSize = 256 * 1024 * 1024
	hostHeapSize   = 512 * 1024 * 1024
)

// Options describes the memory layout and limits the software device reports
type Options struct {
	MemoryTypes []core1_0.MemoryType
	MemoryHeaps []core1_0.MemoryHeap
	Limits      device.Limits

	// BufferAlignment is the alignment reported in every buffer's memory requirements.
	// Values below 1 are treated as 1.
	BufferAlignment int
	// BufferMemoryTypeBits is the set of memory types buffers may be bound to. Zero means every type.
	BufferMemoryTypeBits uint32
}

// DefaultLimits returns limits in line with what desktop drivers commonly report
func DefaultLimits() device.Limits {
	return device.Limits{
		MinUniformBufferOffsetAlignment: 256,
		MinStorageBufferOffsetAlignment: 64,
		MinTexelBufferOffsetAlignment:   16,
		MaxUniformBufferRange:           65536,
		MaxStorageBufferRange:           math.MaxInt32,
		NonCoherentAtomSize:             64,
		MaxMemoryAllocationCount:        4096,
	}
}

// DiscreteOptions describes a discrete GPU: device-local video memory that cannot be mapped,
// plus host-visible system memory
func DiscreteOptions() Options {
	return Options{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: deviceHeapSize, Flags: core1_0.MemoryHeapDeviceLocal},
			{Size: hostHeapSize},
		},
		Limits:          DefaultLimits(),
		BufferAlignment: 16,
	}
}

// UnifiedOptions describes an integrated GPU where all memory is both device-local and host-visible
func UnifiedOptions() Options {
	return Options{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 0},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: hostHeapSize, Flags: core1_0.MemoryHeapDeviceLocal},
		},
		Limits:          DefaultLimits(),
		BufferAlignment: 16,
	}
}
