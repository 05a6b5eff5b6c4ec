package vam

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

var heapCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	heapCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return heapCreateFlagsMapping.FlagsToString(f)
}

const (
	// HeapCreateExternallySynchronized ensures that heaps and pools created with this flag will not
	// be synchronized internally. The consumer must guarantee they are used from only one thread
	// at a time or are synchronized by some other mechanism.
	HeapCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	HeapCreateExternallySynchronized.Register("HeapCreateExternallySynchronized")
}

// Tiling separates buffers from optimally-tiled images so the two never share a chunk
type Tiling uint32

const (
	TilingLinear Tiling = iota
	TilingNonlinear
)

var tilingMapping = map[Tiling]string{
	TilingLinear:    "TilingLinear",
	TilingNonlinear: "TilingNonlinear",
}

func (t Tiling) String() string {
	return tilingMapping[t]
}

// MemoryMapping indicates whether an allocation must be host-addressable
type MemoryMapping uint32

const (
	// MemoryMapped allocations live in host-visible, host-coherent memory that stays mapped
	MemoryMapped MemoryMapping = iota
	// MemoryUnmapped allocations prefer device-local memory and cannot be accessed from the host
	MemoryUnmapped
)

var memoryMappingMapping = map[MemoryMapping]string{
	MemoryMapped:   "MemoryMapped",
	MemoryUnmapped: "MemoryUnmapped",
}

func (m MemoryMapping) String() string {
	return memoryMappingMapping[m]
}

func (m MemoryMapping) requiredFlags() core1_0.MemoryPropertyFlags {
	if m == MemoryMapped {
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}

	return core1_0.MemoryPropertyDeviceLocal
}

// Lifetime decides whether allocations are freed individually or reclaimed together once per frame
type Lifetime uint32

const (
	// LifetimeStatic allocations are returned to their pool one at a time with BufferAlloc.Free
	LifetimeStatic Lifetime = iota
	// LifetimeFrame allocations are reclaimed together by BufferHeap.ClearFrame
	LifetimeFrame

	lifetimeCount = 2
)

var lifetimeMapping = map[Lifetime]string{
	LifetimeStatic: "LifetimeStatic",
	LifetimeFrame:  "LifetimeFrame",
}

func (l Lifetime) String() string {
	return lifetimeMapping[l]
}

// Binding is the way a buffer range will be bound in a shader or pipeline. It decides the usage flags of
// backing buffers, the required offset alignment, and the maximum size of a single allocation.
type Binding uint32

const (
	BindingStorage Binding = iota
	BindingUniform
	BindingStorageTexel
	BindingUniformTexel
	BindingVertex
	BindingIndex

	bindingCount = 6
)

var bindingMapping = map[Binding]string{
	BindingStorage:      "BindingStorage",
	BindingUniform:      "BindingUniform",
	BindingStorageTexel: "BindingStorageTexel",
	BindingUniformTexel: "BindingUniformTexel",
	BindingVertex:       "BindingVertex",
	BindingIndex:        "BindingIndex",
}

func (b Binding) String() string {
	return bindingMapping[b]
}

// Usage returns the buffer usage flags that backing buffers for this binding are created with
func (b Binding) Usage() core1_0.BufferUsageFlags {
	var usage core1_0.BufferUsageFlags
	switch b {
	case BindingStorage:
		usage = core1_0.BufferUsageStorageBuffer
	case BindingUniform:
		usage = core1_0.BufferUsageUniformBuffer
	case BindingStorageTexel:
		usage = core1_0.BufferUsageStorageTexelBuffer
	case BindingUniformTexel:
		usage = core1_0.BufferUsageUniformTexelBuffer
	case BindingVertex:
		usage = core1_0.BufferUsageVertexBuffer
	case BindingIndex:
		usage = core1_0.BufferUsageIndexBuffer
	}

	return usage | core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst
}

// Alignment returns the offset alignment the device requires for ranges bound with this binding
func (b Binding) Alignment(limits device.Limits) uint {
	var alignment int
	switch b {
	case BindingStorage:
		alignment = limits.MinStorageBufferOffsetAlignment
	case BindingUniform:
		alignment = limits.MinUniformBufferOffsetAlignment
	case BindingStorageTexel, BindingUniformTexel:
		alignment = limits.MinTexelBufferOffsetAlignment
	}

	if alignment < 1 {
		return 1
	}
	return uint(alignment)
}

// MaxRange returns the largest range the device can bind with this binding, or 0 if the device
// does not advertise a limit
func (b Binding) MaxRange(limits device.Limits) int {
	switch b {
	case BindingStorage:
		return limits.MaxStorageBufferRange
	case BindingUniform:
		return limits.MaxUniformBufferRange
	}

	return 0
}

func (b Binding) valid() bool {
	return b < bindingCount
}

func (l Lifetime) valid() bool {
	return l < lifetimeCount
}

func (m MemoryMapping) valid() bool {
	return m == MemoryMapped || m == MemoryUnmapped
}
