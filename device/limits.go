package device

import "github.com/vkngwrapper/core/v2/core1_0"

// Limits is the subset of the physical device limits table that buffer suballocation depends on
type Limits struct {
	MinUniformBufferOffsetAlignment int
	MinStorageBufferOffsetAlignment int
	MinTexelBufferOffsetAlignment   int
	MaxUniformBufferRange           int
	MaxStorageBufferRange           int
	NonCoherentAtomSize             int
	MaxMemoryAllocationCount        int
}

// LimitsFromProperties pulls the suballocation limits out of a full physical device limits table
func LimitsFromProperties(limits *core1_0.PhysicalDeviceLimits) Limits {
	return Limits{
		MinUniformBufferOffsetAlignment: int(limits.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: int(limits.MinStorageBufferOffsetAlignment),
		MinTexelBufferOffsetAlignment:   int(limits.MinTexelBufferOffsetAlignment),
		MaxUniformBufferRange:           int(limits.MaxUniformBufferRange),
		MaxStorageBufferRange:           int(limits.MaxStorageBufferRange),
		NonCoherentAtomSize:             int(limits.NonCoherentAtomSize),
		MaxMemoryAllocationCount:        int(limits.MaxMemoryAllocationCount),
	}
}
