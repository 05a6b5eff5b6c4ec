// Package device describes the resource-creation layer that chunk pools allocate through. Pools never
// talk to a driver directly: they are handed a Device, and every raw allocation, buffer creation,
// and bind call goes through it.
package device

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

//go:generate mockgen -source device.go -destination mocks/mocks.go -package mocks

// Device creates raw memory allocations and buffers and reports the read-only tables that
// allocation decisions are based on
type Device interface {
	// MemoryProperties returns the device's ordered memory type table and its memory heaps.
	// The returned value must not change for the lifetime of the Device.
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	// Limits returns the device limits that govern buffer suballocation
	Limits() Limits

	// AllocateMemory allocates a raw region of device memory
	AllocateMemory(info core1_0.MemoryAllocateInfo) (Memory, common.VkResult, error)
	// CreateBuffer creates a buffer object with no memory bound to it
	CreateBuffer(info core1_0.BufferCreateInfo) (Buffer, common.VkResult, error)
}

// Memory is one raw device memory allocation
type Memory interface {
	// Size returns the allocation size in bytes
	Size() int
	// Map maps the entire allocation into host address space. The returned slice is valid until
	// Unmap or Free is called.
	Map() ([]byte, common.VkResult, error)
	Unmap()
	Free()
}

// Resource is anything that needs memory bound to it before use
type Resource interface {
	MemoryRequirements() *core1_0.MemoryRequirements
}

// Buffer is a buffer object created by a Device
type Buffer interface {
	Resource
	// Size returns the size the buffer was created with
	Size() int
	BindBufferMemory(memory Memory, offset int) (common.VkResult, error)
	Destroy()
}

// Image is an image object created elsewhere that needs memory bound to it
type Image interface {
	Resource
	BindImageMemory(memory Memory, offset int) (common.VkResult, error)
}
