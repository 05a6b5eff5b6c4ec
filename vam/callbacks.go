package vam

import "github.com/vkngwrapper/suballoc/device"

type AllocateDeviceMemoryCallback func(
	heap *DeviceHeap,
	memoryType int,
	memory device.Memory,
	size int,
	userData interface{},
)

type FreeDeviceMemoryCallback func(
	heap *DeviceHeap,
	memoryType int,
	memory device.Memory,
	size int,
	userData interface{},
)

// MemoryCallbackOptions holds callbacks that fire once for every chunk of device memory a DeviceHeap
// allocates or frees. Suballocations do not trigger them.
type MemoryCallbackOptions struct {
	Allocate AllocateDeviceMemoryCallback
	Free     FreeDeviceMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Heap      *DeviceHeap
}

func (c *memoryCallbacks) Allocate(
	memoryType int,
	memory device.Memory,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Heap, memoryType, memory, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(
	memoryType int,
	memory device.Memory,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Heap, memoryType, memory, size, c.Callbacks.UserData)
	}
}
