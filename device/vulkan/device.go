// Package vulkan adapts vkngwrapper core1_0 objects to the device contracts used by the chunk pools
package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/memutils"
)

// Device is a device.Device that creates real Vulkan memory and buffers
type Device struct {
	device              core1_0.Device
	allocationCallbacks *driver.AllocationCallbacks

	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	limits           device.Limits
}

var _ device.Device = &Device{}

// New reads the memory and limits tables from physicalDevice and wraps logicalDevice so pools can allocate from it.
// allocationCallbacks is optional and is passed to every allocate, free, create, and destroy call.
func New(physicalDevice core1_0.PhysicalDevice, logicalDevice core1_0.Device, allocationCallbacks *driver.AllocationCallbacks) (*Device, error) {
	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	limits := device.LimitsFromProperties(properties.Limits)
	err = memutils.CheckPow2(limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	return &Device{
		device:              logicalDevice,
		allocationCallbacks: allocationCallbacks,
		memoryProperties:    physicalDevice.MemoryProperties(),
		limits:              limits,
	}, nil
}

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *Device) Limits() device.Limits {
	return d.limits
}

func (d *Device) AllocateMemory(info core1_0.MemoryAllocateInfo) (device.Memory, common.VkResult, error) {
	memory, res, err := d.device.AllocateMemory(d.allocationCallbacks, info)
	if err != nil {
		return nil, res, err
	}

	return &Memory{
		memory:              memory,
		size:                info.AllocationSize,
		allocationCallbacks: d.allocationCallbacks,
	}, res, nil
}

func (d *Device) CreateBuffer(info core1_0.BufferCreateInfo) (device.Buffer, common.VkResult, error) {
	buffer, res, err := d.device.CreateBuffer(d.allocationCallbacks, info)
	if err != nil {
		return nil, res, err
	}

	return &Buffer{
		buffer:              buffer,
		size:                info.Size,
		allocationCallbacks: d.allocationCallbacks,
	}, res, nil
}

// Memory wraps a core1_0.DeviceMemory
type Memory struct {
	memory              core1_0.DeviceMemory
	size                int
	allocationCallbacks *driver.AllocationCallbacks
}

var _ device.Memory = &Memory{}

// VulkanDeviceMemory returns the underlying Vulkan memory object
func (m *Memory) VulkanDeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *Memory) Size() int {
	return m.size
}

func (m *Memory) Map() ([]byte, common.VkResult, error) {
	ptr, res, err := m.memory.Map(0, m.size, 0)
	if err != nil {
		return nil, res, err
	}

	return unsafe.Slice((*byte)(ptr), m.size), res, nil
}

func (m *Memory) Unmap() {
	m.memory.Unmap()
}

func (m *Memory) Free() {
	m.memory.Free(m.allocationCallbacks)
}

func unwrapMemory(memory device.Memory) (core1_0.DeviceMemory, error) {
	vulkanMemory, ok := memory.(*Memory)
	if !ok {
		return nil, errors.New("memory was not allocated through a vulkan.Device")
	}

	return vulkanMemory.memory, nil
}

// Buffer wraps a core1_0.Buffer
type Buffer struct {
	buffer              core1_0.Buffer
	size                int
	allocationCallbacks *driver.AllocationCallbacks
}

var _ device.Buffer = &Buffer{}

// VulkanBuffer returns the underlying Vulkan buffer object, for use in descriptor writes and copy commands
func (b *Buffer) VulkanBuffer() core1_0.Buffer {
	return b.buffer
}

func (b *Buffer) Size() int {
	return b.size
}

func (b *Buffer) MemoryRequirements() *core1_0.MemoryRequirements {
	return b.buffer.MemoryRequirements()
}

func (b *Buffer) BindBufferMemory(memory device.Memory, offset int) (common.VkResult, error) {
	vulkanMemory, err := unwrapMemory(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return b.buffer.BindBufferMemory(vulkanMemory, offset)
}

func (b *Buffer) Destroy() {
	b.buffer.Destroy(b.allocationCallbacks)
}

// Image wraps a core1_0.Image so that memory can be bound to it through a heap
type Image struct {
	image core1_0.Image
}

var _ device.Image = &Image{}

func WrapImage(image core1_0.Image) *Image {
	return &Image{image: image}
}

func (i *Image) MemoryRequirements() *core1_0.MemoryRequirements {
	return i.image.MemoryRequirements()
}

func (i *Image) BindImageMemory(memory device.Memory, offset int) (common.VkResult, error) {
	vulkanMemory, err := unwrapMemory(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return i.image.BindImageMemory(vulkanMemory, offset)
}
