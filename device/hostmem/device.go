// Package hostmem implements device.Device entirely in host memory. Host-visible allocations are backed by
// anonymous memory mappings so mapped views behave like real persistently-mapped device memory. It is
// useful for running pools headless and as a deterministic stand-in for a driver in tests.
package hostmem

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
)

type Device struct {
	options          Options
	memoryProperties core1_0.PhysicalDeviceMemoryProperties

	heapLock  sync.Mutex
	heapUsage []int

	allocateCalls   atomic.Int32
	liveMemory      atomic.Int32
	createBuffers   atomic.Int32
	liveBuffers     atomic.Int32
	bufferTypeBits  uint32
	bufferAlignment int
}

var _ device.Device = &Device{}

func New(options Options) *Device {
	dev := &Device{
		options: options,
		memoryProperties: core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: options.MemoryTypes,
			MemoryHeaps: options.MemoryHeaps,
		},
		heapUsage:       make([]int, len(options.MemoryHeaps)),
		bufferTypeBits:  options.BufferMemoryTypeBits,
		bufferAlignment: options.BufferAlignment,
	}

	if dev.bufferTypeBits == 0 {
		dev.bufferTypeBits = (1 << len(options.MemoryTypes)) - 1
	}

	if dev.bufferAlignment < 1 {
		dev.bufferAlignment = 1
	}

	return dev
}

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &d.memoryProperties
}

func (d *Device) Limits() device.Limits {
	return d.options.Limits
}

func (d *Device) AllocateMemory(info core1_0.MemoryAllocateInfo) (device.Memory, common.VkResult, error) {
	d.allocateCalls.Add(1)

	if info.MemoryTypeIndex < 0 || info.MemoryTypeIndex >= len(d.options.MemoryTypes) {
		return nil, core1_0.VKErrorUnknown, errors.Newf("memory type index %d out of range", info.MemoryTypeIndex)
	}

	if info.AllocationSize <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("invalid allocation size %d", info.AllocationSize)
	}

	memoryType := d.options.MemoryTypes[info.MemoryTypeIndex]
	err := d.reserveHeap(memoryType.HeapIndex, info.AllocationSize)
	if err != nil {
		return nil, core1_0.VKErrorOutOfDeviceMemory, err
	}

	memory := &Memory{
		device:     d,
		typeIndex:  info.MemoryTypeIndex,
		heapIndex:  memoryType.HeapIndex,
		size:       info.AllocationSize,
		hostAccess: memoryType.PropertyFlags&core1_0.MemoryPropertyHostVisible != 0,
	}

	if memory.hostAccess {
		memory.data, err = mapRegion(info.AllocationSize)
		if err != nil {
			d.releaseHeap(memoryType.HeapIndex, info.AllocationSize)
			return nil, core1_0.VKErrorOutOfDeviceMemory, err
		}
	}

	d.liveMemory.Add(1)
	return memory, core1_0.VKSuccess, nil
}

func (d *Device) reserveHeap(heapIndex, size int) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heapSize := d.options.MemoryHeaps[heapIndex].Size
	if size > heapSize-d.heapUsage[heapIndex] {
		return errors.Wrapf(core1_0.VKErrorOutOfDeviceMemory.ToError(), "heap %d has %d of %d bytes in use, cannot allocate %d", heapIndex, d.heapUsage[heapIndex], heapSize, size)
	}

	d.heapUsage[heapIndex] += size
	return nil
}

func (d *Device) releaseHeap(heapIndex, size int) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	d.heapUsage[heapIndex] -= size
	if d.heapUsage[heapIndex] < 0 {
		panic(fmt.Sprintf("heap %d usage went negative", heapIndex))
	}
}

func (d *Device) CreateBuffer(info core1_0.BufferCreateInfo) (device.Buffer, common.VkResult, error) {
	d.createBuffers.Add(1)

	if info.Size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("invalid buffer size %d", info.Size)
	}

	d.liveBuffers.Add(1)
	return &Buffer{
		device: d,
		size:   info.Size,
		usage:  info.Usage,
		requirements: core1_0.MemoryRequirements{
			Size:           info.Size,
			Alignment:      d.bufferAlignment,
			MemoryTypeBits: d.bufferTypeBits,
		},
	}, core1_0.VKSuccess, nil
}

// NewImage creates an image with fixed memory requirements, for binding through a heap
func (d *Device) NewImage(size, alignment int, memoryTypeBits uint32) *Image {
	return &Image{
		requirements: core1_0.MemoryRequirements{
			Size:           size,
			Alignment:      alignment,
			MemoryTypeBits: memoryTypeBits,
		},
	}
}

// AllocateCalls returns the number of times AllocateMemory has been called, successful or not
func (d *Device) AllocateCalls() int {
	return int(d.allocateCalls.Load())
}

// LiveMemoryCount returns the number of memory allocations that have not been freed
func (d *Device) LiveMemoryCount() int {
	return int(d.liveMemory.Load())
}

// CreateBufferCalls returns the number of times CreateBuffer has been called, successful or not
func (d *Device) CreateBufferCalls() int {
	return int(d.createBuffers.Load())
}

// LiveBufferCount returns the number of buffers that have not been destroyed
func (d *Device) LiveBufferCount() int {
	return int(d.liveBuffers.Load())
}

// HeapUsage returns the number of bytes currently allocated from the provided heap
func (d *Device) HeapUsage(heapIndex int) int {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	return d.heapUsage[heapIndex]
}
