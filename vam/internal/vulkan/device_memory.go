package vulkan

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/memutils"
)

type MemoryCallbacks interface {
	Allocate(memoryType int, memory device.Memory, size int)
	Free(memoryType int, memory device.Memory, size int)
}

// DeviceMemoryProperties is the single path through which chunk memory is allocated from and returned
// to a device. It keeps per-heap counters, enforces heap size limits and the device's allocation count
// limit, and fires memory callbacks.
type DeviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory
	chunkCount [common.MaxMemoryHeaps]int32
	// Number of suballocations that have been handed out of those chunks
	allocationCount [common.MaxMemoryHeaps]int32
	// Size of real allocations that have been made from device memory
	chunkBytes [common.MaxMemoryHeaps]int64
	// Size of suballocations that have been handed out of those chunks
	allocationBytes [common.MaxMemoryHeaps]int64

	memoryCount     uint32
	memoryCallbacks MemoryCallbacks
	heapLimits      []int

	device           device.Device
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	limits           device.Limits
}

func NewDeviceMemoryProperties(
	memoryCallbacks MemoryCallbacks,
	dev device.Device,
	heapSizeLimits []int,
) (*DeviceMemoryProperties, error) {
	deviceProperties := &DeviceMemoryProperties{
		memoryCallbacks:  memoryCallbacks,
		device:           dev,
		memoryProperties: dev.MemoryProperties(),
		limits:           dev.Limits(),
	}

	if deviceProperties.limits.NonCoherentAtomSize > 0 {
		err := memutils.CheckPow2(deviceProperties.limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
		if err != nil {
			return nil, err
		}
	}

	heapCount := deviceProperties.MemoryHeapCount()
	heapLimitCount := len(heapSizeLimits)

	if heapCount > common.MaxMemoryHeaps {
		return nil, errors.Newf("device reported %d memory heaps, but at most %d are supported", heapCount, common.MaxMemoryHeaps)
	}

	if heapLimitCount > 0 && heapLimitCount != heapCount {
		return nil, errors.New("vam.CreateOptions.HeapSizeLimits was provided, but the length does not equal the number of device memory heaps")
	}

	deviceProperties.heapLimits = make([]int, heapCount)
	copy(deviceProperties.heapLimits, heapSizeLimits)

	return deviceProperties, nil
}

func (m *DeviceMemoryProperties) Device() device.Device {
	return m.device
}

func (m *DeviceMemoryProperties) Limits() device.Limits {
	return m.limits
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostVisible(memoryTypeIndex int) bool {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible != 0
}

func (m *DeviceMemoryProperties) IsMemoryTypeDeviceLocal(memoryTypeIndex int) bool {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags&core1_0.MemoryPropertyDeviceLocal != 0
}

// HeapLimit returns the maximum number of bytes that may be allocated from the provided heap
func (m *DeviceMemoryProperties) HeapLimit(heapIndex int) int {
	heapSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
	limit := m.heapLimits[heapIndex]
	if limit > 0 && limit < heapSize {
		return limit
	}

	return heapSize
}

func (m *DeviceMemoryProperties) addChunkAllocation(heapIndex int, allocationSize int) {
	atomic.AddInt64(&m.chunkBytes[heapIndex], int64(allocationSize))
	atomic.AddInt32(&m.chunkCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) addChunkAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) (common.VkResult, error) {
	for {
		currentVal := atomic.LoadInt64(&m.chunkBytes[heapIndex])

		if int64(allocationSize) > int64(maxAllocatable)-currentVal {
			return core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(
				core1_0.VKErrorOutOfDeviceMemory.ToError(),
				"allocating %d bytes would exceed the %d byte limit of heap %d", allocationSize, maxAllocatable, heapIndex,
			)
		}

		if atomic.CompareAndSwapInt64(&m.chunkBytes[heapIndex], currentVal, currentVal+int64(allocationSize)) {
			break
		}
	}

	atomic.AddInt32(&m.chunkCount[heapIndex], 1)
	return core1_0.VKSuccess, nil
}

func (m *DeviceMemoryProperties) removeChunkAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.chunkBytes[heapIndex], int64(-allocationSize))

	if newVal < 0 {
		panic(fmt.Sprintf("chunk bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.chunkCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("chunk count for heapIndex %d went negative", heapIndex))
	}
}

// AllocateDeviceMemory allocates one chunk of raw memory from the provided memory type
func (m *DeviceMemoryProperties) AllocateDeviceMemory(
	memoryTypeIndex int,
	size int,
) (mem device.Memory, res common.VkResult, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	if m.limits.MaxMemoryAllocationCount > 0 && int(newDeviceCount) > m.limits.MaxMemoryAllocationCount {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	if m.heapLimits[heapIndex] == 0 {
		m.addChunkAllocation(heapIndex, size)
	} else {
		res, err = m.addChunkAllocationWithBudget(heapIndex, size, m.HeapLimit(heapIndex))
		if err != nil {
			return nil, res, err
		}
	}
	defer func() {
		// If we failed out, roll back the chunk allocation
		if err != nil {
			m.removeChunkAllocation(heapIndex, size)
		}
	}()

	mem, res, err = m.device.AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, res, err
	}

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(memoryTypeIndex, mem, size)
	}

	return mem, res, nil
}

// FreeDeviceMemory returns a chunk of raw memory allocated with AllocateDeviceMemory to the device
func (m *DeviceMemoryProperties) FreeDeviceMemory(memoryTypeIndex int, memory device.Memory) {
	size := memory.Size()

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(memoryTypeIndex, memory, size)
	}

	memory.Free()

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	m.removeChunkAllocation(heapIndex, size)
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

func (m *DeviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	atomic.AddInt64(&m.allocationBytes[heapIndex], int64(size))
	atomic.AddInt32(&m.allocationCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	newBytes := atomic.AddInt64(&m.allocationBytes[heapIndex], int64(-size))
	newCount := atomic.AddInt32(&m.allocationCount[heapIndex], -1)

	if newBytes < 0 || newCount < 0 {
		panic(fmt.Sprintf("allocation accounting for heapIndex %d went negative", heapIndex))
	}
}

// MemoryCount returns the number of live chunks of raw memory across every heap
func (m *DeviceMemoryProperties) MemoryCount() int {
	return int(atomic.LoadUint32(&m.memoryCount))
}

func (m *DeviceMemoryProperties) HeapStatistics(heapIndex int) memutils.Statistics {
	return memutils.Statistics{
		ChunkCount:      int(atomic.LoadInt32(&m.chunkCount[heapIndex])),
		ChunkBytes:      int(atomic.LoadInt64(&m.chunkBytes[heapIndex])),
		AllocationCount: int(atomic.LoadInt32(&m.allocationCount[heapIndex])),
		AllocationBytes: int(atomic.LoadInt64(&m.allocationBytes[heapIndex])),
	}
}
