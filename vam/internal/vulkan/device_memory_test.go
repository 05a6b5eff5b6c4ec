package vulkan_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/device/hostmem"
	"github.com/vkngwrapper/suballoc/vam/internal/vulkan"
)

type recordingCallbacks struct {
	allocated []int
	freed     []int
}

func (c *recordingCallbacks) Allocate(memoryType int, memory device.Memory, size int) {
	c.allocated = append(c.allocated, size)
}

func (c *recordingCallbacks) Free(memoryType int, memory device.Memory, size int) {
	c.freed = append(c.freed, size)
}

func TestDeviceMemoryHeapLimits(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())

	memory, err := vulkan.NewDeviceMemoryProperties(nil, dev, []int{1000, 0})
	require.NoError(t, err)
	require.Equal(t, 1000, memory.HeapLimit(0))
	require.Equal(t, dev.MemoryProperties().MemoryHeaps[1].Size, memory.HeapLimit(1))

	first, res, err := memory.AllocateDeviceMemory(0, 600)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)

	_, res, err = memory.AllocateDeviceMemory(0, 600)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)
	require.Equal(t, 1, dev.AllocateCalls())

	stats := memory.HeapStatistics(0)
	require.Equal(t, 1, stats.ChunkCount)
	require.Equal(t, 600, stats.ChunkBytes)

	memory.FreeDeviceMemory(0, first)
	require.Equal(t, 0, memory.HeapStatistics(0).ChunkBytes)
	require.Equal(t, 0, memory.MemoryCount())

	second, _, err := memory.AllocateDeviceMemory(0, 1000)
	require.NoError(t, err)
	memory.FreeDeviceMemory(0, second)
}

func TestDeviceMemoryHeapLimitsMustMatchHeaps(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())

	_, err := vulkan.NewDeviceMemoryProperties(nil, dev, []int{1000})
	require.Error(t, err)
}

func TestDeviceMemoryMaxAllocationCount(t *testing.T) {
	options := hostmem.DiscreteOptions()
	options.Limits.MaxMemoryAllocationCount = 2
	dev := hostmem.New(options)

	memory, err := vulkan.NewDeviceMemoryProperties(nil, dev, nil)
	require.NoError(t, err)

	first, _, err := memory.AllocateDeviceMemory(1, 64)
	require.NoError(t, err)
	second, _, err := memory.AllocateDeviceMemory(0, 64)
	require.NoError(t, err)

	_, res, err := memory.AllocateDeviceMemory(0, 64)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorTooManyObjects, res)
	require.Equal(t, 2, memory.MemoryCount())
	require.Equal(t, 2, dev.AllocateCalls())

	memory.FreeDeviceMemory(1, first)

	third, _, err := memory.AllocateDeviceMemory(0, 64)
	require.NoError(t, err)

	memory.FreeDeviceMemory(0, second)
	memory.FreeDeviceMemory(0, third)
	require.Equal(t, 0, dev.LiveMemoryCount())
}

func TestDeviceMemoryCallbacks(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())
	callbacks := &recordingCallbacks{}

	memory, err := vulkan.NewDeviceMemoryProperties(callbacks, dev, nil)
	require.NoError(t, err)

	allocated, _, err := memory.AllocateDeviceMemory(1, 128)
	require.NoError(t, err)
	require.Equal(t, []int{128}, callbacks.allocated)
	require.Empty(t, callbacks.freed)

	memory.AddAllocation(1, 32)
	require.Equal(t, 1, memory.HeapStatistics(1).AllocationCount)
	memory.RemoveAllocation(1, 32)
	require.Panics(t, func() {
		memory.RemoveAllocation(1, 32)
	})

	memory.FreeDeviceMemory(1, allocated)
	require.Equal(t, []int{128}, callbacks.freed)
}

func TestDeviceMemoryTypeProperties(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())

	memory, err := vulkan.NewDeviceMemoryProperties(nil, dev, nil)
	require.NoError(t, err)

	require.Equal(t, 3, memory.MemoryTypeCount())
	require.Equal(t, 2, memory.MemoryHeapCount())
	require.True(t, memory.IsMemoryTypeDeviceLocal(0))
	require.False(t, memory.IsMemoryTypeHostVisible(0))
	require.True(t, memory.IsMemoryTypeHostVisible(2))
	require.Equal(t, 1, memory.MemoryTypeIndexToHeapIndex(2))
	require.Same(t, dev, memory.Device())
}
