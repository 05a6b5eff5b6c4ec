package hostmem_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device/hostmem"
)

func TestAllocateAndMap(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())

	memory, res, err := dev.AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  4096,
		MemoryTypeIndex: 1,
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, 4096, memory.Size())
	require.Equal(t, 4096, dev.HeapUsage(1))

	data, _, err := memory.Map()
	require.NoError(t, err)
	require.Len(t, data, 4096)
	data[4095] = 7
	require.Equal(t, byte(7), data[4095])

	memory.Free()
	require.Equal(t, 0, dev.HeapUsage(1))
	require.Equal(t, 0, dev.LiveMemoryCount())
	require.Equal(t, 1, dev.AllocateCalls())
	require.Panics(t, memory.Free)
}

func TestDeviceLocalMemoryCannotMap(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())

	memory, _, err := dev.AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  256,
		MemoryTypeIndex: 0,
	})
	require.NoError(t, err)

	_, res, err := memory.Map()
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorMemoryMapFailed, res)
	memory.Free()
}

func TestHeapExhaustion(t *testing.T) {
	options := hostmem.DiscreteOptions()
	options.MemoryHeaps[0].Size = 1000
	dev := hostmem.New(options)

	memory, _, err := dev.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 600, MemoryTypeIndex: 0})
	require.NoError(t, err)

	_, res, err := dev.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 600, MemoryTypeIndex: 0})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	memory.Free()
	memory, _, err = dev.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 600, MemoryTypeIndex: 0})
	require.NoError(t, err)
	memory.Free()
}

func TestBufferBinding(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())

	memory, _, err := dev.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 1024, MemoryTypeIndex: 1})
	require.NoError(t, err)

	buffer, _, err := dev.CreateBuffer(core1_0.BufferCreateInfo{
		Size:  512,
		Usage: core1_0.BufferUsageUniformBuffer,
	})
	require.NoError(t, err)
	require.Equal(t, 512, buffer.MemoryRequirements().Size)
	require.Equal(t, 16, buffer.MemoryRequirements().Alignment)
	require.Equal(t, uint32(0b111), buffer.MemoryRequirements().MemoryTypeBits)

	_, err = buffer.BindBufferMemory(memory, 8)
	require.Error(t, err)
	_, err = buffer.BindBufferMemory(memory, 528)
	require.Error(t, err)

	res, err := buffer.BindBufferMemory(memory, 512)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)

	bound, offset := buffer.(*hostmem.Buffer).BoundMemory()
	require.Same(t, memory, bound)
	require.Equal(t, 512, offset)

	_, err = buffer.BindBufferMemory(memory, 0)
	require.Error(t, err)

	buffer.Destroy()
	require.Equal(t, 0, dev.LiveBufferCount())
	require.Equal(t, 1, dev.CreateBufferCalls())
	memory.Free()
}

func TestImageBinding(t *testing.T) {
	dev := hostmem.New(hostmem.DiscreteOptions())
	image := dev.NewImage(300, 256, 0b001)

	hostVisible, _, err := dev.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 1024, MemoryTypeIndex: 1})
	require.NoError(t, err)
	_, err = image.BindImageMemory(hostVisible, 0)
	require.Error(t, err)

	deviceLocal, _, err := dev.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 1024, MemoryTypeIndex: 0})
	require.NoError(t, err)
	_, err = image.BindImageMemory(deviceLocal, 256)
	require.NoError(t, err)

	bound, offset := image.BoundMemory()
	require.Same(t, deviceLocal, bound)
	require.Equal(t, 256, offset)

	hostVisible.Free()
	deviceLocal.Free()
}
