package vam_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device/hostmem"
	"github.com/vkngwrapper/suballoc/vam"
)

func TestStagingBuffer(t *testing.T) {
	dev, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	staging, err := vam.NewStagingBuffer(heap, 1024, vam.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1024, staging.Capacity())
	require.Equal(t, 1, dev.LiveBufferCount())

	buffer, ok := staging.Buffer().(*hostmem.Buffer)
	require.True(t, ok)
	require.Equal(t, core1_0.BufferUsageTransferSrc, buffer.Usage())
	memory, _ := buffer.BoundMemory()
	require.Equal(t, 1, memory.TypeIndex())

	offset, data, ok := staging.Alloc(100)
	require.True(t, ok)
	require.Equal(t, 0, offset)
	require.Len(t, data, 100)
	data[99] = 1

	offset, data, ok = staging.Alloc(3)
	require.True(t, ok)
	require.Equal(t, 100, offset)
	require.Len(t, data, 3)

	_, _, ok = staging.Alloc(1000)
	require.False(t, ok)
	require.Equal(t, 103, staging.Used())

	staging.Clear()
	require.Equal(t, 0, staging.Used())

	offset, data, ok = staging.Alloc(1024)
	require.True(t, ok)
	require.Equal(t, 0, offset)
	require.Equal(t, byte(1), data[99])

	_, _, ok = staging.Alloc(0)
	require.False(t, ok)

	staging.Destroy()
	require.NotPanics(t, staging.Destroy)
	require.Equal(t, 0, dev.LiveBufferCount())

	_, _, ok = staging.Alloc(1)
	require.False(t, ok)

	require.NoError(t, heap.Destroy())
	require.Equal(t, 0, dev.LiveMemoryCount())
}

func TestStagingBufferRejectsInvalidCapacity(t *testing.T) {
	dev, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	_, err := vam.NewStagingBuffer(heap, 0, vam.CreateOptions{})
	require.Error(t, err)
	require.Equal(t, 0, dev.CreateBufferCalls())

	require.NoError(t, heap.Destroy())
}
