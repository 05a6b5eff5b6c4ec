package vam_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/device/hostmem"
	"github.com/vkngwrapper/suballoc/device/mocks"
	"github.com/vkngwrapper/suballoc/vam"
	"go.uber.org/mock/gomock"
)

func TestFindMemoryType(t *testing.T) {
	_, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())
	defer func() {
		require.NoError(t, heap.Destroy())
	}()

	testCases := map[string]struct {
		typeBits uint32
		mapping  vam.MemoryMapping
		expected int
	}{
		"MappedPrefersFirstHostVisible": {typeBits: 0b111, mapping: vam.MemoryMapped, expected: 1},
		"UnmappedPrefersDeviceLocal":    {typeBits: 0b111, mapping: vam.MemoryUnmapped, expected: 0},
		"MappedRespectsTypeBits":        {typeBits: 0b100, mapping: vam.MemoryMapped, expected: 2},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			typeIndex, err := heap.FindMemoryType(testCase.typeBits, testCase.mapping)
			require.NoError(t, err)
			require.Equal(t, testCase.expected, typeIndex)
		})
	}

	_, err := heap.FindMemoryType(0b100, vam.MemoryUnmapped)
	require.True(t, errors.Is(err, vam.ErrNoCompatibleMemoryType))
}

func TestDeviceHeapAllocMapped(t *testing.T) {
	dev, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	requirements := &core1_0.MemoryRequirements{Size: 100, Alignment: 8, MemoryTypeBits: 0b111}

	first, err := heap.Alloc(requirements, vam.TilingLinear, vam.MemoryMapped)
	require.NoError(t, err)
	require.Equal(t, 1, first.Chunk().TypeIndex())
	require.Equal(t, 0, first.Offset())
	require.Equal(t, 100, first.Size())

	second, err := heap.Alloc(requirements, vam.TilingLinear, vam.MemoryMapped)
	require.NoError(t, err)
	require.Equal(t, 128, second.Offset())
	require.Same(t, first.Chunk(), second.Chunk())
	require.Equal(t, 1, dev.AllocateCalls())

	data, err := second.Mapped()
	require.NoError(t, err)
	require.Len(t, data, 100)
	data[99] = 42

	heaps := heap.Heaps()
	require.Len(t, heaps, 2)
	require.Equal(t, vam.HeapInfo{}, heaps[0])
	require.Equal(t, vam.HeapInfo{Reserved: testChunkSize, Used: 200}, heaps[1])

	first.Free()
	require.False(t, first.IsLive())
	require.NotPanics(t, first.Free)
	second.Free()

	require.NoError(t, heap.Validate())
	require.NoError(t, heap.Destroy())
	require.Equal(t, 0, dev.LiveMemoryCount())
}

func TestDeviceHeapUnmappedMemoryHasNoView(t *testing.T) {
	_, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	alloc, err := heap.Alloc(&core1_0.MemoryRequirements{Size: 64, Alignment: 1, MemoryTypeBits: 0b111}, vam.TilingLinear, vam.MemoryUnmapped)
	require.NoError(t, err)
	require.Equal(t, 0, alloc.Chunk().TypeIndex())
	require.False(t, alloc.Chunk().IsMapped())

	_, err = alloc.Mapped()
	require.True(t, errors.Is(err, vam.ErrNotMapped))

	alloc.Free()
	require.NoError(t, heap.Destroy())
}

func TestDeviceHeapGrowsByChunkMultiples(t *testing.T) {
	dev, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	requirements := &core1_0.MemoryRequirements{Size: 3*testChunkSize - 128, Alignment: 1, MemoryTypeBits: 0b001}
	large, err := heap.Alloc(requirements, vam.TilingLinear, vam.MemoryUnmapped)
	require.NoError(t, err)
	require.Equal(t, 3*testChunkSize, large.Chunk().Size())
	require.Equal(t, 0, large.Offset())

	small, err := heap.Alloc(&core1_0.MemoryRequirements{Size: 100, Alignment: 1, MemoryTypeBits: 0b001}, vam.TilingLinear, vam.MemoryUnmapped)
	require.NoError(t, err)
	require.Same(t, large.Chunk(), small.Chunk())
	require.Equal(t, 3*testChunkSize-128, small.Offset())

	notFitting, err := heap.Alloc(&core1_0.MemoryRequirements{Size: 100, Alignment: 1, MemoryTypeBits: 0b001}, vam.TilingLinear, vam.MemoryUnmapped)
	require.NoError(t, err)
	require.NotSame(t, large.Chunk(), notFitting.Chunk())
	require.Equal(t, testChunkSize, notFitting.Chunk().Size())
	require.Equal(t, 2, dev.AllocateCalls())

	large.Free()
	small.Free()
	notFitting.Free()
	require.NoError(t, heap.Destroy())
}

func TestDeviceHeapSeparatesTilings(t *testing.T) {
	dev, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	image := dev.NewImage(1000, 256, 0b001)
	imageAlloc, err := heap.AllocImageMemory(image, vam.MemoryUnmapped)
	require.NoError(t, err)
	require.Equal(t, vam.TilingNonlinear, imageAlloc.Chunk().Tiling())

	boundMemory, boundOffset := image.BoundMemory()
	require.NotNil(t, boundMemory)
	require.Equal(t, imageAlloc.Offset(), boundOffset)

	buffer, _, err := dev.CreateBuffer(core1_0.BufferCreateInfo{Size: 512, Usage: core1_0.BufferUsageVertexBuffer})
	require.NoError(t, err)
	bufferAlloc, err := heap.AllocBufferMemory(buffer, vam.MemoryUnmapped)
	require.NoError(t, err)
	require.Equal(t, vam.TilingLinear, bufferAlloc.Chunk().Tiling())
	require.NotSame(t, imageAlloc.Chunk(), bufferAlloc.Chunk())
	require.Equal(t, 2, dev.AllocateCalls())

	linearPool, err := heap.Pool(0, vam.TilingLinear)
	require.NoError(t, err)
	require.Equal(t, "0|TilingLinear", linearPool.Name())
	require.Same(t, linearPool, bufferAlloc.Pool())

	heaps := heap.Heaps()
	require.Equal(t, vam.HeapInfo{Reserved: 2 * testChunkSize, Used: 1512}, heaps[0])

	imageAlloc.Free()
	bufferAlloc.Free()
	buffer.Destroy()
	require.NoError(t, heap.Destroy())
}

func TestDeviceHeapFreesAllocationWhenBindFails(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	buffer := mocks.NewMockBuffer(ctrl)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           256,
		Alignment:      16,
		MemoryTypeBits: 0b111,
	})
	buffer.EXPECT().BindBufferMemory(gomock.Any(), 0).Return(core1_0.VKErrorUnknown, core1_0.VKErrorUnknown.ToError())

	alloc, err := heap.AllocBufferMemory(buffer, vam.MemoryMapped)
	require.Error(t, err)
	require.Nil(t, alloc)

	pool, err := heap.Pool(1, vam.TilingLinear)
	require.NoError(t, err)
	require.Equal(t, 0, pool.Used())
	require.Equal(t, 1, pool.ChunkCount())
	require.NoError(t, heap.Validate())

	require.NoError(t, heap.Destroy())
}

func TestMemoryPoolInvalidOwner(t *testing.T) {
	_, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	mappedPool, err := heap.Pool(1, vam.TilingLinear)
	require.NoError(t, err)
	unmappedPool, err := heap.Pool(0, vam.TilingLinear)
	require.NoError(t, err)

	alloc, err := mappedPool.Alloc(100, 1)
	require.NoError(t, err)
	other, err := unmappedPool.Alloc(100, 1)
	require.NoError(t, err)

	recovered := capturePanic(func() {
		unmappedPool.Free(alloc)
	})
	require.NotNil(t, recovered)
	recoveredErr, ok := recovered.(error)
	require.True(t, ok)
	require.True(t, errors.Is(recoveredErr, vam.ErrInvalidOwner))

	require.True(t, alloc.IsLive())
	require.Equal(t, 100, unmappedPool.Used())
	require.Equal(t, 100, mappedPool.Used())

	alloc.Free()
	other.Free()
	require.Equal(t, 0, mappedPool.Used())
	require.NoError(t, heap.Destroy())
}

func TestDeviceHeapReportsLeaks(t *testing.T) {
	dev, heap, logs := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())

	leaked, err := heap.Alloc(&core1_0.MemoryRequirements{Size: 64, Alignment: 1, MemoryTypeBits: 0b111}, vam.TilingLinear, vam.MemoryMapped)
	require.NoError(t, err)
	released, err := heap.Alloc(&core1_0.MemoryRequirements{Size: 64, Alignment: 1, MemoryTypeBits: 0b111}, vam.TilingLinear, vam.MemoryUnmapped)
	require.NoError(t, err)
	released.Free()

	err = heap.Destroy()
	require.True(t, errors.Is(err, vam.ErrResourceLeak))
	require.Contains(t, logs.String(), "[UNRELEASED MEMORY]")
	require.Equal(t, 1, dev.LiveMemoryCount())

	require.NotPanics(t, leaked.Free)
	require.False(t, leaked.IsLive())

	_, err = heap.Alloc(&core1_0.MemoryRequirements{Size: 64, Alignment: 1, MemoryTypeBits: 0b111}, vam.TilingLinear, vam.MemoryMapped)
	require.True(t, errors.Is(err, vam.ErrDestroyed))
}

func TestDeviceHeapRejectsInvalidRequests(t *testing.T) {
	dev, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), testOptions())
	defer func() {
		require.NoError(t, heap.Destroy())
	}()

	_, err := heap.Alloc(&core1_0.MemoryRequirements{Size: 0, Alignment: 1, MemoryTypeBits: 0b111}, vam.TilingLinear, vam.MemoryMapped)
	require.True(t, errors.Is(err, vam.ErrInvalidSize))

	_, err = heap.Alloc(&core1_0.MemoryRequirements{Size: 64, Alignment: 48, MemoryTypeBits: 0b111}, vam.TilingLinear, vam.MemoryMapped)
	require.Error(t, err)

	require.Equal(t, 0, dev.AllocateCalls())
}

func TestDeviceHeapOutOfDeviceMemory(t *testing.T) {
	options := testOptions()
	options.HeapSizeLimits = []int{testChunkSize, 0}
	_, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), options)

	requirements := &core1_0.MemoryRequirements{Size: testChunkSize, Alignment: 1, MemoryTypeBits: 0b001}
	full, err := heap.Alloc(requirements, vam.TilingLinear, vam.MemoryUnmapped)
	require.NoError(t, err)

	_, err = heap.Alloc(&core1_0.MemoryRequirements{Size: 1, Alignment: 1, MemoryTypeBits: 0b001}, vam.TilingLinear, vam.MemoryUnmapped)
	require.True(t, errors.Is(err, vam.ErrOutOfDeviceMemory))

	full.Free()
	require.NoError(t, heap.Destroy())
}

func TestDeviceHeapMemoryCallbacks(t *testing.T) {
	var allocated, freed int
	options := testOptions()
	options.MemoryCallbackOptions = &vam.MemoryCallbackOptions{
		Allocate: func(heap *vam.DeviceHeap, memoryType int, memory device.Memory, size int, userData interface{}) {
			require.Equal(t, "user", userData)
			require.Equal(t, testChunkSize, size)
			allocated++
		},
		Free: func(heap *vam.DeviceHeap, memoryType int, memory device.Memory, size int, userData interface{}) {
			freed++
		},
		UserData: "user",
	}

	_, heap, _ := newDeviceHeap(t, hostmem.DiscreteOptions(), options)

	alloc, err := heap.Alloc(&core1_0.MemoryRequirements{Size: 64, Alignment: 1, MemoryTypeBits: 0b111}, vam.TilingLinear, vam.MemoryMapped)
	require.NoError(t, err)
	require.Equal(t, 1, allocated)
	require.Equal(t, 0, freed)

	alloc.Free()
	require.Equal(t, 0, freed)

	require.NoError(t, heap.Destroy())
	require.Equal(t, 1, freed)
}
