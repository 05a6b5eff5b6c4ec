package vam_test

import (
	"math"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/suballoc/device/hostmem"
	"github.com/vkngwrapper/suballoc/vam"
)

type vertex struct {
	Position [3]float32
	Color    uint32
}

func TestBox(t *testing.T) {
	dev, deviceHeap, bufferHeap, _ := newBufferHeap(t, hostmem.DiscreteOptions())

	boxed, err := vam.Box(bufferHeap, vam.BindingUniform, vam.LifetimeStatic, vertex{
		Position: [3]float32{1, 2, 3},
		Color:    0xff00ff00,
	})
	require.NoError(t, err)
	require.Equal(t, 1, boxed.Len())
	require.Equal(t, int(unsafe.Sizeof(vertex{})), boxed.Size())
	require.Equal(t, vam.MemoryMapped, boxed.Mapping())

	value, err := boxed.Value()
	require.NoError(t, err)
	require.Equal(t, [3]float32{1, 2, 3}, value.Position)
	require.Equal(t, uint32(0xff00ff00), value.Color)

	value.Color = 7
	again, err := boxed.Value()
	require.NoError(t, err)
	require.Equal(t, uint32(7), again.Color)

	boxed.Free()
	destroyHeaps(t, dev, deviceHeap, bufferHeap)
}

func TestBoxSlice(t *testing.T) {
	dev, deviceHeap, bufferHeap, _ := newBufferHeap(t, hostmem.DiscreteOptions())

	indices := []uint16{0, 1, 2, 2, 3, 0}
	boxed, err := vam.BoxSlice(bufferHeap, vam.BindingIndex, vam.LifetimeFrame, indices)
	require.NoError(t, err)
	require.Equal(t, len(indices), boxed.Len())
	require.Equal(t, 12, boxed.Size())

	values, err := boxed.Slice()
	require.NoError(t, err)
	require.Equal(t, indices, values)

	// The alignment of the element type is honored even when the binding needs none
	other, err := vam.BoxSlice(bufferHeap, vam.BindingIndex, vam.LifetimeFrame, []uint64{9})
	require.NoError(t, err)
	require.Equal(t, 16, other.Offset())

	boxed.Free()
	other.Free()
	bufferHeap.ClearFrame()
	destroyHeaps(t, dev, deviceHeap, bufferHeap)
}

func TestBoxIter(t *testing.T) {
	dev, deviceHeap, bufferHeap, _ := newBufferHeap(t, hostmem.DiscreteOptions())

	boxed, err := vam.BoxIter(bufferHeap, vam.BindingStorage, vam.LifetimeStatic, 100, func(index int) float32 {
		return float32(index) * 0.5
	})
	require.NoError(t, err)

	values, err := boxed.Slice()
	require.NoError(t, err)
	require.Len(t, values, 100)
	require.Equal(t, float32(49.5), values[99])

	boxed.Free()
	destroyHeaps(t, dev, deviceHeap, bufferHeap)
}

func TestBoxUninitRejectsInvalidTypes(t *testing.T) {
	dev, deviceHeap, bufferHeap, _ := newBufferHeap(t, hostmem.DiscreteOptions())

	_, err := vam.BoxUninit[uint32](bufferHeap, vam.BindingStorage, vam.LifetimeStatic, 0)
	require.True(t, errors.Is(err, vam.ErrInvalidSize))

	_, err = vam.BoxUninit[*int](bufferHeap, vam.BindingStorage, vam.LifetimeStatic, 1)
	require.Error(t, err)

	_, err = vam.BoxUninit[struct{ Name string }](bufferHeap, vam.BindingStorage, vam.LifetimeStatic, 1)
	require.Error(t, err)

	_, err = vam.BoxUninit[struct{}](bufferHeap, vam.BindingStorage, vam.LifetimeStatic, 1)
	require.True(t, errors.Is(err, vam.ErrInvalidSize))

	_, err = vam.Box(bufferHeap, vam.BindingUniform, vam.LifetimeStatic, [20000]uint32{})
	require.True(t, errors.Is(err, vam.ErrResourceLimitExceeded))

	destroyHeaps(t, dev, deviceHeap, bufferHeap)
}

func TestBoxStaleFrameSlice(t *testing.T) {
	dev, deviceHeap, bufferHeap, _ := newBufferHeap(t, hostmem.DiscreteOptions())

	boxed, err := vam.Box(bufferHeap, vam.BindingVertex, vam.LifetimeFrame, uint32(5))
	require.NoError(t, err)
	boxed.Free()

	_, err = boxed.Slice()
	require.Error(t, err)

	bufferHeap.ClearFrame()
	destroyHeaps(t, dev, deviceHeap, bufferHeap)
}

func TestBoxUninitRejectsUnaddressableCounts(t *testing.T) {
	dev, deviceHeap, bufferHeap, _ := newBufferHeap(t, hostmem.DiscreteOptions())

	createCalls := dev.CreateBufferCalls()
	allocateCalls := dev.AllocateCalls()

	boxed, err := vam.BoxUninit[[16]byte](bufferHeap, vam.BindingVertex, vam.LifetimeStatic, 1<<60+1)
	require.True(t, errors.Is(err, vam.ErrResourceLimitExceeded))
	require.Nil(t, boxed)

	wide, err := vam.BoxUninit[uint64](bufferHeap, vam.BindingStorage, vam.LifetimeFrame, math.MaxInt/4)
	require.True(t, errors.Is(err, vam.ErrResourceLimitExceeded))
	require.Nil(t, wide)

	require.Equal(t, createCalls, dev.CreateBufferCalls())
	require.Equal(t, allocateCalls, dev.AllocateCalls())

	pool, err := bufferHeap.Pool(vam.BindingVertex, vam.LifetimeStatic, vam.MemoryMapped)
	require.NoError(t, err)
	require.Equal(t, 0, pool.Used())

	destroyHeaps(t, dev, deviceHeap, bufferHeap)
}
