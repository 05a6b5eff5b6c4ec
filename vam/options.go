package vam

import (
	"io"

	"github.com/vkngwrapper/suballoc/memutils"
	"golang.org/x/exp/slog"
)

const (
	// DefaultChunkSize is the size used for device memory chunks and buffer chunks when none is
	// provided via CreateOptions. It is equal to 16Mb.
	DefaultChunkSize int = 0x100_0000
	// DefaultMinAlignment is the smallest alignment memory pools hand out when none is provided via CreateOptions
	DefaultMinAlignment uint = 32
)

const (
	// AllocatedPattern is written over new allocations when InitializeAllocs is set
	AllocatedPattern uint8 = 0xDC
	// FreedPattern is written over freed static allocations when InitializeAllocs is set
	FreedPattern uint8 = 0xEF
)

// CreateOptions contains optional settings when creating a DeviceHeap or BufferHeap. The zero value is valid.
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags

	// ChunkSize is the base size of each raw device memory chunk. Larger requests allocate a chunk
	// rounded up to a whole multiple of this size.
	ChunkSize int
	// MinAlignment is the smallest offset alignment memory pools will hand out. It must be a power of two.
	MinAlignment uint
	// BufferChunkSize is the base size of each backing buffer created by buffer pools. It defaults to ChunkSize.
	BufferChunkSize int

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps in the device. Each entry
	// must be either the maximum number of bytes that should be allocated from the corresponding
	// device memory heap, or 0 indicating no limit beyond the heap's size.
	//
	// Heap memory limits will be enforced at runtime (the heap will go so far as to
	// return an out of memory error when attempting to allocate beyond the limit).
	HeapSizeLimits []int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when a chunk of device
	// memory is allocated or freed
	MemoryCallbackOptions *MemoryCallbackOptions
}

func (o CreateOptions) useMutex() bool {
	return o.Flags&HeapCreateExternallySynchronized == 0
}

func (o CreateOptions) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o CreateOptions) bufferChunkSize() int {
	if o.BufferChunkSize <= 0 {
		return o.chunkSize()
	}
	return o.BufferChunkSize
}

func (o CreateOptions) minAlignment() (uint, error) {
	if o.MinAlignment == 0 {
		return DefaultMinAlignment, nil
	}

	err := memutils.CheckPow2(o.MinAlignment, "vam.CreateOptions.MinAlignment")
	if err != nil {
		return 0, err
	}
	return o.MinAlignment, nil
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return slog.New(slog.NewJSONHandler(io.Discard))
}
