package vam

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/memutils/metadata"
	"github.com/vkngwrapper/suballoc/vam/internal/utils"
)

// StagingBuffer is a single mapped transfer source buffer of fixed capacity. Uploads bump through it
// and the whole buffer is reclaimed at once with Clear, typically after the copies reading from it
// have completed on the GPU.
type StagingBuffer struct {
	buffer  device.Buffer
	backing *DeviceAlloc
	data    []byte

	mutex     utils.OptionalMutex
	allocator *metadata.LinearAllocator
}

// NewStagingBuffer creates a staging buffer of capacity bytes in host-visible memory from heap
func NewStagingBuffer(heap *DeviceHeap, capacity int, options CreateOptions) (*StagingBuffer, error) {
	if capacity <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "staging buffer capacity %d", capacity)
	}

	buffer, res, err := heap.Device().CreateBuffer(core1_0.BufferCreateInfo{
		Size:        capacity,
		Usage:       core1_0.BufferUsageTransferSrc,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, outOfDeviceMemory(err, "failed to create a %d byte staging buffer (%v)", capacity, res)
	}

	backing, err := heap.AllocBufferMemory(buffer, MemoryMapped)
	if err != nil {
		buffer.Destroy()
		return nil, err
	}

	data, err := backing.Mapped()
	if err == nil && len(data) < capacity {
		err = errors.Newf("staging buffer was bound to %d bytes of memory, but %d were required", len(data), capacity)
	}
	if err != nil {
		backing.Free()
		buffer.Destroy()
		return nil, err
	}

	staging := &StagingBuffer{
		buffer:    buffer,
		backing:   backing,
		data:      data[:capacity:capacity],
		mutex:     utils.OptionalMutex{UseMutex: options.useMutex()},
		allocator: metadata.NewLinearAllocator(),
	}
	staging.allocator.AddChunk(capacity)

	return staging, nil
}

// Alloc reserves size bytes and returns their offset within Buffer along with a view to write into.
// It returns false if the buffer does not have enough room left.
func (s *StagingBuffer) Alloc(size int) (offset int, data []byte, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.allocator == nil || size <= 0 {
		return 0, nil, false
	}

	block, ok, err := s.allocator.Alloc(size, 1)
	if err != nil || !ok {
		return 0, nil, false
	}

	return block.Start, s.data[block.Start:block.End:block.End], true
}

// Used returns the number of bytes handed out since the last Clear
func (s *StagingBuffer) Used() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.allocator == nil {
		return 0
	}
	return s.allocator.Used()
}

func (s *StagingBuffer) Capacity() int {
	return len(s.data)
}

// Clear makes the whole buffer available again
func (s *StagingBuffer) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.allocator != nil {
		s.allocator.Clear()
	}
}

// Buffer returns the buffer that copies should read from
func (s *StagingBuffer) Buffer() device.Buffer {
	return s.buffer
}

// Destroy destroys the buffer and returns its memory to the heap it was allocated from
func (s *StagingBuffer) Destroy() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.allocator == nil {
		return
	}

	s.buffer.Destroy()
	s.backing.Free()
	s.allocator = nil
	s.data = nil
}
