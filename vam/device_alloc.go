package vam

import (
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/memutils/metadata"
)

// DeviceAlloc is a range of raw device memory handed out by a MemoryPool. It is live from the
// MemoryPool.Alloc call that produced it until Free is called; Free consumes the handle.
type DeviceAlloc struct {
	pool  *MemoryPool
	chunk *Chunk
	block metadata.Block
}

// Memory returns the device memory containing this allocation
func (a *DeviceAlloc) Memory() device.Memory {
	if a.chunk == nil {
		return nil
	}
	return a.chunk.memory
}

// Offset returns the offset of this allocation within Memory
func (a *DeviceAlloc) Offset() int {
	return a.block.Start
}

// Size returns the size that was requested for this allocation
func (a *DeviceAlloc) Size() int {
	return a.block.Size()
}

func (a *DeviceAlloc) Chunk() *Chunk {
	return a.chunk
}

// Pool returns the pool this allocation belongs to, or nil if the allocation has been freed
func (a *DeviceAlloc) Pool() *MemoryPool {
	return a.pool
}

// IsLive returns false once the allocation has been freed
func (a *DeviceAlloc) IsLive() bool {
	return a.pool != nil
}

// Mapped returns a host view of this allocation. It returns an error wrapping ErrNotMapped if the memory
// type is not host visible.
func (a *DeviceAlloc) Mapped() ([]byte, error) {
	if a.chunk == nil {
		return nil, ErrNotMapped
	}
	return a.chunk.view(a.block.Start, a.block.Size())
}

// Free returns this allocation to its pool. Calling Free on an allocation that was already freed, or whose
// pool has been destroyed, does nothing.
func (a *DeviceAlloc) Free() {
	if a.pool == nil {
		return
	}

	a.pool.Free(a)
}
