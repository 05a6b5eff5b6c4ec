package vam

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/memutils/metadata"
)

// BufferAlloc is a range of a backing buffer handed out by a BufferPool. Static allocations are live
// until Free is called. Frame allocations are live until the frame is cleared, and calling Free on them
// only releases the reference that ClearFrame checks for. Free consumes the handle: afterward every
// accessor reports a zero value. Copies of a handle share its ownership, so once any copy has been freed
// the others report ErrStaleAllocation from Bytes and panic with ErrInvalidOwner from Free.
type BufferAlloc struct {
	pool       *BufferPool
	chunk      *Chunk
	block      metadata.Block
	generation uint64
	serial     uint64
}

// Buffer returns the backing buffer containing this allocation
func (a *BufferAlloc) Buffer() device.Buffer {
	if a.chunk == nil {
		return nil
	}
	return a.chunk.buffer
}

// Offset returns the offset of this allocation within Buffer. It is a multiple of the binding's
// required offset alignment.
func (a *BufferAlloc) Offset() int {
	return a.block.Start
}

// Size returns the size that was requested for this allocation
func (a *BufferAlloc) Size() int {
	return a.block.Size()
}

func (a *BufferAlloc) Chunk() *Chunk {
	return a.chunk
}

// Pool returns the pool this allocation belongs to, or nil if the allocation has been freed
func (a *BufferAlloc) Pool() *BufferPool {
	return a.pool
}

func (a *BufferAlloc) Binding() Binding {
	if a.pool == nil {
		return 0
	}
	return a.pool.binding
}

func (a *BufferAlloc) Lifetime() Lifetime {
	if a.pool == nil {
		return 0
	}
	return a.pool.lifetime
}

func (a *BufferAlloc) Mapping() MemoryMapping {
	if a.pool == nil {
		return 0
	}
	return a.pool.mapping
}

// IsLive returns false once the allocation has been freed
func (a *BufferAlloc) IsLive() bool {
	return a.pool != nil
}

// Bytes returns a host view of exactly Size bytes of this allocation. It returns an error wrapping
// ErrNotMapped for device-local allocations and ErrStaleAllocation for frame allocations whose frame
// has been cleared or for copies of a handle that was freed.
func (a *BufferAlloc) Bytes() ([]byte, error) {
	if a.pool == nil {
		return nil, errors.New("buffer allocation has been freed")
	}

	return a.pool.view(a)
}

// Free returns this allocation to its pool. Calling Free on an allocation that was already freed,
// or whose heap has been destroyed, does nothing.
func (a *BufferAlloc) Free() {
	if a.pool == nil {
		return
	}

	a.pool.Free(a)
}
