package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/suballoc/memutils"
)

// InvalidSizeError is returned from Alloc when the requested size is not positive
var InvalidSizeError error = errors.New("allocation size must be greater than zero")

// Allocator carves byte ranges out of a growable list of chunks. It never allocates chunks itself:
// the owning pool calls AddChunk when Alloc reports that no existing space fits the request.
// Implementations are not safe for concurrent use; the owning pool is expected to hold a lock.
type Allocator interface {
	memutils.Validatable

	// Strategy returns the allocation strategy implemented by this Allocator
	Strategy() Strategy

	// AddChunk registers a new chunk of the provided size and returns its index. The entire
	// chunk becomes available for allocation.
	AddChunk(size int) int
	// ChunkCount returns the number of chunks that have been registered with AddChunk
	ChunkCount() int
	// ChunkSize returns the size in bytes of the chunk at the provided index
	ChunkSize(chunk int) int

	// Alloc attempts to carve size bytes, starting at an offset that is a multiple of alignment,
	// out of a single chunk. The returned bool is false if no registered chunk has room for the request,
	// in which case the caller may AddChunk and retry. An error is returned for invalid requests.
	Alloc(size int, alignment uint) (Block, bool, error)
	// Free returns a block previously produced by Alloc. Implementations that only reclaim memory in bulk
	// ignore it.
	Free(block Block)
	// Clear returns every chunk to its fully-free state. The caller must guarantee that no block
	// produced by Alloc is still in use.
	Clear()

	// Used returns the number of bytes that are currently unavailable for allocation
	Used() int
	// Capacity returns the total size in bytes of every registered chunk
	Capacity() int
	// AllocationCount returns the number of blocks handed out by Alloc that have not been reclaimed
	AllocationCount() int
	// ChunkAllocationCount returns the number of live blocks within the chunk at the provided index
	ChunkAllocationCount(chunk int) int

	AddStatistics(stats *memutils.Statistics)
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// PrintDetailedMap writes a json description of every chunk and its free ranges
	PrintDetailedMap(json *jwriter.ObjectState)
}

// allocatorBase holds the chunk bookkeeping shared by both allocator strategies
type allocatorBase struct {
	chunks      []int
	chunkAllocs []int
	capacity    int
	used        int
}

func (a *allocatorBase) ChunkCount() int {
	return len(a.chunks)
}

func (a *allocatorBase) ChunkSize(chunk int) int {
	return a.chunks[chunk]
}

func (a *allocatorBase) Used() int { return a.used }

func (a *allocatorBase) Capacity() int { return a.capacity }

func (a *allocatorBase) ChunkAllocationCount(chunk int) int {
	return a.chunkAllocs[chunk]
}

func (a *allocatorBase) AllocationCount() int {
	var count int
	for _, allocs := range a.chunkAllocs {
		count += allocs
	}
	return count
}

func (a *allocatorBase) addChunk(size int) int {
	if size <= 0 {
		panic("attempted to add a chunk with a non-positive size")
	}

	a.chunks = append(a.chunks, size)
	a.chunkAllocs = append(a.chunkAllocs, 0)
	a.capacity += size

	return len(a.chunks) - 1
}

func (a *allocatorBase) validateRequest(size int, alignment uint) (uint, error) {
	if size <= 0 {
		return 0, errors.Wrapf(InvalidSizeError, "requested %d bytes", size)
	}

	if alignment == 0 {
		alignment = 1
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return 0, err
	}

	return alignment, nil
}

func (a *allocatorBase) validateChunks() error {
	var capacity int
	for chunkIndex, size := range a.chunks {
		if size <= 0 {
			return errors.Wrapf(memutils.ErrBookkeeping, "chunk %d has size %d", chunkIndex, size)
		}
		if a.chunkAllocs[chunkIndex] < 0 {
			return errors.Wrapf(memutils.ErrBookkeeping, "chunk %d has %d allocations", chunkIndex, a.chunkAllocs[chunkIndex])
		}
		capacity += size
	}

	if capacity != a.capacity {
		return errors.Wrapf(memutils.ErrBookkeeping, "capacity is %d but chunks sum to %d", a.capacity, capacity)
	}

	if a.used < 0 || a.used > a.capacity {
		return errors.Wrapf(memutils.ErrBookkeeping, "used bytes %d outside of capacity %d", a.used, a.capacity)
	}

	return nil
}

func (a *allocatorBase) chunkJsonData(json *jwriter.ObjectState, chunk int) {
	json.Name("Index").Int(chunk)
	json.Name("Size").Int(a.chunks[chunk])
	json.Name("Allocations").Int(a.chunkAllocs[chunk])
}
