package vam

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/memutils"
	"github.com/vkngwrapper/suballoc/memutils/metadata"
	"github.com/vkngwrapper/suballoc/vam/internal/utils"
	"github.com/vkngwrapper/suballoc/vam/internal/vulkan"
	"golang.org/x/exp/slog"
)

// MemoryPool owns every chunk of raw device memory of one (memory type, tiling) class and carves
// them up with a FreeListAllocator. Chunks are allocated lazily when a request does not fit in
// existing free space, and are mapped for their whole lifetime if the memory type is host visible.
type MemoryPool struct {
	logger       *slog.Logger
	deviceMemory *vulkan.DeviceMemoryProperties

	typeIndex    int
	heapIndex    int
	tiling       Tiling
	hostVisible  bool
	chunkSize    int
	minAlignment uint

	mutex     utils.OptionalMutex
	allocator *metadata.FreeListAllocator
	chunks    []*Chunk
	destroyed bool
}

func newMemoryPool(
	logger *slog.Logger,
	deviceMemory *vulkan.DeviceMemoryProperties,
	typeIndex int,
	tiling Tiling,
	chunkSize int,
	minAlignment uint,
	useMutex bool,
) *MemoryPool {
	return &MemoryPool{
		logger:       logger,
		deviceMemory: deviceMemory,
		typeIndex:    typeIndex,
		heapIndex:    deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex),
		tiling:       tiling,
		hostVisible:  deviceMemory.IsMemoryTypeHostVisible(typeIndex),
		chunkSize:    chunkSize,
		minAlignment: minAlignment,
		mutex:        utils.OptionalMutex{UseMutex: useMutex},
		allocator:    metadata.NewFreeListAllocator(),
	}
}

// Name identifies the pool in logs and statistics
func (p *MemoryPool) Name() string {
	return fmt.Sprintf("%d|%s", p.typeIndex, p.tiling)
}

// TypeIndex returns the memory type every chunk in this pool is allocated from
func (p *MemoryPool) TypeIndex() int {
	return p.typeIndex
}

func (p *MemoryPool) Tiling() Tiling {
	return p.tiling
}

// Alloc carves size bytes aligned to at least alignment out of the pool's chunks, allocating a new chunk
// if no existing chunk has room
func (p *MemoryPool) Alloc(size int, alignment uint) (*DeviceAlloc, error) {
	p.logger.Debug("MemoryPool::Alloc")

	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	if alignment < p.minAlignment {
		alignment = p.minAlignment
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return nil, err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil, errors.Wrapf(ErrDestroyed, "pool %s", p.Name())
	}

	block, ok, err := p.allocator.Alloc(size, alignment)
	if err != nil {
		return nil, err
	}

	if !ok {
		err = p.addChunk(size)
		if err != nil {
			return nil, err
		}

		block, ok, err = p.allocator.Alloc(size, alignment)
		if err != nil || !ok {
			panic(fmt.Sprintf("failed to allocate %d bytes from a fresh chunk in pool %s: %+v", size, p.Name(), err))
		}
	}

	chunk := p.chunks[block.Chunk]
	chunk.refs++
	p.deviceMemory.AddAllocation(p.heapIndex, size)
	fillAllocation(chunk, block.Start, size, AllocatedPattern)

	return &DeviceAlloc{
		pool:  p,
		chunk: chunk,
		block: block,
	}, nil
}

func (p *MemoryPool) addChunk(minSize int) error {
	size, ok := memutils.RoundUpMultiple(minSize, p.chunkSize)
	if !ok {
		return errors.Wrapf(ErrResourceLimitExceeded, "a chunk for %d bytes in pool %s would not fit in an int", minSize, p.Name())
	}

	memory, res, err := p.deviceMemory.AllocateDeviceMemory(p.typeIndex, size)
	if err != nil {
		return outOfDeviceMemory(err, "failed to allocate a %d byte chunk for pool %s (%v)", size, p.Name(), res)
	}

	chunk := &Chunk{
		index:     len(p.chunks),
		size:      size,
		typeIndex: p.typeIndex,
		tiling:    p.tiling,
		memory:    memory,
	}
	chunk.name = fmt.Sprintf("%s[%d]", p.Name(), chunk.index)

	if p.hostVisible {
		chunk.data, res, err = memory.Map()
		if err != nil {
			p.deviceMemory.FreeDeviceMemory(p.typeIndex, memory)
			return errors.Wrapf(err, "failed to map chunk %s (%v)", chunk.name, res)
		}
	}

	allocatorIndex := p.allocator.AddChunk(size)
	if allocatorIndex != chunk.index {
		panic(fmt.Sprintf("chunk %s was registered at allocator index %d", chunk.name, allocatorIndex))
	}
	p.chunks = append(p.chunks, chunk)

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "MemoryPool::addChunk",
		slog.String("pool", p.Name()),
		slog.Int("chunk", chunk.index),
		slog.Int("size", size),
		slog.Int("memoryType", p.typeIndex),
	)
	return nil
}

// Free returns an allocation to this pool. It panics with an error marked ErrInvalidOwner if the
// allocation was not made from this pool. Frees after the pool was destroyed do nothing.
func (p *MemoryPool) Free(alloc *DeviceAlloc) {
	p.logger.Debug("MemoryPool::Free")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if alloc.pool == nil {
		panic("attempted to free a memory allocation that was already freed")
	}

	if alloc.pool != p {
		panic(invalidOwner("allocation from pool %s was freed into pool %s", alloc.pool.Name(), p.Name()))
	}

	if p.destroyed {
		*alloc = DeviceAlloc{}
		return
	}

	chunk := alloc.chunk
	if chunk == nil || chunk.index >= len(p.chunks) || p.chunks[chunk.index] != chunk {
		panic(invalidOwner("allocation at offset %d does not reference a chunk of pool %s", alloc.block.Start, p.Name()))
	}

	size := alloc.block.Size()
	fillAllocation(chunk, alloc.block.Start, size, FreedPattern)
	p.allocator.Free(alloc.block)
	chunk.refs--
	p.deviceMemory.RemoveAllocation(p.heapIndex, size)

	*alloc = DeviceAlloc{}
}

// Used returns the number of bytes currently handed out by this pool
func (p *MemoryPool) Used() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocator.Used()
}

// Capacity returns the total size of every chunk in this pool
func (p *MemoryPool) Capacity() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocator.Capacity()
}

func (p *MemoryPool) ChunkCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.chunks)
}

func (p *MemoryPool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, chunk := range p.chunks {
		if chunk.refs != p.allocator.ChunkAllocationCount(chunk.index) {
			return errors.Wrapf(memutils.ErrBookkeeping, "chunk %s has %d references but %d allocations", chunk.name, chunk.refs, p.allocator.ChunkAllocationCount(chunk.index))
		}
	}

	return p.allocator.Validate()
}

func (p *MemoryPool) AddStatistics(stats *memutils.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.allocator.AddStatistics(stats)
}

func (p *MemoryPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.allocator.AddDetailedStatistics(stats)
}

func (p *MemoryPool) PrintDetailedMap(json *jwriter.ObjectState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	json.Name("MemoryType").Int(p.typeIndex)
	json.Name("Tiling").String(p.tiling.String())
	json.Name("HostVisible").Bool(p.hostVisible)
	p.allocator.PrintDetailedMap(json)
}

// Destroy frees every chunk in the pool. If any chunk still has live allocations, those chunks are logged
// and left allocated, and an error wrapping ErrResourceLeak is returned.
func (p *MemoryPool) Destroy() error {
	p.logger.Debug("MemoryPool::Destroy")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil
	}
	p.destroyed = true

	var leaked int
	for _, chunk := range p.chunks {
		if chunk.refs > 0 {
			leaked++
			p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] chunk still referenced",
				slog.String("pool", p.Name()),
				slog.Int("chunk", chunk.index),
				slog.Int("refs", chunk.refs),
			)
			continue
		}

		if chunk.data != nil {
			chunk.memory.Unmap()
			chunk.data = nil
		}
		p.deviceMemory.FreeDeviceMemory(p.typeIndex, chunk.memory)
		chunk.memory = nil
	}

	if leaked > 0 {
		return errors.Wrapf(ErrResourceLeak, "%d chunks in pool %s still have live allocations", leaked, p.Name())
	}

	return nil
}
