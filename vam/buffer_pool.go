package vam

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/memutils"
	"github.com/vkngwrapper/suballoc/memutils/metadata"
	"github.com/vkngwrapper/suballoc/vam/internal/utils"
	"golang.org/x/exp/slog"
)

// BufferPool owns the backing buffers of one (binding, lifetime, mapping) class. Each backing buffer is
// a chunk: it is created with the binding's usage flags, bound to memory obtained from a DeviceHeap, and
// carved up by a FreeListAllocator for static pools or a LinearAllocator for frame pools.
type BufferPool struct {
	logger     *slog.Logger
	deviceHeap *DeviceHeap

	binding   Binding
	lifetime  Lifetime
	mapping   MemoryMapping
	usage     core1_0.BufferUsageFlags
	alignment uint
	maxRange  int
	chunkSize int

	mutex      utils.OptionalMutex
	allocator  metadata.Allocator
	chunks     []*Chunk
	generation uint64
	destroyed  bool

	// Serial of the handle that currently owns each live block
	live   *swiss.Map[metadata.Block, uint64]
	serial uint64
}

func newBufferPool(
	logger *slog.Logger,
	deviceHeap *DeviceHeap,
	binding Binding,
	lifetime Lifetime,
	mapping MemoryMapping,
	chunkSize int,
	useMutex bool,
) *BufferPool {
	strategy := metadata.StrategyFreeList
	if lifetime == LifetimeFrame {
		strategy = metadata.StrategyLinear
	}

	limits := deviceHeap.Limits()
	alignment := binding.Alignment(limits)
	memutils.DebugCheckPow2(alignment, "binding alignment")

	return &BufferPool{
		logger:     logger,
		deviceHeap: deviceHeap,
		binding:    binding,
		lifetime:   lifetime,
		mapping:    mapping,
		usage:      binding.Usage(),
		alignment:  alignment,
		maxRange:   binding.MaxRange(limits),
		chunkSize:  chunkSize,
		mutex:      utils.OptionalMutex{UseMutex: useMutex},
		allocator:  metadata.New(strategy),
		live:       swiss.NewMap[metadata.Block, uint64](16),
	}
}

// Name identifies the pool in logs and statistics
func (p *BufferPool) Name() string {
	return fmt.Sprintf("%s|%s|%s", p.binding, p.lifetime, p.mapping)
}

func (p *BufferPool) Binding() Binding {
	return p.binding
}

func (p *BufferPool) Lifetime() Lifetime {
	return p.lifetime
}

// Mapping returns whether this pool's backing buffers are host mapped. On unified memory systems
// this is MemoryMapped even for pools that serve MemoryUnmapped requests.
func (p *BufferPool) Mapping() MemoryMapping {
	return p.mapping
}

// Alignment returns the offset alignment of every range handed out by this pool
func (p *BufferPool) Alignment() uint {
	return p.alignment
}

// Alloc carves size bytes out of the pool's backing buffers, creating a new backing buffer if none
// has room. Requests larger than the binding's device-advertised maximum range fail with
// ErrResourceLimitExceeded before any device call is made.
func (p *BufferPool) Alloc(size int) (*BufferAlloc, error) {
	p.logger.Debug("BufferPool::Alloc")

	return p.allocAligned(size, p.alignment)
}

// allocAligned is Alloc with an offset alignment that may exceed the binding's, for typed allocations
// whose element type needs it
func (p *BufferPool) allocAligned(size int, alignment uint) (*BufferAlloc, error) {
	if alignment < p.alignment {
		alignment = p.alignment
	}

	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes from pool %s", size, p.Name())
	}

	if p.maxRange > 0 && size > p.maxRange {
		return nil, errors.Wrapf(ErrResourceLimitExceeded, "requested %d bytes from pool %s, but the device maximum range is %d", size, p.Name(), p.maxRange)
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
	p.serial++
	p.live.Put(block, p.serial)
	fillAllocation(chunk, block.Start, size, AllocatedPattern)

	return &BufferAlloc{
		pool:       p,
		chunk:      chunk,
		block:      block,
		generation: p.generation,
		serial:     p.serial,
	}, nil
}

func (p *BufferPool) addChunk(minSize int) error {
	size, ok := memutils.RoundUpMultiple(minSize, p.chunkSize)
	if !ok {
		return errors.Wrapf(ErrResourceLimitExceeded, "a backing buffer for %d bytes in pool %s would not fit in an int", minSize, p.Name())
	}

	buffer, res, err := p.deviceHeap.Device().CreateBuffer(core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       p.usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return outOfDeviceMemory(err, "failed to create a %d byte buffer for pool %s (%v)", size, p.Name(), res)
	}

	backing, err := p.deviceHeap.AllocBufferMemory(buffer, p.mapping)
	if err != nil {
		buffer.Destroy()
		return err
	}

	chunk := &Chunk{
		index:     len(p.chunks),
		size:      size,
		typeIndex: backing.Chunk().TypeIndex(),
		tiling:    TilingLinear,
		memory:    backing.Memory(),
		buffer:    buffer,
		backing:   backing,
	}
	chunk.name = fmt.Sprintf("%s[%d]", p.Name(), chunk.index)

	if p.mapping == MemoryMapped {
		data, err := backing.Mapped()
		if err != nil {
			backing.Free()
			buffer.Destroy()
			return errors.Wrapf(err, "failed to map chunk %s", chunk.name)
		}

		if len(data) < size {
			backing.Free()
			buffer.Destroy()
			return errors.Newf("chunk %s was bound to %d bytes of memory, but %d were required", chunk.name, len(data), size)
		}
		chunk.data = data[:size:size]
	}

	allocatorIndex := p.allocator.AddChunk(size)
	if allocatorIndex != chunk.index {
		panic(fmt.Sprintf("chunk %s was registered at allocator index %d", chunk.name, allocatorIndex))
	}
	p.chunks = append(p.chunks, chunk)

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "BufferPool::addChunk",
		slog.String("pool", p.Name()),
		slog.Int("chunk", chunk.index),
		slog.Int("size", size),
		slog.Int("memoryType", chunk.typeIndex),
	)
	return nil
}

// probe ensures the pool has at least one chunk and reports whether the first chunk's memory is device local
func (p *BufferPool) probe() (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.chunks) == 0 {
		err := p.addChunk(1)
		if err != nil {
			return false, err
		}
	}

	return p.deviceHeap.deviceMemory.IsMemoryTypeDeviceLocal(p.chunks[0].typeIndex), nil
}

// Free returns an allocation to this pool. Static allocations release their range immediately. Frame
// allocations only drop their chunk reference: their range is reclaimed when the frame is cleared.
//
// It panics with an error marked ErrInvalidOwner if the allocation was not made from this pool, or if it
// is a copy of a handle whose range was already released. Frees after the pool was destroyed do nothing.
func (p *BufferPool) Free(alloc *BufferAlloc) {
	p.logger.Debug("BufferPool::Free")

	if alloc.pool == nil {
		panic("attempted to free a buffer allocation that was already freed")
	}

	if alloc.pool != p {
		panic(invalidOwner("allocation from pool %s was freed into pool %s", alloc.pool.Name(), p.Name()))
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		*alloc = BufferAlloc{}
		return
	}

	chunk := alloc.chunk
	if chunk == nil || chunk.index >= len(p.chunks) || p.chunks[chunk.index] != chunk {
		panic(invalidOwner("allocation at offset %d does not reference a chunk of pool %s", alloc.block.Start, p.Name()))
	}

	if p.lifetime == LifetimeFrame && alloc.generation != p.generation {
		*alloc = BufferAlloc{}
		return
	}

	if !p.owns(alloc) {
		panic(invalidOwner("allocation at offset %d of chunk %s was already released from pool %s", alloc.block.Start, chunk.name, p.Name()))
	}
	p.live.Delete(alloc.block)
	chunk.refs--

	if p.lifetime == LifetimeStatic {
		fillAllocation(chunk, alloc.block.Start, alloc.block.Size(), FreedPattern)
		p.allocator.Free(alloc.block)
	}

	*alloc = BufferAlloc{}
}

// owns reports whether alloc is the handle that currently holds its block
func (p *BufferPool) owns(alloc *BufferAlloc) bool {
	serial, ok := p.live.Get(alloc.block)
	return ok && serial == alloc.serial
}

// view returns the mapped bytes of a live allocation
func (p *BufferPool) view(alloc *BufferAlloc) ([]byte, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil, errors.Wrapf(ErrDestroyed, "pool %s", p.Name())
	}

	if p.lifetime == LifetimeFrame && alloc.generation != p.generation {
		return nil, errors.Wrapf(ErrStaleAllocation, "pool %s is on frame %d, allocation is from frame %d", p.Name(), p.generation, alloc.generation)
	}

	if !p.owns(alloc) {
		return nil, errors.Wrapf(ErrStaleAllocation, "allocation at offset %d was already released from pool %s", alloc.block.Start, p.Name())
	}

	return alloc.chunk.view(alloc.block.Start, alloc.block.Size())
}

// clear reclaims every range of a frame pool. Allocations that are still referenced are reported, or
// cause a panic in builds with the debug_suballoc tag.
func (p *BufferPool) clear() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return
	}

	for _, chunk := range p.chunks {
		if chunk.refs > 0 {
			if memutils.DebugEnabled {
				panic(fmt.Sprintf("chunk %s still has %d live frame allocations when its frame was cleared", chunk.name, chunk.refs))
			}

			p.logger.LogAttrs(context.Background(), slog.LevelWarn, "frame allocation held across frame boundary",
				slog.String("pool", p.Name()),
				slog.Int("chunk", chunk.index),
				slog.Int("refs", chunk.refs),
			)
		}
		chunk.refs = 0
	}

	p.live.Clear()
	p.allocator.Clear()
	p.generation++
}

// Generation returns the number of times a frame pool has been cleared
func (p *BufferPool) Generation() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.generation
}

// Used returns the number of bytes in this pool's chunks that are unavailable for allocation
func (p *BufferPool) Used() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocator.Used()
}

// Capacity returns the total size of every backing buffer in this pool
func (p *BufferPool) Capacity() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocator.Capacity()
}

func (p *BufferPool) ChunkCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.chunks)
}

// Chunk returns the chunk at the provided index
func (p *BufferPool) Chunk(index int) *Chunk {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.chunks[index]
}

func (p *BufferPool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var refs int
	for _, chunk := range p.chunks {
		refs += chunk.refs
	}
	if refs != p.live.Count() {
		return errors.Wrapf(memutils.ErrBookkeeping, "pool %s has %d chunk references but %d live allocations", p.Name(), refs, p.live.Count())
	}

	if p.lifetime == LifetimeStatic {
		for _, chunk := range p.chunks {
			allocs := p.allocator.ChunkAllocationCount(chunk.index)
			if chunk.refs != allocs {
				return errors.Wrapf(memutils.ErrBookkeeping, "chunk %s has %d references but %d allocations", chunk.name, chunk.refs, allocs)
			}
		}
	}

	return p.allocator.Validate()
}

func (p *BufferPool) AddStatistics(stats *memutils.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.allocator.AddStatistics(stats)
}

func (p *BufferPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.allocator.AddDetailedStatistics(stats)
}

func (p *BufferPool) PrintDetailedMap(json *jwriter.ObjectState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	json.Name("Binding").String(p.binding.String())
	json.Name("Lifetime").String(p.lifetime.String())
	json.Name("Mapping").String(p.mapping.String())
	json.Name("Alignment").Int(int(p.alignment))
	p.allocator.PrintDetailedMap(json)
}

// Destroy destroys every backing buffer and returns its memory to the DeviceHeap. Static chunks that
// still have live allocations are logged and left alive, and an error wrapping ErrResourceLeak is returned.
// Frame chunks are always released.
func (p *BufferPool) Destroy() error {
	p.logger.Debug("BufferPool::Destroy")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil
	}
	p.destroyed = true

	var leaked int
	for _, chunk := range p.chunks {
		if chunk.refs > 0 && p.lifetime == LifetimeStatic {
			leaked++
			p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] chunk still referenced",
				slog.String("pool", p.Name()),
				slog.Int("chunk", chunk.index),
				slog.Int("refs", chunk.refs),
			)
			continue
		}

		chunk.data = nil
		chunk.buffer.Destroy()
		chunk.backing.Free()
		chunk.buffer = nil
		chunk.memory = nil
		chunk.backing = nil
	}

	if leaked > 0 {
		return errors.Wrapf(ErrResourceLeak, "%d chunks in pool %s still have live allocations", leaked, p.Name())
	}

	return nil
}
