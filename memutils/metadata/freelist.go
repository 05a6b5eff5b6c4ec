package metadata

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/suballoc/memutils"
)

const freeListDegree = 16

// FreeListAllocator is an Allocator that hands out ranges first-fit from a free list ordered by
// (chunk, start). Freed ranges are merged with their neighbors immediately, so the free list
// never contains two adjacent ranges from the same chunk.
//
// The free list and the set of live blocks always account for the whole capacity:
// Used() plus the size of every free range is equal to Capacity().
type FreeListAllocator struct {
	allocatorBase

	free *btree.BTreeG[Block]
	live *swiss.Map[Block, struct{}]
}

var _ Allocator = &FreeListAllocator{}

func NewFreeListAllocator() *FreeListAllocator {
	return &FreeListAllocator{
		free: btree.NewG[Block](freeListDegree, blockLess),
		live: swiss.NewMap[Block, struct{}](16),
	}
}

func (a *FreeListAllocator) Strategy() Strategy {
	return StrategyFreeList
}

func (a *FreeListAllocator) AddChunk(size int) int {
	chunk := a.addChunk(size)
	a.free.ReplaceOrInsert(Block{Chunk: chunk, Start: 0, End: size})

	return chunk
}

func (a *FreeListAllocator) Alloc(size int, alignment uint) (Block, bool, error) {
	alignment, err := a.validateRequest(size, alignment)
	if err != nil {
		return Block{}, false, err
	}

	var found bool
	var source, carved Block
	a.free.Ascend(func(candidate Block) bool {
		offset := memutils.AlignUp(candidate.Start, alignment)
		if offset > candidate.End || size > candidate.End-offset {
			return true
		}

		source = candidate
		carved = Block{Chunk: candidate.Chunk, Start: offset, End: offset + size}
		found = true
		return false
	})

	if !found {
		return Block{}, false, nil
	}

	a.carve(source, carved)
	return carved, true, nil
}

// carve removes carved from the free range source, returning any leading alignment padding and
// trailing space to the free list
func (a *FreeListAllocator) carve(source, carved Block) {
	a.free.Delete(source)

	head := Block{Chunk: source.Chunk, Start: source.Start, End: carved.Start}
	if !head.IsEmpty() {
		a.free.ReplaceOrInsert(head)
	}

	tail := Block{Chunk: source.Chunk, Start: carved.End, End: source.End}
	if !tail.IsEmpty() {
		a.free.ReplaceOrInsert(tail)
	}

	a.used += carved.Size()
	a.chunkAllocs[carved.Chunk]++
	a.live.Put(carved, struct{}{})

	memutils.DebugValidate(a)
}

// Free returns a live block to the free list, merging it with the free ranges on either side.
// It panics if block is not a live allocation of this allocator.
func (a *FreeListAllocator) Free(block Block) {
	if !a.live.Has(block) {
		panic(fmt.Sprintf("attempted to free %s, which is not a live allocation", block))
	}
	a.live.Delete(block)
	a.used -= block.Size()
	a.chunkAllocs[block.Chunk]--

	merged := block

	var prev Block
	var hasPrev bool
	a.free.DescendLessOrEqual(block, func(item Block) bool {
		prev = item
		hasPrev = true
		return false
	})

	if hasPrev {
		if prev.Overlaps(block) {
			panic(fmt.Sprintf("freed %s overlaps free range %s", block, prev))
		}

		if prev.Precedes(block) {
			a.free.Delete(prev)
			merged.Start = prev.Start
		}
	}

	var next Block
	var hasNext bool
	a.free.AscendGreaterOrEqual(block, func(item Block) bool {
		next = item
		hasNext = true
		return false
	})

	if hasNext {
		if next.Overlaps(block) {
			panic(fmt.Sprintf("freed %s overlaps free range %s", block, next))
		}

		if block.Precedes(next) {
			a.free.Delete(next)
			merged.End = next.End
		}
	}

	a.free.ReplaceOrInsert(merged)

	memutils.DebugValidate(a)
}

func (a *FreeListAllocator) Clear() {
	a.free.Clear(false)
	a.live.Clear()

	for chunk, size := range a.chunks {
		a.free.ReplaceOrInsert(Block{Chunk: chunk, Start: 0, End: size})
		a.chunkAllocs[chunk] = 0
	}
	a.used = 0
}

func (a *FreeListAllocator) AllocationCount() int {
	return a.live.Count()
}

// FreeBlocks returns every free range in (chunk, start) order
func (a *FreeListAllocator) FreeBlocks() []Block {
	blocks := make([]Block, 0, a.free.Len())
	a.free.Ascend(func(item Block) bool {
		blocks = append(blocks, item)
		return true
	})
	return blocks
}

func (a *FreeListAllocator) Validate() error {
	err := a.validateChunks()
	if err != nil {
		return err
	}

	var freeBytes int
	var prev Block
	var hasPrev bool
	a.free.Ascend(func(item Block) bool {
		if item.Chunk < 0 || item.Chunk >= len(a.chunks) {
			err = errors.Wrapf(memutils.ErrBookkeeping, "free range %s references an unknown chunk", item)
			return false
		}

		if item.IsEmpty() || item.Start < 0 || item.End > a.chunks[item.Chunk] {
			err = errors.Wrapf(memutils.ErrBookkeeping, "free range %s is outside of its chunk", item)
			return false
		}

		if hasPrev && prev.Chunk == item.Chunk && prev.End >= item.Start {
			err = errors.Wrapf(memutils.ErrBookkeeping, "free ranges %s and %s were not coalesced", prev, item)
			return false
		}

		freeBytes += item.Size()
		prev = item
		hasPrev = true
		return true
	})
	if err != nil {
		return err
	}

	if a.used+freeBytes != a.capacity {
		return errors.Wrapf(memutils.ErrBookkeeping, "used bytes %d and free bytes %d do not sum to capacity %d", a.used, freeBytes, a.capacity)
	}

	var liveBytes int
	a.live.Iter(func(item Block, _ struct{}) bool {
		liveBytes += item.Size()
		return false
	})

	if liveBytes != a.used {
		return errors.Wrapf(memutils.ErrBookkeeping, "live allocations cover %d bytes but %d are marked used", liveBytes, a.used)
	}

	return nil
}

func (a *FreeListAllocator) AddStatistics(stats *memutils.Statistics) {
	stats.ChunkCount += len(a.chunks)
	stats.ChunkBytes += a.capacity
	stats.AllocationCount += a.live.Count()
	stats.AllocationBytes += a.used
}

func (a *FreeListAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, size := range a.chunks {
		stats.AddChunk(size)
	}

	a.live.Iter(func(item Block, _ struct{}) bool {
		stats.AddAllocation(item.Size())
		return false
	})

	a.free.Ascend(func(item Block) bool {
		stats.AddUnusedRange(item.Size())
		return true
	})
}

func (a *FreeListAllocator) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Strategy").String(a.Strategy().String())
	json.Name("Capacity").Int(a.capacity)
	json.Name("Used").Int(a.used)

	chunks := json.Name("Chunks").Array()
	for chunk := range a.chunks {
		obj := chunks.Object()
		a.chunkJsonData(&obj, chunk)

		ranges := obj.Name("FreeRanges").Array()
		a.free.AscendRange(Block{Chunk: chunk}, Block{Chunk: chunk + 1}, func(item Block) bool {
			rangeObj := ranges.Object()
			rangeObj.Name("Offset").Int(item.Start)
			rangeObj.Name("Size").Int(item.Size())
			rangeObj.End()
			return true
		})
		ranges.End()

		obj.End()
	}
	chunks.End()
}
