package metadata

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/suballoc/memutils"
)

// LinearAllocator is an Allocator that bumps a cursor through each chunk in turn. Individual blocks
// cannot be freed: every chunk is reclaimed at once by Clear. Used() counts the bytes behind every cursor,
// including alignment padding, since that space cannot be reused until the next Clear.
type LinearAllocator struct {
	allocatorBase

	cursors []int
	active  int

	allocSizeMin int
	allocSizeMax int
}

var _ Allocator = &LinearAllocator{}

func NewLinearAllocator() *LinearAllocator {
	return &LinearAllocator{
		allocSizeMin: math.MaxInt,
	}
}

func (a *LinearAllocator) Strategy() Strategy {
	return StrategyLinear
}

func (a *LinearAllocator) AddChunk(size int) int {
	chunk := a.addChunk(size)
	a.cursors = append(a.cursors, 0)

	return chunk
}

func (a *LinearAllocator) Alloc(size int, alignment uint) (Block, bool, error) {
	alignment, err := a.validateRequest(size, alignment)
	if err != nil {
		return Block{}, false, err
	}

	for chunk := a.active; chunk < len(a.chunks); chunk++ {
		offset := memutils.AlignUp(a.cursors[chunk], alignment)
		if offset > a.chunks[chunk] || size > a.chunks[chunk]-offset {
			continue
		}

		a.used += offset + size - a.cursors[chunk]
		a.cursors[chunk] = offset + size
		a.chunkAllocs[chunk]++
		a.active = chunk

		if size < a.allocSizeMin {
			a.allocSizeMin = size
		}
		if size > a.allocSizeMax {
			a.allocSizeMax = size
		}

		memutils.DebugValidate(a)
		return Block{Chunk: chunk, Start: offset, End: offset + size}, true, nil
	}

	return Block{}, false, nil
}

// Free does nothing: blocks from a LinearAllocator are reclaimed together by Clear
func (a *LinearAllocator) Free(block Block) {}

// Clear rewinds every cursor to the start of its chunk and makes chunk 0 the active chunk again
func (a *LinearAllocator) Clear() {
	for chunk := range a.cursors {
		a.cursors[chunk] = 0
		a.chunkAllocs[chunk] = 0
	}
	a.active = 0
	a.used = 0
	a.allocSizeMin = math.MaxInt
	a.allocSizeMax = 0
}

// Cursor returns the next free offset within the provided chunk
func (a *LinearAllocator) Cursor(chunk int) int {
	return a.cursors[chunk]
}

func (a *LinearAllocator) Validate() error {
	err := a.validateChunks()
	if err != nil {
		return err
	}

	if len(a.cursors) != len(a.chunks) {
		return errors.Wrapf(memutils.ErrBookkeeping, "%d cursors for %d chunks", len(a.cursors), len(a.chunks))
	}

	if len(a.chunks) > 0 && (a.active < 0 || a.active >= len(a.chunks)) {
		return errors.Wrapf(memutils.ErrBookkeeping, "active chunk %d out of range", a.active)
	}

	var used int
	for chunk, cursor := range a.cursors {
		if cursor < 0 || cursor > a.chunks[chunk] {
			return errors.Wrapf(memutils.ErrBookkeeping, "chunk %d cursor %d is outside of size %d", chunk, cursor, a.chunks[chunk])
		}
		used += cursor
	}

	if used != a.used {
		return errors.Wrapf(memutils.ErrBookkeeping, "cursors cover %d bytes but %d are marked used", used, a.used)
	}

	return nil
}

func (a *LinearAllocator) AddStatistics(stats *memutils.Statistics) {
	stats.ChunkCount += len(a.chunks)
	stats.ChunkBytes += a.capacity
	stats.AllocationCount += a.AllocationCount()
	stats.AllocationBytes += a.used
}

func (a *LinearAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for chunk, size := range a.chunks {
		stats.AddChunk(size)

		if a.cursors[chunk] < size {
			stats.AddUnusedRange(size - a.cursors[chunk])
		}
	}

	stats.AllocationCount += a.AllocationCount()
	stats.AllocationBytes += a.used

	if a.allocSizeMin < stats.AllocationSizeMin {
		stats.AllocationSizeMin = a.allocSizeMin
	}
	if a.allocSizeMax > stats.AllocationSizeMax {
		stats.AllocationSizeMax = a.allocSizeMax
	}
}

func (a *LinearAllocator) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Strategy").String(a.Strategy().String())
	json.Name("Capacity").Int(a.capacity)
	json.Name("Used").Int(a.used)
	json.Name("ActiveChunk").Int(a.active)

	chunks := json.Name("Chunks").Array()
	for chunk := range a.chunks {
		obj := chunks.Object()
		a.chunkJsonData(&obj, chunk)
		obj.Name("Cursor").Int(a.cursors[chunk])
		obj.End()
	}
	chunks.End()
}
