package vam

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/suballoc/memutils"
	"golang.org/x/exp/slog"
)

type bufferHeapEntry struct {
	mapped *BufferPool
	// nil on unified memory systems, where unmapped requests are served by mapped
	unmapped *BufferPool
}

func (e *bufferHeapEntry) pool(mapping MemoryMapping) *BufferPool {
	if mapping == MemoryUnmapped && e.unmapped != nil {
		return e.unmapped
	}

	return e.mapped
}

// BufferHeap hands out ranges of GPU buffers keyed by binding, lifetime and mapping. Each (binding, lifetime)
// pair has a mapped pool and, on systems where host-visible memory is not also device local, an unmapped pool
// backed by device-local memory. Memory for backing buffers comes from a DeviceHeap.
type BufferHeap struct {
	logger     *slog.Logger
	deviceHeap *DeviceHeap

	entries       [lifetimeCount][bindingCount]bufferHeapEntry
	unifiedMemory bool
}

// NewBufferHeap creates a BufferHeap that draws memory from deviceHeap. Every mapped pool allocates its first
// backing buffer immediately in order to discover whether mapped memory is also device local.
//
// logger - Receives debug traces and leak reports. If nil, logs are discarded
//
// deviceHeap - The heap backing buffers will be bound to. It must outlive the BufferHeap
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewBufferHeap(logger *slog.Logger, deviceHeap *DeviceHeap, options CreateOptions) (*BufferHeap, error) {
	heap := &BufferHeap{
		logger:        loggerOrDiscard(logger),
		deviceHeap:    deviceHeap,
		unifiedMemory: true,
	}

	chunkSize := options.bufferChunkSize()
	useMutex := options.useMutex()

	for lifetime := Lifetime(0); lifetime < lifetimeCount; lifetime++ {
		for binding := Binding(0); binding < bindingCount; binding++ {
			entry := &heap.entries[lifetime][binding]
			entry.mapped = newBufferPool(heap.logger, deviceHeap, binding, lifetime, MemoryMapped, chunkSize, useMutex)

			deviceLocal, err := entry.mapped.probe()
			if err != nil {
				destroyErr := heap.Destroy()
				if destroyErr != nil {
					heap.logger.Error("failed to clean up after buffer heap probe failure", slog.Any("error", destroyErr))
				}
				return nil, errors.Wrapf(err, "failed to probe pool %s", entry.mapped.Name())
			}

			if !deviceLocal {
				heap.unifiedMemory = false
				entry.unmapped = newBufferPool(heap.logger, deviceHeap, binding, lifetime, MemoryUnmapped, chunkSize, useMutex)
			}
		}
	}

	return heap, nil
}

// IsUnifiedMemory returns true if mapped buffer memory was found to be device local, in which case
// unmapped requests are served from mapped pools
func (h *BufferHeap) IsUnifiedMemory() bool {
	return h.unifiedMemory
}

// DeviceHeap returns the heap backing buffers are bound to
func (h *BufferHeap) DeviceHeap() *DeviceHeap {
	return h.deviceHeap
}

// Pool returns the pool that serves requests with the provided parameters
func (h *BufferHeap) Pool(binding Binding, lifetime Lifetime, mapping MemoryMapping) (*BufferPool, error) {
	if !binding.valid() {
		return nil, errors.Newf("invalid binding %d", binding)
	}

	if !lifetime.valid() {
		return nil, errors.Newf("invalid lifetime %d", lifetime)
	}

	if !mapping.valid() {
		return nil, errors.Newf("invalid memory mapping %d", mapping)
	}

	return h.entries[lifetime][binding].pool(mapping), nil
}

// Alloc allocates size bytes from the pool serving (binding, lifetime, mapping). Requests for MemoryUnmapped
// are served from the mapped pool on unified memory systems.
//
// Uniform and storage requests larger than the device's maximum range fail with ErrResourceLimitExceeded
// without making any device calls.
func (h *BufferHeap) Alloc(binding Binding, lifetime Lifetime, mapping MemoryMapping, size int) (*BufferAlloc, error) {
	h.logger.Debug("BufferHeap::Alloc")

	pool, err := h.Pool(binding, lifetime, mapping)
	if err != nil {
		return nil, err
	}

	return pool.Alloc(size)
}

// Free returns a static allocation to its pool, or releases a frame allocation's reference
func (h *BufferHeap) Free(alloc *BufferAlloc) {
	alloc.Free()
}

func (h *BufferHeap) visitPools(visit func(pool *BufferPool)) {
	for lifetime := range h.entries {
		for binding := range h.entries[lifetime] {
			entry := &h.entries[lifetime][binding]
			if entry.mapped != nil {
				visit(entry.mapped)
			}
			if entry.unmapped != nil {
				visit(entry.unmapped)
			}
		}
	}
}

// ClearFrame reclaims every frame allocation. It must only be called once the GPU has finished
// consuming the current frame's allocations.
func (h *BufferHeap) ClearFrame() {
	h.logger.Debug("BufferHeap::ClearFrame")

	for binding := range h.entries[LifetimeFrame] {
		entry := &h.entries[LifetimeFrame][binding]
		if entry.mapped != nil {
			entry.mapped.clear()
		}
		if entry.unmapped != nil {
			entry.unmapped.clear()
		}
	}
}

func (h *BufferHeap) CalculateStatistics(stats *memutils.DetailedStatistics) {
	h.visitPools(func(pool *BufferPool) {
		pool.AddDetailedStatistics(stats)
	})
}

func (h *BufferHeap) Validate() error {
	var err error
	h.visitPools(func(pool *BufferPool) {
		if err == nil {
			err = pool.Validate()
		}
	})
	return err
}

// Destroy destroys every pool, returning backing memory to the DeviceHeap. Static allocations that are
// still live are reported through the logger and an error wrapping ErrResourceLeak is returned. Freeing an
// allocation after its heap was destroyed does nothing.
func (h *BufferHeap) Destroy() error {
	h.logger.Debug("BufferHeap::Destroy")

	var err error
	h.visitPools(func(pool *BufferPool) {
		err = errors.CombineErrors(err, pool.Destroy())
	})

	return err
}
