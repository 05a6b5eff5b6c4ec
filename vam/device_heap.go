package vam

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
	"github.com/vkngwrapper/suballoc/memutils"
	"github.com/vkngwrapper/suballoc/vam/internal/utils"
	"github.com/vkngwrapper/suballoc/vam/internal/vulkan"
	"golang.org/x/exp/slog"
)

type poolKey struct {
	typeIndex int
	tiling    Tiling
}

// HeapInfo summarizes how much of one device memory heap is held by a DeviceHeap
type HeapInfo struct {
	// Reserved is the total size of every chunk allocated from the heap
	Reserved int
	// Used is the number of bytes within those chunks that are handed out
	Used int
}

// DeviceHeap routes raw memory requests to a MemoryPool per (memory type, tiling) pair. Pools are
// created on first use and live until the heap is destroyed.
type DeviceHeap struct {
	logger       *slog.Logger
	deviceMemory *vulkan.DeviceMemoryProperties

	useMutex     bool
	chunkSize    int
	minAlignment uint

	mutex     utils.OptionalRWMutex
	pools     *swiss.Map[poolKey, *MemoryPool]
	destroyed bool
}

// NewDeviceHeap creates a DeviceHeap that allocates from dev
//
// logger - Receives debug traces and leak reports. If nil, logs are discarded
//
// dev - The device that memory will be allocated from
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewDeviceHeap(logger *slog.Logger, dev device.Device, options CreateOptions) (*DeviceHeap, error) {
	minAlignment, err := options.minAlignment()
	if err != nil {
		return nil, err
	}

	heap := &DeviceHeap{
		logger:       loggerOrDiscard(logger),
		useMutex:     options.useMutex(),
		chunkSize:    options.chunkSize(),
		minAlignment: minAlignment,
		mutex:        utils.OptionalRWMutex{UseMutex: options.useMutex()},
	}

	heap.deviceMemory, err = vulkan.NewDeviceMemoryProperties(
		&memoryCallbacks{
			Callbacks: options.MemoryCallbackOptions,
			Heap:      heap,
		},
		dev,
		options.HeapSizeLimits,
	)
	if err != nil {
		return nil, err
	}

	heap.pools = swiss.NewMap[poolKey, *MemoryPool](uint32(heap.deviceMemory.MemoryTypeCount() * 2))

	return heap, nil
}

// Device returns the device this heap allocates from
func (h *DeviceHeap) Device() device.Device {
	return h.deviceMemory.Device()
}

// Limits returns the device's limits table
func (h *DeviceHeap) Limits() device.Limits {
	return h.deviceMemory.Limits()
}

// MemoryTypeProperties returns the device's description of the provided memory type
func (h *DeviceHeap) MemoryTypeProperties(typeIndex int) core1_0.MemoryType {
	return h.deviceMemory.MemoryTypeProperties(typeIndex)
}

// FindMemoryType returns the first memory type permitted by typeBits whose property flags satisfy mapping:
// host visible and host coherent for MemoryMapped, device local for MemoryUnmapped. The device's type order
// is treated as its preference order.
func (h *DeviceHeap) FindMemoryType(typeBits uint32, mapping MemoryMapping) (int, error) {
	required := mapping.requiredFlags()

	typeCount := h.deviceMemory.MemoryTypeCount()
	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		if typeBits&(1<<typeIndex) == 0 {
			continue
		}

		flags := h.deviceMemory.MemoryTypeProperties(typeIndex).PropertyFlags
		if flags&required == required {
			return typeIndex, nil
		}
	}

	return -1, errors.Wrapf(ErrNoCompatibleMemoryType, "memory type bits %b, %s", typeBits, mapping)
}

// Pool returns the pool for the provided memory type and tiling, creating it if necessary
func (h *DeviceHeap) Pool(typeIndex int, tiling Tiling) (*MemoryPool, error) {
	if typeIndex < 0 || typeIndex >= h.deviceMemory.MemoryTypeCount() {
		return nil, errors.Newf("memory type index %d out of range", typeIndex)
	}

	key := poolKey{typeIndex: typeIndex, tiling: tiling}

	h.mutex.RLock()
	pool, ok := h.pools.Get(key)
	destroyed := h.destroyed
	h.mutex.RUnlock()

	if destroyed {
		return nil, ErrDestroyed
	}

	if ok {
		return pool, nil
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.destroyed {
		return nil, ErrDestroyed
	}

	pool, ok = h.pools.Get(key)
	if ok {
		return pool, nil
	}

	pool = newMemoryPool(h.logger, h.deviceMemory, typeIndex, tiling, h.chunkSize, h.minAlignment, h.useMutex)
	h.pools.Put(key, pool)

	return pool, nil
}

// Alloc allocates memory that satisfies requirements from the pool matching tiling and mapping
func (h *DeviceHeap) Alloc(requirements *core1_0.MemoryRequirements, tiling Tiling, mapping MemoryMapping) (*DeviceAlloc, error) {
	h.logger.Debug("DeviceHeap::Alloc")

	if requirements.Size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "memory requirements request %d bytes", requirements.Size)
	}

	typeIndex, err := h.FindMemoryType(requirements.MemoryTypeBits, mapping)
	if err != nil {
		return nil, err
	}

	pool, err := h.Pool(typeIndex, tiling)
	if err != nil {
		return nil, err
	}

	alignment := requirements.Alignment
	if alignment < 1 {
		alignment = 1
	}

	return pool.Alloc(requirements.Size, uint(alignment))
}

// AllocBufferMemory allocates memory for buffer and binds it. If binding fails, the allocation is freed
// before the error is returned.
func (h *DeviceHeap) AllocBufferMemory(buffer device.Buffer, mapping MemoryMapping) (*DeviceAlloc, error) {
	h.logger.Debug("DeviceHeap::AllocBufferMemory")

	alloc, err := h.Alloc(buffer.MemoryRequirements(), TilingLinear, mapping)
	if err != nil {
		return nil, err
	}

	res, err := buffer.BindBufferMemory(alloc.Memory(), alloc.Offset())
	if err != nil {
		alloc.Free()
		return nil, errors.Wrapf(err, "failed to bind buffer memory (%v)", res)
	}

	return alloc, nil
}

// AllocImageMemory allocates memory for image and binds it. If binding fails, the allocation is freed
// before the error is returned.
func (h *DeviceHeap) AllocImageMemory(image device.Image, mapping MemoryMapping) (*DeviceAlloc, error) {
	h.logger.Debug("DeviceHeap::AllocImageMemory")

	alloc, err := h.Alloc(image.MemoryRequirements(), TilingNonlinear, mapping)
	if err != nil {
		return nil, err
	}

	res, err := image.BindImageMemory(alloc.Memory(), alloc.Offset())
	if err != nil {
		alloc.Free()
		return nil, errors.Wrapf(err, "failed to bind image memory (%v)", res)
	}

	return alloc, nil
}

// visitPools calls visit for every existing pool in (memory type, tiling) order
func (h *DeviceHeap) visitPools(visit func(pool *MemoryPool)) {
	typeCount := h.deviceMemory.MemoryTypeCount()
	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		for _, tiling := range []Tiling{TilingLinear, TilingNonlinear} {
			pool, ok := h.pools.Get(poolKey{typeIndex: typeIndex, tiling: tiling})
			if ok {
				visit(pool)
			}
		}
	}
}

// Heaps reports how much of each device memory heap is reserved by chunks and how much of that is in use
func (h *DeviceHeap) Heaps() []HeapInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	heaps := make([]HeapInfo, h.deviceMemory.MemoryHeapCount())
	h.visitPools(func(pool *MemoryPool) {
		heapIndex := h.deviceMemory.MemoryTypeIndexToHeapIndex(pool.typeIndex)
		heaps[heapIndex].Reserved += pool.Capacity()
		heaps[heapIndex].Used += pool.Used()
	})

	return heaps
}

// HeapStatistics returns the device-level counters for one memory heap
func (h *DeviceHeap) HeapStatistics(heapIndex int) memutils.Statistics {
	return h.deviceMemory.HeapStatistics(heapIndex)
}

func (h *DeviceHeap) CalculateStatistics(stats *memutils.DetailedStatistics) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	h.visitPools(func(pool *MemoryPool) {
		pool.AddDetailedStatistics(stats)
	})
}

func (h *DeviceHeap) Validate() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var err error
	h.visitPools(func(pool *MemoryPool) {
		if err == nil {
			err = pool.Validate()
		}
	})
	return err
}

// Destroy destroys every pool in the heap. Pools with live allocations are reported through the logger and
// an error wrapping ErrResourceLeak is returned.
func (h *DeviceHeap) Destroy() error {
	h.logger.Debug("DeviceHeap::Destroy")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.destroyed {
		return nil
	}
	h.destroyed = true

	var err error
	h.visitPools(func(pool *MemoryPool) {
		err = errors.CombineErrors(err, pool.Destroy())
	})

	return err
}
