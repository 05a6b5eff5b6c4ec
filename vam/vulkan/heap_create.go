// Package vulkan creates vam heaps directly from vkngwrapper core objects
package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	vkdevice "github.com/vkngwrapper/suballoc/device/vulkan"
	"github.com/vkngwrapper/suballoc/memutils"
	"github.com/vkngwrapper/suballoc/vam"
	"golang.org/x/exp/slog"
)

const (
	// DefaultLargeHeapChunkSize is the chunk size used when every device heap is larger than a gigabyte and
	// neither ChunkSize nor LargeHeapChunkSize is provided. It is equal to 256Mb.
	DefaultLargeHeapChunkSize int = 256 * 1024 * 1024

	smallHeapMaxSize int = 1024 * 1024 * 1024 // 1 GB
)

// CreateOptions contains optional settings when creating heaps over a Vulkan device
type CreateOptions struct {
	vam.CreateOptions

	// LargeHeapChunkSize is the chunk size to use for heaps larger than a gigabyte when
	// CreateOptions.ChunkSize is left blank. Smaller heaps use an eighth of the heap size.
	LargeHeapChunkSize int

	// VulkanCallbacks is an optional set of callbacks that will be executed from Vulkan on memory
	// and buffers created by the heaps. Chunks do not map 1:1 with suballocations, so these will
	// not always be called
	VulkanCallbacks *driver.AllocationCallbacks
}

// Heaps is a DeviceHeap and a BufferHeap created over the same Vulkan device
type Heaps struct {
	Device     *vkdevice.Device
	DeviceHeap *vam.DeviceHeap
	BufferHeap *vam.BufferHeap
}

// New creates a DeviceHeap and a BufferHeap that allocate from a Vulkan device
//
// physicalDevice - The PhysicalDevice that owns the provided Device
//
// device - The Device that memory will be allocated into
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, options CreateOptions) (*Heaps, error) {
	dev, err := vkdevice.New(physicalDevice, device, options.VulkanCallbacks)
	if err != nil {
		return nil, err
	}

	heapOptions := options.CreateOptions
	if heapOptions.ChunkSize <= 0 {
		largeHeapChunkSize := options.LargeHeapChunkSize
		if largeHeapChunkSize <= 0 {
			largeHeapChunkSize = DefaultLargeHeapChunkSize
		}

		heapOptions.ChunkSize = preferredChunkSize(dev.MemoryProperties(), largeHeapChunkSize)
	}

	if heapOptions.BufferChunkSize <= 0 {
		heapOptions.BufferChunkSize = vam.DefaultChunkSize
	}

	deviceHeap, err := vam.NewDeviceHeap(logger, dev, heapOptions)
	if err != nil {
		return nil, err
	}

	bufferHeap, err := vam.NewBufferHeap(logger, deviceHeap, heapOptions)
	if err != nil {
		destroyErr := deviceHeap.Destroy()
		return nil, errors.CombineErrors(err, destroyErr)
	}

	return &Heaps{
		Device:     dev,
		DeviceHeap: deviceHeap,
		BufferHeap: bufferHeap,
	}, nil
}

// Destroy destroys the BufferHeap and then the DeviceHeap its buffers were bound to
func (h *Heaps) Destroy() error {
	err := h.BufferHeap.Destroy()
	return errors.CombineErrors(err, h.DeviceHeap.Destroy())
}

// preferredChunkSize picks one chunk size for every pool: an eighth of the smallest heap if any heap is
// a gigabyte or less, and largeHeapChunkSize otherwise
func preferredChunkSize(properties *core1_0.PhysicalDeviceMemoryProperties, largeHeapChunkSize int) int {
	chunkSize := largeHeapChunkSize

	for _, heap := range properties.MemoryHeaps {
		if heap.Size <= smallHeapMaxSize && heap.Size/8 < chunkSize {
			chunkSize = heap.Size / 8
		}
	}

	if chunkSize < 1 {
		chunkSize = 1
	}

	return memutils.AlignUp(chunkSize, 32)
}
