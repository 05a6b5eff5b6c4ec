package hostmem

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
)

type Memory struct {
	device     *Device
	typeIndex  int
	heapIndex  int
	size       int
	hostAccess bool
	data       []byte
	freed      bool
}

var _ device.Memory = &Memory{}

func (m *Memory) Size() int {
	return m.size
}

// TypeIndex returns the memory type this memory was allocated from
func (m *Memory) TypeIndex() int {
	return m.typeIndex
}

func (m *Memory) Map() ([]byte, common.VkResult, error) {
	if m.freed {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("attempted to map freed memory")
	}

	if !m.hostAccess {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("memory type %d is not host visible", m.typeIndex)
	}

	return m.data, core1_0.VKSuccess, nil
}

// Unmap does nothing: host-visible memory stays mapped until it is freed
func (m *Memory) Unmap() {}

func (m *Memory) Free() {
	if m.freed {
		panic(fmt.Sprintf("memory of type %d freed twice", m.typeIndex))
	}
	m.freed = true

	if m.data != nil {
		err := unmapRegion(m.data)
		if err != nil {
			panic(fmt.Sprintf("failed to unmap memory: %+v", err))
		}
		m.data = nil
	}

	m.device.releaseHeap(m.heapIndex, m.size)
	m.device.liveMemory.Add(-1)
}

// bindTarget verifies that memory is live memory from owner with room for size bytes at offset
func bindTarget(owner *Device, memory device.Memory, offset int, requirements core1_0.MemoryRequirements) (*Memory, error) {
	hostMemory, ok := memory.(*Memory)
	if !ok || hostMemory.device != owner {
		return nil, errors.New("memory was not allocated from this device")
	}

	if hostMemory.freed {
		return nil, errors.New("memory has been freed")
	}

	if requirements.MemoryTypeBits&(1<<hostMemory.typeIndex) == 0 {
		return nil, errors.Newf("memory type %d is not permitted by type bits %b", hostMemory.typeIndex, requirements.MemoryTypeBits)
	}

	if requirements.Alignment > 1 && offset%requirements.Alignment != 0 {
		return nil, errors.Newf("offset %d is not aligned to %d", offset, requirements.Alignment)
	}

	if offset < 0 || offset+requirements.Size > hostMemory.size {
		return nil, errors.Newf("range [%d, %d) is outside of memory of size %d", offset, offset+requirements.Size, hostMemory.size)
	}

	return hostMemory, nil
}
