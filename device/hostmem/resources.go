package hostmem

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/device"
)

type Buffer struct {
	device       *Device
	size         int
	usage        core1_0.BufferUsageFlags
	requirements core1_0.MemoryRequirements

	memory    *Memory
	offset    int
	destroyed bool
}

var _ device.Buffer = &Buffer{}

func (b *Buffer) Size() int {
	return b.size
}

// Usage returns the usage flags the buffer was created with
func (b *Buffer) Usage() core1_0.BufferUsageFlags {
	return b.usage
}

func (b *Buffer) MemoryRequirements() *core1_0.MemoryRequirements {
	requirements := b.requirements
	return &requirements
}

func (b *Buffer) BindBufferMemory(memory device.Memory, offset int) (common.VkResult, error) {
	if b.destroyed {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind a destroyed buffer")
	}

	if b.memory != nil {
		return core1_0.VKErrorUnknown, errors.New("buffer already has memory bound")
	}

	hostMemory, err := bindTarget(b.device, memory, offset, b.requirements)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	b.memory = hostMemory
	b.offset = offset
	return core1_0.VKSuccess, nil
}

// BoundMemory returns the memory and offset the buffer is bound to, or nil if it is unbound
func (b *Buffer) BoundMemory() (*Memory, int) {
	return b.memory, b.offset
}

func (b *Buffer) Destroy() {
	if b.destroyed {
		panic(fmt.Sprintf("buffer of size %d destroyed twice", b.size))
	}

	b.destroyed = true
	b.memory = nil
	b.device.liveBuffers.Add(-1)
}

type Image struct {
	requirements core1_0.MemoryRequirements

	memory *Memory
	offset int
}

var _ device.Image = &Image{}

func (i *Image) MemoryRequirements() *core1_0.MemoryRequirements {
	requirements := i.requirements
	return &requirements
}

func (i *Image) BindImageMemory(memory device.Memory, offset int) (common.VkResult, error) {
	if i.memory != nil {
		return core1_0.VKErrorUnknown, errors.New("image already has memory bound")
	}

	hostMemory, ok := memory.(*Memory)
	if !ok {
		return core1_0.VKErrorUnknown, errors.New("memory was not allocated from a host memory device")
	}

	_, err := bindTarget(hostMemory.device, memory, offset, i.requirements)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	i.memory = hostMemory
	i.offset = offset
	return core1_0.VKSuccess, nil
}

// BoundMemory returns the memory and offset the image is bound to, or nil if it is unbound
func (i *Image) BoundMemory() (*Memory, int) {
	return i.memory, i.offset
}
