package vam

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/suballoc/device"
)

// Chunk is one backing allocation that a pool carves suballocations out of. Memory pools
// own chunks of raw device memory; buffer pools own chunks that are a buffer bound to memory
// obtained from a DeviceHeap. A chunk is never resized and is only released when its pool is destroyed.
type Chunk struct {
	index     int
	name      string
	size      int
	typeIndex int
	tiling    Tiling

	memory device.Memory
	// Buffer chunks only
	buffer  device.Buffer
	backing *DeviceAlloc

	data []byte
	refs int
}

func (c *Chunk) Index() int {
	return c.index
}

// Name identifies the chunk in logs and statistics
func (c *Chunk) Name() string {
	return c.name
}

func (c *Chunk) Size() int {
	return c.size
}

// TypeIndex returns the index of the memory type the chunk's memory was allocated from
func (c *Chunk) TypeIndex() int {
	return c.typeIndex
}

func (c *Chunk) Tiling() Tiling {
	return c.tiling
}

// Memory returns the raw device memory that backs this chunk. For buffer chunks this memory may
// be shared with other chunks.
func (c *Chunk) Memory() device.Memory {
	return c.memory
}

// Buffer returns the buffer object of a buffer chunk, or nil for raw memory chunks
func (c *Chunk) Buffer() device.Buffer {
	return c.buffer
}

func (c *Chunk) IsMapped() bool {
	return c.data != nil
}

// References returns the number of live suballocations within the chunk
func (c *Chunk) References() int {
	return c.refs
}

// view returns the mapped bytes in [offset, offset+size) after verifying the range lies within the chunk
func (c *Chunk) view(offset, size int) ([]byte, error) {
	if c.data == nil {
		return nil, errors.Wrapf(ErrNotMapped, "chunk %s", c.name)
	}

	if offset < 0 || size < 0 || offset > len(c.data) || size > len(c.data)-offset {
		return nil, errors.Newf("range of %d bytes at offset %d is outside of chunk %s with %d mapped bytes", size, offset, c.name, len(c.data))
	}

	return c.data[offset : offset+size : offset+size], nil
}
