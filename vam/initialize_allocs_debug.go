//go:build debug_init_allocs

package vam

const (
	// InitializeAllocs causes all new allocations to be filled with deterministic data.
	// If you are concerned that nondeterministic initailization of memory is causing a bug,
	// you can activate this to help diagnose the issue.  It impacts performance and should
	// generally be left deactivated.
	InitializeAllocs bool = true
)

// fillAllocation writes pattern over the mapped bytes in [offset, offset+size) of chunk. Chunks
// that are not host mapped are left alone.
func fillAllocation(chunk *Chunk, offset, size int, pattern uint8) {
	if chunk.data == nil {
		return
	}

	data := chunk.data[offset : offset+size]
	for i := range data {
		data[i] = pattern
	}
}
