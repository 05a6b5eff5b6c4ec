package metadata

import "fmt"

// Block is a [Start, End) byte range within a single chunk. Blocks never span chunks.
type Block struct {
	Chunk int
	Start int
	End   int
}

func (b Block) Size() int {
	return b.End - b.Start
}

func (b Block) IsEmpty() bool {
	return b.End <= b.Start
}

// Precedes reports whether next begins exactly where b ends within the same chunk
func (b Block) Precedes(next Block) bool {
	return b.Chunk == next.Chunk && b.End == next.Start
}

// Overlaps reports whether b and other share at least one byte
func (b Block) Overlaps(other Block) bool {
	return b.Chunk == other.Chunk && b.Start < other.End && other.Start < b.End
}

func (b Block) String() string {
	return fmt.Sprintf("chunk %d [%d, %d)", b.Chunk, b.Start, b.End)
}

func blockLess(left, right Block) bool {
	if left.Chunk != right.Chunk {
		return left.Chunk < right.Chunk
	}
	return left.Start < right.Start
}
