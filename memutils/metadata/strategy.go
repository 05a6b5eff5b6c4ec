package metadata

// Strategy identifies how an Allocator hands out and reclaims ranges
type Strategy uint32

const (
	// StrategyFreeList allocates first-fit from an address-ordered free list and coalesces
	// ranges as they are freed. Used for allocations with an individual lifetime.
	StrategyFreeList Strategy = iota
	// StrategyLinear bumps a cursor through each chunk and only reclaims memory in bulk via Clear.
	// Used for per-frame scratch allocations.
	StrategyLinear
)

var strategyMapping = make(map[Strategy]string)

func init() {
	strategyMapping[StrategyFreeList] = "StrategyFreeList"
	strategyMapping[StrategyLinear] = "StrategyLinear"
}

func (s Strategy) String() string {
	return strategyMapping[s]
}

// New creates an empty Allocator of the requested strategy
func New(strategy Strategy) Allocator {
	switch strategy {
	case StrategyFreeList:
		return NewFreeListAllocator()
	case StrategyLinear:
		return NewLinearAllocator()
	}

	panic("unknown allocation strategy")
}
