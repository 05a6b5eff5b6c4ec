package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func TestPreferredChunkSize(t *testing.T) {
	testCases := map[string]struct {
		heaps    []int
		expected int
	}{
		"LargeHeaps": {
			heaps:    []int{8 * 1024 * 1024 * 1024, 16 * 1024 * 1024 * 1024},
			expected: DefaultLargeHeapChunkSize,
		},
		"SmallHeap": {
			heaps:    []int{8 * 1024 * 1024 * 1024, 256 * 1024 * 1024},
			expected: 32 * 1024 * 1024,
		},
		"TinyHeap": {
			heaps:    []int{100},
			expected: 32,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			properties := &core1_0.PhysicalDeviceMemoryProperties{}
			for _, size := range testCase.heaps {
				properties.MemoryHeaps = append(properties.MemoryHeaps, core1_0.MemoryHeap{Size: size})
			}

			require.Equal(t, testCase.expected, preferredChunkSize(properties, DefaultLargeHeapChunkSize))
		})
	}
}
