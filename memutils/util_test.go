package memutils_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/suballoc/memutils"
)

func TestAlignUp(t *testing.T) {
	testCases := []struct {
		value     int
		alignment uint
		expected  int
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{513, 256, 768},
		{99, 32, 128},
		{7, 1, 7},
		{7, 0, 7},
	}

	for _, testCase := range testCases {
		require.Equal(t, testCase.expected, memutils.AlignUp(testCase.value, testCase.alignment))
		if testCase.alignment > 1 {
			require.Zero(t, memutils.AlignUp(testCase.value, testCase.alignment)%int(testCase.alignment))
		}
	}
}

func TestRoundUpMultiple(t *testing.T) {
	testCases := []struct {
		value    int
		quantum  int
		expected int
	}{
		{1, 0x100_0000, 0x100_0000},
		{0x100_0001, 0x100_0000, 0x200_0000},
		{2001, 1000, 3000},
		{3000, 1000, 3000},
		{17, 1, 17},
		{math.MaxInt - math.MaxInt%4096, 4096, math.MaxInt - math.MaxInt%4096},
	}

	for _, testCase := range testCases {
		rounded, ok := memutils.RoundUpMultiple(testCase.value, testCase.quantum)
		require.True(t, ok)
		require.Equal(t, testCase.expected, rounded)
	}
}

func TestRoundUpMultipleOverflow(t *testing.T) {
	_, ok := memutils.RoundUpMultiple(math.MaxInt, 4096)
	require.False(t, ok)

	_, ok = memutils.RoundUpMultiple(math.MaxInt-math.MaxInt%1000+1, 1000)
	require.False(t, ok)
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(uint(64), "alignment"))
	require.NoError(t, memutils.CheckPow2(1, "alignment"))

	err := memutils.CheckPow2(uint(48), "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 48")
}

func TestDebugCheckPow2(t *testing.T) {
	require.NotPanics(t, func() {
		memutils.DebugCheckPow2(uint(256), "alignment")
	})

	if memutils.DebugEnabled {
		require.Panics(t, func() {
			memutils.DebugCheckPow2(uint(48), "alignment")
		})
	} else {
		require.NotPanics(t, func() {
			memutils.DebugCheckPow2(uint(48), "alignment")
		})
	}
}
