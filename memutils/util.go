package memutils

import (
	"math"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

// CheckPow2 returns an error wrapping PowerOfTwoError if number is neither zero nor a power of two
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// RoundUpMultiple rounds a non-negative value up to the next whole multiple of quantum. Unlike AlignUp,
// quantum does not need to be a power of two. It returns false if the result does not fit in an int.
func RoundUpMultiple(value, quantum int) (int, bool) {
	if quantum <= 1 {
		return value, true
	}

	multiples := value / quantum
	if value%quantum != 0 {
		multiples++
	}

	if multiples > math.MaxInt/quantum {
		return 0, false
	}
	return multiples * quantum, true
}
