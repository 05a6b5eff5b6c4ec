package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrBookkeeping is wrapped by Validate implementations when an allocator's internal accounting
// has drifted from the ranges it tracks
var ErrBookkeeping error = errors.New("allocator bookkeeping is inconsistent")
