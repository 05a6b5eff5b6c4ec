package vam

import "github.com/cockroachdb/errors"

var (
	// ErrResourceLimitExceeded is returned when a requested size exceeds a device-advertised maximum.
	// It is detected before any device call is made and is never retried.
	ErrResourceLimitExceeded = errors.New("requested size exceeds a device limit")
	// ErrOutOfDeviceMemory is returned when the device fails to provide a new chunk
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	// ErrInvalidOwner is the panic value used when an allocation is freed into a pool that did not create it
	ErrInvalidOwner = errors.New("allocation does not belong to this pool")
	// ErrResourceLeak is returned from Destroy when live allocations still reference the pool's chunks
	ErrResourceLeak = errors.New("live allocations outlived their pool")
	// ErrNoCompatibleMemoryType is returned when no memory type satisfies a request's type bits and mapping
	ErrNoCompatibleMemoryType = errors.New("no compatible memory type")
	// ErrInvalidSize is returned when a requested size is not positive
	ErrInvalidSize = errors.New("allocation size must be greater than zero")
	// ErrNotMapped is returned when host access is requested for memory that is not host visible
	ErrNotMapped = errors.New("allocation is not host mapped")
	// ErrStaleAllocation is returned when a frame allocation is accessed after its frame was cleared, or
	// when a copy of a buffer allocation handle is used after the allocation was freed
	ErrStaleAllocation = errors.New("allocation was used after it was released")
	// ErrDestroyed is returned when allocating from a heap that has been destroyed
	ErrDestroyed = errors.New("heap has been destroyed")
)

func invalidOwner(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidOwner)
}

func outOfDeviceMemory(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrOutOfDeviceMemory)
}
