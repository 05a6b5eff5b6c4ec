//go:build unix

package hostmem

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mapRegion reserves an anonymous, private, read-write region outside of the Go heap
func mapRegion(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes", size)
	}

	return data, nil
}

func unmapRegion(data []byte) error {
	return unix.Munmap(data)
}
