//go:build unix

package memory

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MapBacking returns anonymous private memory of at least length bytes to
// back an arena, along with the function that unmaps it.
func MapBacking(length uintptr) ([]byte, func() error, error) {
	page := uintptr(unix.Getpagesize())
	size := alignUp(length, page)

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mapping %d bytes of arena backing", size)
	}

	release := func() error {
		return unix.Munmap(mem)
	}

	return mem, release, nil
}
