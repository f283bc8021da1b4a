//go:build linux || darwin || freebsd

package jit

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mapRW returns an anonymous read-write mapping of at least size bytes,
// rounded up to whole pages.
func mapRW(size int) ([]byte, error) {
	size = (size + 4095) &^ 4095
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "mmap code region")
	}
	return mem, nil
}

// sealExecutable flips a mapping from RW to R|X. Code is written before
// sealing and never patched afterwards.
func sealExecutable(mem []byte) error {
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "mprotect RX")
	}
	return nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

const execMemSupported = true
