//go:build !linux && !darwin && !freebsd

package jit

import "github.com/pkg/errors"

func mapRW(size int) ([]byte, error) {
	return nil, errors.New("executable memory not supported on this platform")
}

func sealExecutable(mem []byte) error {
	return errors.New("executable memory not supported on this platform")
}

func unmap(mem []byte) error { return nil }

const execMemSupported = false
