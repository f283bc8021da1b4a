//go:build !amd64 && !arm64

package jit

import "unsafe"

func enterTrace(code uintptr, locals, globals, consts unsafe.Pointer) {
	panic("no native trace support on this architecture")
}
