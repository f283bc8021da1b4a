//go:build amd64 || arm64

package jit

import "unsafe"

// enterTrace jumps into compiled trace code. The trace returns through
// its own epilogue; results come back via the scratch page.
//
//go:noescape
func enterTrace(code uintptr, locals, globals, consts unsafe.Pointer)
