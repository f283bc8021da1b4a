//go:build !amd64 && !arm64

package jit

// No code generator for this architecture; traces never compile and the
// interpreter runs everything.
func newBackend() backend { return nil }
