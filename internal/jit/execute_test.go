package jit

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lume/internal/value"
)

func nativeContext(t *testing.T) *Context {
	t.Helper()
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("no code generator on " + runtime.GOARCH)
	}
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skip("no executable mappings on " + runtime.GOOS)
	}
	c := New(Config{Enabled: true})
	if !c.Enabled() {
		c.Cleanup()
		t.Skip("executable memory unavailable")
	}
	return c
}

func TestExecuteReportsExitKind(t *testing.T) {
	c := nativeContext(t)
	defer c.Cleanup()

	chunk := compileFn(t, `
fn f()
	let x = 0
	for i in 0..1000 do
		x = x + 1
	end
	return x
end
`)
	header, _ := findLoop(t, chunk)
	locals := intFrame(0)
	c.Compile(chunk, header, locals, emptyGlobals())
	idx := c.CheckHotLoop(LoopKey(chunk, header))
	require.GreaterOrEqual(t, idx, 0, "loop should have compiled")

	// a clean run leaves through the loop condition
	rc := c.Execute(idx, unsafe.Pointer(&locals[0]))
	assert.Equal(t, 0, rc)
	_, ok := c.PendingDeopt(locals)
	require.True(t, ok)
	assert.Equal(t, int32(1000), locals[1].AsInt())
	assert.Equal(t, int32(1000), locals[2].AsInt())

	// a float where the entry guard expects an int is a side exit
	locals = intFrame(0)
	locals[1] = value.NewNum(0.5)
	rc = c.Execute(idx, unsafe.Pointer(&locals[0]))
	assert.Equal(t, -1, rc)
	_, ok = c.PendingDeopt(locals)
	require.True(t, ok)
	assert.Equal(t, 0.5, locals[1].AsNum(), "failed entry must not touch state")
}
