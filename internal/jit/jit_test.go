package jit_test

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lume/internal/jit"
	"lume/internal/vm"
)

func nativeArch(t *testing.T) {
	t.Helper()
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("no code generator on " + runtime.GOARCH)
	}
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skip("no executable mappings on " + runtime.GOOS)
	}
}

func runWith(t *testing.T, src string, cfg jit.Config) string {
	t.Helper()
	var buf bytes.Buffer
	m := vm.New(vm.WithOutput(&buf), vm.WithJIT(jit.New(cfg)))
	defer m.Free()
	res := m.Interpret(src)
	require.Equal(t, vm.InterpretOK, res, "output so far: %s", buf.String())
	return buf.String()
}

// sameOutput runs source interpreted and with an eager JIT and demands
// identical output.
func sameOutput(t *testing.T, src string) string {
	t.Helper()
	want := runWith(t, src, jit.Config{Enabled: false})
	got := runWith(t, src, jit.Config{Enabled: true, Threshold: 5})
	require.Equal(t, want, got)
	return got
}

func TestTraceAccumulation(t *testing.T) {
	nativeArch(t)
	out := sameOutput(t, `
fn f()
	let x = 0
	for i in 0..100000 do
		x = x + 1
	end
	return x
end
print(f())
`)
	assert.Equal(t, "100000\n", out)
}

func TestTraceAccumulationStepDown(t *testing.T) {
	nativeArch(t)
	out := sameOutput(t, `
fn f()
	let x = 0
	for i in 0..50000 do
		x = x - 3
	end
	return x
end
print(f())
`)
	assert.Equal(t, "-150000\n", out)
}

func TestTraceMulAddWraps(t *testing.T) {
	nativeArch(t)
	// x = x*3 + 7 overflows int32 quickly; native and interpreted
	// wrapping must agree bit for bit
	sameOutput(t, `
fn f()
	let x = 1
	for i in 0..200 do
		x = x * 3 + 7
	end
	return x
end
print(f())
`)
}

func TestTraceBalancedBranchEvenCount(t *testing.T) {
	nativeArch(t)
	out := sameOutput(t, `
fn f()
	let x = 0
	for i in 0..100000 do
		if i % 2 == 0 then
			x = x + 1
		else
			x = x - 1
		end
	end
	return x
end
print(f())
`)
	assert.Equal(t, "0\n", out)
}

func TestTraceBalancedBranchOddCount(t *testing.T) {
	nativeArch(t)
	out := sameOutput(t, `
fn f()
	let x = 0
	for i in 0..100001 do
		if i % 2 == 0 then
			x = x + 1
		else
			x = x - 1
		end
	end
	return x
end
print(f())
`)
	assert.Equal(t, "1\n", out)
}

func TestTraceDeoptMidLoop(t *testing.T) {
	nativeArch(t)
	out := sameOutput(t, `
fn f()
	let x = 0
	for i in 0..100 do
		if i == 37 then
			x = x + 1000
		end
		x = x + 1
	end
	return x
end
print(f())
`)
	assert.Equal(t, "1100\n", out)
}

func TestTraceTypeChangeInvalidation(t *testing.T) {
	nativeArch(t)
	// x turns float mid-run: every later trace entry fails its type
	// guard until the trace is dropped, and the result must not drift
	sameOutput(t, `
fn f()
	let x = 0
	for i in 0..200 do
		if i == 60 then
			x = x + 0.5
		end
		x = x + 1
	end
	return x
end
print(f())
`)
}

func TestTraceNumGuardRejectsObjects(t *testing.T) {
	nativeArch(t)
	// x turns into a string right before a back edge: the next trace
	// entry must fail its double guard, not let the pointer bits flow
	// through float math and back into the frame
	src := `
fn f()
	let x = 0.5
	for i in 0..200 do
		x = x + 1.0
		if i == 100 then
			x = "oops"
		end
	end
	return x
end
print(f())
`
	run := func(cfg jit.Config) (vm.InterpretResult, string, string) {
		var buf bytes.Buffer
		m := vm.New(vm.WithOutput(&buf), vm.WithJIT(jit.New(cfg)))
		defer m.Free()
		res := m.Interpret(src)
		msg := ""
		if m.Err() != nil {
			msg = m.Err().Error()
		}
		return res, buf.String(), msg
	}
	wantRes, wantOut, wantMsg := run(jit.Config{Enabled: false})
	require.Equal(t, vm.InterpretRuntimeError, wantRes)
	require.Contains(t, wantMsg, "cannot apply + to string and float")

	gotRes, gotOut, gotMsg := run(jit.Config{Enabled: true, Threshold: 5})
	assert.Equal(t, wantRes, gotRes)
	assert.Equal(t, wantOut, gotOut)
	assert.Equal(t, wantMsg, gotMsg)
}

func TestTraceBodyLocalFallsBack(t *testing.T) {
	nativeArch(t)
	// a let in the body lives in a slot past the back-edge frame; the
	// recorder must hand such loops back to the interpreter
	out := sameOutput(t, `
fn f()
	let x = 0
	for i in 0..100000 do
		let step = 2
		x = x + step
	end
	return x
end
print(f())
`)
	assert.Equal(t, "200000\n", out)
}

func TestTraceGlobalLoop(t *testing.T) {
	nativeArch(t)
	out := sameOutput(t, `
let x = 0
let i = 0
while i < 100000 do
	x = x + i
	i = i + 1
end
print(x)
`)
	assert.Equal(t, "704982704\n", out)
}

func TestTraceFloatLoop(t *testing.T) {
	nativeArch(t)
	sameOutput(t, `
fn f()
	let x = 0.5
	for i in 0..10000 do
		x = x + 1.5
	end
	return x
end
print(f())
`)
}

func TestTraceSpillPressure(t *testing.T) {
	nativeArch(t)
	// right-nested additions keep ten values live at once, past the
	// integer pool
	sameOutput(t, `
fn f()
	let a = 1
	let b = 2
	let c = 3
	let d = 4
	let e = 5
	let g = 6
	let h = 7
	let k = 8
	let m = 9
	let x = 0
	for i in 0..10000 do
		x = x + (a + (b + (c + (d + (e + (g + (h + (k + m))))))))
	end
	return x
end
print(f())
`)
}

func TestTraceStatsReporting(t *testing.T) {
	nativeArch(t)
	ctx := jit.New(jit.Config{Enabled: true, Threshold: 5})
	var buf bytes.Buffer
	m := vm.New(vm.WithOutput(&buf), vm.WithJIT(ctx))
	defer m.Free()
	res := m.Interpret(`
fn f()
	let x = 0
	for i in 0..10000 do
		x = x + i
	end
	return x
end
print(f())
`)
	require.Equal(t, vm.InterpretOK, res)
	stats := ctx.Stats()
	assert.GreaterOrEqual(t, stats.Compiled, uint64(1))
	assert.GreaterOrEqual(t, stats.Executions, uint64(1))
}
