package jit

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lume/internal/bytecode"
	"lume/internal/value"
)

type stubGlobals struct {
	slots map[string]int
	vals  []value.Value
}

func (g *stubGlobals) SlotFor(name *value.Obj) int {
	if i, ok := g.slots[name.Str]; ok {
		return i
	}
	return -1
}

func (g *stubGlobals) ValueAt(slot int) value.Value { return g.vals[slot] }

func (g *stubGlobals) BasePtr() unsafe.Pointer {
	if len(g.vals) == 0 {
		return nil
	}
	return unsafe.Pointer(&g.vals[0])
}

func emptyGlobals() *stubGlobals {
	return &stubGlobals{slots: map[string]int{}}
}

func recordFn(t *testing.T, source string, frame []value.Value) (*Trace, error) {
	t.Helper()
	chunk := compileFn(t, source)
	header, _ := findLoop(t, chunk)
	tr := &Trace{chunk: chunk, header: header}
	r := newRecorder(tr, frame, emptyGlobals())
	return tr, r.record()
}

func countOps(tr *Trace, op Op) int {
	n := 0
	for _, in := range tr.instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

func TestRecordSimpleIntLoop(t *testing.T) {
	tr, err := recordFn(t, `
fn f()
	let x = 0
	for i in 0..1000 do
		x = x + i
	end
	return x
end
`, intFrame(0))
	require.NoError(t, err)

	last := tr.instrs[len(tr.instrs)-1]
	assert.Equal(t, OpLoopBack, last.Op)
	assert.Greater(t, countOps(tr, OpLoadLocalInt), 0, "typed guarded loads")
	assert.Greater(t, countOps(tr, OpAddInt), 0)
	// dirty x and i flush to memory before the back edge
	assert.GreaterOrEqual(t, countOps(tr, OpStoreLocalInt), 2)
	assert.NotEmpty(t, tr.snapshots)
}

func TestRecordLoopExitSnapshot(t *testing.T) {
	tr, err := recordFn(t, `
fn f()
	let x = 0
	for i in 0..1000 do
		x = x + i
	end
	return x
end
`, intFrame(0))
	require.NoError(t, err)

	exits := 0
	for _, s := range tr.snapshots {
		if s.LoopExit {
			exits++
		}
	}
	assert.Equal(t, 1, exits, "exactly one ordinary loop exit")
}

func TestRecordFloatPromotion(t *testing.T) {
	frame := []value.Value{value.Nil, value.NewNum(0.5), value.NewInt(0), value.NewInt(1000)}
	tr, err := recordFn(t, `
fn f()
	let x = 0.5
	for i in 0..1000 do
		x = x + 1.5
	end
	return x
end
`, frame)
	require.NoError(t, err)
	assert.Greater(t, countOps(tr, OpLoadLocalNum), 0)
	assert.Greater(t, countOps(tr, OpAddNum), 0)
	assert.Greater(t, countOps(tr, OpStoreLocalNum), 0)
}

func TestRecordInnerBranchGuard(t *testing.T) {
	tr, err := recordFn(t, `
fn f()
	let x = 0
	for i in 0..1000 do
		if i < 500 then
			x = x + 1
		end
	end
	return x
end
`, intFrame(0))
	require.NoError(t, err)

	// the loop condition and the inner branch both guard
	guards := countOps(tr, OpGuardTrue) + countOps(tr, OpGuardFalse)
	assert.GreaterOrEqual(t, guards, 2)
}

func TestRecordAbortsOnDivision(t *testing.T) {
	_, err := recordFn(t, `
fn f()
	let x = 1000000
	for i in 0..1000 do
		x = x / 2
	end
	return x
end
`, intFrame(1000000))
	assert.Error(t, err)
}

func TestRecordAbortsOnNestedLoop(t *testing.T) {
	chunk := compileFn(t, `
fn f()
	let x = 0
	for i in 0..100 do
		for j in 0..100 do
			x = x + 1
		end
	end
	return x
end
`)
	// the outer header is the lowest back-edge target
	outerHeader := -1
	for pc := 0; pc < len(chunk.Code); {
		op := bytecode.OpCode(chunk.Code[pc])
		if op == bytecode.OpLoop {
			target := pc + 3 - int(chunk.ReadShort(pc+1))
			if outerHeader < 0 || target < outerHeader {
				outerHeader = target
			}
		}
		pc += op.Width()
	}
	require.GreaterOrEqual(t, outerHeader, 0)

	// slots: 0 callee, 1 x, 2 i, 3 limit, 4 j, 5 inner limit

	frame := []value.Value{value.Nil, value.NewInt(0), value.NewInt(0), value.NewInt(100),
		value.NewInt(0), value.NewInt(100)}
	tr := &Trace{chunk: chunk, header: outerHeader}
	r := newRecorder(tr, frame, emptyGlobals())
	assert.Error(t, r.record())
}

func TestRecordAbortsOnUndefinedGlobal(t *testing.T) {
	_, err := recordFn(t, `
fn f()
	let x = 0
	for i in 0..1000 do
		x = x + missing
	end
	return x
end
`, intFrame(0))
	assert.Error(t, err)
}
