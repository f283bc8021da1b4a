package vm

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lume/internal/value"
)

func TestGlobalsDefineGetSet(t *testing.T) {
	g := NewGlobals()
	arena := value.NewArena()
	defer arena.Release()

	name := arena.Intern("answer")
	require.True(t, g.Define(name, value.NewInt(41)))
	require.True(t, g.Set(name, value.NewInt(42)))
	v, ok := g.Get(name)
	require.True(t, ok)
	assert.Equal(t, int32(42), v.AsInt())

	missing := arena.Intern("missing")
	_, ok = g.Get(missing)
	assert.False(t, ok)
	assert.False(t, g.Set(missing, value.Nil), "set requires a prior define")
}

func TestGlobalsContentKeyedAcrossArenas(t *testing.T) {
	// names interned by different compilations are different pointers
	// but must reach the same slot
	g := NewGlobals()
	a1, a2 := value.NewArena(), value.NewArena()
	defer a1.Release()
	defer a2.Release()

	n1 := a1.Intern("shared")
	n2 := a2.Intern("shared")
	require.True(t, g.Define(n1, value.NewInt(7)))
	v, ok := g.Get(n2)
	require.True(t, ok)
	assert.Equal(t, int32(7), v.AsInt())
	assert.Equal(t, g.SlotFor(n1), g.SlotFor(n2))
}

func TestGlobalsFullTable(t *testing.T) {
	g := NewGlobals()
	arena := value.NewArena()
	defer arena.Release()

	names := make([]*value.Obj, globalsCap)
	for i := range names {
		names[i] = arena.Intern(fmt.Sprintf("g%d", i))
		require.True(t, g.Define(names[i], value.NewInt(int32(i))), "define %d", i)
	}
	require.Equal(t, globalsCap, g.Count())

	// the table never grows: one more name must fail, and lookups for
	// absent keys on a full table must still terminate
	extra := arena.Intern("one-too-many")
	assert.False(t, g.Define(extra, value.Nil))
	_, ok := g.Get(extra)
	assert.False(t, ok)
	assert.False(t, g.Set(extra, value.Nil))
	assert.Equal(t, -1, g.SlotFor(extra))

	// existing keys stay reachable
	v, ok := g.Get(names[globalsCap-1])
	require.True(t, ok)
	assert.Equal(t, int32(globalsCap-1), v.AsInt())
}

func TestGlobalsStableSlotsAndBase(t *testing.T) {
	g := NewGlobals()
	arena := value.NewArena()
	defer arena.Release()

	base := g.BasePtr()
	names := []string{"a", "b", "c", "d"}
	slots := make([]int, len(names))
	for i, n := range names {
		obj := arena.Intern(n)
		require.True(t, g.Define(obj, value.NewInt(int32(i))))
		slots[i] = g.SlotFor(obj)
	}
	// native code pins the base and slot numbers; neither may move
	assert.Equal(t, base, g.BasePtr())
	for i, n := range names {
		obj := arena.Intern(n)
		assert.Equal(t, slots[i], g.SlotFor(obj))
		assert.Equal(t, int32(i), g.ValueAt(slots[i]).AsInt())
	}
	// ValueAt reads the same memory BasePtr exposes
	first := (*value.Value)(unsafe.Pointer(uintptr(g.BasePtr()) + uintptr(slots[0])*8))
	assert.Equal(t, g.ValueAt(slots[0]), *first)
}
