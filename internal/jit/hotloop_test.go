package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotTableThresholdCrossing(t *testing.T) {
	var tab hotTable
	tab.threshold = 5
	key := uintptr(0x1000)

	for i := 0; i < 4; i++ {
		assert.False(t, tab.count(key), "iteration %d must stay cold", i)
	}
	assert.True(t, tab.count(key), "fifth back edge crosses the threshold")
	// crossing reports exactly once
	assert.False(t, tab.count(key))
	assert.False(t, tab.count(key))
}

func TestHotTableCompiledLookup(t *testing.T) {
	var tab hotTable
	tab.threshold = 2
	key := uintptr(0x2000)

	require.Equal(t, -1, tab.compiled(key))
	tab.count(key)
	tab.markCompiled(key, 7)
	assert.Equal(t, 7, tab.compiled(key))
	// compiled entries stop counting
	assert.False(t, tab.count(key))
}

func TestHotTableUncompilableIsPermanent(t *testing.T) {
	var tab hotTable
	tab.threshold = 2
	key := uintptr(0x3000)

	tab.markUncompilable(key)
	for i := 0; i < 10; i++ {
		assert.False(t, tab.count(key))
	}
	assert.Equal(t, -1, tab.compiled(key))
}

func TestHotTableCollisionEvicts(t *testing.T) {
	var tab hotTable
	tab.threshold = 100
	k1 := uintptr(0x4000)

	// find a second key landing in the same slot
	want := hashKey(k1) & (hotTableSize - 1)
	var k2 uintptr
	for c := uintptr(0x4008); ; c += 8 {
		if hashKey(c)&(hotTableSize-1) == want && c != k1 {
			k2 = c
			break
		}
	}

	for i := 0; i < 50; i++ {
		tab.count(k1)
	}
	tab.count(k2) // evicts k1's entry
	require.Equal(t, uint64(1), tab.evictions)

	// k1 restarts from scratch
	e := tab.slot(k1)
	assert.Equal(t, uint32(0), e.count)
}
