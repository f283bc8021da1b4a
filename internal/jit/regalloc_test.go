package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constInt(n int32) Instr {
	return Instr{Op: OpConstInt, Type: TypeInt, A: -1, B: -1, Imm: uint64(uint32(n))}
}

func TestAllocateSmallTraceStaysInRegisters(t *testing.T) {
	instrs := []Instr{
		constInt(1),
		constInt(2),
		{Op: OpAddInt, Type: TypeInt, A: 0, B: 1},
		{Op: OpStoreLocalInt, Type: TypeInt, A: 2, B: -1, Aux: 1},
		{Op: OpLoopBack, A: -1, B: -1},
	}
	a, err := allocate(instrs, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.nSlots)
	for i := 0; i < 3; i++ {
		assert.GreaterOrEqual(t, a.reg[i], int8(0), "ref %d", i)
	}
}

func TestAllocateRegisterReuseAfterLastUse(t *testing.T) {
	// eight chained adds never need more than two registers at once
	instrs := []Instr{constInt(0)}
	for i := 1; i <= 8; i++ {
		instrs = append(instrs, constInt(int32(i)))
		instrs = append(instrs, Instr{Op: OpAddInt, Type: TypeInt, A: int32(len(instrs) - 2), B: int32(len(instrs) - 1)})
	}
	instrs = append(instrs, Instr{Op: OpStoreLocalInt, Type: TypeInt, A: int32(len(instrs) - 1), B: -1, Aux: 1})
	a, err := allocate(instrs, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.nSlots)
}

func TestAllocateSpillsFurthestLastUse(t *testing.T) {
	// ten values all live until the end: two must live in slots
	var instrs []Instr
	for i := 0; i < 10; i++ {
		instrs = append(instrs, constInt(int32(i)))
	}
	for i := 0; i < 10; i++ {
		instrs = append(instrs, Instr{Op: OpStoreLocalInt, Type: TypeInt, A: int32(i), B: -1, Aux: int32(i)})
	}
	a, err := allocate(instrs, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, a.nSlots)

	slotted := 0
	for i := 0; i < 10; i++ {
		if a.reg[i] < 0 {
			require.GreaterOrEqual(t, a.slot[i], int16(0), "ref %d", i)
			slotted++
		}
	}
	assert.Equal(t, 2, slotted)

	// stores are in slot order, so the furthest-used refs are the ones
	// defined last: those are the self-spilled victims
	assert.True(t, a.reg[8] < 0 || a.reg[9] < 0)
}

func TestAllocateGuardSnapshotKeepsRefAlive(t *testing.T) {
	snaps := []Snapshot{{
		ResumePC: 0,
		Entries:  []SnapEntry{{Slot: 1, Ref: 0, Type: TypeInt}},
	}}
	instrs := []Instr{
		constInt(42),
		constInt(1),
		{Op: OpGuardTrue, A: 1, B: -1, AuxB: 0},
	}
	a, err := allocate(instrs, snaps)
	require.NoError(t, err)
	// ref 0 is used by the guard's snapshot even though no instruction
	// reads it
	assert.True(t, a.reg[0] >= 0 || a.slot[0] >= 0)
}

func TestAllocateFloatPoolSeparate(t *testing.T) {
	var instrs []Instr
	for i := 0; i < 8; i++ {
		instrs = append(instrs, constInt(int32(i)))
	}
	for i := 0; i < 8; i++ {
		instrs = append(instrs, Instr{Op: OpConstNum, Type: TypeNum, A: -1, B: -1, Imm: uint64(i)})
	}
	var stores []Instr
	for i := 0; i < 8; i++ {
		stores = append(stores, Instr{Op: OpStoreLocalInt, Type: TypeInt, A: int32(i), B: -1, Aux: int32(i)})
		stores = append(stores, Instr{Op: OpStoreLocalNum, Type: TypeNum, A: int32(8 + i), B: -1, Aux: int32(8 + i)})
	}
	instrs = append(instrs, stores...)
	a, err := allocate(instrs, nil)
	require.NoError(t, err)
	// 8 ints and 8 floats fit their pools side by side
	assert.Equal(t, 0, a.nSlots)
}
