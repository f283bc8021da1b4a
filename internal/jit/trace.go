package jit

import (
	"unsafe"

	"lume/internal/bytecode"
)

const (
	maxTraces     = 128
	maxTraceLen   = 512
	maxGuardFails = 8
)

// SnapEntry says how to rebuild one interpreter local on deopt: take the
// ref's final value, box it per Type, write it to Slot.
type SnapEntry struct {
	Slot int32
	Ref  int32
	Type Type
}

// Snapshot is attached to every guard. ResumePC is the bytecode offset
// the interpreter continues at; LoopExit marks the ordinary
// condition-failed exit as opposed to a speculation failure.
type Snapshot struct {
	ResumePC int32
	LoopExit bool
	Entries  []SnapEntry
}

// Trace is one compiled loop.
type Trace struct {
	chunk  *bytecode.Chunk
	header int
	key    uintptr

	instrs    []Instr
	snapshots []Snapshot
	alloc     *allocation

	code  []byte // executable mapping, RX after compile
	entry uintptr

	globalsBase unsafe.Pointer
	constsBase  unsafe.Pointer

	valid     bool
	runs      uint64
	sideExits uint64
}

func (t *Trace) addSnapshot(s Snapshot) int32 {
	t.snapshots = append(t.snapshots, s)
	return int32(len(t.snapshots) - 1)
}

// snapshotRoots collects every ref any snapshot mentions, for liveness
// and dead-code purposes.
func (t *Trace) snapshotRoots() []int32 {
	var roots []int32
	for i := range t.snapshots {
		for _, e := range t.snapshots[i].Entries {
			roots = append(roots, e.Ref)
		}
	}
	return roots
}

// LoopKey identifies a loop header across chunks: the address of the
// header byte inside the chunk's code array.
func LoopKey(chunk *bytecode.Chunk, header int) uintptr {
	return uintptr(unsafe.Pointer(&chunk.Code[0])) + uintptr(header)
}
