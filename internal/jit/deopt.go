package jit

import (
	"math"

	"lume/internal/value"
)

// Deopt decoding: a guard stub stored its snapshot index and the common
// exit dumped every pool register to the scratch page. The snapshot maps
// refs to interpreter slots; each ref's final value sits either in the
// dumped register of its pool position or in its spill slot.

func (t *Trace) refBits(s *scratch, ref int32) uint64 {
	if r := t.alloc.reg[ref]; r >= 0 {
		if t.instrs[ref].isFloat() {
			return s.fpReg(int(r))
		}
		return s.gpReg(int(r))
	}
	return s.spill(int(t.alloc.slot[ref]))
}

func boxBits(typ Type, bits uint64) value.Value {
	switch typ {
	case TypeInt:
		return value.NewInt(int32(uint32(bits)))
	case TypeNum:
		return value.NewNum(math.Float64frombits(bits))
	}
	return value.NewBool(bits != 0)
}

// applyDeopt rebuilds the interpreter locals the trace had privatized
// and returns the bytecode offset to resume at.
func (t *Trace) applyDeopt(s *scratch, locals []value.Value) (pc int, loopExit bool) {
	snap := &t.snapshots[s.snapIndex()]
	for _, e := range snap.Entries {
		if int(e.Slot) < len(locals) {
			locals[e.Slot] = boxBits(e.Type, t.refBits(s, e.Ref))
		}
	}
	return int(snap.ResumePC), snap.LoopExit
}
