package jit

import (
	"lume/internal/bytecode"
	"lume/internal/value"
)

// Direct patterns: before general recording, the raw bytecode of the hot
// loop is matched against a few counted-loop shapes that strength-reduce
// well. Matches build IR straight away and flow through the same
// regalloc, codegen and snapshot machinery as recorded traces.

// countedLoop is the shape the compiler emits for `for i in a..b`:
//
//	header: GetLocal i; GetLocal limit; Less; JumpIfFalse exit
//	body ...
//	IncLocal i; Loop -> header
type countedLoop struct {
	iSlot     int
	limitSlot int
	bodyStart int
	bodyEnd   int // offset of the IncLocal i
	exitPC    int
}

func matchCountedLoop(chunk *bytecode.Chunk, header, loopEnd int) (countedLoop, bool) {
	var cl countedLoop
	code := chunk.Code
	if loopEnd-header < 13 {
		return cl, false
	}
	if bytecode.OpCode(code[header]) != bytecode.OpGetLocal ||
		bytecode.OpCode(code[header+2]) != bytecode.OpGetLocal ||
		bytecode.OpCode(code[header+4]) != bytecode.OpLess ||
		bytecode.OpCode(code[header+5]) != bytecode.OpJumpIfFalse {
		return cl, false
	}
	cl.iSlot = int(code[header+1])
	cl.limitSlot = int(code[header+3])
	cl.exitPC = header + 8 + int(chunk.ReadShort(header+6))
	cl.bodyStart = header + 8
	cl.bodyEnd = loopEnd - 5
	if cl.exitPC != loopEnd {
		return cl, false
	}
	if bytecode.OpCode(code[cl.bodyEnd]) != bytecode.OpIncLocal ||
		int(code[cl.bodyEnd+1]) != cl.iSlot {
		return cl, false
	}
	return cl, true
}

// patternBuilder accumulates IR without the recorder.
type patternBuilder struct {
	t      *Trace
	header int
}

func (b *patternBuilder) emit(in Instr) int32 {
	b.t.instrs = append(b.t.instrs, in)
	return int32(len(b.t.instrs) - 1)
}

func (b *patternBuilder) constInt(n int32) int32 {
	return b.emit(Instr{Op: OpConstInt, Type: TypeInt, A: -1, B: -1, Imm: uint64(uint32(n))})
}

// loadInt emits a guarded int load whose failure resumes at the loop
// header with nothing to restore.
func (b *patternBuilder) loadInt(slot int) int32 {
	snap := b.t.addSnapshot(Snapshot{ResumePC: int32(b.header)})
	return b.emit(Instr{Op: OpLoadLocalInt, Type: TypeInt, A: -1, B: -1, Aux: int32(slot), AuxB: snap})
}

// guardTrue emits a guard resuming at the header; failing it means the
// interpreter re-runs the loop from scratch, state untouched.
func (b *patternBuilder) guardTrue(cond int32) {
	snap := b.t.addSnapshot(Snapshot{ResumePC: int32(b.header)})
	b.emit(Instr{Op: OpGuardTrue, A: cond, B: -1, AuxB: snap})
}

func (b *patternBuilder) storeInt(slot int, ref int32) {
	b.emit(Instr{Op: OpStoreLocalInt, Type: TypeInt, A: ref, B: -1, Aux: int32(slot)})
}

func (b *patternBuilder) exit(resumePC int) {
	snap := b.t.addSnapshot(Snapshot{ResumePC: int32(resumePC), LoopExit: true})
	b.emit(Instr{Op: OpExit, A: -1, B: -1, AuxB: snap})
}

// tryPatterns matches the loop body and builds IR on success. locals are
// the live frame values, used only to reject shapes whose variables are
// not ints right now (the built guards re-check every entry).
func tryPatterns(t *Trace, loopEnd int, locals []value.Value) bool {
	cl, ok := matchCountedLoop(t.chunk, t.header, loopEnd)
	if !ok {
		return false
	}
	intLocal := func(slot int) bool {
		return slot < len(locals) && locals[slot].IsInt()
	}
	if !intLocal(cl.iSlot) || !intLocal(cl.limitSlot) {
		return false
	}

	code := t.chunk.Code
	body := code[cl.bodyStart:cl.bodyEnd]
	b := &patternBuilder{t: t, header: t.header}

	if slot, c, ok := matchAccumBody(t.chunk, cl, body); ok && intLocal(slot) {
		buildAccum(b, cl, slot, c)
		return true
	}
	if slot, a, m, ok := matchMulAddBody(t.chunk, cl, body); ok && intLocal(slot) {
		buildMulAdd(b, cl, slot, a, m)
		return true
	}
	if slot, ok := matchBalancedBody(t.chunk, cl, body); ok && intLocal(slot) {
		buildBalanced(b, cl, slot)
		return true
	}
	return false
}

// matchAccumBody recognizes a body that is exactly one `x = x + C` in
// any of its superinstruction spellings.
func matchAccumBody(chunk *bytecode.Chunk, cl countedLoop, body []byte) (slot int, c int32, ok bool) {
	switch {
	case len(body) == 2 && bytecode.OpCode(body[0]) == bytecode.OpIncLocal:
		slot, c = int(body[1]), 1
	case len(body) == 2 && bytecode.OpCode(body[0]) == bytecode.OpDecLocal:
		slot, c = int(body[1]), -1
	case len(body) == 3 && bytecode.OpCode(body[0]) == bytecode.OpAddConstLocal:
		cv := chunk.Constants[body[2]]
		if !cv.IsInt() {
			return 0, 0, false
		}
		slot, c = int(body[1]), cv.AsInt()
	default:
		return 0, 0, false
	}
	if slot == cl.iSlot || slot == cl.limitSlot {
		return 0, 0, false
	}
	return slot, c, true
}

// buildAccum reduces the whole loop to its closed form:
// n = limit - i; x += C*n; i = limit. Wrapping int32 multiplication
// matches n wrapped additions exactly.
func buildAccum(b *patternBuilder, cl countedLoop, xSlot int, c int32) {
	i := b.loadInt(cl.iSlot)
	l := b.loadInt(cl.limitSlot)
	x := b.loadInt(xSlot)
	n := b.emit(Instr{Op: OpSubInt, Type: TypeInt, A: l, B: i})
	pos := b.emit(Instr{Op: OpCmpInt, Type: TypeBool, A: n, B: b.constInt(0), Aux: int32(CondGT)})
	b.guardTrue(pos)
	total := b.emit(Instr{Op: OpMulInt, Type: TypeInt, A: n, B: b.constInt(c)})
	x2 := b.emit(Instr{Op: OpAddInt, Type: TypeInt, A: x, B: total})
	b.storeInt(xSlot, x2)
	b.storeInt(cl.iSlot, l)
	b.exit(cl.exitPC)
}

// matchMulAddBody recognizes `x = x * A + B` with int constants.
func matchMulAddBody(chunk *bytecode.Chunk, cl countedLoop, body []byte) (slot int, a, m int32, ok bool) {
	if len(body) != 10 {
		return
	}
	if bytecode.OpCode(body[0]) != bytecode.OpGetLocal ||
		bytecode.OpCode(body[2]) != bytecode.OpConstant ||
		bytecode.OpCode(body[4]) != bytecode.OpMul ||
		bytecode.OpCode(body[5]) != bytecode.OpConstant ||
		bytecode.OpCode(body[7]) != bytecode.OpAdd ||
		bytecode.OpCode(body[8]) != bytecode.OpSetLocal {
		return
	}
	slot = int(body[1])
	if int(body[9]) != slot || slot == cl.iSlot || slot == cl.limitSlot {
		return 0, 0, 0, false
	}
	av, bv := chunk.Constants[body[3]], chunk.Constants[body[6]]
	if !av.IsInt() || !bv.IsInt() {
		return 0, 0, 0, false
	}
	return slot, av.AsInt(), bv.AsInt(), true
}

// buildMulAdd keeps the loop but runs it entirely in registers: one
// OpMulAddLoop covers the remaining iterations, and x and i touch
// memory once, after the last one. An exhausted counter exits before
// anything changes.
func buildMulAdd(b *patternBuilder, cl countedLoop, xSlot int, a, m int32) {
	i := b.loadInt(cl.iSlot)
	l := b.loadInt(cl.limitSlot)
	cont := b.emit(Instr{Op: OpCmpInt, Type: TypeBool, A: i, B: l, Aux: int32(CondLT)})
	exitSnap := b.t.addSnapshot(Snapshot{ResumePC: int32(cl.exitPC), LoopExit: true})
	b.emit(Instr{Op: OpGuardTrue, A: cont, B: -1, AuxB: exitSnap})
	x := b.loadInt(xSlot)
	imm := uint64(uint32(a))<<32 | uint64(uint32(m))
	x2 := b.emit(Instr{Op: OpMulAddLoop, Type: TypeInt, A: x, B: i, Aux: l, Imm: imm})
	b.storeInt(xSlot, x2)
	b.storeInt(cl.iSlot, l)
	b.exit(cl.exitPC)
}

// matchBalancedBody recognizes the parity-balanced branch:
//
//	if i % 2 == 0 then x = x + 1 else x = x - 1 end
func matchBalancedBody(chunk *bytecode.Chunk, cl countedLoop, body []byte) (slot int, ok bool) {
	if len(body) != 18 {
		return
	}
	if bytecode.OpCode(body[0]) != bytecode.OpGetLocal || int(body[1]) != cl.iSlot ||
		bytecode.OpCode(body[2]) != bytecode.OpConstant ||
		bytecode.OpCode(body[4]) != bytecode.OpMod ||
		bytecode.OpCode(body[5]) != bytecode.OpConstant ||
		bytecode.OpCode(body[7]) != bytecode.OpEqual ||
		bytecode.OpCode(body[8]) != bytecode.OpJumpIfFalse ||
		bytecode.OpCode(body[11]) != bytecode.OpIncLocal ||
		bytecode.OpCode(body[13]) != bytecode.OpJump ||
		bytecode.OpCode(body[16]) != bytecode.OpDecLocal {
		return
	}
	two, zero := chunk.Constants[body[3]], chunk.Constants[body[6]]
	if !two.IsInt() || two.AsInt() != 2 || !zero.IsInt() || zero.AsInt() != 0 {
		return
	}
	// else branch starts right after the Jump, both arms end the body
	elseOff := int(body[9])<<8 | int(body[10])
	endOff := int(body[14])<<8 | int(body[15])
	if 11+elseOff != 16 || 16+endOff != 18 {
		return
	}
	slot = int(body[12])
	if slot != int(body[17]) || slot == cl.iSlot || slot == cl.limitSlot {
		return 0, false
	}
	return slot, true
}

// buildBalanced: over an even iteration count the increments and
// decrements cancel, so only i moves. Odd counts bail to the
// interpreter before touching anything.
func buildBalanced(b *patternBuilder, cl countedLoop, xSlot int) {
	i := b.loadInt(cl.iSlot)
	l := b.loadInt(cl.limitSlot)
	// type check only; an int x is immune to the cancelled updates
	b.loadInt(xSlot)
	n := b.emit(Instr{Op: OpSubInt, Type: TypeInt, A: l, B: i})
	pos := b.emit(Instr{Op: OpCmpInt, Type: TypeBool, A: n, B: b.constInt(0), Aux: int32(CondGT)})
	b.guardTrue(pos)
	parity := b.emit(Instr{Op: OpAndInt, Type: TypeInt, A: n, B: b.constInt(1)})
	even := b.emit(Instr{Op: OpCmpInt, Type: TypeBool, A: parity, B: b.constInt(0), Aux: int32(CondEQ)})
	b.guardTrue(even)
	b.storeInt(cl.iSlot, l)
	b.exit(cl.exitPC)
}
