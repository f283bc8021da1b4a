package jit

import (
	"fmt"

	"lume/internal/bytecode"
	"lume/internal/value"
)

// The recorder replays one loop iteration concretely against shadow
// copies of the frame locals and globals, emitting IR as it goes. The
// concrete values decide branch directions and observed types; the
// shadow state keeps recording free of side effects. Stores are
// deferred: a local's pending value travels in the local map and is
// flushed to memory at the back edge, so mid-trace guards carry the
// in-flight (slot, ref, type) triples in their snapshots.

type abortError struct{ reason string }

func (e *abortError) Error() string { return e.reason }

func abortf(format string, args ...interface{}) error {
	return &abortError{reason: fmt.Sprintf(format, args...)}
}

type localState struct {
	ref   int32
	typ   Type
	dirty bool
	val   value.Value
}

type stackVal struct {
	ref int32
	typ Type
	val value.Value
}

type recorder struct {
	chunk   *bytecode.Chunk
	header  int
	loopEnd int // offset just past the closing OpLoop
	globals GlobalResolver

	locals        []value.Value
	shadowGlobals map[int]value.Value

	t         *Trace
	vstack    []stackVal
	localMap  map[int]*localState
	globalMap map[int]*localState
	constInts map[int32]int32
	constNums map[uint64]int32

	pc        int
	stmtStart int
}

func newRecorder(t *Trace, locals []value.Value, globals GlobalResolver) *recorder {
	shadow := make([]value.Value, len(locals))
	copy(shadow, locals)
	return &recorder{
		chunk:         t.chunk,
		header:        t.header,
		globals:       globals,
		locals:        shadow,
		shadowGlobals: make(map[int]value.Value),
		t:             t,
		localMap:      make(map[int]*localState),
		globalMap:     make(map[int]*localState),
		constInts:     make(map[int32]int32),
		constNums:     make(map[uint64]int32),
	}
}

// findLoopEnd walks forward from the header to the OpLoop that closes
// this loop (the back edge targeting the header).
func (r *recorder) findLoopEnd() error {
	for pc := r.header; pc < len(r.chunk.Code); {
		op := bytecode.OpCode(r.chunk.Code[pc])
		if op == bytecode.OpLoop {
			target := pc + 3 - int(r.chunk.ReadShort(pc+1))
			if target == r.header {
				r.loopEnd = pc + 3
				return nil
			}
		}
		pc += op.Width()
	}
	return abortf("no back edge found for header %d", r.header)
}

func (r *recorder) emit(in Instr) int32 {
	r.t.instrs = append(r.t.instrs, in)
	return int32(len(r.t.instrs) - 1)
}

func (r *recorder) push(ref int32, typ Type, val value.Value) {
	r.vstack = append(r.vstack, stackVal{ref: ref, typ: typ, val: val})
}

func (r *recorder) pop() stackVal {
	sv := r.vstack[len(r.vstack)-1]
	r.vstack = r.vstack[:len(r.vstack)-1]
	return sv
}

func (r *recorder) constInt(n int32) int32 {
	if ref, ok := r.constInts[n]; ok {
		return ref
	}
	ref := r.emit(Instr{Op: OpConstInt, Type: TypeInt, A: -1, B: -1, Imm: uint64(uint32(n))})
	r.constInts[n] = ref
	return ref
}

func (r *recorder) constNum(f float64) int32 {
	bits := uint64(value.NewNum(f))
	if ref, ok := r.constNums[bits]; ok {
		return ref
	}
	ref := r.emit(Instr{Op: OpConstNum, Type: TypeNum, A: -1, B: -1, Imm: bits})
	r.constNums[bits] = ref
	return ref
}

// snapshot captures the deopt state at the current point: resume pc plus
// every local whose pending value only exists in a register.
func (r *recorder) snapshot(resumePC int, loopExit bool) int32 {
	var entries []SnapEntry
	for slot, st := range r.localMap {
		if st.dirty {
			entries = append(entries, SnapEntry{Slot: int32(slot), Ref: st.ref, Type: st.typ})
		}
	}
	// map order is not deterministic; deopt does not care, tests do
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Slot > entries[j].Slot; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
	return r.t.addSnapshot(Snapshot{ResumePC: int32(resumePC), LoopExit: loopExit, Entries: entries})
}

func typeOf(v value.Value) (Type, bool) {
	switch {
	case v.IsInt():
		return TypeInt, true
	case v.IsNum():
		return TypeNum, true
	case v.IsBool():
		return TypeBool, true
	}
	return 0, false
}

// loadLocal returns the ref holding slot's current value, emitting a
// guarded load on first observation.
func (r *recorder) loadLocal(slot int) (*localState, error) {
	if st, ok := r.localMap[slot]; ok {
		return st, nil
	}
	if slot >= len(r.locals) {
		// a scoped body local; its slot only exists mid-iteration
		return nil, abortf("local %d beyond the frame", slot)
	}
	v := r.locals[slot]
	typ, ok := typeOf(v)
	if !ok {
		return nil, abortf("local %d holds untraceable %s", slot, v.TypeName())
	}
	var op Op
	switch typ {
	case TypeInt:
		op = OpLoadLocalInt
	case TypeNum:
		op = OpLoadLocalNum
	default:
		op = OpLoadLocalBool
	}
	snap := r.snapshot(r.stmtStart, false)
	ref := r.emit(Instr{Op: op, Type: typ, A: -1, B: -1, Aux: int32(slot), AuxB: snap})
	st := &localState{ref: ref, typ: typ, val: v}
	r.localMap[slot] = st
	return st, nil
}

func (r *recorder) storeLocal(slot int, sv stackVal) {
	r.localMap[slot] = &localState{ref: sv.ref, typ: sv.typ, dirty: true, val: sv.val}
	if slot < len(r.locals) {
		r.locals[slot] = sv.val
	}
}

// flushStores materializes every pending local store; the back edge and
// unconditional exits need memory canonical.
func (r *recorder) flushStores() {
	// deterministic order
	for slot := 0; slot < len(r.locals); slot++ {
		st, ok := r.localMap[slot]
		if !ok || !st.dirty {
			continue
		}
		var op Op
		switch st.typ {
		case TypeInt:
			op = OpStoreLocalInt
		case TypeNum:
			op = OpStoreLocalNum
		default:
			op = OpStoreLocalBool
		}
		r.emit(Instr{Op: op, Type: st.typ, A: st.ref, B: -1, Aux: int32(slot)})
		st.dirty = false
	}
}

func (r *recorder) globalValue(slot int) value.Value {
	if v, ok := r.shadowGlobals[slot]; ok {
		return v
	}
	return r.globals.ValueAt(slot)
}

func (r *recorder) loadGlobal(slot int) (*localState, error) {
	if st, ok := r.globalMap[slot]; ok {
		return st, nil
	}
	v := r.globalValue(slot)
	var op Op
	var typ Type
	switch {
	case v.IsInt():
		op, typ = OpLoadGlobalInt, TypeInt
	case v.IsNum():
		op, typ = OpLoadGlobalNum, TypeNum
	default:
		return nil, abortf("global slot %d holds untraceable %s", slot, v.TypeName())
	}
	snap := r.snapshot(r.stmtStart, false)
	ref := r.emit(Instr{Op: op, Type: typ, A: -1, B: -1, Aux: int32(slot), AuxB: snap})
	st := &localState{ref: ref, typ: typ, val: v}
	r.globalMap[slot] = st
	return st, nil
}

func (r *recorder) storeGlobal(slot int, sv stackVal) error {
	var op Op
	switch sv.typ {
	case TypeInt:
		op = OpStoreGlobalInt
	case TypeNum:
		op = OpStoreGlobalNum
	default:
		return abortf("cannot store %s to global", sv.typ)
	}
	r.emit(Instr{Op: op, Type: sv.typ, A: sv.ref, B: -1, Aux: int32(slot)})
	r.globalMap[slot] = &localState{ref: sv.ref, typ: sv.typ, val: sv.val}
	r.shadowGlobals[slot] = sv.val
	return nil
}

// toNum inserts an int-to-float conversion when promotion requires it.
func (r *recorder) toNum(sv stackVal) stackVal {
	if sv.typ == TypeNum {
		return sv
	}
	ref := r.emit(Instr{Op: OpIntToNum, Type: TypeNum, A: sv.ref, B: -1})
	return stackVal{ref: ref, typ: TypeNum, val: value.NewNum(sv.val.AsFloat())}
}

func (r *recorder) readByte() byte {
	b := r.chunk.Code[r.pc]
	r.pc++
	return b
}

func (r *recorder) readShort() int {
	v := int(r.chunk.ReadShort(r.pc))
	r.pc += 2
	return v
}

// record drives the replay. On success the trace ends in OpLoopBack with
// all pending stores flushed.
func (r *recorder) record() error {
	if err := r.findLoopEnd(); err != nil {
		return err
	}
	r.pc = r.header

	for {
		if len(r.t.instrs) > maxTraceLen {
			return abortf("trace too long")
		}
		if r.pc >= r.loopEnd || r.pc < r.header {
			return abortf("control left the loop region")
		}
		if len(r.vstack) == 0 {
			r.stmtStart = r.pc
		}
		opPC := r.pc
		op := bytecode.OpCode(r.readByte())

		switch op {
		case bytecode.OpConstant:
			v := r.chunk.Constants[r.readByte()]
			switch {
			case v.IsInt():
				r.push(r.constInt(v.AsInt()), TypeInt, v)
			case v.IsNum():
				r.push(r.constNum(v.AsNum()), TypeNum, v)
			default:
				return abortf("constant of type %s", v.TypeName())
			}
		case bytecode.OpTrue:
			r.push(r.constInt(1), TypeBool, value.True)
		case bytecode.OpFalse:
			r.push(r.constInt(0), TypeBool, value.False)

		case bytecode.OpPop:
			r.pop()
		case bytecode.OpDup:
			top := r.vstack[len(r.vstack)-1]
			r.push(top.ref, top.typ, top.val)

		case bytecode.OpGetLocal:
			st, err := r.loadLocal(int(r.readByte()))
			if err != nil {
				return err
			}
			r.push(st.ref, st.typ, st.val)
		case bytecode.OpSetLocal:
			slot := int(r.readByte())
			if slot >= len(r.locals) {
				return abortf("local %d beyond the frame", slot)
			}
			r.storeLocal(slot, r.pop())

		case bytecode.OpGetGlobal:
			slot, err := r.resolveGlobal()
			if err != nil {
				return err
			}
			st, err := r.loadGlobal(slot)
			if err != nil {
				return err
			}
			r.push(st.ref, st.typ, st.val)
		case bytecode.OpSetGlobal:
			slot, err := r.resolveGlobal()
			if err != nil {
				return err
			}
			if err := r.storeGlobal(slot, r.pop()); err != nil {
				return err
			}

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul:
			if err := r.arith(op); err != nil {
				return err
			}
		case bytecode.OpDiv, bytecode.OpMod:
			return abortf("%s in trace", op)

		case bytecode.OpNegate:
			sv := r.pop()
			switch sv.typ {
			case TypeInt:
				ref := r.emit(Instr{Op: OpNegInt, Type: TypeInt, A: sv.ref, B: -1})
				r.push(ref, TypeInt, value.NewInt(-sv.val.AsInt()))
			case TypeNum:
				ref := r.emit(Instr{Op: OpNegNum, Type: TypeNum, A: sv.ref, B: -1})
				r.push(ref, TypeNum, value.NewNum(-sv.val.AsNum()))
			default:
				return abortf("negate on %s", sv.typ)
			}
		case bytecode.OpNot:
			sv := r.pop()
			if sv.typ != TypeBool {
				return abortf("not on %s", sv.typ)
			}
			ref := r.emit(Instr{Op: OpCmpInt, Type: TypeBool, A: sv.ref, B: r.constInt(0), Aux: int32(CondEQ)})
			r.push(ref, TypeBool, value.NewBool(!sv.val.IsTruthy()))

		case bytecode.OpEqual, bytecode.OpNotEqual, bytecode.OpLess,
			bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
			if err := r.comparison(op); err != nil {
				return err
			}

		case bytecode.OpJump:
			r.pc += r.readShort()

		case bytecode.OpJumpIfFalse:
			offset := r.readShort()
			target := r.pc + offset
			sv := r.pop()
			if sv.typ != TypeBool {
				return abortf("branch on %s", sv.typ)
			}
			truthy := sv.val.IsTruthy()
			if target >= r.loopEnd {
				// the loop's own exit branch
				if !truthy {
					return abortf("loop exiting during recording")
				}
				snap := r.snapshot(target, true)
				r.emit(Instr{Op: OpGuardTrue, A: sv.ref, B: -1, AuxB: snap})
				continue
			}
			if truthy {
				snap := r.snapshot(target, false)
				r.emit(Instr{Op: OpGuardTrue, A: sv.ref, B: -1, AuxB: snap})
			} else {
				snap := r.snapshot(r.pc, false)
				r.emit(Instr{Op: OpGuardFalse, A: sv.ref, B: -1, AuxB: snap})
				r.pc = target
			}

		case bytecode.OpLoop:
			offset := r.readShort()
			target := r.pc - offset
			if target != r.header {
				return abortf("nested loop")
			}
			r.flushStores()
			r.emit(Instr{Op: OpLoopBack, A: -1, B: -1})
			return nil

		case bytecode.OpIncLocal:
			if err := r.addConstToLocal(int(r.readByte()), 1); err != nil {
				return err
			}
		case bytecode.OpDecLocal:
			if err := r.addConstToLocal(int(r.readByte()), -1); err != nil {
				return err
			}
		case bytecode.OpAddConstLocal:
			slot := int(r.readByte())
			c := r.chunk.Constants[r.readByte()]
			if err := r.addConstToLocal(slot, c.AsInt()); err != nil {
				return err
			}

		default:
			return abortf("unsupported opcode %s at %d", op, opPC)
		}
	}
}

func (r *recorder) resolveGlobal() (int, error) {
	name := r.chunk.Constants[r.readByte()]
	if !name.IsString() {
		return 0, abortf("malformed global name")
	}
	slot := r.globals.SlotFor(name.AsObj())
	if slot < 0 {
		return 0, abortf("undefined global %q", name.AsObj().Str)
	}
	return slot, nil
}

func (r *recorder) arith(op bytecode.OpCode) error {
	b, a := r.pop(), r.pop()
	if a.typ == TypeBool || b.typ == TypeBool {
		return abortf("arithmetic on bool")
	}
	if a.typ == TypeInt && b.typ == TypeInt {
		var irOp Op
		var res int32
		x, y := a.val.AsInt(), b.val.AsInt()
		switch op {
		case bytecode.OpAdd:
			irOp, res = OpAddInt, x+y
		case bytecode.OpSub:
			irOp, res = OpSubInt, x-y
		default:
			irOp, res = OpMulInt, x*y
		}
		ref := r.emit(Instr{Op: irOp, Type: TypeInt, A: a.ref, B: b.ref})
		r.push(ref, TypeInt, value.NewInt(res))
		return nil
	}
	a, b = r.toNum(a), r.toNum(b)
	var irOp Op
	var res float64
	x, y := a.val.AsNum(), b.val.AsNum()
	switch op {
	case bytecode.OpAdd:
		irOp, res = OpAddNum, x+y
	case bytecode.OpSub:
		irOp, res = OpSubNum, x-y
	default:
		irOp, res = OpMulNum, x*y
	}
	ref := r.emit(Instr{Op: irOp, Type: TypeNum, A: a.ref, B: b.ref})
	r.push(ref, TypeNum, value.NewNum(res))
	return nil
}

func condFor(op bytecode.OpCode) Cond {
	switch op {
	case bytecode.OpEqual:
		return CondEQ
	case bytecode.OpNotEqual:
		return CondNE
	case bytecode.OpLess:
		return CondLT
	case bytecode.OpLessEqual:
		return CondLE
	case bytecode.OpGreater:
		return CondGT
	}
	return CondGE
}

func (r *recorder) comparison(op bytecode.OpCode) error {
	b, a := r.pop(), r.pop()
	cond := condFor(op)

	if a.typ == TypeBool || b.typ == TypeBool {
		if a.typ != TypeBool || b.typ != TypeBool || (cond != CondEQ && cond != CondNE) {
			return abortf("comparison on bool")
		}
	}
	if a.typ == TypeBool && b.typ == TypeBool {
		ref := r.emit(Instr{Op: OpCmpInt, Type: TypeBool, A: a.ref, B: b.ref, Aux: int32(cond)})
		res := (a.val == b.val) == (cond == CondEQ)
		r.push(ref, TypeBool, value.NewBool(res))
		return nil
	}
	if a.typ == TypeInt && b.typ == TypeInt {
		ref := r.emit(Instr{Op: OpCmpInt, Type: TypeBool, A: a.ref, B: b.ref, Aux: int32(cond)})
		r.push(ref, TypeBool, value.NewBool(intCompare(cond, a.val.AsInt(), b.val.AsInt())))
		return nil
	}
	a, b = r.toNum(a), r.toNum(b)
	ref := r.emit(Instr{Op: OpCmpNum, Type: TypeBool, A: a.ref, B: b.ref, Aux: int32(cond)})
	r.push(ref, TypeBool, value.NewBool(numCompare(cond, a.val.AsNum(), b.val.AsNum())))
	return nil
}

func intCompare(cond Cond, x, y int32) bool {
	switch cond {
	case CondEQ:
		return x == y
	case CondNE:
		return x != y
	case CondLT:
		return x < y
	case CondLE:
		return x <= y
	case CondGT:
		return x > y
	}
	return x >= y
}

func numCompare(cond Cond, x, y float64) bool {
	switch cond {
	case CondEQ:
		return x == y
	case CondNE:
		return x != y
	case CondLT:
		return x < y
	case CondLE:
		return x <= y
	case CondGT:
		return x > y
	}
	return x >= y
}

// addConstToLocal implements the superinstructions: load, add an int
// constant with promotion, store back.
func (r *recorder) addConstToLocal(slot int, n int32) error {
	st, err := r.loadLocal(slot)
	if err != nil {
		return err
	}
	switch st.typ {
	case TypeInt:
		ref := r.emit(Instr{Op: OpAddInt, Type: TypeInt, A: st.ref, B: r.constInt(n)})
		r.storeLocal(slot, stackVal{ref: ref, typ: TypeInt, val: value.NewInt(st.val.AsInt() + n)})
	case TypeNum:
		ref := r.emit(Instr{Op: OpAddNum, Type: TypeNum, A: st.ref, B: r.constNum(float64(n))})
		r.storeLocal(slot, stackVal{ref: ref, typ: TypeNum, val: value.NewNum(st.val.AsNum() + float64(n))})
	default:
		return abortf("increment of bool local")
	}
	return nil
}
