package jit

// Trace IR: a flat array of instructions, refs are indices into it. The
// whole array is one loop body; LoopBack jumps to instruction 0, so
// nothing stays live across the back edge and there are no phis. Guarded
// loads re-check types every iteration.

type Type uint8

const (
	TypeInt Type = iota
	TypeNum
	TypeBool
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeNum:
		return "num"
	}
	return "bool"
}

type Cond uint8

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondLE
	CondGT
	CondGE
)

type Op uint8

const (
	OpNop Op = iota

	OpConstInt // Imm = sign-extended int32
	OpConstNum // Imm = float64 bits

	// guarded loads: Aux = slot, AuxB = snapshot index
	OpLoadLocalInt
	OpLoadLocalNum
	OpLoadLocalBool
	OpLoadGlobalInt
	OpLoadGlobalNum

	// stores: A = source ref, Aux = slot
	OpStoreLocalInt
	OpStoreLocalNum
	OpStoreLocalBool
	OpStoreGlobalInt
	OpStoreGlobalNum

	OpAddInt
	OpSubInt
	OpMulInt
	OpAndInt
	OpNegInt
	OpAddNum
	OpSubNum
	OpMulNum
	OpNegNum

	OpIntToNum // A = int ref, result is its float64 widening

	OpCmpInt // Aux = Cond, result is 0/1
	OpCmpNum

	// OpMulAddLoop is the strength-reduced `x = x*A + B` body: it runs
	// the whole remaining count in registers. A = initial x, B = initial
	// counter, Aux = limit ref (exclusive), Imm = A<<32 | uint32(B).
	// Requires counter < limit on entry; the result is the final x and
	// the final counter equals the limit.
	OpMulAddLoop

	// guards: A = condition ref, AuxB = snapshot index
	OpGuardTrue
	OpGuardFalse

	OpLoopBack // jump to instruction 0
	OpExit     // unconditional exit, AuxB = snapshot index
)

type Instr struct {
	Op   Op
	Type Type
	A, B int32 // operand refs, -1 when unused
	Aux  int32 // slot or condition
	AuxB int32 // snapshot index on guards/loads/exits
	Imm  uint64
}

// IsGuard reports instructions that can leave the trace.
func (in *Instr) IsGuard() bool {
	switch in.Op {
	case OpLoadLocalInt, OpLoadLocalNum, OpLoadLocalBool,
		OpLoadGlobalInt, OpLoadGlobalNum,
		OpGuardTrue, OpGuardFalse, OpExit:
		return true
	}
	return false
}

// producesValue reports whether the instruction defines a usable ref.
func (in *Instr) producesValue() bool {
	switch in.Op {
	case OpStoreLocalInt, OpStoreLocalNum, OpStoreLocalBool,
		OpStoreGlobalInt, OpStoreGlobalNum,
		OpGuardTrue, OpGuardFalse, OpLoopBack, OpExit, OpNop:
		return false
	}
	return true
}

func (in *Instr) isFloat() bool {
	switch in.Op {
	case OpConstNum, OpLoadLocalNum, OpLoadGlobalNum,
		OpAddNum, OpSubNum, OpMulNum, OpNegNum, OpIntToNum:
		return true
	}
	return false
}

// fold runs a small constant-folding and dead-code pass in place. Guards,
// stores and control flow are never removed, and neither is anything a
// deopt snapshot needs (roots).
func fold(instrs []Instr, roots []int32) {
	for i := range instrs {
		in := &instrs[i]
		switch in.Op {
		case OpAddInt, OpSubInt, OpMulInt, OpAndInt:
			a, b := &instrs[in.A], &instrs[in.B]
			if a.Op != OpConstInt || b.Op != OpConstInt {
				continue
			}
			x, y := int32(a.Imm), int32(b.Imm)
			var r int32
			switch in.Op {
			case OpAddInt:
				r = x + y
			case OpSubInt:
				r = x - y
			case OpMulInt:
				r = x * y
			case OpAndInt:
				r = x & y
			}
			*in = Instr{Op: OpConstInt, Type: TypeInt, A: -1, B: -1, Imm: uint64(uint32(r))}
		}
	}

	// drop pure instructions nothing refers to
	used := make([]bool, len(instrs))
	mark := func(ref int32) {
		if ref >= 0 {
			used[ref] = true
		}
	}
	for _, r := range roots {
		mark(r)
	}
	for i := range instrs {
		in := &instrs[i]
		if in.producesValue() {
			continue
		}
		mark(in.A)
		mark(in.B)
	}
	for i := len(instrs) - 1; i >= 0; i-- {
		in := &instrs[i]
		if in.producesValue() && !in.IsGuard() && !used[i] {
			in.Op = OpNop
			continue
		}
		if in.Op != OpNop {
			mark(in.A)
			mark(in.B)
			if in.Op == OpMulAddLoop {
				mark(in.Aux)
			}
		}
	}
}
