package bytecode

type OpCode byte

const (
	OpConstant OpCode = iota // operand: constant index (byte)
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpDup

	OpGetLocal // operand: slot
	OpSetLocal // operand: slot
	OpDefineGlobal
	OpGetGlobal
	OpSetGlobal

	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNegate
	OpNot

	OpJump        // operand: forward offset (short)
	OpJumpIfFalse // operand: forward offset (short)
	OpLoop        // operand: backward offset (short)

	OpCall // operand: arg count
	OpReturn

	OpMakeArray // operand: element count
	OpMakeDict  // operand: pair count
	OpIndex
	OpSetIndex
	OpRange

	OpPrint
	OpLen
	OpPush
	OpSqrt
	OpAbs
	OpClock

	// Superinstructions. The compiler's peephole emits these for common
	// assignment shapes; the trace recorder decomposes them again.
	OpIncLocal      // operand: slot        x = x + 1
	OpDecLocal      // operand: slot        x = x - 1
	OpAddConstLocal // operands: slot, ci   x = x + C
)

var opNames = [...]string{
	OpConstant:      "CONSTANT",
	OpNil:           "NIL",
	OpTrue:          "TRUE",
	OpFalse:         "FALSE",
	OpPop:           "POP",
	OpDup:           "DUP",
	OpGetLocal:      "GET_LOCAL",
	OpSetLocal:      "SET_LOCAL",
	OpDefineGlobal:  "DEFINE_GLOBAL",
	OpGetGlobal:     "GET_GLOBAL",
	OpSetGlobal:     "SET_GLOBAL",
	OpEqual:         "EQUAL",
	OpNotEqual:      "NOT_EQUAL",
	OpLess:          "LESS",
	OpLessEqual:     "LESS_EQUAL",
	OpGreater:       "GREATER",
	OpGreaterEqual:  "GREATER_EQUAL",
	OpAdd:           "ADD",
	OpSub:           "SUB",
	OpMul:           "MUL",
	OpDiv:           "DIV",
	OpMod:           "MOD",
	OpNegate:        "NEGATE",
	OpNot:           "NOT",
	OpJump:          "JUMP",
	OpJumpIfFalse:   "JUMP_IF_FALSE",
	OpLoop:          "LOOP",
	OpCall:          "CALL",
	OpReturn:        "RETURN",
	OpMakeArray:     "MAKE_ARRAY",
	OpMakeDict:      "MAKE_DICT",
	OpIndex:         "INDEX",
	OpSetIndex:      "SET_INDEX",
	OpRange:         "RANGE",
	OpPrint:         "PRINT",
	OpLen:           "LEN",
	OpPush:          "PUSH",
	OpSqrt:          "SQRT",
	OpAbs:           "ABS",
	OpClock:         "CLOCK",
	OpIncLocal:      "INC_LOCAL",
	OpDecLocal:      "DEC_LOCAL",
	OpAddConstLocal: "ADD_CONST_LOCAL",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "UNKNOWN"
}

// Width returns the full instruction size in bytes, opcode included.
func (op OpCode) Width() int {
	switch op {
	case OpConstant, OpGetLocal, OpSetLocal, OpDefineGlobal, OpGetGlobal,
		OpSetGlobal, OpCall, OpMakeArray, OpMakeDict,
		OpIncLocal, OpDecLocal:
		return 2
	case OpJump, OpJumpIfFalse, OpLoop, OpAddConstLocal:
		return 3
	}
	return 1
}
