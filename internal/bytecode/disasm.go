package bytecode

import (
	"fmt"
	"io"
)

func Disassemble(w io.Writer, c *Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = DisassembleInstruction(w, c, offset)
	}
}

func DisassembleInstruction(w io.Writer, c *Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Line(offset) == c.Line(offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Line(offset))
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OpConstant, OpDefineGlobal, OpGetGlobal, OpSetGlobal:
		ci := int(c.Code[offset+1])
		fmt.Fprintf(w, "%-16s %3d  '%s'\n", op, ci, c.Constants[ci])
	case OpGetLocal, OpSetLocal, OpCall, OpMakeArray, OpMakeDict,
		OpIncLocal, OpDecLocal:
		fmt.Fprintf(w, "%-16s %3d\n", op, c.Code[offset+1])
	case OpAddConstLocal:
		slot, ci := int(c.Code[offset+1]), int(c.Code[offset+2])
		fmt.Fprintf(w, "%-16s %3d  +%s\n", op, slot, c.Constants[ci])
	case OpJump, OpJumpIfFalse:
		jump := int(c.ReadShort(offset + 1))
		fmt.Fprintf(w, "%-16s %3d -> %d\n", op, offset, offset+3+jump)
	case OpLoop:
		jump := int(c.ReadShort(offset + 1))
		fmt.Fprintf(w, "%-16s %3d -> %d\n", op, offset, offset+3-jump)
	default:
		fmt.Fprintf(w, "%s\n", op)
	}
	return offset + op.Width()
}
