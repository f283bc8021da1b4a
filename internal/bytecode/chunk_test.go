package bytecode

import (
	"strings"
	"testing"

	"lume/internal/value"
)

func TestWriteAndRead(t *testing.T) {
	c := NewChunk()
	ci := c.AddConstant(value.NewInt(7))
	c.WriteOp(OpConstant, 1)
	c.WriteByte(byte(ci), 1)
	c.WriteOp(OpLoop, 2)
	c.WriteShort(0x0105, 2)

	if got := c.ReadShort(3); got != 0x0105 {
		t.Fatalf("ReadShort = %#x, want 0x0105", got)
	}
	if c.Line(0) != 1 || c.Line(2) != 2 {
		t.Error("line table out of sync with code")
	}
}

func TestConstantDedup(t *testing.T) {
	c := NewChunk()
	a := c.AddConstant(value.NewInt(3))
	b := c.AddConstant(value.NewInt(3))
	if a != b {
		t.Errorf("identical constants got slots %d and %d", a, b)
	}
	d := c.AddConstant(value.NewNum(3))
	if d == a {
		t.Error("int 3 and float 3.0 must not share a slot")
	}
}

func TestPatchShort(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpJumpIfFalse, 1)
	c.WriteShort(0xffff, 1)
	c.PatchShort(1, 12)
	if c.ReadShort(1) != 12 {
		t.Fatal("patched operand not visible")
	}
}

func TestDisassembleShapes(t *testing.T) {
	c := NewChunk()
	ci := c.AddConstant(value.NewInt(1))
	c.WriteOp(OpConstant, 1)
	c.WriteByte(byte(ci), 1)
	c.WriteOp(OpIncLocal, 2)
	c.WriteByte(2, 2)
	c.WriteOp(OpLoop, 2)
	c.WriteShort(6, 2)

	var sb strings.Builder
	Disassemble(&sb, c, "test")
	out := sb.String()
	for _, want := range []string{"CONSTANT", "INC_LOCAL", "LOOP", "== test =="} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
