package compiler

import (
	"strings"
	"testing"

	"lume/internal/bytecode"
	"lume/internal/value"
)

func compileOK(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	chunk, err := Compile(src, value.NewArena())
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return chunk
}

func ops(c *bytecode.Chunk) []bytecode.OpCode {
	var out []bytecode.OpCode
	for i := 0; i < len(c.Code); {
		op := bytecode.OpCode(c.Code[i])
		out = append(out, op)
		i += op.Width()
	}
	return out
}

func TestArithmeticShape(t *testing.T) {
	chunk := compileOK(t, "let a = 1 + 2 * 3")
	want := []bytecode.OpCode{
		bytecode.OpConstant, bytecode.OpConstant, bytecode.OpConstant,
		bytecode.OpMul, bytecode.OpAdd, bytecode.OpDefineGlobal,
		bytecode.OpNil, bytecode.OpReturn,
	}
	got := ops(chunk)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d: got %s, want %s\nall: %v", i, got[i], want[i], got)
		}
	}
}

func TestSuperInstructions(t *testing.T) {
	src := `
for i in 0..10 do
  let x = 0
  x = x + 1
  x = x - 1
  x = x + 5
  x = x - 5
end`
	chunk := compileOK(t, src)
	var sb strings.Builder
	bytecode.Disassemble(&sb, chunk, "t")
	dis := sb.String()
	for _, want := range []string{"INC_LOCAL", "DEC_LOCAL", "ADD_CONST_LOCAL"} {
		if !strings.Contains(dis, want) {
			t.Errorf("missing %s in:\n%s", want, dis)
		}
	}
	// x = x - 5 folds into an add of -5, no SUB should remain
	if strings.Contains(dis, "SUB") {
		t.Errorf("unexpected SUB in:\n%s", dis)
	}
}

func TestNoSuperInstructionAcrossNames(t *testing.T) {
	chunk := compileOK(t, "while false do let x = 0\n let y = 0\n x = y + 1 end")
	var sb strings.Builder
	bytecode.Disassemble(&sb, chunk, "t")
	dis := sb.String()
	if strings.Contains(dis, "INC_LOCAL") {
		t.Errorf("x = y + 1 must not fuse:\n%s", dis)
	}
	if !strings.Contains(dis, "ADD") {
		t.Errorf("expected plain ADD for x = y + 1:\n%s", dis)
	}
}

func TestCountedForShape(t *testing.T) {
	chunk := compileOK(t, "for i in 0..10 do i = i end")
	var sb strings.Builder
	bytecode.Disassemble(&sb, chunk, "t")
	dis := sb.String()
	for _, want := range []string{"GET_LOCAL", "LESS", "JUMP_IF_FALSE", "INC_LOCAL", "LOOP"} {
		if !strings.Contains(dis, want) {
			t.Errorf("counted for missing %s:\n%s", want, dis)
		}
	}
}

func TestFunctionDeclaration(t *testing.T) {
	chunk := compileOK(t, "fn add(a, b) return a + b end\nlet r = add(1, 2)")
	var fn *value.Function
	for _, v := range chunk.Constants {
		if v.IsFunc() {
			fn = v.AsObj().Fn
		}
	}
	if fn == nil {
		t.Fatal("no function constant emitted")
	}
	if fn.Name != "add" || fn.Arity != 2 {
		t.Errorf("fn = %q/%d, want add/2", fn.Name, fn.Arity)
	}
	inner := fn.Chunk.(*bytecode.Chunk)
	got := ops(inner)
	if got[len(got)-1] != bytecode.OpReturn {
		t.Error("function chunk must end in RETURN")
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []string{
		"let x = ",
		"if x then",
		"return 1",
		"fn f( end",
		"let x = 99999999999999",
		"x = 1 +",
	}
	for _, src := range cases {
		if _, err := Compile(src, value.NewArena()); err == nil {
			t.Errorf("expected compile error for %q", src)
		}
	}
}

func TestBuiltinsAreIntrinsic(t *testing.T) {
	chunk := compileOK(t, `print(len([1, 2]))`)
	var sb strings.Builder
	bytecode.Disassemble(&sb, chunk, "t")
	dis := sb.String()
	if strings.Contains(dis, "CALL") {
		t.Errorf("builtins must not go through CALL:\n%s", dis)
	}
	for _, want := range []string{"MAKE_ARRAY", "LEN", "PRINT"} {
		if !strings.Contains(dis, want) {
			t.Errorf("missing %s:\n%s", want, dis)
		}
	}
}
