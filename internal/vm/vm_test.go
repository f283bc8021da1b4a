package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lume/internal/errors"
	"lume/internal/jit"
)

func newTestVM(buf *bytes.Buffer) *VM {
	return New(WithOutput(buf), WithJIT(jit.New(jit.Config{Enabled: false})))
}

func runSource(t *testing.T, source string) string {
	t.Helper()
	var buf bytes.Buffer
	m := newTestVM(&buf)
	defer m.Free()
	res := m.Interpret(source)
	require.Equal(t, InterpretOK, res, "error: %v", m.Err())
	return buf.String()
}

func runFail(t *testing.T, source string) (InterpretResult, *errors.LumeError) {
	t.Helper()
	var buf bytes.Buffer
	m := newTestVM(&buf)
	defer m.Free()
	res := m.Interpret(source)
	require.NotEqual(t, InterpretOK, res)
	require.NotNil(t, m.Err())
	return res, m.Err()
}

func TestArithmeticAndPromotion(t *testing.T) {
	cases := []struct{ src, want string }{
		{`print(1 + 2 * 3)`, "7\n"},
		{`print(10 / 3)`, "3\n"},
		{`print(10 % 3)`, "1\n"},
		{`print(1 + 0.5)`, "1.5\n"},
		{`print(1 / 2.0)`, "0.5\n"},
		{`print(2.0 * 3)`, "6.0\n"},
		{`print(-5)`, "-5\n"},
		{`print(-2.5)`, "-2.5\n"},
		{`print(2147483647 + 1)`, "-2147483648\n"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, runSource(t, c.src), c.src)
	}
}

func TestStringOps(t *testing.T) {
	assert.Equal(t, "hello world\n", runSource(t, `print("hello" + " " + "world")`))
	assert.Equal(t, "true\n", runSource(t, `print("ab" + "c" == "abc")`))
	assert.Equal(t, "true\n", runSource(t, `print("apple" < "banana")`))
	assert.Equal(t, "5\n", runSource(t, `print(len("hello"))`))
	assert.Equal(t, "e\n", runSource(t, `print("hello"[1])`))
}

func TestEqualityAcrossRepresentations(t *testing.T) {
	assert.Equal(t, "true\n", runSource(t, `print(1 == 1.0)`))
	assert.Equal(t, "false\n", runSource(t, `print(1 == 2)`))
	assert.Equal(t, "true\n", runSource(t, `print(nil == nil)`))
	assert.Equal(t, "false\n", runSource(t, `print(nil == false)`))
	assert.Equal(t, "true\n", runSource(t, `print([1] != [1])`), "arrays compare by identity")
}

func TestTruthiness(t *testing.T) {
	src := `
fn check(v)
	if v then
		print("t")
	else
		print("f")
	end
	return nil
end
check(nil)
check(false)
check(0)
check(0.0)
check(true)
check(1)
check("")
check([])
`
	assert.Equal(t, "f\nf\nf\nf\nt\nt\nt\nt\n", runSource(t, src))
}

func TestAndOrShortCircuit(t *testing.T) {
	assert.Equal(t, "0\n", runSource(t, `print(0 and 2)`))
	assert.Equal(t, "2\n", runSource(t, `print(1 and 2)`))
	assert.Equal(t, "1\n", runSource(t, `print(1 or 2)`))
	assert.Equal(t, "2\n", runSource(t, `print(0 or 2)`))
	assert.Equal(t, "true\n", runSource(t, `print(not nil)`))
}

func TestGlobalsPersistAcrossInterpretCalls(t *testing.T) {
	var buf bytes.Buffer
	m := newTestVM(&buf)
	defer m.Free()
	require.Equal(t, InterpretOK, m.Interpret(`let counter = 1`))
	require.Equal(t, InterpretOK, m.Interpret(`counter = counter + 41`))
	require.Equal(t, InterpretOK, m.Interpret(`print(counter)`))
	assert.Equal(t, "42\n", buf.String())
}

func TestFunctionsAndRecursion(t *testing.T) {
	src := `
fn fib(n)
	if n < 2 then
		return n
	end
	return fib(n - 1) + fib(n - 2)
end
print(fib(15))
`
	assert.Equal(t, "610\n", runSource(t, src))
}

func TestFunctionImplicitNilReturn(t *testing.T) {
	src := `
fn noop()
	let x = 1
end
print(noop())
`
	assert.Equal(t, "nil\n", runSource(t, src))
}

func TestArrays(t *testing.T) {
	src := `
let a = [1, 2, 3]
push(a, 4)
a[0] = 10
print(a[0])
print(a[3])
print(len(a))
print(a)
`
	assert.Equal(t, "10\n4\n4\n[10, 2, 3, 4]\n", runSource(t, src))
}

func TestDicts(t *testing.T) {
	src := `
let d = {"a": 1, "b": 2}
d["c"] = 3
print(d["a"])
print(d["c"])
print(d["missing"])
print(len(d))
`
	assert.Equal(t, "1\n3\nnil\n3\n", runSource(t, src))
}

func TestRanges(t *testing.T) {
	src := `
let r = 3..7
print(len(r))
print(r[0])
print(r[3])
`
	assert.Equal(t, "4\n3\n6\n", runSource(t, src))
}

func TestForBodyLocalsScopedPerIteration(t *testing.T) {
	// a let in the body must get a fresh slot each round, not stack a
	// new one on top of last iteration's
	src := `
let s = 0
for i in 0..5 do
	let y = i
	s = s + y
end
print(s)
`
	assert.Equal(t, "10\n", runSource(t, src))
}

func TestForBodyLocalsDoNotGrowTheStack(t *testing.T) {
	// enough iterations to blow the value stack if body locals leak
	src := `
let s = 0
for i in 0..3000 do
	let y = 1
	let z = y + 1
	s = s + z
end
print(s)
`
	assert.Equal(t, "6000\n", runSource(t, src))
}

func TestIterableForBodyLocalsScoped(t *testing.T) {
	src := `
let total = 0
for v in [1, 2, 3] do
	let doubled = v * 2
	total = total + doubled
end
print(total)
`
	assert.Equal(t, "12\n", runSource(t, src))
}

func TestForOverIterable(t *testing.T) {
	src := `
let total = 0
for v in [10, 20, 30] do
	total = total + v
end
print(total)
for ch in "ab" do
	print(ch)
end
`
	assert.Equal(t, "60\na\nb\n", runSource(t, src))
}

func TestCountedForLoop(t *testing.T) {
	src := `
let sum = 0
for i in 0..5 do
	sum = sum + i
end
print(sum)
`
	assert.Equal(t, "10\n", runSource(t, src))
}

func TestWhileLoop(t *testing.T) {
	src := `
let n = 1
while n < 100 do
	n = n * 2
end
print(n)
`
	assert.Equal(t, "128\n", runSource(t, src))
}

func TestMatchStatement(t *testing.T) {
	src := `
fn describe(v)
	match v
	case 0 then
		print("zero")
	case "hi" then
		print("greeting")
	case _ then
		print("other")
	end
	return nil
end
describe(0)
describe("hi")
describe(99)
`
	assert.Equal(t, "zero\ngreeting\nother\n", runSource(t, src))
}

func TestBuiltins(t *testing.T) {
	assert.Equal(t, "3.0\n", runSource(t, `print(sqrt(9))`))
	assert.Equal(t, "5\n", runSource(t, `print(abs(-5))`))
	assert.Equal(t, "2.5\n", runSource(t, `print(abs(-2.5))`))
}

func TestSuperinstructionSemantics(t *testing.T) {
	src := `
fn f()
	let x = 10
	x = x + 1
	x = x - 1
	x = x + 5
	x = x - 3
	return x
end
print(f())
`
	assert.Equal(t, "12\n", runSource(t, src))
}

func TestIncrementPromotesOnFloats(t *testing.T) {
	src := `
fn f()
	let x = 1.5
	x = x + 1
	return x
end
print(f())
`
	assert.Equal(t, "2.5\n", runSource(t, src))
}

func TestCompileErrorResult(t *testing.T) {
	res, err := runFail(t, `let = 5`)
	assert.Equal(t, InterpretCompileError, res)
	assert.True(t, errors.IsCompile(err))
}

func TestRuntimeErrors(t *testing.T) {
	cases := []struct{ src, fragment string }{
		{`print(1 / 0)`, "division by zero"},
		{`print(1 % 0)`, "modulo by zero"},
		{`print(1.5 % 2.0)`, "must be ints"},
		{`print(missing)`, `undefined variable "missing"`},
		{`missing = 1`, `undefined variable "missing"`},
		{`let x = 5
x(1)`, "can only call functions"},
		{`print("a" + 1)`, "cannot apply"},
		{`print(nil < 1)`, "cannot compare"},
		{`let a = [1]
print(a[3])`, "out of bounds"},
		{`print(-"x")`, "must be a number"},
	}
	for _, c := range cases {
		res, err := runFail(t, c.src)
		assert.Equal(t, InterpretRuntimeError, res, c.src)
		assert.Contains(t, err.Error(), c.fragment, c.src)
	}
}

func TestArityMismatch(t *testing.T) {
	_, err := runFail(t, `
fn two(a, b)
	return a
end
two(1)
`)
	assert.Contains(t, err.Error(), "expects 2 arguments, got 1")
}

func TestRuntimeErrorCarriesLineAndStack(t *testing.T) {
	src := `fn boom()
	return 1 / 0
end
boom()`
	_, err := runFail(t, src)
	assert.Equal(t, 2, err.Line)
	require.NotEmpty(t, err.CallStack)
	assert.Equal(t, "boom", err.CallStack[0].Function)
	assert.True(t, strings.HasPrefix(err.Error(), "[line 2]"), err.Error())
}

func TestDeepRecursionOverflows(t *testing.T) {
	_, err := runFail(t, `
fn down(n)
	return down(n + 1)
end
down(0)
`)
	assert.Contains(t, err.Error(), "stack overflow")
}

func TestGlobalsTableContentKeying(t *testing.T) {
	// the same name from two compilations is the same global
	var buf bytes.Buffer
	m := newTestVM(&buf)
	defer m.Free()
	require.Equal(t, InterpretOK, m.Interpret(`let long_variable_name = 7`))
	require.Equal(t, InterpretOK, m.Interpret(`print(long_variable_name)`))
	assert.Equal(t, "7\n", buf.String())
}
