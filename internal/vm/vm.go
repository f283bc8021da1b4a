package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"
	"unsafe"

	"lume/internal/bytecode"
	"lume/internal/compiler"
	lumeerr "lume/internal/errors"
	"lume/internal/jit"
	"lume/internal/value"
)

const (
	StackMax  = 2048
	FramesMax = 64
)

type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

type CallFrame struct {
	fn       *value.Function
	chunk    *bytecode.Chunk
	ip       int
	slotBase int
}

type VM struct {
	stack      [StackMax]value.Value
	sp         int
	frames     [FramesMax]CallFrame
	frameCount int

	arena   *value.Arena
	globals *Globals
	jit     *jit.Context
	out     io.Writer

	lastErr *lumeerr.LumeError
}

type Option func(*VM)

func WithOutput(w io.Writer) Option {
	return func(v *VM) { v.out = w }
}

func WithJIT(ctx *jit.Context) Option {
	return func(v *VM) { v.jit = ctx }
}

func New(opts ...Option) *VM {
	vm := &VM{
		arena:   value.NewArena(),
		globals: NewGlobals(),
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.jit == nil {
		vm.jit = jit.New(jit.ConfigFromEnv())
	}
	return vm
}

func (vm *VM) Arena() *value.Arena { return vm.arena }

func (vm *VM) Globals() *Globals { return vm.globals }

func (vm *VM) JIT() *jit.Context { return vm.jit }

// Err returns the error from the last Interpret, if any.
func (vm *VM) Err() *lumeerr.LumeError { return vm.lastErr }

// Free releases the arena and the JIT's native pages.
func (vm *VM) Free() {
	vm.arena.Release()
	vm.jit.Cleanup()
}

// Interpret compiles and runs one source unit against the VM's
// persistent globals (the REPL relies on that persistence).
func (vm *VM) Interpret(source string) InterpretResult {
	vm.lastErr = nil
	chunk, err := compiler.Compile(source, vm.arena)
	if err != nil {
		vm.lastErr = err.(*lumeerr.LumeError)
		return InterpretCompileError
	}

	vm.sp = 0
	vm.push(value.Nil) // script slot 0, mirrors the callee slot of a frame
	vm.frameCount = 1
	vm.frames[0] = CallFrame{chunk: chunk, slotBase: 0}

	if err := vm.run(); err != nil {
		vm.lastErr = err
		return InterpretRuntimeError
	}
	return InterpretOK
}

// ---- stack ----

func (vm *VM) push(v value.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() value.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.sp-1-distance]
}

// ---- errors ----

func (vm *VM) runtimeError(frame *CallFrame, opIP int, format string, args ...interface{}) *lumeerr.LumeError {
	e := lumeerr.NewRuntimeError(frame.chunk.Line(opIP), format, args...)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		name := ""
		if f.fn != nil {
			name = f.fn.Name
		}
		e.CallStack = append(e.CallStack, lumeerr.StackFrame{
			Function: name,
			Line:     f.chunk.Line(f.ip - 1),
		})
	}
	return e
}

// ---- dispatch ----

func (vm *VM) run() *lumeerr.LumeError {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() uint16 {
		v := frame.chunk.ReadShort(frame.ip)
		frame.ip += 2
		return v
	}

	for {
		opIP := frame.ip
		op := bytecode.OpCode(readByte())

		switch op {
		case bytecode.OpConstant:
			vm.push(frame.chunk.Constants[readByte()])
		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.True)
		case bytecode.OpFalse:
			vm.push(value.False)
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpDup:
			vm.push(vm.peek(0))

		case bytecode.OpGetLocal:
			vm.push(vm.stack[frame.slotBase+int(readByte())])
		case bytecode.OpSetLocal:
			vm.stack[frame.slotBase+int(readByte())] = vm.pop()

		case bytecode.OpDefineGlobal:
			name := frame.chunk.Constants[readByte()].AsObj()
			if !vm.globals.Define(name, vm.pop()) {
				return vm.runtimeError(frame, opIP, "too many globals")
			}
		case bytecode.OpGetGlobal:
			name := frame.chunk.Constants[readByte()].AsObj()
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError(frame, opIP, "undefined variable %q", name.Str)
			}
			vm.push(v)
		case bytecode.OpSetGlobal:
			name := frame.chunk.Constants[readByte()].AsObj()
			if !vm.globals.Set(name, vm.pop()) {
				return vm.runtimeError(frame, opIP, "undefined variable %q", name.Str)
			}

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(a.Equals(b)))
		case bytecode.OpNotEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(!a.Equals(b)))
		case bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
			b, a := vm.pop(), vm.pop()
			res, err := vm.compare(frame, opIP, op, a, b)
			if err != nil {
				return err
			}
			vm.push(res)

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			b, a := vm.pop(), vm.pop()
			res, err := vm.arith(frame, opIP, op, a, b)
			if err != nil {
				return err
			}
			vm.push(res)

		case bytecode.OpNegate:
			v := vm.pop()
			switch {
			case v.IsInt():
				vm.push(value.NewInt(-v.AsInt()))
			case v.IsNum():
				vm.push(value.NewNum(-v.AsNum()))
			default:
				return vm.runtimeError(frame, opIP, "operand to '-' must be a number, got %s", v.TypeName())
			}
		case bytecode.OpNot:
			vm.push(value.NewBool(!vm.pop().IsTruthy()))

		case bytecode.OpJump:
			frame.ip += int(readShort())
		case bytecode.OpJumpIfFalse:
			offset := int(readShort())
			if !vm.pop().IsTruthy() {
				frame.ip += offset
			}
		case bytecode.OpLoop:
			frame.ip -= int(readShort())
			if vm.jit.Enabled() {
				key := jit.LoopKey(frame.chunk, frame.ip)
				if idx := vm.jit.CheckHotLoop(key); idx >= 0 {
					vm.jit.Execute(idx, unsafe.Pointer(&vm.stack[frame.slotBase]))
					if pc, ok := vm.jit.PendingDeopt(vm.stack[frame.slotBase:vm.sp]); ok {
						frame.ip = pc
					}
				} else if vm.jit.CountLoop(key) {
					vm.jit.Compile(frame.chunk, frame.ip, vm.stack[frame.slotBase:vm.sp], vm.globals)
				}
			}

		case bytecode.OpCall:
			argc := int(readByte())
			callee := vm.peek(argc)
			if !callee.IsFunc() {
				return vm.runtimeError(frame, opIP, "can only call functions, got %s", callee.TypeName())
			}
			fn := callee.AsObj().Fn
			if argc != fn.Arity {
				return vm.runtimeError(frame, opIP, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
			}
			if vm.frameCount >= FramesMax {
				return vm.runtimeError(frame, opIP, "stack overflow")
			}
			if vm.sp+maxLocalsHeadroom > StackMax {
				return vm.runtimeError(frame, opIP, "value stack overflow")
			}
			vm.frames[vm.frameCount] = CallFrame{
				fn:       fn,
				chunk:    fn.Chunk.(*bytecode.Chunk),
				slotBase: vm.sp - argc - 1,
			}
			vm.frameCount++
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpReturn:
			result := vm.pop()
			vm.frameCount--
			if vm.frameCount == 0 {
				return nil
			}
			vm.sp = frame.slotBase
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpMakeArray:
			n := int(readByte())
			elems := make([]value.Value, n)
			copy(elems, vm.stack[vm.sp-n:vm.sp])
			vm.sp -= n
			vm.push(vm.arena.NewArray(elems))
		case bytecode.OpMakeDict:
			n := int(readByte())
			d := vm.arena.NewDict()
			dict := d.AsObj().Dict
			base := vm.sp - n*2
			for i := 0; i < n; i++ {
				dict[vm.stack[base+i*2].AsObj().Str] = vm.stack[base+i*2+1]
			}
			vm.sp = base
			vm.push(d)
		case bytecode.OpIndex:
			idx, container := vm.pop(), vm.pop()
			res, err := vm.index(frame, opIP, container, idx)
			if err != nil {
				return err
			}
			vm.push(res)
		case bytecode.OpSetIndex:
			v, idx, container := vm.pop(), vm.pop(), vm.pop()
			if err := vm.setIndex(frame, opIP, container, idx, v); err != nil {
				return err
			}
		case bytecode.OpRange:
			b, a := vm.pop(), vm.pop()
			if !a.IsInt() || !b.IsInt() {
				return vm.runtimeError(frame, opIP, "range bounds must be ints")
			}
			vm.push(vm.arena.NewRange(a.AsInt(), b.AsInt()))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())
			vm.push(value.Nil)
		case bytecode.OpLen:
			v := vm.pop()
			n, err := vm.length(frame, opIP, v)
			if err != nil {
				return err
			}
			vm.push(value.NewInt(n))
		case bytecode.OpPush:
			v, arr := vm.pop(), vm.pop()
			if !arr.IsArray() {
				return vm.runtimeError(frame, opIP, "push expects an array, got %s", arr.TypeName())
			}
			o := arr.AsObj()
			o.Elems = append(o.Elems, v)
			vm.push(arr)
		case bytecode.OpSqrt:
			v := vm.pop()
			if !v.IsNumeric() {
				return vm.runtimeError(frame, opIP, "sqrt expects a number, got %s", v.TypeName())
			}
			vm.push(value.NewNum(math.Sqrt(v.AsFloat())))
		case bytecode.OpAbs:
			v := vm.pop()
			switch {
			case v.IsInt():
				n := v.AsInt()
				if n < 0 {
					n = -n
				}
				vm.push(value.NewInt(n))
			case v.IsNum():
				vm.push(value.NewNum(math.Abs(v.AsNum())))
			default:
				return vm.runtimeError(frame, opIP, "abs expects a number, got %s", v.TypeName())
			}
		case bytecode.OpClock:
			vm.push(value.NewNum(float64(time.Now().UnixNano()) / 1e9))

		case bytecode.OpIncLocal:
			slot := frame.slotBase + int(readByte())
			v := vm.stack[slot]
			switch {
			case v.IsInt():
				vm.stack[slot] = value.NewInt(v.AsInt() + 1)
			case v.IsNum():
				vm.stack[slot] = value.NewNum(v.AsNum() + 1)
			default:
				return vm.runtimeError(frame, opIP, "cannot increment %s", v.TypeName())
			}
		case bytecode.OpDecLocal:
			slot := frame.slotBase + int(readByte())
			v := vm.stack[slot]
			switch {
			case v.IsInt():
				vm.stack[slot] = value.NewInt(v.AsInt() - 1)
			case v.IsNum():
				vm.stack[slot] = value.NewNum(v.AsNum() - 1)
			default:
				return vm.runtimeError(frame, opIP, "cannot decrement %s", v.TypeName())
			}
		case bytecode.OpAddConstLocal:
			slot := frame.slotBase + int(readByte())
			c := frame.chunk.Constants[readByte()]
			res, err := vm.arith(frame, opIP, bytecode.OpAdd, vm.stack[slot], c)
			if err != nil {
				return err
			}
			vm.stack[slot] = res

		default:
			return vm.runtimeError(frame, opIP, "unknown opcode %d", op)
		}
	}
}

// maxLocalsHeadroom keeps a called frame from running the fixed stack
// off the end; 256 locals plus the deepest expression the compiler can
// reasonably produce.
const maxLocalsHeadroom = 320

func (vm *VM) arith(frame *CallFrame, opIP int, op bytecode.OpCode, a, b value.Value) (value.Value, *lumeerr.LumeError) {
	if a.IsInt() && b.IsInt() {
		x, y := a.AsInt(), b.AsInt()
		switch op {
		case bytecode.OpAdd:
			return value.NewInt(x + y), nil
		case bytecode.OpSub:
			return value.NewInt(x - y), nil
		case bytecode.OpMul:
			return value.NewInt(x * y), nil
		case bytecode.OpDiv:
			if y == 0 {
				return value.Nil, vm.runtimeError(frame, opIP, "division by zero")
			}
			return value.NewInt(x / y), nil
		case bytecode.OpMod:
			if y == 0 {
				return value.Nil, vm.runtimeError(frame, opIP, "modulo by zero")
			}
			return value.NewInt(x % y), nil
		}
	}
	if a.IsNumeric() && b.IsNumeric() {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case bytecode.OpAdd:
			return value.NewNum(x + y), nil
		case bytecode.OpSub:
			return value.NewNum(x - y), nil
		case bytecode.OpMul:
			return value.NewNum(x * y), nil
		case bytecode.OpDiv:
			return value.NewNum(x / y), nil
		case bytecode.OpMod:
			return value.Nil, vm.runtimeError(frame, opIP, "operands to %% must be ints")
		}
	}
	if op == bytecode.OpAdd && a.IsString() && b.IsString() {
		return vm.arena.NewString(a.AsObj().Str + b.AsObj().Str), nil
	}
	return value.Nil, vm.runtimeError(frame, opIP, "cannot apply %s to %s and %s",
		opSymbol(op), a.TypeName(), b.TypeName())
}

func (vm *VM) compare(frame *CallFrame, opIP int, op bytecode.OpCode, a, b value.Value) (value.Value, *lumeerr.LumeError) {
	if a.IsInt() && b.IsInt() {
		x, y := a.AsInt(), b.AsInt()
		switch op {
		case bytecode.OpLess:
			return value.NewBool(x < y), nil
		case bytecode.OpLessEqual:
			return value.NewBool(x <= y), nil
		case bytecode.OpGreater:
			return value.NewBool(x > y), nil
		case bytecode.OpGreaterEqual:
			return value.NewBool(x >= y), nil
		}
	}
	if a.IsNumeric() && b.IsNumeric() {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case bytecode.OpLess:
			return value.NewBool(x < y), nil
		case bytecode.OpLessEqual:
			return value.NewBool(x <= y), nil
		case bytecode.OpGreater:
			return value.NewBool(x > y), nil
		case bytecode.OpGreaterEqual:
			return value.NewBool(x >= y), nil
		}
	}
	if a.IsString() && b.IsString() {
		x, y := a.AsObj().Str, b.AsObj().Str
		switch op {
		case bytecode.OpLess:
			return value.NewBool(x < y), nil
		case bytecode.OpLessEqual:
			return value.NewBool(x <= y), nil
		case bytecode.OpGreater:
			return value.NewBool(x > y), nil
		case bytecode.OpGreaterEqual:
			return value.NewBool(x >= y), nil
		}
	}
	return value.Nil, vm.runtimeError(frame, opIP, "cannot compare %s and %s", a.TypeName(), b.TypeName())
}

func (vm *VM) index(frame *CallFrame, opIP int, container, idx value.Value) (value.Value, *lumeerr.LumeError) {
	switch {
	case container.IsArray():
		if !idx.IsInt() {
			return value.Nil, vm.runtimeError(frame, opIP, "array index must be an int")
		}
		o, i := container.AsObj(), int(idx.AsInt())
		if i < 0 || i >= len(o.Elems) {
			return value.Nil, vm.runtimeError(frame, opIP, "array index %d out of bounds (len %d)", i, len(o.Elems))
		}
		return o.Elems[i], nil
	case container.IsDict():
		if !idx.IsString() {
			return value.Nil, vm.runtimeError(frame, opIP, "dict key must be a string")
		}
		v, ok := container.AsObj().Dict[idx.AsObj().Str]
		if !ok {
			return value.Nil, nil
		}
		return v, nil
	case container.IsRange():
		if !idx.IsInt() {
			return value.Nil, vm.runtimeError(frame, opIP, "range index must be an int")
		}
		o, i := container.AsObj(), idx.AsInt()
		if i < 0 || o.From+i >= o.To {
			return value.Nil, vm.runtimeError(frame, opIP, "range index %d out of bounds", i)
		}
		return value.NewInt(o.From + i), nil
	case container.IsString():
		if !idx.IsInt() {
			return value.Nil, vm.runtimeError(frame, opIP, "string index must be an int")
		}
		s, i := container.AsObj().Str, int(idx.AsInt())
		if i < 0 || i >= len(s) {
			return value.Nil, vm.runtimeError(frame, opIP, "string index %d out of bounds", i)
		}
		return vm.arena.NewString(s[i : i+1]), nil
	}
	return value.Nil, vm.runtimeError(frame, opIP, "%s is not indexable", container.TypeName())
}

func (vm *VM) setIndex(frame *CallFrame, opIP int, container, idx, v value.Value) *lumeerr.LumeError {
	switch {
	case container.IsArray():
		if !idx.IsInt() {
			return vm.runtimeError(frame, opIP, "array index must be an int")
		}
		o, i := container.AsObj(), int(idx.AsInt())
		if i < 0 || i >= len(o.Elems) {
			return vm.runtimeError(frame, opIP, "array index %d out of bounds (len %d)", i, len(o.Elems))
		}
		o.Elems[i] = v
		return nil
	case container.IsDict():
		if !idx.IsString() {
			return vm.runtimeError(frame, opIP, "dict key must be a string")
		}
		container.AsObj().Dict[idx.AsObj().Str] = v
		return nil
	}
	return vm.runtimeError(frame, opIP, "cannot assign into %s", container.TypeName())
}

func (vm *VM) length(frame *CallFrame, opIP int, v value.Value) (int32, *lumeerr.LumeError) {
	switch {
	case v.IsArray():
		return int32(len(v.AsObj().Elems)), nil
	case v.IsString():
		return int32(len(v.AsObj().Str)), nil
	case v.IsDict():
		return int32(len(v.AsObj().Dict)), nil
	case v.IsRange():
		o := v.AsObj()
		if o.To < o.From {
			return 0, nil
		}
		return o.To - o.From, nil
	}
	return 0, vm.runtimeError(frame, opIP, "len expects a container, got %s", v.TypeName())
}

func opSymbol(op bytecode.OpCode) string {
	switch op {
	case bytecode.OpAdd:
		return "+"
	case bytecode.OpSub:
		return "-"
	case bytecode.OpMul:
		return "*"
	case bytecode.OpDiv:
		return "/"
	case bytecode.OpMod:
		return "%"
	}
	return op.String()
}
