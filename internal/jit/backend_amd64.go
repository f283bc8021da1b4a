package jit

import "lume/internal/value"

// x86-64 code generator. Raw encodings: REX prefix assembled from the
// W/R/B bits, ModRM mod=11 for register forms and mod=10 with disp32
// for memory forms (R12 as a base forces a SIB byte).

const (
	rAX = 0
	rCX = 1
	rDX = 2
	rBX = 3
	rSP = 4
	rBP = 5
	rSI = 6
	rDI = 7
	r8  = 8
	r9  = 9
	r10 = 10 // temp
	r11 = 11 // temp
	r12 = 12 // locals base
	r13 = 13 // consts base
	r14 = 14 // globals base
	r15 = 15 // scratch page
)

var intPoolAmd64 = [numIntRegs]int{rAX, rCX, rDX, rBX, rSI, rDI, r8, r9}

const (
	xmmTemp0 = 8
	xmmTemp1 = 9
)

// x86 condition-code nibbles for setcc / jcc
const (
	ccB  = 0x2
	ccAE = 0x3
	ccE  = 0x4
	ccNE = 0x5
	ccA  = 0x7
	ccP  = 0xa
	ccNP = 0xb
	ccL  = 0xc
	ccGE = 0xd
	ccLE = 0xe
	ccG  = 0xf
)

type amd64Backend struct{}

func newBackend() backend { return &amd64Backend{} }

type x86 struct {
	asm
	t        *Trace
	ra       *allocation
	loop     int
	exitL    int
	stubReqs []stubReq
	stubFor  map[int32]int
}

type stubReq struct {
	label int
	snap  int32
}

func (x *x86) rex(w bool, reg, rm int) {
	b := byte(0x40)
	if w {
		b |= 8
	}
	if reg >= 8 {
		b |= 4
	}
	if rm >= 8 {
		b |= 1
	}
	x.bytes(b)
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | reg<<3 | rm }

// mem emits ModRM (+SIB) + disp32 for [base+disp].
func (x *x86) mem(reg, base int, disp int32) {
	x.bytes(modrm(2, byte(reg&7), byte(base&7)))
	if base&7 == 4 {
		x.bytes(0x24)
	}
	x.u32(uint32(disp))
}

func (x *x86) movRegReg(dst, src int) {
	if dst == src {
		return
	}
	x.rex(true, dst, src)
	x.bytes(0x8b, modrm(3, byte(dst&7), byte(src&7)))
}

func (x *x86) movRegImm64(reg int, v uint64) {
	x.rex(true, 0, reg)
	x.bytes(0xb8 + byte(reg&7))
	x.u64(v)
}

// movRegImm32s sign-extends a 32-bit immediate into a 64-bit register.
func (x *x86) movRegImm32s(reg int, v int32) {
	x.rex(true, 0, reg)
	x.bytes(0xc7, modrm(3, 0, byte(reg&7)))
	x.u32(uint32(v))
}

func (x *x86) movRegMem(dst, base int, disp int32) {
	x.rex(true, dst, base)
	x.bytes(0x8b)
	x.mem(dst, base, disp)
}

func (x *x86) movMemReg(base int, disp int32, src int) {
	x.rex(true, src, base)
	x.bytes(0x89)
	x.mem(src, base, disp)
}

func (x *x86) movMemImm32(base int, disp int32, v int32) {
	x.rex(true, 0, base)
	x.bytes(0xc7)
	x.mem(0, base, disp)
	x.u32(uint32(v))
}

func (x *x86) alu(opcode byte, dst, src int) {
	x.rex(true, src, dst)
	x.bytes(opcode, modrm(3, byte(src&7), byte(dst&7)))
}

func (x *x86) addRegReg(dst, src int) { x.alu(0x01, dst, src) }
func (x *x86) subRegReg(dst, src int) { x.alu(0x29, dst, src) }
func (x *x86) andRegReg(dst, src int) { x.alu(0x21, dst, src) }
func (x *x86) orRegReg(dst, src int)  { x.alu(0x09, dst, src) }
func (x *x86) xorRegReg(dst, src int) { x.alu(0x31, dst, src) }
func (x *x86) cmpRegReg(a, b int)     { x.alu(0x39, a, b) }
func (x *x86) testRegReg(a, b int)    { x.alu(0x85, a, b) }

func (x *x86) imulRegReg(dst, src int) {
	x.rex(true, dst, src)
	x.bytes(0x0f, 0xaf, modrm(3, byte(dst&7), byte(src&7)))
}

func (x *x86) cmpRegImm32(reg int, v int32) {
	x.rex(true, 0, reg)
	x.bytes(0x81, modrm(3, 7, byte(reg&7)))
	x.u32(uint32(v))
}

func (x *x86) shrRegImm(reg int, n byte) {
	x.rex(true, 0, reg)
	x.bytes(0xc1, modrm(3, 5, byte(reg&7)), n)
}

func (x *x86) shlRegImm(reg int, n byte) {
	x.rex(true, 0, reg)
	x.bytes(0xc1, modrm(3, 4, byte(reg&7)), n)
}

func (x *x86) andRegImm8(reg int, v byte) {
	x.rex(true, 0, reg)
	x.bytes(0x83, modrm(3, 4, byte(reg&7)), v)
}

func (x *x86) andRegImm32(reg int, v int32) {
	x.rex(true, 0, reg)
	x.bytes(0x81, modrm(3, 4, byte(reg&7)))
	x.u32(uint32(v))
}

// addRegImm8 sign-extends the immediate over the full register.
func (x *x86) addRegImm8(reg int, v byte) {
	x.rex(true, 0, reg)
	x.bytes(0x83, modrm(3, 0, byte(reg&7)), v)
}

// 32-bit forms for wrapping int math; callers re-sign-extend after.
func (x *x86) imulReg32Imm32(dst int, v int32) {
	x.rex(false, dst, dst)
	x.bytes(0x69, modrm(3, byte(dst&7), byte(dst&7)))
	x.u32(uint32(v))
}

func (x *x86) addReg32Imm32(reg int, v int32) {
	x.rex(false, 0, reg)
	x.bytes(0x81, modrm(3, 0, byte(reg&7)))
	x.u32(uint32(v))
}

func (x *x86) negReg(reg int) {
	x.rex(true, 0, reg)
	x.bytes(0xf7, modrm(3, 3, byte(reg&7)))
}

func (x *x86) movsxdRegReg(dst, src int) {
	x.rex(true, dst, src)
	x.bytes(0x63, modrm(3, byte(dst&7), byte(src&7)))
}

func (x *x86) setcc(cc byte, reg int) {
	x.rex(false, 0, reg)
	x.bytes(0x0f, 0x90+cc, modrm(3, 0, byte(reg&7)))
}

func (x *x86) movzxRegReg8(dst, src int) {
	x.rex(true, dst, src)
	x.bytes(0x0f, 0xb6, modrm(3, byte(dst&7), byte(src&7)))
}

// byte-width and/or for combining setcc results
func (x *x86) andReg8(dst, src int) {
	x.rex(false, src, dst)
	x.bytes(0x20, modrm(3, byte(src&7), byte(dst&7)))
}

func (x *x86) orReg8(dst, src int) {
	x.rex(false, src, dst)
	x.bytes(0x08, modrm(3, byte(src&7), byte(dst&7)))
}

func (x *x86) jcc(cc byte, label int) {
	x.bytes(0x0f, 0x80+cc)
	x.addFixup(label, fixRel32)
	x.u32(0)
}

func (x *x86) jmp(label int) {
	x.bytes(0xe9)
	x.addFixup(label, fixRel32)
	x.u32(0)
}

func (x *x86) push(reg int) {
	if reg >= 8 {
		x.bytes(0x41)
	}
	x.bytes(0x50 + byte(reg&7))
}

func (x *x86) popReg(reg int) {
	if reg >= 8 {
		x.bytes(0x41)
	}
	x.bytes(0x58 + byte(reg&7))
}

// ---- SSE ----

func (x *x86) movsdXmmXmm(dst, src int) {
	if dst == src {
		return
	}
	x.bytes(0xf2)
	x.rex(false, dst, src)
	x.bytes(0x0f, 0x10, modrm(3, byte(dst&7), byte(src&7)))
}

func (x *x86) movsdXmmMem(dst, base int, disp int32) {
	x.bytes(0xf2)
	x.rex(false, dst, base)
	x.bytes(0x0f, 0x10)
	x.mem(dst, base, disp)
}

func (x *x86) movsdMemXmm(base int, disp int32, src int) {
	x.bytes(0xf2)
	x.rex(false, src, base)
	x.bytes(0x0f, 0x11)
	x.mem(src, base, disp)
}

func (x *x86) sse2op(opcode byte, dst, src int) {
	x.bytes(0xf2)
	x.rex(false, dst, src)
	x.bytes(0x0f, opcode, modrm(3, byte(dst&7), byte(src&7)))
}

func (x *x86) addsd(dst, src int) { x.sse2op(0x58, dst, src) }
func (x *x86) subsd(dst, src int) { x.sse2op(0x5c, dst, src) }
func (x *x86) mulsd(dst, src int) { x.sse2op(0x59, dst, src) }

func (x *x86) ucomisd(a, b int) {
	x.bytes(0x66)
	x.rex(false, a, b)
	x.bytes(0x0f, 0x2e, modrm(3, byte(a&7), byte(b&7)))
}

func (x *x86) movqXmmReg(xmm, gpr int) {
	x.bytes(0x66)
	x.rex(true, xmm, gpr)
	x.bytes(0x0f, 0x6e, modrm(3, byte(xmm&7), byte(gpr&7)))
}

func (x *x86) movqRegXmm(gpr, xmm int) {
	x.bytes(0x66)
	x.rex(true, xmm, gpr)
	x.bytes(0x0f, 0x7e, modrm(3, byte(xmm&7), byte(gpr&7)))
}

func (x *x86) movqMemXmm(base int, disp int32, xmm int) {
	x.bytes(0x66)
	x.rex(true, xmm, base)
	x.bytes(0x0f, 0x7e)
	x.mem(xmm, base, disp)
}

func (x *x86) cvtsi2sd(xmm, gpr int) {
	x.bytes(0xf2)
	x.rex(true, xmm, gpr)
	x.bytes(0x0f, 0x2a, modrm(3, byte(xmm&7), byte(gpr&7)))
}

// ---- operand plumbing ----

func spillDisp(slot int16) int32 {
	return int32(scrSpills) + int32(slot)*8
}

// intOperand returns a machine register holding ref, loading spilled
// refs into the given temp.
func (x *x86) intOperand(ref int32, temp int) int {
	if r := x.ra.reg[ref]; r >= 0 {
		return intPoolAmd64[r]
	}
	x.movRegMem(temp, r15, spillDisp(x.ra.slot[ref]))
	return temp
}

func (x *x86) fpOperand(ref int32, temp int) int {
	if r := x.ra.reg[ref]; r >= 0 {
		return int(r)
	}
	x.movsdXmmMem(temp, r15, spillDisp(x.ra.slot[ref]))
	return temp
}

// intDest picks the register to compute ref into; finishInt stores it
// back when the ref lives in a spill slot.
func (x *x86) intDest(ref int32) int {
	if r := x.ra.reg[ref]; r >= 0 {
		return intPoolAmd64[r]
	}
	return r10
}

func (x *x86) finishInt(ref int32, reg int) {
	if x.ra.reg[ref] < 0 {
		x.movMemReg(r15, spillDisp(x.ra.slot[ref]), reg)
	}
}

func (x *x86) fpDest(ref int32) int {
	if r := x.ra.reg[ref]; r >= 0 {
		return int(r)
	}
	return xmmTemp0
}

func (x *x86) finishFp(ref int32, reg int) {
	if x.ra.reg[ref] < 0 {
		x.movsdMemXmm(r15, spillDisp(x.ra.slot[ref]), reg)
	}
}

func (x *x86) stubLabel(snap int32) int {
	if l, ok := x.stubFor[snap]; ok {
		return l
	}
	l := x.newLabel()
	x.stubFor[snap] = l
	x.stubReqs = append(x.stubReqs, stubReq{label: l, snap: snap})
	return l
}

// ---- main emission ----

func (b *amd64Backend) emit(t *Trace, ra *allocation, scratchBase uintptr) ([]byte, error) {
	x := &x86{t: t, ra: ra, stubFor: make(map[int32]int)}
	x.loop = x.newLabel()
	x.exitL = x.newLabel()

	// prologue: save callee-saved, pin bases, locate the scratch page
	x.push(rBX)
	x.push(r12)
	x.push(r13)
	x.push(r14)
	x.push(r15)
	x.movRegReg(r12, rDI) // locals
	x.movRegReg(r14, rSI) // globals
	x.movRegReg(r13, rDX) // consts
	x.movRegImm64(r15, uint64(scratchBase))

	x.bind(x.loop)
	for i := range t.instrs {
		if err := x.instr(int32(i), &t.instrs[i]); err != nil {
			return nil, err
		}
	}

	// exit stubs: record which guard fired, then the common exit
	for _, s := range x.stubReqs {
		x.bind(s.label)
		x.movMemImm32(r15, scrSnapIdx, int32(s.snap))
		x.jmp(x.exitL)
	}

	x.bind(x.exitL)
	for k, reg := range intPoolAmd64 {
		x.movMemReg(r15, int32(scrGPDump)+int32(k)*8, reg)
	}
	for k := 0; k < numFPRegs; k++ {
		x.movqMemXmm(r15, int32(scrFPDump)+int32(k)*8, k)
	}
	x.movMemImm32(r15, scrDeoptFlag, 1)
	x.popReg(r15)
	x.popReg(r14)
	x.popReg(r13)
	x.popReg(r12)
	x.popReg(rBX)
	x.bytes(0xc3)

	if err := x.resolve(); err != nil {
		return nil, err
	}
	return x.buf, nil
}

func ccForCond(c Cond) byte {
	switch c {
	case CondEQ:
		return ccE
	case CondNE:
		return ccNE
	case CondLT:
		return ccL
	case CondLE:
		return ccLE
	case CondGT:
		return ccG
	}
	return ccGE
}

func (x *x86) instr(i int32, in *Instr) error {
	switch in.Op {
	case OpNop:

	case OpConstInt:
		dst := x.intDest(i)
		x.movRegImm32s(dst, int32(uint32(in.Imm)))
		x.finishInt(i, dst)

	case OpConstNum:
		x.movRegImm64(r10, in.Imm)
		if r := x.ra.reg[i]; r >= 0 {
			x.movqXmmReg(int(r), r10)
		} else {
			x.movMemReg(r15, spillDisp(x.ra.slot[i]), r10)
		}

	case OpLoadLocalInt, OpLoadGlobalInt:
		base := r12
		if in.Op == OpLoadGlobalInt {
			base = r14
		}
		stub := x.stubLabel(in.AuxB)
		x.movRegMem(r10, base, in.Aux*8)
		x.movRegReg(r11, r10)
		x.shrRegImm(r11, 47)
		x.cmpRegImm32(r11, int32(value.IntBits))
		x.jcc(ccNE, stub)
		dst := x.intDest(i)
		x.movsxdRegReg(dst, r10)
		x.finishInt(i, dst)

	case OpLoadLocalNum, OpLoadGlobalNum:
		base := r12
		if in.Op == OpLoadGlobalNum {
			base = r14
		}
		stub := x.stubLabel(in.AuxB)
		x.movRegMem(r10, base, in.Aux*8)
		x.movRegReg(r11, r10)
		// a double never has all thirteen quiet-NaN bits (50..62) set;
		// mask off the sign so boxed objects cannot slip past either
		x.shrRegImm(r11, 50)
		x.andRegImm32(r11, 0x1fff)
		x.cmpRegImm32(r11, 0x1fff)
		x.jcc(ccE, stub)
		if r := x.ra.reg[i]; r >= 0 {
			x.movqXmmReg(int(r), r10)
		} else {
			x.movMemReg(r15, spillDisp(x.ra.slot[i]), r10)
		}

	case OpLoadLocalBool:
		stub := x.stubLabel(in.AuxB)
		ok := x.newLabel()
		x.movRegMem(r10, r12, in.Aux*8)
		x.movRegImm64(r11, uint64(value.True))
		x.cmpRegReg(r10, r11)
		x.jcc(ccE, ok)
		x.movRegImm64(r11, uint64(value.False))
		x.cmpRegReg(r10, r11)
		x.jcc(ccNE, stub)
		x.bind(ok)
		x.shrRegImm(r10, 47)
		x.andRegImm8(r10, 1)
		dst := x.intDest(i)
		x.movRegReg(dst, r10)
		x.finishInt(i, dst)

	case OpStoreLocalInt, OpStoreGlobalInt:
		base := r12
		if in.Op == OpStoreGlobalInt {
			base = r14
		}
		src := x.intOperand(in.A, r10)
		// zero the upper half, then stamp the int tag on top
		x.rex(false, r10, src)
		x.bytes(0x8b, modrm(3, byte(r10&7), byte(src&7))) // mov r10d, src32
		x.movRegImm64(r11, value.QNaN|4<<47)
		x.orRegReg(r10, r11)
		x.movMemReg(base, in.Aux*8, r10)

	case OpStoreLocalNum, OpStoreGlobalNum:
		base := r12
		if in.Op == OpStoreGlobalNum {
			base = r14
		}
		if r := x.ra.reg[in.A]; r >= 0 {
			x.movqRegXmm(r10, int(r))
		} else {
			x.movRegMem(r10, r15, spillDisp(x.ra.slot[in.A]))
		}
		x.movMemReg(base, in.Aux*8, r10)

	case OpStoreLocalBool:
		src := x.intOperand(in.A, r10)
		x.movRegReg(r10, src)
		x.shlRegImm(r10, 47)
		x.movRegImm64(r11, uint64(value.False))
		x.orRegReg(r10, r11)
		x.movMemReg(r12, in.Aux*8, r10)

	case OpAddInt, OpSubInt, OpMulInt, OpAndInt:
		a := x.intOperand(in.A, r10)
		bReg := x.intOperand(in.B, r11)
		dst := x.intDest(i)
		x.movRegReg(dst, a)
		switch in.Op {
		case OpAddInt:
			x.addRegReg(dst, bReg)
		case OpSubInt:
			x.subRegReg(dst, bReg)
		case OpMulInt:
			x.imulRegReg(dst, bReg)
		case OpAndInt:
			x.andRegReg(dst, bReg)
		}
		// stay a canonical int32: re-sign-extend after wrapping math
		x.movsxdRegReg(dst, dst)
		x.finishInt(i, dst)

	case OpNegInt:
		a := x.intOperand(in.A, r10)
		dst := x.intDest(i)
		x.movRegReg(dst, a)
		x.negReg(dst)
		x.movsxdRegReg(dst, dst)
		x.finishInt(i, dst)

	case OpAddNum, OpSubNum, OpMulNum:
		a := x.fpOperand(in.A, xmmTemp0)
		bReg := x.fpOperand(in.B, xmmTemp1)
		dst := x.fpDest(i)
		x.movsdXmmXmm(dst, a)
		switch in.Op {
		case OpAddNum:
			x.addsd(dst, bReg)
		case OpSubNum:
			x.subsd(dst, bReg)
		default:
			x.mulsd(dst, bReg)
		}
		x.finishFp(i, dst)

	case OpNegNum:
		a := x.fpOperand(in.A, xmmTemp0)
		x.movqRegXmm(r10, a)
		x.movRegImm64(r11, value.Sign)
		x.xorRegReg(r10, r11)
		if r := x.ra.reg[i]; r >= 0 {
			x.movqXmmReg(int(r), r10)
		} else {
			x.movMemReg(r15, spillDisp(x.ra.slot[i]), r10)
		}

	case OpIntToNum:
		a := x.intOperand(in.A, r10)
		dst := x.fpDest(i)
		x.cvtsi2sd(dst, a)
		x.finishFp(i, dst)

	case OpCmpInt:
		a := x.intOperand(in.A, r10)
		bReg := x.intOperand(in.B, r11)
		x.cmpRegReg(a, bReg)
		x.setcc(ccForCond(Cond(in.Aux)), r10)
		dst := x.intDest(i)
		x.movzxRegReg8(dst, r10)
		x.finishInt(i, dst)

	case OpCmpNum:
		a := x.fpOperand(in.A, xmmTemp0)
		bReg := x.fpOperand(in.B, xmmTemp1)
		switch Cond(in.Aux) {
		case CondEQ:
			x.ucomisd(a, bReg)
			x.setcc(ccE, r10)
			x.setcc(ccNP, r11)
			x.andReg8(r10, r11)
		case CondNE:
			x.ucomisd(a, bReg)
			x.setcc(ccNE, r10)
			x.setcc(ccP, r11)
			x.orReg8(r10, r11)
		case CondLT:
			x.ucomisd(bReg, a)
			x.setcc(ccA, r10)
		case CondLE:
			x.ucomisd(bReg, a)
			x.setcc(ccAE, r10)
		case CondGT:
			x.ucomisd(a, bReg)
			x.setcc(ccA, r10)
		case CondGE:
			x.ucomisd(a, bReg)
			x.setcc(ccAE, r10)
		}
		dst := x.intDest(i)
		x.movzxRegReg8(dst, r10)
		x.finishInt(i, dst)

	case OpMulAddLoop:
		// the pattern traces that emit this are small enough that every
		// ref holds a pool register
		if x.ra.reg[i] < 0 || x.ra.reg[in.A] < 0 || x.ra.reg[in.B] < 0 || x.ra.reg[in.Aux] < 0 {
			return abortf("amd64: mul-add loop operand spilled")
		}
		xr := intPoolAmd64[x.ra.reg[in.A]]
		cnt := intPoolAmd64[x.ra.reg[in.B]]
		lim := intPoolAmd64[x.ra.reg[in.Aux]]
		dst := intPoolAmd64[x.ra.reg[i]]
		mul := int32(in.Imm >> 32)
		add := int32(uint32(in.Imm))
		x.movRegReg(dst, xr)
		x.movRegReg(r10, cnt)
		body := x.newLabel()
		x.bind(body)
		x.imulReg32Imm32(dst, mul)
		x.addReg32Imm32(dst, add)
		x.movsxdRegReg(dst, dst)
		x.addRegImm8(r10, 1)
		x.cmpRegReg(r10, lim)
		x.jcc(ccL, body)

	case OpGuardTrue:
		a := x.intOperand(in.A, r10)
		x.testRegReg(a, a)
		x.jcc(ccE, x.stubLabel(in.AuxB))

	case OpGuardFalse:
		a := x.intOperand(in.A, r10)
		x.testRegReg(a, a)
		x.jcc(ccNE, x.stubLabel(in.AuxB))

	case OpLoopBack:
		x.jmp(x.loop)

	case OpExit:
		x.jmp(x.stubLabel(in.AuxB))

	default:
		return abortf("amd64: unhandled IR op %d", in.Op)
	}
	return nil
}
