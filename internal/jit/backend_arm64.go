package jit

import "lume/internal/value"

// ARM64 code generator. Fixed 32-bit instruction words built by hand;
// branch displacements go through the asm fixup table (imm26 for b,
// imm19 for b.cond / cbz / cbnz).

const (
	a64SP  = 31
	a64XZR = 31

	a64Tmp0 = 11 // x11
	a64Tmp1 = 12 // x12

	a64Locals  = 19 // x19
	a64Consts  = 20 // x20
	a64Globals = 21 // x21
	a64Scratch = 22 // x22

	fpTmp0 = 16 // d16
	fpTmp1 = 17 // d17
)

var intPoolArm64 = [numIntRegs]int{3, 4, 5, 6, 7, 8, 9, 10}

// arm64 condition codes
const (
	condEQa = 0
	condNEa = 1
	condMIa = 4
	condLSa = 9
	condGEa = 10
	condLTa = 11
	condGTa = 12
	condLEa = 13
)

type arm64Backend struct{}

func newBackend() backend { return &arm64Backend{} }

type a64 struct {
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

func (a *a64) ins(w uint32) { a.u32(w) }

func (a *a64) movz(rd int, imm uint16, hw uint) {
	a.ins(0xd2800000 | uint32(hw)<<21 | uint32(imm)<<5 | uint32(rd))
}

func (a *a64) movk(rd int, imm uint16, hw uint) {
	a.ins(0xf2800000 | uint32(hw)<<21 | uint32(imm)<<5 | uint32(rd))
}

func (a *a64) loadImm64(rd int, v uint64) {
	a.movz(rd, uint16(v), 0)
	for hw := uint(1); hw < 4; hw++ {
		if chunk := uint16(v >> (16 * hw)); chunk != 0 {
			a.movk(rd, chunk, hw)
		}
	}
}

func (a *a64) movReg(rd, rm int) {
	if rd == rm {
		return
	}
	a.ins(0xaa0003e0 | uint32(rm)<<16 | uint32(rd))
}

// movReg32 zeroes the upper 32 bits of rd.
func (a *a64) movReg32(rd, rm int) {
	a.ins(0x2a0003e0 | uint32(rm)<<16 | uint32(rd))
}

func (a *a64) ldrX(rt, rn int, off int32) {
	a.ins(0xf9400000 | uint32(off/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

func (a *a64) strX(rt, rn int, off int32) {
	a.ins(0xf9000000 | uint32(off/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

func (a *a64) ldrD(dt, rn int, off int32) {
	a.ins(0xfd400000 | uint32(off/8)<<10 | uint32(rn)<<5 | uint32(dt))
}

func (a *a64) strD(dt, rn int, off int32) {
	a.ins(0xfd000000 | uint32(off/8)<<10 | uint32(rn)<<5 | uint32(dt))
}

func (a *a64) addReg(rd, rn, rm int) {
	a.ins(0x8b000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) subReg(rd, rn, rm int) {
	a.ins(0xcb000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) mulReg(rd, rn, rm int) {
	a.ins(0x9b007c00 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

// maddReg: rd = ra + rn*rm
func (a *a64) maddReg(rd, rn, rm, racc int) {
	a.ins(0x9b000000 | uint32(rm)<<16 | uint32(racc)<<10 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) addImm(rd, rn int, imm uint32) {
	a.ins(0x91000000 | imm<<10 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) andReg(rd, rn, rm int) {
	a.ins(0x8a000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) orrReg(rd, rn, rm int) {
	a.ins(0xaa000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) eorReg(rd, rn, rm int) {
	a.ins(0xca000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) negReg(rd, rm int) {
	a.subReg(rd, a64XZR, rm)
}

func (a *a64) cmpReg(rn, rm int) {
	a.ins(0xeb00001f | uint32(rm)<<16 | uint32(rn)<<5)
}

func (a *a64) lsrImm(rd, rn int, sh uint) {
	a.ins(0xd3400000 | uint32(sh)<<16 | 63<<10 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) lslImm(rd, rn int, sh uint) {
	immr := (64 - sh) % 64
	imms := 63 - sh
	a.ins(0xd3400000 | uint32(immr)<<16 | uint32(imms)<<10 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) sxtw(rd, rn int) {
	a.ins(0x93407c00 | uint32(rn)<<5 | uint32(rd))
}

// logical immediates, encoded as (immr, imms) over a 64-bit element
func (a *a64) eorImm(rd, rn int, immr, imms uint32) {
	a.ins(0xd2400000 | immr<<16 | imms<<10 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) andImm(rd, rn int, immr, imms uint32) {
	a.ins(0x92400000 | immr<<16 | imms<<10 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64) tstImm(rn int, immr, imms uint32) {
	a.ins(0xf2400000 | immr<<16 | imms<<10 | uint32(rn)<<5 | a64XZR)
}

func (a *a64) cset(rd int, cond uint32) {
	a.ins(0x9a9f07e0 | (cond^1)<<12 | uint32(rd))
}

func (a *a64) fmovDX(dd, rn int) {
	a.ins(0x9e670000 | uint32(rn)<<5 | uint32(dd))
}

func (a *a64) fmovXD(rd, dn int) {
	a.ins(0x9e660000 | uint32(dn)<<5 | uint32(rd))
}

func (a *a64) fmovDD(dd, dn int) {
	if dd == dn {
		return
	}
	a.ins(0x1e604000 | uint32(dn)<<5 | uint32(dd))
}

func (a *a64) faddD(dd, dn, dm int) {
	a.ins(0x1e602800 | uint32(dm)<<16 | uint32(dn)<<5 | uint32(dd))
}

func (a *a64) fsubD(dd, dn, dm int) {
	a.ins(0x1e603800 | uint32(dm)<<16 | uint32(dn)<<5 | uint32(dd))
}

func (a *a64) fmulD(dd, dn, dm int) {
	a.ins(0x1e600800 | uint32(dm)<<16 | uint32(dn)<<5 | uint32(dd))
}

func (a *a64) fnegD(dd, dn int) {
	a.ins(0x1e614000 | uint32(dn)<<5 | uint32(dd))
}

func (a *a64) scvtfD(dd, rn int) {
	a.ins(0x9e620000 | uint32(rn)<<5 | uint32(dd))
}

func (a *a64) fcmpD(dn, dm int) {
	a.ins(0x1e602000 | uint32(dm)<<16 | uint32(dn)<<5)
}

func (a *a64) b(label int) {
	a.addFixup(label, fixB26)
	a.ins(0x14000000)
}

func (a *a64) bCond(cond uint32, label int) {
	a.addFixup(label, fixB19)
	a.ins(0x54000000 | cond)
}

func (a *a64) cbz(rt, label int) {
	a.addFixup(label, fixB19)
	a.ins(0xb4000000 | uint32(rt))
}

func (a *a64) cbnz(rt, label int) {
	a.addFixup(label, fixB19)
	a.ins(0xb5000000 | uint32(rt))
}

func (a *a64) ret() { a.ins(0xd65f03c0) }

// ---- operand plumbing ----

func (a *a64) intOperand(ref int32, temp int) int {
	if r := a.ra.reg[ref]; r >= 0 {
		return intPoolArm64[r]
	}
	a.ldrX(temp, a64Scratch, spillDispA64(a.ra.slot[ref]))
	return temp
}

func (a *a64) fpOperand(ref int32, temp int) int {
	if r := a.ra.reg[ref]; r >= 0 {
		return int(r)
	}
	a.ldrD(temp, a64Scratch, spillDispA64(a.ra.slot[ref]))
	return temp
}

func (a *a64) intDest(ref int32) int {
	if r := a.ra.reg[ref]; r >= 0 {
		return intPoolArm64[r]
	}
	return a64Tmp0
}

func (a *a64) finishInt(ref int32, reg int) {
	if a.ra.reg[ref] < 0 {
		a.strX(reg, a64Scratch, spillDispA64(a.ra.slot[ref]))
	}
}

func (a *a64) fpDest(ref int32) int {
	if r := a.ra.reg[ref]; r >= 0 {
		return int(r)
	}
	return fpTmp0
}

func (a *a64) finishFp(ref int32, reg int) {
	if a.ra.reg[ref] < 0 {
		a.strD(reg, a64Scratch, spillDispA64(a.ra.slot[ref]))
	}
}

func spillDispA64(slot int16) int32 {
	return int32(scrSpills) + int32(slot)*8
}

func (a *a64) stubLabel(snap int32) int {
	if l, ok := a.stubFor[snap]; ok {
		return l
	}
	l := a.newLabel()
	a.stubFor[snap] = l
	a.stubReqs = append(a.stubReqs, stubReq{label: l, snap: snap})
	return l
}

func a64Cond(c Cond) uint32 {
	switch c {
	case CondEQ:
		return condEQa
	case CondNE:
		return condNEa
	case CondLT:
		return condLTa
	case CondLE:
		return condLEa
	case CondGT:
		return condGTa
	}
	return condGEa
}

// ---- main emission ----

func (b *arm64Backend) emit(t *Trace, ra *allocation, scratchBase uintptr) ([]byte, error) {
	a := &a64{t: t, ra: ra, stubFor: make(map[int32]int)}
	a.loop = a.newLabel()
	a.exitL = a.newLabel()

	// prologue: save x19-x22, pin bases, locate the scratch page
	a.ins(0xa9800000 | 0x7c<<15 | 20<<10 | a64SP<<5 | 19) // stp x19,x20,[sp,#-32]!
	a.ins(0xa9000000 | 2<<15 | 22<<10 | a64SP<<5 | 21)                 // stp x21,x22,[sp,#16]
	a.movReg(a64Locals, 0)
	a.movReg(a64Globals, 1)
	a.movReg(a64Consts, 2)
	a.loadImm64(a64Scratch, uint64(scratchBase))

	a.bind(a.loop)
	for i := range t.instrs {
		if err := a.instr(int32(i), &t.instrs[i]); err != nil {
			return nil, err
		}
	}

	for _, s := range a.stubReqs {
		a.bind(s.label)
		a.movz(a64Tmp0, uint16(s.snap), 0)
		a.strX(a64Tmp0, a64Scratch, scrSnapIdx)
		a.b(a.exitL)
	}

	a.bind(a.exitL)
	for k, reg := range intPoolArm64 {
		a.strX(reg, a64Scratch, int32(scrGPDump)+int32(k)*8)
	}
	for k := 0; k < numFPRegs; k++ {
		a.strD(k, a64Scratch, int32(scrFPDump)+int32(k)*8)
	}
	a.movz(a64Tmp0, 1, 0)
	a.strX(a64Tmp0, a64Scratch, scrDeoptFlag)
	a.ins(0xa9400000 | 2<<15 | 22<<10 | a64SP<<5 | 21)                 // ldp x21,x22,[sp,#16]
	a.ins(0xa8c00000 | 4<<15 | 20<<10 | a64SP<<5 | 19) // ldp x19,x20,[sp],#32
	a.ret()

	if err := a.resolve(); err != nil {
		return nil, err
	}
	return a.buf, nil
}

func (a *a64) instr(i int32, in *Instr) error {
	switch in.Op {
	case OpNop:

	case OpConstInt:
		dst := a.intDest(i)
		v := int64(int32(uint32(in.Imm)))
		a.loadImm64(dst, uint64(v))
		a.finishInt(i, dst)

	case OpConstNum:
		a.loadImm64(a64Tmp0, in.Imm)
		if r := a.ra.reg[i]; r >= 0 {
			a.fmovDX(int(r), a64Tmp0)
		} else {
			a.strX(a64Tmp0, a64Scratch, spillDispA64(a.ra.slot[i]))
		}

	case OpLoadLocalInt, OpLoadGlobalInt:
		base := a64Locals
		if in.Op == OpLoadGlobalInt {
			base = a64Globals
		}
		stub := a.stubLabel(in.AuxB)
		a.ldrX(a64Tmp0, base, in.Aux*8)
		a.lsrImm(a64Tmp1, a64Tmp0, 47)
		// 0xfffc is 14 ones at bits 2..15: eor against it leaves zero on match
		a.eorImm(a64Tmp1, a64Tmp1, 62, 13)
		a.cbnz(a64Tmp1, stub)
		dst := a.intDest(i)
		a.sxtw(dst, a64Tmp0)
		a.finishInt(i, dst)

	case OpLoadLocalNum, OpLoadGlobalNum:
		base := a64Locals
		if in.Op == OpLoadGlobalNum {
			base = a64Globals
		}
		stub := a.stubLabel(in.AuxB)
		a.ldrX(a64Tmp0, base, in.Aux*8)
		// all quiet-NaN bits set means not a double: bits 50..62
		a.andImm(a64Tmp1, a64Tmp0, 14, 12)
		a.eorImm(a64Tmp1, a64Tmp1, 14, 12)
		a.cbz(a64Tmp1, stub)
		if r := a.ra.reg[i]; r >= 0 {
			a.fmovDX(int(r), a64Tmp0)
		} else {
			a.strX(a64Tmp0, a64Scratch, spillDispA64(a.ra.slot[i]))
		}

	case OpLoadLocalBool:
		stub := a.stubLabel(in.AuxB)
		a.ldrX(a64Tmp0, a64Locals, in.Aux*8)
		a.loadImm64(a64Tmp1, uint64(value.False))
		a.eorReg(a64Tmp1, a64Tmp0, a64Tmp1)
		// residue must be 0 (false) or exactly bit 47 (true)
		a.tstImm(a64Tmp1, 16, 62)
		a.bCond(condNEa, stub)
		dst := a.intDest(i)
		a.lsrImm(dst, a64Tmp1, 47)
		a.finishInt(i, dst)

	case OpStoreLocalInt, OpStoreGlobalInt:
		base := a64Locals
		if in.Op == OpStoreGlobalInt {
			base = a64Globals
		}
		src := a.intOperand(in.A, a64Tmp0)
		a.movReg32(a64Tmp0, src)
		a.loadImm64(a64Tmp1, value.QNaN|4<<47)
		a.orrReg(a64Tmp0, a64Tmp0, a64Tmp1)
		a.strX(a64Tmp0, base, in.Aux*8)

	case OpStoreLocalNum, OpStoreGlobalNum:
		base := a64Locals
		if in.Op == OpStoreGlobalNum {
			base = a64Globals
		}
		if r := a.ra.reg[in.A]; r >= 0 {
			a.fmovXD(a64Tmp0, int(r))
		} else {
			a.ldrX(a64Tmp0, a64Scratch, spillDispA64(a.ra.slot[in.A]))
		}
		a.strX(a64Tmp0, base, in.Aux*8)

	case OpStoreLocalBool:
		src := a.intOperand(in.A, a64Tmp0)
		a.lslImm(a64Tmp0, src, 47)
		a.loadImm64(a64Tmp1, uint64(value.False))
		a.orrReg(a64Tmp0, a64Tmp0, a64Tmp1)
		a.strX(a64Tmp0, a64Locals, in.Aux*8)

	case OpAddInt, OpSubInt, OpMulInt, OpAndInt:
		an := a.intOperand(in.A, a64Tmp0)
		bn := a.intOperand(in.B, a64Tmp1)
		dst := a.intDest(i)
		switch in.Op {
		case OpAddInt:
			a.addReg(dst, an, bn)
		case OpSubInt:
			a.subReg(dst, an, bn)
		case OpMulInt:
			a.mulReg(dst, an, bn)
		case OpAndInt:
			a.andReg(dst, an, bn)
		}
		// stay a canonical int32: re-sign-extend after wrapping math
		a.sxtw(dst, dst)
		a.finishInt(i, dst)

	case OpNegInt:
		an := a.intOperand(in.A, a64Tmp0)
		dst := a.intDest(i)
		a.negReg(dst, an)
		a.sxtw(dst, dst)
		a.finishInt(i, dst)

	case OpAddNum, OpSubNum, OpMulNum:
		an := a.fpOperand(in.A, fpTmp0)
		bn := a.fpOperand(in.B, fpTmp1)
		dst := a.fpDest(i)
		switch in.Op {
		case OpAddNum:
			a.faddD(dst, an, bn)
		case OpSubNum:
			a.fsubD(dst, an, bn)
		default:
			a.fmulD(dst, an, bn)
		}
		a.finishFp(i, dst)

	case OpNegNum:
		an := a.fpOperand(in.A, fpTmp0)
		dst := a.fpDest(i)
		a.fnegD(dst, an)
		a.finishFp(i, dst)

	case OpIntToNum:
		an := a.intOperand(in.A, a64Tmp0)
		dst := a.fpDest(i)
		a.scvtfD(dst, an)
		a.finishFp(i, dst)

	case OpCmpInt:
		an := a.intOperand(in.A, a64Tmp0)
		bn := a.intOperand(in.B, a64Tmp1)
		a.cmpReg(an, bn)
		dst := a.intDest(i)
		a.cset(dst, a64Cond(Cond(in.Aux)))
		a.finishInt(i, dst)

	case OpCmpNum:
		an := a.fpOperand(in.A, fpTmp0)
		bn := a.fpOperand(in.B, fpTmp1)
		a.fcmpD(an, bn)
		var cc uint32
		switch Cond(in.Aux) {
		case CondEQ:
			cc = condEQa
		case CondNE:
			cc = condNEa
		case CondLT:
			cc = condMIa
		case CondLE:
			cc = condLSa
		case CondGT:
			cc = condGTa
		default:
			cc = condGEa
		}
		dst := a.intDest(i)
		a.cset(dst, cc)
		a.finishInt(i, dst)

	case OpMulAddLoop:
		// the pattern traces that emit this are small enough that every
		// ref holds a pool register
		if a.ra.reg[i] < 0 || a.ra.reg[in.A] < 0 || a.ra.reg[in.B] < 0 || a.ra.reg[in.Aux] < 0 {
			return abortf("arm64: mul-add loop operand spilled")
		}
		xr := intPoolArm64[a.ra.reg[in.A]]
		cnt := intPoolArm64[a.ra.reg[in.B]]
		lim := intPoolArm64[a.ra.reg[in.Aux]]
		dst := intPoolArm64[a.ra.reg[i]]
		a.movReg(dst, xr)
		a.movReg(a64Tmp0, cnt)
		a.loadImm64(a64Tmp1, uint64(uint32(in.Imm>>32)))
		// x's register is free once copied into dst; reuse it for the addend
		a.loadImm64(xr, uint64(uint32(in.Imm)))
		body := a.newLabel()
		a.bind(body)
		a.maddReg(dst, dst, a64Tmp1, xr)
		a.sxtw(dst, dst)
		a.addImm(a64Tmp0, a64Tmp0, 1)
		a.cmpReg(a64Tmp0, lim)
		a.bCond(condLTa, body)

	case OpGuardTrue:
		an := a.intOperand(in.A, a64Tmp0)
		a.cbz(an, a.stubLabel(in.AuxB))

	case OpGuardFalse:
		an := a.intOperand(in.A, a64Tmp0)
		a.cbnz(an, a.stubLabel(in.AuxB))

	case OpLoopBack:
		a.b(a.loop)

	case OpExit:
		a.b(a.stubLabel(in.AuxB))

	default:
		return abortf("arm64: unhandled IR op %d", in.Op)
	}
	return nil
}
