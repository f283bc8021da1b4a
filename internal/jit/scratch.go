package jit

import "unsafe"

// Scratch page layout. One RW page per Context, shared by every trace:
// native code writes the deopt protocol fields and register dumps at
// these fixed offsets, the decoder reads them back. Offsets are baked
// into generated code, so they never change at runtime.
const (
	scrDeoptFlag = 0  // u64, 1 = exit taken
	scrSnapIdx   = 8  // u64, snapshot index of the failing guard
	scrGPDump    = 32 // 16 x u64, indexed by int pool position
	scrFPDump    = 160 // 16 x u64, indexed by float pool position
	scrSpills    = 288 // spill slots, u64 each
	scratchLen   = 4096

	maxSpillSlots = (scratchLen - scrSpills) / 8
)

// scratch wraps the RW page.
type scratch struct {
	mem []byte
}

func (s *scratch) base() uintptr {
	return uintptr(unsafe.Pointer(&s.mem[0]))
}

func (s *scratch) u64(off int) uint64 {
	return *(*uint64)(unsafe.Pointer(&s.mem[off]))
}

func (s *scratch) setU64(off int, v uint64) {
	*(*uint64)(unsafe.Pointer(&s.mem[off])) = v
}

func (s *scratch) deoptPending() bool { return s.u64(scrDeoptFlag) != 0 }
func (s *scratch) clearDeopt()        { s.setU64(scrDeoptFlag, 0) }
func (s *scratch) snapIndex() int     { return int(s.u64(scrSnapIdx)) }

func (s *scratch) gpReg(poolIdx int) uint64 {
	return s.u64(scrGPDump + poolIdx*8)
}

func (s *scratch) fpReg(poolIdx int) uint64 {
	return s.u64(scrFPDump + poolIdx*8)
}

func (s *scratch) spill(slot int) uint64 {
	return s.u64(scrSpills + slot*8)
}
