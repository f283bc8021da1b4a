package jit

// Linear scan over the flat trace. One backward-derived last-use table,
// one forward pass. A ref keeps its register until its last use passes;
// when a pool runs dry the ref with the furthest last use is demoted to
// a spill slot in the scratch page for its whole lifetime: its defining
// instruction writes the slot and every use reads it back through the
// per-arch scratch registers. Whole-range demotion keeps the generated
// code free of position-dependent moves.

const (
	numIntRegs = 8
	numFPRegs  = 8
)

type allocation struct {
	reg    []int8  // pool index per ref, -1 = slot-resident or none
	slot   []int16 // spill slot per ref, -1 = none
	nSlots int
}

func allocate(instrs []Instr, snapshots []Snapshot) (*allocation, error) {
	n := len(instrs)
	lastUse := make([]int32, n)
	for i := range lastUse {
		lastUse[i] = -1
	}
	use := func(ref int32, at int32) {
		if ref >= 0 && lastUse[ref] < at {
			lastUse[ref] = at
		}
	}
	for i := 0; i < n; i++ {
		in := &instrs[i]
		use(in.A, int32(i))
		use(in.B, int32(i))
		if in.Op == OpMulAddLoop {
			use(in.Aux, int32(i)) // limit ref
		}
		// a guard's snapshot reads its entries' refs at deopt time
		if in.IsGuard() && in.AuxB >= 0 {
			for _, e := range snapshots[in.AuxB].Entries {
				use(e.Ref, int32(i))
			}
		}
	}

	a := &allocation{
		reg:  make([]int8, n),
		slot: make([]int16, n),
	}
	for i := range a.reg {
		a.reg[i], a.slot[i] = -1, -1
	}

	var intHeld, fpHeld [numIntRegs]int32
	for i := range intHeld {
		intHeld[i], fpHeld[i] = -1, -1
	}

	newSlot := func() (int16, error) {
		if a.nSlots >= maxSpillSlots {
			return 0, abortf("out of spill slots")
		}
		s := int16(a.nSlots)
		a.nSlots++
		return s, nil
	}

	assign := func(ref int32, float bool) error {
		held := &intHeld
		if float {
			held = &fpHeld
		}
		// expire dead holders
		for r := range held {
			if h := held[r]; h >= 0 && lastUse[h] < ref {
				held[r] = -1
			}
		}
		for r := range held {
			if held[r] == -1 {
				held[r] = ref
				a.reg[ref] = int8(r)
				return nil
			}
		}
		// demote the holder whose last use is furthest away; if that is
		// the new ref itself, it lives in a slot from the start
		victim, victimReg := ref, -1
		for r := range held {
			if lastUse[held[r]] > lastUse[victim] {
				victim, victimReg = held[r], r
			}
		}
		s, err := newSlot()
		if err != nil {
			return err
		}
		if victim == ref {
			a.slot[ref] = s
			return nil
		}
		a.slot[victim] = s
		a.reg[victim] = -1
		held[victimReg] = ref
		a.reg[ref] = int8(victimReg)
		return nil
	}

	for i := 0; i < n; i++ {
		in := &instrs[i]
		if !in.producesValue() {
			continue
		}
		if err := assign(int32(i), in.isFloat()); err != nil {
			return nil, err
		}
	}
	return a, nil
}
