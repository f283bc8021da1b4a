package jit

// backend turns allocated IR into machine code for the host. Register
// conventions per arch:
//
//	amd64: RDI/RSI/RDX arrive as locals/globals/consts and are pinned
//	into R12 (locals), R14 (globals), R13 (consts); R15 holds the
//	scratch page. Pool: RAX CX DX BX SI DI R8 R9; temps R10 R11;
//	floats XMM0-7 with XMM8/9 as temps.
//
//	arm64: X0-X2 arrive and are pinned into X19 (locals), X21
//	(globals), X20 (consts); X22 holds the scratch page. Pool:
//	X3-X10; temps X11 X12; floats D0-D7 with D16/17 as temps.
type backend interface {
	emit(t *Trace, a *allocation, scratchBase uintptr) ([]byte, error)
}

// asm is a little machine-code writer with deferred branch resolution:
// forward branches emit placeholders recorded as fixups and are patched
// once the label binds.
type asm struct {
	buf    []byte
	labels []int
	fixups []fixup
}

type fixup struct {
	at    int // offset of the displacement field
	label int
	kind  fixupKind
}

type fixupKind uint8

const (
	fixRel32 fixupKind = iota // amd64: rel32 from end of field
	fixB26                    // arm64: imm26 branch
	fixB19                    // arm64: imm19 conditional branch
)

func (a *asm) bytes(bs ...byte) {
	a.buf = append(a.buf, bs...)
}

func (a *asm) u32(v uint32) {
	a.buf = append(a.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *asm) u64(v uint64) {
	a.u32(uint32(v))
	a.u32(uint32(v >> 32))
}

func (a *asm) newLabel() int {
	a.labels = append(a.labels, -1)
	return len(a.labels) - 1
}

func (a *asm) bind(label int) {
	a.labels[label] = len(a.buf)
}

func (a *asm) addFixup(label int, kind fixupKind) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), label: label, kind: kind})
}

// resolve patches every recorded fixup; all labels must be bound.
func (a *asm) resolve() error {
	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target < 0 {
			return abortf("unbound label %d", f.label)
		}
		switch f.kind {
		case fixRel32:
			rel := int32(target - (f.at + 4))
			a.buf[f.at] = byte(rel)
			a.buf[f.at+1] = byte(rel >> 8)
			a.buf[f.at+2] = byte(rel >> 16)
			a.buf[f.at+3] = byte(rel >> 24)
		case fixB26:
			rel := int32(target-f.at) >> 2
			ins := uint32(a.buf[f.at]) | uint32(a.buf[f.at+1])<<8 |
				uint32(a.buf[f.at+2])<<16 | uint32(a.buf[f.at+3])<<24
			ins |= uint32(rel) & 0x03ffffff
			a.buf[f.at] = byte(ins)
			a.buf[f.at+1] = byte(ins >> 8)
			a.buf[f.at+2] = byte(ins >> 16)
			a.buf[f.at+3] = byte(ins >> 24)
		case fixB19:
			rel := int32(target-f.at) >> 2
			ins := uint32(a.buf[f.at]) | uint32(a.buf[f.at+1])<<8 |
				uint32(a.buf[f.at+2])<<16 | uint32(a.buf[f.at+3])<<24
			ins |= (uint32(rel) & 0x7ffff) << 5
			a.buf[f.at] = byte(ins)
			a.buf[f.at+1] = byte(ins >> 8)
			a.buf[f.at+2] = byte(ins >> 16)
			a.buf[f.at+3] = byte(ins >> 24)
		}
	}
	return nil
}
