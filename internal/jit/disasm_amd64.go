package jit

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/arch/x86/x86asm"
)

// dumpCode logs a disassembly of a freshly compiled trace.
func dumpCode(log *zap.Logger, code []byte) {
	var b strings.Builder
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			fmt.Fprintf(&b, "%4x: .byte %#02x\n", off, code[off])
			off++
			continue
		}
		fmt.Fprintf(&b, "%4x: %s\n", off, x86asm.GNUSyntax(inst, uint64(off), nil))
		off += inst.Len
	}
	log.Info("trace code", zap.Int("bytes", len(code)), zap.String("asm", b.String()))
}
