//go:build !amd64

package jit

import (
	"encoding/hex"

	"go.uber.org/zap"
)

// No disassembler wired for this architecture; dump raw words instead.
func dumpCode(log *zap.Logger, code []byte) {
	log.Info("trace code", zap.Int("bytes", len(code)),
		zap.String("hex", hex.EncodeToString(code)))
}
