package jit

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
	"go.uber.org/zap"

	"lume/internal/bytecode"
	"lume/internal/value"
)

// DefaultThreshold is how many back-edge visits make a loop hot.
const DefaultThreshold = 50

// GlobalResolver is what the recorder needs from the interpreter's
// global table: stable slots and a stable base address for native code.
type GlobalResolver interface {
	SlotFor(name *value.Obj) int
	ValueAt(slot int) value.Value
	BasePtr() unsafe.Pointer
}

type Config struct {
	Enabled   bool
	Threshold int
	Debug     bool // structured compile/deopt logging
	Dump      bool // disassemble compiled traces
}

// ConfigFromEnv reads LUME_JIT, LUME_JIT_THRESHOLD, LUME_JIT_DEBUG and
// LUME_JIT_DUMP. The JIT is on unless explicitly switched off.
func ConfigFromEnv() Config {
	enabled := true
	switch env.Str("LUME_JIT", "on") {
	case "0", "off", "false", "no":
		enabled = false
	}
	return Config{
		Enabled:   enabled,
		Threshold: env.Int("LUME_JIT_THRESHOLD", DefaultThreshold),
		Debug:     env.Bool("LUME_JIT_DEBUG"),
		Dump:      env.Bool("LUME_JIT_DUMP"),
	}
}

// Context owns the hot-loop table, the compiled traces and the scratch
// page. One per VM; not safe for concurrent use, same as the VM itself.
type Context struct {
	cfg     Config
	enabled bool
	hot     hotTable
	traces  []*Trace
	scr     *scratch
	back    backend
	log     *zap.Logger
	stats   Stats

	last *Trace // trace whose deopt state sits in the scratch page
}

// New builds a Context. When the host has no code generator, executable
// pages are unavailable or the config disables it, the Context stays
// inert and the interpreter runs everything.
func New(cfg Config) *Context {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	c := &Context{cfg: cfg, back: newBackend(), log: zap.NewNop()}
	c.hot.threshold = uint32(cfg.Threshold)
	if cfg.Debug {
		if l, err := zap.NewDevelopment(); err == nil {
			c.log = l
		}
	}
	if !cfg.Enabled || c.back == nil || !execMemSupported {
		return c
	}
	mem, err := mapRW(scratchLen)
	if err != nil {
		c.log.Warn("scratch page unavailable, running interpreted", zap.Error(err))
		return c
	}
	c.scr = &scratch{mem: mem}
	c.enabled = true
	return c
}

func (c *Context) Enabled() bool { return c.enabled }

// Cleanup releases every executable mapping and the scratch page.
func (c *Context) Cleanup() {
	for _, t := range c.traces {
		if t.code != nil {
			_ = unmap(t.code)
			t.code, t.entry = nil, 0
		}
	}
	c.traces = nil
	if c.scr != nil {
		_ = unmap(c.scr.mem)
		c.scr = nil
	}
	c.enabled = false
	_ = c.log.Sync()
}

// CheckHotLoop returns the compiled trace index for this loop header, or
// -1 when there is none.
func (c *Context) CheckHotLoop(key uintptr) int {
	return c.hot.compiled(key)
}

// CountLoop bumps the back-edge counter and reports whether the loop
// just became hot.
func (c *Context) CountLoop(key uintptr) bool {
	return c.hot.count(key)
}

// Compile records and compiles the loop at header. Failure of any stage
// marks the loop uncompilable; the interpreter keeps running it and the
// caller never sees an error.
func (c *Context) Compile(chunk *bytecode.Chunk, header int, locals []value.Value, globals GlobalResolver) {
	key := LoopKey(chunk, header)
	if len(c.traces) >= maxTraces {
		c.hot.markUncompilable(key)
		return
	}
	t := &Trace{chunk: chunk, header: header, key: key}
	if err := c.build(t, locals, globals); err != nil {
		c.stats.Failed++
		c.hot.markUncompilable(key)
		c.log.Debug("trace rejected",
			zap.Int("header", header), zap.Error(err))
		return
	}
	c.traces = append(c.traces, t)
	c.hot.markCompiled(key, len(c.traces)-1)
	c.stats.Compiled++
	c.log.Debug("trace compiled",
		zap.Int("header", header),
		zap.Int("instrs", len(t.instrs)),
		zap.Int("codeBytes", len(t.code)))
}

func (c *Context) build(t *Trace, locals []value.Value, globals GlobalResolver) error {
	r := newRecorder(t, locals, globals)
	if err := r.findLoopEnd(); err != nil {
		return err
	}
	if !tryPatterns(t, r.loopEnd, locals) {
		if err := r.record(); err != nil {
			return err
		}
	}
	fold(t.instrs, t.snapshotRoots())

	alloc, err := allocate(t.instrs, t.snapshots)
	if err != nil {
		return err
	}
	t.alloc = alloc

	code, err := c.back.emit(t, alloc, c.scr.base())
	if err != nil {
		return err
	}
	mem, err := mapRW(len(code))
	if err != nil {
		return errors.Wrap(err, "map trace code")
	}
	copy(mem, code)
	if err := sealExecutable(mem); err != nil {
		_ = unmap(mem)
		return errors.Wrap(err, "seal trace code")
	}
	t.code = mem
	t.entry = uintptr(unsafe.Pointer(&mem[0]))
	t.globalsBase = globals.BasePtr()
	if len(t.chunk.Constants) > 0 {
		t.constsBase = unsafe.Pointer(&t.chunk.Constants[0])
	}
	t.valid = true
	if c.cfg.Dump {
		dumpCode(c.log, mem)
	}
	return nil
}

// Execute runs a compiled trace against the frame's locals and reports
// how it left: 0 for the ordinary loop-condition exit, -1 for a side
// exit (or an invalidated trace). Either way the trace returns through
// its deopt protocol and PendingDeopt picks up the resume state.
func (c *Context) Execute(idx int, locals unsafe.Pointer) int {
	t := c.traces[idx]
	if !t.valid {
		return -1
	}
	c.scr.clearDeopt()
	t.runs++
	c.stats.Executions++
	enterTrace(t.entry, locals, t.globalsBase, t.constsBase)
	c.last = t
	if c.scr.deoptPending() && !t.snapshots[c.scr.snapIndex()].LoopExit {
		return -1
	}
	return 0
}

// PendingDeopt rebuilds interpreter locals from the last trace exit and
// returns the bytecode offset to resume at. Speculation failures count
// against the trace; too many and it is dropped for good.
func (c *Context) PendingDeopt(locals []value.Value) (int, bool) {
	t := c.last
	if t == nil || c.scr == nil || !c.scr.deoptPending() {
		return 0, false
	}
	c.last = nil
	pc, loopExit := t.applyDeopt(c.scr, locals)
	c.scr.clearDeopt()
	if !loopExit {
		t.sideExits++
		c.stats.SideExits++
		if t.sideExits >= maxGuardFails {
			c.invalidate(t)
		}
	}
	return pc, true
}

func (c *Context) invalidate(t *Trace) {
	t.valid = false
	c.hot.markUncompilable(t.key)
	c.stats.Invalidated++
	c.log.Debug("trace invalidated",
		zap.Int("header", t.header),
		zap.Uint64("sideExits", t.sideExits))
}
