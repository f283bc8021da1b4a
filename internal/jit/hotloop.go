package jit

// Hot-loop table: fixed-size open hash keyed by loop-header address. No
// chains and no growth; a colliding header evicts the resident entry,
// trading a little recounting for a bounded footprint.

const hotTableSize = 1024 // power of two

type loopState uint8

const (
	stateCold loopState = iota
	stateCounting
	stateCompiled
	stateUncompilable
)

type hotEntry struct {
	key   uintptr
	count uint32
	state loopState
	trace int32
}

type hotTable struct {
	entries   [hotTableSize]hotEntry
	threshold uint32
	evictions uint64
}

func hashKey(key uintptr) uint32 {
	h := uint64(key)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return uint32(h)
}

func (t *hotTable) slot(key uintptr) *hotEntry {
	e := &t.entries[hashKey(key)&(hotTableSize-1)]
	if e.key != key {
		if e.key != 0 {
			t.evictions++
		}
		*e = hotEntry{key: key, state: stateCold}
	}
	return e
}

// compiled returns the trace index when the loop has valid native code.
func (t *hotTable) compiled(key uintptr) int {
	e := &t.entries[hashKey(key)&(hotTableSize-1)]
	if e.key == key && e.state == stateCompiled {
		return int(e.trace)
	}
	return -1
}

// count bumps the loop's back-edge counter and reports whether it just
// crossed the hotness threshold. Compiled and uncompilable loops are
// left alone.
func (t *hotTable) count(key uintptr) bool {
	e := t.slot(key)
	switch e.state {
	case stateCompiled, stateUncompilable:
		return false
	case stateCold:
		e.state = stateCounting
	}
	e.count++
	return e.count == t.threshold
}

func (t *hotTable) markCompiled(key uintptr, traceIdx int) {
	e := t.slot(key)
	e.state = stateCompiled
	e.trace = int32(traceIdx)
}

// markUncompilable is permanent: there is no recording retry.
func (t *hotTable) markUncompilable(key uintptr) {
	e := t.slot(key)
	e.state = stateUncompilable
}
