package vm

import (
	"unsafe"

	"lume/internal/value"
)

// globalsCap must stay a power of two; the table never grows so the
// values array address handed to compiled traces is stable.
const globalsCap = 1024

type globalEntry struct {
	key  *value.Obj
	slot int32
	used bool
}

// Globals is an open-addressing table from interned name to a slot in a
// flat values array. Collision probing compares pointers first and falls
// back to content so two spellings of one name share a slot even across
// arenas.
type Globals struct {
	entries [globalsCap]globalEntry
	values  [globalsCap]value.Value
	count   int32
}

func NewGlobals() *Globals {
	return &Globals{}
}

func hashName(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// find returns the entry index for key, either occupied by it or the
// first free slot of its probe chain; -1 when the key is absent and the
// table has no free slot left to offer.
func (g *Globals) find(key *value.Obj) int {
	i := int(hashName(key.Str)) & (globalsCap - 1)
	for probes := 0; probes < globalsCap; probes++ {
		if !g.entries[i].used {
			return i
		}
		k := g.entries[i].key
		if k == key || k.Str == key.Str {
			return i
		}
		i = (i + 1) & (globalsCap - 1)
	}
	return -1
}

// Define sets name to v, allocating a value slot on first definition.
// Returns false when the table is full.
func (g *Globals) Define(key *value.Obj, v value.Value) bool {
	i := g.find(key)
	if i < 0 {
		return false
	}
	if !g.entries[i].used {
		if g.count >= globalsCap {
			return false
		}
		g.entries[i] = globalEntry{key: key, slot: g.count, used: true}
		g.count++
	}
	g.values[g.entries[i].slot] = v
	return true
}

func (g *Globals) Get(key *value.Obj) (value.Value, bool) {
	i := g.find(key)
	if i < 0 || !g.entries[i].used {
		return value.Nil, false
	}
	return g.values[g.entries[i].slot], true
}

// Set updates an existing global; false if it was never defined.
func (g *Globals) Set(key *value.Obj, v value.Value) bool {
	i := g.find(key)
	if i < 0 || !g.entries[i].used {
		return false
	}
	g.values[g.entries[i].slot] = v
	return true
}

// SlotFor exposes the value-array slot for the trace recorder; -1 when
// the name is undefined.
func (g *Globals) SlotFor(key *value.Obj) int {
	i := g.find(key)
	if i < 0 || !g.entries[i].used {
		return -1
	}
	return int(g.entries[i].slot)
}

func (g *Globals) ValueAt(slot int) value.Value {
	return g.values[slot]
}

// BasePtr is the stable address compiled traces index with slot*8.
func (g *Globals) BasePtr() unsafe.Pointer {
	return unsafe.Pointer(&g.values[0])
}

func (g *Globals) Count() int { return int(g.count) }
