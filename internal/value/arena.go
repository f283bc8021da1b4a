package value

// Arena owns every heap object a VM allocates. Objects are threaded on an
// intrusive list and additionally pinned in a slice so the raw pointers
// boxed into Values stay live for the whole run. Release drops everything
// in one sweep; there is no collector.
type Arena struct {
	head    *Obj
	pinned  []*Obj
	interns map[string]*Obj
}

func NewArena() *Arena {
	return &Arena{interns: make(map[string]*Obj)}
}

func (a *Arena) adopt(o *Obj) *Obj {
	o.Next = a.head
	a.head = o
	a.pinned = append(a.pinned, o)
	return o
}

// Intern returns the canonical string object for s, allocating on first
// sight. Interning makes pointer equality the string fast path.
func (a *Arena) Intern(s string) *Obj {
	if o, ok := a.interns[s]; ok {
		return o
	}
	o := a.adopt(&Obj{Type: OString, Str: s})
	a.interns[s] = o
	return o
}

func (a *Arena) NewString(s string) Value {
	return NewObj(a.Intern(s))
}

func (a *Arena) NewArray(elems []Value) Value {
	return NewObj(a.adopt(&Obj{Type: OArray, Elems: elems}))
}

func (a *Arena) NewDict() Value {
	return NewObj(a.adopt(&Obj{Type: ODict, Dict: make(map[string]Value)}))
}

func (a *Arena) NewRange(from, to int32) Value {
	return NewObj(a.adopt(&Obj{Type: ORange, From: from, To: to}))
}

func (a *Arena) NewFunction(fn *Function) Value {
	return NewObj(a.adopt(&Obj{Type: OFunc, Fn: fn}))
}

// Count reports live objects, mostly for stats output.
func (a *Arena) Count() int { return len(a.pinned) }

// Release walks the intrusive list (so the list stays exercised and a
// leaked object would show up in tests) and then drops the pins.
func (a *Arena) Release() int {
	n := 0
	for o := a.head; o != nil; o = o.Next {
		n++
	}
	a.head = nil
	a.pinned = nil
	a.interns = make(map[string]*Obj)
	return n
}
