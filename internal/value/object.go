package value

import (
	"fmt"
	"strings"
)

type ObjType uint8

const (
	OString ObjType = iota
	OArray
	ODict
	ORange
	OFunc
)

// Obj is the header every heap value shares. Variant payloads live in the
// same struct; Type says which fields are meaningful. Next threads all
// objects owned by one Arena.
type Obj struct {
	Type ObjType
	Next *Obj

	Str   string // OString
	Elems []Value
	Dict  map[string]Value
	From  int32 // ORange, inclusive
	To    int32 // ORange, exclusive
	Fn    *Function
}

// Function is compiled code: the chunk lives in internal/bytecode, but
// value cannot import it, so the chunk rides along as an opaque pointer
// owned by the compiler.
type Function struct {
	Name  string
	Arity int
	Chunk interface{}
}

func (o *Obj) typeName() string {
	switch o.Type {
	case OString:
		return "string"
	case OArray:
		return "array"
	case ODict:
		return "dict"
	case ORange:
		return "range"
	case OFunc:
		return "fn"
	}
	return "object"
}

func (o *Obj) String() string {
	switch o.Type {
	case OString:
		return o.Str
	case OArray:
		parts := make([]string, len(o.Elems))
		for i, e := range o.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ODict:
		parts := make([]string, 0, len(o.Dict))
		for k, v := range o.Dict {
			parts = append(parts, fmt.Sprintf("%s: %s", k, v.String()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case ORange:
		return fmt.Sprintf("%d..%d", o.From, o.To)
	case OFunc:
		if o.Fn.Name == "" {
			return "<fn>"
		}
		return "<fn " + o.Fn.Name + ">"
	}
	return "<obj>"
}
