package value

import (
	"fmt"
	"math"
	"strconv"
	"unsafe"
)

// Value is a NaN-boxed 64-bit word. Any bit pattern that is not a quiet
// NaN with our mark bits set is a float64. Everything else packs a tag in
// the payload space a real NaN never uses.
type Value uint64

const (
	QNaN uint64 = 0x7ffc000000000000
	Sign uint64 = 0x8000000000000000

	// 3-bit tag at bits 47..49. Tags 1..3 are singletons, 4 is int32.
	tagNil   uint64 = 1
	tagFalse uint64 = 2
	tagTrue  uint64 = 3
	tagInt   uint64 = 4

	tagShift = 47

	// canonical quiet NaN returned when a computation lands inside the
	// box space
	canonicalNaN uint64 = 0x7ff8000000000000

	// IntBits is what boxed int32 values look like above bit 47.
	// Native guards test v>>47 == IntBits.
	IntBits uint64 = 0xfffc
)

var (
	Nil   = Value(QNaN | tagNil<<tagShift)
	False = Value(QNaN | tagFalse<<tagShift)
	True  = Value(QNaN | tagTrue<<tagShift)
)

func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

func NewInt(i int32) Value {
	return Value(QNaN | tagInt<<tagShift | uint64(uint32(i)))
}

func NewNum(f float64) Value {
	bits := math.Float64bits(f)
	if bits&QNaN == QNaN {
		bits = canonicalNaN
	}
	return Value(bits)
}

func NewObj(o *Obj) Value {
	return Value(Sign | QNaN | uint64(uintptr(unsafe.Pointer(o))))
}

func (v Value) IsNil() bool   { return v == Nil }
func (v Value) IsBool() bool  { return v == True || v == False }
func (v Value) IsInt() bool   { return uint64(v)>>tagShift == IntBits }
func (v Value) IsNum() bool   { return uint64(v)&QNaN != QNaN }
func (v Value) IsObj() bool   { return uint64(v)&(Sign|QNaN) == Sign|QNaN }

// IsNumeric reports int or double.
func (v Value) IsNumeric() bool { return v.IsInt() || v.IsNum() }

func (v Value) AsBool() bool { return v == True }

// AsInt sign-extends the 32-bit payload.
func (v Value) AsInt() int32 { return int32(uint32(v)) }

func (v Value) AsNum() float64 { return math.Float64frombits(uint64(v)) }

// AsFloat widens either numeric representation to float64.
func (v Value) AsFloat() float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return v.AsNum()
}

func (v Value) AsObj() *Obj {
	return (*Obj)(unsafe.Pointer(uintptr(uint64(v) &^ (Sign | QNaN))))
}

func (v Value) IsString() bool { return v.IsObj() && v.AsObj().Type == OString }
func (v Value) IsArray() bool  { return v.IsObj() && v.AsObj().Type == OArray }
func (v Value) IsDict() bool   { return v.IsObj() && v.AsObj().Type == ODict }
func (v Value) IsRange() bool  { return v.IsObj() && v.AsObj().Type == ORange }
func (v Value) IsFunc() bool   { return v.IsObj() && v.AsObj().Type == OFunc }

// IsTruthy: nil, false, int 0 and 0.0 are falsy, everything else truthy.
func (v Value) IsTruthy() bool {
	switch {
	case v == Nil || v == False:
		return false
	case v.IsInt():
		return v.AsInt() != 0
	case v.IsNum():
		return v.AsNum() != 0
	}
	return true
}

// Equals implements ==. Ints and doubles compare across representations
// (1 == 1.0), strings compare by content, other objects by identity.
func (v Value) Equals(w Value) bool {
	if v.IsNumeric() && w.IsNumeric() {
		if v.IsInt() && w.IsInt() {
			return v == w
		}
		return v.AsFloat() == w.AsFloat()
	}
	if v.IsString() && w.IsString() {
		a, b := v.AsObj(), w.AsObj()
		return a == b || a.Str == b.Str
	}
	return v == w
}

func (v Value) TypeName() string {
	switch {
	case v == Nil:
		return "nil"
	case v.IsBool():
		return "bool"
	case v.IsInt():
		return "int"
	case v.IsNum():
		return "float"
	case v.IsObj():
		return v.AsObj().typeName()
	}
	return "unknown"
}

func (v Value) String() string {
	switch {
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsInt():
		return strconv.FormatInt(int64(v.AsInt()), 10)
	case v.IsNum():
		return formatFloat(v.AsNum())
	case v.IsObj():
		return v.AsObj().String()
	}
	return fmt.Sprintf("<value %016x>", uint64(v))
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
