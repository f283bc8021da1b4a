package value

import (
	"math"
	"testing"
)

func TestIntRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 42, -42, math.MaxInt32, math.MinInt32, 100000, -100000}
	for _, n := range cases {
		v := NewInt(n)
		if !v.IsInt() {
			t.Fatalf("NewInt(%d) not tagged as int", n)
		}
		if v.IsNum() || v.IsObj() || v.IsBool() || v.IsNil() {
			t.Fatalf("NewInt(%d) matches another tag", n)
		}
		if got := v.AsInt(); got != n {
			t.Errorf("round trip %d -> %d", n, got)
		}
	}
}

func TestNumRoundTrip(t *testing.T) {
	cases := []float64{0, -0.0, 1.5, -2.75, 1e308, 5e-324, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := NewNum(f)
		if !v.IsNum() {
			t.Fatalf("NewNum(%v) not a number", f)
		}
		if got := v.AsNum(); got != f {
			t.Errorf("round trip %v -> %v", f, got)
		}
	}
	if !math.IsNaN(NewNum(math.NaN()).AsNum()) {
		t.Error("NaN did not survive boxing")
	}
}

func TestTagDisjointness(t *testing.T) {
	a := NewArena()
	vals := []Value{Nil, True, False, NewInt(0), NewInt(-1), NewNum(0), a.NewString("x")}
	for i, v := range vals {
		tags := 0
		for _, ok := range []bool{v.IsNil(), v == True || v == False, v.IsInt(), v.IsNum(), v.IsObj()} {
			if ok {
				tags++
			}
		}
		if tags != 1 {
			t.Errorf("value %d matches %d tags, want exactly 1", i, tags)
		}
	}
}

func TestObjRoundTrip(t *testing.T) {
	a := NewArena()
	s := a.Intern("hello")
	v := NewObj(s)
	if !v.IsObj() || !v.IsString() {
		t.Fatal("string object lost its tag")
	}
	if v.AsObj() != s {
		t.Fatal("object pointer did not round trip")
	}
	if a.Intern("hello") != s {
		t.Error("interning is not canonical")
	}
}

func TestTruthiness(t *testing.T) {
	a := NewArena()
	falsy := []Value{Nil, False, NewInt(0), NewNum(0)}
	for _, v := range falsy {
		if v.IsTruthy() {
			t.Errorf("%s should be falsy", v)
		}
	}
	truthy := []Value{True, NewInt(1), NewInt(-1), NewNum(0.5), a.NewString(""), a.NewArray(nil)}
	for _, v := range truthy {
		if !v.IsTruthy() {
			t.Errorf("%s should be truthy", v)
		}
	}
}

func TestEquality(t *testing.T) {
	a := NewArena()
	if !NewInt(1).Equals(NewNum(1.0)) {
		t.Error("1 == 1.0 should hold")
	}
	if NewInt(1).Equals(NewInt(2)) {
		t.Error("1 == 2 should not hold")
	}
	s1 := a.NewString("abc")
	s2 := a.NewString("abc")
	if !s1.Equals(s2) {
		t.Error("equal strings should compare equal")
	}
	arr1, arr2 := a.NewArray(nil), a.NewArray(nil)
	if arr1.Equals(arr2) {
		t.Error("distinct arrays compare by identity")
	}
}

func TestArenaRelease(t *testing.T) {
	a := NewArena()
	a.NewString("a")
	a.NewArray([]Value{NewInt(1)})
	a.NewRange(0, 10)
	if n := a.Release(); n != 3 {
		t.Errorf("released %d objects, want 3", n)
	}
	if a.Count() != 0 {
		t.Error("arena not empty after release")
	}
}
