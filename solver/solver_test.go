// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package solver

import (
	"testing"

	"github.com/PLSysSec/haybale/bv"
)

func TestSatUnsatBasic(t *testing.T) {
	s := New()
	x := bv.Var("x", 8)
	s.Assert(bv.Ult(x, bv.Const(10, 8)))
	sat, err := s.Sat()
	if err != nil {
		t.Fatal(err)
	}
	if !sat {
		t.Fatal("x < 10 should be sat")
	}

	s.Assert(bv.Uge(x, bv.Const(10, 8)))
	sat, err = s.Sat()
	if err != nil {
		t.Fatal(err)
	}
	if sat {
		t.Fatal("x < 10 && x >= 10 should be unsat")
	}
}

func TestPushPop(t *testing.T) {
	s := New()
	x := bv.Var("x", 8)
	s.Assert(bv.Ult(x, bv.Const(10, 8)))
	s.Push()
	s.Assert(bv.Eq(x, bv.Const(100, 8)))
	sat, err := s.Sat()
	if err != nil {
		t.Fatal(err)
	}
	if sat {
		t.Fatal("x < 10 && x == 100 should be unsat")
	}
	s.Pop()
	sat, err = s.Sat()
	if err != nil {
		t.Fatal(err)
	}
	if !sat {
		t.Fatal("after Pop, x < 10 alone should be sat again")
	}
}

func TestGetSolutionForBV(t *testing.T) {
	s := New()
	x := bv.Var("x", 8)
	s.Assert(bv.Eq(x, bv.Const(42, 8)))
	v, err := s.GetSolutionForBV(x)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Fatalf("GetSolutionForBV = %d; want 42", v)
	}
}

func TestGetSolutionForBool(t *testing.T) {
	s := New()
	p := bv.BoolVar("p")
	s.Assert(p)
	v, err := s.GetSolutionForBool(p)
	if err != nil {
		t.Fatal(err)
	}
	if !v {
		t.Fatalf("GetSolutionForBool = %v; want true", v)
	}
}

func TestMinMaxPossibleSolution(t *testing.T) {
	s := New()
	x := bv.Var("x", 8)
	s.Assert(bv.Uge(x, bv.Const(5, 8)))
	s.Assert(bv.Ule(x, bv.Const(20, 8)))

	min, err := s.MinPossibleSolution(x)
	if err != nil {
		t.Fatal(err)
	}
	if min != 5 {
		t.Fatalf("MinPossibleSolution = %d; want 5", min)
	}

	max, err := s.MaxPossibleSolution(x)
	if err != nil {
		t.Fatal(err)
	}
	if max != 20 {
		t.Fatalf("MaxPossibleSolution = %d; want 20", max)
	}
}

func TestBVsCanAndMustBeEqual(t *testing.T) {
	s := New()
	x := bv.Var("x", 8)
	y := bv.Var("y", 8)
	s.Assert(bv.Eq(x, bv.Const(7, 8)))
	s.Assert(bv.Eq(y, bv.Const(7, 8)))

	must, err := s.BVsMustBeEqual(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if !must {
		t.Fatal("x and y are both forced to 7, so they must be equal")
	}

	s2 := New()
	a := bv.Var("a", 8)
	b := bv.Var("b", 8)
	s2.Assert(bv.Ult(a, bv.Const(5, 8)))
	s2.Assert(bv.Ult(b, bv.Const(5, 8)))
	can, err := s2.BVsCanBeEqual(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !can {
		t.Fatal("a and b can both be 0, so they can be equal")
	}
	must2, err := s2.BVsMustBeEqual(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if must2 {
		t.Fatal("a and b are independent, so they must not be forced equal")
	}
}

func TestGetPossibleSolutionsForBV(t *testing.T) {
	s := New()
	x := bv.Var("x", 8)
	s.Assert(bv.Ult(x, bv.Const(4, 8)))
	vals, err := s.GetPossibleSolutionsForBV(x, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 4 {
		t.Fatalf("GetPossibleSolutionsForBV returned %d values; want 4", len(vals))
	}
	seen := map[uint64]bool{}
	for _, v := range vals {
		seen[v] = true
	}
	for i := uint64(0); i < 4; i++ {
		if !seen[i] {
			t.Fatalf("missing expected solution %d in %v", i, vals)
		}
	}
}

func TestOverflowPredicates(t *testing.T) {
	s := New()
	// 200 + 100 overflows an unsigned 8-bit add (300 > 255).
	if ok, err := s.GetSolutionForBool(bv.UAddOverflow(bv.Const(200, 8), bv.Const(100, 8))); err != nil || !ok {
		t.Fatalf("uaddo(200,100)@8 = %v, %v; want true", ok, err)
	}
	if ok, err := s.GetSolutionForBool(bv.UAddOverflow(bv.Const(10, 8), bv.Const(20, 8))); err != nil || ok {
		t.Fatalf("uaddo(10,20)@8 = %v, %v; want false", ok, err)
	}
	// 10 - 20 underflows an unsigned 8-bit sub.
	if ok, err := s.GetSolutionForBool(bv.USubOverflow(bv.Const(10, 8), bv.Const(20, 8))); err != nil || !ok {
		t.Fatalf("usubo(10,20)@8 = %v, %v; want true", ok, err)
	}
	// 100 + 100 overflows a signed 8-bit add (200 > 127).
	if ok, err := s.GetSolutionForBool(bv.SAddOverflow(bv.Const(100, 8), bv.Const(100, 8))); err != nil || !ok {
		t.Fatalf("saddo(100,100)@8 = %v, %v; want true", ok, err)
	}
	// -100 - 100 underflows a signed 8-bit sub (-200 < -128).
	negHundred := bv.Const(uint64(0x9c), 8) // -100 as an 8-bit two's complement value
	if ok, err := s.GetSolutionForBool(bv.SSubOverflow(negHundred, bv.Const(100, 8))); err != nil || !ok {
		t.Fatalf("ssubo(-100,100)@8 = %v, %v; want true", ok, err)
	}
	// 16 * 16 overflows an unsigned 8-bit mul (256 > 255).
	if ok, err := s.GetSolutionForBool(bv.UMulOverflow(bv.Const(16, 8), bv.Const(16, 8))); err != nil || !ok {
		t.Fatalf("umulo(16,16)@8 = %v, %v; want true", ok, err)
	}
	if ok, err := s.GetSolutionForBool(bv.UMulOverflow(bv.Const(15, 8), bv.Const(16, 8))); err != nil || ok {
		t.Fatalf("umulo(15,16)@8 = %v, %v; want false", ok, err)
	}
	// 10 * 13 overflows a signed 8-bit mul (130 > 127).
	if ok, err := s.GetSolutionForBool(bv.SMulOverflow(bv.Const(10, 8), bv.Const(13, 8))); err != nil || !ok {
		t.Fatalf("smulo(10,13)@8 = %v, %v; want true", ok, err)
	}
}

func TestSaturatingArithmetic(t *testing.T) {
	s := New()
	v := s.mustSolveBV(t, bv.UAddSat(bv.Const(200, 8), bv.Const(100, 8)))
	if v != 0xff {
		t.Fatalf("uadds(200,100)@8 = %d; want 255", v)
	}
	v = s.mustSolveBV(t, bv.USubSat(bv.Const(10, 8), bv.Const(20, 8)))
	if v != 0 {
		t.Fatalf("usubs(10,20)@8 = %d; want 0", v)
	}
	v = s.mustSolveBV(t, bv.SAddSat(bv.Const(100, 8), bv.Const(100, 8)))
	if v != 0x7f {
		t.Fatalf("sadds(100,100)@8 = %#x; want 0x7f", v)
	}
}

func TestReductionOps(t *testing.T) {
	s := New()
	if ok, err := s.GetSolutionForBool(bv.Redand(bv.Const(0xFF, 8))); err != nil || !ok {
		t.Fatalf("redand(0xff)@8 = %v, %v; want true", ok, err)
	}
	if ok, err := s.GetSolutionForBool(bv.Redand(bv.Const(0x7F, 8))); err != nil || ok {
		t.Fatalf("redand(0x7f)@8 = %v, %v; want false", ok, err)
	}
	if ok, err := s.GetSolutionForBool(bv.Redor(bv.Const(0, 8))); err != nil || ok {
		t.Fatalf("redor(0)@8 = %v, %v; want false", ok, err)
	}
	if ok, err := s.GetSolutionForBool(bv.Redor(bv.Const(0x01, 8))); err != nil || !ok {
		t.Fatalf("redor(0x01)@8 = %v, %v; want true", ok, err)
	}
}

func TestRotateOps(t *testing.T) {
	s := New()
	// rotl(0b00000001, 1) == 0b00000010
	if got := s.mustSolveBV(t, bv.Rotl(bv.Const(0x01, 8), bv.Const(1, 8))); got != 0x02 {
		t.Fatalf("rotl(0x01, 1)@8 = %#x; want 0x02", got)
	}
	// rotl by the full width is a no-op.
	if got := s.mustSolveBV(t, bv.Rotl(bv.Const(0x81, 8), bv.Const(8, 8))); got != 0x81 {
		t.Fatalf("rotl(0x81, 8)@8 = %#x; want 0x81 (full-width rotate is a no-op)", got)
	}
	// rotr(0b00000010, 1) == 0b00000001
	if got := s.mustSolveBV(t, bv.Rotr(bv.Const(0x02, 8), bv.Const(1, 8))); got != 0x01 {
		t.Fatalf("rotr(0x02, 1)@8 = %#x; want 0x01", got)
	}
	// a high bit rotated right by 1 wraps into the low bit.
	if got := s.mustSolveBV(t, bv.Rotr(bv.Const(0x01, 8), bv.Const(1, 8))); got != 0x80 {
		t.Fatalf("rotr(0x01, 1)@8 = %#x; want 0x80", got)
	}
}

func (s *Solver) mustSolveBV(t *testing.T, v bv.BV) uint64 {
	t.Helper()
	got, err := s.GetSolutionForBV(v)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestCloneIndependence(t *testing.T) {
	s := New()
	x := bv.Var("x", 8)
	s.Assert(bv.Ult(x, bv.Const(10, 8)))
	cp := s.Clone()
	cp.Assert(bv.Eq(x, bv.Const(200, 8)))

	sat, err := cp.Sat()
	if err != nil {
		t.Fatal(err)
	}
	if sat {
		t.Fatal("clone with added contradictory constraint should be unsat")
	}
	sat, err = s.Sat()
	if err != nil {
		t.Fatal(err)
	}
	if !sat {
		t.Fatal("original solver must be unaffected by constraints asserted on the clone")
	}
}
