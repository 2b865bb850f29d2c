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

package bv

import "testing"

func TestConstFold(t *testing.T) {
	a := Const(3, 8)
	b := Const(4, 8)
	sum := Add(a, b)
	c, ok := sum.AsConst()
	if !ok || c != 7 {
		t.Fatalf("Add(3,4) = %v, %v; want 7, true", c, ok)
	}
}

func TestConstTruncation(t *testing.T) {
	v := Const(0x1ff, 8)
	c, _ := v.AsConst()
	if c != 0xff {
		t.Fatalf("Const(0x1ff, 8) = %#x; want 0xff", c)
	}
}

func TestNandNorXnor(t *testing.T) {
	a := Const(0b1100, 4)
	b := Const(0b1010, 4)
	if c, ok := Nand(a, b).AsConst(); !ok || c != 0b0111 {
		t.Fatalf("Nand(1100,1010) = %04b, %v; want 0111, true", c, ok)
	}
	if c, ok := Nor(a, b).AsConst(); !ok || c != 0b0001 {
		t.Fatalf("Nor(1100,1010) = %04b, %v; want 0001, true", c, ok)
	}
	if c, ok := Xnor(a, b).AsConst(); !ok || c != 0b1001 {
		t.Fatalf("Xnor(1100,1010) = %04b, %v; want 1001, true", c, ok)
	}
}

func TestZExtOfConst(t *testing.T) {
	v := ZExt(Const(0xff, 8), 16)
	c, ok := v.AsConst()
	if !ok || c != 0xff {
		t.Fatalf("ZExt(0xff_8, 16) = %v, %v; want 0xff, true", c, ok)
	}
	if v.Width() != 16 {
		t.Fatalf("width = %d; want 16", v.Width())
	}
}

func TestHashStructuralEquality(t *testing.T) {
	x := Var("x", 32)
	y := Var("x", 32)
	if !Equal(x.Expr(), y.Expr()) {
		t.Fatal("two distinct Var nodes with identical name/width should be structurally equal")
	}
	if x.Hash() != y.Hash() {
		t.Fatal("structurally equal expressions must hash equal")
	}

	z := Var("z", 32)
	sum1 := Add(x, z)
	sum2 := Add(y, z)
	if !Equal(sum1.Expr(), sum2.Expr()) {
		t.Fatal("Add(x,z) and Add(y,z) should be structurally equal when x,y are")
	}

	other := Add(z, x)
	if Equal(sum1.Expr(), other.Expr()) {
		t.Fatal("Add is not commutative at the structural-equality level")
	}
}

func TestBoolConstFold(t *testing.T) {
	t1 := BoolConst(true)
	f1 := BoolConst(false)
	if c, ok := t1.And(f1).AsConst(); !ok || c != false {
		t.Fatalf("true && false = %v, %v; want false, true", c, ok)
	}
	if c, ok := t1.Or(f1).AsConst(); !ok || c != true {
		t.Fatalf("true || false = %v, %v; want true, true", c, ok)
	}
	if c, ok := t1.Not().AsConst(); !ok || c != false {
		t.Fatalf("!true = %v, %v; want false, true", c, ok)
	}
}

func TestIteConstCondition(t *testing.T) {
	then := Const(1, 8)
	els := Const(2, 8)
	got := Ite(BoolConst(true), then, els)
	c, ok := got.AsConst()
	if !ok || c != 1 {
		t.Fatalf("Ite(true, 1, 2) = %v, %v; want 1, true", c, ok)
	}
}

func TestExtractWidth(t *testing.T) {
	v := Var("v", 32)
	e := Extract(v, 15, 8)
	if e.Width() != 8 {
		t.Fatalf("Extract(15,8).Width() = %d; want 8", e.Width())
	}
}

func TestConcatWidth(t *testing.T) {
	hi := Var("hi", 16)
	lo := Var("lo", 16)
	c := Concat(hi, lo)
	if c.Width() != 32 {
		t.Fatalf("Concat width = %d; want 32", c.Width())
	}
}
