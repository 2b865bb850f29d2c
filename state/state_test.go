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

package state

import (
	"testing"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/config"
	"github.com/PLSysSec/haybale/globals"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/memory"
)

// we don't test Solver, Memory, Alloc, or varmap.Map here; those have
// their own package tests. This file covers the nontrivial behavior
// State adds on top: operand conversion, call-stack save/restore, and
// backtracking points.

func blankState() *State {
	mod := &ir.Module{Name: "test_mod"}
	fn := &ir.Function{Name: "test_func"}
	loc := Location{Module: mod, Func: fn, BBName: "test_bb"}
	mem := memory.NewCellMemory("mem", false, false)
	return New(loc, 20, mem, 8, globals.New(), config.Default())
}

func TestLookupVarsViaOperand(t *testing.T) {
	s := blankState()

	valVar, err := s.NewBVWithName("val", 64)
	if err != nil {
		t.Fatal(err)
	}
	boolVar, err := s.NewBoolWithName("cond")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.OperandToBV(ir.LocalRef{Name: "val", Ty: ir.IntType{Width: 64}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Expr().VarName != valVar.Expr().VarName {
		t.Fatalf("OperandToBV returned a different var than NewBVWithName created: %q vs %q", got.Expr().VarName, valVar.Expr().VarName)
	}

	gotBool, err := s.OperandToBool(ir.LocalRef{Name: "cond", Ty: ir.IntType{Width: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if gotBool.Expr().VarName != boolVar.Expr().VarName {
		t.Fatal("OperandToBool returned a different var than NewBoolWithName created")
	}
}

func TestConstBV(t *testing.T) {
	s := blankState()
	c := ir.Int(64, 3)
	v, err := s.OperandToBV(c)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSolutionForBV(v)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("got %d; want 3", got)
	}
}

func TestConstBool(t *testing.T) {
	s := blankState()
	trueC := ir.Int(1, 1)
	falseC := ir.Int(1, 0)

	bvTrue, err := s.OperandToBool(trueC)
	if err != nil {
		t.Fatal(err)
	}
	bvFalse, err := s.OperandToBool(falseC)
	if err != nil {
		t.Fatal(err)
	}

	gt, err := s.GetSolutionForBool(bvTrue)
	if err != nil || !gt {
		t.Fatalf("expected true, got %v, %v", gt, err)
	}
	gf, err := s.GetSolutionForBool(bvFalse)
	if err != nil || gf {
		t.Fatalf("expected false, got %v, %v", gf, err)
	}

	s.Assert(bvTrue)
	if sat, err := s.Check(); err != nil || !sat {
		t.Fatalf("expected sat after asserting true, got %v, %v", sat, err)
	}
	s.Assert(bvFalse)
	if sat, err := s.Check(); err != nil || sat {
		t.Fatalf("expected unsat after asserting false too, got %v, %v", sat, err)
	}
}

func TestBacktracking(t *testing.T) {
	s := blankState()

	x := bv.Var("x", 64)
	s.Assert(bv.Sgt(x, bv.Const(11, 64)))

	y := bv.Var("y", 64)
	constraint := bv.Sgt(y, bv.Const(5, 64))
	s.SaveBacktrackingPoint("bb_target", constraint)

	// the constraint y > 5 wasn't added yet: y < 4 should keep us sat
	if sat, err := s.CheckWithExtraConstraints(bv.Slt(y, bv.Const(4, 64))); err != nil || !sat {
		t.Fatalf("expected sat before reverting, got %v, %v", sat, err)
	}

	// assert x < 8 to make us unsat
	s.Assert(bv.Slt(x, bv.Const(8, 64)))
	if sat, err := s.Check(); err != nil || sat {
		t.Fatalf("expected unsat, got %v, %v", sat, err)
	}

	preRollbackFunc := s.CurLoc.Func

	if !s.RevertToBacktrackingPoint() {
		t.Fatal("expected a backtracking point to revert to")
	}
	if s.CurLoc.Func != preRollbackFunc {
		t.Fatal("function should be unchanged across the revert")
	}
	if s.CurLoc.BBName != "bb_target" {
		t.Fatalf("CurLoc.BBName = %q; want bb_target", s.CurLoc.BBName)
	}
	if s.PrevBBName != "test_bb" {
		t.Fatalf("PrevBBName = %q; want test_bb", s.PrevBBName)
	}

	if sat, err := s.Check(); err != nil || !sat {
		t.Fatalf("expected sat again after reverting, got %v, %v", sat, err)
	}

	yVal, err := s.GetSolutionForBV(y)
	if err != nil {
		t.Fatal(err)
	}
	if int64(yVal) <= 5 {
		t.Fatalf("y = %d; want > 5", yVal)
	}

	xVal, err := s.GetSolutionForBV(x)
	if err != nil {
		t.Fatal(err)
	}
	if int64(xVal) <= 11 {
		t.Fatalf("x = %d; want > 11 (the first constraint should still hold)", xVal)
	}

	if s.RevertToBacktrackingPoint() {
		t.Fatal("expected reverting again to fail, no more backtrack points")
	}
}

func TestPushPopCallsiteRestoresCallerVars(t *testing.T) {
	s := blankState()
	s.NewBVWithName("n", 32) // caller's local

	before, _ := s.varmap.LookupBV("test_func", "n")

	s.PushCallsite(Callsite{Instr: 3})
	// simulate a recursive call into test_func overwriting "n"
	s.NewBVWithName("n", 32)
	after, _ := s.varmap.LookupBV("test_func", "n")
	if after.Expr().VarName == before.Expr().VarName {
		t.Fatal("expected the recursive definition to shadow the caller's")
	}

	site, ok := s.PopCallsite()
	if !ok {
		t.Fatal("expected a callsite to pop")
	}
	if site.Instr != 3 {
		t.Fatalf("callsite instruction = %d; want 3", site.Instr)
	}

	restored, _ := s.varmap.LookupBV("test_func", "n")
	if restored.Expr().VarName != before.Expr().VarName {
		t.Fatal("expected PopCallsite to restore the caller's binding")
	}
}
