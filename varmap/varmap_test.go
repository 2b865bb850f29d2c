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

package varmap

import (
	"errors"
	"testing"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/herror"
)

func TestLookupVars(t *testing.T) {
	m := New(0)
	if err := m.DefineBV("f", "x", bv.Const(42, 32)); err != nil {
		t.Fatal(err)
	}
	if err := m.DefineBool("f", "cond", bv.BoolConst(true)); err != nil {
		t.Fatal(err)
	}

	got, err := m.LookupBV("f", "x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Expr().ConstVal != 42 {
		t.Fatalf("got %d; want 42", got.Expr().ConstVal)
	}

	if _, err := m.LookupBV("f", "nope"); err == nil {
		t.Fatal("expected an error looking up an undefined name")
	}

	if _, err := m.LookupBV("f", "cond"); err == nil {
		t.Fatal("expected an error fetching a Bool binding as a BV")
	}
	if _, err := m.LookupBool("f", "x"); err == nil {
		t.Fatal("expected an error fetching a BV binding as a Bool")
	}
}

func TestSameNameDifferentFunctionsDoNotCollide(t *testing.T) {
	m := New(0)
	m.DefineBV("f", "x", bv.Const(1, 32))
	m.DefineBV("g", "x", bv.Const(2, 32))

	fx, _ := m.LookupBV("f", "x")
	gx, _ := m.LookupBV("g", "x")
	if fx.Expr().ConstVal != 1 || gx.Expr().ConstVal != 2 {
		t.Fatal("bindings for the same name in different functions should be independent")
	}
}

func TestRedefineOverwrites(t *testing.T) {
	m := New(0)
	m.DefineBV("f", "x", bv.Const(1, 32))
	m.DefineBV("f", "x", bv.Const(2, 32))

	got, _ := m.LookupBV("f", "x")
	if got.Expr().ConstVal != 2 {
		t.Fatalf("got %d; want 2 (most recent definition)", got.Expr().ConstVal)
	}
}

func TestLoopBoundExceeded(t *testing.T) {
	m := New(3)
	for i := 0; i < 3; i++ {
		if err := m.DefineBV("f", "i", bv.Const(uint64(i), 32)); err != nil {
			t.Fatalf("definition %d should be within bound: %v", i, err)
		}
	}
	err := m.DefineBV("f", "i", bv.Const(3, 32))
	if err == nil {
		t.Fatal("expected the 4th definition to exceed the loop bound")
	}
	var he *herror.Error
	if !errors.As(err, &he) || he.Kind != herror.LoopBoundExceeded {
		t.Fatalf("expected a LoopBoundExceeded error, got %v", err)
	}
	if !errors.Is(err, herror.Sentinel(herror.LoopBoundExceeded)) {
		t.Fatal("error should match herror.Sentinel(LoopBoundExceeded) via errors.Is")
	}
}

func TestZeroMaxVersionsMeansUnbounded(t *testing.T) {
	m := New(0)
	for i := 0; i < 1000; i++ {
		if err := m.DefineBV("f", "i", bv.Const(uint64(i), 32)); err != nil {
			t.Fatalf("unbounded map should never reject a redefinition: %v", err)
		}
	}
}

func TestRestoreFuncVarsUndoesRecursiveCall(t *testing.T) {
	m := New(0)
	m.DefineBV("f", "n", bv.Const(5, 32))
	m.DefineBV("f", "acc", bv.Const(1, 32))

	// Simulate entering a recursive call to f: snapshot the caller's
	// frame, then let the callee instance clobber the shared keys.
	ri := m.GetRestoreInfoForFunc("f")
	m.DefineBV("f", "n", bv.Const(4, 32))
	m.DefineBV("f", "acc", bv.Const(5, 32))

	callee, _ := m.LookupBV("f", "n")
	if callee.Expr().ConstVal != 4 {
		t.Fatalf("callee's n = %d; want 4", callee.Expr().ConstVal)
	}

	// Simulate returning from the call: the caller's bindings come back.
	m.RestoreFuncVars(ri)

	n, _ := m.LookupBV("f", "n")
	acc, _ := m.LookupBV("f", "acc")
	if n.Expr().ConstVal != 5 {
		t.Fatalf("restored n = %d; want 5", n.Expr().ConstVal)
	}
	if acc.Expr().ConstVal != 1 {
		t.Fatalf("restored acc = %d; want 1", acc.Expr().ConstVal)
	}
}

func TestRestoreFuncVarsDropsKeysAddedDuringTheCall(t *testing.T) {
	m := New(0)
	m.DefineBV("f", "n", bv.Const(5, 32))
	ri := m.GetRestoreInfoForFunc("f")

	// The callee defines a variable the caller's frame never had.
	m.DefineBV("f", "tmp", bv.Const(99, 32))
	m.RestoreFuncVars(ri)

	if _, err := m.LookupBV("f", "tmp"); err == nil {
		t.Fatal("a variable introduced only during the call should not survive RestoreFuncVars")
	}
}

func TestCloneIndependence(t *testing.T) {
	m := New(0)
	m.DefineBV("f", "x", bv.Const(1, 32))
	cp := m.Clone()
	cp.DefineBV("f", "x", bv.Const(2, 32))

	orig, _ := m.LookupBV("f", "x")
	cloned, _ := cp.LookupBV("f", "x")
	if orig.Expr().ConstVal != 1 {
		t.Fatal("original map mutated by a definition on its clone")
	}
	if cloned.Expr().ConstVal != 2 {
		t.Fatal("clone's definition didn't take")
	}
}
