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

package globals

import (
	"testing"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/ir"
)

func initI32() *ir.Constant {
	c := ir.Int(32, 0)
	return &c
}

func TestAllocateAndLookupPublicStrong(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	v := &ir.GlobalVar{Name: "counter", Linkage: ir.LinkageExternal, Initializer: initI32()}

	if err := tbl.AllocateGlobalVar(v, mod, bv.Const(0x2000, 64)); err != nil {
		t.Fatal(err)
	}
	a, ok := tbl.GetAllocation("counter", mod)
	if !ok {
		t.Fatal("expected to find the allocation")
	}
	if addr, _ := a.Addr.AsConst(); addr != 0x2000 {
		t.Fatalf("got addr %#x; want 0x2000", addr)
	}
}

func TestDuplicateStrongPublicIsAnError(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	v := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageExternal, Initializer: initI32()}

	if err := tbl.AllocateGlobalVar(v, mod, bv.Const(1, 64)); err != nil {
		t.Fatal(err)
	}
	if err := tbl.AllocateGlobalVar(v, mod, bv.Const(2, 64)); err == nil {
		t.Fatal("expected an error allocating a second strong definition of the same public name")
	}
}

func TestStrongDisplacesWeak(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	weakVar := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageWeak, Initializer: initI32()}
	strongVar := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageExternal, Initializer: initI32()}

	tbl.AllocateGlobalVar(weakVar, mod, bv.Const(1, 64))
	if err := tbl.AllocateGlobalVar(strongVar, mod, bv.Const(2, 64)); err != nil {
		t.Fatal(err)
	}

	a, _ := tbl.GetAllocation("x", mod)
	if addr, _ := a.Addr.AsConst(); addr != 2 {
		t.Fatalf("strong definition should have displaced the weak one, got addr %#x", addr)
	}
}

func TestSecondWeakIsSkipped(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	v1 := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageWeak, Initializer: initI32()}
	v2 := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageWeak, Initializer: initI32()}

	tbl.AllocateGlobalVar(v1, mod, bv.Const(1, 64))
	if err := tbl.AllocateGlobalVar(v2, mod, bv.Const(2, 64)); err != nil {
		t.Fatal(err)
	}

	a, _ := tbl.GetAllocation("x", mod)
	if addr, _ := a.Addr.AsConst(); addr != 1 {
		t.Fatalf("first weak definition should have won arbitrarily, got addr %#x", addr)
	}
}

func TestModulePrivateTakesPrecedenceOverPublic(t *testing.T) {
	tbl := New()
	modA := &ir.Module{Name: "a"}
	modB := &ir.Module{Name: "b"}

	pub := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageExternal, Initializer: initI32()}
	priv := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageInternal, Initializer: initI32()}

	tbl.AllocateGlobalVar(pub, modA, bv.Const(1, 64))
	tbl.AllocateGlobalVar(priv, modB, bv.Const(2, 64))

	fromB, _ := tbl.GetAllocation("x", modB)
	if addr, _ := fromB.Addr.AsConst(); addr != 2 {
		t.Fatalf("module-private definition should win inside its own module, got %#x", addr)
	}

	fromA, _ := tbl.GetAllocation("x", modA)
	if addr, _ := fromA.Addr.AsConst(); addr != 1 {
		t.Fatalf("module a should still see the public definition, got %#x", addr)
	}
}

func TestDuplicateModulePrivateIsAnError(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	v := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageInternal, Initializer: initI32()}

	tbl.AllocateGlobalVar(v, mod, bv.Const(1, 64))
	if err := tbl.AllocateGlobalVar(v, mod, bv.Const(2, 64)); err == nil {
		t.Fatal("expected an error for a duplicate module-private definition")
	}
}

func TestAllocateFunctionAndResolveCallable(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	f := &ir.Function{Name: "foo", Linkage: ir.LinkageExternal}

	if err := tbl.AllocateFunction(f, mod, 0x5000, bv.Const(0x5000, 64)); err != nil {
		t.Fatal(err)
	}

	c, ok := tbl.GetCallableForAddress(0x5000, mod)
	if !ok {
		t.Fatal("expected to resolve the function's address")
	}
	if c.Kind != CallableLLVMFunction || c.Func != f {
		t.Fatal("resolved callable does not match the allocated function")
	}
}

func TestAllocateFunctionHookIsGloballyVisible(t *testing.T) {
	tbl := New()
	modA := &ir.Module{Name: "a"}
	modB := &ir.Module{Name: "b"}

	tbl.AllocateFunctionHook("malloc", 0x9000, bv.Const(0x9000, 64))

	for _, mod := range []*ir.Module{modA, modB} {
		c, ok := tbl.GetCallableForAddress(0x9000, mod)
		if !ok || c.Kind != CallableHook || c.Hook != "malloc" {
			t.Fatalf("hook should be visible from every module, failed for %q", mod.Name)
		}
	}
}

func TestMarkInitialized(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	v := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageExternal, Initializer: initI32()}
	tbl.AllocateGlobalVar(v, mod, bv.Const(1, 64))

	a, _ := tbl.GetAllocation("x", mod)
	if a.Initialized {
		t.Fatal("should start uninitialized")
	}
	tbl.MarkInitialized("x", mod)
	a, _ = tbl.GetAllocation("x", mod)
	if !a.Initialized {
		t.Fatal("MarkInitialized should have taken effect")
	}
}

func TestCloneIndependence(t *testing.T) {
	tbl := New()
	mod := &ir.Module{Name: "m"}
	v := &ir.GlobalVar{Name: "x", Linkage: ir.LinkageExternal, Initializer: initI32()}
	tbl.AllocateGlobalVar(v, mod, bv.Const(1, 64))

	cp := tbl.Clone()
	cp.MarkInitialized("x", mod)

	orig, _ := tbl.GetAllocation("x", mod)
	cloned, _ := cp.GetAllocation("x", mod)
	if orig.Initialized {
		t.Fatal("marking the clone initialized should not affect the original")
	}
	if !cloned.Initialized {
		t.Fatal("clone's MarkInitialized didn't take")
	}
}
