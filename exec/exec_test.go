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

package exec

import (
	"context"
	"log"
	"testing"

	"github.com/PLSysSec/haybale/config"
	"github.com/PLSysSec/haybale/interp"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/outcome"
	"github.com/PLSysSec/haybale/state"
)

func i32() ir.Type { return ir.IntType{Width: 32} }

func straightLineFunc() (*ir.Module, *ir.Function) {
	fn := &ir.Function{
		Name:    "f",
		Params:  []ir.Param{{Name: "x", Ty: i32()}},
		RetType: i32(),
		Blocks: []ir.BasicBlock{
			{Name: "entry", Instructions: []ir.Instruction{
				{Op: ir.OpAdd, Result: "r", Type: i32(), Ops: []ir.Value{ir.LocalRef{Name: "x", Ty: i32()}, ir.Int(32, 1)}},
			}, Term: ir.Terminator{Kind: ir.TermRet, RetVal: ir.LocalRef{Name: "r", Ty: i32()}}},
		},
	}
	return &ir.Module{Name: "m", Functions: []ir.Function{*fn}}, fn
}

func branchingFunc() (*ir.Module, *ir.Function) {
	fn := &ir.Function{
		Name:    "f",
		Params:  []ir.Param{{Name: "x", Ty: i32()}},
		RetType: i32(),
		Blocks: []ir.BasicBlock{
			{Name: "entry", Instructions: []ir.Instruction{
				{Op: ir.OpICmp, Pred: ir.ICmpEQ, Result: "cond", Type: ir.IntType{Width: 1}, Ops: []ir.Value{ir.LocalRef{Name: "x", Ty: i32()}, ir.Int(32, 0)}},
			}, Term: ir.Terminator{Kind: ir.TermCondBr, Cond: ir.LocalRef{Name: "cond", Ty: ir.IntType{Width: 1}}, TrueTarget: "isZero", FalseTarget: "notZero"}},
			{Name: "isZero", Term: ir.Terminator{Kind: ir.TermRet, RetVal: ir.Int(32, 111)}},
			{Name: "notZero", Term: ir.Terminator{Kind: ir.TermRet, RetVal: ir.Int(32, 222)}},
		},
	}
	return &ir.Module{Name: "m", Functions: []ir.Function{*fn}}, fn
}

func newManager(t *testing.T, mod *ir.Module, fn *ir.Function) *Manager {
	t.Helper()
	proj := &ir.StaticProject{Mods: []*ir.Module{mod}}
	cfg := config.Default()
	setup, err := interp.Prepare(proj, cfg)
	if err != nil {
		t.Fatal(err)
	}
	loc := state.Location{Module: mod, Func: fn, BBName: fn.Blocks[0].Name}
	st := state.New(loc, cfg.LoopBound, setup.Memory, 8, setup.Globals, cfg)
	for _, p := range fn.Params {
		if _, err := st.NewBVWithName(p.Name, 32); err != nil {
			t.Fatal(err)
		}
	}
	return New(proj, st)
}

func TestManagerNextSinglePath(t *testing.T) {
	mod, fn := straightLineFunc()
	m := newManager(t, mod, fn)

	out, ok, err := m.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || out.Kind != outcome.Return {
		t.Fatalf("Next on a straight-line function = %+v, %v; want a single Return", out, ok)
	}

	_, ok, err = m.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("a straight-line function has only one path; second Next should report ok=false")
	}
}

func TestManagerNextEnumeratesBothBranches(t *testing.T) {
	mod, fn := branchingFunc()
	m := newManager(t, mod, fn)

	seen := map[uint64]bool{}
	for i := 0; i < 3; i++ {
		out, ok, err := m.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		v, isConst := out.RetVal.AsConst()
		if !isConst {
			t.Fatalf("branch %d returned a non-concrete value: %v", i, out.RetVal)
		}
		seen[v] = true
	}
	if !seen[111] || !seen[222] {
		t.Fatalf("expected both branch outcomes 111 and 222; got %v", seen)
	}
}

func TestManagerStateReflectsMostRecentPath(t *testing.T) {
	mod, fn := straightLineFunc()
	m := newManager(t, mod, fn)
	if m.State().CurLoc.BBName != "entry" {
		t.Fatalf("State() before the first Next = %q; want the starting block", m.State().CurLoc.BBName)
	}
	if _, _, err := m.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.State().CurLoc.BBName != "entry" {
		t.Fatalf("State() after a single-block function's only path = %q; want %q", m.State().CurLoc.BBName, "entry")
	}
}

func TestManagerNextRespectsCanceledContext(t *testing.T) {
	mod, fn := straightLineFunc()
	m := newManager(t, mod, fn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := m.Next(ctx)
	if err == nil || ok {
		t.Fatalf("Next with a canceled context = ok=%v, err=%v; want an error and ok=false", ok, err)
	}
}

func TestManagerLoggerReceivesPathEvents(t *testing.T) {
	mod, fn := straightLineFunc()
	m := newManager(t, mod, fn)
	var buf logBuffer
	m.Logger = log.New(&buf, "", 0)
	if _, _, err := m.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if buf.String() == "" {
		t.Fatal("Manager with a configured Logger produced no output")
	}
}

type logBuffer struct{ data []byte }

func (b *logBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *logBuffer) String() string { return string(b.data) }
