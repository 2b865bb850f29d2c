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

package memory

import (
	"testing"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/solver"
)

func solve(t *testing.T, v bv.BV) uint64 {
	t.Helper()
	s := solver.New()
	val, err := s.GetSolutionForBV(v)
	if err != nil {
		t.Fatalf("GetSolutionForBV: %v", err)
	}
	return val
}

func TestReadWriteCellAligned(t *testing.T) {
	m := NewCellMemory("mem", false, false)
	addr := bv.Const(0x10000, 64)
	data := bv.Const(0x12345678, 64)
	if err := m.Write(addr, data); err != nil {
		t.Fatal(err)
	}
	got, err := m.Read(addr, 64)
	if err != nil {
		t.Fatal(err)
	}
	if solve(t, got) != 0x12345678 {
		t.Fatalf("read back %#x; want 0x12345678", solve(t, got))
	}
}

func TestReadWriteUnalignedSmall(t *testing.T) {
	m := NewCellMemory("mem", false, false)
	addr := bv.Const(0x10001, 64)
	data := bv.Const(0x4F, 8)
	if err := m.Write(addr, data); err != nil {
		t.Fatal(err)
	}
	got, err := m.Read(addr, 8)
	if err != nil {
		t.Fatal(err)
	}
	if solve(t, got) != 0x4F {
		t.Fatalf("got %#x; want 0x4F", solve(t, got))
	}
}

func TestWriteSmallReadBigLittleEndian(t *testing.T) {
	m := NewCellMemory("mem", false, false)
	unaligned := bv.Const(0x10001, 64)
	m.Write(unaligned, bv.Const(0x4F, 8))

	aligned := bv.Const(0x10000, 64)
	got, err := m.Read(aligned, 16)
	if err != nil {
		t.Fatal(err)
	}
	if solve(t, got) != 0x4F00 {
		t.Fatalf("read from cell start = %#x; want 0x4F00", solve(t, got))
	}

	got2, err := m.Read(unaligned, 16)
	if err != nil {
		t.Fatal(err)
	}
	if solve(t, got2) != 0x004F {
		t.Fatalf("read from unaligned = %#x; want 0x004F", solve(t, got2))
	}
}

func TestPartialOverwriteAligned(t *testing.T) {
	m := NewCellMemory("mem", false, false)
	addr := bv.Const(0x10000, 64)
	m.Write(addr, bv.Const(0x1234567812345678, 64))
	m.Write(addr, bv.Const(0xdcba, 16))

	got, err := m.Read(addr, 16)
	if err != nil {
		t.Fatal(err)
	}
	if solve(t, got) != 0xdcba {
		t.Fatalf("partial read = %#x; want 0xdcba", solve(t, got))
	}

	whole, err := m.Read(addr, 64)
	if err != nil {
		t.Fatal(err)
	}
	if solve(t, whole) != 0x123456781234dcba {
		t.Fatalf("whole cell after partial overwrite = %#x; want 0x123456781234dcba", solve(t, whole))
	}
}

func TestCrossesCellBoundary(t *testing.T) {
	m := NewCellMemory("mem", false, false)
	addr := bv.Const(4, 64) // cell 0, offset 4 bytes: a 64-bit write here spans cells 0 and 1
	m.Write(addr, bv.Const(0x1122334455667788, 64))
	got, err := m.Read(addr, 64)
	if err != nil {
		t.Fatal(err)
	}
	if solve(t, got) != 0x1122334455667788 {
		t.Fatalf("cross-boundary read = %#x; want 0x1122334455667788", solve(t, got))
	}
}

func TestNullDetection(t *testing.T) {
	m := NewCellMemory("mem", true, false)
	_, err := m.Read(bv.Const(0, 64), 8)
	if err == nil {
		t.Fatal("expected a null-pointer error reading from address 0")
	}
}

func TestUninitializedReadIsStableAcrossClone(t *testing.T) {
	m := NewByteMemory("mem", false, false)
	addr := bv.Const(0x2000, 64)
	first, err := m.Read(addr, 8)
	if err != nil {
		t.Fatal(err)
	}
	clone := m.Clone()
	second, err := clone.Read(addr, 8)
	if err != nil {
		t.Fatal(err)
	}
	if first.Expr().VarName != second.Expr().VarName {
		t.Fatalf("clone's uninitialized read should observe the same fresh variable: %q vs %q",
			first.Expr().VarName, second.Expr().VarName)
	}
}

func TestCloneIndependentWrites(t *testing.T) {
	m := NewCellMemory("mem", false, false)
	addr := bv.Const(0x3000, 64)
	m.Write(addr, bv.Const(1, 64))
	clone := m.Clone()
	clone.Write(addr, bv.Const(2, 64))

	origVal, _ := m.Read(addr, 64)
	cloneVal, _ := clone.Read(addr, 64)
	if solve(t, origVal) != 1 {
		t.Fatalf("original memory mutated by write on clone: got %d", solve(t, origVal))
	}
	if solve(t, cloneVal) != 2 {
		t.Fatalf("clone write didn't take: got %d", solve(t, cloneVal))
	}
}
