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

package alloc

import "testing"

func TestAllocMonotonic(t *testing.T) {
	a := New(8)
	addr1, err := a.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := a.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if addr1 != Start {
		t.Fatalf("first alloc = %#x; want %#x", addr1, Start)
	}
	if addr2 != addr1+8 {
		t.Fatalf("second alloc = %#x; want %#x", addr2, addr1+8)
	}
}

func TestAllocNeverCrossesCellForSubCellSize(t *testing.T) {
	a := New(8)
	a.Alloc(40) // 5 bytes, leaves 3 bytes remaining in the cell
	addr, err := a.Alloc(32) // 4 bytes: would cross the cell boundary at offset 5
	if err != nil {
		t.Fatal(err)
	}
	if addr%8 != 0 {
		t.Fatalf("sub-cell allocation that didn't fit should pad to the next cell boundary, got %#x", addr)
	}
}

func TestAllocLargerThanCellStartsAligned(t *testing.T) {
	a := New(8)
	a.Alloc(8) // 1 byte, cursor now misaligned by 1
	addr, err := a.Alloc(128) // 16 bytes > one cell
	if err != nil {
		t.Fatal(err)
	}
	if addr%8 != 0 {
		t.Fatalf("super-cell allocation must start at a cell boundary, got %#x", addr)
	}
}

func TestGetAllocationSize(t *testing.T) {
	a := New(8)
	addr, _ := a.Alloc(128)
	size, ok := a.GetAllocationSize(addr)
	if !ok || size != 16 {
		t.Fatalf("GetAllocationSize = %d, %v; want 16, true", size, ok)
	}
	if _, ok := a.GetAllocationSize(addr + 1); ok {
		t.Fatal("GetAllocationSize should only match exact allocation start addresses")
	}
}

func TestAllocRejectsNonByteMultiple(t *testing.T) {
	a := New(8)
	if _, err := a.Alloc(5); err == nil {
		t.Fatal("expected an error allocating a non-whole-byte bit count")
	}
}

func TestAllocRejectsOversize(t *testing.T) {
	a := New(8)
	if _, err := a.Alloc((MaxSizeBytes + 1) * 8); err == nil {
		t.Fatal("expected an error allocating more than MaxSizeBytes")
	}
}

func TestCloneIndependence(t *testing.T) {
	a := New(8)
	a.Alloc(64)
	cp := a.Clone()
	cp.Alloc(64)

	if a.cursor == cp.cursor {
		t.Fatal("clone's cursor should advance independently of the original")
	}
}
