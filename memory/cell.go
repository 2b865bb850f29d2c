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

import "github.com/PLSysSec/haybale/bv"

// CellBits is the cell granularity of the cell-based backend, grounded
// on src/cell_memory.rs's CELL_BITS = 64.
const CellBits = 64

// cellMemory is the 64-bit-cell backend (src/cell_memory.rs): coarser
// granularity means fewer underlying map entries for typical
// word-sized accesses, at the cost of more masking work on small
// sub-cell reads/writes.
type cellMemory struct{ s *store }

// NewCellMemory returns a 64-bit-cell Memory. If zeroInitialized is
// false, every byte is fully symbolic (a fresh free variable) until
// written, matching src/cell_memory.rs's new_uninitialized.
func NewCellMemory(name string, nullDetection, zeroInitialized bool) Memory {
	return &cellMemory{s: newStore(name, CellBits, nullDetection, zeroInitialized)}
}

func (m *cellMemory) Read(addr bv.BV, bits int) (bv.BV, error) { return m.s.read(addr, bits) }
func (m *cellMemory) Write(addr bv.BV, val bv.BV) error        { return m.s.write(addr, val) }
func (m *cellMemory) Clone() Memory                            { return &cellMemory{s: m.s.clone()} }
