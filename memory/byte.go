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

// ByteBits is the cell granularity of the byte-based backend, grounded
// on src/simple_memory.rs's finer-grained (byte-addressed) array.
const ByteBits = 8

// byteMemory is the 8-bit-cell backend (src/simple_memory.rs): every
// access touches exactly as many cells as it has bytes, which is
// simpler to reason about (no masking within a cell is ever needed for
// a byte-aligned access) at the cost of one map entry per byte rather
// than per word.
type byteMemory struct{ s *store }

// NewByteMemory returns an 8-bit-cell Memory.
func NewByteMemory(name string, nullDetection, zeroInitialized bool) Memory {
	return &byteMemory{s: newStore(name, ByteBits, nullDetection, zeroInitialized)}
}

func (m *byteMemory) Read(addr bv.BV, bits int) (bv.BV, error) { return m.s.read(addr, bits) }
func (m *byteMemory) Write(addr bv.BV, val bv.BV) error        { return m.s.write(addr, val) }
func (m *byteMemory) Clone() Memory                            { return &byteMemory{s: m.s.clone()} }
