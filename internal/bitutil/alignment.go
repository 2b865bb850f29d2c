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

// Package bitutil holds the byte/bit alignment and bit-range arithmetic
// shared by the allocator and the two memory backends: everything here
// operates on byte offsets and cell-relative bit offsets, never on BV
// expressions themselves.
package bitutil

import "golang.org/x/exp/constraints"

// AlignedDown rounds v down to the nearest multiple of alignment.
func AlignedDown(v, alignment uint64) uint64 {
	return (v / alignment) * alignment
}

// AlignedUp rounds v up to the nearest multiple of alignment.
func AlignedUp(v, alignment uint64) uint64 {
	return ((v + alignment - 1) / alignment) * alignment
}

// IsAligned reports whether v is an integer multiple of alignment.
func IsAligned(v, alignment uint64) bool {
	return v%alignment == 0
}

// CellOf returns the index of the cellBits-wide cell containing bit offset
// bitOffset, i.e. the address-to-cell-number step of the cell memory model.
func CellOf[T constraints.Unsigned](bitOffset, cellBits T) T {
	return bitOffset / cellBits
}

// ChunkCount returns the number of chunkSize-sized chunks needed to hold n
// units (bytes needed for n bits, cells needed for n bytes, and so on).
func ChunkCount[T constraints.Unsigned](n, chunkSize T) T {
	return (n + chunkSize - 1) / chunkSize
}

// CrossesBoundary reports whether reading/writing width bits starting at
// bitOffset (relative to some base address) straddles a cellBits-wide cell
// boundary.
func CrossesBoundary(bitOffset, width, cellBits uint64) bool {
	return CellOf(bitOffset, cellBits) != CellOf(bitOffset+width-1, cellBits)
}
