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

package bitutil

// ClearMask returns a mask with bits [first, last) set, suitable for
// clearing the corresponding bits of a 64-bit cell before a sub-cell
// write: "build a clear-mask (ones where we will write)" from the
// cell-memory write algorithm.
func ClearMask(first, last uint64) uint64 {
	if first >= last || first >= 64 {
		return 0
	}
	if last >= 64 {
		return ^uint64(0) << first
	}
	return (uint64(1)<<(last-first) - 1) << first
}

// SliceBits extracts bits [lowInclusive, highInclusive] from v, the
// bit-level equivalent of LLVM IR's slice[high,low] structural operation.
func SliceBits(v uint64, highInclusive, lowInclusive uint) uint64 {
	width := highInclusive - lowInclusive + 1
	shifted := v >> lowInclusive
	if width >= 64 {
		return shifted
	}
	return shifted & (uint64(1)<<width - 1)
}

// ConcatLE concatenates hi above lo, with lo (loBits wide) occupying the
// low-order bits — the little-endian lane/cell concatenation order used
// throughout the memory and interpreter packages.
func ConcatLE(hi, lo uint64, loBits uint) uint64 {
	if loBits >= 64 {
		return lo
	}
	return (hi << loBits) | (lo & (uint64(1)<<loBits - 1))
}
