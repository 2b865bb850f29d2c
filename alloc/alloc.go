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

// Package alloc implements the monotonic bump allocator behind
// alloca/malloc-style allocations (spec.md §4.C): addresses are handed
// out from an ever-increasing cursor and never reused, since a
// symbolic-execution heap has no concept of the allocation later going
// out of scope in a way that matters for correctness.
package alloc

import (
	"fmt"

	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/internal/bitutil"
)

// Start is the first address handed out, grounded on
// src/alloc.rs's Alloc::ALLOC_START.
const Start = 0x1000_0000

// MaxSizeBytes bounds a single allocation request; requests above this
// (when the size is otherwise unbounded, e.g. a malloc hook that
// couldn't concretize its size argument) are rejected rather than
// silently truncated, per src/alloc_utils.rs's warning-and-proceed
// policy widened into a hard error (a warning that nobody reads is
// not meaningfully different from not checking at all).
const MaxSizeBytes = 1 << 20

// Alloc is a bump allocator over a single flat address space, parameterized
// by the cell size of the memory backend it allocates into (so that its
// "never cross a cell boundary for sub-cell sizes, always start at a cell
// boundary for super-cell sizes" invariant lines up with whichever backend
// (memory.CellBits or memory.ByteBits) the caller is using).
type Alloc struct {
	cursor   uint64
	cellBytes uint64

	// sizes records the byte length of every allocation made so far,
	// keyed by its start address, so GetAllocationSize (used by
	// realloc) can answer without the caller tracking it separately.
	sizes map[uint64]uint64
}

// New returns an Alloc that hands out addresses starting at Start,
// respecting the given memory backend's cell size in bytes (8 for the
// cell backend, 1 for the byte backend).
func New(cellBytes uint64) *Alloc {
	return &Alloc{
		cursor:    Start,
		cellBytes: cellBytes,
		sizes:     make(map[uint64]uint64),
	}
}

// Alloc reserves bits bits of address space and returns the address of
// the new allocation. bits must be a whole number of bytes.
//
// Internal invariants (src/alloc.rs): an allocation no larger than one
// cell never crosses a cell boundary; an allocation larger than one
// cell always starts at a cell boundary.
func (a *Alloc) Alloc(bits uint64) (uint64, error) {
	if bits%8 != 0 {
		return 0, herror.New(herror.OtherError, "alloc: requested %d bits, which is not a whole number of bytes", bits)
	}
	bytes := bits / 8
	if bytes > MaxSizeBytes {
		return 0, herror.New(herror.OtherError, "alloc: requested allocation of %d bytes exceeds the maximum of %d", bytes, MaxSizeBytes)
	}

	currentOffset := a.cursor % a.cellBytes
	remainingInCell := a.cellBytes - currentOffset
	if bytes > remainingInCell {
		a.cursor += remainingInCell
		if !bitutil.IsAligned(a.cursor, a.cellBytes) {
			return 0, fmt.Errorf("alloc: internal error, cursor %#x not cell-aligned after padding", a.cursor)
		}
	}

	addr := a.cursor
	a.cursor += bytes
	a.sizes[addr] = bytes
	return addr, nil
}

// GetAllocationSize returns the byte size of the allocation starting at
// addr, if addr is a known allocation start.
func (a *Alloc) GetAllocationSize(addr uint64) (uint64, bool) {
	n, ok := a.sizes[addr]
	return n, ok
}

// Clone returns an independent copy of a for State.Clone (spec §5).
func (a *Alloc) Clone() *Alloc {
	cp := &Alloc{cursor: a.cursor, cellBytes: a.cellBytes, sizes: make(map[uint64]uint64, len(a.sizes))}
	for k, v := range a.sizes {
		cp.sizes[k] = v
	}
	return cp
}
