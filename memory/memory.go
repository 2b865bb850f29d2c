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

// Package memory implements the flat byte-addressable symbolic memory
// of spec.md §4.B, as two backends sharing one algorithm (store.go):
// a 64-bit-cell backend (cell.go) and an 8-bit-cell backend (byte.go).
// Both give identical externally observable read/write semantics;
// cell granularity only affects how many underlying map entries a
// given access touches.
//
// Addresses must be concrete (addr.AsConst()) — this package has no
// SMT array theory behind it (see solver's package doc for why no such
// theory is available in this corpus), so a symbolic address has to be
// concretized by the caller first (interp's load/store handling does
// this by asking the solver for possible addresses and forking one path per
// candidate, mirroring how the interpreter already forks on symbolic
// branch conditions).
package memory

import "github.com/PLSysSec/haybale/bv"

// Memory is the read/write/clone surface the interpreter's load/store
// and the allocator consume.
type Memory interface {
	// Read returns the `bits`-wide value stored at addr. bits need not
	// be a multiple of the backend's cell size, and the access may
	// span multiple cells.
	Read(addr bv.BV, bits int) (bv.BV, error)

	// Write stores val at addr. val's width determines how many bits
	// are written.
	Write(addr bv.BV, val bv.BV) error

	// Clone returns an independent copy for backtracking (spec §5):
	// subsequent writes to either copy must not affect the other.
	Clone() Memory
}
