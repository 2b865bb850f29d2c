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
	"fmt"

	"golang.org/x/exp/maps"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/internal/bitutil"
)

// store is the shared implementation behind both the cell (64-bit) and
// byte (8-bit) backends: a sparse map from cell index to that cell's
// current symbolic content, ported from src/memory.rs's single-cell
// read/write (the mask-clear/mask-write bit trick) and generalized to
// src/cell_memory.rs's documented scope ("arbitrary addresses, sizes,
// and alignments", i.e. crossing cell boundaries) by reading/writing
// as many consecutive cells as the access spans.
type store struct {
	cells         map[uint64]*bv.Expr
	cellBits      int
	name          string
	nullDetection bool
	zeroInit      bool
	nextFresh     int
}

func newStore(name string, cellBits int, nullDetection, zeroInit bool) *store {
	return &store{
		cells:         make(map[uint64]*bv.Expr),
		cellBits:      cellBits,
		name:          name,
		nullDetection: nullDetection,
		zeroInit:      zeroInit,
	}
}

func (s *store) clone() *store {
	return &store{
		cells:         maps.Clone(s.cells),
		cellBits:      s.cellBits,
		name:          s.name,
		nullDetection: s.nullDetection,
		zeroInit:      s.zeroInit,
		nextFresh:     s.nextFresh,
	}
}

// getCell returns the BV currently stored at cell index idx, creating
// it (either as the zero constant or a fresh free variable, per
// zeroInit) on first access. Uninitialized memory is allocated lazily
// and exactly once per index so that reading the same never-written
// cell twice returns the same symbolic value both times, matching an
// SMT array constant's semantics.
func (s *store) getCell(idx uint64) bv.BV {
	if e, ok := s.cells[idx]; ok {
		return bv.FromExpr(e)
	}
	var fresh bv.BV
	if s.zeroInit {
		fresh = bv.Zero(s.cellBits)
	} else {
		fresh = bv.Var(fmt.Sprintf("%s_cell_%d_%d", s.name, idx, s.nextFresh), s.cellBits)
		s.nextFresh++
	}
	s.cells[idx] = fresh.Expr()
	return fresh
}

func (s *store) putCell(idx uint64, v bv.BV) {
	s.cells[idx] = v.Expr()
}

func (s *store) cellBytes() uint64 { return uint64(s.cellBits / 8) }

func (s *store) read(addr bv.BV, bits int) (bv.BV, error) {
	addrVal, ok := addr.AsConst()
	if !ok {
		return bv.BV{}, herror.New(herror.OtherError, "memory: address must be concrete, got a symbolic value")
	}
	if s.nullDetection && addrVal == 0 {
		return bv.BV{}, herror.New(herror.NullPointerDereference, "read of %d bits at address 0", bits)
	}
	if bits <= 0 {
		return bv.BV{}, herror.New(herror.MalformedInstruction, "memory: read of non-positive width %d", bits)
	}

	idx := addrVal / s.cellBytes()
	offsetBits := int(addrVal%s.cellBytes()) * 8

	numCells := int(bitutil.ChunkCount(uint64(offsetBits+bits), uint64(s.cellBits)))
	acc := s.getCell(idx)
	for i := 1; i < numCells; i++ {
		acc = bv.Concat(s.getCell(idx+uint64(i)), acc)
	}
	return bv.Extract(acc, offsetBits+bits-1, offsetBits), nil
}

func (s *store) write(addr bv.BV, val bv.BV) error {
	addrVal, ok := addr.AsConst()
	if !ok {
		return herror.New(herror.OtherError, "memory: address must be concrete, got a symbolic value")
	}
	if s.nullDetection && addrVal == 0 {
		return herror.New(herror.NullPointerDereference, "write of %d bits at address 0", val.Width())
	}
	bits := val.Width()
	if bits <= 0 {
		return herror.New(herror.MalformedInstruction, "memory: write of non-positive width %d", bits)
	}

	idx := addrVal / s.cellBytes()
	offsetBits := int(addrVal%s.cellBytes()) * 8

	numCells := int(bitutil.ChunkCount(uint64(offsetBits+bits), uint64(s.cellBits)))
	totalWidth := numCells * s.cellBits

	acc := s.getCell(idx)
	for i := 1; i < numCells; i++ {
		acc = bv.Concat(s.getCell(idx+uint64(i)), acc)
	}
	acc = bv.ZExt(acc, totalWidth)

	ones := bv.Not(bv.Zero(bits))                                       // all-ones of width `bits`
	clearMask := bv.Shl(bv.ZExt(ones, totalWidth), bv.Const(uint64(offsetBits), totalWidth))
	cleared := bv.And(acc, bv.Not(clearMask))
	inserted := bv.Shl(bv.ZExt(val, totalWidth), bv.Const(uint64(offsetBits), totalWidth))
	newAcc := bv.Or(cleared, inserted)

	for i := 0; i < numCells; i++ {
		cellVal := bv.Extract(newAcc, (i+1)*s.cellBits-1, i*s.cellBits)
		s.putCell(idx+uint64(i), cellVal)
	}
	return nil
}
