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

package bv

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// structural hash keys, fixed and arbitrary (any two processes hashing
// the same expression tree must agree, but there is no cross-process
// persistence requirement, so arbitrary fixed keys are fine).
const (
	hashK0 = 0x646168_79626c65
	hashK1 = 0x736f6c7665725f30
)

// Hash128 is a 128-bit structural hash, comparable with ==.
type Hash128 struct{ Hi, Lo uint64 }

// Hash returns a 128-bit structural hash of the expression tree rooted
// at e, memoized on the node itself. Two structurally identical trees
// (same Kind, same children, same constants/widths) built from scratch
// hash equal; this is used as the solver's fast-path cache key
// (solver.Solver) to recognize "have we already asked this exact query"
// without going through an SMT-style canonicalization pass. The full
// 128 bits of SipHash's double-width variant are kept (rather than
// truncating to 64) since the cache key is also used to fold together
// an entire constraint set (solver/cache.go) and a single uint64 gives
// up too much collision resistance for that combined use.
func (e *Expr) Hash() Hash128 {
	if e.hashedOK {
		return Hash128{e.hashHi, e.hashLo}
	}
	var buf []byte
	buf = appendHash(buf, e)
	hi, lo := siphash.Hash128(hashK0, hashK1, buf)
	e.hashHi, e.hashLo = hi, lo
	e.hashedOK = true
	return Hash128{hi, lo}
}

// Hash returns the structural hash of v's expression tree.
func (v BV) Hash() Hash128   { return v.e.Hash() }
func (v Bool) Hash() Hash128 { return v.e.Hash() }

func appendHash(buf []byte, e *Expr) []byte {
	if e == nil {
		return append(buf, 0xff)
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(e.Kind))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(e.Width))
	buf = append(buf, tmp[:]...)

	switch e.Kind {
	case KindVar:
		buf = append(buf, []byte(e.VarName)...)
	case KindConst:
		binary.LittleEndian.PutUint64(tmp[:], e.ConstVal)
		buf = append(buf, tmp[:]...)
	case KindBoolConst:
		if e.BoolVal {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindExtract, KindZExt, KindSExt, KindTrunc:
		binary.LittleEndian.PutUint64(tmp[:], uint64(e.High))
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], uint64(e.Low))
		buf = append(buf, tmp[:]...)
		buf = appendHash(buf, e.L)
	case KindIte:
		buf = appendHash(buf, e.Cond)
		buf = appendHash(buf, e.Then)
		buf = appendHash(buf, e.Else)
	default:
		buf = appendHash(buf, e.L)
		buf = appendHash(buf, e.R)
	}
	return buf
}

// Equal reports whether a and b are structurally identical expression
// trees (not whether they are provably semantically equal — that is
// solver.BVsMustBeEqual's job).
func Equal(a, b *Expr) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Hash() != b.Hash() {
		return false
	}
	if a.Kind != b.Kind || a.Width != b.Width {
		return false
	}
	switch a.Kind {
	case KindVar:
		return a.VarName == b.VarName
	case KindConst:
		return a.ConstVal == b.ConstVal
	case KindBoolConst:
		return a.BoolVal == b.BoolVal
	case KindExtract, KindZExt, KindSExt, KindTrunc:
		return a.High == b.High && a.Low == b.Low && Equal(a.L, b.L)
	case KindIte:
		return Equal(a.Cond, b.Cond) && Equal(a.Then, b.Then) && Equal(a.Else, b.Else)
	default:
		return Equal(a.L, b.L) && Equal(a.R, b.R)
	}
}
