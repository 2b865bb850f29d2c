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

package solver

import "github.com/PLSysSec/haybale/bv"

// satCache memoizes sat/unsat verdicts keyed on the combined structural
// hash of an assertion set (bv.Expr.Hash, itself a SipHash digest).
// Symbolic execution re-asks overlapping constraint sets constantly —
// each branch point adds one constraint to an otherwise-unchanged
// stack — so this turns most repeated Sat() calls along a path into a
// map lookup instead of a fresh search.
type satCache struct {
	verdicts map[bv.Hash128]bool
}

func newSATCache() *satCache {
	return &satCache{verdicts: make(map[bv.Hash128]bool)}
}

// key combines the structural hashes of every constraint in cs into a
// single order-independent cache key (wrapping addition is
// order-independent, which is correct here since a constraint set is a
// conjunction). ok is
// false only if cs is empty, in which case there is nothing useful to
// cache.
func (c *satCache) key(cs []*bv.Expr) (bv.Hash128, bool) {
	if len(cs) == 0 {
		return bv.Hash128{}, false
	}
	var hi, lo uint64
	for _, e := range cs {
		// Combine by addition rather than XOR so that e.g. {A, A}
		// doesn't cancel to the same key as {} would, and so duplicate
		// constraints still perturb the key rather than being absorbed
		// by XOR's self-inverse property.
		eh := e.Hash()
		hi += eh.Hi<<1 | eh.Hi>>63
		lo += eh.Lo<<1 | eh.Lo>>63
	}
	return bv.Hash128{Hi: hi, Lo: lo}, true
}

func (c *satCache) get(key bv.Hash128) (sat bool, ok bool) {
	sat, ok = c.verdicts[key]
	return
}

func (c *satCache) put(key bv.Hash128, sat bool) {
	c.verdicts[key] = sat
}
