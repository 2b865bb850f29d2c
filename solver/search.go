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

import (
	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/internal/heapq"
)

// intervals runs a single forward pass of interval abstract
// interpretation over constraints, narrowing each free variable's
// Interval from its width-implied Full range down to whatever a
// top-level `var OP const` or `const OP var` comparison directly
// implies. This is deliberately shallow (one pass, no fixpoint
// iteration across conjuncts referencing the same variable through
// intermediate terms) — it exists purely to shrink the brute-force
// search space in search(), not to decide satisfiability on its own.
func intervals(vars []freeVar, constraints []*bv.Expr) map[string]Interval {
	bounds := make(map[string]Interval, len(vars))
	for _, v := range vars {
		if v.Width > 0 {
			bounds[v.Name] = Full(v.Width)
		} else {
			bounds[v.Name] = Interval{0, 1} // boolean: false or true
		}
	}
	for _, c := range constraints {
		narrowFromConstraint(c, bounds)
	}
	return bounds
}

func narrowFromConstraint(e *bv.Expr, bounds map[string]Interval) {
	if e == nil {
		return
	}
	switch e.Kind {
	case bv.KindBoolAnd:
		narrowFromConstraint(e.L, bounds)
		narrowFromConstraint(e.R, bounds)
		return
	case bv.KindEq, bv.KindUlt, bv.KindUle, bv.KindUgt, bv.KindUge:
		name, isVar := "", false
		var konst uint64
		flipped := false
		if e.L.Kind == bv.KindVar && e.R.Kind == bv.KindConst {
			name, konst, isVar = e.L.VarName, e.R.ConstVal, true
		} else if e.R.Kind == bv.KindVar && e.L.Kind == bv.KindConst {
			name, konst, isVar = e.R.VarName, e.L.ConstVal, true
			flipped = true
		}
		if !isVar {
			return
		}
		cur, ok := bounds[name]
		if !ok {
			return
		}
		var derived Interval
		switch e.Kind {
		case bv.KindEq:
			derived = Single(konst)
		case bv.KindUlt:
			if flipped {
				derived = Interval{konst + 1, cur.Hi}
			} else {
				if konst == 0 {
					derived = Interval{1, 0}
				} else {
					derived = Interval{cur.Lo, konst - 1}
				}
			}
		case bv.KindUle:
			if flipped {
				derived = Interval{konst, cur.Hi}
			} else {
				derived = Interval{cur.Lo, konst}
			}
		case bv.KindUgt:
			if flipped {
				if konst == 0 {
					derived = Interval{1, 0}
				} else {
					derived = Interval{cur.Lo, konst - 1}
				}
			} else {
				derived = Interval{konst + 1, cur.Hi}
			}
		case bv.KindUge:
			if flipped {
				derived = Interval{cur.Lo, konst}
			} else {
				derived = Interval{konst, cur.Hi}
			}
		}
		bounds[name] = cur.Intersect(derived)
	}
}

// search exhaustively enumerates assignments to vars, ordered by
// proximity to each variable's interval bounds (closest-to-bounds
// first, via a heapq-ordered candidate queue — useful because
// min/max_possible_solution queries usually find their answer at an
// extreme almost immediately), and returns the first one under which
// every constraint in constraints holds. maxAssignments bounds the
// total number of combinations tried; exceeding it without deciding
// satisfiability is reported via ok=false, budgetExceeded=true.
func search(vars []freeVar, bounds map[string]Interval, constraints []*bv.Expr, maxAssignments int) (assignment, bool, bool) {
	domains := make([][]uint64, len(vars))
	size := 1
	for i, v := range vars {
		b := bounds[v.Name]
		if b.Empty() {
			return nil, false, false
		}
		domains[i] = candidateOrder(b, maxAssignments)
		size *= len(domains[i])
	}
	if size > maxAssignments {
		return nil, false, true
	}

	assign := make(assignment, len(vars))
	var rec func(i int) (bool, bool)
	rec = func(i int) (bool, bool) {
		if i == len(vars) {
			for _, c := range constraints {
				ok, err := evalBool(c, assign)
				if err != nil || !ok {
					return false, false
				}
			}
			return true, false
		}
		for _, cand := range domains[i] {
			assign[vars[i].Name] = cand
			if found, exceeded := rec(i + 1); found || exceeded {
				return found, exceeded
			}
		}
		return false, false
	}
	found, _ := rec(0)
	if !found {
		return nil, false, false
	}
	return assign, true, false
}

// candidateOrder returns the values in [b.Lo, b.Hi] ordered by
// min-heap distance from the nearer bound (on equal distance the value
// counted from b.Lo comes first), capped at `cap` entries so
// a single huge-width unconstrained variable can't blow the budget on
// its own (the overall product check in search still applies on top
// of this).
func candidateOrder(b Interval, cap int) []uint64 {
	n := b.Hi - b.Lo + 1
	if n == 0 || n > uint64(cap) {
		n = uint64(cap)
	}
	var h []heapq.Item
	for i := uint64(0); i < n; i++ {
		lo := b.Lo + i
		hi := b.Hi - i
		if lo > b.Hi {
			break
		}
		dLo := i
		dHi := b.Hi - hi
		heapq.Push(&h, heapq.Item{Value: lo, Dist: 2 * dLo})
		if hi != lo {
			heapq.Push(&h, heapq.Item{Value: hi, Dist: 2*dHi + 1})
		}
	}
	out := make([]uint64, 0, len(h))
	seen := make(map[uint64]bool, len(h))
	for len(h) > 0 && len(out) < cap {
		c := heapq.Pop(&h)
		if !seen[c.Value] {
			seen[c.Value] = true
			out = append(out, c.Value)
		}
	}
	return out
}
