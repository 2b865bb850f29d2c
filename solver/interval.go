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

// Interval is a closed interval [Lo, Hi] of possible unsigned values a
// BV of some fixed width might take, used by the solver's abstract
// interpretation pre-pass (see intervals in search.go) to answer cheap range queries
// (min/max/could-be-equal) without invoking the backend SMT engine.
// Adapted from the teacher's half-open ints.Interval (ints/interval.go):
// here the interval is always closed and over uint64, since a BV's
// value space is bounded by its width rather than being open-ended.
type Interval struct {
	Lo, Hi uint64
}

// Full returns the unconstrained interval for a value of the given
// bit width.
func Full(width int) Interval {
	if width >= 64 {
		return Interval{0, ^uint64(0)}
	}
	return Interval{0, (uint64(1) << uint(width)) - 1}
}

// Single returns the interval containing exactly v.
func Single(v uint64) Interval { return Interval{v, v} }

// Empty reports whether in contains no values. A well-formed Interval
// never has Lo > Hi; Empty exists so callers can detect the sentinel
// returned by Intersect when two intervals don't overlap.
func (in Interval) Empty() bool { return in.Lo > in.Hi }

// Contains reports whether v lies within in.
func (in Interval) Contains(v uint64) bool {
	return !in.Empty() && v >= in.Lo && v <= in.Hi
}

// IsSingleton reports whether in contains exactly one value, returning
// it. Used to detect that a BV is fully determined without a solver
// round-trip.
func (in Interval) IsSingleton() (uint64, bool) {
	if !in.Empty() && in.Lo == in.Hi {
		return in.Lo, true
	}
	return 0, false
}

// Intersect returns the overlap of in and x, or the empty interval
// (Lo=1, Hi=0) if they don't overlap.
func (in Interval) Intersect(x Interval) Interval {
	lo := in.Lo
	if x.Lo > lo {
		lo = x.Lo
	}
	hi := in.Hi
	if x.Hi < hi {
		hi = x.Hi
	}
	if lo > hi {
		return Interval{1, 0}
	}
	return Interval{lo, hi}
}

// Union returns the smallest interval covering both in and x. Unlike
// Intersect this is necessarily an over-approximation when in and x
// are disjoint, which is acceptable: this interval lattice is used
// only to prune candidate values before asking the real solver, never
// as a soundness-critical final answer.
func (in Interval) Union(x Interval) Interval {
	if in.Empty() {
		return x
	}
	if x.Empty() {
		return in
	}
	lo := in.Lo
	if x.Lo < lo {
		lo = x.Lo
	}
	hi := in.Hi
	if x.Hi > hi {
		hi = x.Hi
	}
	return Interval{lo, hi}
}

// Add returns an over-approximation of the interval of sums of a value
// in `in` and a value in `x`, saturating at the given width's maximum
// rather than wrapping, since the purpose here is pruning candidates,
// not exact modular arithmetic.
func (in Interval) Add(x Interval, width int) Interval {
	max := Full(width).Hi
	lo := in.Lo + x.Lo
	hi := in.Hi + x.Hi
	if lo < in.Lo || lo > max { // overflow
		return Full(width)
	}
	if hi < in.Hi || hi > max {
		hi = max
	}
	return Interval{lo, hi}
}

// MustBeDisjoint reports whether in and x provably share no values,
// i.e. whether Intersect is empty. A true result lets the solver
// answer bvs_must_be_equal's negation and bvs_can_be_equal's negation
// without a backend query; a false result is inconclusive and the
// caller must fall back to the real solver.
func (in Interval) MustBeDisjoint(x Interval) bool {
	return in.Intersect(x).Empty()
}
