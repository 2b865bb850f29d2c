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

func binop(k Kind, width int, l, r BV) BV {
	return bv(&Expr{Kind: k, Width: width, L: l.e, R: r.e})
}

func cmpop(k Kind, l, r BV) Bool {
	return boolean(&Expr{Kind: k, L: l.e, R: r.e})
}

// Add, Sub, Mul are width-preserving two's-complement arithmetic;
// caller must ensure l.Width() == r.Width().
func Add(l, r BV) BV { return foldOrBuild(KindAdd, l, r, func(a, b uint64) uint64 { return a + b }) }
func Sub(l, r BV) BV { return foldOrBuild(KindSub, l, r, func(a, b uint64) uint64 { return a - b }) }
func Mul(l, r BV) BV { return foldOrBuild(KindMul, l, r, func(a, b uint64) uint64 { return a * b }) }

// UDiv/URem are unsigned; SDiv/SRem sign-extend per l's width before
// dividing. Division-by-symbolic-zero handling is a solver/config
// concern (spec §9 Open Question), not this package's.
func UDiv(l, r BV) BV { return binop(KindUDiv, l.Width(), l, r) }
func URem(l, r BV) BV { return binop(KindURem, l.Width(), l, r) }
func SDiv(l, r BV) BV { return binop(KindSDiv, l.Width(), l, r) }
func SRem(l, r BV) BV { return binop(KindSRem, l.Width(), l, r) }

func And(l, r BV) BV { return foldOrBuild(KindAnd, l, r, func(a, b uint64) uint64 { return a & b }) }
func Or(l, r BV) BV  { return foldOrBuild(KindOr, l, r, func(a, b uint64) uint64 { return a | b }) }
func Xor(l, r BV) BV { return foldOrBuild(KindXor, l, r, func(a, b uint64) uint64 { return a ^ b }) }

// Not is bitwise complement (bvnot), distinct from boolean Bool.Not.
func Not(v BV) BV {
	if c, ok := v.AsConst(); ok {
		return Const(^c, v.Width())
	}
	return bv(&Expr{Kind: KindNot, Width: v.Width(), L: v.e})
}

func Shl(l, r BV) BV  { return binop(KindShl, l.Width(), l, r) }
func LShr(l, r BV) BV { return binop(KindLShr, l.Width(), l, r) }
func AShr(l, r BV) BV { return binop(KindAShr, l.Width(), l, r) }

// Nand, Nor, Xnor are the complemented bitwise ops (spec §3), built as
// pure compositions of And/Or/Xor/Not rather than dedicated Kinds: no
// solver or interpreter code needs to pattern-match on them
// specially, so there's nothing a new Kind would buy.
func Nand(l, r BV) BV { return Not(And(l, r)) }
func Nor(l, r BV) BV  { return Not(Or(l, r)) }
func Xnor(l, r BV) BV { return Not(Xor(l, r)) }

// Redand reduces v's bits through AND, producing the single-bit
// decision "every bit of v is set" — equivalent to comparing v against
// its width's all-ones constant.
func Redand(v BV) Bool {
	w := v.Width()
	return Eq(v, Const(^uint64(0), w))
}

// Redor reduces v's bits through OR, producing the single-bit decision
// "at least one bit of v is set".
func Redor(v BV) Bool {
	return Ne(v, Zero(v.Width()))
}

// Rotl rotates v left by amt bits (amt taken mod v's width, matching
// LLVM's funnel-shift semantics), built from Shl/LShr/Or/URem so no
// new Kind or solver case is needed: a left rotate is a left shift
// combined with the bits it pushed out, shifted back in from the low
// end by a right shift of the complementary amount.
func Rotl(v, amt BV) BV {
	w := v.Width()
	amtMod := URem(amt, Const(uint64(w), w))
	right := Sub(Const(uint64(w), w), amtMod)
	return Or(Shl(v, amtMod), LShr(v, right))
}

// Rotr rotates v right by amt bits, the mirror image of Rotl.
func Rotr(v, amt BV) BV {
	w := v.Width()
	amtMod := URem(amt, Const(uint64(w), w))
	left := Sub(Const(uint64(w), w), amtMod)
	return Or(LShr(v, amtMod), Shl(v, left))
}

// ZExt zero-extends v to toWidth.
func ZExt(v BV, toWidth int) BV {
	if toWidth == v.Width() {
		return v
	}
	if c, ok := v.AsConst(); ok {
		return Const(c, toWidth)
	}
	return bv(&Expr{Kind: KindZExt, Width: toWidth, L: v.e})
}

// SExt sign-extends v to toWidth.
func SExt(v BV, toWidth int) BV {
	if toWidth == v.Width() {
		return v
	}
	return bv(&Expr{Kind: KindSExt, Width: toWidth, L: v.e})
}

// Trunc truncates v to toWidth (toWidth must be <= v.Width()).
func Trunc(v BV, toWidth int) BV {
	if toWidth == v.Width() {
		return v
	}
	if c, ok := v.AsConst(); ok {
		return Const(c, toWidth)
	}
	return bv(&Expr{Kind: KindTrunc, Width: toWidth, L: v.e})
}

// Concat concatenates hi (high bits) and lo (low bits) into a single
// value of combined width.
func Concat(hi, lo BV) BV {
	return bv(&Expr{Kind: KindConcat, Width: hi.Width() + lo.Width(), L: hi.e, R: lo.e})
}

// Extract pulls bits [low, high] (inclusive) out of v.
func Extract(v BV, high, low int) BV {
	return bv(&Expr{Kind: KindExtract, Width: high - low + 1, High: high, Low: low, L: v.e})
}

// Eq/Ne/unsigned and signed order comparisons.
func Eq(l, r BV) Bool  { return cmpop(KindEq, l, r) }
func Ne(l, r BV) Bool  { return cmpop(KindNe, l, r) }
func Ult(l, r BV) Bool { return cmpop(KindUlt, l, r) }
func Ule(l, r BV) Bool { return cmpop(KindUle, l, r) }
func Ugt(l, r BV) Bool { return cmpop(KindUgt, l, r) }
func Uge(l, r BV) Bool { return cmpop(KindUge, l, r) }
func Slt(l, r BV) Bool { return cmpop(KindSlt, l, r) }
func Sle(l, r BV) Bool { return cmpop(KindSle, l, r) }
func Sgt(l, r BV) Bool { return cmpop(KindSgt, l, r) }
func Sge(l, r BV) Bool { return cmpop(KindSge, l, r) }

// Ite builds a bitvector if-then-else.
func Ite(cond Bool, then, els BV) BV {
	if c, ok := cond.AsConst(); ok {
		if c {
			return then
		}
		return els
	}
	return bv(&Expr{Kind: KindIte, Width: then.Width(), Cond: cond.e, Then: then.e, Else: els.e})
}

// BoolIte builds a boolean if-then-else.
func BoolIte(cond, then, els Bool) Bool {
	if c, ok := cond.AsConst(); ok {
		if c {
			return then
		}
		return els
	}
	return boolean(&Expr{Kind: KindIte, Cond: cond.e, Then: then.e, Else: els.e})
}

func (b Bool) And(other Bool) Bool {
	if c, ok := b.AsConst(); ok {
		if !c {
			return b
		}
		return other
	}
	if c, ok := other.AsConst(); ok && !c {
		return other
	}
	return boolean(&Expr{Kind: KindBoolAnd, L: b.e, R: other.e})
}

func (b Bool) Or(other Bool) Bool {
	if c, ok := b.AsConst(); ok {
		if c {
			return b
		}
		return other
	}
	if c, ok := other.AsConst(); ok && c {
		return other
	}
	return boolean(&Expr{Kind: KindBoolOr, L: b.e, R: other.e})
}

func (b Bool) Not() Bool {
	if c, ok := b.AsConst(); ok {
		return BoolConst(!c)
	}
	return boolean(&Expr{Kind: KindBoolNot, L: b.e})
}

func (b Bool) Xor(other Bool) Bool {
	return boolean(&Expr{Kind: KindBoolXor, L: b.e, R: other.e})
}

// UAddOverflow/SAddOverflow/USubOverflow/SSubOverflow/UMulOverflow/
// SMulOverflow report whether the unsigned or signed form of the named
// operation on l and r overflows the common operand width, for the
// llvm.{u,s}{add,sub,mul}.with.overflow intrinsic family. The plain
// (possibly wrapped) result is still available via Add/Sub/Mul; the
// caller concatenates the two per the intrinsic's {i1, iN} return
// struct.
func UAddOverflow(l, r BV) Bool { return boolean(&Expr{Kind: KindUAddOverflow, L: l.e, R: r.e}) }
func SAddOverflow(l, r BV) Bool { return boolean(&Expr{Kind: KindSAddOverflow, L: l.e, R: r.e}) }
func USubOverflow(l, r BV) Bool { return boolean(&Expr{Kind: KindUSubOverflow, L: l.e, R: r.e}) }
func SSubOverflow(l, r BV) Bool { return boolean(&Expr{Kind: KindSSubOverflow, L: l.e, R: r.e}) }
func UMulOverflow(l, r BV) Bool { return boolean(&Expr{Kind: KindUMulOverflow, L: l.e, R: r.e}) }
func SMulOverflow(l, r BV) Bool { return boolean(&Expr{Kind: KindSMulOverflow, L: l.e, R: r.e}) }

// UAddSat/SAddSat/USubSat/SSubSat are the saturating-arithmetic
// intrinsics (uadds/sadds/usubs/ssubs): the wrapped result clamped to
// the operand width's unsigned or signed extreme on overflow, built
// entirely from the overflow predicates and Ite so evalBV never needs
// to special-case saturation itself.
func UAddSat(l, r BV) BV {
	w := l.Width()
	return Ite(UAddOverflow(l, r), Const(^uint64(0), w), Add(l, r))
}

func USubSat(l, r BV) BV {
	w := l.Width()
	return Ite(USubOverflow(l, r), Const(0, w), Sub(l, r))
}

func SAddSat(l, r BV) BV {
	w := l.Width()
	maxVal := Const((uint64(1)<<uint(w-1))-1, w)
	minVal := Const(uint64(1)<<uint(w-1), w)
	// on overflow, the sign of the (wrapped) result tells us which
	// extreme to saturate to: a positive overflow (two positives
	// summing past the max) wraps negative, and vice versa.
	wrapped := Add(l, r)
	satToMax := Sge(wrapped, Zero(w)).Not()
	return Ite(SAddOverflow(l, r), Ite(satToMax, maxVal, minVal), wrapped)
}

func SSubSat(l, r BV) BV {
	w := l.Width()
	maxVal := Const((uint64(1)<<uint(w-1))-1, w)
	minVal := Const(uint64(1)<<uint(w-1), w)
	wrapped := Sub(l, r)
	satToMax := Sge(wrapped, Zero(w)).Not()
	return Ite(SSubOverflow(l, r), Ite(satToMax, maxVal, minVal), wrapped)
}

// foldOrBuild constant-folds commutative/associative-enough integer
// binops eagerly (a cheap, common win before anything reaches the
// solver) and otherwise builds the expression node.
func foldOrBuild(k Kind, l, r BV, f func(a, b uint64) uint64) BV {
	width := l.Width()
	lc, lok := l.AsConst()
	rc, rok := r.AsConst()
	if lok && rok {
		return Const(f(lc, rc), width)
	}
	return binop(k, width, l, r)
}
