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

// Package bv implements the symbolic bitvector and boolean values that
// flow through the interpreter: an expression tree over a small fixed
// set of node kinds, plus a structural hash used as the solver's
// fast-path cache key (see solver.Solver). Nodes are immutable once
// built, so a BV can be freely shared between cloned States (spec §5).
package bv

import "fmt"

// Kind tags the shape of an Expr node. As with ir.Opcode, dispatch on
// Kind is an exhaustive switch rather than a per-kind interface method
// set, following the teacher's tagged-node style (expr/node.go, and
// more directly vm/bytecode.go's opcode-tagged instruction stream).
type Kind int

const (
	KindVar Kind = iota
	KindConst
	KindAdd
	KindSub
	KindMul
	KindUDiv
	KindSDiv
	KindURem
	KindSRem
	KindAnd
	KindOr
	KindXor
	KindNot
	KindShl
	KindLShr
	KindAShr
	KindZExt
	KindSExt
	KindTrunc
	KindConcat
	KindExtract
	KindIte // if-then-else: Bool cond, BV-or-Bool consequent/alternative

	// boolean-only kinds
	KindBoolConst
	KindEq
	KindNe
	KindUlt
	KindUle
	KindUgt
	KindUge
	KindSlt
	KindSle
	KindSgt
	KindSge
	KindBoolAnd
	KindBoolOr
	KindBoolNot
	KindBoolXor

	// overflow predicates for the "with overflow"/saturating intrinsic
	// family (hooks.Intrinsics): boolean-kinded, L/R are the two
	// operands at their own (equal) width.
	KindUAddOverflow
	KindSAddOverflow
	KindUSubOverflow
	KindSSubOverflow
	KindUMulOverflow
	KindSMulOverflow
)

// Expr is one node of a symbolic expression tree. BV and Bool are both
// thin typed wrappers around *Expr so that the Go type system catches
// width-class mistakes (passing a boolean where a bitvector is wanted)
// at the API boundary, while sharing one underlying representation and
// one hashing/caching scheme.
type Expr struct {
	Kind Kind
	Width int // bit width; meaningless (0) for boolean-kinded nodes

	// KindVar
	VarName string

	// KindConst: low 64 bits only, matching ir.Constant.IntVal (spec §1
	// non-goal: no arbitrary-precision constants)
	ConstVal uint64

	// KindBoolConst
	BoolVal bool

	// most binops/unops/comparisons
	L, R *Expr

	// KindIte
	Cond, Then, Else *Expr

	// KindZExt/KindSExt/KindTrunc: target width is Width; source is L
	// KindExtract: High/Low inclusive bit indices into L
	High, Low int

	hashHi, hashLo uint64
	hashedOK       bool
}

// BV is a symbolic bitvector value of a fixed width.
type BV struct{ e *Expr }

// Bool is a symbolic boolean value.
type Bool struct{ e *Expr }

// Width returns the bit width of v.
func (v BV) Width() int { return v.e.Width }

// Expr exposes the underlying expression node, for solver/memory code
// that needs to pattern-match on Kind.
func (v BV) Expr() *Expr   { return v.e }
func (v Bool) Expr() *Expr { return v.e }

// IsValid reports whether v wraps a non-nil node (the zero BV/Bool is
// invalid and must never be fed to the solver).
func (v BV) IsValid() bool   { return v.e != nil }
func (v Bool) IsValid() bool { return v.e != nil }

func (v BV) String() string   { return v.e.String() }
func (v Bool) String() string { return v.e.String() }

func bv(e *Expr) BV     { return BV{e} }
func boolean(e *Expr) Bool { return Bool{e} }

// FromExpr wraps an existing expression node as a BV. Used by packages
// (memory, varmap) that store raw *Expr nodes internally and need to
// hand a typed BV back out to callers.
func FromExpr(e *Expr) BV { return BV{e} }

// FromBoolExpr wraps an existing expression node as a Bool.
func FromBoolExpr(e *Expr) Bool { return Bool{e} }

// Var creates a fresh free variable of the given width and name. Names
// need not be unique; varmap.Map is responsible for making them so
// (spec §3 Variable map).
func Var(name string, width int) BV {
	return bv(&Expr{Kind: KindVar, Width: width, VarName: name})
}

// BoolVar creates a fresh free boolean variable.
func BoolVar(name string) Bool {
	return boolean(&Expr{Kind: KindVar, VarName: name})
}

// Const creates a constant bitvector, truncating value to width bits.
func Const(value uint64, width int) BV {
	return bv(&Expr{Kind: KindConst, Width: width, ConstVal: maskTo(value, width)})
}

// Zero returns the zero constant of the given width.
func Zero(width int) BV { return Const(0, width) }

// BoolConst creates a constant boolean.
func BoolConst(b bool) Bool {
	return boolean(&Expr{Kind: KindBoolConst, BoolVal: b})
}

func maskTo(v uint64, width int) uint64 {
	if width >= 64 {
		return v
	}
	return v & ((uint64(1) << uint(width)) - 1)
}

// AsConst reports whether v is a literal constant, returning its value
// if so. Used throughout the interpreter and hooks to take fast
// concrete-value paths without consulting the solver (spec §4.A).
func (v BV) AsConst() (uint64, bool) {
	if v.e.Kind == KindConst {
		return v.e.ConstVal, true
	}
	return 0, false
}

// AsConst reports whether v is a literal boolean constant.
func (v Bool) AsConst() (bool, bool) {
	if v.e.Kind == KindBoolConst {
		return v.e.BoolVal, true
	}
	return false, false
}

func (e *Expr) String() string {
	switch e.Kind {
	case KindVar:
		return e.VarName
	case KindConst:
		return fmt.Sprintf("%d", e.ConstVal)
	case KindBoolConst:
		return fmt.Sprintf("%v", e.BoolVal)
	case KindIte:
		return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else)
	case KindZExt:
		return fmt.Sprintf("(zext_%d %s)", e.Width, e.L)
	case KindSExt:
		return fmt.Sprintf("(sext_%d %s)", e.Width, e.L)
	case KindTrunc:
		return fmt.Sprintf("(trunc_%d %s)", e.Width, e.L)
	case KindExtract:
		return fmt.Sprintf("(extract %d %d %s)", e.High, e.Low, e.L)
	case KindBoolNot:
		return fmt.Sprintf("(not %s)", e.L)
	case KindNot:
		return fmt.Sprintf("(bvnot %s)", e.L)
	default:
		return fmt.Sprintf("(%s %s %s)", kindName(e.Kind), e.L, e.R)
	}
}

func kindName(k Kind) string {
	names := map[Kind]string{
		KindAdd: "+", KindSub: "-", KindMul: "*", KindUDiv: "udiv", KindSDiv: "sdiv",
		KindURem: "urem", KindSRem: "srem", KindAnd: "and", KindOr: "or", KindXor: "xor",
		KindShl: "shl", KindLShr: "lshr", KindAShr: "ashr", KindConcat: "concat",
		KindEq: "=", KindNe: "!=", KindUlt: "<u", KindUle: "<=u", KindUgt: ">u", KindUge: ">=u",
		KindSlt: "<s", KindSle: "<=s", KindSgt: ">s", KindSge: ">=s",
		KindBoolAnd: "&&", KindBoolOr: "||", KindBoolXor: "xor",
		KindUAddOverflow: "uaddo", KindSAddOverflow: "saddo",
		KindUSubOverflow: "usubo", KindSSubOverflow: "ssubo",
		KindUMulOverflow: "umulo", KindSMulOverflow: "smulo",
	}
	if n, ok := names[k]; ok {
		return n
	}
	return "?"
}
