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
	"fmt"
	"math/bits"
	"sort"

	"github.com/PLSysSec/haybale/bv"
)

// assignment is a full or partial mapping from variable name to a
// concrete value, used by the brute-force search in search.go and by
// model extraction in solver.go.
type assignment map[string]uint64

// evalBV concretely evaluates e under assign. It is only ever called
// once every free variable in e has an entry in assign (the search loop
// in search.go guarantees this by construction).
func evalBV(e *bv.Expr, assign assignment) (uint64, error) {
	switch e.Kind {
	case bv.KindVar:
		v, ok := assign[e.VarName]
		if !ok {
			return 0, fmt.Errorf("no assignment for variable %q", e.VarName)
		}
		return v, nil
	case bv.KindConst:
		return e.ConstVal, nil
	}

	if e.Kind == bv.KindZExt || e.Kind == bv.KindSExt || e.Kind == bv.KindTrunc {
		l, err := evalBV(e.L, assign)
		if err != nil {
			return 0, err
		}
		srcWidth := e.L.Width
		switch e.Kind {
		case bv.KindZExt:
			return l, nil
		case bv.KindTrunc:
			return maskTo(l, e.Width), nil
		case bv.KindSExt:
			return signExtend(l, srcWidth, e.Width), nil
		}
	}
	if e.Kind == bv.KindExtract {
		l, err := evalBV(e.L, assign)
		if err != nil {
			return 0, err
		}
		shifted := l >> uint(e.Low)
		return maskTo(shifted, e.Width), nil
	}
	if e.Kind == bv.KindNot {
		l, err := evalBV(e.L, assign)
		if err != nil {
			return 0, err
		}
		return maskTo(^l, e.Width), nil
	}
	if e.Kind == bv.KindIte {
		c, err := evalBool(e.Cond, assign)
		if err != nil {
			return 0, err
		}
		if c {
			return evalBV(e.Then, assign)
		}
		return evalBV(e.Else, assign)
	}

	l, err := evalBV(e.L, assign)
	if err != nil {
		return 0, err
	}
	r, err := evalBV(e.R, assign)
	if err != nil {
		return 0, err
	}
	switch e.Kind {
	case bv.KindAdd:
		return maskTo(l+r, e.Width), nil
	case bv.KindSub:
		return maskTo(l-r, e.Width), nil
	case bv.KindMul:
		return maskTo(l*r, e.Width), nil
	case bv.KindUDiv:
		if r == 0 {
			return 0, fmt.Errorf("udiv by zero")
		}
		return maskTo(l/r, e.Width), nil
	case bv.KindURem:
		if r == 0 {
			return 0, fmt.Errorf("urem by zero")
		}
		return maskTo(l%r, e.Width), nil
	case bv.KindSDiv:
		if r == 0 {
			return 0, fmt.Errorf("sdiv by zero")
		}
		ls, rs := asSigned(l, e.L.Width), asSigned(r, e.R.Width)
		return maskTo(uint64(ls/rs), e.Width), nil
	case bv.KindSRem:
		if r == 0 {
			return 0, fmt.Errorf("srem by zero")
		}
		ls, rs := asSigned(l, e.L.Width), asSigned(r, e.R.Width)
		return maskTo(uint64(ls%rs), e.Width), nil
	case bv.KindAnd:
		return maskTo(l&r, e.Width), nil
	case bv.KindOr:
		return maskTo(l|r, e.Width), nil
	case bv.KindXor:
		return maskTo(l^r, e.Width), nil
	case bv.KindShl:
		return maskTo(l<<uint(r), e.Width), nil
	case bv.KindLShr:
		return maskTo(l>>uint(r), e.Width), nil
	case bv.KindAShr:
		ls := asSigned(l, e.L.Width)
		return maskTo(uint64(ls>>uint(r)), e.Width), nil
	case bv.KindConcat:
		return (l << uint(e.R.Width)) | r, nil
	}
	return 0, fmt.Errorf("evalBV: unhandled kind %d", e.Kind)
}

func evalBool(e *bv.Expr, assign assignment) (bool, error) {
	switch e.Kind {
	case bv.KindVar:
		v, ok := assign[e.VarName]
		if !ok {
			return false, fmt.Errorf("no assignment for variable %q", e.VarName)
		}
		return v != 0, nil
	case bv.KindBoolConst:
		return e.BoolVal, nil
	case bv.KindBoolNot:
		l, err := evalBool(e.L, assign)
		return !l, err
	case bv.KindBoolAnd:
		l, err := evalBool(e.L, assign)
		if err != nil || !l {
			return false, err
		}
		return evalBool(e.R, assign)
	case bv.KindBoolOr:
		l, err := evalBool(e.L, assign)
		if err != nil || l {
			return true, err
		}
		return evalBool(e.R, assign)
	case bv.KindBoolXor:
		l, err := evalBool(e.L, assign)
		if err != nil {
			return false, err
		}
		r, err := evalBool(e.R, assign)
		return l != r, err
	case bv.KindIte:
		c, err := evalBool(e.Cond, assign)
		if err != nil {
			return false, err
		}
		if c {
			return evalBool(e.Then, assign)
		}
		return evalBool(e.Else, assign)
	}

	l, err := evalBV(e.L, assign)
	if err != nil {
		return false, err
	}
	r, err := evalBV(e.R, assign)
	if err != nil {
		return false, err
	}
	lw := e.L.Width
	switch e.Kind {
	case bv.KindEq:
		return l == r, nil
	case bv.KindNe:
		return l != r, nil
	case bv.KindUlt:
		return l < r, nil
	case bv.KindUle:
		return l <= r, nil
	case bv.KindUgt:
		return l > r, nil
	case bv.KindUge:
		return l >= r, nil
	case bv.KindSlt:
		return asSigned(l, lw) < asSigned(r, lw), nil
	case bv.KindSle:
		return asSigned(l, lw) <= asSigned(r, lw), nil
	case bv.KindSgt:
		return asSigned(l, lw) > asSigned(r, lw), nil
	case bv.KindSge:
		return asSigned(l, lw) >= asSigned(r, lw), nil
	case bv.KindUAddOverflow:
		return maskTo(l+r, lw) < l, nil
	case bv.KindUSubOverflow:
		return l < r, nil
	case bv.KindUMulOverflow:
		hi, lo := bits.Mul64(l, r)
		return hi != 0 || maskTo(lo, lw) != lo, nil
	case bv.KindSAddOverflow:
		signBit := uint64(1) << uint(lw-1)
		lNeg, rNeg := l&signBit != 0, r&signBit != 0
		res := maskTo(l+r, lw)
		return lNeg == rNeg && (res&signBit != 0) != lNeg, nil
	case bv.KindSSubOverflow:
		signBit := uint64(1) << uint(lw-1)
		lNeg, rNeg := l&signBit != 0, r&signBit != 0
		res := maskTo(l-r, lw)
		return lNeg != rNeg && (res&signBit != 0) != lNeg, nil
	case bv.KindSMulOverflow:
		signBit := uint64(1) << uint(lw-1)
		lNeg, rNeg := l&signBit != 0, r&signBit != 0
		absL, absR := l, r
		if lNeg {
			absL = maskTo(^l+1, lw)
		}
		if rNeg {
			absR = maskTo(^r+1, lw)
		}
		hi, lo := bits.Mul64(absL, absR)
		limit := signBit - 1
		if lNeg != rNeg {
			limit = signBit
		}
		return hi != 0 || lo > limit, nil
	}
	return false, fmt.Errorf("evalBool: unhandled kind %d", e.Kind)
}

func maskTo(v uint64, width int) uint64 {
	if width >= 64 || width <= 0 {
		return v
	}
	return v & ((uint64(1) << uint(width)) - 1)
}

func asSigned(v uint64, width int) int64 {
	if width >= 64 {
		return int64(v)
	}
	signBit := uint64(1) << uint(width-1)
	if v&signBit != 0 {
		return int64(v) - int64(uint64(1)<<uint(width))
	}
	return int64(v)
}

func signExtend(v uint64, fromWidth, toWidth int) uint64 {
	signBit := uint64(1) << uint(fromWidth-1)
	if v&signBit == 0 {
		return maskTo(v, toWidth)
	}
	ones := ^uint64(0)
	if fromWidth < 64 {
		ones = ^((uint64(1) << uint(fromWidth)) - 1)
	}
	return maskTo(v|ones, toWidth)
}

// freeVar is one free variable discovered while walking an expression
// tree, paired with its bit width (0 for a boolean variable).
type freeVar struct {
	Name  string
	Width int
}

// collectVars returns every distinct free (KindVar) variable reachable
// from roots, sorted by name for deterministic search order.
func collectVars(roots ...*bv.Expr) []freeVar {
	seen := make(map[string]freeVar)
	var walk func(e *bv.Expr)
	walk = func(e *bv.Expr) {
		if e == nil {
			return
		}
		if e.Kind == bv.KindVar {
			if _, ok := seen[e.VarName]; !ok {
				seen[e.VarName] = freeVar{Name: e.VarName, Width: e.Width}
			}
			return
		}
		walk(e.L)
		walk(e.R)
		walk(e.Cond)
		walk(e.Then)
		walk(e.Else)
	}
	for _, r := range roots {
		walk(r)
	}
	out := make([]freeVar, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
