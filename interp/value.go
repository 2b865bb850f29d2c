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

package interp

import (
	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/globals"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/state"
)

// isI1 reports whether t is the scalar single-bit integer type: the
// varmap distinguishes a Bool binding from a BV binding by name, not by
// type, so interp needs its own rule for which IR values are Bool-
// valued. Only a scalar i1 is; a vector of i1 is packed as a BV with
// one bit per lane instead.
func isI1(t ir.Type) bool {
	it, ok := t.(ir.IntType)
	return ok && it.Width == 1
}

// boolToBV widens a Bool to a one-bit BV (0 or 1).
func boolToBV(b bv.Bool) bv.BV {
	return bv.Ite(b, bv.Const(1, 1), bv.Zero(1))
}

// bvToBool narrows a one-bit BV to a Bool.
func bvToBool(v bv.BV) bv.Bool {
	if c, ok := v.AsConst(); ok {
		return bv.BoolConst(c != 0)
	}
	return bv.Ne(v, bv.Zero(v.Width()))
}

// adjustWidth truncates or zero-extends v to exactly width bits.
func adjustWidth(v bv.BV, width int) bv.BV {
	if v.Width() == width {
		return v
	}
	if v.Width() > width {
		return bv.Trunc(v, width)
	}
	return bv.ZExt(v, width)
}

// widenSigned truncates or sign-extends v to exactly toWidth bits,
// matching how a getelementptr index (always treated as signed by
// LLVM) must be widened to the pointer's width before scaling.
func widenSigned(v bv.BV, toWidth int) bv.BV {
	if v.Width() == toWidth {
		return v
	}
	if v.Width() > toWidth {
		return bv.Trunc(v, toWidth)
	}
	return bv.SExt(v, toWidth)
}

// evalValue resolves an operand to the BV it denotes. A scalar i1-typed
// operand is stored as a Bool binding, not a BV one, so it is converted
// through boolToBV; every other operand goes through state.State's own
// OperandToBV, falling back to evalConstant for the constant-expression
// kinds it doesn't understand.
func evalValue(st *state.State, op ir.Value) (bv.BV, error) {
	if isI1(ir.TypeOf(op)) {
		b, err := evalBool(st, op)
		if err != nil {
			return bv.BV{}, err
		}
		return boolToBV(b), nil
	}
	v, err := st.OperandToBV(op)
	if err == nil {
		return v, nil
	}
	c, ok := op.(ir.Constant)
	if !ok {
		return bv.BV{}, err
	}
	return evalConstant(st, c)
}

// evalBool resolves an operand statically typed as a scalar i1 to the
// Bool it denotes.
func evalBool(st *state.State, op ir.Value) (bv.Bool, error) {
	switch op.(type) {
	case ir.Constant, ir.LocalRef:
		return st.OperandToBool(op)
	default:
		return bv.Bool{}, herror.New(herror.MalformedInstruction, "cannot convert operand of type %T to Bool", op)
	}
}

// recordResult stores a scalar instruction result under the binding
// kind ty calls for: Bool for a scalar i1, BV (at ty's bit width)
// otherwise.
func recordResult(st *state.State, name string, ty ir.Type, v bv.BV) error {
	if isI1(ty) {
		return st.RecordBoolResult(name, bvToBool(v))
	}
	bits, err := ir.SizeInBits(ty)
	if err != nil {
		return err
	}
	return st.RecordBVResult(name, bits, adjustWidth(v, bits))
}

// evalConstant handles the constant kinds state.State.OperandToBV
// doesn't: vectors and constant expressions. Sub-operands are resolved
// through evalValue recursively, so a nested expression over ordinary
// constants (ConstInt, ConstGlobalRef, ...) bottoms out through
// OperandToBV exactly as a top-level operand would.
func evalConstant(st *state.State, c ir.Constant) (bv.BV, error) {
	width, err := ir.SizeInBits(c.Ty)
	if err != nil {
		return bv.BV{}, herror.New(herror.MalformedInstruction, "%v", err)
	}
	switch c.Kind {
	case ir.ConstVector:
		return evalConstVector(st, c)
	case ir.ConstExprAdd, ir.ConstExprSub:
		if len(c.Elems) < 2 {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "constant expression %d missing operands", c.Kind)
		}
		l, err := evalValue(st, c.Elems[0])
		if err != nil {
			return bv.BV{}, err
		}
		r, err := evalValue(st, c.Elems[1])
		if err != nil {
			return bv.BV{}, err
		}
		if c.Kind == ir.ConstExprAdd {
			return bv.Add(l, r), nil
		}
		return bv.Sub(l, r), nil
	case ir.ConstExprGEP:
		if len(c.Elems) < 1 {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "getelementptr constant expression missing base operand")
		}
		base := c.Elems[0]
		baseAddr, err := evalValue(st, base)
		if err != nil {
			return bv.BV{}, err
		}
		indexVals := make([]bv.BV, len(c.GEPIndices))
		for i, idx := range c.GEPIndices {
			v, err := evalValue(st, idx)
			if err != nil {
				return bv.BV{}, err
			}
			indexVals[i] = v
		}
		return computeGEP(baseAddr, ir.TypeOf(base), indexVals)
	case ir.ConstExprBitCast, ir.ConstExprPtrToInt, ir.ConstExprIntToPtr:
		if len(c.Elems) < 1 {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "constant expression %d missing operand", c.Kind)
		}
		v, err := evalValue(st, c.Elems[0])
		if err != nil {
			return bv.BV{}, err
		}
		return adjustWidth(v, width), nil
	default:
		return bv.BV{}, herror.New(herror.UnsupportedInstruction, "constant kind %d not supported", c.Kind)
	}
}

func evalConstVector(st *state.State, c ir.Constant) (bv.BV, error) {
	if len(c.Elems) == 0 {
		return bv.BV{}, herror.New(herror.MalformedInstruction, "constant vector with no elements")
	}
	lanes := make([]bv.BV, len(c.Elems))
	for i := range c.Elems {
		v, err := evalValue(st, c.Elems[i])
		if err != nil {
			return bv.BV{}, err
		}
		lanes[i] = v
	}
	// lane 0 is the lowest bits, matching the little-endian lane
	// ordering the rest of interp's vector handling uses.
	result := lanes[0]
	for i := 1; i < len(lanes); i++ {
		result = bv.Concat(lanes[i], result)
	}
	return result, nil
}

// computeGEP walks a getelementptr's index list starting from a base
// address and its static type, following src/layout.rs's distinction
// between the first index (always scales by the pointee's element
// size) and every later index (a constant struct index looks up the
// field's byte offset; any other index scales by the element size of
// whatever aggregate type it's stepping into).
func computeGEP(base bv.BV, baseType ir.Type, indices []bv.BV) (bv.BV, error) {
	addr := base
	curType := baseType
	for i, idxBV := range indices {
		if i == 0 {
			if _, ok := curType.(ir.PointerType); !ok {
				return bv.BV{}, herror.New(herror.MalformedInstruction, "getelementptr: base is not a pointer")
			}
			elemBytes, elemTy, err := ir.ElementSizeBytes(curType)
			if err != nil {
				return bv.BV{}, err
			}
			addr = bv.Add(addr, bv.Mul(widenSigned(idxBV, addr.Width()), bv.Const(uint64(elemBytes), addr.Width())))
			curType = elemTy
			continue
		}
		switch curType.(type) {
		case ir.StructType, *ir.NamedStructType:
			c, ok := idxBV.AsConst()
			if !ok {
				return bv.BV{}, herror.New(herror.MalformedInstruction, "getelementptr: struct index must be constant")
			}
			off, elemTy, err := ir.OffsetOfField(curType, int(c))
			if err != nil {
				return bv.BV{}, err
			}
			addr = bv.Add(addr, bv.Const(uint64(off), addr.Width()))
			curType = elemTy
		default:
			elemBytes, elemTy, err := ir.ElementSizeBytes(curType)
			if err != nil {
				return bv.BV{}, err
			}
			addr = bv.Add(addr, bv.Mul(widenSigned(idxBV, addr.Width()), bv.Const(uint64(elemBytes), addr.Width())))
			curType = elemTy
		}
	}
	return addr, nil
}

// evalGEP evaluates a getelementptr instruction's base pointer and
// index operands and computes the resulting address.
func evalGEP(st *state.State, base ir.Value, indices []ir.Value) (bv.BV, error) {
	addr, err := evalValue(st, base)
	if err != nil {
		return bv.BV{}, err
	}
	indexVals := make([]bv.BV, len(indices))
	for i, idxOp := range indices {
		v, err := evalValue(st, idxOp)
		if err != nil {
			return bv.BV{}, err
		}
		indexVals[i] = v
	}
	return computeGEP(addr, ir.TypeOf(base), indexVals)
}

// evalGlobalConstant evaluates a global variable initializer before any
// State exists (interp.Prepare runs before the first State is built):
// it resolves ConstGlobalRef through the globals.Table directly instead
// of through a live State's OperandToBV, and handles the same extended
// constant kinds as evalConstant for nested constant expressions.
func evalGlobalConstant(table *globals.Table, mod *ir.Module, c ir.Constant) (bv.BV, error) {
	width, err := ir.SizeInBits(c.Ty)
	if err != nil {
		return bv.BV{}, herror.New(herror.MalformedInstruction, "%v", err)
	}
	switch c.Kind {
	case ir.ConstInt:
		return bv.Const(c.IntVal, width), nil
	case ir.ConstNull, ir.ConstAggregateZero, ir.ConstUndef:
		return bv.Zero(width), nil
	case ir.ConstGlobalRef:
		a, ok := table.GetAllocation(c.GlobalName, mod)
		if !ok {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "no global named %q found", c.GlobalName)
		}
		return adjustWidth(a.Addr, width), nil
	case ir.ConstVector:
		if len(c.Elems) == 0 {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "constant vector with no elements")
		}
		lanes := make([]bv.BV, len(c.Elems))
		for i := range c.Elems {
			v, err := evalGlobalConstant(table, mod, c.Elems[i])
			if err != nil {
				return bv.BV{}, err
			}
			lanes[i] = v
		}
		result := lanes[0]
		for i := 1; i < len(lanes); i++ {
			result = bv.Concat(lanes[i], result)
		}
		return result, nil
	case ir.ConstExprAdd, ir.ConstExprSub:
		if len(c.Elems) < 2 {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "constant expression %d missing operands", c.Kind)
		}
		l, err := evalGlobalConstant(table, mod, c.Elems[0])
		if err != nil {
			return bv.BV{}, err
		}
		r, err := evalGlobalConstant(table, mod, c.Elems[1])
		if err != nil {
			return bv.BV{}, err
		}
		if c.Kind == ir.ConstExprAdd {
			return bv.Add(l, r), nil
		}
		return bv.Sub(l, r), nil
	case ir.ConstExprGEP:
		if len(c.Elems) < 1 {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "getelementptr constant expression missing base operand")
		}
		base := c.Elems[0]
		baseAddr, err := evalGlobalConstant(table, mod, base)
		if err != nil {
			return bv.BV{}, err
		}
		indexVals := make([]bv.BV, len(c.GEPIndices))
		for i, idx := range c.GEPIndices {
			v, err := evalGlobalConstant(table, mod, idx)
			if err != nil {
				return bv.BV{}, err
			}
			indexVals[i] = v
		}
		return computeGEP(baseAddr, base.Ty, indexVals)
	case ir.ConstExprBitCast, ir.ConstExprPtrToInt, ir.ConstExprIntToPtr:
		if len(c.Elems) < 1 {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "constant expression %d missing operand", c.Kind)
		}
		v, err := evalGlobalConstant(table, mod, c.Elems[0])
		if err != nil {
			return bv.BV{}, err
		}
		return adjustWidth(v, width), nil
	default:
		return bv.BV{}, herror.New(herror.UnsupportedInstruction, "constant kind %d not supported", c.Kind)
	}
}
