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
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/state"
)

// stepInstruction executes a single non-terminator instruction, binding
// its result (if any) and reporting what the run loop should do next.
// Call/invoke's terminator-shaped control flow (invoke is a Terminator;
// a plain call is an Instruction but can still change CurLoc) is
// handled by call.go's stepCall, dispatched to from here for OpCall.
func stepInstruction(proj ir.Project, st *state.State, instr *ir.Instruction, instrIdx int) (flow, error) {
	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpUDiv, ir.OpSDiv, ir.OpURem, ir.OpSRem,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpLShr, ir.OpAShr:
		return flowNextI(), stepBinOp(st, instr)
	case ir.OpICmp:
		return flowNextI(), stepICmp(st, instr)
	case ir.OpZExt, ir.OpSExt, ir.OpTrunc, ir.OpPtrToInt, ir.OpIntToPtr, ir.OpBitCast:
		return flowNextI(), stepCast(st, instr)
	case ir.OpLoad:
		return flowNextI(), stepLoad(st, instr)
	case ir.OpStore:
		return flowNextI(), stepStore(st, instr)
	case ir.OpGetElementPtr:
		return flowNextI(), stepGEP(st, instr)
	case ir.OpAlloca:
		return flowNextI(), stepAlloca(st, instr)
	case ir.OpExtractElement:
		return flowNextI(), stepExtractElement(st, instr)
	case ir.OpInsertElement:
		return flowNextI(), stepInsertElement(st, instr)
	case ir.OpShuffleVector:
		return flowNextI(), stepShuffleVector(st, instr)
	case ir.OpExtractValue:
		return flowNextI(), stepExtractValue(st, instr)
	case ir.OpInsertValue:
		return flowNextI(), stepInsertValue(st, instr)
	case ir.OpPhi:
		return flowNextI(), stepPhi(st, instr)
	case ir.OpSelect:
		return flowNextI(), stepSelect(st, instr)
	case ir.OpCall:
		return stepCall(proj, st, instr, instrIdx)
	case ir.OpLandingPad:
		return flowNextI(), stepLandingPad(st, instr)
	default:
		return flow{}, herror.New(herror.UnsupportedInstruction, "opcode %d not supported", instr.Op)
	}
}

// scalarBinOp computes one of the integer binary operators over two
// equal-width scalar operands, raising herror.DivisionByZero for a
// udiv/sdiv/urem/srem by a feasibly-zero divisor when
// Config.CheckDivByZero opts in (spec's division-by-zero is otherwise
// solver-defined, matching the original).
func scalarBinOp(st *state.State, op ir.Opcode, l, r bv.BV) (bv.BV, error) {
	switch op {
	case ir.OpAdd:
		return bv.Add(l, r), nil
	case ir.OpSub:
		return bv.Sub(l, r), nil
	case ir.OpMul:
		return bv.Mul(l, r), nil
	case ir.OpUDiv, ir.OpSDiv, ir.OpURem, ir.OpSRem:
		if st.Config().CheckDivByZero {
			feasible, err := st.BVsCanBeEqual(r, bv.Zero(r.Width()))
			if err != nil {
				return bv.BV{}, err
			}
			if feasible {
				return bv.BV{}, herror.New(herror.DivisionByZero, "divisor of %d can be zero", op)
			}
		}
		switch op {
		case ir.OpUDiv:
			return bv.UDiv(l, r), nil
		case ir.OpSDiv:
			return bv.SDiv(l, r), nil
		case ir.OpURem:
			return bv.URem(l, r), nil
		default:
			return bv.SRem(l, r), nil
		}
	case ir.OpAnd:
		return bv.And(l, r), nil
	case ir.OpOr:
		return bv.Or(l, r), nil
	case ir.OpXor:
		return bv.Xor(l, r), nil
	case ir.OpShl:
		return bv.Shl(l, r), nil
	case ir.OpLShr:
		return bv.LShr(l, r), nil
	case ir.OpAShr:
		return bv.AShr(l, r), nil
	default:
		return bv.BV{}, herror.New(herror.MalformedInstruction, "opcode %d is not a binary operator", op)
	}
}

func stepBinOp(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 2 {
		return herror.New(herror.MalformedInstruction, "binary operator missing operands")
	}
	vt, isVector := ir.TypeOf(instr.Ops[0]).(ir.VectorType)
	if isVector {
		l, err := evalValue(st, instr.Ops[0])
		if err != nil {
			return err
		}
		r, err := evalValue(st, instr.Ops[1])
		if err != nil {
			return err
		}
		result, err := binaryOnVector(vt, l, r, func(a, b bv.BV) (bv.BV, error) {
			return scalarBinOp(st, instr.Op, a, b)
		})
		if err != nil {
			return err
		}
		return recordResult(st, instr.Result, instr.Type, result)
	}
	l, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	r, err := evalValue(st, instr.Ops[1])
	if err != nil {
		return err
	}
	result, err := scalarBinOp(st, instr.Op, l, r)
	if err != nil {
		return err
	}
	return recordResult(st, instr.Result, instr.Type, result)
}

// cmpPred computes an icmp predicate over two equal-width scalar
// operands.
func cmpPred(pred ir.ICmpPred, l, r bv.BV) (bv.Bool, error) {
	switch pred {
	case ir.ICmpEQ:
		return bv.Eq(l, r), nil
	case ir.ICmpNE:
		return bv.Ne(l, r), nil
	case ir.ICmpUGT:
		return bv.Ugt(l, r), nil
	case ir.ICmpUGE:
		return bv.Uge(l, r), nil
	case ir.ICmpULT:
		return bv.Ult(l, r), nil
	case ir.ICmpULE:
		return bv.Ule(l, r), nil
	case ir.ICmpSGT:
		return bv.Sgt(l, r), nil
	case ir.ICmpSGE:
		return bv.Sge(l, r), nil
	case ir.ICmpSLT:
		return bv.Slt(l, r), nil
	case ir.ICmpSLE:
		return bv.Sle(l, r), nil
	default:
		return bv.Bool{}, herror.New(herror.MalformedInstruction, "icmp predicate %d not recognized", pred)
	}
}

func stepICmp(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 2 {
		return herror.New(herror.MalformedInstruction, "icmp missing operands")
	}
	if vt, isVector := ir.TypeOf(instr.Ops[0]).(ir.VectorType); isVector {
		l, err := evalValue(st, instr.Ops[0])
		if err != nil {
			return err
		}
		r, err := evalValue(st, instr.Ops[1])
		if err != nil {
			return err
		}
		result, err := binaryBoolOnVector(vt, l, r, func(a, b bv.BV) (bv.Bool, error) {
			return cmpPred(instr.Pred, a, b)
		})
		if err != nil {
			return err
		}
		return recordResult(st, instr.Result, instr.Type, result)
	}
	l, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	r, err := evalValue(st, instr.Ops[1])
	if err != nil {
		return err
	}
	result, err := cmpPred(instr.Pred, l, r)
	if err != nil {
		return err
	}
	return recordResult(st, instr.Result, instr.Type, boolToBV(result))
}

// castScalar performs one of the non-FP cast opcodes on a scalar
// operand, widening/narrowing to the target width. zext/ptrtoint/
// inttoptr/bitcast all zero-extend or truncate; sext sign-extends.
func castScalar(op ir.Opcode, v bv.BV, toWidth int) bv.BV {
	switch op {
	case ir.OpSExt:
		return widenSigned(v, toWidth)
	default:
		return adjustWidth(v, toWidth)
	}
}

func stepCast(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 1 {
		return herror.New(herror.MalformedInstruction, "cast missing operand")
	}
	toWidth, err := ir.SizeInBits(instr.Type)
	if err != nil {
		return herror.New(herror.MalformedInstruction, "%v", err)
	}
	if vt, isVector := instr.Type.(ir.VectorType); isVector {
		srcVT, err := vectorShape(ir.TypeOf(instr.Ops[0]))
		if err != nil {
			return err
		}
		elemBits, err := ir.SizeInBits(vt.Elem)
		if err != nil {
			return err
		}
		v, err := evalValue(st, instr.Ops[0])
		if err != nil {
			return err
		}
		result, err := unaryOnVector(srcVT.Elem, srcVT.Count, v, func(a bv.BV) (bv.BV, error) {
			return castScalar(instr.Op, a, elemBits), nil
		})
		if err != nil {
			return err
		}
		return recordResult(st, instr.Result, instr.Type, result)
	}
	v, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	return recordResult(st, instr.Result, instr.Type, castScalar(instr.Op, v, toWidth))
}

// concretizeAddress resolves addr to a concrete address, forking one
// path per feasible candidate when it isn't already constant: the
// chosen candidate is asserted equal to addr and returned directly,
// every other feasible candidate is deferred via a backtracking point
// re-entering the current block so it is retried with the same
// instruction stream and a different concrete address bound.
func concretizeAddress(st *state.State, addr bv.BV) (uint64, error) {
	if c, ok := addr.AsConst(); ok {
		return c, nil
	}
	maxWidth := st.Config().MaxSolutionSearchWidth
	if maxWidth <= 0 {
		maxWidth = 1
	}
	candidates, err := st.GetPossibleSolutionsForBV(addr, maxWidth+1)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, herror.New(herror.Unsat, "no feasible concrete address for a symbolic pointer")
	}
	chosen := candidates[0]
	for _, c := range candidates[1:] {
		st.SaveBacktrackingPoint(st.CurLoc.BBName, bv.Eq(addr, bv.Const(c, addr.Width())))
	}
	st.Assert(bv.Eq(addr, bv.Const(chosen, addr.Width())))
	return chosen, nil
}

// resolveUniqueAddress resolves addr to a concrete address the same way
// concretizeAddress does, except that finding more than one feasible
// candidate is an error rather than a fork: per spec §4.H, resolving an
// indirect call through a function pointer that can point at more than
// one feasible callable must fail instead of silently exploring every
// target as a separate path.
func resolveUniqueAddress(st *state.State, addr bv.BV) (uint64, error) {
	if c, ok := addr.AsConst(); ok {
		return c, nil
	}
	candidates, err := st.GetPossibleSolutionsForBV(addr, 2)
	if err != nil {
		return 0, err
	}
	switch len(candidates) {
	case 0:
		return 0, herror.New(herror.Unsat, "no feasible concrete address for a symbolic function pointer")
	case 1:
		chosen := candidates[0]
		st.Assert(bv.Eq(addr, bv.Const(chosen, addr.Width())))
		return chosen, nil
	default:
		return 0, herror.New(herror.FailedToResolveFunctionPointer, "calling a function pointer which has multiple possible targets")
	}
}

func stepLoad(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 1 {
		return herror.New(herror.MalformedInstruction, "load missing address operand")
	}
	addr, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	concrete, err := concretizeAddress(st, addr)
	if err != nil {
		return err
	}
	bits, err := ir.SizeInBits(instr.Type)
	if err != nil {
		return herror.New(herror.MalformedInstruction, "%v", err)
	}
	val, err := st.Read(bv.Const(concrete, addr.Width()), bits)
	if err != nil {
		return err
	}
	return recordResult(st, instr.Result, instr.Type, val)
}

// stepStore writes instr.Ops[0] (the value) to instr.Ops[1] (the
// address), matching LLVM textual order ("store %val, %addr"), and
// notifies any configured watchpoint once the write address is
// concrete.
func stepStore(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 2 {
		return herror.New(herror.MalformedInstruction, "store missing operands")
	}
	val, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	addr, err := evalValue(st, instr.Ops[1])
	if err != nil {
		return err
	}
	concrete, err := concretizeAddress(st, addr)
	if err != nil {
		return err
	}
	if err := st.Write(bv.Const(concrete, addr.Width()), val); err != nil {
		return err
	}
	if check := st.Config().WatchpointCheck; check != nil {
		check(concrete, val.Width())
	}
	return nil
}

func stepGEP(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 1 {
		return herror.New(herror.MalformedInstruction, "getelementptr missing base operand")
	}
	addr, err := evalGEP(st, instr.Ops[0], instr.Indices)
	if err != nil {
		return err
	}
	return recordResult(st, instr.Result, instr.Type, addr)
}

func stepAlloca(st *state.State, instr *ir.Instruction) error {
	elemBits, err := ir.SizeInBits(instr.ElemType)
	if err != nil {
		return herror.New(herror.MalformedInstruction, "%v", err)
	}
	count := uint64(1)
	if instr.ElemCount != nil {
		n, err := evalValue(st, instr.ElemCount)
		if err != nil {
			return err
		}
		c, ok := n.AsConst()
		if !ok {
			return herror.New(herror.UnsupportedInstruction, "alloca with a symbolic element count is not supported")
		}
		count = c
	}
	addr, err := st.Allocate(count * uint64(elemBits))
	if err != nil {
		return err
	}
	return recordResult(st, instr.Result, instr.Type, addr)
}

func stepExtractElement(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 1 || len(instr.ConstIndices) < 1 {
		return herror.New(herror.MalformedInstruction, "extractelement missing operands")
	}
	vt, err := vectorShape(ir.TypeOf(instr.Ops[0]))
	if err != nil {
		return err
	}
	vec, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	idx := instr.ConstIndices[0]
	elemBits, err := ir.SizeInBits(vt.Elem)
	if err != nil {
		return err
	}
	ls := lanes(vec, elemBits, vt.Count)
	if idx < 0 || idx >= len(ls) {
		return herror.New(herror.MalformedInstruction, "extractelement index %d out of range (vector has %d lanes)", idx, len(ls))
	}
	return recordResult(st, instr.Result, instr.Type, ls[idx])
}

func stepInsertElement(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 2 || len(instr.ConstIndices) < 1 {
		return herror.New(herror.MalformedInstruction, "insertelement missing operands")
	}
	vt, err := vectorShape(instr.Type)
	if err != nil {
		return err
	}
	vec, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	elem, err := evalValue(st, instr.Ops[1])
	if err != nil {
		return err
	}
	idx := instr.ConstIndices[0]
	elemBits, err := ir.SizeInBits(vt.Elem)
	if err != nil {
		return err
	}
	ls := lanes(vec, elemBits, vt.Count)
	if idx < 0 || idx >= len(ls) {
		return herror.New(herror.MalformedInstruction, "insertelement index %d out of range (vector has %d lanes)", idx, len(ls))
	}
	ls[idx] = adjustWidth(elem, elemBits)
	return recordResult(st, instr.Result, instr.Type, packLanes(ls))
}

// stepShuffleVector builds a new vector by selecting lanes (possibly
// from either of two equal-shape source vectors concatenated end to
// end, per LLVM's shufflevector semantics) according to the constant
// mask carried in Indices.
func stepShuffleVector(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 2 {
		return herror.New(herror.MalformedInstruction, "shufflevector missing operands")
	}
	srcVT, err := vectorShape(ir.TypeOf(instr.Ops[0]))
	if err != nil {
		return err
	}
	dstVT, err := vectorShape(instr.Type)
	if err != nil {
		return err
	}
	elemBits, err := ir.SizeInBits(srcVT.Elem)
	if err != nil {
		return err
	}
	v1, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	v2, err := evalValue(st, instr.Ops[1])
	if err != nil {
		return err
	}
	combined := append(lanes(v1, elemBits, srcVT.Count), lanes(v2, elemBits, srcVT.Count)...)
	out := make([]bv.BV, dstVT.Count)
	for i := 0; i < dstVT.Count; i++ {
		idxConst, ok := instr.Indices[i].(ir.Constant)
		if !ok {
			return herror.New(herror.MalformedInstruction, "shufflevector mask element %d is not constant", i)
		}
		idx := int(idxConst.IntVal)
		if idx >= len(combined) {
			return herror.New(herror.MalformedInstruction, "shufflevector mask index %d out of range", idx)
		}
		out[i] = combined[idx]
	}
	return recordResult(st, instr.Result, instr.Type, packLanes(out))
}

func stepExtractValue(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 1 {
		return herror.New(herror.MalformedInstruction, "extractvalue missing operand")
	}
	v, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	curType := ir.TypeOf(instr.Ops[0])
	bitOffset := 0
	for _, idx := range instr.ConstIndices {
		byteOff, elemTy, err := ir.OffsetOfField(curType, idx)
		if err != nil {
			return err
		}
		bitOffset += byteOff * 8
		curType = elemTy
	}
	resultBits, err := ir.SizeInBits(instr.Type)
	if err != nil {
		return herror.New(herror.MalformedInstruction, "%v", err)
	}
	result := bv.Extract(v, bitOffset+resultBits-1, bitOffset)
	return recordResult(st, instr.Result, instr.Type, result)
}

func stepInsertValue(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 2 {
		return herror.New(herror.MalformedInstruction, "insertvalue missing operands")
	}
	agg, err := evalValue(st, instr.Ops[0])
	if err != nil {
		return err
	}
	elem, err := evalValue(st, instr.Ops[1])
	if err != nil {
		return err
	}
	curType := instr.Type
	bitOffset := 0
	var elemType ir.Type
	for _, idx := range instr.ConstIndices {
		byteOff, elemTy, err := ir.OffsetOfField(curType, idx)
		if err != nil {
			return err
		}
		bitOffset += byteOff * 8
		curType = elemTy
		elemType = elemTy
	}
	elemBits, err := ir.SizeInBits(elemType)
	if err != nil {
		return herror.New(herror.MalformedInstruction, "%v", err)
	}
	aggBits := agg.Width()
	elem = adjustWidth(elem, elemBits)
	top := bitOffset + elemBits
	var parts []bv.BV
	if top < aggBits {
		parts = append(parts, bv.Extract(agg, aggBits-1, top))
	}
	parts = append(parts, elem)
	if bitOffset > 0 {
		parts = append(parts, bv.Extract(agg, bitOffset-1, 0))
	}
	result := parts[0]
	for _, p := range parts[1:] {
		result = bv.Concat(result, p)
	}
	return recordResult(st, instr.Result, instr.Type, result)
}

// stepPhi picks the incoming value matching the block execution just
// arrived from (state.State.PrevBBName).
func stepPhi(st *state.State, instr *ir.Instruction) error {
	for _, in := range instr.Incoming {
		if in.Block == st.PrevBBName {
			v, err := evalValue(st, in.Value)
			if err != nil {
				return err
			}
			return recordResult(st, instr.Result, instr.Type, v)
		}
	}
	return herror.New(herror.MalformedInstruction, "phi has no incoming value for predecessor block %q", st.PrevBBName)
}

func stepSelect(st *state.State, instr *ir.Instruction) error {
	if len(instr.Ops) < 3 {
		return herror.New(herror.MalformedInstruction, "select missing operands")
	}
	cond, err := evalBool(st, instr.Ops[0])
	if err != nil {
		return err
	}
	then, err := evalValue(st, instr.Ops[1])
	if err != nil {
		return err
	}
	els, err := evalValue(st, instr.Ops[2])
	if err != nil {
		return err
	}
	return recordResult(st, instr.Result, instr.Type, bv.Ite(cond, then, els))
}

// stepLandingPad binds the pending exception pointer an invoke's Throw
// outcome set (see call.go's unwindThrow) as this landingpad's result,
// packed as {ptr, selector} if instr.Type is a struct, or just the
// pointer if it's scalar. Clause matching beyond "a landingpad is
// present" is spec's exactTypeMatching open question (handled by
// call.go's catchAtExceptionLabel), so stepLandingPad itself never
// errors on an unmatched clause.
func stepLandingPad(st *state.State, instr *ir.Instruction) error {
	ptr, ok := st.TakePendingLandingValue()
	if !ok {
		return herror.New(herror.MalformedInstruction, "landingpad reached with no exception in flight")
	}
	if st2, isStruct := instr.Type.(ir.StructType); isStruct && len(st2.Elems) == 2 {
		ptrBits, err := ir.SizeInBits(st2.Elems[0])
		if err != nil {
			return err
		}
		selBits, err := ir.SizeInBits(st2.Elems[1])
		if err != nil {
			return err
		}
		selector := bv.Const(0, selBits)
		result := bv.Concat(selector, adjustWidth(ptr, ptrBits))
		return recordResult(st, instr.Result, instr.Type, result)
	}
	return recordResult(st, instr.Result, instr.Type, ptr)
}
