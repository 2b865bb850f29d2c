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

package hooks

import (
	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/config"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/outcome"
)

func sameType(proj ir.Project, a, b ir.Value) bool {
	ta, tb := ir.TypeOf(a), ir.TypeOf(b)
	return ta != nil && tb != nil && ta.String() == tb.String()
}

func pointeeI8(ty ir.Type) bool {
	ptr, ok := ty.(ir.PointerType)
	if !ok {
		return false
	}
	it, ok := ptr.Pointee.(ir.IntType)
	return ok && it.Width == 8
}

// concreteLength resolves a possibly-symbolic byte-count operand to a
// single concrete value to drive a memset/memcpy loop, per
// config.ConcretizeMemcpyLengths. Returns ok == false when the length
// stays symbolic (Symbolic policy): the caller then performs the write
// itself via the ite-gated loop.
func concreteLength(st config.State, length bv.BV) (value uint64, ok bool, err error) {
	solutions, err := st.GetPossibleSolutionsForBV(length, 1)
	if err != nil {
		return 0, false, err
	}
	if len(solutions) == 1 {
		return solutions[0], true, nil
	}

	cfg := st.Config()
	var concrete uint64
	switch cfg.ConcretizeMemcpyLengths {
	case config.Minimum:
		concrete, err = st.MinPossibleSolution(length)
	case config.Maximum:
		concrete, err = st.MaxPossibleSolution(length)
	case config.Prefer:
		canBe, cerr := st.BVsCanBeEqual(length, bv.Const(cfg.PreferredLength, length.Width()))
		if cerr != nil {
			return 0, false, cerr
		}
		if canBe {
			concrete = cfg.PreferredLength
		} else {
			concrete = solutions[0] // fall back to Arbitrary
		}
	case config.Symbolic:
		return 0, false, nil
	default: // Arbitrary
		concrete = solutions[0]
	}
	if err != nil {
		return 0, false, err
	}
	st.Assert(bv.Eq(length, bv.Const(concrete, length.Width())))
	return concrete, true, nil
}

func memsetSymbolic(st config.State, addr, val, length bv.BV) error {
	maxBytes := st.Config().MaxSymbolicLength
	written := bv.Zero(length.Width())
	cur := addr
	for i := uint64(0); i < maxBytes; i++ {
		old, err := st.Read(cur, 8)
		if err != nil {
			return err
		}
		shouldWrite := bv.Ugt(length, written)
		if err := st.Write(cur, bv.Ite(shouldWrite, val, old)); err != nil {
			return err
		}
		cur = bv.Add(cur, bv.Const(1, cur.Width()))
		written = bv.Add(written, bv.Const(1, written.Width()))
	}
	return nil
}

// Memset is the default hook for memset-family intrinsics
// (llvm.memset.p0i8.*): addr must be a pointer to i8. Only the low 8
// bits of val are used.
func Memset(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if len(call.Args) != 4 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "llvm.memset: expected 4 arguments, got %d", len(call.Args))
	}
	if !pointeeI8(ir.TypeOf(call.Args[0])) {
		return outcome.Outcome{}, herror.New(herror.OtherError, "llvm.memset: expected address to be a pointer to i8, got %s", ir.TypeOf(call.Args[0]))
	}

	addr, err := st.OperandToBV(call.Args[0])
	if err != nil {
		return outcome.Outcome{}, err
	}
	val, err := st.OperandToBV(call.Args[1])
	if err != nil {
		return outcome.Outcome{}, err
	}
	if val.Width() > 8 {
		val = bv.Extract(val, 7, 0)
	}
	length, err := st.OperandToBV(call.Args[2])
	if err != nil {
		return outcome.Outcome{}, err
	}

	concrete, ok, err := concreteLength(st, length)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if !ok {
		if err := memsetSymbolic(st, addr, val, length); err != nil {
			return outcome.Outcome{}, err
		}
	} else if concrete > 0 {
		big := val
		for i := uint64(1); i < concrete; i++ {
			big = bv.Concat(big, val)
		}
		if err := st.Write(addr, big); err != nil {
			return outcome.Outcome{}, err
		}
	}

	switch call.RetType.(type) {
	case nil:
		return outcome.Void(), nil
	case ir.PointerType:
		return outcome.ReturnOf(addr), nil
	default:
		return outcome.Void(), nil
	}
}

func memcpySymbolic(st config.State, dest, src, length bv.BV) error {
	maxBytes := st.Config().MaxSymbolicLength
	written := bv.Zero(length.Width())
	srcAddr, destAddr := src, dest
	for i := uint64(0); i < maxBytes; i++ {
		sv, err := st.Read(srcAddr, 8)
		if err != nil {
			return err
		}
		dv, err := st.Read(destAddr, 8)
		if err != nil {
			return err
		}
		shouldWrite := bv.Ugt(length, written)
		if err := st.Write(destAddr, bv.Ite(shouldWrite, sv, dv)); err != nil {
			return err
		}
		srcAddr = bv.Add(srcAddr, bv.Const(1, srcAddr.Width()))
		destAddr = bv.Add(destAddr, bv.Const(1, destAddr.Width()))
		written = bv.Add(written, bv.Const(1, written.Width()))
	}
	return nil
}

// Memcpy is the default hook for the memcpy and memmove intrinsic
// families. With a concrete length, src and dest may overlap, matching
// memmove's contract, since the copy is one bulk Read followed by one
// bulk Write. With a symbolic length the copy is a forward
// byte-by-byte ite loop, which does not preserve memmove's result when
// dest overlaps src from above.
func Memcpy(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if len(call.Args) != 4 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "llvm.memcpy/memmove: expected 4 arguments, got %d", len(call.Args))
	}
	if !pointeeI8(ir.TypeOf(call.Args[0])) {
		return outcome.Outcome{}, herror.New(herror.OtherError, "llvm.memcpy/memmove: expected dest to be a pointer to i8, got %s", ir.TypeOf(call.Args[0]))
	}
	if !pointeeI8(ir.TypeOf(call.Args[1])) {
		return outcome.Outcome{}, herror.New(herror.OtherError, "llvm.memcpy/memmove: expected src to be a pointer to i8, got %s", ir.TypeOf(call.Args[1]))
	}

	dest, err := st.OperandToBV(call.Args[0])
	if err != nil {
		return outcome.Outcome{}, err
	}
	src, err := st.OperandToBV(call.Args[1])
	if err != nil {
		return outcome.Outcome{}, err
	}
	length, err := st.OperandToBV(call.Args[2])
	if err != nil {
		return outcome.Outcome{}, err
	}

	concrete, ok, err := concreteLength(st, length)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if !ok {
		if err := memcpySymbolic(st, dest, src, length); err != nil {
			return outcome.Outcome{}, err
		}
	} else if concrete > 0 {
		data, err := st.Read(src, int(concrete*8))
		if err != nil {
			return outcome.Outcome{}, err
		}
		if err := st.Write(dest, data); err != nil {
			return outcome.Outcome{}, err
		}
	}

	switch call.RetType.(type) {
	case nil:
		return outcome.Void(), nil
	case ir.PointerType:
		return outcome.ReturnOf(dest), nil
	default:
		return outcome.Void(), nil
	}
}

func bswapBits(v bv.BV, width int) (bv.BV, error) {
	switch width {
	case 16:
		return bv.Concat(bv.Extract(v, 7, 0), bv.Extract(v, 15, 8)), nil
	case 32:
		acc := bv.Extract(v, 7, 0)
		acc = bv.Concat(acc, bv.Extract(v, 15, 8))
		acc = bv.Concat(acc, bv.Extract(v, 23, 16))
		acc = bv.Concat(acc, bv.Extract(v, 31, 24))
		return acc, nil
	case 48:
		acc := bv.Extract(v, 7, 0)
		for _, hi := range []int{15, 23, 31, 39, 47} {
			acc = bv.Concat(acc, bv.Extract(v, hi, hi-7))
		}
		return acc, nil
	case 64:
		acc := bv.Extract(v, 7, 0)
		for _, hi := range []int{15, 23, 31, 39, 47, 55, 63} {
			acc = bv.Concat(acc, bv.Extract(v, hi, hi-7))
		}
		return acc, nil
	default:
		return bv.BV{}, herror.New(herror.UnsupportedInstruction, "llvm.bswap on bitwidth %d", width)
	}
}

// Bswap is the default hook for llvm.bswap.iN: reverses the byte order
// of its argument. Vector arguments are not supported (spec.md's
// Non-goals exclude vector lane-splitting through hooks; interp handles
// vector intrinsics itself where it does).
func Bswap(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if len(call.Args) != 1 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "llvm.bswap: expected 1 argument, got %d", len(call.Args))
	}
	argTy := ir.TypeOf(call.Args[0])
	if argTy == nil || call.RetType == nil || argTy.String() != call.RetType.String() {
		return outcome.Outcome{}, herror.New(herror.OtherError, "llvm.bswap: expected argument to be the same type as its return type")
	}
	it, ok := ir.TypeOf(call.Args[0]).(ir.IntType)
	if !ok {
		return outcome.Outcome{}, herror.New(herror.UnsupportedInstruction, "llvm.bswap on argument type %s", ir.TypeOf(call.Args[0]))
	}
	arg, err := st.OperandToBV(call.Args[0])
	if err != nil {
		return outcome.Outcome{}, err
	}
	result, err := bswapBits(arg, it.Width)
	if err != nil {
		return outcome.Outcome{}, err
	}
	return outcome.ReturnOf(result), nil
}

// ObjectSize is the default hook for llvm.objectsize: in-memory object
// provenance isn't tracked, so per the LLVM spec's documented fallback
// behavior this always reports "unknown" (0 when min=false, -1/all-ones
// when min=true).
func ObjectSize(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if len(call.Args) < 2 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "llvm.objectsize: expected at least 2 arguments, got %d", len(call.Args))
	}
	minArg, err := st.OperandToBV(call.Args[1])
	if err != nil {
		return outcome.Outcome{}, err
	}
	it, ok := call.RetType.(ir.IntType)
	if !ok || it.Width == 0 {
		return outcome.Outcome{}, herror.New(herror.OtherError, "llvm.objectsize: expected an integer return type with nonzero width, got %s", call.RetType)
	}
	zero := bv.Zero(it.Width)
	minusOne := bv.Not(zero)
	return outcome.ReturnOf(bv.Ite(bv.Eq(minArg, bv.Const(1, minArg.Width())), minusOne, zero)), nil
}

// Assume is the default hook for llvm.assume(i1 cond): asserts cond
// when config.TrustLLVMAssumes is set, otherwise ignores it entirely.
func Assume(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if len(call.Args) != 1 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "llvm.assume: expected 1 argument, got %d", len(call.Args))
	}
	it, ok := ir.TypeOf(call.Args[0]).(ir.IntType)
	if !ok || it.Width != 1 {
		return outcome.Outcome{}, herror.New(herror.OtherError, "llvm.assume: expected argument to be of type i1, got %s", ir.TypeOf(call.Args[0]))
	}
	if st.Config().TrustLLVMAssumes {
		cond, err := st.OperandToBool(call.Args[0])
		if err != nil {
			return outcome.Outcome{}, err
		}
		st.Assert(cond)
	}
	return outcome.Void(), nil
}

type overflowOp struct {
	name     string
	result   func(a, b bv.BV) bv.BV
	overflow func(a, b bv.BV) bv.Bool
}

func overflowHook(op overflowOp) config.Hook {
	return func(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
		if len(call.Args) != 2 {
			return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "%s: expected 2 arguments, got %d", op.name, len(call.Args))
		}
		if !sameType(proj, call.Args[0], call.Args[1]) {
			return outcome.Outcome{}, herror.New(herror.OtherError, "%s: expected arguments to be of the same type", op.name)
		}
		a, err := st.OperandToBV(call.Args[0])
		if err != nil {
			return outcome.Outcome{}, err
		}
		b, err := st.OperandToBV(call.Args[1])
		if err != nil {
			return outcome.Outcome{}, err
		}
		result := op.result(a, b)
		overflow := op.overflow(a, b)
		return outcome.ReturnOf(bv.Concat(bv.Ite(overflow, bv.Const(1, 1), bv.Const(0, 1)), result)), nil
	}
}

var (
	UAddWithOverflow = overflowHook(overflowOp{"llvm.uadd.with.overflow", bv.Add, bv.UAddOverflow})
	SAddWithOverflow = overflowHook(overflowOp{"llvm.sadd.with.overflow", bv.Add, bv.SAddOverflow})
	USubWithOverflow = overflowHook(overflowOp{"llvm.usub.with.overflow", bv.Sub, bv.USubOverflow})
	SSubWithOverflow = overflowHook(overflowOp{"llvm.ssub.with.overflow", bv.Sub, bv.SSubOverflow})
	UMulWithOverflow = overflowHook(overflowOp{"llvm.umul.with.overflow", bv.Mul, bv.UMulOverflow})
	SMulWithOverflow = overflowHook(overflowOp{"llvm.smul.with.overflow", bv.Mul, bv.SMulOverflow})
)

func satHook(name string, op func(a, b bv.BV) bv.BV) config.Hook {
	return func(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
		if len(call.Args) != 2 {
			return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "%s: expected 2 arguments, got %d", name, len(call.Args))
		}
		if !sameType(proj, call.Args[0], call.Args[1]) {
			return outcome.Outcome{}, herror.New(herror.OtherError, "%s: expected arguments to be of the same type", name)
		}
		a, err := st.OperandToBV(call.Args[0])
		if err != nil {
			return outcome.Outcome{}, err
		}
		b, err := st.OperandToBV(call.Args[1])
		if err != nil {
			return outcome.Outcome{}, err
		}
		return outcome.ReturnOf(op(a, b)), nil
	}
}

var (
	UAddSatHook = satHook("llvm.uadd.sat", bv.UAddSat)
	SAddSatHook = satHook("llvm.sadd.sat", bv.SAddSat)
	USubSatHook = satHook("llvm.usub.sat", bv.USubSat)
	SSubSatHook = satHook("llvm.ssub.sat", bv.SSubSat)
)

// ctlzCttzStep narrows x by step bits whenever the masked bits are all
// zero, the shared binary-search shape both Ctlz and Cttz use.
func ctlzCttzStep(n, x bv.BV, mask uint64, step int, shl bool) (bv.BV, bv.BV) {
	width := x.Width()
	zero := bv.Zero(width)
	cond := bv.Eq(bv.And(x, bv.Const(mask, width)), zero)
	stepBV := bv.Const(uint64(step), width)
	n = bv.Ite(cond, bv.Add(n, stepBV), n)
	if shl {
		x = bv.Ite(cond, bv.Shl(x, stepBV), x)
	} else {
		x = bv.Ite(cond, bv.LShr(x, stepBV), x)
	}
	return n, x
}

// Ctlz is the default hook for llvm.ctlz.iN (N in {8,16,32}): counts
// leading zero bits via the Wikipedia find-first-set binary-search
// algorithm, since the solver has no efficient native ctlz. The second
// argument (is_zero_undef) is ignored; a zero input always yields
// width.
func Ctlz(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	return ctlzCttz(proj, st, call, "llvm.ctlz", true)
}

// Cttz is the default hook for llvm.cttz.iN, the trailing-zero-count
// counterpart of Ctlz.
func Cttz(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	return ctlzCttz(proj, st, call, "llvm.cttz", false)
}

func ctlzCttz(proj ir.Project, st config.State, call *ir.CallSpec, name string, leading bool) (outcome.Outcome, error) {
	if len(call.Args) != 2 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "%s: expected 2 arguments, got %d", name, len(call.Args))
	}
	x, err := st.OperandToBV(call.Args[0])
	if err != nil {
		return outcome.Outcome{}, err
	}
	width := x.Width()

	var masks []uint64
	switch width {
	case 32:
		if leading {
			masks = []uint64{0xFFFF0000, 0xFF000000, 0xF0000000, 0xC0000000, 0x80000000}
		} else {
			masks = []uint64{0x0000FFFF, 0x000000FF, 0x0000000F, 0x00000003, 0x00000001}
		}
	case 16:
		if leading {
			masks = []uint64{0xFF00, 0xF000, 0xC000, 0x8000}
		} else {
			masks = []uint64{0x00FF, 0x000F, 0x0003, 0x0001}
		}
	case 8:
		if leading {
			masks = []uint64{0xF0, 0xC0, 0x80}
		} else {
			masks = []uint64{0x0F, 0x03, 0x01}
		}
	default:
		return outcome.Outcome{}, herror.New(herror.UnsupportedInstruction, "%s intrinsic on an operand of width %d bits", name, width)
	}
	steps := make([]int, len(masks))
	switch width {
	case 32:
		copy(steps, []int{16, 8, 4, 2, 1})
	case 16:
		copy(steps, []int{8, 4, 2, 1})
	case 8:
		copy(steps, []int{4, 2, 1})
	}

	zero := bv.Zero(width)
	xEq0 := bv.Eq(x, zero)
	n := zero
	cur := x
	for i, mask := range masks {
		shiftMutates := i != len(masks)-1
		var newN, newX bv.BV
		if shiftMutates {
			newN, newX = ctlzCttzStep(n, cur, mask, steps[i], leading)
		} else {
			cond := bv.Eq(bv.And(cur, bv.Const(mask, width)), zero)
			newN = bv.Ite(cond, bv.Add(n, bv.Const(uint64(steps[i]), width)), n)
			newX = cur
		}
		n, cur = newN, newX
	}
	return outcome.ReturnOf(bv.Ite(xEq0, bv.Const(uint64(width), width), n)), nil
}
