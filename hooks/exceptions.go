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

// CxaAllocateException is the default hook for
// __cxa_allocate_exception(size_t thrown_size): a zero-filled
// allocation of the requested size, exactly like Malloc but zeroing the
// memory the way a real allocator would hand back fresh exception
// storage.
func CxaAllocateException(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if err := requireIntArg(call, 0, "__cxa_allocate_exception"); err != nil {
		return outcome.Outcome{}, err
	}
	if err := requirePointerReturn(call, "__cxa_allocate_exception"); err != nil {
		return outcome.Outcome{}, err
	}
	bytes := constBytesOr(call.Args[0], MaxAllocationSizeBytes)
	addr, err := st.Allocate(bytes * 8)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if err := st.Write(addr, bv.Zero(int(bytes*8))); err != nil {
		return outcome.Outcome{}, err
	}
	return outcome.ReturnOf(addr), nil
}

// CxaThrow is the default hook for __cxa_throw(void *thrown_exception,
// std::type_info *tinfo, void (*dest)(void *)): turns the call into a
// Throw outcome carrying the thrown pointer. interp is responsible for
// unwinding the call stack to the nearest invoke's landing pad.
func CxaThrow(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if len(call.Args) < 2 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "__cxa_throw: expected at least 2 arguments, got %d", len(call.Args))
	}
	if err := requirePointerArg(call, 0, "__cxa_throw"); err != nil {
		return outcome.Outcome{}, err
	}
	if err := requirePointerArg(call, 1, "__cxa_throw"); err != nil {
		return outcome.Outcome{}, err
	}
	thrown, err := st.OperandToBV(call.Args[0])
	if err != nil {
		return outcome.Outcome{}, err
	}
	return outcome.ThrowOf(thrown), nil
}

// CxaBeginCatch is the default hook for __cxa_begin_catch(void *exc):
// since a thrown value is just a pointer with no separate exception
// frame bookkeeping, catching it is just returning the pointer back.
// The pointer is also pushed as the innermost in-flight exception, so a
// __cxa_rethrow inside the handler can recover it.
func CxaBeginCatch(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if len(call.Args) < 1 {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "__cxa_begin_catch: missing argument 0")
	}
	arg, err := st.OperandToBV(call.Args[0])
	if err != nil {
		return outcome.Outcome{}, err
	}
	st.PushInFlightException(arg)
	return outcome.ReturnOf(arg), nil
}

// CxaEndCatch pops the in-flight exception pushed by the matching
// __cxa_begin_catch; Free never actually frees, so there is no
// allocation to release here.
func CxaEndCatch(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	st.PopInFlightException()
	return outcome.Void(), nil
}

// CxaRethrow is the default hook for __cxa_rethrow(): re-throws the
// exception captured by the nearest enclosing __cxa_begin_catch that
// hasn't yet been ended.
func CxaRethrow(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	ptr, ok := st.CurrentInFlightException()
	if !ok {
		return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "__cxa_rethrow: no exception is currently being handled")
	}
	return outcome.ThrowOf(ptr), nil
}

// Terminate is the default hook for std::terminate() and abort(): both
// end the path immediately with an Abort outcome.
func Terminate(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	return outcome.AbortAt(""), nil
}

// EHTypeidFor is the default hook for llvm.eh.typeid.for(i8* tinfo):
// returns an unconstrained, non-negative 32-bit value. A real typeid
// would need to correlate the typeinfo pointer with the landingpad
// clauses it matches; we don't track type identity precisely
// (config.ExactTypeMatching is the narrower alternative interp
// consults directly), so the argument is ignored here.
func EHTypeidFor(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	ret, err := st.NewBVWithName("llvm_eh_typeid_for_retval", 32)
	if err != nil {
		return outcome.Outcome{}, err
	}
	st.Assert(bv.Sge(ret, bv.Zero(32)))
	return outcome.ReturnOf(ret), nil
}
