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
	"github.com/PLSysSec/haybale/outcome"
	"github.com/PLSysSec/haybale/state"
)

// stepTerminator executes the terminator of the current basic block.
func stepTerminator(proj ir.Project, st *state.State, term *ir.Terminator) (flow, error) {
	switch term.Kind {
	case ir.TermRet:
		v, err := evalValue(st, term.RetVal)
		if err != nil {
			return flow{}, err
		}
		return unwindReturn(st, &v)
	case ir.TermRetVoid:
		return unwindReturn(st, nil)
	case ir.TermBr:
		return stepBr(st, term.Target), nil
	case ir.TermCondBr:
		return stepCondBr(st, term)
	case ir.TermSwitch:
		return stepSwitch(st, term)
	case ir.TermInvoke:
		return stepInvoke(proj, st, term)
	case ir.TermResume:
		return stepResume(st, term)
	case ir.TermUnreachable:
		return flow{}, herror.New(herror.UnreachableInstruction, "reached an unreachable instruction")
	default:
		return flow{}, herror.New(herror.MalformedInstruction, "terminator kind %d not recognized", term.Kind)
	}
}

func stepBr(st *state.State, target string) flow {
	st.PrevBBName = st.CurLoc.BBName
	st.CurLoc.BBName = target
	return flowJumpTo(0)
}

// stepCondBr takes whichever branch is feasible, asserting its
// condition; if both are feasible, the other is deferred as a
// backtracking point so it is explored on a later run (spec §5).
func stepCondBr(st *state.State, term *ir.Terminator) (flow, error) {
	cond, err := evalBool(st, term.Cond)
	if err != nil {
		return flow{}, err
	}
	trueFeasible, err := st.CheckWithExtraConstraints(cond)
	if err != nil {
		return flow{}, err
	}
	falseFeasible, err := st.CheckWithExtraConstraints(cond.Not())
	if err != nil {
		return flow{}, err
	}
	if !trueFeasible && !falseFeasible {
		return flow{}, herror.New(herror.Unsat, "neither arm of a conditional branch is feasible")
	}
	prevBB := st.CurLoc.BBName
	if trueFeasible {
		if falseFeasible {
			st.SaveBacktrackingPoint(term.FalseTarget, cond.Not())
		}
		st.Assert(cond)
		st.PrevBBName = prevBB
		st.CurLoc.BBName = term.TrueTarget
		return flowJumpTo(0), nil
	}
	st.Assert(cond.Not())
	st.PrevBBName = prevBB
	st.CurLoc.BBName = term.FalseTarget
	return flowJumpTo(0), nil
}

// stepSwitch takes whichever feasible arm (an explicit case or the
// default) sorts first, deferring every other feasible arm as a
// backtracking point, the same strategy as stepCondBr generalized to
// more than two arms.
func stepSwitch(st *state.State, term *ir.Terminator) (flow, error) {
	val, err := evalValue(st, term.SwitchVal)
	if err != nil {
		return flow{}, err
	}

	type arm struct {
		target     string
		constraint bv.Bool
	}
	var feasible []arm
	noneMatch := bv.BoolConst(true)
	for _, c := range term.Cases {
		caseVal, err := evalValue(st, c.Value)
		if err != nil {
			return flow{}, err
		}
		eq := bv.Eq(val, caseVal)
		noneMatch = noneMatch.And(eq.Not())
		ok, err := st.CheckWithExtraConstraints(eq)
		if err != nil {
			return flow{}, err
		}
		if ok {
			feasible = append(feasible, arm{c.Block, eq})
		}
	}
	defaultFeasible, err := st.CheckWithExtraConstraints(noneMatch)
	if err != nil {
		return flow{}, err
	}
	if defaultFeasible {
		feasible = append(feasible, arm{term.Default, noneMatch})
	}
	if len(feasible) == 0 {
		return flow{}, herror.New(herror.Unsat, "no arm of a switch is feasible")
	}

	prevBB := st.CurLoc.BBName
	chosen := feasible[0]
	for _, a := range feasible[1:] {
		st.SaveBacktrackingPoint(a.target, a.constraint)
	}
	st.Assert(chosen.constraint)
	st.PrevBBName = prevBB
	st.CurLoc.BBName = chosen.target
	return flowJumpTo(0), nil
}

// stepInvoke resolves and performs an invoke's call. A hooked callee
// runs immediately: control goes to NormalTarget on an ordinary return
// or ReturnVoid, or directly to ExceptionTarget if the hook throws (no
// call-stack search needed: the invoke names its own exception edge).
// An IR callee is entered with a callsite recording both labels, so a
// throw from it reaches ExceptionTarget by unwinding the call stack.
func stepInvoke(proj ir.Project, st *state.State, term *ir.Terminator) (flow, error) {
	call := term.Call
	if call == nil {
		return flow{}, herror.New(herror.MalformedInstruction, "invoke missing its call spec")
	}
	mod := st.CurLoc.Module
	resolved, err := resolveFunction(proj, st, mod, call)
	if err != nil {
		return flow{}, err
	}
	if resolved.hook != nil {
		out, err := invokeHook(proj, st, resolved.hook, call)
		if err != nil {
			return flow{}, err
		}
		if err := validateHookReturn(call, out); err != nil {
			return flow{}, err
		}
		switch out.Kind {
		case outcome.Abort:
			return flowTerminalOut(out), nil
		case outcome.Throw:
			st.PrevBBName = st.CurLoc.BBName
			st.CurLoc.BBName = term.ExceptionTarget
			st.SetPendingLandingValue(out.RetVal)
			return flowJumpTo(0), nil
		default:
			if term.Result != "" && out.Kind == outcome.Return {
				if err := recordResult(st, term.Result, call.RetType, out.RetVal); err != nil {
					return flow{}, err
				}
			}
			st.PrevBBName = st.CurLoc.BBName
			st.CurLoc.BBName = term.NormalTarget
			return flowJumpTo(0), nil
		}
	}
	return enterFunction(st, resolved, call, state.Callsite{
		Loc:            state.Location{Module: mod, Func: st.CurLoc.Func, BBName: st.CurLoc.BBName},
		ResultName:     term.Result,
		ResultType:     call.RetType,
		IsInvoke:       true,
		NormalLabel:    term.NormalTarget,
		ExceptionLabel: term.ExceptionTarget,
	})
}

// stepResume propagates an exception a cleanup landingpad chose not to
// handle, extracting the thrown pointer back out of the {ptr, selector}
// struct stepLandingPad built (or using the value directly if the
// landingpad's type was a bare pointer).
func stepResume(st *state.State, term *ir.Terminator) (flow, error) {
	v, err := evalValue(st, term.ResumeVal)
	if err != nil {
		return flow{}, err
	}
	ptr := v
	if st2, ok := ir.TypeOf(term.ResumeVal).(ir.StructType); ok && len(st2.Elems) == 2 {
		ptrBits, err := ir.SizeInBits(st2.Elems[0])
		if err != nil {
			return flow{}, err
		}
		ptr = bv.Extract(v, ptrBits-1, 0)
	}
	return unwindThrow(st, ptr)
}
