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
	"github.com/PLSysSec/haybale/config"
	"github.com/PLSysSec/haybale/globals"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/hooks"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/outcome"
	"github.com/PLSysSec/haybale/state"
)

// resolvedCallee is what a call/invoke's Callee resolved to: exactly
// one of hook or fn is set.
type resolvedCallee struct {
	hook     config.Hook
	fn       *ir.Function
	fnModule *ir.Module
}

// resolveFunction resolves a call/invoke's callee, following spec's
// hook-resolution order: a user-configured hook or a built-in default
// hook always takes precedence over an IR function definition by the
// same name, whether the call is direct (by name) or indirect (through
// a function pointer value).
func resolveFunction(proj ir.Project, st *state.State, mod *ir.Module, call *ir.CallSpec) (resolvedCallee, error) {
	cfg := st.Config()
	if call.InlineAsm {
		if cfg.InlineAsmHook != nil {
			return resolvedCallee{hook: cfg.InlineAsmHook}, nil
		}
		return resolvedCallee{}, herror.New(herror.MalformedInstruction, "inline assembly encountered with no InlineAsmHook configured")
	}

	defaults := hooks.Defaults()

	switch callee := call.Callee.(type) {
	case ir.GlobalRef:
		if h, ok := resolveHookFunc(cfg, defaults, callee.Name); ok {
			return resolvedCallee{hook: h}, nil
		}
		fn, fnMod, err := ir.FuncByName(proj, mod, callee.Name)
		if err != nil {
			return resolvedCallee{}, herror.New(herror.FunctionNotFound, "%v", err)
		}
		return resolvedCallee{fn: fn, fnModule: fnMod}, nil

	case ir.LocalRef:
		addr, err := evalValue(st, callee)
		if err != nil {
			return resolvedCallee{}, err
		}
		concrete, err := resolveUniqueAddress(st, addr)
		if err != nil {
			return resolvedCallee{}, err
		}
		callable, ok := st.Globals().GetCallableForAddress(concrete, mod)
		if !ok {
			return resolvedCallee{}, herror.New(herror.FailedToResolveFunctionPointer, "no function or hook is allocated at address %#x", concrete)
		}
		switch callable.Kind {
		case globals.CallableHook:
			h, ok := resolveHookFunc(cfg, defaults, callable.Hook)
			if !ok {
				return resolvedCallee{}, herror.New(herror.FailedToResolveFunctionPointer, "hook %q is allocated but no longer configured", callable.Hook)
			}
			return resolvedCallee{hook: h}, nil
		default:
			return resolvedCallee{fn: callable.Func, fnModule: callable.Module}, nil
		}

	default:
		return resolvedCallee{}, herror.New(herror.MalformedInstruction, "call has no callee")
	}
}

// invokeHook runs a resolved hook against the current state.
func invokeHook(proj ir.Project, st *state.State, hook config.Hook, call *ir.CallSpec) (outcome.Outcome, error) {
	return hook(proj, st, call)
}

// validateHookReturn checks that a hook's reported outcome is
// consistent with what the call site expects: a Return outcome for a
// non-void call, ReturnVoid for a void one. Abort and Throw are always
// acceptable regardless of the call's static return type, since either
// one ends the calling path's use of the result entirely.
func validateHookReturn(call *ir.CallSpec, out outcome.Outcome) error {
	isVoid := call.RetType == nil
	if !isVoid {
		if _, ok := call.RetType.(ir.VoidType); ok {
			isVoid = true
		}
	}
	switch out.Kind {
	case outcome.Return:
		if isVoid {
			return herror.New(herror.HookReturnValueMismatch, "hook returned a value for a void call")
		}
	case outcome.ReturnVoid:
		if !isVoid {
			return herror.New(herror.HookReturnValueMismatch, "hook returned void for a call expecting %s", call.RetType)
		}
	}
	return nil
}

// evalArgs resolves each of a call's argument operands to the BV it
// denotes, in the caller's current location (must be called before
// CurLoc switches to the callee).
func evalArgs(st *state.State, args []ir.Value, n int) ([]bv.BV, error) {
	if len(args) < n {
		return nil, herror.New(herror.MalformedInstruction, "call passed %d arguments, expected at least %d", len(args), n)
	}
	vals := make([]bv.BV, n)
	for i := 0; i < n; i++ {
		v, err := evalValue(st, args[i])
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// bindParams binds fn's declared parameters, in the callee's now-current
// location, to the already-evaluated argument values.
func bindParams(st *state.State, fn *ir.Function, vals []bv.BV) error {
	for i, p := range fn.Params {
		if err := recordResult(st, p.Name, p.Ty, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// stepCall executes an ordinary (non-invoke) call instruction.
func stepCall(proj ir.Project, st *state.State, instr *ir.Instruction, instrIdx int) (flow, error) {
	call := instr.Call
	if call == nil {
		return flow{}, herror.New(herror.MalformedInstruction, "call instruction missing its call spec")
	}
	mod := st.CurLoc.Module
	resolved, err := resolveFunction(proj, st, mod, call)
	if err != nil {
		return flow{}, err
	}
	if resolved.hook != nil {
		return stepHookCall(proj, st, resolved.hook, call, instr.Result, instr.Type)
	}
	return enterFunction(st, resolved, call, state.Callsite{
		Loc:        state.Location{Module: mod, Func: st.CurLoc.Func, BBName: st.CurLoc.BBName},
		Instr:      instrIdx + 1,
		ResultName: instr.Result,
		ResultType: instr.Type,
	})
}

// stepHookCall runs a hook call site (shared by ordinary calls and
// invoke, each passing the right resultName/resultType for binding a
// Return outcome).
func stepHookCall(proj ir.Project, st *state.State, hook config.Hook, call *ir.CallSpec, resultName string, resultType ir.Type) (flow, error) {
	out, err := invokeHook(proj, st, hook, call)
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
		return unwindThrow(st, out.RetVal)
	default:
		if resultName != "" && out.Kind == outcome.Return {
			if err := recordResult(st, resultName, resultType, out.RetVal); err != nil {
				return flow{}, err
			}
		}
		return flowNextI(), nil
	}
}

// enterFunction pushes site as the new top call-stack frame and moves
// CurLoc into resolved.fn's entry block, after evaluating and binding
// its arguments. site.Loc must still be the caller's location; it is
// recorded before CurLoc is changed.
func enterFunction(st *state.State, resolved resolvedCallee, call *ir.CallSpec, site state.Callsite) (flow, error) {
	fn := resolved.fn
	if fn.IsDeclaration() {
		return flow{}, herror.New(herror.FunctionNotFound, "function %q has no definition and is not hooked", fn.Name)
	}
	entry, ok := fn.EntryBlock()
	if !ok {
		return flow{}, herror.New(herror.MalformedInstruction, "function %q has no entry block", fn.Name)
	}
	argVals, err := evalArgs(st, call.Args, len(fn.Params))
	if err != nil {
		return flow{}, err
	}
	st.PushCallsite(site)
	st.CurLoc = state.Location{Module: resolved.fnModule, Func: fn, BBName: entry.Name}
	st.PrevBBName = ""
	if err := bindParams(st, fn, argVals); err != nil {
		return flow{}, err
	}
	return flowJumpTo(0), nil
}

// unwindReturn handles a ret/ret void terminator: pops the call stack
// and resumes the caller (or ends the path, if there was no caller).
func unwindReturn(st *state.State, retVal *bv.BV) (flow, error) {
	site, ok := st.PopCallsite()
	if !ok {
		if retVal == nil {
			return flowTerminalOut(outcome.Void()), nil
		}
		return flowTerminalOut(outcome.ReturnOf(*retVal)), nil
	}
	resumeInstr := 0
	if site.IsInvoke {
		st.CurLoc = state.Location{Module: site.Loc.Module, Func: site.Loc.Func, BBName: site.NormalLabel}
		st.PrevBBName = site.Loc.BBName
	} else {
		st.CurLoc = site.Loc
		st.PrevBBName = ""
		resumeInstr = site.Instr
	}
	if site.ResultName != "" && retVal != nil {
		if err := recordResult(st, site.ResultName, site.ResultType, *retVal); err != nil {
			return flow{}, err
		}
	}
	return flowJumpTo(resumeInstr), nil
}

// unwindThrow searches the call stack for the nearest invoke frame
// whose landing pad actually catches (see catchAtExceptionLabel),
// popping past every plain-call frame and every non-catching cleanup
// pad along the way. If no catching frame is found the whole path ends
// with a Throw outcome.
func unwindThrow(st *state.State, ptr bv.BV) (flow, error) {
	for {
		site, ok := st.PopCallsite()
		if !ok {
			return flowTerminalOut(outcome.ThrowOf(ptr)), nil
		}
		if !site.IsInvoke {
			continue
		}
		catches, err := catchAtExceptionLabel(st.Config(), site.Loc.Func, site.ExceptionLabel)
		if err != nil {
			return flow{}, err
		}
		if !catches {
			continue
		}
		st.CurLoc = state.Location{Module: site.Loc.Module, Func: site.Loc.Func, BBName: site.ExceptionLabel}
		st.PrevBBName = site.Loc.BBName
		st.SetPendingLandingValue(ptr)
		return flowJumpTo(0), nil
	}
}

// catchAtExceptionLabel reports whether the landingpad at the start of
// fn's block named label actually catches an exception, versus being a
// pure cleanup pad (IsCleanup with no catch Clauses) that should let
// propagation continue past it. Only consulted when
// Config.ExactTypeMatching is set; otherwise every landingpad on the
// stack catches, matching the original's imprecise default.
func catchAtExceptionLabel(cfg *config.Config, fn *ir.Function, label string) (bool, error) {
	if !cfg.ExactTypeMatching {
		return true, nil
	}
	bb, ok := fn.Block(label)
	if !ok || len(bb.Instructions) == 0 {
		return true, nil
	}
	first := bb.Instructions[0]
	if first.Op != ir.OpLandingPad {
		return true, nil
	}
	return len(first.Clauses) > 0, nil
}
