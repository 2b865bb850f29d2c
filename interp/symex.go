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

// Package interp is the symbolic execution core (spec.md §3): it steps
// one basic block's worth of instructions at a time, resolves calls
// and hooks, forks on symbolic branches and addresses, and unwinds
// exceptions, driving a *state.State to completion without ever
// recursing in Go for nested calls (the call stack lives in
// state.State, not on interp's own goroutine stack).
package interp

import (
	"errors"

	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/outcome"
	"github.com/PLSysSec/haybale/state"
)

// Step runs st forward to the next completed path: either the path
// currently under execution finishes (returns, throws uncaught, or
// aborts) or, having hit an infeasible condition (Unsat) or a loop/
// recursion bound (LoopBoundExceeded), interp backtracks to the most
// recently deferred branch and retries from there. The second return
// value is false once st has no path left to explore (every
// backtracking point has been exhausted without completing a path).
func Step(proj ir.Project, st *state.State) (outcome.Outcome, bool, error) {
	for {
		out, err := runPath(proj, st)
		if err == nil {
			return out, true, nil
		}
		if !isRetryable(err) {
			return outcome.Outcome{}, false, err
		}
		if !st.RevertToBacktrackingPoint() {
			return outcome.Outcome{}, false, nil
		}
	}
}

// isRetryable reports whether err reflects a condition that should be
// resolved by abandoning the current path and trying the next deferred
// branch, rather than surfacing as a fatal error.
func isRetryable(err error) bool {
	var herr *herror.Error
	if !errors.As(err, &herr) {
		return false
	}
	return herr.Kind == herror.Unsat || herr.Kind == herror.LoopBoundExceeded
}

// runPath drives st forward one instruction or terminator at a time,
// starting from its current location, until the path completes or an
// error (possibly retryable) occurs. instrIdx tracks where within the
// current block execution resumes: 0 on entering a block fresh
// (through a branch, a call, or a backtrack), or a callsite's saved
// Instr when resuming mid-block after a call returns.
func runPath(proj ir.Project, st *state.State) (outcome.Outcome, error) {
	instrIdx := 0
	enteredBlock := true
	for {
		fn := st.CurLoc.Func
		bb, ok := fn.Block(st.CurLoc.BBName)
		if !ok {
			return outcome.Outcome{}, herror.New(herror.MalformedInstruction, "no block named %q in function %q", st.CurLoc.BBName, fn.Name).WithLocation(fn.Name, st.CurLoc.BBName)
		}
		if enteredBlock {
			st.RecordInPath(state.QualifiedBB{FuncName: fn.Name, BBName: bb.Name})
			enteredBlock = false
		}

		if instrIdx < len(bb.Instructions) {
			instr := &bb.Instructions[instrIdx]
			f, err := stepInstruction(proj, st, instr, instrIdx)
			if err != nil {
				return outcome.Outcome{}, tagLocation(err, fn.Name, bb.Name)
			}
			switch f.kind {
			case flowNext:
				instrIdx++
			case flowJump:
				instrIdx = f.instr
				enteredBlock = true
			case flowTerminal:
				return f.out, nil
			}
			continue
		}

		f, err := stepTerminator(proj, st, &bb.Term)
		if err != nil {
			return outcome.Outcome{}, tagLocation(err, fn.Name, bb.Name)
		}
		switch f.kind {
		case flowTerminal:
			return f.out, nil
		default:
			instrIdx = f.instr
			enteredBlock = true
		}
	}
}

// tagLocation attaches the function/block an error surfaced at, if it
// doesn't already carry a more specific one (WithLocation overwrites
// unconditionally, so this only wraps the first, innermost attribution
// as the error propagates up through runPath's single flat loop).
func tagLocation(err error, fn, block string) error {
	var herr *herror.Error
	if errors.As(err, &herr) && herr.Func == "" {
		return herr.WithLocation(fn, block)
	}
	return err
}
