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

import "github.com/PLSysSec/haybale/outcome"

// flowKind tags what the run loop in symex.go should do after a single
// instruction or terminator has been stepped. Keeping this flat (no
// recursion into a nested "step a function" call) is what lets symex's
// run loop drive an arbitrarily deep call stack without growing the Go
// call stack, mirroring how state.State's own call stack (not Go's)
// tracks function-call nesting.
type flowKind int

const (
	// flowNext continues to the next instruction within the same block.
	flowNext flowKind = iota
	// flowJump moves execution to a new location (CurLoc has already
	// been updated by the step that returned this flow); instr is the
	// index within the new block's Instructions to resume at (0 unless
	// resuming mid-block after a call returns).
	flowJump
	// flowTerminal ends the entire path with out.
	flowTerminal
)

type flow struct {
	kind  flowKind
	instr int
	out   outcome.Outcome
}

func flowNextI() flow { return flow{kind: flowNext} }

func flowJumpTo(instr int) flow { return flow{kind: flowJump, instr: instr} }

func flowTerminalOut(out outcome.Outcome) flow { return flow{kind: flowTerminal, out: out} }
