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

// Package state composes one symbolic execution path's worth of state
// (spec.md §3): the solver, memory, allocator, variable map, global
// table and call stack, plus the backtrack log a branch point saves
// itself into so the interpreter can come back and try the other
// side later.
package state

import (
	"fmt"

	"golang.org/x/exp/maps"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/config"
	"github.com/PLSysSec/haybale/globals"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/memory"
	"github.com/PLSysSec/haybale/solver"
	"github.com/PLSysSec/haybale/varmap"

	"github.com/PLSysSec/haybale/alloc"
)

// Location identifies a basic block being executed: which module,
// which function, which block. Function and module names are assumed
// unique (spec §1).
type Location struct {
	Module *ir.Module
	Func   *ir.Function
	BBName string
}

func (l Location) String() string {
	return fmt.Sprintf("<%s:%s bb %s>", l.Module.Name, l.Func.Name, l.BBName)
}

// QualifiedBB names a basic block that was visited, for State.Path.
type QualifiedBB struct {
	FuncName string
	BBName   string
}

// Callsite is the call instruction responsible for one call-stack
// frame: which block it's in, the index of the Call/Invoke instruction
// within that block, and enough of the instruction's shape for the
// interpreter to resume the caller correctly once the callee finishes.
type Callsite struct {
	Loc   Location
	Instr int

	// ResultName is the name the callee's return value is bound to in
	// the caller ("" for a void call/invoke).
	ResultName string
	// ResultType is ResultName's static type; meaningless when
	// ResultName == "".
	ResultType ir.Type

	// IsInvoke distinguishes an `invoke` callsite (which has separate
	// normal/exception resume labels) from an ordinary `call` (which
	// simply resumes at Instr+1 in the same block).
	IsInvoke       bool
	NormalLabel    string
	ExceptionLabel string
}

// stackFrame is one entry of the call stack: the callsite that entered
// the current function, and a snapshot of the caller's local variables
// so they can be restored on return (necessary because varmap keys
// bindings by (function, name), so a recursive call into the same
// function overwrites the caller instance's bindings).
type stackFrame struct {
	callsite    Callsite
	restoreInfo varmap.RestoreInfo
}

// backtrackPoint is a saved place execution can resume later: the
// incremental-solver push depth lines up with len(backtrackPoints), so
// reverting pops exactly one solver level.
type backtrackPoint struct {
	loc        Location
	prevBB     string
	stack      []stackFrame
	constraint bv.Bool
	varmap     *varmap.Map
	mem        memory.Memory
	pathLen    int
	excStack   []bv.BV

	pendingLandingValue    bv.BV
	hasPendingLandingValue bool
}

func (bp backtrackPoint) String() string {
	return fmt.Sprintf("<backtrack point to enter bb %s with constraint %s and %d stack frames>", bp.loc.BBName, bp.constraint, len(bp.stack))
}

// State is one symbolic execution path's complete machine state.
type State struct {
	CurLoc     Location
	PrevBBName string // "" if this is the first block on the path
	Path       []QualifiedBB

	varmap  *varmap.Map
	mem     memory.Memory
	alloc   *alloc.Alloc
	solver  *solver.Solver
	globals *globals.Table

	stack           []stackFrame
	backtrackPoints []backtrackPoint

	// excStack holds the pointers passed to __cxa_begin_catch that
	// haven't yet been matched by a __cxa_end_catch, innermost last, so
	// that __cxa_rethrow can recover the exception currently being
	// handled by the nearest enclosing catch.
	excStack []bv.BV

	// pendingLandingValue holds the pointer an invoke's Throw outcome
	// carried, from the moment interp jumps to the exception target
	// block until the landingpad instruction there consumes it.
	pendingLandingValue    bv.BV
	hasPendingLandingValue bool

	cfg *config.Config

	// versionTags disambiguates the solver-facing variable name across
	// repeated definitions of the same (function, name) key, purely
	// for readability of dumped models; it is not itself bound-checked
	// (that's varmap's job).
	versionTags map[string]int
}

// New returns a fresh State beginning execution at startLoc (which
// should be a function's entry block). maxVersionsOfName bounds both
// loop iterations and recursion depth (varmap.New); mem is the memory
// backend to use (memory.NewCellMemory or memory.NewByteMemory,
// chosen by config.Config.MemoryBackend); allocCellBytes must match
// mem's cell size. cfg is consulted by hooks (e.g. the memcpy-length
// concretization policy) through the Config method; it is never
// mutated by State itself.
func New(startLoc Location, maxVersionsOfName int, mem memory.Memory, allocCellBytes uint64, globalsTable *globals.Table, cfg *config.Config) *State {
	slv := solver.New()
	if cfg != nil {
		slv.SetMaxSearchWidth(cfg.MaxSolutionSearchWidth)
	}
	return &State{
		CurLoc:  startLoc,
		varmap:  varmap.New(maxVersionsOfName),
		mem:     mem,
		alloc:   alloc.New(allocCellBytes),
		solver:  slv,
		globals: globalsTable,
		cfg:     cfg,
		versionTags: make(map[string]int),
	}
}

// Config exposes the engine configuration a hook was installed under,
// so that a hook function (which only receives config.State, not
// *config.Config directly) can consult policy toggles like
// ConcretizeMemcpyLengths.
func (s *State) Config() *config.Config { return s.cfg }

// Assert adds cond as a constraint on this path.
func (s *State) Assert(cond bv.Bool) {
	s.solver.Assert(cond)
}

// Check reports whether the current constraints are satisfiable.
func (s *State) Check() (bool, error) {
	return s.solver.Sat()
}

// CheckWithExtraConstraints reports whether the current constraints
// plus conds together are satisfiable, without permanently asserting
// conds.
func (s *State) CheckWithExtraConstraints(conds ...bv.Bool) (bool, error) {
	return s.solver.SatWithExtra(conds...)
}

// GetSolutionForBV returns one concrete value v can take on this path.
func (s *State) GetSolutionForBV(v bv.BV) (uint64, error) {
	return s.solver.GetSolutionForBV(v)
}

// GetSolutionForBool returns one concrete value b can take on this path.
func (s *State) GetSolutionForBool(b bv.Bool) (bool, error) {
	return s.solver.GetSolutionForBool(b)
}

// GetPossibleSolutionsForBV returns up to maxCount+1 distinct values v can
// take on this path; maxCount+1 values mean more than maxCount exist and
// the set is not complete (see solver.Solver.GetPossibleSolutionsForBV).
func (s *State) GetPossibleSolutionsForBV(v bv.BV, maxCount int) ([]uint64, error) {
	return s.solver.GetPossibleSolutionsForBV(v, maxCount)
}

// MinPossibleSolution returns the smallest feasible value of v on this
// path.
func (s *State) MinPossibleSolution(v bv.BV) (uint64, error) {
	return s.solver.MinPossibleSolution(v)
}

// MaxPossibleSolution returns the largest feasible value of v on this
// path.
func (s *State) MaxPossibleSolution(v bv.BV) (uint64, error) {
	return s.solver.MaxPossibleSolution(v)
}

// BVsCanBeEqual reports whether a == b is satisfiable alongside the
// current path constraints, without asserting it.
func (s *State) BVsCanBeEqual(a, b bv.BV) (bool, error) {
	return s.solver.BVsCanBeEqual(a, b)
}

// GetSolutionForBVByName looks up the current binding of name in fn
// and returns one concrete value it can take.
func (s *State) GetSolutionForBVByName(fn, name string) (uint64, error) {
	v, err := s.varmap.LookupBV(fn, name)
	if err != nil {
		return 0, err
	}
	return s.GetSolutionForBV(v)
}

// GetSolutionForBoolByName looks up the current binding of name in fn
// and returns one concrete value it can take.
func (s *State) GetSolutionForBoolByName(fn, name string) (bool, error) {
	v, err := s.varmap.LookupBool(fn, name)
	if err != nil {
		return false, err
	}
	return s.GetSolutionForBool(v)
}

// NewBVWithName creates a fresh BV bound to name in the current
// function, uniquing it against any prior binding of the same name
// (spec §3: SSA names are versioned, not mutated in place). Fails with
// herror.LoopBoundExceeded if this would exceed the configured bound.
func (s *State) NewBVWithName(name string, bits int) (bv.BV, error) {
	v := bv.Var(fmt.Sprintf("%s.%s#%d", s.CurLoc.Func.Name, name, s.nextVersionTag(name)), bits)
	if err := s.varmap.DefineBV(s.CurLoc.Func.Name, name, v); err != nil {
		return bv.BV{}, err
	}
	return v, nil
}

// NewBoolWithName creates a fresh Bool bound to name in the current
// function, with the same uniquing/bound behavior as NewBVWithName.
func (s *State) NewBoolWithName(name string) (bv.Bool, error) {
	v := bv.BoolVar(fmt.Sprintf("%s.%s#%d", s.CurLoc.Func.Name, name, s.nextVersionTag(name)))
	if err := s.varmap.DefineBool(s.CurLoc.Func.Name, name, v); err != nil {
		return bv.Bool{}, err
	}
	return v, nil
}

func (s *State) nextVersionTag(name string) int {
	key := s.CurLoc.Func.Name + "." + name
	n := s.versionTags[key]
	s.versionTags[key] = n + 1
	return n
}

// RecordBVResult records thing's result as resultval: allocates a new
// versioned name for it and asserts the two are equal, matching the
// teacher-independent "record, don't mutate" SSA discipline of varmap.
func (s *State) RecordBVResult(resultName string, bits int, resultval bv.BV) error {
	result, err := s.NewBVWithName(resultName, bits)
	if err != nil {
		return err
	}
	s.Assert(bv.Eq(result, resultval))
	return nil
}

// RecordBoolResult is RecordBVResult for a boolean-typed result.
func (s *State) RecordBoolResult(resultName string, resultval bv.Bool) error {
	result, err := s.NewBoolWithName(resultName)
	if err != nil {
		return err
	}
	// result == resultval, expressed as their XOR being false (no
	// dedicated boolean Eq node; spec §4.A keeps the bv.Kind set
	// minimal and XNOR is a one-liner over what's already there).
	s.Assert(result.Xor(resultval).Not())
	return nil
}

// OperandToBV converts an instruction operand to the BV it denotes:
// a constant becomes a literal BV, a local reference is looked up in
// the current function's varmap entry, a global reference is resolved
// through the global table.
func (s *State) OperandToBV(op ir.Value) (bv.BV, error) {
	switch o := op.(type) {
	case ir.Constant:
		return s.constantToBV(o)
	case ir.LocalRef:
		return s.varmap.LookupBV(s.CurLoc.Func.Name, o.Name)
	case ir.GlobalRef:
		a, ok := s.globals.GetAllocation(o.Name, s.CurLoc.Module)
		if !ok {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "no global named %q found", o.Name)
		}
		return a.Addr, nil
	default:
		return bv.BV{}, herror.New(herror.MalformedInstruction, "cannot convert operand of type %T to BV", op)
	}
}

func (s *State) constantToBV(c ir.Constant) (bv.BV, error) {
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
		a, ok := s.globals.GetAllocation(c.GlobalName, s.CurLoc.Module)
		if !ok {
			return bv.BV{}, herror.New(herror.MalformedInstruction, "no global named %q found", c.GlobalName)
		}
		return a.Addr, nil
	default:
		return bv.BV{}, herror.New(herror.UnsupportedInstruction, "constant kind %d not supported in OperandToBV", c.Kind)
	}
}

// OperandToBool converts a bool-typed (i1) operand to the Bool it
// denotes.
func (s *State) OperandToBool(op ir.Value) (bv.Bool, error) {
	switch o := op.(type) {
	case ir.Constant:
		if o.Kind != ir.ConstInt {
			return bv.Bool{}, herror.New(herror.MalformedInstruction, "cannot convert constant kind %d to Bool", o.Kind)
		}
		return bv.BoolConst(o.IntVal != 0), nil
	case ir.LocalRef:
		return s.varmap.LookupBool(s.CurLoc.Func.Name, o.Name)
	default:
		return bv.Bool{}, herror.New(herror.MalformedInstruction, "cannot convert operand of type %T to Bool", op)
	}
}

// Read reads bits bits from memory at addr; the read may span several
// cells of the chosen backend (see package memory).
func (s *State) Read(addr bv.BV, bits int) (bv.BV, error) {
	return s.mem.Read(addr, bits)
}

// Write writes val into memory at addr.
func (s *State) Write(addr bv.BV, val bv.BV) error {
	return s.mem.Write(addr, val)
}

// Allocate reserves bits bits of address space and returns a pointer
// to the new allocation.
func (s *State) Allocate(bits uint64) (bv.BV, error) {
	addr, err := s.alloc.Alloc(bits)
	if err != nil {
		return bv.BV{}, err
	}
	return bv.Const(addr, 64), nil
}

// AllocationSize returns the byte size of the allocation starting at
// addr, if addr is a known allocation start (used by the realloc
// hook to know how much of the old allocation to copy forward).
func (s *State) AllocationSize(addr uint64) (uint64, bool) {
	return s.alloc.GetAllocationSize(addr)
}

// Globals exposes the global allocation table for hooks/interp code
// that needs to resolve function pointers or global addresses
// directly rather than through an IR operand.
func (s *State) Globals() *globals.Table { return s.globals }

// RecordInPath appends bb to the path log.
func (s *State) RecordInPath(bb QualifiedBB) {
	s.Path = append(s.Path, bb)
}

// PushCallsite records entering a call, snapshotting the current
// function's local variables so they can be restored when the call
// returns. site.Loc is filled in with CurLoc if zero.
func (s *State) PushCallsite(site Callsite) {
	if site.Loc == (Location{}) {
		site.Loc = s.CurLoc
	}
	s.stack = append(s.stack, stackFrame{
		callsite:    site,
		restoreInfo: s.varmap.GetRestoreInfoForFunc(s.CurLoc.Func.Name),
	})
}

// PopCallsite records leaving the current function, restoring the
// caller's local variables, and returns the Callsite at which the
// current function was called. The second return is false if the
// current function was the top-level function (nothing to pop).
func (s *State) PopCallsite() (Callsite, bool) {
	if len(s.stack) == 0 {
		return Callsite{}, false
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	s.varmap.RestoreFuncVars(top.restoreInfo)
	return top.callsite, true
}

// CallDepth reports how many frames are on the call stack.
func (s *State) CallDepth() int { return len(s.stack) }

// CallStack returns the call site each active frame was entered
// through, outermost first, for diagnostic backtraces.
func (s *State) CallStack() []Callsite {
	out := make([]Callsite, len(s.stack))
	for i, fr := range s.stack {
		out[i] = fr.callsite
	}
	return out
}

// AllVarsInCurrentFunc returns every variable currently bound in the
// function execution is positioned in, formatted for display
// (HAYBALE_DUMP_VARS).
func (s *State) AllVarsInCurrentFunc() map[string]string {
	return s.varmap.AllForFunc(s.CurLoc.Func.Name)
}

// PushInFlightException records ptr as the exception currently being
// handled, innermost relative to any exception already being handled
// (nested catch blocks).
func (s *State) PushInFlightException(ptr bv.BV) {
	s.excStack = append(s.excStack, ptr)
}

// PopInFlightException removes and returns the innermost in-flight
// exception, reporting false if none is being handled.
func (s *State) PopInFlightException() (bv.BV, bool) {
	if len(s.excStack) == 0 {
		return bv.BV{}, false
	}
	n := len(s.excStack) - 1
	ptr := s.excStack[n]
	s.excStack = s.excStack[:n]
	return ptr, true
}

// CurrentInFlightException returns the innermost in-flight exception
// without removing it, reporting false if none is being handled.
func (s *State) CurrentInFlightException() (bv.BV, bool) {
	if len(s.excStack) == 0 {
		return bv.BV{}, false
	}
	return s.excStack[len(s.excStack)-1], true
}

// SetPendingLandingValue records ptr as the thrown pointer a landingpad
// instruction at the current block should bind, once execution reaches
// it.
func (s *State) SetPendingLandingValue(ptr bv.BV) {
	s.pendingLandingValue = ptr
	s.hasPendingLandingValue = true
}

// TakePendingLandingValue returns and clears the pending landing value,
// reporting false if none is set.
func (s *State) TakePendingLandingValue() (bv.BV, bool) {
	if !s.hasPendingLandingValue {
		return bv.BV{}, false
	}
	v := s.pendingLandingValue
	s.hasPendingLandingValue = false
	return v, true
}

// SaveBacktrackingPoint saves the current state as a point execution
// can resume from later, about to enter bbToEnter (in the same module
// and function as CurLoc) with constraint asserted only if and when
// that resumption happens.
func (s *State) SaveBacktrackingPoint(bbToEnter string, constraint bv.Bool) {
	s.solver.Push()
	s.backtrackPoints = append(s.backtrackPoints, backtrackPoint{
		loc:        Location{Module: s.CurLoc.Module, Func: s.CurLoc.Func, BBName: bbToEnter},
		prevBB:     s.CurLoc.BBName,
		stack:      append([]stackFrame(nil), s.stack...),
		constraint: constraint,
		varmap:     s.varmap.Clone(),
		mem:        s.mem.Clone(),
		pathLen:    len(s.Path),
		excStack:   append([]bv.BV(nil), s.excStack...),

		pendingLandingValue:    s.pendingLandingValue,
		hasPendingLandingValue: s.hasPendingLandingValue,
	})
}

// RevertToBacktrackingPoint restores the most recently saved
// backtracking point and reports whether one existed.
func (s *State) RevertToBacktrackingPoint() bool {
	if len(s.backtrackPoints) == 0 {
		return false
	}
	n := len(s.backtrackPoints) - 1
	bp := s.backtrackPoints[n]
	s.backtrackPoints = s.backtrackPoints[:n]

	s.solver.Pop()
	s.Assert(bp.constraint)
	s.varmap = bp.varmap
	s.mem = bp.mem
	s.stack = bp.stack
	s.Path = s.Path[:bp.pathLen]
	s.CurLoc = bp.loc
	s.PrevBBName = bp.prevBB
	s.excStack = bp.excStack
	s.pendingLandingValue = bp.pendingLandingValue
	s.hasPendingLandingValue = bp.hasPendingLandingValue
	return true
}

// Clone returns an independent deep-enough copy of s for a deferred
// branch that will be explored later without sharing mutable state
// with the path that spawned it (spec §5). The underlying *bv.Expr
// nodes are shared (immutable); the solver's assertion stack, varmap,
// memory, allocator, and call stack are all copied.
func (s *State) Clone() *State {
	return &State{
		CurLoc:          s.CurLoc,
		PrevBBName:      s.PrevBBName,
		Path:            append([]QualifiedBB(nil), s.Path...),
		varmap:          s.varmap.Clone(),
		mem:             s.mem.Clone(),
		alloc:           s.alloc.Clone(),
		solver:          s.solver.Clone(),
		globals:         s.globals,
		stack:           append([]stackFrame(nil), s.stack...),
		backtrackPoints: append([]backtrackPoint(nil), s.backtrackPoints...),
		excStack:        append([]bv.BV(nil), s.excStack...),

		pendingLandingValue:    s.pendingLandingValue,
		hasPendingLandingValue: s.hasPendingLandingValue,

		cfg: s.cfg,
		versionTags:     maps.Clone(s.versionTags),
	}
}
