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

// Package varmap implements the (function, name) -> BV/Bool binding
// map of spec.md §4.D: the interpreter's notion of "the current value
// of this SSA name", keyed by both the owning function and the name so
// that two active instances of the same recursive function don't
// collide, with a per-key version counter that bounds both loop
// iterations and recursion depth (spec's `loop_bound`).
package varmap

import (
	"golang.org/x/exp/maps"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/herror"
)

// key pairs a function name with a variable name. Go struct keys are
// natively comparable and hashable, so this replaces the teacher
// corpus's more elaborate double-keyed-map machinery
// (original_source/src/double_keyed_map.rs's Borrow-based trick, which
// exists only because Rust's HashMap can't look up a two-field key by
// borrowed parts without allocating a temporary pair) with a plain map.
type key struct {
	Func string
	Name string
}

// binding holds the current value of a variable, tagged by kind since
// a varmap entry is either a BV or a Bool (never both) — mirrors
// original_source/src/varmap.rs's BVorBool enum.
type binding struct {
	expr   *bv.Expr
	isBool bool
}

// Map is the binding table for one path's execution. One Map is shared
// across all currently-active call frames; restore info is how a
// returning call frame gets its caller's bindings for the *same*
// function name back after a recursive call overwrote them.
type Map struct {
	bindings map[key]binding
	versions map[key]int
	maxVersions int
}

// New returns an empty Map. maxVersions bounds how many times a single
// (function, name) key may be (re)defined — exceeding it reports
// herror.LoopBoundExceeded, serving as both the loop bound and the
// recursion-depth bound (spec §4.D).
func New(maxVersions int) *Map {
	return &Map{
		bindings:    make(map[key]binding),
		versions:    make(map[key]int),
		maxVersions: maxVersions,
	}
}

// DefineBV associates name (scoped to fn) with v, consuming one
// version of the (fn, name) key's budget.
func (m *Map) DefineBV(fn, name string, v bv.BV) error {
	return m.define(fn, name, binding{expr: v.Expr(), isBool: false})
}

// DefineBool associates name (scoped to fn) with v, consuming one
// version of the (fn, name) key's budget.
func (m *Map) DefineBool(fn, name string, v bv.Bool) error {
	return m.define(fn, name, binding{expr: v.Expr(), isBool: true})
}

func (m *Map) define(fn, name string, b binding) error {
	k := key{fn, name}
	m.versions[k]++
	if m.maxVersions > 0 && m.versions[k] > m.maxVersions {
		return herror.New(herror.LoopBoundExceeded, "exceeded the loop/recursion bound of %d versions for %s in %s", m.maxVersions, name, fn)
	}
	m.bindings[k] = b
	return nil
}

// LookupBV returns the current BV bound to name in fn.
func (m *Map) LookupBV(fn, name string) (bv.BV, error) {
	b, ok := m.bindings[key{fn, name}]
	if !ok {
		return bv.BV{}, herror.New(herror.MalformedInstruction, "no BV named %q bound in function %q", name, fn)
	}
	if b.isBool {
		return bv.BV{}, herror.New(herror.MalformedInstruction, "variable %q in %q is a Bool, not a BV", name, fn)
	}
	return bv.FromExpr(b.expr), nil
}

// LookupBool returns the current Bool bound to name in fn.
func (m *Map) LookupBool(fn, name string) (bv.Bool, error) {
	b, ok := m.bindings[key{fn, name}]
	if !ok {
		return bv.Bool{}, herror.New(herror.MalformedInstruction, "no Bool named %q bound in function %q", name, fn)
	}
	if !b.isBool {
		return bv.Bool{}, herror.New(herror.MalformedInstruction, "variable %q in %q is a BV, not a Bool", name, fn)
	}
	return bv.FromBoolExpr(b.expr), nil
}

// AllForFunc returns every currently bound (name -> formatted value)
// pair for fn, for diagnostic dumps (HAYBALE_DUMP_VARS); iteration
// order is unspecified, matching the underlying map.
func (m *Map) AllForFunc(fn string) map[string]string {
	out := make(map[string]string)
	for k, b := range m.bindings {
		if k.Func != fn {
			continue
		}
		if b.isBool {
			out[k.Name] = bv.FromBoolExpr(b.expr).String()
		} else {
			out[k.Name] = bv.FromExpr(b.expr).String()
		}
	}
	return out
}

// RestoreInfo is a snapshot of every binding currently active for one
// function, taken before a recursive call to that same function and
// handed back to RestoreFuncVars when the call returns.
type RestoreInfo struct {
	fn       string
	snapshot map[string]binding
	versions map[string]int
}

// GetRestoreInfoForFunc snapshots every (fn, *) binding and version
// counter currently in m, for later restoration via RestoreFuncVars.
// Called when pushing a new call-stack frame for fn (including a
// recursive call to a function already on the stack), per
// original_source/src/state.rs's push_callsite storing
// `varmap.get_restore_info_for_fn(...)` on the new StackFrame.
func (m *Map) GetRestoreInfoForFunc(fn string) RestoreInfo {
	snap := make(map[string]binding)
	vers := make(map[string]int)
	for k, b := range m.bindings {
		if k.Func == fn {
			snap[k.Name] = b
		}
	}
	for k, v := range m.versions {
		if k.Func == fn {
			vers[k.Name] = v
		}
	}
	return RestoreInfo{fn: fn, snapshot: snap, versions: vers}
}

// RestoreFuncVars replaces every current (ri.fn, *) binding with the
// ones captured in ri, undoing whatever the returning call frame's
// instance of the function did to shared (fn, name) keys. Called when
// popping a call-stack frame, per state.rs's pop_callsite calling
// `varmap.restore_fn_vars(restore_info)`.
func (m *Map) RestoreFuncVars(ri RestoreInfo) {
	for k := range m.bindings {
		if k.Func == ri.fn {
			delete(m.bindings, k)
		}
	}
	for k := range m.versions {
		if k.Func == ri.fn {
			delete(m.versions, k)
		}
	}
	for name, b := range ri.snapshot {
		m.bindings[key{ri.fn, name}] = b
	}
	for name, v := range ri.versions {
		m.versions[key{ri.fn, name}] = v
	}
}

// Clone returns an independent copy of m for State.Clone (spec §5).
// The bv.Expr values themselves are immutable and shared, not deep
// copied.
func (m *Map) Clone() *Map {
	return &Map{
		bindings:    maps.Clone(m.bindings),
		versions:    maps.Clone(m.versions),
		maxVersions: m.maxVersions,
	}
}
