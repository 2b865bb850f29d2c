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

// Package exec is the caller-facing entry point to the engine: it
// wraps interp.Step into an iterator a caller drives one path at a
// time, matching spec.md's "Conceptually, it is an iterator over
// possible paths through the function" description of the execution
// manager.
package exec

import (
	"context"
	"log"

	"github.com/PLSysSec/haybale/dump"
	"github.com/PLSysSec/haybale/interp"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/outcome"
	"github.com/PLSysSec/haybale/state"
)

// Manager explores possible executions of one function, one path at a
// time. Calling Next repeatedly enumerates every path the engine can
// find; State returns the *state.State the most recently explored path
// ended in (or the initial State, before Next is first called).
type Manager struct {
	proj  ir.Project
	state *state.State
	fresh bool

	// Logger, if non-nil, receives a line for each path that finishes
	// and one when exploration ends, independent of any caller-side
	// logging.
	// Nil by default: the core logs nothing unless asked to.
	Logger *log.Logger
}

// New returns a Manager that will symbolically execute fn (already
// positioned at its entry block in st) within proj. st's parameters
// should already be bound to fresh symbolic values (e.g. via
// st.NewBVWithName for each ir.Param).
func New(proj ir.Project, st *state.State) *Manager {
	return &Manager{proj: proj, state: st, fresh: true}
}

// State returns the State resulting from the end of the most recently
// explored path, or the initial State if Next has not yet been called.
// Mutations made before the first Next call persist across every
// explored path; mutations made to a State returned after Next are
// discarded the next time Next runs.
func (m *Manager) State() *state.State { return m.state }

// Next explores one more path through the function, returning the
// Outcome it ended in. ok is false once every path has been explored
// (no backtracking point remains), at which point outcome and err are
// both zero. ctx is checked once per path, immediately before that
// path begins running — Next never interrupts a path mid-instruction
// (spec.md §5: no cross-path timeout mechanism in the core).
func (m *Manager) Next(ctx context.Context) (out outcome.Outcome, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return outcome.Outcome{}, false, err
	}

	if !m.fresh {
		if !m.state.RevertToBacktrackingPoint() {
			m.logf("no more backtracking points; exploration complete")
			return outcome.Outcome{}, false, nil
		}
	}
	m.fresh = false

	out, ok, err = interp.Step(m.proj, m.state)
	if err != nil {
		return outcome.Outcome{}, false, dump.Enrich(err, m.state)
	}
	if !ok {
		m.logf("no feasible path remained to explore")
		return outcome.Outcome{}, false, nil
	}
	m.logf("path finished at %s with outcome %s", m.state.CurLoc, out.Kind)
	return out, true, nil
}

// logf writes to Logger if one is configured, a no-op otherwise.
func (m *Manager) logf(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}
