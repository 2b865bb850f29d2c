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

// Package outcome defines the tagged Return-outcome variant (spec.md
// §3) that both a hook's result and a finished symbolic path's final
// result are expressed as. It is split out of hooks/interp/exec as its
// own leaf package specifically so that config.Hook (which must refer
// to it) doesn't have to import hooks or interp, avoiding an import
// cycle: config sits below hooks, hooks sits below interp, and both
// need the same result shape.
package outcome

import "github.com/PLSysSec/haybale/bv"

// Kind tags which variant of Outcome is populated.
type Kind int

const (
	// Return is a normal function return with a value.
	Return Kind = iota
	// ReturnVoid is a normal function return with no value.
	ReturnVoid
	// Throw is a C++-style exception in flight: RetVal holds the thrown
	// pointer.
	Throw
	// Abort is an unrecoverable program abort (std::terminate, a failed
	// assert, a call to abort()).
	Abort
)

func (k Kind) String() string {
	switch k {
	case Return:
		return "Return"
	case ReturnVoid:
		return "ReturnVoid"
	case Throw:
		return "Throw"
	case Abort:
		return "Abort"
	default:
		return "Outcome(?)"
	}
}

// Outcome is the tagged Return-outcome variant of spec.md §3: what a
// hook call or a finished symbolic-execution path produced.
type Outcome struct {
	Kind Kind

	// RetVal holds the returned value (Kind == Return) or the thrown
	// pointer (Kind == Throw). Zero value for ReturnVoid and Abort.
	RetVal bv.BV

	// DebugLoc optionally names the function an Abort/Throw happened
	// in, for error reporting; "" if unknown or not applicable.
	DebugLoc string
}

// ReturnOf builds a Return outcome carrying val.
func ReturnOf(val bv.BV) Outcome { return Outcome{Kind: Return, RetVal: val} }

// Void builds a ReturnVoid outcome.
func Void() Outcome { return Outcome{Kind: ReturnVoid} }

// ThrowOf builds a Throw outcome carrying the thrown pointer ptr.
func ThrowOf(ptr bv.BV) Outcome { return Outcome{Kind: Throw, RetVal: ptr} }

// AbortAt builds an Abort outcome, optionally tagged with the function
// it occurred in.
func AbortAt(loc string) Outcome { return Outcome{Kind: Abort, DebugLoc: loc} }
