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

// Package herror defines the tagged error kinds the core returns, in
// the teacher's CompileError/WriteTo style (plan/pir.CompileError):
// a typed struct error carrying enough context to format a readable
// report, rather than an opaque string.
package herror

import (
	"fmt"
	"io"
)

// Kind tags the variant of an Error.
type Kind int

const (
	Unsat Kind = iota
	LoopBoundExceeded
	NullPointerDereference
	FunctionNotFound
	SolverError
	UnsupportedInstruction
	MalformedInstruction
	UnreachableInstruction
	FailedToResolveFunctionPointer
	HookReturnValueMismatch
	DivisionByZero
	OtherError
)

func (k Kind) String() string {
	switch k {
	case Unsat:
		return "Unsat"
	case LoopBoundExceeded:
		return "LoopBoundExceeded"
	case NullPointerDereference:
		return "NullPointerDereference"
	case FunctionNotFound:
		return "FunctionNotFound"
	case SolverError:
		return "SolverError"
	case UnsupportedInstruction:
		return "UnsupportedInstruction"
	case MalformedInstruction:
		return "MalformedInstruction"
	case UnreachableInstruction:
		return "UnreachableInstruction"
	case FailedToResolveFunctionPointer:
		return "FailedToResolveFunctionPointer"
	case HookReturnValueMismatch:
		return "HookReturnValueMismatch"
	case DivisionByZero:
		return "DivisionByZero"
	default:
		return "OtherError"
	}
}

// Error is the error type every component of the core returns for a
// path-terminating or fatal condition. interp fills in the location
// (Func/Block, via WithLocation) as the error propagates up, before
// exec.Manager surfaces it (spec §7). Backtrace holds only the frames a
// caller appends through WithBacktrace; the core appends none.
type Error struct {
	Kind    Kind
	Msg     string
	Func    string // function the error occurred in, if known
	Block   string // basic block, if known
	Backtrace []Frame
}

// Frame is one entry of a Backtrace: a location on the call stack at
// the moment an Error was raised.
type Frame struct {
	Func  string
	Block string
	Instr int
}

func (e *Error) Error() string { return e.Msg }

// WriteTo writes a multi-line plaintext report of e to dst, including
// its kind, originating location, and full backtrace (teacher's
// CompileError.WriteTo style).
func (e *Error) WriteTo(dst io.Writer) (int64, error) {
	n := 0
	write := func(f string, args ...interface{}) {
		m, _ := fmt.Fprintf(dst, f, args...)
		n += m
	}
	write("%s: %s\n", e.Kind, e.Msg)
	if e.Func != "" {
		write("  at %s", e.Func)
		if e.Block != "" {
			write(" (block %s)", e.Block)
		}
		write("\n")
	}
	for i := len(e.Backtrace) - 1; i >= 0; i-- {
		fr := e.Backtrace[i]
		write("  called from %s (block %s, instr %d)\n", fr.Func, fr.Block, fr.Instr)
	}
	return int64(n), nil
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithLocation returns a copy of e with Func/Block set, used by
// state/interp to tag an error with the location it surfaced at
// without the originating call site needing to know about location
// tracking.
func (e *Error) WithLocation(fn, block string) *Error {
	cp := *e
	cp.Func = fn
	cp.Block = block
	return &cp
}

// WithBacktrace returns a copy of e with frame appended to its
// Backtrace, leaving e itself unchanged.
func (e *Error) WithBacktrace(frame Frame) *Error {
	cp := *e
	cp.Backtrace = append(append([]Frame{}, e.Backtrace...), frame)
	return &cp
}

// Sentinel returns a bare *Error of the given kind, suitable as the
// target of errors.Is(err, herror.Sentinel(herror.Unsat)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// Is implements the errors.Is comparison contract: errors.Is(err,
// herror.Sentinel(herror.Unsat)) reports whether err is an *Error of
// that Kind, ignoring message/location/backtrace.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Kind == t.Kind
}
