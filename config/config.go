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

// Package config holds the engine-wide configuration surface of
// spec.md §6: the loop/recursion bound, the function hook table, the
// memcpy-length concretization policy, and the handful of behavioral
// toggles (null detection, trusting llvm.assume, exact exception-type
// matching). Load reads the non-function-valued fields from a
// YAML file; the Go-only function fields (FunctionHooks, InlineAsmHook)
// are never serializable and must be set on the returned Config by the
// caller after loading.
package config

import (
	"os"

	"sigs.k8s.io/yaml"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/outcome"
)

// State is the minimal state surface a Hook needs. It is declared here
// (rather than importing package state directly) so that config does
// not depend on state, memory, solver, varmap, alloc, or globals at
// all: hooks and interp, which both sit above config, already import
// state in full and satisfy this interface with *state.State.
type State interface {
	OperandToBV(op ir.Value) (bv.BV, error)
	OperandToBool(op ir.Value) (bv.Bool, error)
	Read(addr bv.BV, bits int) (bv.BV, error)
	Write(addr bv.BV, val bv.BV) error
	Allocate(bits uint64) (bv.BV, error)
	GetSolutionForBV(v bv.BV) (uint64, error)
	GetSolutionForBool(b bv.Bool) (bool, error)
	Assert(cond bv.Bool)
	NewBVWithName(name string, bits int) (bv.BV, error)
	AllocationSize(addr uint64) (uint64, bool)
	GetPossibleSolutionsForBV(v bv.BV, maxCount int) ([]uint64, error)
	MinPossibleSolution(v bv.BV) (uint64, error)
	MaxPossibleSolution(v bv.BV) (uint64, error)
	BVsCanBeEqual(a, b bv.BV) (bool, error)

	// PushInFlightException, PopInFlightException and
	// CurrentInFlightException track the exception pointer passed to
	// __cxa_begin_catch for the duration of its handler, so that
	// __cxa_rethrow can recover it.
	PushInFlightException(ptr bv.BV)
	PopInFlightException() (bv.BV, bool)
	CurrentInFlightException() (bv.BV, bool)

	// Config returns the engine configuration this State was built
	// with, so a Hook can consult policy toggles (e.g.
	// ConcretizeMemcpyLengths) without Hook's signature needing a
	// separate *Config parameter.
	Config() *Config
}

// Hook is a user-supplied function-call handler: given the project
// (for resolving further calls), the current state, and the call or
// invoke's call spec, it returns the outcome of the call (spec.md
// §6's "Hook interface").
type Hook func(proj ir.Project, st State, call *ir.CallSpec) (outcome.Outcome, error)

// ConcretizationPolicy controls how memset/memcpy/memmove's length
// operand is handled when it isn't already a concrete constant
// (spec.md §4.H).
type ConcretizationPolicy int

const (
	// Arbitrary lets the solver pick any feasible length (the cheapest
	// query, but the path explored is not reproducible across runs).
	Arbitrary ConcretizationPolicy = iota
	// Minimum pins the length to the smallest feasible value.
	Minimum
	// Maximum pins the length to the largest feasible value.
	Maximum
	// Prefer pins the length to PreferredLength if that value is
	// feasible, falling back to Arbitrary otherwise.
	Prefer
	// Symbolic leaves the length symbolic: the hook emits a
	// byte-by-byte ite-gated copy/fill loop up to MaxSymbolicLength
	// bytes, so the resulting memory contents remain exact under every
	// feasible length rather than being pinned to one.
	Symbolic
)

// MemoryBackendKind selects which memory.Memory implementation a run
// uses (spec.md §4.B).
type MemoryBackendKind int

const (
	// CellBackend is the 64-bit-cell-granularity backend
	// (memory.NewCellMemory), matching the original's single
	// implementation.
	CellBackend MemoryBackendKind = iota
	// ByteBackend is the byte-granularity backend (memory.NewByteMemory),
	// trading some performance for simpler reasoning about unaligned
	// or sub-byte-adjacent accesses.
	ByteBackend
)

// Config is the engine-wide configuration of spec.md §6.
type Config struct {
	// LoopBound bounds both loop iterations and recursion depth: the
	// maximum number of times any one (function, IR name) may be
	// (re)defined along a single path. Also exposed as MaxVersionsOfName
	// for parity with the original's max_versions_of_name alias.
	LoopBound int `json:"loopBound"`

	// FunctionHooks maps a function name (or "intrinsic: llvm.memset"
	// style canonical intrinsic name) to the Hook that replaces it.
	// Never loaded from YAML; set directly on the Config after Load.
	FunctionHooks map[string]Hook `json:"-"`

	// InlineAsmHook, if set, handles `call asm "..."` sites; inline
	// assembly with no configured hook is a MalformedInstruction error.
	// Never loaded from YAML.
	InlineAsmHook Hook `json:"-"`

	// ConcretizeMemcpyLengths selects how hooks.Intrinsics resolves a
	// non-constant memset/memcpy/memmove length.
	ConcretizeMemcpyLengths ConcretizationPolicy `json:"concretizeMemcpyLengths"`
	// PreferredLength is consulted only when ConcretizeMemcpyLengths ==
	// Prefer.
	PreferredLength uint64 `json:"preferredLength"`
	// MaxSymbolicLength bounds the unrolled copy/fill loop emitted when
	// ConcretizeMemcpyLengths == Symbolic.
	MaxSymbolicLength uint64 `json:"maxSymbolicLength"`

	// TrustLLVMAssumes controls whether `llvm.assume` actually asserts
	// its argument (true) or is a no-op (false); spec.md §9 Open
	// Question, default true matching the original's behavior.
	TrustLLVMAssumes bool `json:"trustLLVMAssumes"`

	// NullDetection enables memory.Memory's null-pointer-dereference
	// checking on every read/write.
	NullDetection bool `json:"nullDetection"`

	// ExactTypeMatching makes unwinding skip pure cleanup landingpads
	// (no catch clauses) instead of the original's imprecise "any
	// landingpad on the stack catches" behavior; a landingpad with at
	// least one clause still catches whatever was thrown, since the
	// thrown type is not compared against the clauses' typeinfo.
	// spec.md §9 Open Question, default false to match the original
	// exactly.
	ExactTypeMatching bool `json:"exactTypeMatching"`

	// CheckDivByZero opts into asserting the divisor of udiv/sdiv/urem/
	// srem cannot be zero before dividing, raising herror.DivisionByZero
	// when zero is feasible; spec.md §9 Open Question, default false
	// (division by symbolic zero is solver-defined, matching the
	// original exactly).
	CheckDivByZero bool `json:"checkDivByZero"`

	// AddressBits is the width of a pointer-typed BV; spec.md §3 says
	// "typically 64".
	AddressBits int `json:"addressBits"`

	// MemoryBackend selects the memory.Memory implementation.
	MemoryBackend MemoryBackendKind `json:"memoryBackend"`

	// MaxSolutionSearchWidth overrides solver.DefaultMaxSearchWidth
	// when positive.
	MaxSolutionSearchWidth int `json:"maxSolutionSearchWidth"`

	// WatchpointCheck, if set, is called after every store-class
	// instruction with the concrete address and bit width written.
	// hooks.Watchpoints.Check has this exact signature; Config can't
	// import hooks directly (hooks already imports config), so the
	// field is typed structurally rather than naming hooks.Watchpoints.
	// Never loaded from YAML.
	WatchpointCheck func(addr uint64, bits int) `json:"-"`
}

// MaxVersionsOfName is an alias for LoopBound, matching the original's
// naming at call sites that think of it as a variable-version bound
// rather than a loop bound.
func (c *Config) MaxVersionsOfName() int { return c.LoopBound }

// Default returns the Config the original crate's Default impl
// produces: a loop bound of 10, no hooks, concretize-memcpy-lengths
// Arbitrary, llvm.assume trusted, null detection on, imprecise catch
// matching, division-by-zero unchecked, 64-bit addresses, the cell
// memory backend, and solver.DefaultMaxSearchWidth.
func Default() *Config {
	return &Config{
		LoopBound:               10,
		FunctionHooks:           make(map[string]Hook),
		ConcretizeMemcpyLengths: Arbitrary,
		MaxSymbolicLength:       4096,
		TrustLLVMAssumes:        true,
		NullDetection:           true,
		AddressBits:             64,
		MemoryBackend:           CellBackend,
	}
}

// Load reads a YAML file at path into a fresh Config built from
// Default, leaving FunctionHooks/InlineAsmHook for the caller to set
// afterward (function values cannot round-trip through YAML).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if cfg.FunctionHooks == nil {
		cfg.FunctionHooks = make(map[string]Hook)
	}
	return cfg, nil
}
