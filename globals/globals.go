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

// Package globals tracks which global variable and function names, in
// which modules, resolve to which addresses (spec.md §4.E). It
// reconciles linkage: a module-private definition always wins over a
// public one, a strong public definition always wins over a weak one,
// and two strong definitions for the same public name is an error.
package globals

import (
	"log"

	"github.com/google/uuid"

	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
)

// AllocationKind tags whether an Allocation is a global variable or a
// function.
type AllocationKind int

const (
	AllocationVariable AllocationKind = iota
	AllocationFunction
)

// Allocation is the address a global variable or function has been
// given in the address space, plus enough bookkeeping for its kind:
// a global variable tracks its initializer and whether it has been
// written to memory yet, a function tracks its definition.
type Allocation struct {
	Kind AllocationKind
	Addr bv.BV

	GlobalVar   *ir.GlobalVar // Kind == AllocationVariable
	Initialized bool

	Func   *ir.Function // Kind == AllocationFunction
	Module *ir.Module
}

// CallableKind tags whether a Callable is an LLVM function or a hook.
type CallableKind int

const (
	CallableLLVMFunction CallableKind = iota
	CallableHook
)

// Callable is what a function pointer address resolves to: either an
// IR function definition or the name of a registered hook (spec.md
// §6's hook resolution order consults this before falling back to
// intrinsics).
type Callable struct {
	Kind   CallableKind
	Func   *ir.Function // Kind == CallableLLVMFunction
	Module *ir.Module   // Kind == CallableLLVMFunction
	Hook   string       // Kind == CallableHook
}

// weakness distinguishes a strong public definition (wins ties, at
// most one allowed) from a weak one (arbitrary one wins, silently).
type weakness int

const (
	strong weakness = iota
	weak
)

type publicEntry struct {
	weakness   weakness
	allocation Allocation
}

// Table is the per-Project global allocation table. One Table belongs
// to a single symbolic-execution run; State.Clone shares the read-only
// parts of it and only deep-copies on Clone of the Table itself.
type Table struct {
	// publicGlobals holds non-module-private global variable and
	// function definitions, keyed by name.
	publicGlobals map[string]*publicEntry
	// modulePrivateGlobals holds module-private definitions, keyed by
	// module name then global name. Always strong.
	modulePrivateGlobals map[string]map[string]*Allocation

	hookAddrs map[string]bv.BV

	addrToCallable              map[uint64]Callable
	modulePrivateAddrToCallable map[string]map[uint64]Callable

	// loadID identifies this particular load of the global table. It is
	// exposed through LoadID only; no lookup, addressing decision or
	// dump output in this module uses it.
	loadID uuid.UUID
}

// New returns an empty Table, tagged with a fresh load id.
func New() *Table {
	return &Table{
		publicGlobals:               make(map[string]*publicEntry),
		modulePrivateGlobals:        make(map[string]map[string]*Allocation),
		hookAddrs:                   make(map[string]bv.BV),
		addrToCallable:              make(map[uint64]Callable),
		modulePrivateAddrToCallable: make(map[string]map[uint64]Callable),
		loadID:                      uuid.New(),
	}
}

// LoadID returns the id identifying this Table's particular load.
func (t *Table) LoadID() uuid.UUID { return t.loadID }

// AllocateGlobalVar records that var (a definition, not a declaration)
// has been assigned addr in module. The variable is recorded as not
// yet initialized; the caller is responsible for writing its
// initializer into memory and then calling MarkInitialized.
func (t *Table) AllocateGlobalVar(v *ir.GlobalVar, module *ir.Module, addr bv.BV) error {
	if v.Initializer == nil {
		return herror.New(herror.OtherError, "cannot allocate global variable %q: it is a declaration, not a definition", v.Name)
	}
	alloc := Allocation{Kind: AllocationVariable, Addr: addr, GlobalVar: v}
	_, err := t.allocate(v.Name, v.Linkage, module, alloc)
	return err
}

// AllocateFunction records that func (a definition) has been assigned
// addr in module. Functions are given addresses purely so that
// function pointers can be compared and dereferenced; addrBV is the
// symbolic form of addr.
func (t *Table) AllocateFunction(f *ir.Function, module *ir.Module, addr uint64, addrBV bv.BV) error {
	alloc := Allocation{Kind: AllocationFunction, Addr: addrBV, Func: f, Module: module}
	result, err := t.allocate(f.Name, f.Linkage, module, alloc)
	if err != nil {
		return err
	}
	callable := Callable{Kind: CallableLLVMFunction, Func: f, Module: module}
	switch result {
	case allocatedPublic:
		t.addrToCallable[addr] = callable
	case allocatedModulePrivate:
		m := t.modulePrivateAddrToCallable[module.Name]
		if m == nil {
			m = make(map[uint64]Callable)
			t.modulePrivateAddrToCallable[module.Name] = m
		}
		m[addr] = callable
	}
	return nil
}

// AllocateFunctionHook records that the named hook has been assigned
// addr. Hooks always have global visibility: there is no such thing as
// a module-private hook.
func (t *Table) AllocateFunctionHook(hookName string, addr uint64, addrBV bv.BV) {
	t.hookAddrs[hookName] = addrBV
	t.addrToCallable[addr] = Callable{Kind: CallableHook, Hook: hookName}
}

type allocationResult int

const (
	allocatedPublic allocationResult = iota
	allocatedModulePrivate
	notAllocated
)

func (t *Table) allocate(name string, linkage ir.Linkage, module *ir.Module, alloc Allocation) (allocationResult, error) {
	switch {
	case linkage.IsModulePrivate():
		log.Printf("globals: allocating %q (module-private to %q) at %v", name, module.Name, alloc.Addr)
		hm := t.modulePrivateGlobals[module.Name]
		if hm == nil {
			hm = make(map[string]*Allocation)
			t.modulePrivateGlobals[module.Name] = hm
		}
		if _, exists := hm[name]; exists {
			return notAllocated, herror.New(herror.OtherError, "duplicate definitions found for module-private global %q in module %q", name, module.Name)
		}
		cp := alloc
		hm[name] = &cp
		return allocatedModulePrivate, nil

	case linkage == ir.LinkageExternal:
		log.Printf("globals: allocating %q (public, strong) at %v", name, alloc.Addr)
		existing, exists := t.publicGlobals[name]
		if !exists {
			t.publicGlobals[name] = &publicEntry{weakness: strong, allocation: alloc}
			return allocatedPublic, nil
		}
		if existing.weakness == strong {
			return notAllocated, herror.New(herror.OtherError, "duplicate strong definitions found for public global %q", name)
		}
		// a strong definition displaces the existing weak one
		t.publicGlobals[name] = &publicEntry{weakness: strong, allocation: alloc}
		return allocatedPublic, nil

	case linkage.IsWeak():
		if _, exists := t.publicGlobals[name]; exists {
			log.Printf("globals: skipping definition of %q (public, weak), already defined", name)
			return notAllocated, nil
		}
		log.Printf("globals: allocating %q (public, weak) at %v", name, alloc.Addr)
		t.publicGlobals[name] = &publicEntry{weakness: weak, allocation: alloc}
		return allocatedPublic, nil

	case linkage == ir.LinkageAppending:
		log.Printf("globals: global %q has 'appending' linkage, which is not supported; any use of it will error", name)
		return notAllocated, nil

	default:
		return notAllocated, herror.New(herror.OtherError, "unsupported linkage type for global %q", name)
	}
}

// GetAllocation looks up the Allocation for name as it would resolve
// from inside module: a module-private definition in module takes
// precedence over any public definition of the same name.
func (t *Table) GetAllocation(name string, module *ir.Module) (*Allocation, bool) {
	if hm, ok := t.modulePrivateGlobals[module.Name]; ok {
		if a, ok := hm[name]; ok {
			return a, true
		}
	}
	if e, ok := t.publicGlobals[name]; ok {
		return &e.allocation, true
	}
	return nil, false
}

// MarkInitialized records that the global variable allocation for name
// (as resolved from module) has had its initializer written to memory.
func (t *Table) MarkInitialized(name string, module *ir.Module) {
	if hm, ok := t.modulePrivateGlobals[module.Name]; ok {
		if a, ok := hm[name]; ok {
			a.Initialized = true
			return
		}
	}
	if e, ok := t.publicGlobals[name]; ok {
		e.allocation.Initialized = true
	}
}

// GetFunctionHookAddress returns the address the named hook was
// assigned, if any.
func (t *Table) GetFunctionHookAddress(hookName string) (bv.BV, bool) {
	v, ok := t.hookAddrs[hookName]
	return v, ok
}

// GetCallableForAddress resolves addr (as observed from within module)
// to whatever was allocated there: an LLVM function or a hook.
func (t *Table) GetCallableForAddress(addr uint64, module *ir.Module) (Callable, bool) {
	if hm, ok := t.modulePrivateAddrToCallable[module.Name]; ok {
		if c, ok := hm[addr]; ok {
			return c, true
		}
	}
	c, ok := t.addrToCallable[addr]
	return c, ok
}

// Clone returns an independent copy of t for State.Clone (spec §5).
func (t *Table) Clone() *Table {
	cp := &Table{
		publicGlobals:               make(map[string]*publicEntry, len(t.publicGlobals)),
		modulePrivateGlobals:        make(map[string]map[string]*Allocation, len(t.modulePrivateGlobals)),
		hookAddrs:                   make(map[string]bv.BV, len(t.hookAddrs)),
		addrToCallable:              make(map[uint64]Callable, len(t.addrToCallable)),
		modulePrivateAddrToCallable: make(map[string]map[uint64]Callable, len(t.modulePrivateAddrToCallable)),
		loadID:                      t.loadID,
	}
	for k, v := range t.publicGlobals {
		e := *v
		cp.publicGlobals[k] = &e
	}
	for mod, hm := range t.modulePrivateGlobals {
		inner := make(map[string]*Allocation, len(hm))
		for name, a := range hm {
			cpa := *a
			inner[name] = &cpa
		}
		cp.modulePrivateGlobals[mod] = inner
	}
	for k, v := range t.hookAddrs {
		cp.hookAddrs[k] = v
	}
	for k, v := range t.addrToCallable {
		cp.addrToCallable[k] = v
	}
	for mod, hm := range t.modulePrivateAddrToCallable {
		inner := make(map[uint64]Callable, len(hm))
		for addr, c := range hm {
			inner[addr] = c
		}
		cp.modulePrivateAddrToCallable[mod] = inner
	}
	return cp
}
