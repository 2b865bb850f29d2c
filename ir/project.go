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

package ir

import "fmt"

// Project is the set of modules being symbolically executed together.
// Bitcode parsing and project construction (linking multiple .bc files,
// demangling) live outside this module (spec §1); Project is the
// narrow interface the rest of the core consumes, so a caller can hand
// in its own loader without this package knowing about file formats.
type Project interface {
	// Modules returns every module in link order. Earlier modules take
	// precedence over later ones when a symbol is defined with public
	// (non-module-private) linkage in more than one module.
	Modules() []*Module

	// ModuleNamed returns the module with the given name, if any.
	ModuleNamed(name string) (*Module, bool)
}

// StaticProject is the simplest Project: a fixed, in-memory list of
// modules, suitable for tests and for callers that have already done
// their own linking.
type StaticProject struct {
	Mods []*Module
}

func (p *StaticProject) Modules() []*Module { return p.Mods }

func (p *StaticProject) ModuleNamed(name string) (*Module, bool) {
	for _, m := range p.Mods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// FuncByName resolves a function call target by name, following the
// same module-private-then-public precedence as get_func_for_address:
// try inModule's own function table first (this catches a
// module-private definition that shadows a same-named public symbol
// elsewhere), then fall back to scanning every module in link order for
// the first public (non-module-private-linkage) definition.
func FuncByName(p Project, inModule *Module, name string) (*Function, *Module, error) {
	if inModule != nil {
		if f, ok := inModule.FuncByName(name); ok {
			return f, inModule, nil
		}
	}
	for _, m := range p.Modules() {
		f, ok := m.FuncByName(name)
		if !ok {
			continue
		}
		if m == inModule {
			continue // already checked above
		}
		if f.Linkage.IsModulePrivate() {
			continue
		}
		return f, m, nil
	}
	return nil, nil, fmt.Errorf("no function named %q found in project", name)
}

// GlobalByName resolves a global-variable reference by name with the
// identical module-private-then-public precedence used by FuncByName
// (spec §4.E: "Resolve get_global_allocation(name, in_module): try
// module-private map for in_module first, then public map").
func GlobalByName(p Project, inModule *Module, name string) (*GlobalVar, *Module, error) {
	if inModule != nil {
		if g, ok := inModule.GlobalByName(name); ok {
			return g, inModule, nil
		}
	}
	for _, m := range p.Modules() {
		g, ok := m.GlobalByName(name)
		if !ok {
			continue
		}
		if m == inModule {
			continue
		}
		if g.Linkage.IsModulePrivate() {
			continue
		}
		return g, m, nil
	}
	return nil, nil, fmt.Errorf("no global named %q found in project", name)
}

// ResolveStruct finds the named struct type of the given name, searching
// inModule first and then every module in link order. Named struct
// definitions are not subject to the module-private rule: LLVM gives
// every named struct type a module-unique mangled name already (e.g.
// "struct.Foo.1" when two modules both declare "struct.Foo"), so the
// first match is unambiguous in practice.
func ResolveStruct(p Project, inModule *Module, name string) (*NamedStructType, error) {
	if inModule != nil {
		if nt, ok := inModule.NamedStructs[name]; ok {
			return nt, nil
		}
	}
	for _, m := range p.Modules() {
		if m == inModule {
			continue
		}
		if nt, ok := m.NamedStructs[name]; ok {
			return nt, nil
		}
	}
	return nil, fmt.Errorf("no named struct type %%%s found in project", name)
}
