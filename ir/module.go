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

// GlobalVar is a module-level global variable declaration or definition.
type GlobalVar struct {
	Name        string
	Ty          Type // type of the pointee (the value stored at the global's address)
	Linkage     Linkage
	Initializer *Constant // nil for a declaration (external global)
	IsConstant  bool
}

// Alias is a module-level alias: another name for an existing global or
// function, resolved through Aliasee at lookup time.
type Alias struct {
	Name    string
	Ty      Type
	Aliasee string
	Linkage Linkage
}

// Module is one parsed LLVM module (one bitcode file's worth of
// content). A Project (see project.go) holds one or more Modules.
type Module struct {
	Name string

	Functions []Function
	Globals   []GlobalVar
	Aliases   []Alias

	// NamedStructs holds every named struct type declared in this
	// module, keyed by name (without the leading '%'). Entries with a
	// nil Body are opaque declarations.
	NamedStructs map[string]*NamedStructType

	funcIndex   map[string]int
	globalIndex map[string]int
	aliasIndex  map[string]int
}

func (m *Module) buildIndex() {
	if m.funcIndex != nil {
		return
	}
	m.funcIndex = make(map[string]int, len(m.Functions))
	for i := range m.Functions {
		m.funcIndex[m.Functions[i].Name] = i
	}
	m.globalIndex = make(map[string]int, len(m.Globals))
	for i := range m.Globals {
		m.globalIndex[m.Globals[i].Name] = i
	}
	m.aliasIndex = make(map[string]int, len(m.Aliases))
	for i := range m.Aliases {
		m.aliasIndex[m.Aliases[i].Name] = i
	}
}

// FuncByName looks up a function defined or declared directly in m.
func (m *Module) FuncByName(name string) (*Function, bool) {
	m.buildIndex()
	i, ok := m.funcIndex[name]
	if !ok {
		return nil, false
	}
	return &m.Functions[i], true
}

// GlobalByName looks up a global variable defined or declared directly
// in m.
func (m *Module) GlobalByName(name string) (*GlobalVar, bool) {
	m.buildIndex()
	i, ok := m.globalIndex[name]
	if !ok {
		return nil, false
	}
	return &m.Globals[i], true
}

// AliasByName looks up an alias defined directly in m.
func (m *Module) AliasByName(name string) (*Alias, bool) {
	m.buildIndex()
	i, ok := m.aliasIndex[name]
	if !ok {
		return nil, false
	}
	return &m.Aliases[i], true
}

// DefineStruct fills in (or overwrites) the body of a named struct type,
// creating the *NamedStructType entry if this is the first reference
// to the name. Because NamedStructType.Body is a pointer, any value
// that already embeds this *NamedStructType (including one referenced
// from within its own Body, for recursive types) observes the update.
func (m *Module) DefineStruct(name string, body StructType) *NamedStructType {
	if m.NamedStructs == nil {
		m.NamedStructs = make(map[string]*NamedStructType)
	}
	nt, ok := m.NamedStructs[name]
	if !ok {
		nt = &NamedStructType{Name: name}
		m.NamedStructs[name] = nt
	}
	nt.Body = &body
	return nt
}

// DeclareStruct returns the (possibly still-opaque) named struct type
// for name, creating an opaque entry if none exists yet.
func (m *Module) DeclareStruct(name string) *NamedStructType {
	if m.NamedStructs == nil {
		m.NamedStructs = make(map[string]*NamedStructType)
	}
	nt, ok := m.NamedStructs[name]
	if !ok {
		nt = &NamedStructType{Name: name}
		m.NamedStructs[name] = nt
	}
	return nt
}

func (m *Module) String() string {
	return fmt.Sprintf("<module %s: %d functions, %d globals>", m.Name, len(m.Functions), len(m.Globals))
}
