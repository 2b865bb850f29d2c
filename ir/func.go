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

// Linkage mirrors LLVM's linkage kinds, narrowed to what global
// resolution (spec §4.E) needs to distinguish.
type Linkage int

const (
	LinkageExternal Linkage = iota
	LinkagePrivate
	LinkageInternal
	LinkageAvailableExternally
	LinkageLinkOnce
	LinkageWeak
	LinkageCommon
	LinkageExternWeak
	LinkOnceODR
	LinkageWeakODR
	LinkageAppending // unsupported; see globals.Table
)

// IsModulePrivate reports whether l places a definition in a module's
// private namespace rather than the public/global namespace.
func (l Linkage) IsModulePrivate() bool {
	return l == LinkagePrivate || l == LinkageInternal
}

// IsStrong reports whether l is a "strong" definition for the purposes
// of the strong/weak precedence rules in spec §3/§4.E.
func (l Linkage) IsStrong() bool {
	return l == LinkageExternal
}

// IsWeak reports whether l is a "weak" definition.
func (l Linkage) IsWeak() bool {
	switch l {
	case LinkageAvailableExternally, LinkageLinkOnce, LinkageWeak,
		LinkageCommon, LinkageExternWeak, LinkOnceODR, LinkageWeakODR:
		return true
	}
	return false
}

// Param is a function parameter.
type Param struct {
	Name string
	Ty   Type
}

// BasicBlock is a named, ordered sequence of instructions ending in a
// single terminator.
type BasicBlock struct {
	Name         string
	Instructions []Instruction
	Term         Terminator
}

// Function is an LLVM function definition (or declaration, if Blocks is
// empty — declarations are never directly executable and resolving a
// call to one without a hook yields FunctionNotFound, per spec §4.H).
type Function struct {
	Name     string
	Params   []Param
	RetType  Type
	VarArg   bool
	Linkage  Linkage
	Blocks   []BasicBlock

	blockIndex map[string]int
}

// Block looks up a basic block by name within f.
func (f *Function) Block(name string) (*BasicBlock, bool) {
	if f.blockIndex == nil {
		f.blockIndex = make(map[string]int, len(f.Blocks))
		for i := range f.Blocks {
			f.blockIndex[f.Blocks[i].Name] = i
		}
	}
	i, ok := f.blockIndex[name]
	if !ok {
		return nil, false
	}
	return &f.Blocks[i], true
}

// EntryBlock returns the function's first basic block.
func (f *Function) EntryBlock() (*BasicBlock, bool) {
	if len(f.Blocks) == 0 {
		return nil, false
	}
	return &f.Blocks[0], true
}

// IsDeclaration reports whether f has no body.
func (f *Function) IsDeclaration() bool {
	return len(f.Blocks) == 0
}
