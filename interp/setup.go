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

package interp

import (
	"strings"

	"github.com/PLSysSec/haybale/alloc"
	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/config"
	"github.com/PLSysSec/haybale/globals"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/hooks"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/memory"
)

// globalRegionStart is the first address handed out to a global
// variable, function, or hook. It must stay below alloc.Start: the
// heap allocator state.New builds internally always begins there, and
// the two address spaces are never coordinated beyond this gap.
const globalRegionStart = 0x0001_0000

// addressSpace is a simple bump allocator for the global/function/hook
// address region, kept entirely separate from the heap allocator
// (package alloc) a State builds for itself.
type addressSpace struct {
	cursor uint64
}

func newAddressSpace() *addressSpace {
	return &addressSpace{cursor: globalRegionStart}
}

func (a *addressSpace) alloc(bytes uint64) (uint64, error) {
	if bytes == 0 {
		bytes = 1
	}
	addr := a.cursor
	a.cursor += bytes
	if a.cursor >= alloc.Start {
		return 0, herror.New(herror.OtherError, "interp: global/function address space exhausted before reaching the heap region at %#x", alloc.Start)
	}
	return addr, nil
}

// Setup is the result of Prepare: the global allocation table and
// memory image a fresh State should be built on top of.
type Setup struct {
	Globals *globals.Table
	Memory  memory.Memory
}

// Prepare allocates addresses for every function, global variable, and
// function hook in proj, writes global-variable initializers into a
// fresh memory image, and returns the resulting Setup. state.New should
// be called with the returned Memory and Globals.
func Prepare(proj ir.Project, cfg *config.Config) (*Setup, error) {
	table := globals.New()
	addrs := newAddressSpace()

	var mem memory.Memory
	switch cfg.MemoryBackend {
	case config.ByteBackend:
		mem = memory.NewByteMemory("mem", cfg.NullDetection, false)
	default:
		mem = memory.NewCellMemory("mem", cfg.NullDetection, false)
	}

	defaults := hooks.Defaults()

	for _, mod := range proj.Modules() {
		for i := range mod.Functions {
			f := &mod.Functions[i]
			addr, err := addrs.alloc(8)
			if err != nil {
				return nil, err
			}
			addrBV := bv.Const(addr, uint64(addressBits(cfg)))
			if err := table.AllocateFunction(f, mod, addr, addrBV); err != nil {
				return nil, err
			}
			if _, ok := resolveHookFunc(cfg, defaults, f.Name); ok {
				table.AllocateFunctionHook(f.Name, addr, addrBV)
			}
		}
	}

	for _, mod := range proj.Modules() {
		for i := range mod.Globals {
			gv := &mod.Globals[i]
			if gv.Initializer == nil {
				continue
			}
			bits, err := ir.SizeInBits(gv.Ty)
			if err != nil {
				return nil, err
			}
			bytes := uint64(bits+7) / 8
			addr, err := addrs.alloc(bytes)
			if err != nil {
				return nil, err
			}
			addrBV := bv.Const(addr, uint64(addressBits(cfg)))
			if err := table.AllocateGlobalVar(gv, mod, addrBV); err != nil {
				return nil, err
			}
			initVal, err := evalGlobalConstant(table, mod, *gv.Initializer)
			if err != nil {
				return nil, err
			}
			if err := mem.Write(addrBV, initVal); err != nil {
				return nil, err
			}
			table.MarkInitialized(gv.Name, mod)
		}
	}

	for name := range defaults {
		if _, ok := table.GetFunctionHookAddress(name); ok {
			continue
		}
		addr, err := addrs.alloc(8)
		if err != nil {
			return nil, err
		}
		table.AllocateFunctionHook(name, addr, bv.Const(addr, uint64(addressBits(cfg))))
	}
	for name := range cfg.FunctionHooks {
		if _, ok := table.GetFunctionHookAddress(name); ok {
			continue
		}
		addr, err := addrs.alloc(8)
		if err != nil {
			return nil, err
		}
		table.AllocateFunctionHook(name, addr, bv.Const(addr, uint64(addressBits(cfg))))
	}

	return &Setup{Globals: table, Memory: mem}, nil
}

// resolveHookFunc reports whether name is hooked, either by the user's
// config.FunctionHooks (checked first) or by a built-in default
// (checked second) — the same precedence interp's call resolution uses.
// A default intrinsic entry also matches an overloaded name that extends
// it with a type suffix (llvm.memset matches llvm.memset.p0i8.i64).
func resolveHookFunc(cfg *config.Config, defaults map[string]config.Hook, name string) (config.Hook, bool) {
	if cfg.FunctionHooks != nil {
		if h, ok := cfg.FunctionHooks[name]; ok {
			return h, true
		}
	}
	if h, ok := defaults[name]; ok {
		return h, true
	}
	best := ""
	for k := range defaults {
		if strings.HasPrefix(k, "llvm.") && strings.HasPrefix(name, k+".") && len(k) > len(best) {
			best = k
		}
	}
	if best != "" {
		return defaults[best], true
	}
	return nil, false
}

// addressBits returns cfg.AddressBits, defaulting to 64 if unset.
func addressBits(cfg *config.Config) int {
	if cfg.AddressBits <= 0 {
		return 64
	}
	return cfg.AddressBits
}
