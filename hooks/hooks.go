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

// Package hooks implements the engine's built-in function hooks: the
// allocation family (malloc/calloc/realloc/free), the C++
// exception-handling intrinsics, and the LLVM intrinsic contracts
// (memset/memcpy/memmove, bswap, the overflow/saturating arithmetic
// family, ctlz/cttz, llvm.assume, llvm.objectsize).
//
// Resolution order (spec.md §6, grounded on symex.rs's resolve_function)
// is: a user-supplied config.Config.FunctionHooks entry first (highest
// precedence), then an intrinsic-name-prefix entry from Defaults(), and
// only then a matching IR function definition; interp is responsible
// for walking that order, this package only supplies the table
// consulted second.
package hooks

import "github.com/PLSysSec/haybale/config"

// Defaults returns the built-in hook table, keyed by symbol name; an
// llvm.* key also stands for the overloaded intrinsic names that extend
// it with a type suffix. interp consults this table itself after
// config.Config.FunctionHooks, so a FunctionHooks entry of the same
// name overrides a default.
func Defaults() map[string]config.Hook {
	return map[string]config.Hook{
		"malloc":  Malloc,
		"calloc":  Calloc,
		"realloc": Realloc,
		"free":    Free,

		"llvm.memset":     Memset,
		"llvm.memcpy":     Memcpy,
		"llvm.memmove":    Memcpy,
		"llvm.bswap":      Bswap,
		"llvm.objectsize": ObjectSize,
		"llvm.assume":     Assume,

		"llvm.uadd.with.overflow": UAddWithOverflow,
		"llvm.sadd.with.overflow": SAddWithOverflow,
		"llvm.usub.with.overflow": USubWithOverflow,
		"llvm.ssub.with.overflow": SSubWithOverflow,
		"llvm.umul.with.overflow": UMulWithOverflow,
		"llvm.smul.with.overflow": SMulWithOverflow,
		"llvm.uadd.sat":           UAddSatHook,
		"llvm.sadd.sat":           SAddSatHook,
		"llvm.usub.sat":           USubSatHook,
		"llvm.ssub.sat":           SSubSatHook,
		"llvm.ctlz":               Ctlz,
		"llvm.cttz":               Cttz,

		"__cxa_allocate_exception": CxaAllocateException,
		"__cxa_throw":              CxaThrow,
		"__cxa_begin_catch":        CxaBeginCatch,
		"__cxa_end_catch":          CxaEndCatch,
		"__cxa_rethrow":            CxaRethrow,
		"llvm.eh.typeid.for":       EHTypeidFor,

		"_ZSt9terminatev": Terminate,
		"abort":           Terminate,
	}
}
