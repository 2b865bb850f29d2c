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

package hooks

import (
	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/config"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
	"github.com/PLSysSec/haybale/outcome"
)

// MaxAllocationSizeBytes is the size substituted for a malloc/calloc/
// realloc size argument that isn't a literal constant. Allocating too
// much is harmless: addresses are never reused (alloc.Alloc is a bump
// allocator), so this only costs address space.
const MaxAllocationSizeBytes = 1 << 20

func requireIntArg(call *ir.CallSpec, i int, who string) error {
	if i >= len(call.Args) {
		return herror.New(herror.MalformedInstruction, "%s: missing argument %d", who, i)
	}
	if _, ok := ir.TypeOf(call.Args[i]).(ir.IntType); !ok {
		return herror.New(herror.OtherError, "%s: expected argument %d to have integer type, got %s", who, i, ir.TypeOf(call.Args[i]))
	}
	return nil
}

func requirePointerReturn(call *ir.CallSpec, who string) error {
	if _, ok := call.RetType.(ir.PointerType); !ok {
		return herror.New(herror.OtherError, "%s: expected return type to be a pointer type, got %s", who, call.RetType)
	}
	return nil
}

func requirePointerArg(call *ir.CallSpec, i int, who string) error {
	if i >= len(call.Args) {
		return herror.New(herror.MalformedInstruction, "%s: missing argument %d", who, i)
	}
	if _, ok := ir.TypeOf(call.Args[i]).(ir.PointerType); !ok {
		return herror.New(herror.OtherError, "%s: expected argument %d to be a pointer type, got %s", who, i, ir.TypeOf(call.Args[i]))
	}
	return nil
}

// constBytesOr returns op's value if it is a literal integer constant,
// or fallback otherwise (default_hooks.rs's try_as_u64-or-fallback
// policy).
func constBytesOr(op ir.Value, fallback uint64) uint64 {
	if c, ok := op.(ir.Constant); ok && c.Kind == ir.ConstInt {
		return c.IntVal
	}
	return fallback
}

// Malloc is the default hook for malloc(size_t size): bump-allocates
// size bytes and returns the new pointer.
func Malloc(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if err := requireIntArg(call, 0, "malloc"); err != nil {
		return outcome.Outcome{}, err
	}
	if err := requirePointerReturn(call, "malloc"); err != nil {
		return outcome.Outcome{}, err
	}
	bytes := constBytesOr(call.Args[0], MaxAllocationSizeBytes)
	addr, err := st.Allocate(bytes * 8)
	if err != nil {
		return outcome.Outcome{}, err
	}
	return outcome.ReturnOf(addr), nil
}

// Calloc is the default hook for calloc(size_t nmemb, size_t size):
// allocates nmemb*size zeroed bytes.
func Calloc(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if err := requireIntArg(call, 0, "calloc"); err != nil {
		return outcome.Outcome{}, err
	}
	if err := requireIntArg(call, 1, "calloc"); err != nil {
		return outcome.Outcome{}, err
	}
	if err := requirePointerReturn(call, "calloc"); err != nil {
		return outcome.Outcome{}, err
	}

	bytes := uint64(MaxAllocationSizeBytes)
	if nc, ok := call.Args[0].(ir.Constant); ok && nc.Kind == ir.ConstInt {
		if sc, ok := call.Args[1].(ir.Constant); ok && sc.Kind == ir.ConstInt {
			bytes = nc.IntVal * sc.IntVal
		}
	}
	addr, err := st.Allocate(bytes * 8)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if err := st.Write(addr, bv.Zero(int(bytes*8))); err != nil {
		return outcome.Outcome{}, err
	}
	return outcome.ReturnOf(addr), nil
}

// Free is a no-op: Malloc never reuses an address, so there is nothing
// for Free to do.
func Free(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	return outcome.Void(), nil
}

// Realloc is the default hook for realloc(void *ptr, size_t new_size):
// if new_size doesn't exceed the existing allocation, ptr is returned
// unchanged (the caller keeps the larger region it already had);
// otherwise a fresh allocation is made and the old contents copied
// forward. Never frees the old allocation, matching Free's no-op.
func Realloc(proj ir.Project, st config.State, call *ir.CallSpec) (outcome.Outcome, error) {
	if err := requirePointerArg(call, 0, "realloc"); err != nil {
		return outcome.Outcome{}, err
	}
	if err := requireIntArg(call, 1, "realloc"); err != nil {
		return outcome.Outcome{}, err
	}
	if err := requirePointerReturn(call, "realloc"); err != nil {
		return outcome.Outcome{}, err
	}

	addr, err := st.OperandToBV(call.Args[0])
	if err != nil {
		return outcome.Outcome{}, err
	}
	addrConst, ok := addr.AsConst()
	if !ok {
		return outcome.Outcome{}, herror.New(herror.UnsupportedInstruction, "realloc: a symbolic pointer argument is not supported")
	}
	oldSize, ok := st.AllocationSize(addrConst)
	if !ok {
		return outcome.Outcome{}, herror.New(herror.OtherError, "realloc: failed to get old allocation size for %#x", addrConst)
	}

	newSize := constBytesOr(call.Args[1], MaxAllocationSizeBytes)
	if newSize <= oldSize {
		return outcome.ReturnOf(addr), nil
	}

	newAddr, err := st.Allocate(newSize * 8)
	if err != nil {
		return outcome.Outcome{}, err
	}
	contents, err := st.Read(addr, int(oldSize*8))
	if err != nil {
		return outcome.Outcome{}, err
	}
	if err := st.Write(newAddr, contents); err != nil {
		return outcome.Outcome{}, err
	}
	return outcome.ReturnOf(newAddr), nil
}
