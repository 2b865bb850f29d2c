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

package outcome

import (
	"testing"

	"github.com/PLSysSec/haybale/bv"
)

func TestConstructors(t *testing.T) {
	r := ReturnOf(bv.Const(7, 32))
	if r.Kind != Return {
		t.Fatalf("ReturnOf: Kind = %v; want Return", r.Kind)
	}
	if c, ok := r.RetVal.AsConst(); !ok || c != 7 {
		t.Fatalf("ReturnOf: RetVal = %v, %v; want 7, true", c, ok)
	}

	if Void().Kind != ReturnVoid {
		t.Fatal("Void: Kind != ReturnVoid")
	}

	th := ThrowOf(bv.Const(0x1000, 64))
	if th.Kind != Throw {
		t.Fatalf("ThrowOf: Kind = %v; want Throw", th.Kind)
	}

	ab := AbortAt("main")
	if ab.Kind != Abort || ab.DebugLoc != "main" {
		t.Fatalf("AbortAt: got %+v", ab)
	}
}

func TestKindString(t *testing.T) {
	for _, k := range []Kind{Return, ReturnVoid, Throw, Abort} {
		if k.String() == "" {
			t.Fatalf("Kind(%d).String() is empty", k)
		}
	}
	if Kind(99).String() != "Outcome(?)" {
		t.Fatal("unknown Kind should stringify to the fallback")
	}
}
