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

import "testing"

func TestWatchpointsHitsOnOverlap(t *testing.T) {
	var hits []string
	w := NewWatchpoints(func(wp Watchpoint, addr uint64, bits int) {
		hits = append(hits, wp.Name)
	})
	w.Add("counter", 0x1000, 0x1008)

	w.Check(0x1004, 32) // [0x1004, 0x1008) overlaps
	if len(hits) != 1 || hits[0] != "counter" {
		t.Fatalf("hits = %v; want one hit on counter", hits)
	}
}

func TestWatchpointsNoHitOutsideRange(t *testing.T) {
	var hits []string
	w := NewWatchpoints(func(wp Watchpoint, addr uint64, bits int) {
		hits = append(hits, wp.Name)
	})
	w.Add("counter", 0x1000, 0x1008)

	w.Check(0x2000, 64)
	if len(hits) != 0 {
		t.Fatalf("hits = %v; want none", hits)
	}
}

func TestWatchpointsNilIsNoop(t *testing.T) {
	var w *Watchpoints
	w.Check(0x1000, 8) // must not panic
}

func TestWatchpointsMultipleEntries(t *testing.T) {
	var hits []string
	w := NewWatchpoints(func(wp Watchpoint, addr uint64, bits int) {
		hits = append(hits, wp.Name)
	})
	w.Add("a", 0x1000, 0x1004)
	w.Add("b", 0x1002, 0x1006)

	w.Check(0x1002, 8)
	if len(hits) != 2 {
		t.Fatalf("hits = %v; want both a and b", hits)
	}
}
