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

// Watchpoint names one byte range interp should report stores into.
type Watchpoint struct {
	Name       string
	Start, End uint64 // byte addresses, half-open [Start, End)
}

func (w Watchpoint) overlaps(addr uint64, bytes uint64) bool {
	end := addr + bytes
	return addr < w.End && end > w.Start
}

// Watchpoints is an optional table of byte ranges interp checks every
// concrete store address against, invoking onHit for each overlapping
// entry. It is off by default (a Config with a nil WatchpointCheck skips
// the check entirely); a caller wanting it wires
// config.Config.WatchpointCheck = watchpoints.Check.
type Watchpoints struct {
	entries []Watchpoint
	onHit   func(wp Watchpoint, addr uint64, bits int)
}

// NewWatchpoints returns an empty table that calls onHit for every
// store overlapping a later-added watchpoint.
func NewWatchpoints(onHit func(wp Watchpoint, addr uint64, bits int)) *Watchpoints {
	return &Watchpoints{onHit: onHit}
}

// Add registers a byte range [start, end) under name.
func (w *Watchpoints) Add(name string, start, end uint64) {
	w.entries = append(w.entries, Watchpoint{Name: name, Start: start, End: end})
}

// Check reports addr..addr+ceil(bits/8) to onHit for every watchpoint it
// overlaps. Matches config.Config.WatchpointCheck's signature exactly,
// so it can be assigned directly with no adapter.
func (w *Watchpoints) Check(addr uint64, bits int) {
	if w == nil || w.onHit == nil {
		return
	}
	bytes := uint64(bits+7) / 8
	for _, wp := range w.entries {
		if wp.overlaps(addr, bytes) {
			w.onHit(wp, addr, bits)
		}
	}
}
