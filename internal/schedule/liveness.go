// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package schedule

import "kefir/internal/optir"

// Liveness holds, per block, the set of instruction ids alive at
// block entry.
type Liveness struct {
	aliveIn map[optir.BlockID]map[optir.ValueID]bool
}

// AliveAtEntry reports whether id is alive at the entry of block.
func (l *Liveness) AliveAtEntry(block optir.BlockID, id optir.ValueID) bool {
	return l.aliveIn[block][id]
}

// ComputeLiveness runs a backward dataflow to a fixed point:
// alive(b) = used(b) ∪ ((⋃ over succ of alive(succ) ∪ used(succ)) \ def(b)).
// "used(b)" is every argument an instruction in b reads before b
// defines it, plus every phi-arg of b's phis, whichever predecessor
// it arrives from; "def(b)" is every instruction b itself defines.
func ComputeLiveness(fn *optir.Func) (*Liveness, error) {
	blocks := fn.Blocks()
	aliveIn := make(map[optir.BlockID]map[optir.ValueID]bool, len(blocks))
	defd := make(map[optir.BlockID]map[optir.ValueID]bool, len(blocks))
	used := make(map[optir.BlockID]map[optir.ValueID]bool, len(blocks))

	for _, b := range blocks {
		defSet := make(map[optir.ValueID]bool)
		useSet := make(map[optir.ValueID]bool)
		for _, id := range b.Insts {
			inst, err := fn.Inst(id)
			if err != nil {
				return nil, err
			}
			defSet[id] = true
			for _, arg := range inst.Args {
				if !defSet[arg] {
					useSet[arg] = true
				}
			}
			if inst.Opcode == optir.OpPhi {
				for _, arg := range inst.PhiArgs {
					useSet[arg] = true
				}
			}
		}
		defd[b.ID] = defSet
		used[b.ID] = useSet
		aliveIn[b.ID] = make(map[optir.ValueID]bool)
	}

	changed := true
	for changed {
		changed = false
		for _, b := range blocks {
			succUnion := make(map[optir.ValueID]bool)
			for _, succID := range b.Succs {
				for id := range aliveIn[succID] {
					succUnion[id] = true
				}
				for id := range used[succID] {
					succUnion[id] = true
				}
			}
			newAlive := make(map[optir.ValueID]bool)
			for id := range succUnion {
				if !defd[b.ID][id] {
					newAlive[id] = true
				}
			}
			for id := range used[b.ID] {
				newAlive[id] = true
			}
			if !valueSetsEqual(newAlive, aliveIn[b.ID]) {
				aliveIn[b.ID] = newAlive
				changed = true
			}
		}
	}

	return &Liveness{aliveIn: aliveIn}, nil
}

func valueSetsEqual(a, b map[optir.ValueID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
