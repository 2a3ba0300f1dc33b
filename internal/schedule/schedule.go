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

// Package schedule orders a function's blocks for emission, by a
// depth-first reverse postorder, and computes block liveness, by an
// iterative backward dataflow run to a fixed point.
package schedule

import (
	"kefir/internal/optir"
)

// Schedule maps each block to its position in emission order.
type Schedule struct {
	linearIndex map[optir.BlockID]int
	order       []optir.BlockID
}

// LinearIndex returns the position of block in the schedule.
func (s *Schedule) LinearIndex(block optir.BlockID) int {
	return s.linearIndex[block]
}

// Order returns the full block order.
func (s *Schedule) Order() []optir.BlockID {
	return s.order
}

// IsFallThrough reports whether target is the block immediately
// following source in the schedule, letting the backend elide a
// trailing unconditional jump.
func (s *Schedule) IsFallThrough(source, target optir.BlockID) bool {
	return s.linearIndex[target] == s.linearIndex[source]+1
}

// Build computes a reverse-postorder schedule of fn's blocks. Ties
// among a conditional's successors are broken by preferring whichever
// successor would lexically follow the source block (a profile-free
// fall-through heuristic): Succs[0] is emitted as the likely
// fall-through target.
func Build(fn *optir.Func) *Schedule {
	order := reversePostorder(fn)
	s := &Schedule{linearIndex: make(map[optir.BlockID]int, len(order)), order: order}
	for i, b := range order {
		s.linearIndex[b] = i
	}
	return s
}

func reversePostorder(fn *optir.Func) []optir.BlockID {
	visited := make(map[optir.BlockID]bool)
	var postorder []optir.BlockID

	var visit func(id optir.BlockID)
	visit = func(id optir.BlockID) {
		if visited[id] {
			return
		}
		visited[id] = true
		block, err := fn.Block(id)
		if err != nil {
			return
		}
		// Visit successors in reverse declared order, so Succs[0] (the
		// fall-through candidate for If blocks) is finished last and
		// lands immediately after its predecessor once reversed.
		for i := len(block.Succs) - 1; i >= 0; i-- {
			visit(block.Succs[i])
		}
		postorder = append(postorder, id)
	}
	visit(fn.Entry)

	order := make([]optir.BlockID, len(postorder))
	for i, b := range postorder {
		order[len(postorder)-1-i] = b
	}
	return order
}
