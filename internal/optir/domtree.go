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

package optir

// DomTree answers dominance queries over a Func's current CFG shape.
// It is a snapshot: rebuild it after any pass changes block edges.
//
// Definitions, for reference:
//   - a dom b:  every path from entry to b passes through a
//   - a sdom b: a dom b and a != b
//   - a idom b: a sdom b and no c has a sdom c sdom b
//
// Computed with the classic iterative intersect/union fixed point
// (Allen & Cocke), O(n^2) in block count, which is adequate at
// function-body scale and keeps the implementation a direct
// generalization of the reachability/liveness fixed points used
// elsewhere in this package.
type DomTree struct {
	fn  *Func
	dom map[BlockID]map[BlockID]bool
}

// BuildDomTree computes the dominator relation for fn's current CFG.
func BuildDomTree(fn *Func) (*DomTree, error) {
	all := make(map[BlockID]bool, len(fn.blocks))
	for _, b := range fn.blocks {
		all[b.ID] = true
	}

	dom := make(map[BlockID]map[BlockID]bool, len(fn.blocks))
	dom[fn.Entry] = map[BlockID]bool{fn.Entry: true}
	for _, b := range fn.blocks {
		if b.ID == fn.Entry {
			continue
		}
		dom[b.ID] = cloneSet(all)
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.blocks {
			if b.ID == fn.Entry {
				continue
			}
			var newDom map[BlockID]bool
			if len(b.Preds) > 0 {
				newDom = cloneSet(dom[b.Preds[0]])
				for _, pred := range b.Preds[1:] {
					newDom = intersectSets(newDom, dom[pred])
				}
			} else {
				newDom = make(map[BlockID]bool)
			}
			newDom[b.ID] = true
			if !setsEqual(newDom, dom[b.ID]) {
				dom[b.ID] = newDom
				changed = true
			}
		}
	}
	return &DomTree{fn: fn, dom: dom}, nil
}

// Dominates reports whether a dom b.
func (dt *DomTree) Dominates(a, b BlockID) bool {
	return dt.dom[b][a]
}

// StrictlyDominates reports whether a sdom b.
func (dt *DomTree) StrictlyDominates(a, b BlockID) bool {
	return a != b && dt.Dominates(a, b)
}

// ImmediatelyDominates reports whether a idom b.
func (dt *DomTree) ImmediatelyDominates(a, b BlockID) bool {
	if !dt.StrictlyDominates(a, b) {
		return false
	}
	for c := range dt.dom[b] {
		if c != a && c != b && dt.StrictlyDominates(a, c) && dt.StrictlyDominates(c, b) {
			return false
		}
	}
	return true
}

// DominanceFrontier returns the dominance frontier of block id: the
// set of blocks where id's dominance stops, which is where mem2reg
// inserts phi-nodes for a variable defined in id.
func (dt *DomTree) DominanceFrontier(id BlockID) map[BlockID]bool {
	frontier := make(map[BlockID]bool)
	for _, b := range dt.fn.blocks {
		for _, pred := range b.Preds {
			if dt.Dominates(id, pred) && !dt.StrictlyDominates(id, b.ID) {
				frontier[b.ID] = true
			}
		}
	}
	return frontier
}

func cloneSet(s map[BlockID]bool) map[BlockID]bool {
	out := make(map[BlockID]bool, len(s))
	for k, v := range s {
		if v {
			out[k] = true
		}
	}
	return out
}

func intersectSets(a, b map[BlockID]bool) map[BlockID]bool {
	out := make(map[BlockID]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func setsEqual(a, b map[BlockID]bool) bool {
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
