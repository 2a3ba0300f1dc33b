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

package passes

import (
	"kefir/internal/irmodule"
	"kefir/internal/optir"
)

// BranchRemoval turns an If block whose condition folds to a
// constant into an unconditional Goto, drops the untaken edge (and
// the corresponding phi-args in the untaken successor), and then
// recomputes reachability, discarding any block that fell out of the
// CFG as a result.
func BranchRemoval(module *irmodule.Module, fn *optir.Func, cfg Config) (Result, error) {
	changed := false

	for _, block := range fn.Blocks() {
		if block.Kind != optir.BlockIf {
			continue
		}
		condInst, err := fn.Inst(block.Cond)
		if err != nil {
			return Result{}, err
		}
		if condInst.Opcode != optir.OpIntConst && condInst.Opcode != optir.OpUintConst {
			continue
		}
		taken := 0
		if condInst.IntVal == 0 {
			taken = 1
		}
		notTakenID := block.Succs[1-taken]
		notTaken, err := fn.Block(notTakenID)
		if err != nil {
			return Result{}, err
		}
		if err := dropPhiArgFor(fn, notTaken, block.ID); err != nil {
			return Result{}, err
		}

		block.Kind = optir.BlockGoto
		block.Succs = []optir.BlockID{block.Succs[taken]}
		condInst.UseBlockConds = removeBlockID(condInst.UseBlockConds, block.ID)
		block.Cond = -1

		notTaken.Preds = removeBlockIDVal(notTaken.Preds, block.ID)
		changed = true
	}

	if changed {
		if err := pruneUnreachable(fn); err != nil {
			return Result{}, err
		}
	}
	return Result{Changed: changed}, nil
}

func dropPhiArgFor(fn *optir.Func, block *optir.Block, pred optir.BlockID) error {
	idx := -1
	for i, p := range block.Preds {
		if p == pred {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, id := range block.Insts {
		inst, err := fn.Inst(id)
		if err != nil {
			return err
		}
		if inst.Opcode != optir.OpPhi {
			continue
		}
		arg, err := fn.Inst(inst.PhiArgs[idx])
		if err != nil {
			return err
		}
		arg.Uses = removeValueID(arg.Uses, id)
		inst.PhiArgs = append(inst.PhiArgs[:idx], inst.PhiArgs[idx+1:]...)
	}
	return nil
}

// pruneUnreachable discards blocks no longer reachable from entry,
// recomputed from scratch rather than incrementally tracked, which
// keeps this pass a pure function of current CFG shape.
func pruneUnreachable(fn *optir.Func) error {
	reachable := fn.FindReachableBlocks()
	for _, block := range fn.Blocks() {
		if reachable[block.ID] {
			continue
		}
		block.Kind = optir.BlockDead
		for _, id := range append([]optir.ValueID(nil), block.Insts...) {
			inst, err := fn.Inst(id)
			if err != nil {
				return err
			}
			if len(inst.Uses) == 0 && len(inst.UseBlockConds) == 0 {
				if err := fn.RemoveInst(id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func removeBlockID(s []optir.BlockID, v optir.BlockID) []optir.BlockID {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func removeBlockIDVal(s []optir.BlockID, v optir.BlockID) []optir.BlockID {
	return removeBlockID(append([]optir.BlockID(nil), s...), v)
}
