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

import (
	"github.com/pkg/errors"
)

// Verify checks the structural invariants every pass must preserve:
// every block is reachable, phi arities match predecessor counts,
// CFG edge counts match the block's Kind, and every def dominates its
// uses. It returns the first violation found rather than collecting
// all of them, since a broken IR is not safe to keep inspecting.
func (fn *Func) Verify() error {
	reachable := fn.FindReachableBlocks()
	for _, block := range fn.blocks {
		if !reachable[block.ID] {
			return errors.Wrapf(ErrInvalidState, "block b%d is unreachable", block.ID)
		}
	}

	for _, block := range fn.blocks {
		for _, id := range block.Insts {
			inst, err := fn.Inst(id)
			if err != nil {
				return err
			}
			if inst.Opcode != OpPhi {
				continue
			}
			if len(inst.PhiArgs) != len(block.Preds) {
				return errors.Wrapf(ErrInvalidState,
					"phi v%d has %d args but block b%d has %d preds",
					id, len(inst.PhiArgs), block.ID, len(block.Preds))
			}
		}
	}

	for _, block := range fn.blocks {
		switch block.Kind {
		case BlockGoto:
			if len(block.Succs) != 1 {
				return errors.Wrapf(ErrInvalidState, "goto block b%d has %d succs", block.ID, len(block.Succs))
			}
		case BlockIf:
			if len(block.Succs) != 2 {
				return errors.Wrapf(ErrInvalidState, "if block b%d has %d succs", block.ID, len(block.Succs))
			}
			if block.Cond == invalidID {
				return errors.Wrapf(ErrInvalidState, "if block b%d has no condition", block.ID)
			}
		case BlockReturn:
			if len(block.Succs) != 0 {
				return errors.Wrapf(ErrInvalidState, "return block b%d has %d succs", block.ID, len(block.Succs))
			}
		case BlockDead:
			// Dead blocks are tombstones awaiting removal; no edge
			// shape is enforced on them.
		default:
			return errors.Wrapf(ErrInvalidState, "block b%d has unrecognized kind %v", block.ID, block.Kind)
		}
	}

	if len(fn.entryBlock().Preds) != 0 {
		return errors.Wrapf(ErrInvalidState, "entry block b%d has predecessors", fn.Entry)
	}

	dom, err := BuildDomTree(fn)
	if err != nil {
		return err
	}
	for _, block := range fn.blocks {
		for _, id := range block.Insts {
			inst, err := fn.Inst(id)
			if err != nil {
				return err
			}
			if inst.Opcode == OpPhi {
				for i, pred := range block.Preds {
					argID := inst.PhiArgs[i]
					argInst, err := fn.Inst(argID)
					if err != nil {
						return err
					}
					if !dom.Dominates(argInst.Block, pred) {
						return errors.Wrapf(ErrInvalidState,
							"phi v%d arg v%d (b%d) does not dominate pred b%d",
							id, argID, argInst.Block, pred)
					}
				}
				continue
			}
			for _, argID := range inst.Args {
				argInst, err := fn.Inst(argID)
				if err != nil {
					return err
				}
				if !dom.Dominates(argInst.Block, inst.Block) {
					return errors.Wrapf(ErrInvalidState,
						"def v%d (b%d) does not dominate use v%d (b%d)",
						argID, argInst.Block, inst.ID, inst.Block)
				}
			}
		}
	}
	return nil
}

func (fn *Func) entryBlock() *Block {
	b, _ := fn.Block(fn.Entry)
	return b
}
