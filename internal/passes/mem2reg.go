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
	"kefir/internal/irtype"
	"kefir/internal/optir"
)

// Mem2Reg promotes every local variable whose address never escapes
// (never passed to a store-to-address, pointer-arith, or call) from
// a stack slot accessed by Load/Store to SSA values joined by
// inserted phi-nodes at dominance frontiers, per the classical
// Cytron et al. construction.
func Mem2Reg(module *irmodule.Module, fn *optir.Func, cfg Config) (Result, error) {
	candidates := nonEscaping(fn)
	if len(candidates) == 0 {
		return Result{}, nil
	}

	dom, err := optir.BuildDomTree(fn)
	if err != nil {
		return Result{}, err
	}

	changed := false
	for symbol := range candidates {
		didPromote, err := promoteOne(fn, dom, symbol)
		if err != nil {
			return Result{}, err
		}
		changed = changed || didPromote
	}
	return Result{Changed: changed}, nil
}

// nonEscaping collects every Symbol referenced only by Load/Store
// (never by AddrOf, which marks an address taken for pointer
// arithmetic or a call argument).
func nonEscaping(fn *optir.Func) map[string]bool {
	symbols := make(map[string]bool)
	escaped := make(map[string]bool)
	for _, block := range fn.Blocks() {
		for _, id := range block.Insts {
			inst, err := fn.Inst(id)
			if err != nil {
				continue
			}
			switch inst.Opcode {
			case optir.OpLoad, optir.OpStore:
				if inst.Symbol != "" {
					symbols[inst.Symbol] = true
				}
			case optir.OpAddrOf:
				if inst.Symbol != "" {
					escaped[inst.Symbol] = true
				}
			}
		}
	}
	out := make(map[string]bool)
	for s := range symbols {
		if !escaped[s] {
			out[s] = true
		}
	}
	return out
}

func promoteOne(fn *optir.Func, dom *optir.DomTree, symbol string) (bool, error) {
	defBlocks := make(map[optir.BlockID]bool)
	typ := irtype.ID(-1)
	for _, block := range fn.Blocks() {
		for _, id := range block.Insts {
			inst, err := fn.Inst(id)
			if err != nil {
				return false, err
			}
			if inst.Opcode == optir.OpStore && inst.Symbol == symbol {
				defBlocks[block.ID] = true
				typ = inst.Type
			}
		}
	}
	if typ == -1 {
		// Only loaded, never stored within this function (e.g. a
		// parameter-backed slot initialized by the caller's ABI
		// lowering) — nothing to promote here.
		return false, nil
	}

	// Insert phi-nodes at the iterated dominance frontier of every
	// defining block.
	hasPhi := make(map[optir.BlockID]optir.ValueID)
	worklist := make([]optir.BlockID, 0, len(defBlocks))
	for b := range defBlocks {
		worklist = append(worklist, b)
	}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for frontierBlock := range dom.DominanceFrontier(b) {
			if _, ok := hasPhi[frontierBlock]; ok {
				continue
			}
			fb, err := fn.Block(frontierBlock)
			if err != nil {
				return false, err
			}
			phiID, err := fn.NewInst(frontierBlock, optir.OpPhi, typ)
			if err != nil {
				return false, err
			}
			phiInst, err := fn.Inst(phiID)
			if err != nil {
				return false, err
			}
			phiInst.Symbol = symbol
			phiInst.PhiArgs = make([]optir.ValueID, len(fb.Preds))
			for i := range phiInst.PhiArgs {
				phiInst.PhiArgs[i] = -1
			}
			hasPhi[frontierBlock] = phiID
			if !defBlocks[frontierBlock] {
				defBlocks[frontierBlock] = true
				worklist = append(worklist, frontierBlock)
			}
		}
	}

	// Rename: a depth-first walk over the dominator tree, threading
	// the current reaching definition of symbol through each block
	// and filling in phi-args for each successor edge as it is
	// crossed, mirroring sealed-block SSA construction without the
	// "incomplete phi" bookkeeping needed for streaming input (the
	// whole function body already exists here).
	visited := make(map[optir.BlockID]bool)
	var rename func(block optir.BlockID, current optir.ValueID) error
	rename = func(block optir.BlockID, current optir.ValueID) error {
		if visited[block] {
			return nil
		}
		visited[block] = true
		b, err := fn.Block(block)
		if err != nil {
			return err
		}
		if phiID, ok := hasPhi[block]; ok {
			current = phiID
		}
		for _, id := range append([]optir.ValueID(nil), b.Insts...) {
			inst, err := fn.Inst(id)
			if err != nil {
				return err
			}
			if inst.Opcode == optir.OpLoad && inst.Symbol == symbol {
				if err := fn.ReplaceReferences(id, current); err != nil {
					return err
				}
				if err := fn.RemoveInst(id); err != nil {
					return err
				}
				continue
			}
			if inst.Opcode == optir.OpStore && inst.Symbol == symbol {
				current = inst.Args[0]
				if len(inst.Uses) == 0 && len(inst.UseBlockConds) == 0 {
					if err := fn.RemoveInst(id); err != nil {
						return err
					}
				}
			}
		}
		for _, succ := range b.Succs {
			sb, err := fn.Block(succ)
			if err != nil {
				return err
			}
			if phiID, ok := hasPhi[succ]; ok {
				phiInst, err := fn.Inst(phiID)
				if err != nil {
					return err
				}
				for i, pred := range sb.Preds {
					if pred == block {
						phiInst.PhiArgs[i] = current
					}
				}
			}
		}
		for _, succ := range b.Succs {
			if err := rename(succ, current); err != nil {
				return err
			}
		}
		return nil
	}
	if err := rename(fn.Entry, -1); err != nil {
		return false, err
	}
	return true, nil
}
