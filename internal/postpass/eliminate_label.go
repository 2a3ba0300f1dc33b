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

package postpass

import (
	"kefir/internal/asmcmp"
	"kefir/internal/utils"
)

// EliminateLabel merges adjacent label declarations into one (folding
// references to the second into the first) and drops any label no
// jump, call, or RIP-relative operand still references — the usual
// cleanup left behind once PropagateJump has rewired jump chains
// around it.
func EliminateLabel(fn *asmcmp.Function) (Result, error) {
	changed := false

	for {
		merged, err := mergeOneAdjacentLabelPair(fn)
		if err != nil {
			return Result{}, err
		}
		if !merged {
			break
		}
		changed = true
	}

	referenced := utils.NewSet[string]()
	if err := fn.Walk(func(inst *asmcmp.Instruction) error {
		for _, op := range [3]asmcmp.Operand{inst.Operand1, inst.Operand2, inst.Operand3} {
			if op.Kind == asmcmp.OperandLabel || op.Kind == asmcmp.OperandRIPLabel {
				referenced.Add(op.Label)
			}
		}
		return nil
	}); err != nil {
		return Result{}, err
	}

	var dead []asmcmp.InstID
	if err := fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Opcode == asmcmp.OpLabel && inst.Label != "" && !referenced.Contains(inst.Label) {
			dead = append(dead, inst.ID)
		}
		return nil
	}); err != nil {
		return Result{}, err
	}
	for _, id := range dead {
		if err := fn.Remove(id); err != nil {
			return Result{}, err
		}
		changed = true
	}

	return Result{Changed: changed}, nil
}

func mergeOneAdjacentLabelPair(fn *asmcmp.Function) (bool, error) {
	var first, second string
	var secondID asmcmp.InstID = -1

	err := fn.Walk(func(inst *asmcmp.Instruction) error {
		if secondID >= 0 || inst.Label == "" {
			return nil
		}
		next, err := fn.Inst(inst.Next)
		if err != nil {
			return nil
		}
		if next.Opcode == asmcmp.OpLabel && next.Label != "" {
			first, second, secondID = inst.Label, next.Label, next.ID
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if secondID < 0 {
		return false, nil
	}

	if err := fn.Walk(func(inst *asmcmp.Instruction) error {
		renameOperandLabel(&inst.Operand1, second, first)
		renameOperandLabel(&inst.Operand2, second, first)
		renameOperandLabel(&inst.Operand3, second, first)
		return nil
	}); err != nil {
		return false, err
	}
	if err := fn.Remove(secondID); err != nil {
		return false, err
	}
	return true, nil
}

func renameOperandLabel(op *asmcmp.Operand, from, to string) {
	if (op.Kind == asmcmp.OperandLabel || op.Kind == asmcmp.OperandRIPLabel) && op.Label == from {
		op.Label = to
	}
}
