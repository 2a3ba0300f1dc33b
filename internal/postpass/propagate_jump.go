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

// PropagateJump rewrites any jump or conditional jump whose target
// label is immediately followed by nothing but an unconditional jmp
// (a "trampoline" label block left behind by block scheduling) to
// jump straight to that jmp's own target, chasing the chain to its
// end.
func PropagateJump(fn *asmcmp.Function) (Result, error) {
	labelDecl := make(map[string]asmcmp.InstID)
	if err := fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Label != "" {
			labelDecl[inst.Label] = inst.ID
		}
		return nil
	}); err != nil {
		return Result{}, err
	}

	resolve := func(name string) string {
		visited := utils.NewSet[string]()
		cur := name
		for !visited.Contains(cur) {
			visited.Add(cur)
			declID, ok := labelDecl[cur]
			if !ok {
				break
			}
			decl, err := fn.Inst(declID)
			if err != nil {
				break
			}
			next, err := fn.Inst(decl.Next)
			if err != nil {
				break
			}
			if next.Opcode != asmcmp.OpJmp || next.Operand1.Kind != asmcmp.OperandLabel {
				break
			}
			cur = next.Operand1.Label
		}
		return cur
	}

	changed := false
	err := fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Opcode != asmcmp.OpJmp && inst.Opcode != asmcmp.OpJCC {
			return nil
		}
		if inst.Operand1.Kind != asmcmp.OperandLabel {
			return nil
		}
		if resolved := resolve(inst.Operand1.Label); resolved != inst.Operand1.Label {
			inst.Operand1.Label = resolved
			changed = true
		}
		return nil
	})
	return Result{Changed: changed}, err
}
