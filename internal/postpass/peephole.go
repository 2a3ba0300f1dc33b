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

import "kefir/internal/asmcmp"

// rewrite inspects the instruction at order[i] (and, for multi-
// instruction patterns, its immediate successors) and reports whether
// it rewrote anything.
type rewrite func(fn *asmcmp.Function, order []*asmcmp.Instruction, i int) (bool, error)

// rewrites is the table Peephole drives; each entry is independently
// testable and touches only the narrow pattern it names, rather than
// one monolithic switch over every combination.
var rewrites = []rewrite{
	movZeroToXor,
	elideMovToSelf,
	fuseSetCCTest,
}

// Peephole runs every registered rewrite once over the function in
// program order. None of these rewrites may change an instruction's
// observable side effects (the value a later instruction reads, or a
// flag a later jCC/setCC depends on) — only how cheaply the same
// effect is produced.
func Peephole(fn *asmcmp.Function) (Result, error) {
	order, err := orderedInstructionPointers(fn)
	if err != nil {
		return Result{}, err
	}
	changed := false
	for _, rw := range rewrites {
		for i := range order {
			fired, err := rw(fn, order, i)
			if err != nil {
				return Result{}, err
			}
			if fired {
				changed = true
			}
		}
	}
	return Result{Changed: changed}, nil
}

func orderedInstructionPointers(fn *asmcmp.Function) ([]*asmcmp.Instruction, error) {
	var list []*asmcmp.Instruction
	err := fn.Walk(func(inst *asmcmp.Instruction) error {
		list = append(list, inst)
		return nil
	})
	return list, err
}

// movZeroToXor rewrites "mov reg, 0" to "xor reg, reg", one byte
// shorter to encode and avoiding a needless immediate load.
func movZeroToXor(fn *asmcmp.Function, order []*asmcmp.Instruction, i int) (bool, error) {
	inst := order[i]
	if inst.Opcode != asmcmp.OpMov {
		return false, nil
	}
	if inst.Operand2.Kind != asmcmp.OperandImmediate || inst.Operand2.Imm != 0 {
		return false, nil
	}
	if inst.Operand1.Kind != asmcmp.OperandVReg && inst.Operand1.Kind != asmcmp.OperandPhysical {
		return false, nil
	}
	inst.Opcode = asmcmp.OpXor
	inst.Operand2 = inst.Operand1
	return true, nil
}

// elideMovToSelf drops a mov whose source and destination already
// name the same location, left behind by coalescing-free operand
// rewriting in internal/regalloc.
func elideMovToSelf(fn *asmcmp.Function, order []*asmcmp.Instruction, i int) (bool, error) {
	inst := order[i]
	if inst.Opcode != asmcmp.OpMov {
		return false, nil
	}
	if !operandsEqual(inst.Operand1, inst.Operand2) {
		return false, nil
	}
	if err := fn.Remove(inst.ID); err != nil {
		return false, err
	}
	return true, nil
}

// fuseSetCCTest drops a "test dst, dst" that immediately follows a
// "setCC dst" defining the very same operand: a setCC result is
// already the exact 0/1 value such a zero-check would recompute, so
// the repeated flag computation is redundant.
func fuseSetCCTest(fn *asmcmp.Function, order []*asmcmp.Instruction, i int) (bool, error) {
	inst := order[i]
	if inst.Opcode != asmcmp.OpSetCC {
		return false, nil
	}
	if i+1 >= len(order) {
		return false, nil
	}
	next := order[i+1]
	if next.Opcode != asmcmp.OpTest {
		return false, nil
	}
	if !operandsEqual(next.Operand1, inst.Operand1) || !operandsEqual(next.Operand2, inst.Operand1) {
		return false, nil
	}
	if err := fn.Remove(next.ID); err != nil {
		return false, err
	}
	return true, nil
}

func operandsEqual(a, b asmcmp.Operand) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case asmcmp.OperandVReg:
		return a.VReg == b.VReg
	case asmcmp.OperandPhysical:
		return a.Physical == b.Physical
	case asmcmp.OperandImmediate:
		return a.Imm == b.Imm
	case asmcmp.OperandMemory:
		return a.Base == b.Base && a.Index == b.Index && a.Scale == b.Scale && a.Disp == b.Disp && a.Physical == b.Physical
	case asmcmp.OperandLabel, asmcmp.OperandRIPLabel:
		return a.Label == b.Label
	default:
		return true
	}
}
