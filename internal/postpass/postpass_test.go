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
	"testing"

	"github.com/stretchr/testify/require"

	"kefir/internal/asmcmp"
)

func TestDropVirtualRemovesUnmappedMnemonics(t *testing.T) {
	fn := asmcmp.NewFunction("f")
	fn.Append(asmcmp.OpInvalid)
	fn.Append(asmcmp.OpRet)

	res, err := DropVirtual(fn)
	require.NoError(t, err)
	require.True(t, res.Changed)

	var opcodes []asmcmp.Opcode
	require.NoError(t, fn.Walk(func(inst *asmcmp.Instruction) error {
		opcodes = append(opcodes, inst.Opcode)
		return nil
	}))
	require.Equal(t, []asmcmp.Opcode{asmcmp.OpRet}, opcodes)
}

func TestPropagateJumpChasesTrampoline(t *testing.T) {
	fn := asmcmp.NewFunction("f")
	fn.Append(asmcmp.OpJmp, asmcmp.LabelOperand("mid", asmcmp.RelocNone))
	fn.AppendLabel("mid")
	fn.Append(asmcmp.OpJmp, asmcmp.LabelOperand("end", asmcmp.RelocNone))
	fn.AppendLabel("end")
	fn.Append(asmcmp.OpRet)

	res, err := PropagateJump(fn)
	require.NoError(t, err)
	require.True(t, res.Changed)

	head, err := fn.Inst(fn.Head())
	require.NoError(t, err)
	require.Equal(t, "end", head.Operand1.Label)
}

func TestEliminateLabelMergesAdjacentLabels(t *testing.T) {
	fn := asmcmp.NewFunction("f")
	fn.AppendLabel("a")
	fn.AppendLabel("b")
	fn.Append(asmcmp.OpJmp, asmcmp.LabelOperand("b", asmcmp.RelocNone))
	fn.Append(asmcmp.OpRet)

	res, err := EliminateLabel(fn)
	require.NoError(t, err)
	require.True(t, res.Changed)

	var labels []string
	var jmpTarget string
	require.NoError(t, fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Label != "" {
			labels = append(labels, inst.Label)
		}
		if inst.Opcode == asmcmp.OpJmp {
			jmpTarget = inst.Operand1.Label
		}
		return nil
	}))
	require.Equal(t, []string{"a"}, labels)
	require.Equal(t, "a", jmpTarget)
}

func TestEliminateLabelDropsUnreferenced(t *testing.T) {
	fn := asmcmp.NewFunction("f")
	fn.AppendLabel("dead")
	fn.Append(asmcmp.OpRet)

	res, err := EliminateLabel(fn)
	require.NoError(t, err)
	require.True(t, res.Changed)

	var labels []string
	require.NoError(t, fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Label != "" {
			labels = append(labels, inst.Label)
		}
		return nil
	}))
	require.Empty(t, labels)
}

func TestPeepholeRewritesMovZeroAndDropsSelfMov(t *testing.T) {
	fn := asmcmp.NewFunction("f")
	r := asmcmp.PhysicalOperand("rax")
	fn.Append(asmcmp.OpMov, r, asmcmp.ImmOperand(0))
	fn.Append(asmcmp.OpMov, r, r)
	fn.Append(asmcmp.OpRet)

	res, err := Peephole(fn)
	require.NoError(t, err)
	require.True(t, res.Changed)

	var opcodes []asmcmp.Opcode
	require.NoError(t, fn.Walk(func(inst *asmcmp.Instruction) error {
		opcodes = append(opcodes, inst.Opcode)
		return nil
	}))
	require.Equal(t, []asmcmp.Opcode{asmcmp.OpXor, asmcmp.OpRet}, opcodes)
}

func TestPeepholeFusesSetCCTest(t *testing.T) {
	fn := asmcmp.NewFunction("f")
	dst := asmcmp.PhysicalOperand("al")
	inst := fn.Append(asmcmp.OpSetCC, dst)
	set, err := fn.Inst(inst)
	require.NoError(t, err)
	set.CondCode = "e"
	fn.Append(asmcmp.OpTest, dst, dst)
	fn.Append(asmcmp.OpRet)

	res, err := Peephole(fn)
	require.NoError(t, err)
	require.True(t, res.Changed)

	var opcodes []asmcmp.Opcode
	require.NoError(t, fn.Walk(func(inst *asmcmp.Instruction) error {
		opcodes = append(opcodes, inst.Opcode)
		return nil
	}))
	require.Equal(t, []asmcmp.Opcode{asmcmp.OpSetCC, asmcmp.OpRet}, opcodes)
}
