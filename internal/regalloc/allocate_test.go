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

package regalloc

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"kefir/internal/asmcmp"
)

func TestAllocateAssignsPhysicalRegistersAndFramesTheFunction(t *testing.T) {
	fn := asmcmp.NewFunction("add_one")
	a := fn.NewGeneralPurpose(8)
	b := fn.NewGeneralPurpose(8)
	c := fn.NewGeneralPurpose(8)
	fn.Append(asmcmp.OpMov, asmcmp.VRegOperand(a), asmcmp.ImmOperand(1))
	fn.Append(asmcmp.OpMov, asmcmp.VRegOperand(c), asmcmp.VRegOperand(a))
	fn.Append(asmcmp.OpAdd, asmcmp.VRegOperand(c), asmcmp.VRegOperand(b))
	fn.Append(asmcmp.OpRet)

	result, err := Allocate(fn, logrus.New())
	require.NoError(t, err)
	require.NotNil(t, result)

	var sawPhysical, sawPush, sawPop bool
	require.NoError(t, fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Operand1.Kind == asmcmp.OperandPhysical || inst.Operand2.Kind == asmcmp.OperandPhysical {
			sawPhysical = true
		}
		if inst.Opcode == asmcmp.OpPush {
			sawPush = true
		}
		if inst.Opcode == asmcmp.OpPop {
			sawPop = true
		}
		return nil
	}))
	require.True(t, sawPhysical, "expected vregs to be rewritten to physical registers")
	require.True(t, sawPush, "expected a prologue push for rbp")
	require.True(t, sawPop, "expected an epilogue pop for rbp")
}

func TestIntervalSplitAtPreservesRangesAndUses(t *testing.T) {
	iv := newInterval(0, false)
	iv.addRange(0, 10)
	iv.addUsePoint(2, UseWrite)
	iv.addUsePoint(8, UseRead)

	child := iv.splitAt(5)
	require.True(t, iv.cover(2))
	require.False(t, iv.cover(8))
	require.True(t, child.cover(8))
	require.False(t, child.cover(2))
}

func TestMoveResolverBreaksCycle(t *testing.T) {
	mr := newMoveResolver()
	a := location{reg: "rax"}
	b := location{reg: "rbx"}
	mr.record(a, b, false)
	mr.record(b, a, false)

	moves := mr.resolve("r11", false)
	require.NotEmpty(t, moves)
}
