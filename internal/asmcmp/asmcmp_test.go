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

package asmcmp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPairOverUnspecifiedHalvesIsPairOfGivenKind(t *testing.T) {
	f := NewFunction("pair_fn")
	lo := f.NewUnspecified()
	hi := f.NewUnspecified()
	pair, err := f.NewPair(PairComplexFloatDouble, lo, hi)
	require.NoError(t, err)

	v, err := f.VReg(pair)
	require.NoError(t, err)
	require.Equal(t, VRegPair, v.Kind)
	require.Equal(t, PairComplexFloatDouble, v.PairKind)
}

func TestSpecifyTypeDependentRejectsAlreadyConcrete(t *testing.T) {
	f := NewFunction("fn")
	gp := f.NewGeneralPurpose(8)
	unspec := f.NewUnspecified()

	require.NoError(t, f.SpecifyTypeDependent(unspec, gp))

	v, err := f.VReg(unspec)
	require.NoError(t, err)
	require.Equal(t, VRegGeneralPurpose, v.Kind)
	require.Equal(t, 8, v.Width)

	err = f.SpecifyTypeDependent(unspec, gp)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSpecifyTypeDependentRejectsUnresolvedSource(t *testing.T) {
	f := NewFunction("fn")
	a := f.NewUnspecified()
	b := f.NewUnspecified()
	err := f.SpecifyTypeDependent(a, b)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestVRegLookupMissOutOfRange(t *testing.T) {
	f := NewFunction("fn")
	_, err := f.VReg(VRegID(42))
	require.ErrorIs(t, err, ErrLookupMiss)
}

func TestAppendBuildsLinkedStream(t *testing.T) {
	f := NewFunction("fn")
	a := f.NewGeneralPurpose(8)
	b := f.NewGeneralPurpose(8)

	i1 := f.Append(OpMov, VRegOperand(a), ImmOperand(1))
	i2 := f.Append(OpAdd, VRegOperand(a), VRegOperand(b))
	require.Equal(t, f.Head(), i1)
	require.Equal(t, f.Tail(), i2)

	inst1, err := f.Inst(i1)
	require.NoError(t, err)
	require.Equal(t, i2, inst1.Next)

	var seen []InstID
	require.NoError(t, f.Walk(func(inst *Instruction) error {
		seen = append(seen, inst.ID)
		return nil
	}))
	require.Equal(t, []InstID{i1, i2}, seen)
}

func TestRemoveSplicesOutOfStream(t *testing.T) {
	f := NewFunction("fn")
	i1 := f.Append(OpMov, ImmOperand(1))
	i2 := f.Append(OpMov, ImmOperand(2))
	i3 := f.Append(OpMov, ImmOperand(3))

	require.NoError(t, f.Remove(i2))

	var seen []InstID
	require.NoError(t, f.Walk(func(inst *Instruction) error {
		seen = append(seen, inst.ID)
		return nil
	}))
	require.Equal(t, []InstID{i1, i3}, seen)
}

func TestPreserveRegsTiesStashToCall(t *testing.T) {
	f := NewFunction("fn")
	idx := f.PreserveRegs([]string{"rbx", "r12"})
	call := f.Append(OpCall, LabelOperand("memcpy", RelocPLT))
	require.NoError(t, f.SetLivenessIndex(idx, call))
	require.Equal(t, call, f.Stashes[idx].LivenessIndex)
}
