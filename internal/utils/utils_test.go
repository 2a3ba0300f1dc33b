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

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitMapSetResetIsSet(t *testing.T) {
	bm := NewBitMap(17)
	require.Equal(t, 17, bm.Size())
	require.False(t, bm.IsSet(10))

	bm.Set(10)
	require.True(t, bm.IsSet(10))

	bm.Reset(10)
	require.False(t, bm.IsSet(10))
}

func TestBitMapUniteReportsChangeOnlyWhenBitsGrow(t *testing.T) {
	a := NewBitMap(8)
	b := NewBitMap(8)
	b.Set(3)

	require.True(t, a.Unite(b))
	require.True(t, a.IsSet(3))

	require.False(t, a.Unite(b)) // already a superset: no change
}

func TestBitMapIntersectDropsBitsNotInOther(t *testing.T) {
	a := NewBitMap(8)
	a.Set(1)
	a.Set(2)
	b := NewBitMap(8)
	b.Set(2)

	require.True(t, a.Intersect(b))
	require.False(t, a.IsSet(1))
	require.True(t, a.IsSet(2))
}

func TestBitMapSetFromCopiesOtherExactly(t *testing.T) {
	a := NewBitMap(8)
	a.Set(0)
	b := NewBitMap(8)
	b.Set(7)

	require.True(t, a.SetFrom(b))
	require.False(t, a.IsSet(0))
	require.True(t, a.IsSet(7))
}

func TestBitMapRemoveClearsBitsPresentInOther(t *testing.T) {
	a := NewBitMap(8)
	a.Set(1)
	a.Set(2)
	b := NewBitMap(8)
	b.Set(1)

	require.True(t, a.Remove(b))
	require.False(t, a.IsSet(1))
	require.True(t, a.IsSet(2))
}

func TestBitMapCopyIsIndependent(t *testing.T) {
	a := NewBitMap(8)
	a.Set(4)
	b := a.Copy()
	b.Set(5)

	require.True(t, a.IsSet(4))
	require.False(t, a.IsSet(5))
	require.True(t, b.IsSet(5))
}

func TestSetAddContainsRemove(t *testing.T) {
	s := NewSet[string]()
	require.True(t, s.Add("a"))
	require.False(t, s.Add("a")) // already present
	require.True(t, s.Contains("a"))
	require.Equal(t, 1, s.Length())

	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a")) // already gone
	require.False(t, s.Contains("a"))
}

func TestSetForEachVisitsEveryMember(t *testing.T) {
	s := NewSet[int]()
	s.Add(1)
	s.Add(2)
	s.Add(3)

	seen := make(map[int]bool)
	s.ForEach(func(v int) { seen[v] = true })

	require.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)
}

func TestInsertAtMiddleShiftsTailRight(t *testing.T) {
	got := InsertAt([]int{1, 2, 4}, 2, 3)
	require.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestInsertAtEndAppends(t *testing.T) {
	got := InsertAt([]int{1, 2, 3}, 3, 4)
	require.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestInsertAtStartShiftsEverythingRight(t *testing.T) {
	got := InsertAt([]int{2, 3}, 0, 1)
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestAssertPanicsOnFalseCondition(t *testing.T) {
	require.Panics(t, func() { Assert(false, "must hold: %d", 42) })
	require.NotPanics(t, func() { Assert(true, "must hold") })
}

func TestAnyMatchesAnyCandidate(t *testing.T) {
	require.True(t, Any(2, 1, 2, 3))
	require.False(t, Any(5, 1, 2, 3))
}

func TestAbsReturnsMagnitude(t *testing.T) {
	require.Equal(t, 4, Abs(-4))
	require.Equal(t, 4, Abs(4))
	require.Equal(t, 0, Abs(0))
}

func TestAlign16RoundsUpToNextMultiple(t *testing.T) {
	require.Equal(t, 0, Align16(0))
	require.Equal(t, 16, Align16(1))
	require.Equal(t, 16, Align16(16))
	require.Equal(t, 32, Align16(17))
}

func TestFloat64ToHexRendersBitPattern(t *testing.T) {
	require.Equal(t, "0x0", Float64ToHex(0))
	require.Equal(t, "0x3ff0000000000000", Float64ToHex(1))
}

func TestUnimplementPanics(t *testing.T) {
	require.Panics(t, func() { Unimplement() })
}

func TestShouldNotReachHerePanics(t *testing.T) {
	require.Panics(t, func() { ShouldNotReachHere() })
}
