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

package irtype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTableSeedsWellKnownScalarIDs(t *testing.T) {
	table := NewTable()

	e, err := table.Get(Int32)
	require.NoError(t, err)
	require.Equal(t, KindInt32, e.Kind)

	e, err = table.Get(Float64)
	require.NoError(t, err)
	require.Equal(t, KindFloat64, e.Kind)
}

func TestGetOutOfRangeIDIsLookupMiss(t *testing.T) {
	table := NewTable()
	_, err := table.Get(ID(9999))
	require.ErrorIs(t, err, ErrLookupMiss)
}

func TestNewBitIntRejectsNonPositiveWidth(t *testing.T) {
	table := NewTable()
	_, err := table.NewBitInt(0)
	require.Error(t, err)
}

func TestNewPointerRejectsUnknownPointee(t *testing.T) {
	table := NewTable()
	_, err := table.NewPointer(ID(9999))
	require.Error(t, err)
}

func TestNewAggregateRejectsUnknownFieldType(t *testing.T) {
	table := NewTable()
	_, err := table.NewAggregate(KindStruct, "bad", []ID{ID(9999)})
	require.Error(t, err)
}

func TestNewAggregateRejectsNonStructUnionKind(t *testing.T) {
	table := NewTable()
	_, err := table.NewAggregate(KindArray, "bad", []ID{Int32})
	require.Error(t, err)
}

func TestFieldsReturnsDeclarationOrder(t *testing.T) {
	table := NewTable()
	id, err := table.NewAggregate(KindStruct, "pair", []ID{Int8, Int32})
	require.NoError(t, err)

	fields, err := table.Fields(id)
	require.NoError(t, err)
	require.Equal(t, []ID{Int8, Int32}, fields)
}

func TestSizeofScalars(t *testing.T) {
	table := NewTable()

	layout, err := table.Sizeof(Int32)
	require.NoError(t, err)
	require.Equal(t, Layout{4, 4}, layout)

	layout, err = table.Sizeof(Int64)
	require.NoError(t, err)
	require.Equal(t, Layout{8, 8}, layout)

	layout, err = table.Sizeof(LongDouble)
	require.NoError(t, err)
	require.Equal(t, Layout{16, 16}, layout)
}

func TestSizeofStructPadsFieldsToAlignment(t *testing.T) {
	table := NewTable()
	// struct { char a; int b; } -> a at 0 (1 byte), padding to 4, b at 4.
	id, err := table.NewAggregate(KindStruct, "s", []ID{Int8, Int32})
	require.NoError(t, err)

	layout, err := table.Sizeof(id)
	require.NoError(t, err)
	require.Equal(t, Layout{8, 4}, layout)
}

func TestSizeofUnionTakesWidestMember(t *testing.T) {
	table := NewTable()
	id, err := table.NewAggregate(KindUnion, "u", []ID{Int32, Int64})
	require.NoError(t, err)

	layout, err := table.Sizeof(id)
	require.NoError(t, err)
	require.Equal(t, Layout{8, 8}, layout)
}

func TestSizeofArrayMultipliesElementSize(t *testing.T) {
	table := NewTable()
	structID, err := table.NewAggregate(KindStruct, "s", []ID{Int8, Int32})
	require.NoError(t, err)

	arrID, err := table.NewArray(structID, 3)
	require.NoError(t, err)

	layout, err := table.Sizeof(arrID)
	require.NoError(t, err)
	require.Equal(t, Layout{24, 4}, layout)
}

func TestSizeofOpaqueIsAnError(t *testing.T) {
	table := NewTable()
	id := table.NewOpaque("incomplete")
	_, err := table.Sizeof(id)
	require.Error(t, err)
}

func TestBitIntLayoutRoundsUpToPowerOfTwoBytesCappedAtQwordAlignment(t *testing.T) {
	table := NewTable()

	narrow, err := table.NewBitInt(1)
	require.NoError(t, err)
	layout, err := table.Sizeof(narrow)
	require.NoError(t, err)
	require.Equal(t, Layout{1, 1}, layout)

	ninebit, err := table.NewBitInt(9)
	require.NoError(t, err)
	layout, err = table.Sizeof(ninebit)
	require.NoError(t, err)
	require.Equal(t, Layout{2, 2}, layout)

	wide, err := table.NewBitInt(128)
	require.NoError(t, err)
	layout, err = table.Sizeof(wide)
	require.NoError(t, err)
	require.Equal(t, Layout{16, 8}, layout)
}

func TestFieldOffsetAccountsForPadding(t *testing.T) {
	table := NewTable()
	id, err := table.NewAggregate(KindStruct, "s", []ID{Int8, Int32})
	require.NoError(t, err)

	off, err := table.FieldOffset(id, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), off)

	off, err = table.FieldOffset(id, 1)
	require.NoError(t, err)
	require.Equal(t, int64(4), off)
}

func TestFieldOffsetIsAlwaysZeroForUnions(t *testing.T) {
	table := NewTable()
	id, err := table.NewAggregate(KindUnion, "u", []ID{Int32, Int64})
	require.NoError(t, err)

	off, err := table.FieldOffset(id, 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), off)
}

func TestFieldOffsetRejectsOutOfRangeIndex(t *testing.T) {
	table := NewTable()
	id, err := table.NewAggregate(KindStruct, "s", []ID{Int8})
	require.NoError(t, err)
	_, err = table.FieldOffset(id, 5)
	require.Error(t, err)
}

func TestClassifyScalarLeavesSecondEightbyteUnused(t *testing.T) {
	table := NewTable()
	classes, err := table.Classify(Int32)
	require.NoError(t, err)
	require.Equal(t, [2]EightbyteClass{ClassInteger, ClassSSE}, classes)
}

func TestClassifyMergesTwoIntegersIntoOneEightbyte(t *testing.T) {
	table := NewTable()
	id, err := table.NewAggregate(KindStruct, "s", []ID{Int32, Int32})
	require.NoError(t, err)

	classes, err := table.Classify(id)
	require.NoError(t, err)
	require.Equal(t, [2]EightbyteClass{ClassInteger, ClassSSE}, classes)
}

func TestClassifySplitsIntegerAndSSEAcrossEightbytes(t *testing.T) {
	table := NewTable()
	id, err := table.NewAggregate(KindStruct, "s", []ID{Int64, Float64})
	require.NoError(t, err)

	classes, err := table.Classify(id)
	require.NoError(t, err)
	require.Equal(t, [2]EightbyteClass{ClassInteger, ClassSSE}, classes)
}

func TestClassifyLargerThanTwoEightbytesIsMemory(t *testing.T) {
	table := NewTable()
	arrID, err := table.NewArray(Int64, 3)
	require.NoError(t, err)

	classes, err := table.Classify(arrID)
	require.NoError(t, err)
	require.Equal(t, [2]EightbyteClass{ClassMemory, ClassMemory}, classes)
	require.True(t, IsMemoryClass(classes))
}

func TestClassifyComplexLongDoubleIsComplexX87(t *testing.T) {
	table := NewTable()
	classes, err := table.Classify(ComplexLongDouble)
	require.NoError(t, err)
	require.Equal(t, [2]EightbyteClass{ClassComplexX87, ClassComplexX87}, classes)
	require.True(t, IsMemoryClass(classes))
}

func TestIsMemoryClassFalseForPlainIntegerPair(t *testing.T) {
	require.False(t, IsMemoryClass([2]EightbyteClass{ClassInteger, ClassInteger}))
}
