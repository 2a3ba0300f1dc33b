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

package irmodule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kefir/internal/irtype"
)

func TestNewModuleHasFreshTypeAndBigIntTables(t *testing.T) {
	m := New()
	require.NotNil(t, m.Types)
	require.NotNil(t, m.BigInts)
	require.Empty(t, m.Functions)
}

func TestInternStringAssignsSequentialIDsInInternOrder(t *testing.T) {
	m := New()
	first := m.InternString("hello")
	second := m.InternString("world")

	require.Equal(t, StringID(0), first)
	require.Equal(t, StringID(1), second)

	s, err := m.String(first)
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	s, err = m.String(second)
	require.NoError(t, err)
	require.Equal(t, "world", s)
}

func TestStringOnUnknownIDIsLookupMiss(t *testing.T) {
	m := New()
	_, err := m.String(StringID(0))
	require.ErrorIs(t, err, ErrLookupMiss)
}

func TestStringsReturnsEveryLiteralInInternOrder(t *testing.T) {
	m := New()
	require.Empty(t, m.Strings())

	m.InternString("a")
	m.InternString("b")
	m.InternString("c")

	require.Equal(t, []string{"a", "b", "c"}, m.Strings())
}

func TestDeclareAndResolveNamedType(t *testing.T) {
	m := New()
	id, err := m.Types.NewAggregate(irtype.KindStruct, "point", []irtype.ID{irtype.Int32, irtype.Int32})
	require.NoError(t, err)

	m.DeclareNamedType("point", id)

	got, err := m.NamedType("point")
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestNamedTypeOnUnknownTagIsLookupMiss(t *testing.T) {
	m := New()
	_, err := m.NamedType("nonexistent")
	require.ErrorIs(t, err, ErrLookupMiss)
}

func TestAddFunctionAppendsInCallOrder(t *testing.T) {
	m := New()
	m.AddFunction(&Function{Name: "first"})
	m.AddFunction(&Function{Name: "second"})

	require.Len(t, m.Functions, 2)
	require.Equal(t, "first", m.Functions[0].Name)
	require.Equal(t, "second", m.Functions[1].Name)
}
