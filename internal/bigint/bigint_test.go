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

package bigint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromInt64RoundTripsWithinWidth(t *testing.T) {
	p := NewPool()
	id, err := p.FromInt64(-5, 8)
	require.NoError(t, err)

	v, err := p.Get(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(-5), v)

	width, err := p.Width(id)
	require.NoError(t, err)
	require.Equal(t, 8, width)

	signed, err := p.Signed(id)
	require.NoError(t, err)
	require.True(t, signed)
}

func TestFromInt64TruncatesToDeclaredWidth(t *testing.T) {
	p := NewPool()
	// 130 doesn't fit in a signed BitInt(8) ([-128, 127]); it wraps to -126.
	id, err := p.FromInt64(130, 8)
	require.NoError(t, err)
	v, err := p.Get(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(-126), v)
}

func TestFromUint64MasksWithoutSignExtension(t *testing.T) {
	p := NewPool()
	id, err := p.FromUint64(0xff, 4)
	require.NoError(t, err)
	v, err := p.Get(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0xf), v)
}

func TestFromStringRejectsMalformedLiteral(t *testing.T) {
	p := NewPool()
	_, err := p.FromString("not-a-number", 64, true)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestFromInt64RejectsOutOfRangeWidth(t *testing.T) {
	p := NewPool()
	_, err := p.FromInt64(1, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = p.FromInt64(1, 1<<21)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestGetUnknownIDIsLookupMiss(t *testing.T) {
	p := NewPool()
	_, err := p.Get(ID(0))
	require.ErrorIs(t, err, ErrLookupMiss)
}

func TestAddWidensToTheWiderOperand(t *testing.T) {
	p := NewPool()
	a, err := p.FromInt64(100, 8)
	require.NoError(t, err)
	b, err := p.FromInt64(100, 16)
	require.NoError(t, err)

	sum, err := p.Add(a, b)
	require.NoError(t, err)

	v, err := p.Get(sum)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200), v)

	width, err := p.Width(sum)
	require.NoError(t, err)
	require.Equal(t, 16, width)
}

func TestMulOverflowsIntoTruncation(t *testing.T) {
	p := NewPool()
	a, err := p.FromUint64(200, 8)
	require.NoError(t, err)
	b, err := p.FromUint64(200, 8)
	require.NoError(t, err)

	product, err := p.Mul(a, b)
	require.NoError(t, err)
	v, err := p.Get(product)
	require.NoError(t, err)
	// 200*200 = 40000, truncated to 8 bits: 40000 % 256 = 64.
	require.Equal(t, big.NewInt(64), v)
}

func TestCastProducesANewEntryRatherThanMutating(t *testing.T) {
	p := NewPool()
	original, err := p.FromInt64(-1, 8)
	require.NoError(t, err)

	wider, err := p.Cast(original, 16, true)
	require.NoError(t, err)
	require.NotEqual(t, original, wider)

	ov, err := p.Get(original)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(-1), ov)

	wv, err := p.Get(wider)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(-1), wv)
}

func TestStringRendersInvalidIDPlaceholder(t *testing.T) {
	p := NewPool()
	require.Contains(t, p.String(ID(99)), "invalid bigint")
}
