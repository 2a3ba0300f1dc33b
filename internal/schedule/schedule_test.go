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

package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kefir/internal/irtype"
	"kefir/internal/optir"
)

func buildLinearChain(t *testing.T) *optir.Func {
	t.Helper()
	fn := optir.NewFunc("chain")
	mid := fn.NewBlock(optir.BlockGoto)
	tail := fn.NewBlock(optir.BlockReturn)
	require.NoError(t, fn.WireTo(fn.Entry, mid))
	require.NoError(t, fn.WireTo(mid, tail))
	return fn
}

func TestBuildOrdersEntryFirst(t *testing.T) {
	fn := buildLinearChain(t)
	s := Build(fn)
	require.Equal(t, 0, s.LinearIndex(fn.Entry))
	require.True(t, s.IsFallThrough(fn.Entry, optir.BlockID(1)))
	require.True(t, s.IsFallThrough(optir.BlockID(1), optir.BlockID(2)))
}

func TestComputeLivenessCrossesBlockBoundary(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	tail := fn.NewBlock(optir.BlockReturn)
	require.NoError(t, fn.WireTo(entry, tail))

	v, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	_, err = fn.NewInst(tail, optir.OpNeg, irtype.Int32, v)
	require.NoError(t, err)

	live, err := ComputeLiveness(fn)
	require.NoError(t, err)
	require.True(t, live.AliveAtEntry(tail, v))
	require.False(t, live.AliveAtEntry(entry, v))
}
