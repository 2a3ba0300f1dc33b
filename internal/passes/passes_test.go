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

package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kefir/internal/irmodule"
	"kefir/internal/irtype"
	"kefir/internal/optir"
)

func mustSetIntVal(t *testing.T, fn *optir.Func, id optir.ValueID, v int64) {
	t.Helper()
	inst, err := fn.Inst(id)
	require.NoError(t, err)
	inst.IntVal = v
}

func TestConstantFoldReplacesAddOfTwoConstants(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	a, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, a, 3)
	b, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, b, 4)
	add, err := fn.NewInst(entry, optir.OpAdd, irtype.Int32, a, b)
	require.NoError(t, err)
	ret, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, add)
	require.NoError(t, err)

	res, err := ConstantFold(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	retInst, err := fn.Inst(ret)
	require.NoError(t, err)
	require.Len(t, retInst.Args, 1)

	folded, err := fn.Inst(retInst.Args[0])
	require.NoError(t, err)
	require.Equal(t, optir.OpIntConst, folded.Opcode)
	require.Equal(t, int64(7), folded.IntVal)
}

func TestConstantFoldLeavesDivisionByZeroUnfolded(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	a, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, a, 10)
	zero, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, zero, 0)
	div, err := fn.NewInst(entry, optir.OpDivSigned, irtype.Int32, a, zero)
	require.NoError(t, err)
	_, err = fn.NewInst(entry, optir.OpReturn, irtype.Int32, div)
	require.NoError(t, err)

	res, err := ConstantFold(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.False(t, res.Changed)
}

func TestAlgebraicSimplifyRemovesAddZero(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	x, err := fn.NewInst(entry, optir.OpParam, irtype.Int32)
	require.NoError(t, err)
	zero, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, zero, 0)
	add, err := fn.NewInst(entry, optir.OpAdd, irtype.Int32, x, zero)
	require.NoError(t, err)
	ret, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, add)
	require.NoError(t, err)

	res, err := AlgebraicSimplify(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	retInst, err := fn.Inst(ret)
	require.NoError(t, err)
	require.Equal(t, []optir.ValueID{x}, retInst.Args)
}

func TestAlgebraicSimplifyReplacesSelfSubtractWithZero(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	x, err := fn.NewInst(entry, optir.OpParam, irtype.Int32)
	require.NoError(t, err)
	sub, err := fn.NewInst(entry, optir.OpSub, irtype.Int32, x, x)
	require.NoError(t, err)
	ret, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, sub)
	require.NoError(t, err)

	res, err := AlgebraicSimplify(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	retInst, err := fn.Inst(ret)
	require.NoError(t, err)
	require.Len(t, retInst.Args, 1)
	replaced, err := fn.Inst(retInst.Args[0])
	require.NoError(t, err)
	require.Equal(t, optir.OpIntConst, replaced.Opcode)
	require.Equal(t, int64(0), replaced.IntVal)
}

// buildBranchTriangle wires entry(If) -> A (taken), entry -> B (not
// taken), A -> B, so B's phi has entry as one of two predecessors and
// exercises dropPhiArgFor on a direct not-taken edge.
func buildBranchTriangle(t *testing.T) (fn *optir.Func, entry, a, b optir.BlockID, viaEntry, viaA optir.ValueID) {
	t.Helper()
	fn = optir.NewFunc("f")
	entry = fn.Entry
	a = fn.NewBlock(optir.BlockGoto)
	b = fn.NewBlock(optir.BlockReturn)

	cond, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, cond, 1) // nonzero: taken branch is Succs[0] = a
	require.NoError(t, fn.SetCond(entry, cond))
	entryBlk, err := fn.Block(entry)
	require.NoError(t, err)
	entryBlk.Kind = optir.BlockIf

	require.NoError(t, fn.WireTo(entry, a))
	require.NoError(t, fn.WireTo(entry, b))
	require.NoError(t, fn.WireTo(a, b))

	viaEntry, err = fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	viaA, err = fn.NewInst(a, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)

	phi, err := fn.NewInst(b, optir.OpPhi, irtype.Int32)
	require.NoError(t, err)
	phiInst, err := fn.Inst(phi)
	require.NoError(t, err)
	phiInst.PhiArgs = []optir.ValueID{viaEntry, viaA} // indices line up with b.Preds = [entry, a]

	return fn, entry, a, b, viaEntry, viaA
}

func TestBranchRemovalRewiresIfToGotoAndDropsPhiArgOnDirectEdge(t *testing.T) {
	fn, entry, a, b, _, viaA := buildBranchTriangle(t)
	module := irmodule.New()

	res, err := BranchRemoval(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	entryBlk, err := fn.Block(entry)
	require.NoError(t, err)
	require.Equal(t, optir.BlockGoto, entryBlk.Kind)
	require.Equal(t, []optir.BlockID{a}, entryBlk.Succs)
	require.Equal(t, optir.ValueID(-1), entryBlk.Cond)

	bBlk, err := fn.Block(b)
	require.NoError(t, err)
	require.Equal(t, []optir.BlockID{a}, bBlk.Preds)

	phiInst, err := fn.Inst(bBlk.Insts[0])
	require.NoError(t, err)
	require.Equal(t, []optir.ValueID{viaA}, phiInst.PhiArgs)
}

func TestBranchRemovalPrunesBlocksThatFallOutOfTheCFG(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	thenBlk := fn.NewBlock(optir.BlockReturn)
	elseBlk := fn.NewBlock(optir.BlockReturn)
	module := irmodule.New()

	cond, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, cond, 0) // zero: taken branch is Succs[1] = elseBlk
	require.NoError(t, fn.SetCond(entry, cond))
	entryBlk, err := fn.Block(entry)
	require.NoError(t, err)
	entryBlk.Kind = optir.BlockIf

	require.NoError(t, fn.WireTo(entry, thenBlk))
	require.NoError(t, fn.WireTo(entry, elseBlk))

	_, err = fn.NewInst(thenBlk, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)

	res, err := BranchRemoval(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	entryBlk, err = fn.Block(entry)
	require.NoError(t, err)
	require.Equal(t, []optir.BlockID{elseBlk}, entryBlk.Succs)

	thenBlock, err := fn.Block(thenBlk)
	require.NoError(t, err)
	require.Equal(t, optir.BlockDead, thenBlock.Kind)
	require.Empty(t, thenBlock.Insts)
}

func TestPhiPullCollapsesIdenticalArguments(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	a, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	phi, err := fn.NewInst(entry, optir.OpPhi, irtype.Int32)
	require.NoError(t, err)
	phiInst, err := fn.Inst(phi)
	require.NoError(t, err)
	phiInst.PhiArgs = []optir.ValueID{a, a}

	ret, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, phi)
	require.NoError(t, err)

	res, err := PhiPull(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	retInst, err := fn.Inst(ret)
	require.NoError(t, err)
	require.Equal(t, []optir.ValueID{a}, retInst.Args)
}

func TestPhiPullCollapsesSinglePredecessorPhi(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	a, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	phi, err := fn.NewInst(entry, optir.OpPhi, irtype.Int32)
	require.NoError(t, err)
	phiInst, err := fn.Inst(phi)
	require.NoError(t, err)
	phiInst.PhiArgs = []optir.ValueID{a}

	ret, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, phi)
	require.NoError(t, err)

	res, err := PhiPull(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	retInst, err := fn.Inst(ret)
	require.NoError(t, err)
	require.Equal(t, []optir.ValueID{a}, retInst.Args)
}

func TestMem2RegPromotesNonEscapingLocalToDirectValue(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	c, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, c, 42)

	store, err := fn.NewInst(entry, optir.OpStore, irtype.Int32, c)
	require.NoError(t, err)
	storeInst, err := fn.Inst(store)
	require.NoError(t, err)
	storeInst.Symbol = "x"

	load, err := fn.NewInst(entry, optir.OpLoad, irtype.Int32)
	require.NoError(t, err)
	loadInst, err := fn.Inst(load)
	require.NoError(t, err)
	loadInst.Symbol = "x"

	ret, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, load)
	require.NoError(t, err)

	res, err := Mem2Reg(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.True(t, res.Changed)

	retInst, err := fn.Inst(ret)
	require.NoError(t, err)
	require.Equal(t, []optir.ValueID{c}, retInst.Args)
}

func TestMem2RegIgnoresEscapedLocal(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	addr, err := fn.NewInst(entry, optir.OpAddrOf, irtype.Int32)
	require.NoError(t, err)
	addrInst, err := fn.Inst(addr)
	require.NoError(t, err)
	addrInst.Symbol = "x"

	c, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	store, err := fn.NewInst(entry, optir.OpStore, irtype.Int32, c)
	require.NoError(t, err)
	storeInst, err := fn.Inst(store)
	require.NoError(t, err)
	storeInst.Symbol = "x"

	res, err := Mem2Reg(module, fn, DefaultConfig)
	require.NoError(t, err)
	require.False(t, res.Changed)
}

func TestRunPipelineRejectsUnknownPassName(t *testing.T) {
	fn := optir.NewFunc("f")
	module := irmodule.New()
	err := RunPipeline(module, fn, DefaultConfig, []string{"not-a-real-pass"}, nil)
	require.Error(t, err)
}

func TestRunPipelineIteratesUntilNoPassMakesProgress(t *testing.T) {
	fn := optir.NewFunc("f")
	entry := fn.Entry
	module := irmodule.New()

	a, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, a, 1)
	b, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, b, 2)
	add, err := fn.NewInst(entry, optir.OpAdd, irtype.Int32, a, b)
	require.NoError(t, err)
	zero, err := fn.NewInst(entry, optir.OpIntConst, irtype.Int32)
	require.NoError(t, err)
	mustSetIntVal(t, fn, zero, 0)
	addZero, err := fn.NewInst(entry, optir.OpAdd, irtype.Int32, add, zero)
	require.NoError(t, err)
	ret, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, addZero)
	require.NoError(t, err)

	err = RunPipeline(module, fn, DefaultConfig, []string{"constant-fold", "op-simplify"}, nil)
	require.NoError(t, err)

	retInst, err := fn.Inst(ret)
	require.NoError(t, err)
	require.Len(t, retInst.Args, 1)
	folded, err := fn.Inst(retInst.Args[0])
	require.NoError(t, err)
	require.Equal(t, optir.OpIntConst, folded.Opcode)
	require.Equal(t, int64(3), folded.IntVal)
}
