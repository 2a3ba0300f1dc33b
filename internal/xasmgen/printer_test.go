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

package xasmgen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"kefir/internal/asmcmp"
)

func simpleFunction() *asmcmp.Function {
	fn := asmcmp.NewFunction("add_one")
	fn.Append(asmcmp.OpMov, asmcmp.PhysicalOperand("rax"), asmcmp.PhysicalOperand("rdi"))
	fn.Append(asmcmp.OpAdd, asmcmp.PhysicalOperand("rax"), asmcmp.ImmOperand(1))
	fn.Append(asmcmp.OpRet)
	return fn
}

func TestEmitModuleATTReversesOperandOrder(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT})
	err := p.EmitModule(Module{Functions: []Function{{Name: "add_one", Asm: simpleFunction(), Exported: true}}})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, ".att_syntax")
	require.Contains(t, out, ".globl add_one")
	require.Contains(t, out, "mov %rdi, %rax")
	require.Contains(t, out, "add $1, %rax")
	require.Contains(t, out, "ret")
}

func TestEmitModuleIntelNoPrefixKeepsDestinationFirst(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: IntelNoPrefix})
	err := p.EmitModule(Module{Functions: []Function{{Name: "add_one", Asm: simpleFunction()}}})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, ".intel_syntax noprefix")
	require.Contains(t, out, "mov rax, rdi")
	require.Contains(t, out, "add rax, 1")
}

func TestMemoryOperandRendersIndexedAddressing(t *testing.T) {
	fn := asmcmp.NewFunction("sum_array")
	fn.Append(asmcmp.OpMov, asmcmp.PhysicalOperand("rax"), asmcmp.Operand{
		Kind: asmcmp.OperandMemory, Physical: "rdi", IndexPhysical: "rcx", Scale: 8, Disp: 16,
	})
	fn.Append(asmcmp.OpRet)

	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT})
	require.NoError(t, p.EmitModule(Module{Functions: []Function{{Name: "sum_array", Asm: fn}}}))
	require.Contains(t, buf.String(), "mov 16(%rdi,%rcx,8), %rax")

	buf.Reset()
	p = New(&buf, Config{Syntax: IntelPrefix})
	require.NoError(t, p.EmitModule(Module{Functions: []Function{{Name: "sum_array", Asm: fn}}}))
	require.Contains(t, buf.String(), "mov rax, [rdi+rcx*8+16]")
}

func TestUnallocatedVRegOperandIsRejected(t *testing.T) {
	fn := asmcmp.NewFunction("broken")
	vreg := fn.NewGeneralPurpose(8)
	fn.Append(asmcmp.OpRet, asmcmp.VRegOperand(vreg))

	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT})
	err := p.EmitModule(Module{Functions: []Function{{Name: "broken", Asm: fn}}})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPICRelocationSuffixesAreEmittedOnlyWhenEnabled(t *testing.T) {
	fn := asmcmp.NewFunction("call_libc")
	fn.Append(asmcmp.OpCall, asmcmp.LabelOperand("malloc", asmcmp.RelocPLT))
	fn.Append(asmcmp.OpRet)

	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT, PIC: true})
	require.NoError(t, p.EmitModule(Module{Functions: []Function{{Name: "call_libc", Asm: fn}}}))
	require.Contains(t, buf.String(), "call malloc@PLT")

	buf.Reset()
	p = New(&buf, Config{Syntax: ATT, PIC: false})
	require.NoError(t, p.EmitModule(Module{Functions: []Function{{Name: "call_libc", Asm: fn}}}))
	require.Contains(t, buf.String(), "call malloc")
	require.NotContains(t, buf.String(), "@PLT")
}

func TestReservedWordSymbolsAreEscaped(t *testing.T) {
	fn := asmcmp.NewFunction("rax")
	fn.Append(asmcmp.OpRet)

	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT})
	require.NoError(t, p.EmitModule(Module{Functions: []Function{{Name: "rax", Asm: fn, Exported: true}}}))
	require.Contains(t, buf.String(), "_rax:")
}

func TestStringLiteralRodataEscapesControlBytes(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT})
	require.NoError(t, p.EmitModule(Module{
		Strings: []StringLiteral{{Label: ".Lstr.0", Value: "hi\n\"there\""}},
	}))
	require.Contains(t, buf.String(), `.string "hi\012\"there\""`)
}

func TestBigIntRodataSplitsIntoLittleEndianQwords(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT})
	err := p.EmitModule(Module{Functions: []Function{{
		Name: "f",
		Asm:  simpleFunction(),
		RodataBigInts: map[string]string{
			"340282366920938463463374607431768211456": ".Lbigint.0", // 2^128
		},
	}}})
	require.NoError(t, err)
	out := buf.String()
	require.True(t, strings.Contains(out, ".quad 0x0000000000000000"))
	require.True(t, strings.Contains(out, ".quad 0x0000000000000001"))
}

func TestSetCCJCCCmovCCMnemonicsCarryConditionSuffix(t *testing.T) {
	fn := asmcmp.NewFunction("f")
	id := fn.Append(asmcmp.OpSetCC, asmcmp.PhysicalOperand("al"))
	inst, err := fn.Inst(id)
	require.NoError(t, err)
	inst.CondCode = "ne"
	fn.Append(asmcmp.OpRet)

	var buf bytes.Buffer
	p := New(&buf, Config{Syntax: ATT})
	require.NoError(t, p.EmitModule(Module{Functions: []Function{{Name: "f", Asm: fn}}}))
	require.Contains(t, buf.String(), "setne %al")
}
