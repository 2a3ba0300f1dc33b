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

package amd64

import (
	"fmt"
	"math"
	"math/big"

	"kefir/internal/asmcmp"
	"kefir/internal/optir"
)

const (
	opMov        = "mov"
	opMovFromRIP = "mov"
)

// emitFunction wraps an asmcmp.Function with the bookkeeping the
// amd64 lowering pass needs: a label per optir block and a rodata
// pool for floating-point literals, which this ISA can never encode
// as an immediate operand.
type emitFunction struct {
	asm        *asmcmp.Function
	labels     map[optir.BlockID]string
	opened     map[optir.BlockID]bool
	rodata     map[uint64]string
	rodataBig  map[string]string
	rodataSeq  int
}

func newEmitFunction(name string) *emitFunction {
	return &emitFunction{
		asm:       asmcmp.NewFunction(name),
		labels:    make(map[optir.BlockID]string),
		opened:    make(map[optir.BlockID]bool),
		rodata:    make(map[uint64]string),
		rodataBig: make(map[string]string),
	}
}

// AsmFunction returns the underlying asmcmp stream, for
// internal/regalloc, internal/postpass, and internal/xasmgen to
// consume once lowering has finished with it.
func (e *emitFunction) AsmFunction() *asmcmp.Function { return e.asm }

// RodataFloats returns the float64-bit-pattern-to-label pool
// internRodataFloat built, for xasmgen to render as `.quad` storage.
func (e *emitFunction) RodataFloats() map[uint64]string { return e.rodata }

// RodataBigInts returns the decimal-text-to-label pool
// internRodataBigInt built, for xasmgen to render as wide integer
// storage.
func (e *emitFunction) RodataBigInts() map[string]string { return e.rodataBig }

func (e *emitFunction) label(b optir.BlockID) {
	name := fmt.Sprintf(".L%s.%d", e.asm.Name, b)
	e.labels[b] = name
}

func (e *emitFunction) blockLabel(b optir.BlockID) string {
	return e.labels[b]
}

func (e *emitFunction) newGeneral() int  { return int(e.asm.NewGeneralPurpose(8)) }
func (e *emitFunction) newFloat() int    { return int(e.asm.NewFloatingPoint(8)) }
func (e *emitFunction) pinGeneral(reg string) int {
	id := e.asm.NewGeneralPurpose(8)
	_ = e.asm.PinPhysical(id, reg)
	return int(id)
}
func (e *emitFunction) pinFloat(reg string) int {
	id := e.asm.NewFloatingPoint(8)
	_ = e.asm.PinPhysical(id, reg)
	return int(id)
}

// internRodataFloat stores a double literal's bit pattern once and
// returns the label naming its storage, mirroring the teacher's
// NewText(..., TextFloat) rodata pool.
func (e *emitFunction) internRodataFloat(v float64) string {
	bits := math.Float64bits(v)
	if label, ok := e.rodata[bits]; ok {
		return label
	}
	label := fmt.Sprintf(".Lrodata.%s.%d", e.asm.Name, e.rodataSeq)
	e.rodataSeq++
	e.rodata[bits] = label
	return label
}

// internRodataBigInt stores a wide _BitInt constant's decimal text
// once and returns the label naming its storage; the assembler
// dialect is left to render it as a .quad sequence at emission time.
func (e *emitFunction) internRodataBigInt(v *big.Int) string {
	key := v.String()
	if label, ok := e.rodataBig[key]; ok {
		return label
	}
	label := fmt.Sprintf(".Lbigint.%s.%d", e.asm.Name, e.rodataSeq)
	e.rodataSeq++
	e.rodataBig[key] = label
	return label
}

func (e *emitFunction) symbolOperand(symbol string) asmcmp.Operand {
	return asmcmp.LabelOperand(symbol, asmcmp.RelocNone)
}

// emit appends an instruction tagged with opcode to the tail of the
// stream; which optir block it logically belongs to is recorded via
// a same-named label emitted immediately before the first instruction
// lowered for that block, since asmcmp's stream is flat rather than
// block-partitioned.
func (e *emitFunction) emit(b optir.BlockID, op string, ops ...[]asmcmp.Operand) asmcmp.InstID {
	e.ensureBlockOpened(b)
	var flat []asmcmp.Operand
	for _, group := range ops {
		flat = append(flat, group...)
	}
	return e.asm.Append(mnemonicToOpcode(op), flat...)
}

// emitCC appends a setCC instruction writing its byte result into
// vreg, tagged with the condition suffix cc.
func (e *emitFunction) emitCC(b optir.BlockID, mnemonic, cc string, vreg int) asmcmp.InstID {
	e.ensureBlockOpened(b)
	id := e.asm.Append(mnemonicToOpcode(mnemonic+cc), asmcmp.VRegOperand(asmcmp.VRegID(vreg)))
	inst, err := e.asm.Inst(id)
	if err == nil {
		inst.CondCode = cc
	}
	return id
}

// emitCMovCC appends a cmovCC instruction moving src into dst when cc
// holds.
func (e *emitFunction) emitCMovCC(b optir.BlockID, cc string, dst, src int) asmcmp.InstID {
	e.ensureBlockOpened(b)
	id := e.asm.Append(mnemonicToOpcode("cmov"+cc), regOperand(dst, src)...)
	inst, err := e.asm.Inst(id)
	if err == nil {
		inst.CondCode = cc
	}
	return id
}

// emitJCC appends a conditional jump to target, tagged with the
// condition suffix cc.
func (e *emitFunction) emitJCC(b optir.BlockID, cc, target string) asmcmp.InstID {
	e.ensureBlockOpened(b)
	id := e.asm.Append(mnemonicToOpcode("j"+cc), asmcmp.LabelOperand(target, asmcmp.RelocNone))
	inst, err := e.asm.Inst(id)
	if err == nil {
		inst.CondCode = cc
	}
	return id
}

func (e *emitFunction) ensureBlockOpened(b optir.BlockID) {
	if e.opened[b] {
		return
	}
	e.opened[b] = true
	e.asm.AppendLabel(e.labels[b])
}

func (e *emitFunction) preserveRegs(regs []string) int {
	return e.asm.PreserveRegs(regs)
}

func (e *emitFunction) setLivenessIndex(stash int, call asmcmp.InstID) {
	_ = e.asm.SetLivenessIndex(stash, call)
}

func mnemonicToOpcode(m string) asmcmp.Opcode {
	switch m {
	case "mov":
		return asmcmp.OpMov
	case "lea":
		return asmcmp.OpLea
	case "add":
		return asmcmp.OpAdd
	case "sub":
		return asmcmp.OpSub
	case "imul":
		return asmcmp.OpImul
	case "idiv":
		return asmcmp.OpIdiv
	case "div":
		return asmcmp.OpDiv
	case "and":
		return asmcmp.OpAnd
	case "or":
		return asmcmp.OpOr
	case "xor":
		return asmcmp.OpXor
	case "not":
		return asmcmp.OpNot
	case "neg":
		return asmcmp.OpNeg
	case "shl":
		return asmcmp.OpShl
	case "shr":
		return asmcmp.OpShr
	case "sar":
		return asmcmp.OpSar
	case "cmp":
		return asmcmp.OpCmp
	case "test":
		return asmcmp.OpTest
	case "ucomisd", "ucomiss":
		return asmcmp.OpUcomisd
	case "movzx":
		return asmcmp.OpMovzx
	case "movsx":
		return asmcmp.OpMovsx
	case "jmp":
		return asmcmp.OpJmp
	case "call":
		return asmcmp.OpCall
	case "ret":
		return asmcmp.OpRet
	case "cqo":
		return asmcmp.OpCqo
	case "fnstenv":
		return asmcmp.OpFnstenv
	case "fldenv":
		return asmcmp.OpFldenv
	case "stmxcsr":
		return asmcmp.OpStmxcsr
	case "ldmxcsr":
		return asmcmp.OpLdmxcsr
	case "fnclex", "fwait":
		return asmcmp.OpFnclex
	case "cvtsi2sd", "cvtsi2ss":
		return asmcmp.OpCvtSi2Sd
	case "cvttsd2si", "cvttss2si":
		return asmcmp.OpCvtSd2Si
	case "fld", "fldt":
		return asmcmp.OpFld
	case "fstp", "fstpt":
		return asmcmp.OpFstp
	}
	switch {
	case len(m) > 2 && m[:2] == "se":
		return asmcmp.OpSetCC
	case len(m) > 0 && m[0] == 'j':
		return asmcmp.OpJCC
	case len(m) > 4 && m[:4] == "cmov":
		return asmcmp.OpCmovCC
	}
	return asmcmp.OpInvalid
}

// Each helper below returns the full operand list for a two- or
// three-operand instruction as (destination, source[, ...]), matching
// the destination-first convention asmcmp.Instruction's Operand1
// slot expects.

func immOperand(dst int, v int64) []asmcmp.Operand {
	return []asmcmp.Operand{asmcmp.VRegOperand(asmcmp.VRegID(dst)), asmcmp.ImmOperand(v)}
}

func regOperand(dst, src int) []asmcmp.Operand {
	return []asmcmp.Operand{asmcmp.VRegOperand(asmcmp.VRegID(dst)), asmcmp.VRegOperand(asmcmp.VRegID(src))}
}

func regRegOperand(dst, src int) []asmcmp.Operand {
	return regOperand(dst, src)
}

func memOperand(dst int, addr asmcmp.Operand) []asmcmp.Operand {
	return []asmcmp.Operand{asmcmp.VRegOperand(asmcmp.VRegID(dst)), addr}
}

func memStoreOperand(addr asmcmp.Operand, src int) []asmcmp.Operand {
	return []asmcmp.Operand{addr, asmcmp.VRegOperand(asmcmp.VRegID(src))}
}

// memIndexOperand and memIndexStoreOperand build base+index*scale
// addressed loads/stores for OpLoadIndex/OpStoreIndex, mirroring the
// teacher's NewAddr(elemType, base, index, offset) shape.
func memIndexOperand(dst, base, index int, scale int) []asmcmp.Operand {
	addr := asmcmp.MemIndexOperand(asmcmp.VRegID(base), asmcmp.VRegID(index), scale, 0)
	return []asmcmp.Operand{asmcmp.VRegOperand(asmcmp.VRegID(dst)), addr}
}

func memIndexStoreOperand(base, index int, scale int, src int) []asmcmp.Operand {
	addr := asmcmp.MemIndexOperand(asmcmp.VRegID(base), asmcmp.VRegID(index), scale, 0)
	return []asmcmp.Operand{addr, asmcmp.VRegOperand(asmcmp.VRegID(src))}
}

// immShiftOperand builds the operand pair for an immediate-count
// shift/rotate (the bit-field extract family shifts by a compile-time
// constant, unlike lowerShift's variable CL-encoded count).
func immShiftOperand(dst int, count int64) []asmcmp.Operand {
	return []asmcmp.Operand{asmcmp.VRegOperand(asmcmp.VRegID(dst)), asmcmp.ImmOperand(count)}
}

func ripOperand(dst int, label string) []asmcmp.Operand {
	return []asmcmp.Operand{
		asmcmp.VRegOperand(asmcmp.VRegID(dst)),
		{Kind: asmcmp.OperandRIPLabel, Label: label},
	}
}

func leaOperand(dst int, symbol string) []asmcmp.Operand {
	return []asmcmp.Operand{asmcmp.VRegOperand(asmcmp.VRegID(dst)), asmcmp.LabelOperand(symbol, asmcmp.RelocNone)}
}

func labelOperand(name string) []asmcmp.Operand {
	return []asmcmp.Operand{asmcmp.LabelOperand(name, asmcmp.RelocPLT)}
}
