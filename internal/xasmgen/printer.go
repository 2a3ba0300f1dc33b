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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sort"

	"kefir/internal/asmcmp"
)

// Function bundles one lowered, allocated, post-passed asmcmp stream
// with the rodata pools lowering accumulated for it, everything
// EmitModule needs to render one function definition.
type Function struct {
	Name          string
	Asm           *asmcmp.Function
	Exported      bool
	RodataFloats  map[uint64]string
	RodataBigInts map[string]string
}

// StringLiteral is one module-level interned string constant destined
// for `.rodata`.
type StringLiteral struct {
	Label string
	Value string
}

// Module is everything EmitModule needs to render one translation
// unit's worth of assembly text.
type Module struct {
	Functions []Function
	Strings   []StringLiteral
	Externs   []string
}

// Config selects the dialect and PIC-relocation behavior EmitModule
// renders with.
type Config struct {
	Syntax Syntax
	PIC    bool
}

// Printer renders one Module to a single io.Writer — the backend's
// only suspension point, matching asm_x86.go's single string-buffer
// sink generalized to a real io.Writer and three dialects.
type Printer struct {
	w      *bufio.Writer
	syntax Syntax
	pic    bool
}

// New creates a Printer writing to w.
func New(w io.Writer, cfg Config) *Printer {
	return &Printer{w: bufio.NewWriter(w), syntax: cfg.Syntax, pic: cfg.PIC}
}

// EmitModule renders mod in full: the dialect directive, the
// GNU-stack note, externs, the text section with every function body,
// and the rodata section with every interned string/float/bigint
// constant. Each label is emitted exactly once, at its declaration
// site.
func (p *Printer) EmitModule(mod Module) error {
	fmt.Fprintf(p.w, "%s\n", p.syntax.directive())
	fmt.Fprintf(p.w, "  .section .note.GNU-stack,\"\",%%progbits\n")

	for _, name := range mod.Externs {
		fmt.Fprintf(p.w, "  .extern %s\n", escapeSymbol(name))
	}

	fmt.Fprintf(p.w, "  .text\n")
	for _, fn := range mod.Functions {
		if err := p.emitFunction(fn); err != nil {
			return err
		}
	}

	if len(mod.Strings) > 0 || hasAnyRodata(mod.Functions) {
		fmt.Fprintf(p.w, "  .section .rodata\n")
		for _, s := range mod.Strings {
			emitStringLiteral(p.w, s.Label, s.Value)
		}
		for _, fn := range mod.Functions {
			emitFloatRodata(p.w, fn.RodataFloats)
			emitBigIntRodata(p.w, fn.RodataBigInts)
		}
	}

	return p.w.Flush()
}

func hasAnyRodata(fns []Function) bool {
	for _, fn := range fns {
		if len(fn.RodataFloats) > 0 || len(fn.RodataBigInts) > 0 {
			return true
		}
	}
	return false
}

func (p *Printer) emitFunction(fn Function) error {
	name := escapeSymbol(fn.Name)
	if fn.Exported {
		fmt.Fprintf(p.w, "  .globl %s\n", name)
	}
	fmt.Fprintf(p.w, "%s:\n", name)

	return fn.Asm.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Opcode == asmcmp.OpLabel {
			fmt.Fprintf(p.w, "%s:\n", escapeSymbol(inst.Label))
			return nil
		}
		line, err := p.formatInstruction(inst)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.w, "  %s\n", line)
		return nil
	})
}

func (p *Printer) formatInstruction(inst *asmcmp.Instruction) (string, error) {
	mnemonic := p.mnemonicFor(inst)
	operands := nonEmptyOperands(inst)

	if len(operands) == 0 {
		return mnemonic, nil
	}

	order := operands
	if p.syntax == ATT && len(operands) == 2 {
		// asmcmp stores every two-operand instruction destination-first
		// (Operand1, Operand2); AT&T prints source-first.
		order = []asmcmp.Operand{operands[1], operands[0]}
	}

	mnemonic += p.widthSuffix(inst.Opcode, operands)

	parts := make([]string, len(order))
	for i, op := range order {
		text, err := p.formatOperand(op, p.pic)
		if err != nil {
			return "", err
		}
		parts[i] = text
	}

	sep := ", "
	out := mnemonic + " " + parts[0]
	for _, rest := range parts[1:] {
		out += sep + rest
	}
	return out, nil
}

func nonEmptyOperands(inst *asmcmp.Instruction) []asmcmp.Operand {
	var ops []asmcmp.Operand
	for _, op := range [3]asmcmp.Operand{inst.Operand1, inst.Operand2, inst.Operand3} {
		if op.Kind == asmcmp.OperandNone {
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

// widthSuffix returns the AT&T b/w/l/q size suffix for an integer
// mnemonic when no operand is a register (whose own name already
// carries its width). Every spill slot and general-purpose vreg this
// backend allocates is 8 bytes, so a memory/immediate-only operand
// pair defaults to "q" — a documented simplification, since a finer
// per-operation width would need threading the IR type through to
// this printer.
func (p *Printer) widthSuffix(op asmcmp.Opcode, operands []asmcmp.Operand) string {
	if p.syntax != ATT || !integerSuffixedOpcode(op) {
		return ""
	}
	for _, o := range operands {
		if o.Kind == asmcmp.OperandPhysical {
			return ""
		}
	}
	return "q"
}

func integerSuffixedOpcode(op asmcmp.Opcode) bool {
	switch op {
	case asmcmp.OpMov, asmcmp.OpLea, asmcmp.OpAdd, asmcmp.OpSub, asmcmp.OpImul,
		asmcmp.OpAnd, asmcmp.OpOr, asmcmp.OpXor, asmcmp.OpNot, asmcmp.OpNeg,
		asmcmp.OpShl, asmcmp.OpShr, asmcmp.OpSar, asmcmp.OpCmp, asmcmp.OpTest:
		return true
	default:
		// movzx/movsx already carry their size in the fixed "movzbl"/
		// "movsbl" mnemonic text and take no separate suffix.
		return false
	}
}

func (p *Printer) mnemonicFor(inst *asmcmp.Instruction) string {
	switch inst.Opcode {
	case asmcmp.OpSetCC:
		return "set" + inst.CondCode
	case asmcmp.OpJCC:
		return "j" + inst.CondCode
	case asmcmp.OpCmovCC:
		return "cmov" + inst.CondCode
	}
	if m, ok := plainMnemonics[inst.Opcode]; ok {
		return m
	}
	return "nop" // unreachable once internal/postpass's amd64-drop-virtual has run
}

var plainMnemonics = map[asmcmp.Opcode]string{
	asmcmp.OpMov:          "mov",
	asmcmp.OpLea:          "lea",
	asmcmp.OpAdd:          "add",
	asmcmp.OpSub:          "sub",
	asmcmp.OpImul:         "imul",
	asmcmp.OpIdiv:         "idiv",
	asmcmp.OpDiv:          "div",
	asmcmp.OpAnd:          "and",
	asmcmp.OpOr:           "or",
	asmcmp.OpXor:          "xor",
	asmcmp.OpNot:          "not",
	asmcmp.OpNeg:          "neg",
	asmcmp.OpShl:          "shl",
	asmcmp.OpShr:          "shr",
	asmcmp.OpSar:          "sar",
	asmcmp.OpCmp:          "cmp",
	asmcmp.OpTest:         "test",
	asmcmp.OpUcomiss:      "ucomiss",
	asmcmp.OpUcomisd:      "ucomisd",
	asmcmp.OpMovzx:        "movzbl",
	asmcmp.OpMovsx:        "movsbl",
	asmcmp.OpJmp:          "jmp",
	asmcmp.OpCall:         "call",
	asmcmp.OpRet:          "ret",
	asmcmp.OpPush:         "push",
	asmcmp.OpPop:          "pop",
	asmcmp.OpXchg:         "xchg",
	asmcmp.OpLockCmpxchg:  "lock cmpxchg",
	asmcmp.OpFnstenv:      "fnstenv",
	asmcmp.OpFldenv:       "fldenv",
	asmcmp.OpStmxcsr:      "stmxcsr",
	asmcmp.OpLdmxcsr:      "ldmxcsr",
	asmcmp.OpFnclex:       "fnclex",
	asmcmp.OpSeto:         "seto",
	asmcmp.OpSetc:         "setc",
	asmcmp.OpSetb:         "setb",
	asmcmp.OpCvtSi2Sd:     "cvtsi2sd",
	asmcmp.OpCvtSd2Si:     "cvttsd2si",
	asmcmp.OpFld:          "fldt",
	asmcmp.OpFstp:         "fstpt",
	asmcmp.OpCqo:          "cqto",
}

func emitStringLiteral(w *bufio.Writer, label, value string) {
	fmt.Fprintf(w, "%s:\n", escapeSymbol(label))
	fmt.Fprintf(w, "  .string \"%s\"\n", octalEscape(value))
}

func emitFloatRodata(w *bufio.Writer, pool map[uint64]string) {
	bits := make([]uint64, 0, len(pool))
	for b := range pool {
		bits = append(bits, b)
	}
	sort.Slice(bits, func(i, j int) bool { return pool[bits[i]] < pool[bits[j]] })
	for _, b := range bits {
		fmt.Fprintf(w, "%s:\n", escapeSymbol(pool[b]))
		fmt.Fprintf(w, "  .quad 0x%016x\n", b)
	}
}

func emitBigIntRodata(w *bufio.Writer, pool map[string]string) {
	labels := make([]string, 0, len(pool))
	for text := range pool {
		labels = append(labels, text)
	}
	sort.Strings(labels)
	for _, text := range labels {
		label := pool[text]
		v, ok := new(big.Int).SetString(text, 10)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s:\n", escapeSymbol(label))
		for _, word := range bigIntQwords(v) {
			fmt.Fprintf(w, "  .quad 0x%016x\n", word)
		}
	}
}

// bigIntQwords splits v's two's-complement magnitude into little-
// endian 64-bit words, at least one, matching the quad-sequence
// storage a wide _BitInt constant needs once it no longer fits an
// immediate operand.
func bigIntQwords(v *big.Int) []uint64 {
	mag := new(big.Int).Abs(v)
	bytes := mag.Bytes() // big-endian
	if len(bytes) == 0 {
		return []uint64{0}
	}
	padded := make([]byte, (len(bytes)+7)/8*8)
	copy(padded[len(padded)-len(bytes):], bytes)
	words := make([]uint64, len(padded)/8)
	for i := range words {
		start := len(padded) - (i+1)*8
		words[i] = binary.BigEndian.Uint64(padded[start : start+8])
	}
	if v.Sign() < 0 {
		negateTwosComplement(words)
	}
	return words
}

func negateTwosComplement(words []uint64) {
	carry := uint64(1)
	for i := range words {
		words[i] = ^words[i] + carry
		if words[i] != 0 {
			carry = 0
		}
	}
}

// octalEscape renders s as a NUL-terminated-ready GNU-as `.string`
// body, escaping every byte the assembler would otherwise
// misinterpret as octal so the literal round-trips exactly.
func octalEscape(s string) string {
	out := make([]byte, 0, len(s))
	for _, b := range []byte(s) {
		switch {
		case b == '"' || b == '\\':
			out = append(out, '\\', b)
		case b < 0x20 || b >= 0x7f:
			out = append(out, '\\', '0'+(b>>6)&7, '0'+(b>>3)&7, '0'+b&7)
		default:
			out = append(out, b)
		}
	}
	return string(out)
}
