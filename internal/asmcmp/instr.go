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
	"fmt"

	"github.com/pkg/errors"
)

// Opcode is a mnemonic at the asmcmp level — one step closer to the
// machine than optir's opcodes, but still operating on virtual
// registers rather than physical ones.
type Opcode int

const (
	OpInvalid Opcode = iota
	OpMov
	OpLea
	OpAdd
	OpSub
	OpImul
	OpIdiv
	OpDiv
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpShl
	OpShr
	OpSar
	OpCmp
	OpTest
	OpUcomiss
	OpUcomisd
	OpSetCC
	OpMovzx
	OpMovsx
	OpCmovCC
	OpJmp
	OpJCC
	OpCall
	OpRet
	OpPush
	OpPop
	OpLabel
	OpXchg
	OpLockCmpxchg
	OpFnstenv
	OpFldenv
	OpStmxcsr
	OpLdmxcsr
	OpFnclex
	OpSeto
	OpSetc
	OpSetb
	OpCvtSi2Sd // integer-to-double/BitInt-to-float conversion
	OpCvtSd2Si // double-to-integer/BitInt-from-float conversion
	OpFld      // x87 load, used for long-double constants/conversions
	OpFstp     // x87 store-and-pop
	OpCqo      // sign-extend rax into rdx:rax ahead of a 64-bit idiv
)

// RelocKind tags an external reference's linking treatment.
type RelocKind int

const (
	RelocNone RelocKind = iota
	RelocPLT
	RelocGOTPCRel
)

// OperandKind tags the shape of one of an Instruction's operands.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandVReg
	OperandPhysical
	OperandImmediate
	OperandMemory   // [vreg + disp]
	OperandRIPLabel // RIP-relative reference to a label/symbol
	OperandLabel
)

// Operand is a tagged union over everything an asmcmp instruction
// can reference.
type Operand struct {
	Kind OperandKind

	VReg     VRegID
	Physical string
	Imm      int64

	// Memory: base vreg + displacement, optionally indexed. Base and
	// Index start out as VRegIDs at lowering time and are rewritten to
	// Physical/IndexPhysical register names by internal/regalloc,
	// exactly as a bare OperandVReg operand is rewritten to Physical —
	// see regalloc's rewriteOperand.
	Base          VRegID
	Index         VRegID
	IndexPhysical string
	Scale         int
	Disp          int64

	Label string
	Reloc RelocKind
}

func VRegOperand(id VRegID) Operand   { return Operand{Kind: OperandVReg, VReg: id} }
func PhysicalOperand(r string) Operand { return Operand{Kind: OperandPhysical, Physical: r} }
func ImmOperand(v int64) Operand      { return Operand{Kind: OperandImmediate, Imm: v} }
func MemOperand(base VRegID, disp int64) Operand {
	return Operand{Kind: OperandMemory, Base: base, Disp: disp}
}

// MemIndexOperand builds a base+index*scale+disp memory operand, used
// by indexed load/store lowering; Scale must be one of 1/2/4/8.
func MemIndexOperand(base, index VRegID, scale int, disp int64) Operand {
	return Operand{Kind: OperandMemory, Base: base, Index: index, Scale: scale, Disp: disp}
}
func LabelOperand(name string, reloc RelocKind) Operand {
	return Operand{Kind: OperandLabel, Label: name, Reloc: reloc}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandVReg:
		return fmt.Sprintf("v%d", o.VReg)
	case OperandPhysical:
		return o.Physical
	case OperandImmediate:
		return fmt.Sprintf("$%d", o.Imm)
	case OperandMemory:
		base := fmt.Sprintf("v%d", o.Base)
		if o.Physical != "" {
			base = o.Physical
		}
		if o.Scale != 0 {
			index := fmt.Sprintf("v%d", o.Index)
			if o.IndexPhysical != "" {
				index = o.IndexPhysical
			}
			return fmt.Sprintf("%d(%s,%s,%d)", o.Disp, base, index, o.Scale)
		}
		return fmt.Sprintf("%d(%s)", o.Disp, base)
	case OperandRIPLabel:
		return fmt.Sprintf("%s(%%rip)", o.Label)
	case OperandLabel:
		return o.Label
	default:
		return "<none>"
	}
}

// InstID names an instruction within a Function's arena.
type InstID int

// Instruction is one asmcmp-level instruction: up to three operands,
// an optional attached label, and doubly-linked neighbors so passes
// can splice without reindexing the whole stream.
type Instruction struct {
	ID       InstID
	Opcode   Opcode
	Operand1 Operand
	Operand2 Operand
	Operand3 Operand
	Label    string // non-empty if a label is attached to this instruction
	CondCode string // condition suffix for SetCC/JCC/CmovCC, e.g. "e", "ne", "l"

	Prev, Next InstID // -1 at the ends
}

// Function is one compiled function's asmcmp instruction stream plus
// its virtual register arena and stash sets.
type Function struct {
	Name  string
	vregs []VReg
	insts []*Instruction
	head  InstID
	tail  InstID

	Stashes []Stash
}

// NewFunction creates an empty asmcmp stream.
func NewFunction(name string) *Function {
	return &Function{Name: name, head: -1, tail: -1}
}

// ErrLookupMissInst signals an InstID outside the arena.
var ErrLookupMissInst = errors.New("asmcmp: instruction lookup miss")

// Inst returns the instruction at id.
func (f *Function) Inst(id InstID) (*Instruction, error) {
	if id < 0 || int(id) >= len(f.insts) {
		return nil, errors.Wrapf(ErrLookupMissInst, "instruction id %d", id)
	}
	return f.insts[id], nil
}

// Head returns the first instruction id, or -1 if the stream is empty.
func (f *Function) Head() InstID { return f.head }

// Tail returns the last instruction id, or -1 if the stream is empty.
func (f *Function) Tail() InstID { return f.tail }

// Append adds a new instruction at the tail of the stream and returns
// its id.
func (f *Function) Append(opcode Opcode, ops ...Operand) InstID {
	inst := &Instruction{Opcode: opcode, Prev: f.tail, Next: -1}
	switch len(ops) {
	case 0:
	case 1:
		inst.Operand1 = ops[0]
	case 2:
		inst.Operand1, inst.Operand2 = ops[0], ops[1]
	case 3:
		inst.Operand1, inst.Operand2, inst.Operand3 = ops[0], ops[1], ops[2]
	default:
		panic("asmcmp: instruction takes at most three operands")
	}
	id := InstID(len(f.insts))
	inst.ID = id
	f.insts = append(f.insts, inst)
	if f.tail >= 0 {
		tail, _ := f.Inst(f.tail)
		tail.Next = id
	} else {
		f.head = id
	}
	f.tail = id
	return id
}

// Prepend adds a new instruction at the head of the stream, for
// prologue code emitted by the register allocator after the rest of
// the function has already been lowered.
func (f *Function) Prepend(opcode Opcode, ops ...Operand) InstID {
	inst := &Instruction{Opcode: opcode, Prev: -1, Next: f.head}
	switch len(ops) {
	case 0:
	case 1:
		inst.Operand1 = ops[0]
	case 2:
		inst.Operand1, inst.Operand2 = ops[0], ops[1]
	case 3:
		inst.Operand1, inst.Operand2, inst.Operand3 = ops[0], ops[1], ops[2]
	default:
		panic("asmcmp: instruction takes at most three operands")
	}
	id := InstID(len(f.insts))
	inst.ID = id
	f.insts = append(f.insts, inst)
	if f.head >= 0 {
		head, _ := f.Inst(f.head)
		head.Prev = id
	} else {
		f.tail = id
	}
	f.head = id
	return id
}

// InsertBefore splices a new instruction immediately before an
// existing one, for epilogue and spill/reload code the allocator
// inserts once live ranges are known.
func (f *Function) InsertBefore(before InstID, opcode Opcode, ops ...Operand) (InstID, error) {
	target, err := f.Inst(before)
	if err != nil {
		return -1, err
	}
	inst := &Instruction{Opcode: opcode, Prev: target.Prev, Next: before}
	switch len(ops) {
	case 0:
	case 1:
		inst.Operand1 = ops[0]
	case 2:
		inst.Operand1, inst.Operand2 = ops[0], ops[1]
	case 3:
		inst.Operand1, inst.Operand2, inst.Operand3 = ops[0], ops[1], ops[2]
	default:
		panic("asmcmp: instruction takes at most three operands")
	}
	id := InstID(len(f.insts))
	inst.ID = id
	f.insts = append(f.insts, inst)
	if target.Prev >= 0 {
		prev, _ := f.Inst(target.Prev)
		prev.Next = id
	} else {
		f.head = id
	}
	target.Prev = id
	return id, nil
}

// InsertAfter splices a new instruction immediately after an existing
// one.
func (f *Function) InsertAfter(after InstID, opcode Opcode, ops ...Operand) (InstID, error) {
	target, err := f.Inst(after)
	if err != nil {
		return -1, err
	}
	if target.Next < 0 {
		return f.Append(opcode, ops...), nil
	}
	return f.InsertBefore(target.Next, opcode, ops...)
}

// AppendLabel attaches name to a fresh no-op label instruction at the
// tail, used as a jump target.
func (f *Function) AppendLabel(name string) InstID {
	id := f.Append(OpLabel)
	inst, _ := f.Inst(id)
	inst.Label = name
	return id
}

// Walk iterates the instruction stream from head to tail, honoring
// whatever splicing a prior pass performed.
func (f *Function) Walk(visit func(*Instruction) error) error {
	for id := f.head; id >= 0; {
		inst, err := f.Inst(id)
		if err != nil {
			return err
		}
		next := inst.Next
		if err := visit(inst); err != nil {
			return err
		}
		id = next
	}
	return nil
}

// Remove splices id out of the stream without discarding its arena
// slot (other instructions may still reference it only through
// Prev/Next, which this call fixes up).
func (f *Function) Remove(id InstID) error {
	inst, err := f.Inst(id)
	if err != nil {
		return err
	}
	if inst.Prev >= 0 {
		prev, _ := f.Inst(inst.Prev)
		prev.Next = inst.Next
	} else {
		f.head = inst.Next
	}
	if inst.Next >= 0 {
		next, _ := f.Inst(inst.Next)
		next.Prev = inst.Prev
	} else {
		f.tail = inst.Prev
	}
	return nil
}

// Stash is a set of physical registers the allocator must save around
// a specific call instruction.
type Stash struct {
	Registers     []string
	LivenessIndex InstID
}

// PreserveRegs creates and returns a stash covering every
// caller-preserved GPR and XMM register for the given ABI register
// set, to be tied to a call via SetLivenessIndex once the protected
// call instruction is appended.
func (f *Function) PreserveRegs(callerPreserved []string) int {
	idx := len(f.Stashes)
	f.Stashes = append(f.Stashes, Stash{Registers: append([]string(nil), callerPreserved...), LivenessIndex: -1})
	return idx
}

// SetLivenessIndex ties stash[stashIndex] to the call instruction
// that follows it.
func (f *Function) SetLivenessIndex(stashIndex int, call InstID) error {
	if stashIndex < 0 || stashIndex >= len(f.Stashes) {
		return errors.Errorf("asmcmp: stash index %d out of range", stashIndex)
	}
	f.Stashes[stashIndex].LivenessIndex = call
	return nil
}
