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

// Package optir is the optimizer's mid-end IR container: a function
// body made of blocks, instructions, and phi-nodes, addressed by
// arena ids rather than pointers so that passes never alias
// instruction identity across functions and a whole function's
// storage is freed by dropping one Func value.
package optir

import (
	"fmt"

	"github.com/pkg/errors"

	"kefir/internal/irtype"
)

// ValueID names one instruction (or phi-node, which is just an
// instruction with Opcode == OpPhi) inside a single Func's arena.
type ValueID int

// BlockID names one block inside a single Func's arena.
type BlockID int

const invalidID = -1

// ErrInvalidParameter signals a caller contract violation: an id from
// the wrong function, a nil-equivalent argument where a value is
// required, or an opcode used with the wrong parameter shape.
var ErrInvalidParameter = errors.New("optir: invalid parameter")

// ErrInvalidState signals an IR construct that an earlier pass should
// have already eliminated, such as a still-present opcode branch a
// later stage does not expect.
var ErrInvalidState = errors.New("optir: invalid state")

// ErrLookupMiss distinguishes "not found" from a hard error; callers
// decide whether absence is itself an error.
var ErrLookupMiss = errors.New("optir: lookup miss")

// Opcode tags the operation an instruction performs. Every category
// named in the data model is represented by at least one tag; the
// arithmetic and comparison families are parameterized further by
// Width/CompareKind rather than exploding into hundreds of opcodes,
// so that opcode-dispatch switches stay exhaustive and reviewable.
type Opcode int

const (
	OpInvalid Opcode = iota

	// Constants.
	OpIntConst      // signed integer constant, width in Inst.Width
	OpUintConst     // unsigned integer constant, width in Inst.Width
	OpFloatConst    // FLOAT32_CONST / FLOAT64_CONST, width in Inst.Width
	OpLongDoubleConst
	OpBitIntSignedConst   // Inst.BigInt names the bigint.Pool entry
	OpBitIntUnsignedConst

	// Unary arithmetic.
	OpNeg
	OpBitNot
	OpBoolNot
	OpZeroExtend
	OpSignExtend
	OpTruncate

	// Binary integer arithmetic (width/signedness on Inst).
	OpAdd
	OpSub
	OpMul
	OpDivSigned
	OpDivUnsigned
	OpModSigned
	OpModUnsigned
	OpAnd
	OpOr
	OpXor
	OpLShift
	OpRShiftLogical
	OpRShiftArith

	// BitInt family, width-parameterized via Inst.Width and carrying
	// a bigint.Pool id for constants; arithmetic ops reuse the
	// integer opcodes above, told apart by the instruction's Type and
	// Width, so a single const-fold dispatch point handles both
	// families uniformly,
	// except for the conversions, which have no native-width analog.
	OpBitIntFromSigned
	OpBitIntFromUnsigned
	OpBitIntToSigned
	OpBitIntToUnsigned
	OpBitIntCast
	OpBitIntToFloat
	OpBitIntFromFloat
	OpBitIntToBool

	// Scalar compare, unified into one opcode tagged by CompareKind.
	OpCompare
	OpBitFieldExtractSigned
	OpBitFieldExtractUnsigned

	// Control flow / SSA plumbing.
	OpPhi
	OpJump
	OpBranch        // truth test
	OpBranchCompare // compare-and-branch, Inst.Compare set
	OpSelect
	OpSelectCompare
	OpReturn

	// Memory and calls.
	OpParam
	OpLoad
	OpStore
	OpLoadIndex
	OpStoreIndex
	OpCall
	OpAddrOf // address of a local, used by mem2reg's escape analysis

	// Atomics.
	OpAtomicLoad
	OpAtomicStore
	OpAtomicCmpXchg

	// Checked arithmetic.
	OpAddOverflow
	OpSubOverflow
	OpMulOverflow
	OpDivOverflow
	OpModOverflow

	// Floating-point environment.
	OpFenvSave
	OpFenvClear
	OpFenvUpdate
)

//go:generate stringer -type=Opcode
func (op Opcode) String() string {
	names := [...]string{
		"Invalid", "IntConst", "UintConst", "FloatConst", "LongDoubleConst",
		"BitIntSignedConst", "BitIntUnsignedConst",
		"Neg", "BitNot", "BoolNot", "ZeroExtend", "SignExtend", "Truncate",
		"Add", "Sub", "Mul", "DivSigned", "DivUnsigned", "ModSigned", "ModUnsigned",
		"And", "Or", "Xor", "LShift", "RShiftLogical", "RShiftArith",
		"BitIntFromSigned", "BitIntFromUnsigned", "BitIntToSigned", "BitIntToUnsigned",
		"BitIntCast", "BitIntToFloat", "BitIntFromFloat", "BitIntToBool",
		"Compare", "BitFieldExtractSigned", "BitFieldExtractUnsigned",
		"Phi", "Jump", "Branch", "BranchCompare", "Select", "SelectCompare", "Return",
		"Param", "Load", "Store", "LoadIndex", "StoreIndex", "Call", "AddrOf",
		"AtomicLoad", "AtomicStore", "AtomicCmpXchg",
		"AddOverflow", "SubOverflow", "MulOverflow", "DivOverflow", "ModOverflow",
		"FenvSave", "FenvClear", "FenvUpdate",
	}
	if int(op) >= 0 && int(op) < len(names) {
		return names[op]
	}
	return "Unknown"
}

// CompareKind enumerates the relational predicates a Compare or
// BranchCompare instruction may test, spanning signed, unsigned, and
// floating-point ordered/unordered semantics.
type CompareKind int

const (
	CmpEQ CompareKind = iota
	CmpNE
	CmpSignedLT
	CmpSignedLE
	CmpSignedGT
	CmpSignedGE
	CmpUnsignedLT
	CmpUnsignedLE
	CmpUnsignedGT
	CmpUnsignedGE
	CmpFloatOrderedLT
	CmpFloatOrderedLE
	CmpFloatOrderedGT
	CmpFloatOrderedGE
	CmpFloatOrderedEQ
	CmpFloatUnorderedNE
)

// AtomicOp distinguishes the three atomic families, each of which
// maps to a different lowering contract in the backend.
type AtomicOp int

const (
	AtomicLoadOp AtomicOp = iota
	AtomicStoreOp
	AtomicCmpXchgOp
)

// MemoryOrder is restricted to sequentially-consistent; the amd64
// lowering rejects an atomic instruction carrying any other numeric
// order with ErrInvalidState.
type MemoryOrder int

const MemoryOrderSeqCst MemoryOrder = 5

// Inst is one instruction or phi-node. The opcode-specific parameter
// union from the data model is flattened into optional fields rather
// than a Go union (Go has none that preserves exhaustiveness
// checking as well as a flat struct consumed by opcode-keyed
// switches does).
type Inst struct {
	ID      ValueID
	Block   BlockID
	Opcode  Opcode
	Args    []ValueID
	Uses    []ValueID // instructions that reference this id as an arg
	UseBlockConds []BlockID // blocks that use this id as their branch condition

	Type irtype.ID

	// Constant payloads.
	IntVal    int64
	FloatVal  float64
	BigInt    int // bigint.ID, -1 if unused
	Width     int // bit width for constants and BitInt family ops

	Compare CompareKind
	Atomic  AtomicOp
	Order   MemoryOrder

	// PHI: one value per predecessor, indices line up with the
	// owning block's Preds order maintained by Func.
	PhiArgs []ValueID

	// CALL.
	Callee   string
	CallArgs []ValueID

	// LOAD/STORE/LOAD_INDEX/STORE_INDEX/ADDR_OF/ATOMIC_*.
	Symbol string // local/global name; empty when addressed purely by Args[0]

	// Debug cursor carried with the instruction so a replacement can
	// inherit the location of what it replaces.
	Debug DebugLoc
}

// DebugLoc mirrors irmodule.DebugLoc without importing it, since
// optir must not depend on the module container that embeds it.
type DebugLoc struct {
	File   string
	Line   int
	Column int
}

func (inst *Inst) String() string {
	s := fmt.Sprintf("v%d = %v", inst.ID, inst.Opcode)
	for _, a := range inst.Args {
		s += fmt.Sprintf(" v%d", a)
	}
	if inst.Opcode == OpPhi {
		s += " phi("
		for i, a := range inst.PhiArgs {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("v%d", a)
		}
		s += ")"
	}
	return s
}

// BlockKind mirrors the teacher's classification of a block by its
// successor count and terminator shape.
type BlockKind int

const (
	BlockGoto BlockKind = iota
	BlockIf
	BlockReturn
	BlockDead
)

func (k BlockKind) String() string {
	switch k {
	case BlockGoto:
		return "Goto"
	case BlockIf:
		return "If"
	case BlockReturn:
		return "Return"
	case BlockDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Block owns an ordered instruction list (phi-nodes first, matching
// the teacher's convention of prepending phis) plus CFG edges.
type Block struct {
	ID     BlockID
	Kind   BlockKind
	Insts  []ValueID // phi-nodes and regular instructions, phis first
	Succs  []BlockID
	Preds  []BlockID
	Cond   ValueID // condition instruction for BlockIf, invalidID otherwise
}

// Func is one function body: the block and instruction arenas plus
// the entry block. Dropping a Func drops both arenas together.
type Func struct {
	Name    string
	Entry   BlockID
	blocks  []*Block
	insts   []*Inst
	cursor  DebugLoc
}

// NewFunc creates an empty function with a single entry block.
func NewFunc(name string) *Func {
	fn := &Func{Name: name}
	entry := fn.NewBlock(BlockGoto)
	fn.Entry = entry
	return fn
}

// NewBlock appends a fresh block and returns its id.
func (fn *Func) NewBlock(kind BlockKind) BlockID {
	id := BlockID(len(fn.blocks))
	fn.blocks = append(fn.blocks, &Block{ID: id, Kind: kind, Cond: invalidID})
	return id
}

// Block returns the block at id.
func (fn *Func) Block(id BlockID) (*Block, error) {
	if id < 0 || int(id) >= len(fn.blocks) {
		return nil, errors.Wrapf(ErrLookupMiss, "block id %d", id)
	}
	return fn.blocks[id], nil
}

// Blocks iterates blocks in insertion (arena) order. The returned
// slice is borrowed from the arena and must not be mutated by the
// caller.
func (fn *Func) Blocks() []*Block {
	return fn.blocks
}

// Inst returns the instruction at id.
func (fn *Func) Inst(id ValueID) (*Inst, error) {
	if id < 0 || int(id) >= len(fn.insts) {
		return nil, errors.Wrapf(ErrLookupMiss, "value id %d", id)
	}
	return fn.insts[id], nil
}

// SetDebugCursor pairs the currently-processed instruction with a
// source location. Passes that nest sub-operations must save and
// restore this around them.
func (fn *Func) SetDebugCursor(loc DebugLoc) DebugLoc {
	prev := fn.cursor
	fn.cursor = loc
	return prev
}

// DebugCursor returns the current debug cursor.
func (fn *Func) DebugCursor() DebugLoc { return fn.cursor }

// NewInst appends a fresh instruction to block, wiring use-def edges
// for every argument. Phi-nodes are threaded to the front of the
// block's instruction list, matching how every later pass (mem2reg,
// phi-pull, scheduling) expects to find phi-heads without a scan.
func (fn *Func) NewInst(blockID BlockID, opcode Opcode, typ irtype.ID, args ...ValueID) (ValueID, error) {
	block, err := fn.Block(blockID)
	if err != nil {
		return invalidID, err
	}
	id := ValueID(len(fn.insts))
	inst := &Inst{ID: id, Block: blockID, Opcode: opcode, Type: typ, BigInt: -1, Debug: fn.cursor}
	fn.insts = append(fn.insts, inst)
	for _, a := range args {
		if err := fn.addArg(inst, a); err != nil {
			return invalidID, err
		}
	}
	if opcode == OpPhi {
		block.Insts = append([]ValueID{id}, block.Insts...)
	} else {
		block.Insts = append(block.Insts, id)
	}
	return id, nil
}

func (fn *Func) addArg(inst *Inst, arg ValueID) error {
	argInst, err := fn.Inst(arg)
	if err != nil {
		return errors.Wrapf(ErrInvalidParameter, "arg %d: %v", arg, err)
	}
	inst.Args = append(inst.Args, arg)
	argInst.Uses = append(argInst.Uses, inst.ID)
	return nil
}

// WireTo adds a CFG edge from -> to.
func (fn *Func) WireTo(from, to BlockID) error {
	fb, err := fn.Block(from)
	if err != nil {
		return err
	}
	tb, err := fn.Block(to)
	if err != nil {
		return err
	}
	fb.Succs = append(fb.Succs, to)
	tb.Preds = append(tb.Preds, from)
	return nil
}

// SetCond records the condition instruction of an If block and
// registers the opaque use-block edge, mirroring AddUseBlock in the
// teacher's pointer-based graph.
func (fn *Func) SetCond(blockID BlockID, cond ValueID) error {
	block, err := fn.Block(blockID)
	if err != nil {
		return err
	}
	condInst, err := fn.Inst(cond)
	if err != nil {
		return err
	}
	block.Cond = cond
	condInst.UseBlockConds = append(condInst.UseBlockConds, blockID)
	return nil
}

// ReplaceReferences rewrites every use of old (as an instruction
// argument, a phi-arg, or a block's branch condition) to refer to
// replacement instead, leaving no dangling reference to old. The
// debug location of old is preserved on replacement, since the
// replacement is not meant to distort source attribution for the
// value it stands in for.
func (fn *Func) ReplaceReferences(old, replacement ValueID) error {
	oldInst, err := fn.Inst(old)
	if err != nil {
		return err
	}
	replInst, err := fn.Inst(replacement)
	if err != nil {
		return err
	}
	replInst.Debug = oldInst.Debug

	for _, useID := range append([]ValueID(nil), oldInst.Uses...) {
		useInst, err := fn.Inst(useID)
		if err != nil {
			return err
		}
		replaced := false
		for i, a := range useInst.Args {
			if a == old {
				useInst.Args[i] = replacement
				replaced = true
			}
		}
		for i, a := range useInst.PhiArgs {
			if a == old {
				useInst.PhiArgs[i] = replacement
				replaced = true
			}
		}
		if replaced {
			replInst.Uses = append(replInst.Uses, useID)
		}
	}
	oldInst.Uses = nil

	for _, blockID := range oldInst.UseBlockConds {
		block, err := fn.Block(blockID)
		if err != nil {
			return err
		}
		block.Cond = replacement
		replInst.UseBlockConds = append(replInst.UseBlockConds, blockID)
	}
	oldInst.UseBlockConds = nil
	return nil
}

// RemoveInst detaches an instruction from its block and clears its
// argument use-edges. It is invalid-state to remove an instruction
// that still has uses; callers must ReplaceReferences first.
func (fn *Func) RemoveInst(id ValueID) error {
	inst, err := fn.Inst(id)
	if err != nil {
		return err
	}
	if len(inst.Uses) != 0 || len(inst.UseBlockConds) != 0 {
		return errors.Wrapf(ErrInvalidState, "removing value %d with live uses", id)
	}
	block, err := fn.Block(inst.Block)
	if err != nil {
		return err
	}
	for _, arg := range inst.Args {
		argInst, err := fn.Inst(arg)
		if err != nil {
			return err
		}
		argInst.Uses = removeValueID(argInst.Uses, id)
	}
	block.Insts = removeValueID(block.Insts, id)
	return nil
}

func removeValueID(s []ValueID, v ValueID) []ValueID {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// FindReachableBlocks returns the set of blocks reachable from entry
// by forward traversal of Succs.
func (fn *Func) FindReachableBlocks() map[BlockID]bool {
	reachable := make(map[BlockID]bool)
	var walk func(BlockID)
	walk = func(id BlockID) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		block, err := fn.Block(id)
		if err != nil {
			return
		}
		for _, s := range block.Succs {
			walk(s)
		}
	}
	walk(fn.Entry)
	return reachable
}

func (fn *Func) String() string {
	s := fmt.Sprintf("func %s:\n", fn.Name)
	for _, block := range fn.blocks {
		s += fmt.Sprintf("b%d: preds=%v\n", block.ID, block.Preds)
		for _, id := range block.Insts {
			inst, _ := fn.Inst(id)
			s += fmt.Sprintf("  %v\n", inst)
		}
		s += fmt.Sprintf("  %v succs=%v\n", block.Kind, block.Succs)
	}
	return s
}
