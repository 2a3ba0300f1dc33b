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

// Package asmcmp is the backend's pre-allocation instruction stream:
// virtual registers, three-operand instructions, labels, and
// relocations. It sits between code lowering and the register
// allocator, the same role the teacher's LIR plays but generalized
// from a fixed two-argument form to the tagged virtual-register model
// the System V AMD64 lowering needs (pairs, spill-space, pinned
// physical placement, unspecified-until-linked types).
package asmcmp

import "github.com/pkg/errors"

// VRegID names a virtual register within one Function's arena.
type VRegID int

// PairKind distinguishes the two ways a Pair vreg's two halves
// combine, since complex floats of different widths interact
// differently with the SSE/x87 split.
type PairKind int

const (
	PairNone PairKind = iota
	PairComplexFloatSingle
	PairComplexFloatDouble
)

// VRegKind tags a virtual register's storage requirement.
type VRegKind int

const (
	VRegUnspecified VRegKind = iota
	VRegGeneralPurpose
	VRegFloatingPoint
	VRegSpillSpace
	VRegLocalVariable
	VRegImmediateInteger
	VRegExternalMemory
	VRegPair
)

func (k VRegKind) String() string {
	switch k {
	case VRegUnspecified:
		return "unspecified"
	case VRegGeneralPurpose:
		return "general_purpose"
	case VRegFloatingPoint:
		return "floating_point"
	case VRegSpillSpace:
		return "spill_space"
	case VRegLocalVariable:
		return "local_variable"
	case VRegImmediateInteger:
		return "immediate_integer"
	case VRegExternalMemory:
		return "external_memory"
	case VRegPair:
		return "pair"
	default:
		return "unknown"
	}
}

// VReg is one entry in a Function's virtual register arena. Its Kind
// never changes after it is first concretely specified; pairs
// recursively own their sub-registers, and a spill-space register is
// uniquely owned by the single IR-level definition that created it.
type VReg struct {
	ID   VRegID
	Kind VRegKind

	// Width is the register's size in bytes, meaningful once the
	// kind is no longer Unspecified.
	Width int

	// SpillLengthQwords/SpillAlignQwords describe a Spill-space
	// register's memory slot shape.
	SpillLengthQwords int
	SpillAlignQwords  int

	// LocalOffset/ImmValue/ExternalSymbol back LocalVariable,
	// ImmediateInteger, and ExternalMemory registers respectively.
	LocalOffset    int64
	ImmValue       int64
	ExternalSymbol string

	// PairKind/PairLow/PairHigh back Pair registers.
	PairKind PairKind
	PairLow  VRegID
	PairHigh VRegID

	// PinnedPhysical, when non-empty, requires the allocator to
	// place this vreg in exactly that physical register (e.g. RAX
	// for a cmpxchg result).
	PinnedPhysical string
}

// ErrLookupMiss signals a VRegID outside a Function's arena.
var ErrLookupMiss = errors.New("asmcmp: lookup miss")

// ErrInvalidState signals an operation that violates a vreg
// invariant, such as re-specifying an already-concrete type.
var ErrInvalidState = errors.New("asmcmp: invalid state")

// NewUnspecified allocates a vreg whose type is deferred until a
// later SpecifyTypeDependent call resolves it from another vreg.
func (f *Function) NewUnspecified() VRegID {
	return f.newVReg(VReg{Kind: VRegUnspecified})
}

// NewGeneralPurpose allocates a GPR-resident vreg of the given width
// in bytes.
func (f *Function) NewGeneralPurpose(width int) VRegID {
	return f.newVReg(VReg{Kind: VRegGeneralPurpose, Width: width})
}

// NewFloatingPoint allocates an XMM-resident vreg of the given width.
func (f *Function) NewFloatingPoint(width int) VRegID {
	return f.newVReg(VReg{Kind: VRegFloatingPoint, Width: width})
}

// NewSpillSpace allocates a memory-backed vreg of the given shape.
func (f *Function) NewSpillSpace(lengthQwords, alignQwords int) VRegID {
	return f.newVReg(VReg{Kind: VRegSpillSpace, SpillLengthQwords: lengthQwords, SpillAlignQwords: alignQwords})
}

// NewLocalVariable allocates a vreg naming a stack-resident local at
// the given frame offset.
func (f *Function) NewLocalVariable(offset int64, width int) VRegID {
	return f.newVReg(VReg{Kind: VRegLocalVariable, LocalOffset: offset, Width: width})
}

// NewImmediateInteger allocates a vreg materializing a constant.
func (f *Function) NewImmediateInteger(value int64, width int) VRegID {
	return f.newVReg(VReg{Kind: VRegImmediateInteger, ImmValue: value, Width: width})
}

// NewExternalMemory allocates a vreg naming an external symbol's
// address.
func (f *Function) NewExternalMemory(symbol string) VRegID {
	return f.newVReg(VReg{Kind: VRegExternalMemory, ExternalSymbol: symbol})
}

// NewPair allocates a two-register value of kind VRegPair with the
// given pair kind over low and high, whether or not low and high are
// still unspecified. It fails only when low or high does not exist.
func (f *Function) NewPair(kind PairKind, low, high VRegID) (VRegID, error) {
	if _, err := f.VReg(low); err != nil {
		return -1, err
	}
	if _, err := f.VReg(high); err != nil {
		return -1, err
	}
	return f.newVReg(VReg{Kind: VRegPair, PairKind: kind, PairLow: low, PairHigh: high}), nil
}

func (f *Function) newVReg(v VReg) VRegID {
	id := VRegID(len(f.vregs))
	v.ID = id
	f.vregs = append(f.vregs, v)
	return id
}

// VReg returns the register at id.
func (f *Function) VReg(id VRegID) (*VReg, error) {
	if id < 0 || int(id) >= len(f.vregs) {
		return nil, errors.Wrapf(ErrLookupMiss, "vreg id %d", id)
	}
	return &f.vregs[id], nil
}

// SpecifyTypeDependent resolves an Unspecified vreg's kind/width from
// a concretely-typed source vreg. It is an invalid-state error to
// call this on a vreg that is already concrete, matching the
// invariant that a vreg's type never changes once specified.
func (f *Function) SpecifyTypeDependent(id, source VRegID) error {
	v, err := f.VReg(id)
	if err != nil {
		return err
	}
	if v.Kind != VRegUnspecified {
		return errors.Wrapf(ErrInvalidState, "vreg %d already specified as %v", id, v.Kind)
	}
	src, err := f.VReg(source)
	if err != nil {
		return err
	}
	kind, width := src.Kind, src.Width
	if kind == VRegUnspecified {
		return errors.Wrapf(ErrInvalidState, "vreg %d cannot specify from still-unspecified source %d", id, source)
	}
	v.Kind = kind
	v.Width = width
	return nil
}

// PinPhysical requires the allocator to place id in exactly reg.
func (f *Function) PinPhysical(id VRegID, reg string) error {
	v, err := f.VReg(id)
	if err != nil {
		return err
	}
	v.PinnedPhysical = reg
	return nil
}
