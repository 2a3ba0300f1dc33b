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

package regalloc

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kefir/internal/asmcmp"
	"kefir/internal/utils"
)

// ErrInvalidState signals an allocator invariant violation — an IR
// shape that should be impossible by the time lowering hands off to
// this package.
var ErrInvalidState = errors.New("regalloc: invalid state")

// Result describes the outcome of allocating a function: the final
// stack frame shape, for a caller that needs it independent of the
// rewritten instruction stream. The prologue and epilogue themselves
// are inserted into the stream by Allocate.
type Result struct {
	FrameSize       int64
	SpillAreaBytes  int64
	UsedCalleeSaved []string
}

// Allocate runs linear-scan allocation over fn in place: every VReg
// operand is rewritten to either a Physical operand (register
// assignment) or a Memory operand addressed off RBP (spill), fixed
// intervals honor PinnedPhysical requirements, and a prologue/
// epilogue is inserted around the function's body.
func Allocate(fn *asmcmp.Function, log logrus.FieldLogger) (*Result, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	order, err := orderedInstructions(fn)
	if err != nil {
		return nil, err
	}

	intervals, fixed, err := buildIntervals(fn, order)
	if err != nil {
		return nil, err
	}

	alloc := newAllocator()
	spillSlots := 0
	for _, iv := range fixed {
		alloc.addFixed(iv)
	}
	sortedIntervals := make([]*Interval, 0, len(intervals))
	for _, iv := range intervals {
		sortedIntervals = append(sortedIntervals, iv)
	}
	sort.Slice(sortedIntervals, func(i, j int) bool {
		return sortedIntervals[i].from() < sortedIntervals[j].from()
	})
	for _, iv := range sortedIntervals {
		if !alloc.tryAllocate(iv) {
			iv.assignStackSlot(spillSlots)
			spillSlots++
		}
	}

	usedCalleeSaved := utils.NewSet[string]()
	for _, iv := range intervals {
		if iv.phyRegAssigned() && isCalleeSaved(iv.assignedReg) {
			usedCalleeSaved.Add(iv.assignedReg)
		}
	}

	if err := rewriteOperands(fn, order, intervals); err != nil {
		return nil, err
	}

	calleeSavedList := make([]string, 0, usedCalleeSaved.Length())
	usedCalleeSaved.ForEach(func(r string) { calleeSavedList = append(calleeSavedList, r) })
	sort.Strings(calleeSavedList)

	spillBytes := int64(spillSlots) * 8
	frameSize := align16(spillBytes + int64(len(calleeSavedList))*8)

	if err := emitPrologueEpilogue(fn, calleeSavedList, spillBytes); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"func":       fn.Name,
		"spill_slots": spillSlots,
		"frame_size": frameSize,
	}).Debug("register allocation complete")

	return &Result{FrameSize: frameSize, SpillAreaBytes: spillBytes, UsedCalleeSaved: calleeSavedList}, nil
}

func align16(n int64) int64 {
	return (n + 15) &^ 15
}

// orderedInstructions walks fn once and returns every instruction id
// in program order, giving each a position for interval construction.
func orderedInstructions(fn *asmcmp.Function) ([]asmcmp.InstID, error) {
	var ids []asmcmp.InstID
	err := fn.Walk(func(inst *asmcmp.Instruction) error {
		ids = append(ids, inst.ID)
		return nil
	})
	return ids, err
}

// defOperandIndex reports which operand position (1, or 0 for none)
// an opcode writes, matching emit.go's destination-first
// operand convention for every two/three-operand form; compare/test
// and control-flow opcodes write nothing.
func defOperandIndex(op asmcmp.Opcode) int {
	switch op {
	case asmcmp.OpCmp, asmcmp.OpTest, asmcmp.OpUcomiss, asmcmp.OpUcomisd,
		asmcmp.OpJmp, asmcmp.OpJCC, asmcmp.OpRet, asmcmp.OpPush, asmcmp.OpLabel,
		asmcmp.OpCall, asmcmp.OpStmxcsr, asmcmp.OpLdmxcsr, asmcmp.OpFnstenv,
		asmcmp.OpFldenv, asmcmp.OpFnclex:
		return 0
	default:
		return 1
	}
}

// buildIntervals walks the instruction stream backward, extending
// each vreg's live range from every use back to its nearest preceding
// def — the standard backward liveness construction linear-scan
// allocators use, which naturally produces one or more Ranges per
// interval without a separate dataflow pass since asmcmp's stream has
// no branches to merge (control flow already lowered to explicit
// jmp/jCC instructions the allocator treats as ordinary instructions,
// conservatively extending every interval live across a label to the
// label itself).
func buildIntervals(fn *asmcmp.Function, order []asmcmp.InstID) (map[asmcmp.VRegID]*Interval, []*Interval, error) {
	intervals := make(map[asmcmp.VRegID]*Interval)
	var fixed []*Interval
	fixedByReg := make(map[string]*Interval)

	get := func(id asmcmp.VRegID) (*Interval, error) {
		if iv, ok := intervals[id]; ok {
			return iv, nil
		}
		vreg, err := fn.VReg(id)
		if err != nil {
			return nil, err
		}
		iv := newInterval(id, vreg.Kind == asmcmp.VRegFloatingPoint)
		if vreg.PinnedPhysical != "" {
			fx, ok := fixedByReg[vreg.PinnedPhysical]
			if !ok {
				fx = newFixedInterval(vreg.PinnedPhysical)
				fixedByReg[vreg.PinnedPhysical] = fx
				fixed = append(fixed, fx)
			}
			iv.fixed = vreg.PinnedPhysical
		}
		intervals[id] = iv
		return iv, nil
	}

	for i := len(order) - 1; i >= 0; i-- {
		inst, err := fn.Inst(order[i])
		if err != nil {
			return nil, nil, err
		}
		p := position(i)
		defIdx := defOperandIndex(inst.Opcode)
		ops := [3]asmcmp.Operand{inst.Operand1, inst.Operand2, inst.Operand3}
		for idx, operand := range ops {
			if operand.Kind == asmcmp.OperandMemory {
				// A memory operand's Base/Index vregs are always read to
				// compute the address, never written, regardless of
				// whether the instruction as a whole defines its operand
				// (a store still only reads the address registers).
				if err := touchMemoryAddressVRegs(get, operand, p); err != nil {
					return nil, nil, err
				}
				continue
			}
			if operand.Kind != asmcmp.OperandVReg {
				continue
			}
			iv, err := get(operand.VReg)
			if err != nil {
				return nil, nil, err
			}
			if iv.fixed != "" {
				continue // fixed intervals are tracked by physical reg directly, below
			}
			isDef := idx+1 == defIdx
			if iv.ranges == nil {
				iv.addRange(p, p+1)
			} else if isDef {
				iv.ranges.from = p
			} else if p < iv.ranges.from {
				iv.addRange(p, iv.ranges.from)
			}
			kind := UseRead
			if isDef {
				kind = UseWrite
			}
			iv.addUsePoint(p, kind)
		}
	}

	// Fixed intervals span every position at which their physical
	// register is referenced directly (e.g. rax pinned for a div), so
	// other intervals know not to claim that register there.
	for i, id := range order {
		inst, err := fn.Inst(id)
		if err != nil {
			return nil, nil, err
		}
		ops := [3]asmcmp.Operand{inst.Operand1, inst.Operand2, inst.Operand3}
		for _, operand := range ops {
			if operand.Kind != asmcmp.OperandVReg {
				continue
			}
			vreg, err := fn.VReg(operand.VReg)
			if err != nil {
				return nil, nil, err
			}
			if vreg.PinnedPhysical == "" {
				continue
			}
			fx := fixedByReg[vreg.PinnedPhysical]
			fx.addRange(position(i), position(i+1))
		}
	}

	return intervals, fixed, nil
}

// touchMemoryAddressVRegs records a read use, at position p, of
// whichever of a memory operand's Base and Index vregs are still
// vreg-addressed (not yet a Physical/IndexPhysical register name) —
// the address computation for a load, store, or spill slot always
// reads these, regardless of whether the surrounding instruction
// defines its own destination operand.
func touchMemoryAddressVRegs(get func(asmcmp.VRegID) (*Interval, error), operand asmcmp.Operand, p position) error {
	if operand.Physical == "" {
		if err := touchRead(get, operand.Base, p); err != nil {
			return err
		}
	}
	if operand.Scale != 0 && operand.IndexPhysical == "" {
		if err := touchRead(get, operand.Index, p); err != nil {
			return err
		}
	}
	return nil
}

func touchRead(get func(asmcmp.VRegID) (*Interval, error), id asmcmp.VRegID, p position) error {
	iv, err := get(id)
	if err != nil {
		return err
	}
	if iv.fixed != "" {
		return nil
	}
	if iv.ranges == nil {
		iv.addRange(p, p+1)
	} else if p < iv.ranges.from {
		iv.addRange(p, iv.ranges.from)
	}
	iv.addUsePoint(p, UseRead)
	return nil
}
