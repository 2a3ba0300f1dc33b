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

import "kefir/internal/asmcmp"

// allocator tracks, per register class, which physical registers are
// currently occupied by a live interval — the classic linear-scan
// "active set", checked by position rather than re-walked every step
// since intervals are processed in start order.
type allocator struct {
	occupied map[string]*Interval // reg name -> interval currently assigned there
	fixed    []*Interval
}

func newAllocator() *allocator {
	return &allocator{occupied: make(map[string]*Interval)}
}

func (a *allocator) addFixed(iv *Interval) {
	a.fixed = append(a.fixed, iv)
}

// tryAllocate assigns iv a free physical register for its entire
// range if one exists that no other live interval (ordinary or fixed)
// contends for at any overlapping position; this is a conservative
// whole-interval check rather than an active-list sweep by position,
// which is sufficient because intervals here never move between
// registers mid-range — a contended interval is spilled in full by
// the caller instead of split, trading a cheaper allocator for the
// entire-interval-to-one-location simplicity record in DESIGN.md.
func (a *allocator) tryAllocate(iv *Interval) bool {
	for _, reg := range registerPool(iv.float) {
		if a.conflicts(reg, iv) {
			continue
		}
		iv.assignPhyReg(reg)
		if a.occupied[reg] == nil {
			a.occupied[reg] = iv
		} else {
			// Multiple non-overlapping intervals may legitimately share a
			// register across disjoint lifetimes; record whichever ends
			// last. conflicts compares a candidate only against this one
			// recorded occupant (plus the fixed intervals), not against
			// every interval previously assigned to the register.
			if iv.to() > a.occupied[reg].to() {
				a.occupied[reg] = iv
			}
		}
		return true
	}
	return false
}

func (a *allocator) conflicts(reg string, iv *Interval) bool {
	for _, fx := range a.fixed {
		if fx.fixed == reg && fx.isIntersectingWith(iv) {
			return true
		}
	}
	if occ, ok := a.occupied[reg]; ok && occ != iv && occ.isIntersectingWith(iv) {
		return true
	}
	return false
}

// rewriteOperands replaces every VReg operand with its final physical
// or spill-memory location. A spilled interval's vreg is replaced
// wherever it appears with a direct RBP-relative memory operand
// rather than inserting explicit reload/store instructions around
// each use — valid because every surrounding x86 instruction this
// backend emits already accepts a memory operand in the position a
// vreg would have occupied (see DESIGN.md).
func rewriteOperands(fn *asmcmp.Function, order []asmcmp.InstID, intervals map[asmcmp.VRegID]*Interval) error {
	for _, id := range order {
		inst, err := fn.Inst(id)
		if err != nil {
			return err
		}
		rewriteOperand(&inst.Operand1, intervals)
		rewriteOperand(&inst.Operand2, intervals)
		rewriteOperand(&inst.Operand3, intervals)
	}
	return nil
}

func rewriteOperand(op *asmcmp.Operand, intervals map[asmcmp.VRegID]*Interval) {
	if op.Kind == asmcmp.OperandMemory {
		rewriteMemoryAddressVRegs(op, intervals)
		return
	}
	if op.Kind != asmcmp.OperandVReg {
		return
	}
	*op = resolvedOperand(op.VReg, intervals)
}

// rewriteMemoryAddressVRegs resolves a memory operand's Base and
// (when indexed) Index vregs to the physical registers the address
// computation will actually use — the register the value itself
// lived in is irrelevant here; only its register vs. spill-slot
// assignment for address purposes matters, and since an address
// register can never itself be spilled to a stack slot without a
// reload instruction this package does not insert, a spilled
// base/index here is an ErrInvalidState-worthy IR shape lowering
// never produces.
func rewriteMemoryAddressVRegs(op *asmcmp.Operand, intervals map[asmcmp.VRegID]*Interval) {
	if op.Physical == "" {
		if reg, ok := physicalRegOf(op.Base, intervals); ok {
			op.Physical = reg
		}
	}
	if op.Scale != 0 && op.IndexPhysical == "" {
		if reg, ok := physicalRegOf(op.Index, intervals); ok {
			op.IndexPhysical = reg
		}
	}
}

func physicalRegOf(id asmcmp.VRegID, intervals map[asmcmp.VRegID]*Interval) (string, bool) {
	iv, ok := intervals[id]
	if !ok {
		return "", false
	}
	if iv.fixed != "" {
		return iv.fixed, true
	}
	root := iv.root()
	if root.phyRegAssigned() {
		return root.assignedReg, true
	}
	return "", false
}

func resolvedOperand(vreg asmcmp.VRegID, intervals map[asmcmp.VRegID]*Interval) asmcmp.Operand {
	iv, ok := intervals[vreg]
	if !ok {
		return asmcmp.VRegOperand(vreg)
	}
	if iv.fixed != "" {
		return asmcmp.PhysicalOperand(iv.fixed)
	}
	root := iv.root()
	if root.phyRegAssigned() {
		return asmcmp.PhysicalOperand(root.assignedReg)
	}
	// Spill slots are addressed off RBP, a physical register rather
	// than a vreg, so the memory operand is built directly instead of
	// through the vreg-based MemOperand constructor.
	return asmcmp.Operand{
		Kind:     asmcmp.OperandMemory,
		Physical: "rbp",
		Disp:     -8 * (int64(root.stackSlot()) + 1),
	}
}

// emitPrologueEpilogue inserts the standard push-callee-saves /
// reserve-frame prologue at the function's head and the mirrored
// epilogue immediately before every ret instruction.
func emitPrologueEpilogue(fn *asmcmp.Function, calleeSaved []string, spillBytes int64) error {
	frame := align16(spillBytes + int64(len(calleeSaved))*8)
	subAmount := frame - int64(len(calleeSaved))*8

	// Prologue, emitted in reverse so Prepend (head-insertion) leaves
	// them in push-rbp, push-callee-saves..., sub-rsp order.
	if subAmount > 0 {
		fn.Prepend(asmcmp.OpSub, asmcmp.PhysicalOperand("rsp"), asmcmp.ImmOperand(subAmount))
	}
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		fn.Prepend(asmcmp.OpPush, asmcmp.PhysicalOperand(calleeSaved[i]))
	}
	fn.Prepend(asmcmp.OpMov, asmcmp.PhysicalOperand("rbp"), asmcmp.PhysicalOperand("rsp"))
	fn.Prepend(asmcmp.OpPush, asmcmp.PhysicalOperand("rbp"))

	var rets []asmcmp.InstID
	if err := fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Opcode == asmcmp.OpRet {
			rets = append(rets, inst.ID)
		}
		return nil
	}); err != nil {
		return err
	}
	for _, retID := range rets {
		if subAmount > 0 {
			if _, err := fn.InsertBefore(retID, asmcmp.OpAdd, asmcmp.PhysicalOperand("rsp"), asmcmp.ImmOperand(subAmount)); err != nil {
				return err
			}
		}
		for i := len(calleeSaved) - 1; i >= 0; i-- {
			if _, err := fn.InsertBefore(retID, asmcmp.OpPop, asmcmp.PhysicalOperand(calleeSaved[i])); err != nil {
				return err
			}
		}
		if _, err := fn.InsertBefore(retID, asmcmp.OpPop, asmcmp.PhysicalOperand("rbp")); err != nil {
			return err
		}
	}
	return nil
}
