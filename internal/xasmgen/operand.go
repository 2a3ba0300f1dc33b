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
	"fmt"

	"github.com/pkg/errors"

	"kefir/internal/asmcmp"
)

// ErrInvalidState signals an asmcmp operand this printer cannot
// render — a VReg that escaped register allocation, most likely.
var ErrInvalidState = errors.New("xasmgen: invalid state")

func (p *Printer) formatOperand(op asmcmp.Operand, pic bool) (string, error) {
	switch op.Kind {
	case asmcmp.OperandPhysical:
		return p.registerOperand(op.Physical), nil
	case asmcmp.OperandImmediate:
		return p.immediateOperand(op.Imm), nil
	case asmcmp.OperandMemory:
		return p.memoryOperand(op)
	case asmcmp.OperandRIPLabel:
		return p.ripOperand(op.Label), nil
	case asmcmp.OperandLabel:
		return p.labelOperand(op, pic), nil
	case asmcmp.OperandVReg:
		return "", errors.Wrapf(ErrInvalidState, "vreg v%d reached xasmgen unallocated", op.VReg)
	default:
		return "", errors.Wrapf(ErrInvalidState, "operand kind %d has no textual form", op.Kind)
	}
}

func (p *Printer) registerOperand(reg string) string {
	if p.syntax == ATT {
		return "%" + reg
	}
	return reg
}

func (p *Printer) immediateOperand(v int64) string {
	if p.syntax == ATT {
		return fmt.Sprintf("$%d", v)
	}
	return fmt.Sprintf("%d", v)
}

func (p *Printer) memoryOperand(op asmcmp.Operand) (string, error) {
	base := op.Physical
	if base == "" {
		return "", errors.Wrapf(ErrInvalidState, "memory operand missing a physical base register")
	}
	if op.Scale != 0 && op.IndexPhysical == "" {
		return "", errors.Wrapf(ErrInvalidState, "indexed memory operand missing a physical index register")
	}
	if p.syntax == ATT {
		if op.Scale != 0 {
			return fmt.Sprintf("%d(%%%s,%%%s,%d)", op.Disp, base, op.IndexPhysical, op.Scale), nil
		}
		return fmt.Sprintf("%d(%%%s)", op.Disp, base), nil
	}
	if op.Scale != 0 {
		return fmt.Sprintf("[%s+%s*%d%+d]", base, op.IndexPhysical, op.Scale, op.Disp), nil
	}
	return fmt.Sprintf("[%s%+d]", base, op.Disp), nil
}

func (p *Printer) ripOperand(label string) string {
	if p.syntax == ATT {
		return fmt.Sprintf("%s(%%rip)", escapeSymbol(label))
	}
	return fmt.Sprintf("[rip+%s]", escapeSymbol(label))
}

func (p *Printer) labelOperand(op asmcmp.Operand, pic bool) string {
	name := escapeSymbol(op.Label)
	if pic {
		switch op.Reloc {
		case asmcmp.RelocPLT:
			name += "@PLT"
		case asmcmp.RelocGOTPCRel:
			name += "@GOTPCREL"
		}
	}
	return name
}
