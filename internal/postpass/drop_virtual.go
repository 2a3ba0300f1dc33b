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

package postpass

import "kefir/internal/asmcmp"

// DropVirtual removes instructions emit.go could not map to a real
// machine opcode (mnemonicToOpcode's OpInvalid fallback) — a carrier
// that exists only so lowering never has to special-case an unmapped
// mnemonic inline, and which must never reach xasmgen.
func DropVirtual(fn *asmcmp.Function) (Result, error) {
	var dead []asmcmp.InstID
	if err := fn.Walk(func(inst *asmcmp.Instruction) error {
		if inst.Opcode == asmcmp.OpInvalid {
			dead = append(dead, inst.ID)
		}
		return nil
	}); err != nil {
		return Result{}, err
	}
	for _, id := range dead {
		if err := fn.Remove(id); err != nil {
			return Result{}, err
		}
	}
	return Result{Changed: len(dead) > 0}, nil
}
