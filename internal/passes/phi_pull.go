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

package passes

import (
	"kefir/internal/irmodule"
	"kefir/internal/optir"
)

// PhiPull collapses phi-nodes whose incoming values are all the same
// constant or all references to the same upstream instruction, and
// phis reduced to a single remaining predecessor.
func PhiPull(module *irmodule.Module, fn *optir.Func, cfg Config) (Result, error) {
	changed := false
	for _, block := range fn.Blocks() {
		for _, id := range append([]optir.ValueID(nil), block.Insts...) {
			inst, err := fn.Inst(id)
			if err != nil {
				return Result{}, err
			}
			if inst.Opcode != optir.OpPhi {
				continue
			}
			replacement, ok := phiReplacement(id, inst)
			if !ok {
				continue
			}
			if err := fn.ReplaceReferences(id, replacement); err != nil {
				return Result{}, err
			}
			if err := fn.RemoveInst(id); err != nil {
				return Result{}, err
			}
			changed = true
		}
	}
	return Result{Changed: changed}, nil
}

// phiReplacement mirrors the teacher's simplifyPhi: single-arg
// collapse, all-same-arg collapse, and the self-plus-one-other case
// that arises once a loop-carried phi is pulled through a pass that
// leaves it referencing itself on the back edge.
func phiReplacement(id optir.ValueID, inst *optir.Inst) (optir.ValueID, bool) {
	switch len(inst.PhiArgs) {
	case 0:
		return 0, false
	case 1:
		return inst.PhiArgs[0], true
	}

	same := true
	for _, arg := range inst.PhiArgs {
		if arg != inst.PhiArgs[0] {
			same = false
			break
		}
	}
	if same {
		return inst.PhiArgs[0], true
	}

	var other optir.ValueID = -1
	haveOther := false
	for _, arg := range inst.PhiArgs {
		if arg == id {
			continue
		}
		if !haveOther {
			other, haveOther = arg, true
			continue
		}
		if arg != other {
			return 0, false
		}
	}
	if haveOther {
		return other, true
	}
	return 0, false
}
