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

// Package postpass implements the peephole passes that run over an
// asmcmp.Function after register allocation: dropping placeholder
// instructions, collapsing jump chains, eliminating dead labels, and a
// table-driven peephole cleanup. Every pass follows internal/passes'
// contract: apply(function) -> Result, idempotent when re-applied
// without an intervening structural change.
package postpass

import (
	"github.com/sirupsen/logrus"

	"kefir/internal/asmcmp"
)

// Result reports whether a pass changed the function, so the driving
// loop knows whether to iterate again.
type Result struct {
	Changed bool
}

// Pass is the common shape every post-allocation pass implements.
type Pass func(fn *asmcmp.Function) (Result, error)

// Named pairs a pass with the pipeline-spec name used to select it,
// matching spec §6's string-valued "codegen pipeline" configuration
// knob (default:
// "amd64-drop-virtual,amd64-propagate-jump,amd64-eliminate-label,amd64-peephole").
type Named struct {
	Name string
	Run  Pass
}

// Registry lists every pass selectable by name.
var Registry = []Named{
	{"amd64-drop-virtual", DropVirtual},
	{"amd64-propagate-jump", PropagateJump},
	{"amd64-eliminate-label", EliminateLabel},
	{"amd64-peephole", Peephole},
}

func lookup(name string) (Pass, bool) {
	for _, n := range Registry {
		if n.Name == name {
			return n.Run, true
		}
	}
	return nil, false
}

// RunPipeline runs each named pass in order, repeating the whole
// sequence until a full pass over it produces no change.
func RunPipeline(fn *asmcmp.Function, pipeline []string, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	changed := true
	round := 0
	for changed {
		changed = false
		for _, name := range pipeline {
			run, ok := lookup(name)
			if !ok {
				return errUnknownPass(name)
			}
			res, err := run(fn)
			if err != nil {
				return err
			}
			if res.Changed {
				changed = true
				log.WithFields(logrus.Fields{"pass": name, "func": fn.Name, "round": round}).Debug("post-pass made progress")
			}
		}
		round++
	}
	return nil
}

func errUnknownPass(name string) error {
	return &unknownPassError{name: name}
}

type unknownPassError struct{ name string }

func (e *unknownPassError) Error() string { return "postpass: unknown pass " + e.name }
