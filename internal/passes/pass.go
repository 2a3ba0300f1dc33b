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

// Package passes implements the optimization passes that run over an
// optir.Func before lowering: constant folding, algebraic
// simplification, mem2reg, phi-pull, and branch-removal. Every pass
// is a pure rewrite honoring the same contract: apply(module,
// function, config) -> Result, idempotent when re-applied without an
// intervening structural change.
package passes

import (
	"github.com/sirupsen/logrus"

	"kefir/internal/irmodule"
	"kefir/internal/optir"
)

// Config bounds the passes that can grow the IR.
type Config struct {
	MaxInlineDepth        int
	MaxInlinesPerFunction int
}

// DefaultConfig holds the default inlining limits: a depth of 8 and
// at most 64 inlines per function.
var DefaultConfig = Config{MaxInlineDepth: 8, MaxInlinesPerFunction: 64}

// Result reports whether a pass changed the function, so the driving
// loop knows whether to iterate again.
type Result struct {
	Changed bool
}

// Pass is the common shape every optimization pass implements.
type Pass func(module *irmodule.Module, fn *optir.Func, cfg Config) (Result, error)

// Named pairs a pass with the pipeline-spec name used to select it,
// matching spec §6's string-valued "optimizer pipeline" configuration
// knob (default: "phi-pull,mem2reg,phi-pull,constant-fold,op-simplify,branch-removal").
type Named struct {
	Name string
	Run  Pass
}

// Registry lists every pass selectable by name.
var Registry = []Named{
	{"phi-pull", PhiPull},
	{"mem2reg", Mem2Reg},
	{"constant-fold", ConstantFold},
	{"op-simplify", AlgebraicSimplify},
	{"branch-removal", BranchRemoval},
}

func lookup(name string) (Pass, bool) {
	for _, n := range Registry {
		if n.Name == name {
			return n.Run, true
		}
	}
	return nil, false
}

// RunPipeline runs each named pass, in order, repeating the whole
// sequence until a full pass over it produces no change — matching
// the teacher's Ideal() loop, generalized from three hard-coded
// passes to an arbitrary named sequence.
func RunPipeline(module *irmodule.Module, fn *optir.Func, cfg Config, pipeline []string, log logrus.FieldLogger) error {
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
			res, err := run(module, fn, cfg)
			if err != nil {
				return err
			}
			if res.Changed {
				changed = true
				log.WithFields(logrus.Fields{"pass": name, "func": fn.Name, "round": round}).Debug("pass made progress")
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

func (e *unknownPassError) Error() string { return "passes: unknown pass " + e.name }
