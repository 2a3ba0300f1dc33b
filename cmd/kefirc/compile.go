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

package main

import (
	"io"

	"github.com/sirupsen/logrus"

	"kefir/internal/codegen/amd64"
	"kefir/internal/config"
	"kefir/internal/irmodule"
	"kefir/internal/passes"
	"kefir/internal/postpass"
	"kefir/internal/regalloc"
	"kefir/internal/xasmgen"
)

// compileModule runs every function in mod through the optimizer
// pipeline, amd64 lowering, register allocation, and the
// post-allocation pass pipeline, then renders the result to w in
// cfg's chosen dialect. It is the collaborator stub spec §6 describes
// a front end handing an already-built irmodule.Module to: parsing
// C17/C23 source into that module is out of scope.
func compileModule(cfg config.Config, mod *irmodule.Module, w io.Writer, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	syntax, err := cfg.Syntax.Resolve()
	if err != nil {
		return err
	}

	out := xasmgen.Module{Externs: externSymbols(mod)}
	for _, s := range mod.Strings() {
		out.Strings = append(out.Strings, xasmgen.StringLiteral{Label: s, Value: s})
	}

	optCfg := passes.DefaultConfig
	for _, fn := range mod.Functions {
		flog := log.WithField("func", fn.Name)

		if err := passes.RunPipeline(mod, fn.Code, optCfg, cfg.OptimizerPasses(), flog); err != nil {
			return err
		}

		lowered, err := amd64.Lower(mod, fn.Code, flog)
		if err != nil {
			return err
		}

		if _, err := regalloc.Allocate(lowered.AsmFunction(), flog); err != nil {
			return err
		}

		if err := postpass.RunPipeline(lowered.AsmFunction(), cfg.CodegenPasses(), flog); err != nil {
			return err
		}

		out.Functions = append(out.Functions, xasmgen.Function{
			Name:          lowered.AsmFunction().Name,
			Asm:           lowered.AsmFunction(),
			Exported:      fn.Linkage == irmodule.LinkageDefault,
			RodataFloats:  lowered.RodataFloats(),
			RodataBigInts: lowered.RodataBigInts(),
		})
	}

	printer := xasmgen.New(w, xasmgen.Config{Syntax: syntax, PIC: cfg.PIC})
	return printer.EmitModule(out)
}

// externSymbols would list every symbol mod references but does not
// itself define. Lowering's call sites name their targets directly
// via LabelOperand, which the assembler resolves at link time without
// a separate .extern declaration, so there is nothing to collect yet.
func externSymbols(mod *irmodule.Module) []string {
	return nil
}
