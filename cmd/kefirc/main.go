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

// Command kefirc is the AMD64 mid-end/codegen backend's driver: it
// accepts an already-built irmodule.Module (as a front end parsing
// C17/C23 source would hand it off — parsing itself is out of scope)
// and writes the compiled assembly for every function to stdout or a
// file.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"kefir/internal/config"
	"kefir/internal/irmodule"
	"kefir/internal/irtype"
	"kefir/internal/optir"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	timing, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer timing.Sync() //nolint:errcheck

	log := logrus.StandardLogger()

	cmd := config.NewCommand("kefirc", "compile an IR module to AMD64 assembly", func(cfg config.Config, positional []string) error {
		outPath := ""
		if len(positional) > 0 {
			outPath = positional[0]
		}

		mod := demoModule()

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		start := time.Now()
		err := compileModule(cfg, mod, out, log)
		timing.Info("compilation finished",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("functions", len(mod.Functions)),
			zap.Bool("ok", err == nil),
		)
		return err
	})
	cmd.SetArgs(args)
	return cmd.Execute()
}

// demoModule builds a trivial one-function module so the driver has
// something to compile in the absence of a front end: `int id(int a)
// { return a; }`.
func demoModule() *irmodule.Module {
	fn := optir.NewFunc("id")
	entry := fn.Entry

	param, err := fn.NewInst(entry, optir.OpParam, irtype.Int32)
	if err != nil {
		panic(err)
	}
	paramInst, err := fn.Inst(param)
	if err != nil {
		panic(err)
	}
	paramInst.IntVal = 0

	if _, err := fn.NewInst(entry, optir.OpReturn, irtype.Int32, param); err != nil {
		panic(err)
	}
	blk, err := fn.Block(entry)
	if err != nil {
		panic(err)
	}
	blk.Kind = optir.BlockReturn

	mod := irmodule.New()
	mod.AddFunction(&irmodule.Function{
		Name: "id",
		Sig:  irmodule.Signature{Params: []irtype.ID{irtype.Int32}, Return: irtype.Int32},
		Code: fn,
	})
	return mod
}
