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

package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags binds every Config knob onto flags, pre-populated
// with cfg's current values as defaults — callers pass Default() to
// get spec §6's stock defaults, or a Config they built themselves to
// layer flags over e.g. environment-derived settings.
func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.IntVar(&cfg.OptLevel, "opt-level", cfg.OptLevel, "optimization level (0-3)")
	flags.BoolVar(&cfg.PIC, "pic", cfg.PIC, "emit position-independent code")
	flags.BoolVar(&cfg.OmitFramePointer, "omit-frame-pointer", cfg.OmitFramePointer, "omit the rbp frame pointer where the allocator allows it")
	flags.BoolVar(&cfg.EmulatedTLS, "emulated-tls", cfg.EmulatedTLS, "access thread-locals through __emutls_get_address instead of native TLS")
	flags.BoolVar(&cfg.TLSCommon, "tls-common", cfg.TLSCommon, "place uninitialized thread-locals in COMMON rather than .tbss")
	flags.BoolVar(&cfg.ValgrindX87, "valgrind-x87", cfg.ValgrindX87, "force x87 stores through memory to avoid false Valgrind uninitialized-value reports")
	flags.BoolVar(&cfg.TentativeCommon, "tentative-common", cfg.TentativeCommon, "place tentative definitions in COMMON rather than .bss")

	visibility := string(cfg.Visibility)
	flags.StringVar(&visibility, "visibility", visibility, "default symbol visibility: default, protected, hidden, internal")
	syntax := string(cfg.Syntax)
	flags.StringVar(&syntax, "syntax", syntax, "output assembly dialect: att, intel, intel-prefix")

	flags.StringVar(&cfg.OptimizerPipeline, "optimizer-pipeline", cfg.OptimizerPipeline, "comma-separated optimizer pass names, in run order")
	flags.StringVar(&cfg.CodegenPipeline, "codegen-pipeline", cfg.CodegenPipeline, "comma-separated codegen (post-allocation) pass names, in run order")

	cfg.visibilityFlag = &visibility
	cfg.syntaxFlag = &syntax
}

// ApplyFlags copies any string-typed flag destinations RegisterFlags
// set up (pflag has no enum type, so Visibility/Syntax are bound to
// plain strings and reconciled back onto cfg here, after Parse has
// run) and validates the result.
func ApplyFlags(cfg *Config) error {
	if cfg.visibilityFlag != nil {
		cfg.Visibility = Visibility(*cfg.visibilityFlag)
	}
	if cfg.syntaxFlag != nil {
		cfg.Syntax = Syntax(*cfg.syntaxFlag)
	}
	return cfg.Validate()
}
