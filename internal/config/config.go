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

// Package config holds the compiler-wide configuration knobs a
// front end or driver selects once per translation unit: optimization
// level, PIC, frame-pointer omission, TLS model, Valgrind-compatible
// x87 stores, tentative-definition placement, symbol visibility, the
// output assembly dialect, and the two pipeline-spec strings that
// select which optimizer and codegen passes run.
package config

import (
	"strings"

	"github.com/pkg/errors"

	"kefir/internal/irmodule"
	"kefir/internal/passes"
	"kefir/internal/postpass"
	"kefir/internal/xasmgen"
)

// DefaultOptimizerPipeline and DefaultCodegenPipeline match the
// pipeline strings named in spec §6.
const (
	DefaultOptimizerPipeline = "phi-pull,mem2reg,phi-pull,constant-fold,op-simplify,branch-removal"
	DefaultCodegenPipeline   = "amd64-drop-virtual,amd64-propagate-jump,amd64-eliminate-label,amd64-peephole"
)

// Visibility is the default symbol visibility applied to a function
// or global lacking an explicit attribute.
type Visibility string

const (
	VisibilityDefault   Visibility = "default"
	VisibilityProtected Visibility = "protected"
	VisibilityHidden    Visibility = "hidden"
	VisibilityInternal  Visibility = "internal"
)

// Linkage maps a visibility setting onto the irmodule.Linkage it
// assigns a symbol lacking an explicit override.
func (v Visibility) Linkage() (irmodule.Linkage, error) {
	switch v {
	case VisibilityDefault, "":
		return irmodule.LinkageDefault, nil
	case VisibilityProtected:
		return irmodule.LinkageProtected, nil
	case VisibilityHidden:
		return irmodule.LinkageHidden, nil
	case VisibilityInternal:
		return irmodule.LinkageInternal, nil
	default:
		return 0, errors.Wrapf(ErrInvalidParameter, "visibility %q", v)
	}
}

// Syntax names the output assembly dialect a Config selects, kept as
// a string distinct from xasmgen.Syntax so this package has no
// dependency the other way and a driver can report an unrecognized
// value before any lowering work begins.
type Syntax string

const (
	SyntaxATT           Syntax = "att"
	SyntaxIntelNoPrefix Syntax = "intel"
	SyntaxIntelPrefix   Syntax = "intel-prefix"
)

// Resolve converts s to the xasmgen dialect it names.
func (s Syntax) Resolve() (xasmgen.Syntax, error) {
	switch s {
	case SyntaxATT, "":
		return xasmgen.ATT, nil
	case SyntaxIntelNoPrefix:
		return xasmgen.IntelNoPrefix, nil
	case SyntaxIntelPrefix:
		return xasmgen.IntelPrefix, nil
	default:
		return 0, errors.Wrapf(ErrInvalidParameter, "syntax %q", s)
	}
}

// Config is one translation unit's worth of compiler configuration.
type Config struct {
	OptLevel int

	PIC              bool
	OmitFramePointer bool
	EmulatedTLS      bool
	TLSCommon        bool
	ValgrindX87      bool
	TentativeCommon  bool

	Visibility Visibility
	Syntax     Syntax

	OptimizerPipeline string
	CodegenPipeline   string

	// visibilityFlag and syntaxFlag back the pflag string flags
	// RegisterFlags binds for the two enum-like settings above (pflag
	// has no native enum type); ApplyFlags reconciles them back onto
	// Visibility/Syntax once Parse has run.
	visibilityFlag *string
	syntaxFlag     *string
}

// Default returns the configuration spec §6 describes when no flag
// overrides anything.
func Default() Config {
	return Config{
		OptLevel:          1,
		TentativeCommon:   true,
		Visibility:        VisibilityDefault,
		Syntax:            SyntaxATT,
		OptimizerPipeline: DefaultOptimizerPipeline,
		CodegenPipeline:   DefaultCodegenPipeline,
	}
}

// ErrInvalidParameter signals a configuration value outside what this
// compiler understands — an unknown pipeline pass name, visibility,
// or dialect string most commonly.
var ErrInvalidParameter = errors.New("config: invalid parameter")

// Validate checks every knob for internal consistency: opt-level
// range, a resolvable visibility and syntax, and that every pass name
// in both pipeline strings is one this build actually registers.
func (c Config) Validate() error {
	if c.OptLevel < 0 || c.OptLevel > 3 {
		return errors.Wrapf(ErrInvalidParameter, "opt-level %d out of range [0,3]", c.OptLevel)
	}
	if _, err := c.Visibility.Linkage(); err != nil {
		return err
	}
	if _, err := c.Syntax.Resolve(); err != nil {
		return err
	}
	if err := validatePipeline(c.OptimizerPipeline, optimizerPassNames()); err != nil {
		return errors.Wrap(err, "optimizer pipeline")
	}
	if err := validatePipeline(c.CodegenPipeline, codegenPassNames()); err != nil {
		return errors.Wrap(err, "codegen pipeline")
	}
	return nil
}

func validatePipeline(spec string, known map[string]bool) error {
	if strings.TrimSpace(spec) == "" {
		return errors.Wrap(ErrInvalidParameter, "empty pipeline spec")
	}
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if !known[name] {
			return errors.Wrapf(ErrInvalidParameter, "unknown pass %q", name)
		}
	}
	return nil
}

func optimizerPassNames() map[string]bool {
	names := make(map[string]bool, len(passes.Registry))
	for _, p := range passes.Registry {
		names[p.Name] = true
	}
	return names
}

func codegenPassNames() map[string]bool {
	names := make(map[string]bool, len(postpass.Registry))
	for _, p := range postpass.Registry {
		names[p.Name] = true
	}
	return names
}

// OptimizerPasses splits OptimizerPipeline into its ordered pass names.
func (c Config) OptimizerPasses() []string { return splitPipeline(c.OptimizerPipeline) }

// CodegenPasses splits CodegenPipeline into its ordered pass names.
func (c Config) CodegenPasses() []string { return splitPipeline(c.CodegenPipeline) }

func splitPipeline(spec string) []string {
	var names []string
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
