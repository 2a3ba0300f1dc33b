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

// Package irmodule is the top-level compiler input: a type table, a
// bigint pool, a string-literal pool, and the function list that
// together describe one translation unit handed to the optimizer and
// code generator by an out-of-scope front end.
package irmodule

import (
	"github.com/pkg/errors"

	"kefir/internal/bigint"
	"kefir/internal/irtype"
	"kefir/internal/optir"
)

// StringID indexes an interned string literal.
type StringID int

// Linkage controls a function or global's symbol visibility and
// emission, mirroring spec §6's configuration knobs that are
// per-symbol rather than module-wide.
type Linkage int

const (
	LinkageDefault Linkage = iota
	LinkageProtected
	LinkageHidden
	LinkageInternal
)

// Signature is a function's external calling contract.
type Signature struct {
	Params   []irtype.ID
	Return   irtype.ID // irtype.ID(-1) for void
	Variadic bool
}

// Local describes one stack-resident local variable prior to
// mem2reg promotion.
type Local struct {
	Name string
	Type irtype.ID
}

// DebugLoc is a source location token. The compiler core never
// interprets its fields beyond carrying them through transforms; an
// out-of-scope front end fills them in.
type DebugLoc struct {
	File   string
	Line   int
	Column int
}

// Function is one compiled unit: its signature, locals layout, IR
// body, and optional per-instruction debug info.
type Function struct {
	Name    string
	Sig     Signature
	Locals  []Local
	Code    *optir.Func
	Linkage Linkage

	// DebugLocs maps an optir instruction id to its source location.
	// Absent entries mean "no debug info available", not an error.
	DebugLocs map[optir.ValueID]DebugLoc
}

// ErrLookupMiss is returned for references to absent strings or
// named types.
var ErrLookupMiss = errors.New("irmodule: lookup miss")

// Module is the compiler's unit of translation.
type Module struct {
	Types   *irtype.Table
	BigInts *bigint.Pool
	strings []string
	named   map[string]irtype.ID

	Functions []*Function
}

// New creates an empty module with fresh type and bigint tables.
func New() *Module {
	return &Module{
		Types:   irtype.NewTable(),
		BigInts: bigint.NewPool(),
		named:   make(map[string]irtype.ID),
	}
}

// InternString appends a string literal, returning a stable id. The
// string table is append-only during lowering, matching the
// single-owner, no-shared-mutation resource model: only the function
// currently being compiled appends to it.
func (m *Module) InternString(s string) StringID {
	id := StringID(len(m.strings))
	m.strings = append(m.strings, s)
	return id
}

// String returns the literal interned at id.
func (m *Module) String(id StringID) (string, error) {
	if id < 0 || int(id) >= len(m.strings) {
		return "", errors.Wrapf(ErrLookupMiss, "string id %d", id)
	}
	return m.strings[id], nil
}

// Strings returns every interned literal in intern order, for a
// backend that needs to emit the whole table as `.rodata` rather than
// look up one id at a time.
func (m *Module) Strings() []string {
	return m.strings
}

// DeclareNamedType registers a tag (struct/union/typedef name) for a
// type already present in m.Types, so later functions can resolve it
// by name instead of carrying the irtype.ID around out of band.
func (m *Module) DeclareNamedType(name string, id irtype.ID) {
	m.named[name] = id
}

// NamedType resolves a previously declared tag.
func (m *Module) NamedType(name string) (irtype.ID, error) {
	id, ok := m.named[name]
	if !ok {
		return -1, errors.Wrapf(ErrLookupMiss, "named type %q", name)
	}
	return id, nil
}

// AddFunction appends a function definition to the module.
func (m *Module) AddFunction(fn *Function) {
	m.Functions = append(m.Functions, fn)
}
