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

// Package irtype implements the IR-level type system: a flat,
// append-only sequence of type entries (scalars, aggregates, pointers,
// opaque placeholders) plus System V AMD64 eightbyte classification.
package irtype

import (
	"github.com/pkg/errors"
)

// Kind tags a single type entry. Child types are referenced by id, not
// laid out after their parent: arrays and pointers name their one
// child in Entry.FirstChild, and struct/union field ids are kept
// out-of-line and read by index from the slice Table.Fields returns.
// Children do not follow their parent in the flat sequence.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindLongDouble
	KindBitInt    // width carried in Entry.Width
	KindComplexF32
	KindComplexF64
	KindComplexLongDouble
	KindStruct
	KindUnion
	KindArray // length carried in Entry.ArrayLen
	KindPointer
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindLongDouble:
		return "long_double"
	case KindBitInt:
		return "bitint"
	case KindComplexF32:
		return "complex_f32"
	case KindComplexF64:
		return "complex_f64"
	case KindComplexLongDouble:
		return "complex_long_double"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindArray:
		return "array"
	case KindPointer:
		return "pointer"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

func (k Kind) isAggregate() bool {
	return k == KindStruct || k == KindUnion || k == KindArray
}

func (k Kind) isScalar() bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindFloat32, KindFloat64,
		KindLongDouble, KindBitInt, KindComplexF32, KindComplexF64, KindComplexLongDouble, KindPointer:
		return true
	default:
		return false
	}
}

// ID indexes an entry in a Table's flat sequence.
type ID int

// Entry is one node of the flat type sequence.
type Entry struct {
	Kind Kind

	// Width is the declared bit width for KindBitInt.
	Width int

	// ArrayLen is the element count for KindArray.
	ArrayLen int

	// NumChildren is how many child types this entry has: one (the
	// element or pointee type) for KindArray and KindPointer, one per
	// field for KindStruct/KindUnion.
	NumChildren int

	// FirstChild is the id of the element type for KindArray or the
	// pointee type for KindPointer, set at construction. Struct and
	// union entries leave it zero; their fields come from Table.Fields.
	FirstChild ID

	// Name is an optional tag, used for diagnostics only.
	Name string
}

// Table is the IR module's flat type sequence. Types are appended
// once and never mutated in place; composing a new aggregate from
// existing entries means re-describing it, not aliasing.
type Table struct {
	entries []Entry
	fields  map[ID][]ID // struct/union field type ids, keyed by aggregate id
}

// ErrLookupMiss indicates an ID outside the table's bounds.
var ErrLookupMiss = errors.New("irtype: lookup miss")

// NewTable creates an empty type table seeded with the scalar kinds,
// since those are referenced pervasively and never need per-module
// duplication.
func NewTable() *Table {
	t := &Table{}
	for _, k := range []Kind{
		KindInt8, KindInt16, KindInt32, KindInt64,
		KindFloat32, KindFloat64, KindLongDouble,
		KindComplexF32, KindComplexF64, KindComplexLongDouble,
	} {
		t.entries = append(t.entries, Entry{Kind: k})
	}
	return t
}

// Well-known scalar IDs, valid for any Table produced by NewTable.
const (
	Int8 ID = iota
	Int16
	Int32
	Int64
	Float32
	Float64
	LongDouble
	ComplexF32
	ComplexF64
	ComplexLongDouble
)

// Get returns the entry at id.
func (t *Table) Get(id ID) (Entry, error) {
	if id < 0 || int(id) >= len(t.entries) {
		return Entry{}, errors.Wrapf(ErrLookupMiss, "type id %d", id)
	}
	return t.entries[id], nil
}

// NewBitInt declares a _BitInt(width) scalar and returns its id.
func (t *Table) NewBitInt(width int) (ID, error) {
	if width <= 0 {
		return -1, errors.New("irtype: bitint width must be positive")
	}
	id := ID(len(t.entries))
	t.entries = append(t.entries, Entry{Kind: KindBitInt, Width: width})
	return id, nil
}

// NewPointer declares a pointer-to-pointee type and returns its id.
func (t *Table) NewPointer(pointee ID) (ID, error) {
	if _, err := t.Get(pointee); err != nil {
		return -1, err
	}
	id := ID(len(t.entries))
	t.entries = append(t.entries, Entry{Kind: KindPointer, NumChildren: 1, FirstChild: pointee})
	return id, nil
}

// NewArray declares an array of elem repeated length times.
func (t *Table) NewArray(elem ID, length int) (ID, error) {
	if _, err := t.Get(elem); err != nil {
		return -1, err
	}
	if length < 0 {
		return -1, errors.New("irtype: negative array length")
	}
	id := ID(len(t.entries))
	t.entries = append(t.entries, Entry{Kind: KindArray, ArrayLen: length, NumChildren: 1, FirstChild: elem})
	return id, nil
}

// NewAggregate declares a struct or union over the given field types.
// Field types need not be contiguous in the flat sequence (a field
// commonly aliases a type declared much earlier), so the field list
// is kept out-of-line rather than forced into FirstChild/NumChildren.
func (t *Table) NewAggregate(kind Kind, name string, fields []ID) (ID, error) {
	if kind != KindStruct && kind != KindUnion {
		return -1, errors.New("irtype: aggregate kind must be struct or union")
	}
	for _, f := range fields {
		if _, err := t.Get(f); err != nil {
			return -1, err
		}
	}
	id := ID(len(t.entries))
	t.entries = append(t.entries, Entry{Kind: kind, Name: name, NumChildren: len(fields)})
	if t.fields == nil {
		t.fields = make(map[ID][]ID)
	}
	t.fields[id] = append([]ID(nil), fields...)
	return id, nil
}

// Fields returns the field type ids of a struct or union, in
// declaration order.
func (t *Table) Fields(id ID) ([]ID, error) {
	e, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if !e.Kind.isAggregate() || e.Kind == KindArray {
		return nil, errors.Errorf("irtype: type %d is not a struct or union", id)
	}
	return t.fields[id], nil
}

// NewOpaque declares a forward-declared type with no known layout.
func (t *Table) NewOpaque(name string) ID {
	id := ID(len(t.entries))
	t.entries = append(t.entries, Entry{Kind: KindOpaque, Name: name})
	return id
}
