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

package irtype

import "github.com/pkg/errors"

// EightbyteClass is one member of the System V AMD64 classification
// algorithm (§3.2.3 of the psABI). It partitions an aggregate into
// up to two eightbyte classes that decide parameter and return
// placement.
type EightbyteClass int

const (
	ClassNone EightbyteClass = iota
	ClassInteger
	ClassSSE
	ClassSSEUp
	ClassMemory
	ClassX87
	ClassX87Up
	ClassComplexX87
)

func (c EightbyteClass) String() string {
	switch c {
	case ClassNone:
		return "NO_CLASS"
	case ClassInteger:
		return "INTEGER"
	case ClassSSE:
		return "SSE"
	case ClassSSEUp:
		return "SSEUP"
	case ClassMemory:
		return "MEMORY"
	case ClassX87:
		return "X87"
	case ClassX87Up:
		return "X87UP"
	case ClassComplexX87:
		return "COMPLEX_X87"
	default:
		return "UNKNOWN"
	}
}

// merge implements the psABI's class-combination rule: two classes of
// the same eightbyte resolve to the stricter of the two, with
// INTEGER dominating, MEMORY being absorbing, and SSE only winning
// when paired with another SSE or NO_CLASS.
func merge(a, b EightbyteClass) EightbyteClass {
	if a == b {
		return a
	}
	if a == ClassNone {
		return b
	}
	if b == ClassNone {
		return a
	}
	if a == ClassMemory || b == ClassMemory {
		return ClassMemory
	}
	if a == ClassInteger || b == ClassInteger {
		return ClassInteger
	}
	if a == ClassX87 || b == ClassX87 || a == ClassX87Up || b == ClassX87Up || a == ClassComplexX87 || b == ClassComplexX87 {
		return ClassMemory
	}
	return ClassSSE
}

// Classify partitions id into up to two eightbyte classes. Types
// larger than two eightbytes (16 bytes) classify wholesale as MEMORY,
// except _Complex long double, which classifies as COMPLEX_X87 in
// both eightbytes. Fields are not checked for alignment or for
// spanning an eightbyte boundary; only the total size forces MEMORY.
func (t *Table) Classify(id ID) ([2]EightbyteClass, error) {
	layout, err := t.Sizeof(id)
	if err != nil {
		return [2]EightbyteClass{}, err
	}
	e, err := t.Get(id)
	if err != nil {
		return [2]EightbyteClass{}, err
	}
	if layout.Size > 16 && e.Kind != KindComplexLongDouble {
		return [2]EightbyteClass{ClassMemory, ClassMemory}, nil
	}
	classes := [2]EightbyteClass{ClassNone, ClassNone}
	if err := t.classifyInto(id, 0, &classes); err != nil {
		return [2]EightbyteClass{}, err
	}
	for i := range classes {
		if classes[i] == ClassNone {
			// An eightbyte with no field mapped onto it (e.g. the
			// high half of an 8-byte struct) carries no value; it is
			// reported as SSE rather than NO_CLASS.
			classes[i] = ClassSSE
		}
	}
	return classes, nil
}

func (t *Table) classifyInto(id ID, baseOffset int64, classes *[2]EightbyteClass) error {
	e, err := t.Get(id)
	if err != nil {
		return err
	}
	switch e.Kind {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindPointer, KindBitInt:
		return classifyScalar(baseOffset, classes, ClassInteger)
	case KindFloat32, KindFloat64:
		return classifyScalar(baseOffset, classes, ClassSSE)
	case KindLongDouble:
		classes[0] = merge(classes[0], ClassX87)
		if len(classes) > 1 {
			classes[1] = merge(classes[1], ClassX87Up)
		}
		return nil
	case KindComplexF32, KindComplexF64:
		return classifyScalar(baseOffset, classes, ClassSSE)
	case KindComplexLongDouble:
		// _Complex long double is always passed in memory (psABI
		// special case); modeled with the dedicated COMPLEX_X87 tag
		// for diagnostics even though placement always falls back to
		// MEMORY at the call-lowering layer.
		classes[0] = ClassComplexX87
		classes[1] = ClassComplexX87
		return nil
	case KindArray:
		elemLayout, err := t.Sizeof(e.FirstChild)
		if err != nil {
			return err
		}
		for i := 0; i < e.ArrayLen; i++ {
			off := baseOffset + int64(i)*elemLayout.Size
			if err := t.classifyInto(e.FirstChild, off, classes); err != nil {
				return err
			}
		}
		return nil
	case KindStruct:
		fields, err := t.Fields(id)
		if err != nil {
			return err
		}
		var offset int64
		for _, f := range fields {
			fl, err := t.Sizeof(f)
			if err != nil {
				return err
			}
			offset = alignUp(offset, fl.Alignment)
			if err := t.classifyInto(f, baseOffset+offset, classes); err != nil {
				return err
			}
			offset += fl.Size
		}
		return nil
	case KindUnion:
		fields, err := t.Fields(id)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if err := t.classifyInto(f, baseOffset, classes); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("irtype: cannot classify kind %v", e.Kind)
	}
}

func classifyScalar(offset int64, classes *[2]EightbyteClass, class EightbyteClass) error {
	idx := 0
	if offset >= 8 {
		idx = 1
	}
	if idx > 1 {
		return errors.New("irtype: scalar offset beyond two eightbytes")
	}
	classes[idx] = merge(classes[idx], class)
	return nil
}

// IsMemoryClass reports whether the classification forces the
// argument or return value to be passed in memory.
func IsMemoryClass(classes [2]EightbyteClass) bool {
	return classes[0] == ClassMemory || classes[1] == ClassMemory ||
		classes[0] == ClassComplexX87 || classes[1] == ClassComplexX87
}
