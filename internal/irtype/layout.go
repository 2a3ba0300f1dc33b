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

// Layout is the size/alignment pair computed for a type. It is a
// pure function of the entry and, for aggregates, its subtree —
// never mutated once computed.
type Layout struct {
	Size      int64
	Alignment int64
}

// Sizeof computes the size and alignment of id, recursing through
// aggregate fields and array elements.
func (t *Table) Sizeof(id ID) (Layout, error) {
	e, err := t.Get(id)
	if err != nil {
		return Layout{}, err
	}
	switch e.Kind {
	case KindInt8:
		return Layout{1, 1}, nil
	case KindInt16:
		return Layout{2, 2}, nil
	case KindInt32, KindFloat32:
		return Layout{4, 4}, nil
	case KindInt64, KindFloat64, KindPointer:
		return Layout{8, 8}, nil
	case KindLongDouble:
		// x87 80-bit extended precision, stored with 16-byte stride
		// and alignment under the System V AMD64 ABI.
		return Layout{16, 16}, nil
	case KindComplexF32:
		return Layout{8, 4}, nil
	case KindComplexF64:
		return Layout{16, 8}, nil
	case KindComplexLongDouble:
		return Layout{32, 16}, nil
	case KindBitInt:
		return bitIntLayout(e.Width), nil
	case KindArray:
		elem, err := t.Sizeof(e.FirstChild)
		if err != nil {
			return Layout{}, err
		}
		return Layout{elem.Size * int64(e.ArrayLen), elem.Alignment}, nil
	case KindStruct:
		return t.structLayout(id)
	case KindUnion:
		return t.unionLayout(id)
	case KindOpaque:
		return Layout{}, errors.Errorf("irtype: cannot size opaque type %q", e.Name)
	default:
		return Layout{}, errors.Errorf("irtype: unrecognized kind %v", e.Kind)
	}
}

// bitIntLayout matches the Kefir convention of rounding _BitInt(N)
// up to the smallest power-of-two byte width that holds N bits,
// capped in alignment at 8 bytes (no BitInt is ever XMM- or
// stack-aligned beyond a qword).
func bitIntLayout(width int) Layout {
	bytes := (width + 7) / 8
	round := int64(1)
	for round < int64(bytes) {
		round <<= 1
	}
	align := round
	if align > 8 {
		align = 8
	}
	return Layout{round, align}
}

func (t *Table) structLayout(id ID) (Layout, error) {
	fields, err := t.Fields(id)
	if err != nil {
		return Layout{}, err
	}
	var offset int64
	var maxAlign int64 = 1
	for _, f := range fields {
		fl, err := t.Sizeof(f)
		if err != nil {
			return Layout{}, err
		}
		offset = alignUp(offset, fl.Alignment)
		offset += fl.Size
		if fl.Alignment > maxAlign {
			maxAlign = fl.Alignment
		}
	}
	return Layout{alignUp(offset, maxAlign), maxAlign}, nil
}

func (t *Table) unionLayout(id ID) (Layout, error) {
	fields, err := t.Fields(id)
	if err != nil {
		return Layout{}, err
	}
	var maxSize int64
	var maxAlign int64 = 1
	for _, f := range fields {
		fl, err := t.Sizeof(f)
		if err != nil {
			return Layout{}, err
		}
		if fl.Size > maxSize {
			maxSize = fl.Size
		}
		if fl.Alignment > maxAlign {
			maxAlign = fl.Alignment
		}
	}
	return Layout{alignUp(maxSize, maxAlign), maxAlign}, nil
}

// FieldOffset returns the byte offset of fields[index] within the
// struct id. Unions place every field at offset 0.
func (t *Table) FieldOffset(id ID, index int) (int64, error) {
	e, err := t.Get(id)
	if err != nil {
		return 0, err
	}
	if e.Kind == KindUnion {
		return 0, nil
	}
	if e.Kind != KindStruct {
		return 0, errors.Errorf("irtype: type %d is not a struct", id)
	}
	fields, err := t.Fields(id)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= len(fields) {
		return 0, errors.Errorf("irtype: field index %d out of range", index)
	}
	var offset int64
	for i, f := range fields {
		fl, err := t.Sizeof(f)
		if err != nil {
			return 0, err
		}
		offset = alignUp(offset, fl.Alignment)
		if i == index {
			return offset, nil
		}
		offset += fl.Size
	}
	return 0, errors.Errorf("irtype: unreachable field index %d", index)
}

func alignUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
