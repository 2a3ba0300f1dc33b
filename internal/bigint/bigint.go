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

// Package bigint implements an arena-owned pool of arbitrary-width
// integer constants, as needed to represent C's BitInt(N) and the
// wide intermediate results overflow-checked arithmetic produces.
package bigint

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// ID indexes a single entry in a Pool. IDs are never reused across
// the lifetime of a pool and are stable once handed out.
type ID int

// ErrLookupMiss is returned by Pool.Get when an ID does not name a
// live entry in the pool.
var ErrLookupMiss = errors.New("bigint: lookup miss")

// ErrInvalidParameter is returned when a caller passes a width or
// value that cannot be represented.
var ErrInvalidParameter = errors.New("bigint: invalid parameter")

// entry pairs a value with the declared bit width it was constructed
// with, since a BitInt(N)'s width is not recoverable from the value
// alone (a zero-valued BitInt(3) and BitInt(64) are indistinguishable
// as *big.Int).
type entry struct {
	value *big.Int
	width int
	signed bool
}

// Pool is the arena for arbitrary-width integer constants appearing
// in a single compiled module. Every optir.Const referencing a
// BitInt-family value does so through a Pool ID rather than an
// embedded value, matching the "one arena per entity kind" ownership
// model: the whole pool is discarded at once when the owning module
// is torn down.
type Pool struct {
	entries []entry
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// FromInt64 interns a signed value of the given bit width and returns
// its ID.
func (p *Pool) FromInt64(v int64, width int) (ID, error) {
	if width <= 0 || width > 1<<20 {
		return -1, errors.Wrapf(ErrInvalidParameter, "width %d out of range", width)
	}
	bv := big.NewInt(v)
	return p.intern(bv, width, true), nil
}

// FromUint64 interns an unsigned value of the given bit width and
// returns its ID.
func (p *Pool) FromUint64(v uint64, width int) (ID, error) {
	if width <= 0 || width > 1<<20 {
		return -1, errors.Wrapf(ErrInvalidParameter, "width %d out of range", width)
	}
	bv := new(big.Int).SetUint64(v)
	return p.intern(bv, width, false), nil
}

// FromString interns a base-10 textual value of the given width,
// used for BitInt literals too wide to fit a machine word.
func (p *Pool) FromString(s string, width int, signed bool) (ID, error) {
	bv, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return -1, errors.Wrapf(ErrInvalidParameter, "malformed integer literal %q", s)
	}
	return p.intern(bv, width, signed), nil
}

func (p *Pool) intern(v *big.Int, width int, signed bool) ID {
	id := ID(len(p.entries))
	p.entries = append(p.entries, entry{value: truncate(v, width, signed), width: width, signed: signed})
	return id
}

// Get returns the stored value for id, masked/sign-extended to its
// declared width.
func (p *Pool) Get(id ID) (*big.Int, error) {
	if id < 0 || int(id) >= len(p.entries) {
		return nil, errors.Wrapf(ErrLookupMiss, "bigint id %d", id)
	}
	return p.entries[id].value, nil
}

// Width returns the declared bit width of id.
func (p *Pool) Width(id ID) (int, error) {
	if id < 0 || int(id) >= len(p.entries) {
		return 0, errors.Wrapf(ErrLookupMiss, "bigint id %d", id)
	}
	return p.entries[id].width, nil
}

// Signed reports whether id was interned as a signed value.
func (p *Pool) Signed(id ID) (bool, error) {
	if id < 0 || int(id) >= len(p.entries) {
		return false, errors.Wrapf(ErrLookupMiss, "bigint id %d", id)
	}
	return p.entries[id].signed, nil
}

// truncate masks v down to width bits, sign-extending the result when
// signed is true and the top retained bit is set. This is how C's
// BitInt(N) assignment and implicit conversions behave.
func truncate(v *big.Int, width int, signed bool) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(width))
	mask.Sub(mask, big.NewInt(1))
	r := new(big.Int).And(v, mask)
	if signed {
		signBit := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
		if r.Cmp(signBit) >= 0 {
			full := new(big.Int).Lsh(big.NewInt(1), uint(width))
			r.Sub(r, full)
		}
	}
	return r
}

// Cast reinterprets the value at id as a new width/signedness,
// producing a new pool entry rather than mutating the original
// (values are immutable once interned).
func (p *Pool) Cast(id ID, newWidth int, newSigned bool) (ID, error) {
	v, err := p.Get(id)
	if err != nil {
		return -1, err
	}
	if newWidth <= 0 {
		return -1, errors.Wrapf(ErrInvalidParameter, "width %d out of range", newWidth)
	}
	return p.intern(v, newWidth, newSigned), nil
}

// Add, Sub, and Mul perform wide arithmetic and truncate the result
// to the wider of the two operand widths, mirroring the usual
// arithmetic conversions applied to BitInt operands.
func (p *Pool) Add(a, b ID) (ID, error) { return p.binop(a, b, (*big.Int).Add) }
func (p *Pool) Sub(a, b ID) (ID, error) { return p.binop(a, b, (*big.Int).Sub) }
func (p *Pool) Mul(a, b ID) (ID, error) { return p.binop(a, b, (*big.Int).Mul) }

func (p *Pool) binop(a, b ID, op func(z, x, y *big.Int) *big.Int) (ID, error) {
	av, err := p.Get(a)
	if err != nil {
		return -1, err
	}
	bv, err := p.Get(b)
	if err != nil {
		return -1, err
	}
	ea, eb := p.entries[a], p.entries[b]
	width := ea.width
	if eb.width > width {
		width = eb.width
	}
	z := op(new(big.Int), av, bv)
	return p.intern(z, width, ea.signed || eb.signed), nil
}

// String renders the value at id for diagnostics.
func (p *Pool) String(id ID) string {
	v, err := p.Get(id)
	if err != nil {
		return fmt.Sprintf("<invalid bigint %d>", id)
	}
	return v.String()
}
