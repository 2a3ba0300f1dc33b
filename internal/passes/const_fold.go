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

package passes

import (
	"math/big"

	"kefir/internal/bigint"
	"kefir/internal/irmodule"
	"kefir/internal/irtype"
	"kefir/internal/optir"
)

// ConstantFold replaces instructions whose operands are all constants
// with a freshly interned constant holding the computed result.
// Division/modulo by zero and signed INT_MIN/-1 are left unfolded —
// they are undefined behavior and must survive to be diagnosed (or
// trap) at a later stage, never silently evaluated here.
func ConstantFold(module *irmodule.Module, fn *optir.Func, cfg Config) (Result, error) {
	changed := false
	for _, block := range fn.Blocks() {
		for _, id := range append([]optir.ValueID(nil), block.Insts...) {
			inst, err := fn.Inst(id)
			if err != nil {
				return Result{}, err
			}
			newID, ok, err := tryFold(module, fn, inst)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				continue
			}
			if err := fn.ReplaceReferences(id, newID); err != nil {
				return Result{}, err
			}
			if err := fn.RemoveInst(id); err != nil {
				return Result{}, err
			}
			changed = true
		}
	}
	return Result{Changed: changed}, nil
}

func isConst(fn *optir.Func, id optir.ValueID) (*optir.Inst, bool) {
	inst, err := fn.Inst(id)
	if err != nil {
		return nil, false
	}
	switch inst.Opcode {
	case optir.OpIntConst, optir.OpUintConst, optir.OpFloatConst, optir.OpLongDoubleConst,
		optir.OpBitIntSignedConst, optir.OpBitIntUnsignedConst:
		return inst, true
	default:
		return nil, false
	}
}

func tryFold(module *irmodule.Module, fn *optir.Func, inst *optir.Inst) (optir.ValueID, bool, error) {
	switch inst.Opcode {
	case optir.OpNeg, optir.OpBitNot, optir.OpBoolNot, optir.OpZeroExtend, optir.OpSignExtend, optir.OpTruncate:
		return tryFoldUnary(module, fn, inst)
	case optir.OpAdd, optir.OpSub, optir.OpMul, optir.OpDivSigned, optir.OpDivUnsigned,
		optir.OpModSigned, optir.OpModUnsigned, optir.OpAnd, optir.OpOr, optir.OpXor,
		optir.OpLShift, optir.OpRShiftLogical, optir.OpRShiftArith:
		return tryFoldBinary(module, fn, inst)
	case optir.OpCompare:
		return tryFoldCompare(module, fn, inst)
	case optir.OpBitIntFromSigned, optir.OpBitIntFromUnsigned, optir.OpBitIntToSigned,
		optir.OpBitIntToUnsigned, optir.OpBitIntCast, optir.OpBitIntToBool:
		return tryFoldBitIntConversion(module, fn, inst)
	default:
		return 0, false, nil
	}
}

func widthOf(module *irmodule.Module, typ irtype.ID) (int, bool) {
	e, err := module.Types.Get(typ)
	if err != nil {
		return 0, false
	}
	switch e.Kind {
	case irtype.KindInt8:
		return 8, true
	case irtype.KindInt16:
		return 16, true
	case irtype.KindInt32:
		return 32, true
	case irtype.KindInt64:
		return 64, true
	case irtype.KindBitInt:
		return e.Width, true
	default:
		return 0, false
	}
}

func truncateSigned(v int64, width int) int64 {
	if width >= 64 {
		return v
	}
	mask := int64(1)<<uint(width) - 1
	v &= mask
	signBit := int64(1) << uint(width-1)
	if v&signBit != 0 {
		v -= int64(1) << uint(width)
	}
	return v
}

func truncateUnsigned(v uint64, width int) uint64 {
	if width >= 64 {
		return v
	}
	return v & (uint64(1)<<uint(width) - 1)
}

func tryFoldUnary(module *irmodule.Module, fn *optir.Func, inst *optir.Inst) (optir.ValueID, bool, error) {
	if len(inst.Args) != 1 {
		return 0, false, nil
	}
	arg, ok := isConst(fn, inst.Args[0])
	if !ok {
		return 0, false, nil
	}
	width, ok := widthOf(module, inst.Type)
	if !ok {
		return 0, false, nil
	}
	switch inst.Opcode {
	case optir.OpNeg:
		v := truncateSigned(-arg.IntVal, width)
		return newIntConst(fn, inst, v, width)
	case optir.OpBitNot:
		v := truncateSigned(^arg.IntVal, width)
		return newIntConst(fn, inst, v, width)
	case optir.OpBoolNot:
		b := int64(0)
		if arg.IntVal == 0 {
			b = 1
		}
		return newIntConst(fn, inst, b, width)
	case optir.OpZeroExtend:
		v := int64(truncateUnsigned(uint64(arg.IntVal), width))
		return newUintConst(fn, inst, v, width)
	case optir.OpSignExtend:
		v := truncateSigned(arg.IntVal, width)
		return newIntConst(fn, inst, v, width)
	case optir.OpTruncate:
		v := truncateSigned(arg.IntVal, width)
		return newIntConst(fn, inst, v, width)
	default:
		return 0, false, nil
	}
}

func tryFoldBinary(module *irmodule.Module, fn *optir.Func, inst *optir.Inst) (optir.ValueID, bool, error) {
	if len(inst.Args) != 2 {
		return 0, false, nil
	}
	lhs, ok1 := isConst(fn, inst.Args[0])
	rhs, ok2 := isConst(fn, inst.Args[1])
	if !ok1 || !ok2 {
		return 0, false, nil
	}
	width, ok := widthOf(module, inst.Type)
	if !ok {
		return 0, false, nil
	}

	a, b := lhs.IntVal, rhs.IntVal
	ua, ub := uint64(a), uint64(b)

	switch inst.Opcode {
	case optir.OpAdd:
		return newIntConst(fn, inst, truncateSigned(a+b, width), width)
	case optir.OpSub:
		return newIntConst(fn, inst, truncateSigned(a-b, width), width)
	case optir.OpMul:
		return newIntConst(fn, inst, truncateSigned(a*b, width), width)
	case optir.OpDivSigned:
		if b == 0 {
			return 0, false, nil // division by zero: leave unfolded
		}
		if a == minForWidth(width) && b == -1 {
			return 0, false, nil // INT_MIN / -1 overflows: leave unfolded
		}
		return newIntConst(fn, inst, truncateSigned(a/b, width), width)
	case optir.OpModSigned:
		if b == 0 {
			return 0, false, nil
		}
		if a == minForWidth(width) && b == -1 {
			return 0, false, nil
		}
		return newIntConst(fn, inst, truncateSigned(a%b, width), width)
	case optir.OpDivUnsigned:
		if ub == 0 {
			return 0, false, nil
		}
		return newUintConst(fn, inst, int64(truncateUnsigned(ua/ub, width)), width)
	case optir.OpModUnsigned:
		if ub == 0 {
			return 0, false, nil
		}
		return newUintConst(fn, inst, int64(truncateUnsigned(ua%ub, width)), width)
	case optir.OpAnd:
		return newIntConst(fn, inst, truncateSigned(a&b, width), width)
	case optir.OpOr:
		return newIntConst(fn, inst, truncateSigned(a|b, width), width)
	case optir.OpXor:
		return newIntConst(fn, inst, truncateSigned(a^b, width), width)
	case optir.OpLShift:
		if b < 0 || int(b) >= width {
			return 0, false, nil // shift amount out of range: undefined behavior
		}
		return newIntConst(fn, inst, truncateSigned(a<<uint(b), width), width)
	case optir.OpRShiftLogical:
		if b < 0 || int(b) >= width {
			return 0, false, nil
		}
		return newUintConst(fn, inst, int64(truncateUnsigned(ua>>uint(b), width)), width)
	case optir.OpRShiftArith:
		if b < 0 || int(b) >= width {
			return 0, false, nil
		}
		return newIntConst(fn, inst, truncateSigned(a>>uint(b), width), width)
	default:
		return 0, false, nil
	}
}

func minForWidth(width int) int64 {
	if width >= 64 {
		return -1 << 63
	}
	return -(int64(1) << uint(width-1))
}

func tryFoldCompare(module *irmodule.Module, fn *optir.Func, inst *optir.Inst) (optir.ValueID, bool, error) {
	if len(inst.Args) != 2 {
		return 0, false, nil
	}
	lhs, ok1 := isConst(fn, inst.Args[0])
	rhs, ok2 := isConst(fn, inst.Args[1])
	if !ok1 || !ok2 {
		return 0, false, nil
	}
	var result bool
	switch inst.Compare {
	case optir.CmpEQ:
		result = lhs.IntVal == rhs.IntVal
	case optir.CmpNE:
		result = lhs.IntVal != rhs.IntVal
	case optir.CmpSignedLT:
		result = lhs.IntVal < rhs.IntVal
	case optir.CmpSignedLE:
		result = lhs.IntVal <= rhs.IntVal
	case optir.CmpSignedGT:
		result = lhs.IntVal > rhs.IntVal
	case optir.CmpSignedGE:
		result = lhs.IntVal >= rhs.IntVal
	case optir.CmpUnsignedLT:
		result = uint64(lhs.IntVal) < uint64(rhs.IntVal)
	case optir.CmpUnsignedLE:
		result = uint64(lhs.IntVal) <= uint64(rhs.IntVal)
	case optir.CmpUnsignedGT:
		result = uint64(lhs.IntVal) > uint64(rhs.IntVal)
	case optir.CmpUnsignedGE:
		result = uint64(lhs.IntVal) >= uint64(rhs.IntVal)
	case optir.CmpFloatOrderedLT:
		result = lhs.FloatVal < rhs.FloatVal
	case optir.CmpFloatOrderedLE:
		result = lhs.FloatVal <= rhs.FloatVal
	case optir.CmpFloatOrderedGT:
		result = lhs.FloatVal > rhs.FloatVal
	case optir.CmpFloatOrderedGE:
		result = lhs.FloatVal >= rhs.FloatVal
	case optir.CmpFloatOrderedEQ:
		result = lhs.FloatVal == rhs.FloatVal
	case optir.CmpFloatUnorderedNE:
		result = lhs.FloatVal != rhs.FloatVal
	default:
		return 0, false, nil
	}
	v := int64(0)
	if result {
		v = 1
	}
	return newIntConst(fn, inst, v, 1)
}

// tryFoldBitIntConversion folds the width/signedness-changing members
// of the BitInt family by casting the constant operand through the
// bigint pool to the result width and signedness, then interning the
// cast value as a new BitInt constant.
func tryFoldBitIntConversion(module *irmodule.Module, fn *optir.Func, inst *optir.Inst) (optir.ValueID, bool, error) {
	if len(inst.Args) != 1 {
		return 0, false, nil
	}
	arg, ok := isConst(fn, inst.Args[0])
	if !ok || arg.BigInt < 0 {
		return 0, false, nil
	}
	width, ok := widthOf(module, inst.Type)
	if !ok {
		return 0, false, nil
	}
	signed := inst.Opcode != optir.OpBitIntFromUnsigned && inst.Opcode != optir.OpBitIntToUnsigned
	newBigID, err := module.BigInts.Cast(bigint.ID(arg.BigInt), width, signed)
	if err != nil {
		return 0, false, nil
	}
	newInst, err := fn.NewInst(inst.Block, pickBitIntConstOpcode(signed), inst.Type)
	if err != nil {
		return 0, false, err
	}
	newInstPtr, err := fn.Inst(newInst)
	if err != nil {
		return 0, false, err
	}
	newInstPtr.BigInt = int(newBigID)
	newInstPtr.Width = width
	return newInst, true, nil
}

func pickBitIntConstOpcode(signed bool) optir.Opcode {
	if signed {
		return optir.OpBitIntSignedConst
	}
	return optir.OpBitIntUnsignedConst
}

func newIntConst(fn *optir.Func, like *optir.Inst, v int64, width int) (optir.ValueID, bool, error) {
	id, err := fn.NewInst(like.Block, optir.OpIntConst, like.Type)
	if err != nil {
		return 0, false, err
	}
	inst, err := fn.Inst(id)
	if err != nil {
		return 0, false, err
	}
	inst.IntVal = v
	inst.Width = width
	return id, true, nil
}

func newUintConst(fn *optir.Func, like *optir.Inst, v int64, width int) (optir.ValueID, bool, error) {
	id, err := fn.NewInst(like.Block, optir.OpUintConst, like.Type)
	if err != nil {
		return 0, false, err
	}
	inst, err := fn.Inst(id)
	if err != nil {
		return 0, false, err
	}
	inst.IntVal = v
	inst.Width = width
	return id, true, nil
}

// bitIntMultiply multiplies two pooled BitInt values at arbitrary
// precision and interns the product, truncated to resultWidth bits as
// a signed value, without requiring a full IR instruction. No pass or
// test in this package calls it.
func bitIntMultiply(pool *bigint.Pool, a, b bigint.ID, resultWidth int) (bigint.ID, error) {
	av, err := pool.Get(a)
	if err != nil {
		return -1, err
	}
	bv, err := pool.Get(b)
	if err != nil {
		return -1, err
	}
	product := new(big.Int).Mul(av, bv)
	return pool.FromString(product.String(), resultWidth, true)
}
