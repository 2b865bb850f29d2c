// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package interp

import (
	"github.com/PLSysSec/haybale/bv"
	"github.com/PLSysSec/haybale/herror"
	"github.com/PLSysSec/haybale/ir"
)

// lanes splits a flat BV packing a vector's elements (lane 0 in the
// lowest bits, matching evalConstVector's Concat ordering) into one BV
// per lane.
func lanes(v bv.BV, elemBits, count int) []bv.BV {
	out := make([]bv.BV, count)
	for i := 0; i < count; i++ {
		low := i * elemBits
		high := low + elemBits - 1
		out[i] = bv.Extract(v, high, low)
	}
	return out
}

// packLanes is the inverse of lanes: lane 0 ends up in the lowest bits.
func packLanes(ls []bv.BV) bv.BV {
	result := ls[0]
	for i := 1; i < len(ls); i++ {
		result = bv.Concat(ls[i], result)
	}
	return result
}

func vectorShape(t ir.Type) (ir.VectorType, error) {
	vt, ok := t.(ir.VectorType)
	if !ok {
		return ir.VectorType{}, herror.New(herror.MalformedInstruction, "expected a vector type, got %s", t)
	}
	if vt.Scalable {
		return ir.VectorType{}, herror.New(herror.UnsupportedInstruction, "scalable vectors are not supported")
	}
	return vt, nil
}

// binaryOnVector applies a scalar binary operator (one of
// scalarBinOp/cmpPred, wrapped by the caller) lane-by-lane over two
// equal-shape vector operands, returning the packed flat-BV result. A
// vector-icmp's per-lane Bool result is packed into a one-bit-per-lane
// BV (i1 is only Bool-valued when it is the scalar result type, per
// isI1), never recorded as a varmap Bool binding directly.
func binaryOnVector(vt ir.VectorType, l, r bv.BV, f func(a, b bv.BV) (bv.BV, error)) (bv.BV, error) {
	elemBits, err := ir.SizeInBits(vt.Elem)
	if err != nil {
		return bv.BV{}, err
	}
	ll := lanes(l, elemBits, vt.Count)
	rl := lanes(r, elemBits, vt.Count)
	out := make([]bv.BV, vt.Count)
	for i := 0; i < vt.Count; i++ {
		v, err := f(ll[i], rl[i])
		if err != nil {
			return bv.BV{}, err
		}
		out[i] = v
	}
	return packLanes(out), nil
}

// binaryBoolOnVector is binaryOnVector for an operator that yields a
// Bool per lane (icmp), packing each lane's Bool to a one-bit BV lane
// before reassembly.
func binaryBoolOnVector(vt ir.VectorType, l, r bv.BV, f func(a, b bv.BV) (bv.Bool, error)) (bv.BV, error) {
	return binaryOnVector(vt, l, r, func(a, b bv.BV) (bv.BV, error) {
		result, err := f(a, b)
		if err != nil {
			return bv.BV{}, err
		}
		return boolToBV(result), nil
	})
}

// unaryOnVector applies a scalar unary operator lane-by-lane over a
// vector operand with a possibly different per-lane result width (e.g.
// a cast changing element width), returning the packed flat-BV result.
func unaryOnVector(srcElem ir.Type, count int, v bv.BV, f func(a bv.BV) (bv.BV, error)) (bv.BV, error) {
	elemBits, err := ir.SizeInBits(srcElem)
	if err != nil {
		return bv.BV{}, err
	}
	vl := lanes(v, elemBits, count)
	out := make([]bv.BV, count)
	for i := 0; i < count; i++ {
		r, err := f(vl[i])
		if err != nil {
			return bv.BV{}, err
		}
		out[i] = r
	}
	return packLanes(out), nil
}
