// Copyright 2026 The btcnode Authors
// This file is part of the btcnode library.
//
// The btcnode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The btcnode library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the btcnode library. If not, see <http://www.gnu.org/licenses/>.

package chase

import "github.com/holiman/uint256"

// Work is accumulated proof-of-work, compared by the Header and Confirm
// chasers to pick the strongest branch. It is backed by uint256.Int rather
// than math/big.Int, following the teacher's use of holiman/uint256 for
// fixed-width 256 bit chain arithmetic.
type Work struct {
	v uint256.Int
}

// ZeroWork returns the additive identity.
func ZeroWork() *Work { return &Work{} }

// WorkFromBits converts compact difficulty bits to a work value using the
// standard target = (+1)^-1 relation: work = (2**256) / (target + 1). Target
// derivation follows Bitcoin's compact ("nBits") encoding.
func WorkFromBits(bits uint32) *Work {
	target := targetFromBits(bits)
	if target.IsZero() {
		return ZeroWork()
	}
	var denom uint256.Int
	denom.AddUint64(target, 1)
	if denom.IsZero() {
		// target was ^0; 2**256 / 2**256 == 1, avoid div-by-zero overflow.
		return &Work{v: *uint256.NewInt(1)}
	}
	// work = ~target / (target + 1) + 1, which equals
	// floor(2**256 / (target + 1)) without needing a 257-bit numerator.
	var notTarget, quotient uint256.Int
	notTarget.Not(target)
	quotient.Div(&notTarget, &denom)
	quotient.AddUint64(&quotient, 1)
	return &Work{v: quotient}
}

func targetFromBits(bits uint32) *uint256.Int {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	target := new(uint256.Int).SetUint64(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
		return target
	}
	target.Lsh(target, uint(8*(exponent-3)))
	return target
}

// Add accumulates other into w and returns w.
func (w *Work) Add(other *Work) *Work {
	w.v.Add(&w.v, &other.v)
	return w
}

// GreaterThan reports whether w strictly exceeds other.
func (w *Work) GreaterThan(other *Work) bool {
	return w.v.Gt(&other.v)
}

// String renders the decimal work value.
func (w *Work) String() string {
	return w.v.Dec()
}
