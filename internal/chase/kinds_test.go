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

import "testing"

// TestUint64ProjectsEmitterField checks the Uint64 projector agrees with the
// constructor every real emitter in the tree actually uses for each kind.
func TestUint64ProjectsEmitterField(t *testing.T) {
	cases := []struct {
		kind Kind
		val  Value
		want uint64
	}{
		{Header, HeightValue(7), 7},
		{Regressed, HeightValue(3), 3},
		{Disorganized, HeightValue(9), 9},
		{Malleated, LinkValue(5), 5},
		{Checked, HeightValue(11), 11},
		{Valid, HeightValue(4), 4},
		{Unvalid, LinkValue(2), 2},
		{Confirmable, HeightValue(6), 6},
		{Unconfirmable, LinkValue(8), 8},
		{Organized, LinkValue(1), 1},
		{Reorganized, LinkValue(1), 1},
		{Download, CountValue(3), 3},
		{Transaction, TxValue(42), 42},
		{Bump, CountValue(1), 1},
	}
	for _, tc := range cases {
		if got := tc.val.Uint64(tc.kind); got != tc.want {
			t.Errorf("%s.Uint64() = %d, want %d", tc.kind, got, tc.want)
		}
	}
}
