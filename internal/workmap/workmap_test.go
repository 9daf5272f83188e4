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

package workmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/btcnode/internal/chase"
)

func items(n int) []chase.Item {
	out := make([]chase.Item, n)
	for i := 0; i < n; i++ {
		var h chase.Hash32
		h[0] = byte(i + 1)
		out[i] = chase.Item{Hash: h, Link: chase.HLink(i + 1), Context: chase.Context{Height: uint64(i + 1)}}
	}
	return out
}

func TestSplitHalvesAndPartitions(t *testing.T) {
	m := NewMap(items(10))
	tail := Split(m)
	require.Equal(t, 5, m.Len())
	require.Equal(t, 5, tail.Len())

	seen := map[chase.Hash32]bool{}
	for _, h := range m.Hashes() {
		seen[h] = true
	}
	for _, h := range tail.Hashes() {
		require.False(t, seen[h], "split halves must partition the hash set")
	}
}

func TestMapRemove(t *testing.T) {
	m := NewMap(items(3))
	h := m.Items()[1].Hash
	require.True(t, m.Contains(h))
	m.Remove(h)
	require.False(t, m.Contains(h))
	require.Equal(t, 2, m.Len())
}

func TestCheckerFIFOOrder(t *testing.T) {
	m1 := NewMap(items(2))
	m2 := NewMap(items(3))

	c := &Checker{fifo: nil}
	c.fifo = append(c.fifo, m1, m2)

	got := c.GetHashes()
	require.Same(t, m1, got)
	got = c.GetHashes()
	require.Same(t, m2, got)
	require.Nil(t, c.GetHashes())
}
