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

package validatechaser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
)

type fixedBypass struct{ upTo uint64 }

func (f fixedBypass) UnderBypass(h uint64) bool { return h <= f.upTo }

func mkHash(b byte) chase.Hash32 {
	var h chase.Hash32
	h[0] = b
	return h
}

func seedCandidate(ar *archive.Memory, height uint64, associate bool) chase.HLink {
	hash := mkHash(byte(height))
	link := ar.AddHeader(hash, chase.Context{Height: height})
	ar.PromoteCandidate(link, height)
	ar.SetCandidateTop(height)
	if associate {
		b := &block.Block{Hash: hash, Height: height}
		ar.StoreBlock(link, b)
		ar.StoreTxs(link, nil, 0, false)
	}
	return link
}

func TestAdvanceValidatesContiguousHeights(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	for h := uint64(1); h <= 3; h++ {
		seedCandidate(ar, h, true)
	}

	validEvents := make(chan uint64, 4)
	bus.Subscribe(func(ev chase.Event) bool {
		validEvents <- ev.Value.Height
		return true
	}, chase.Valid)

	c := New(ar, bus, fixedBypass{upTo: 0}, nil)
	defer c.Close()
	bus.Notify(chase.Start, chase.Value{})

	for h := uint64(1); h <= 3; h++ {
		select {
		case got := <-validEvents:
			require.Equal(t, h, got)
		case <-time.After(time.Second):
			t.Fatalf("expected valid(%d)", h)
		}
	}
	require.Eventually(t, func() bool { return c.ValidatedTop() == 3 }, time.Second, 5*time.Millisecond)
}

func TestAdvanceStopsOnUnassociated(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	seedCandidate(ar, 1, true)
	seedCandidate(ar, 2, false) // header only, no block yet

	c := New(ar, bus, fixedBypass{}, nil)
	defer c.Close()
	bus.Notify(chase.Start, chase.Value{})

	require.Eventually(t, func() bool { return c.ValidatedTop() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, c.ValidatedTop())
}

func TestAdvanceUnvalidStopsLoop(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	seedCandidate(ar, 1, true)
	link2 := seedCandidate(ar, 2, true)
	b2, _ := ar.GetBlock(link2)
	b2.AcceptFn = func(ctx chase.Context, si, is uint64) block.Code { return block.ErrConsensus }
	seedCandidate(ar, 3, true)

	unvalid := make(chan chase.HLink, 1)
	bus.Subscribe(func(ev chase.Event) bool {
		unvalid <- ev.Value.Link
		return true
	}, chase.Unvalid)

	c := New(ar, bus, fixedBypass{}, nil)
	defer c.Close()
	bus.Notify(chase.Start, chase.Value{})

	select {
	case link := <-unvalid:
		require.Equal(t, link2, link)
	case <-time.After(time.Second):
		t.Fatal("expected unvalid event")
	}
	require.Eventually(t, func() bool { return c.ValidatedTop() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, chase.StateUnconfirmable, ar.GetBlockState(link2))
}
