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

package confirmchaser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
)

type noBypass struct{}

func (noBypass) UnderBypass(uint64) bool { return false }

type noFault struct{ called chan string }

func (f *noFault) Fault(code string) {
	if f.called != nil {
		f.called <- code
	}
}

func mkHash(b byte) chase.Hash32 {
	var h chase.Hash32
	h[0] = b
	return h
}

// buildCandidate extends the candidate chain by one block with the given
// txs, returning its link.
func buildCandidate(ar *archive.Memory, height uint64, bits uint32, txs int) chase.HLink {
	hash := mkHash(byte(height + 100))
	link := ar.AddHeader(hash, chase.Context{Height: height})
	ar.PromoteCandidate(link, height)
	ar.SetCandidateTop(height)
	b := &block.Block{Hash: hash, Height: height, Bits: bits}
	ar.StoreBlock(link, b)
	rawTxs := make([]block.Tx, txs)
	for i := range rawTxs {
		rawTxs[i] = block.Tx{Bytes: []byte{byte(height), byte(i)}}
	}
	ar.StoreTxs(link, rawTxs, 0, false)
	ar.SetBlockValid(link)
	return link
}

func TestLinearConfirmation(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	confirmable := make(chan uint64, 16)
	bus.Subscribe(func(ev chase.Event) bool {
		confirmable <- ev.Value.Height
		return true
	}, chase.Confirmable)

	c := New(ar, bus, noBypass{}, &noFault{}, 4)
	defer c.Close()

	for h := uint64(1); h <= 3; h++ {
		buildCandidate(ar, h, 0x207fffff, 1) // coinbase only
		bus.Notify(chase.Valid, chase.HeightValue(h))
		select {
		case got := <-confirmable:
			require.Equal(t, h, got)
		case <-time.After(time.Second):
			t.Fatalf("expected confirmable(%d)", h)
		}
	}
	require.EqualValues(t, 3, ar.GetTopConfirmed())
}

func TestConfirmRaceFailureRollsBack(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	unconfirmable := make(chan chase.HLink, 1)
	reorganized := make(chan chase.HLink, 8)
	bus.Subscribe(func(ev chase.Event) bool {
		unconfirmable <- ev.Value.Link
		return true
	}, chase.Unconfirmable)
	bus.Subscribe(func(ev chase.Event) bool {
		reorganized <- ev.Value.Link
		return true
	}, chase.Reorganized)

	ar.SetTxConfirmableHook(func(tx chase.TLink, ctx chase.Context) block.Code {
		if tx == 3 { // the third TLink minted overall fails
			return block.ErrConsensus
		}
		return block.Ok
	})

	preTop := ar.GetTopConfirmed()

	c := New(ar, bus, noBypass{}, &noFault{}, 4)
	defer c.Close()

	link := buildCandidate(ar, 1, 0x207fffff, 4) // coinbase + 3 txs, one fails
	bus.Notify(chase.Valid, chase.HeightValue(1))

	select {
	case got := <-unconfirmable:
		require.Equal(t, link, got)
	case <-time.After(time.Second):
		t.Fatal("expected unconfirmable event")
	}

	require.Eventually(t, func() bool { return !c.ForkInProgress() }, time.Second, 5*time.Millisecond)
	require.Equal(t, chase.StateUnconfirmable, ar.GetBlockState(link))
	require.Equal(t, preTop, ar.GetTopConfirmed())

	select {
	case r := <-reorganized:
		t.Fatalf("no prior confirmed block should have been popped, got %v", r)
	default:
	}
}

func TestForkBelowConfirmedAborts(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	c := New(ar, bus, noBypass{}, &noFault{}, 2)
	defer c.Close()

	// valid(5) with nothing at height 5 on the candidate chain: fork
	// detection should fail to find a path down to a confirmed ancestor and
	// abort without panicking or mutating state.
	bus.Notify(chase.Valid, chase.HeightValue(5))
	time.Sleep(20 * time.Millisecond)
	require.False(t, c.ForkInProgress())
	require.EqualValues(t, 0, ar.GetTopConfirmed())
}
